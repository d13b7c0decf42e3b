package twilio

import (
	"log/slog"
	"strings"
	"time"

	"ccbridge/internal/model"
)

// Translation tables for Twilio voice statuses. Total by construction: every
// Twilio status maps to a canonical value and unrecognized strings fall back
// to INITIATED (the most conservative canonical status) with a log line.

// TranslateCallStatus maps a Twilio CallStatus string to the canonical enum.
func TranslateCallStatus(status string, log *slog.Logger) model.CallStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "queued", "initiated":
		return model.CallStatusInitiated
	case "ringing":
		return model.CallStatusRinging
	case "in-progress":
		return model.CallStatusInProgress
	case "completed":
		return model.CallStatusCompleted
	case "busy", "no-answer":
		return model.CallStatusMissed
	case "canceled", "failed":
		return model.CallStatusAbandoned
	default:
		if log != nil {
			log.Debug("twilio: unmapped call status", "status", status)
		}
		return model.CallStatusInitiated
	}
}

// TranslateDirection maps Twilio call directions ("inbound", "outbound-api",
// "outbound-dial", "trunking-originating", ...) to the canonical call type.
func TranslateDirection(direction string) model.CallType {
	d := strings.ToLower(strings.TrimSpace(direction))
	switch {
	case d == "inbound" || strings.HasPrefix(d, "trunking-terminating"):
		return model.CallTypeInbound
	case strings.HasPrefix(d, "outbound") || strings.HasPrefix(d, "trunking-originating"):
		return model.CallTypeOutbound
	default:
		return model.CallTypeInbound
	}
}

// CallRecord is the subset of Twilio's call resource used for translation.
type CallRecord struct {
	SID       string
	Status    string
	Direction string
	From      string
	To        string
	StartTime time.Time
	Duration  *int
}

// ToCallData translates one Twilio call record into the canonical shape.
// Pure: the same record always yields the same CallData.
func ToCallData(platformID string, rec CallRecord, log *slog.Logger) model.CallData {
	ts := rec.StartTime
	if ts.IsZero() {
		ts = time.Unix(0, 0).UTC()
	}
	call := model.CallData{
		ID:         rec.SID,
		PlatformID: platformID,
		Timestamp:  ts,
		Type:       TranslateDirection(rec.Direction),
		Status:     TranslateCallStatus(rec.Status, log),
		Metadata: map[string]string{
			"vendor": "twilio",
			"from":   rec.From,
			"to":     rec.To,
		},
	}
	if rec.Duration != nil {
		d := *rec.Duration
		call.DurationSeconds = &d
	}
	return call
}
