package genesys

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"ccbridge/internal/model"
	"ccbridge/internal/platform"
)

// Processor translates raw Genesys notification payloads into canonical
// events. Translation is pure and total: every canonical field is either
// sourced from the payload or given a defined default, and unmapped vendor
// status strings fall back to a conservative canonical value instead of
// erroring.

type Processor struct {
	platformID string
	log        *slog.Logger
}

func NewProcessor(platformID string, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{platformID: platformID, log: log}
}

// Raw payload schemas, validated at the boundary before translation.
// Genesys notification frames carry {topicName, eventBody}; the body shape
// depends on the topic family.

type conversationEventBody struct {
	ConversationID string `json:"conversationId"`
	EventTime      int64  `json:"eventTime"` // epoch millis
	Participants   []struct {
		Purpose   string `json:"purpose"` // agent | customer | acd
		UserID    string `json:"userId"`
		QueueID   string `json:"queueId"`
		State     string `json:"state"` // alerting | connected | disconnected | terminated
		Direction string `json:"direction"`
		WrapupRequired bool `json:"wrapupRequired"`
	} `json:"participants"`
	RecordingState string `json:"recordingState"`
	DurationMillis *int64 `json:"durationMs"`
	DisconnectType string `json:"disconnectType"` // client | peer | transfer | error
}

type presenceEventBody struct {
	Source             string    `json:"source"`
	ModifiedDate       time.Time `json:"modifiedDate"`
	Message            string    `json:"message"`
	PresenceDefinition struct {
		ID             string `json:"id"`
		SystemPresence string `json:"systemPresence"`
	} `json:"presenceDefinition"`
}

type queueObservationBody struct {
	QueueID   string `json:"queueId"`
	QueueName string `json:"queueName"`
	Group     struct {
		MediaType string `json:"mediaType"`
	} `json:"group"`
	Data []struct {
		Metric string  `json:"metric"`
		Stats  struct {
			Count int     `json:"count"`
			Sum   float64 `json:"sum"`
		} `json:"stats"`
	} `json:"data"`
}

// Topic families the socket subscribes to.
const (
	topicConversations = "v2.detail.events.conversation"
	topicPresence      = ".presence"
	topicQueues        = "v2.analytics.queues."
)

// Process maps one raw frame to zero or one canonical event. A nil result
// means the frame carried nothing the canonical model represents (heartbeats,
// subscription acks, unknown topics).
func (p *Processor) Process(topic string, body json.RawMessage) *platform.Event {
	switch {
	case strings.HasPrefix(topic, topicConversations):
		return p.processConversation(topic, body)
	case strings.Contains(topic, topicPresence) && strings.HasPrefix(topic, "v2.users."):
		return p.processPresence(topic, body)
	case strings.HasPrefix(topic, topicQueues):
		return p.processQueueObservation(topic, body)
	default:
		p.log.Debug("genesys: ignoring topic", "topic", topic)
		return nil
	}
}

func (p *Processor) processConversation(topic string, body json.RawMessage) *platform.Event {
	var ev conversationEventBody
	if err := json.Unmarshal(body, &ev); err != nil {
		p.log.Warn("genesys: malformed conversation body", "topic", topic, "err", err)
		return nil
	}
	if ev.ConversationID == "" {
		p.log.Warn("genesys: conversation event without id", "topic", topic)
		return nil
	}

	call := model.CallData{
		ID:         ev.ConversationID,
		PlatformID: p.platformID,
		Timestamp:  epochMillis(ev.EventTime),
		Type:       model.CallTypeInbound,
		Status:     model.CallStatusInitiated,
		Metadata:   map[string]string{"vendor": "genesys"},
	}

	agentState := ""
	customerState := ""
	for _, part := range ev.Participants {
		switch part.Purpose {
		case "agent":
			call.AgentID = part.UserID
			agentState = part.State
			if part.Direction != "" {
				call.Type = translateDirection(part.Direction)
			}
		case "customer", "external":
			if call.CustomerID == "" {
				call.CustomerID = part.UserID
			}
			customerState = part.State
		case "acd":
			call.QueueID = part.QueueID
		}
	}

	call.Status = translateConversationState(agentState, customerState, ev.DisconnectType, p.log)

	if ev.DurationMillis != nil {
		secs := int(*ev.DurationMillis / 1000)
		call.DurationSeconds = &secs
	}
	if ev.RecordingState == "active" || ev.RecordingState == "paused" {
		call.Metadata["recording_state"] = ev.RecordingState
	}

	return &platform.Event{PlatformID: p.platformID, Kind: platform.EventCall, Call: &call}
}

func (p *Processor) processPresence(topic string, body json.RawMessage) *platform.Event {
	var ev presenceEventBody
	if err := json.Unmarshal(body, &ev); err != nil {
		p.log.Warn("genesys: malformed presence body", "topic", topic, "err", err)
		return nil
	}

	userID := userIDFromTopic(topic)
	if userID == "" {
		p.log.Warn("genesys: presence topic without user id", "topic", topic)
		return nil
	}

	changed := ev.ModifiedDate
	if changed.IsZero() {
		changed = time.Now().UTC()
	}

	agent := model.AgentState{
		ID:               userID,
		PlatformID:       p.platformID,
		Name:             userID, // directory lookup fills real names during polling
		Status:           translatePresence(ev.PresenceDefinition.SystemPresence, p.log),
		LastStatusChange: changed,
		Metadata:         map[string]string{"vendor": "genesys", "source": ev.Source},
	}
	return &platform.Event{PlatformID: p.platformID, Kind: platform.EventAgent, Agent: &agent}
}

func (p *Processor) processQueueObservation(topic string, body json.RawMessage) *platform.Event {
	var ev queueObservationBody
	if err := json.Unmarshal(body, &ev); err != nil {
		p.log.Warn("genesys: malformed queue observation", "topic", topic, "err", err)
		return nil
	}
	if ev.QueueID == "" {
		ev.QueueID = queueIDFromTopic(topic)
	}
	if ev.QueueID == "" {
		p.log.Warn("genesys: queue observation without queue id", "topic", topic)
		return nil
	}

	q := model.QueueState{
		ID:         ev.QueueID,
		PlatformID: p.platformID,
		Name:       ev.QueueName,
		LastUpdate: time.Now().UTC(),
	}
	if q.Name == "" {
		q.Name = ev.QueueID
	}

	for _, d := range ev.Data {
		switch d.Metric {
		case "oMemberUsers":
			q.Size = d.Stats.Count
		case "oActiveUsers", "oOnQueueUsers":
			q.ActiveAgents = d.Stats.Count
		case "oAvailableUsers", "oIdleUsers":
			q.AvailableAgents = d.Stats.Count
		case "oWaiting":
			q.WaitingCalls = d.Stats.Count
		case "oServiceLevel":
			q.ServiceLevel = clampPercent(d.Stats.Sum)
		case "tWait":
			if d.Stats.Count > 0 {
				q.AverageWaitTimeSeconds = d.Stats.Sum / float64(d.Stats.Count) / 1000
			}
		}
	}

	if q.AvailableAgents > q.ActiveAgents || (q.Size > 0 && q.ActiveAgents > q.Size) {
		// Soft invariant; keep the reported values.
		p.log.Warn("genesys: queue agent counts out of range",
			"queue", q.ID, "size", q.Size, "active", q.ActiveAgents, "available", q.AvailableAgents)
	}

	return &platform.Event{PlatformID: p.platformID, Kind: platform.EventQueue, Queue: &q}
}

// --- translation tables ---

// translateConversationState derives the canonical call status from participant
// states. Unknown combinations map to INITIATED, the most conservative value.
func translateConversationState(agentState, customerState, disconnectType string, log *slog.Logger) model.CallStatus {
	if disconnectType != "" || agentState == "disconnected" || agentState == "terminated" ||
		(agentState == "" && (customerState == "disconnected" || customerState == "terminated")) {
		switch disconnectType {
		case "", "client", "peer", "transfer":
			if agentState == "" && customerState != "" {
				// Customer left without ever reaching an agent.
				return model.CallStatusAbandoned
			}
			return model.CallStatusCompleted
		case "error", "timeout":
			return model.CallStatusMissed
		default:
			log.Debug("genesys: unmapped disconnect type", "disconnect_type", disconnectType)
			return model.CallStatusCompleted
		}
	}

	switch agentState {
	case "alerting":
		return model.CallStatusRinging
	case "connected":
		return model.CallStatusInProgress
	case "":
		switch customerState {
		case "connected":
			return model.CallStatusRinging // waiting in queue, not yet answered
		case "alerting":
			return model.CallStatusInitiated
		}
		return model.CallStatusInitiated
	default:
		log.Debug("genesys: unmapped participant state", "state", agentState)
		return model.CallStatusInitiated
	}
}

// translatePresence maps Genesys system presence to the canonical agent
// status. Unrecognized values map to OFFLINE.
func translatePresence(systemPresence string, log *slog.Logger) model.AgentStatus {
	switch strings.ToUpper(systemPresence) {
	case "AVAILABLE", "ONLINE", "IDLE", "ON_QUEUE":
		return model.AgentStatusOnline
	case "BUSY", "ON_CALL", "MEETING":
		return model.AgentStatusBusy
	case "AWAY", "TRAINING":
		return model.AgentStatusAway
	case "BREAK", "MEAL":
		return model.AgentStatusBreak
	case "OFFLINE", "OUT_OF_OFFICE":
		return model.AgentStatusOffline
	default:
		log.Debug("genesys: unmapped system presence", "presence", systemPresence)
		return model.AgentStatusOffline
	}
}

func translateDirection(direction string) model.CallType {
	switch strings.ToLower(direction) {
	case "inbound":
		return model.CallTypeInbound
	case "outbound":
		return model.CallTypeOutbound
	case "internal":
		return model.CallTypeInternal
	case "transfer":
		return model.CallTypeTransfer
	default:
		return model.CallTypeInbound
	}
}

// --- helpers ---

func epochMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 && v <= 100 {
		return v
	}
	if v > 100 {
		return 100
	}
	// Genesys reports service level as a ratio in [0,1].
	return v * 100
}

// userIDFromTopic extracts the user id from "v2.users.{id}.presence".
func userIDFromTopic(topic string) string {
	parts := strings.Split(topic, ".")
	if len(parts) >= 4 && parts[0] == "v2" && parts[1] == "users" {
		return parts[2]
	}
	return ""
}

// queueIDFromTopic extracts the queue id from
// "v2.analytics.queues.{id}.observations".
func queueIDFromTopic(topic string) string {
	parts := strings.Split(topic, ".")
	if len(parts) >= 5 && parts[1] == "analytics" && parts[2] == "queues" {
		return parts[3]
	}
	return ""
}
