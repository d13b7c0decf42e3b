package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// StatusCallbackForm captures the subset of Twilio voice status-callback
// fields the integration layer cares about. Twilio posts
// application/x-www-form-urlencoded by default.
//
// Keep it vendor-boundary-only: no business logic here, just form parsing.
type StatusCallbackForm struct {
	CallSid      string
	AccountSid   string
	From         string
	To           string
	Direction    string
	CallStatus   string
	CallDuration string
	Timestamp    string
	RecordingURL string
}

// ParseStatusCallback reads a Twilio voice status callback request.
func ParseStatusCallback(r *http.Request) (StatusCallbackForm, error) {
	if err := r.ParseForm(); err != nil {
		return StatusCallbackForm{}, err
	}
	return StatusCallbackForm{
		CallSid:      r.PostFormValue("CallSid"),
		AccountSid:   r.PostFormValue("AccountSid"),
		From:         strings.TrimSpace(r.PostFormValue("From")),
		To:           strings.TrimSpace(r.PostFormValue("To")),
		Direction:    r.PostFormValue("Direction"),
		CallStatus:   r.PostFormValue("CallStatus"),
		CallDuration: r.PostFormValue("CallDuration"),
		Timestamp:    r.PostFormValue("Timestamp"),
		RecordingURL: r.PostFormValue("RecordingUrl"),
	}, nil
}

// ValidateSignature checks the X-Twilio-Signature header: base64 HMAC-SHA1
// over the full callback URL plus the sorted post parameters, keyed with the
// account auth token.
func ValidateSignature(authToken, callbackURL string, form url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(callbackURL)
	for _, k := range keys {
		b.WriteString(k)
		if vs := form[k]; len(vs) > 0 {
			b.WriteString(vs[0])
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(want), []byte(signature)) == 1
}

// ToCallRecord converts the callback form into the raw record shape shared
// with the polling path, so both ingresses run through one translation.
func (f StatusCallbackForm) ToCallRecord(now time.Time) CallRecord {
	rec := CallRecord{
		SID:       f.CallSid,
		Status:    f.CallStatus,
		Direction: f.Direction,
		From:      f.From,
		To:        f.To,
		StartTime: now.UTC(),
	}
	if f.Timestamp != "" {
		if t, err := time.Parse(time.RFC1123Z, f.Timestamp); err == nil {
			rec.StartTime = t.UTC()
		}
	}
	if f.CallDuration != "" {
		if d, err := strconv.Atoi(f.CallDuration); err == nil {
			rec.Duration = &d
		}
	}
	return rec
}
