package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ccbridge/internal/model"
	"ccbridge/internal/platform"
)

// recordingEmitter collects emitted events for assertions.
type recordingEmitter struct {
	mu     sync.Mutex
	events []platform.Event
}

func (e *recordingEmitter) Emit(ev platform.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *recordingEmitter) calls() []model.CallData {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []model.CallData
	for _, ev := range e.events {
		if ev.Kind == platform.EventCall && ev.Call != nil {
			out = append(out, *ev.Call)
		}
	}
	return out
}

func testConfig() model.PlatformConfig {
	return model.PlatformConfig{
		ID:   "twilio-1",
		Type: model.PlatformTypeTwilio,
		Credentials: model.Credentials{
			AccountSID: "AC1",
			AuthToken:  "token",
		},
	}
}

// newCallsServer serves the account ping and a calls page whose body is
// controlled by the callback.
func newCallsServer(t *testing.T, calls func() []apiCall, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, _, ok := r.BasicAuth(); !ok || user != "AC1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "/Accounts/AC1.json"):
			fmt.Fprint(w, `{"status":"active"}`)
		case strings.HasSuffix(r.URL.Path, "/Calls.json"):
			if hits != nil {
				hits.Add(1)
			}
			json.NewEncoder(w).Encode(map[string]any{"calls": calls()})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTestAdapter(t *testing.T, cfg model.PlatformConfig, emit platform.Emitter, base string) *Adapter {
	t.Helper()
	a, err := New(cfg, emit)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	ta := a.(*Adapter)
	ta.SetAPIBaseURL(base)
	return ta
}

func TestInitializeRejectsMissingCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.Credentials.AuthToken = ""
	a, err := New(cfg, &recordingEmitter{})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	err = a.Initialize(context.Background())
	var cfgErr *platform.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("want ConfigurationError, got %v", err)
	}
	if cfgErr.PlatformID != "twilio-1" {
		t.Errorf("error platform id: %q", cfgErr.PlatformID)
	}
	// Secrets never leak into error text.
	if strings.Contains(err.Error(), "token") && strings.Contains(err.Error(), cfg.Credentials.AccountSID) {
		t.Errorf("error text should not carry credentials: %s", err)
	}
}

func TestInitializeRejectsBadCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := newTestAdapter(t, testConfig(), &recordingEmitter{}, srv.URL)
	err := a.Initialize(context.Background())
	var cfgErr *platform.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("want ConfigurationError, got %v", err)
	}
}

func TestConnectBeforeInitialize(t *testing.T) {
	a := newTestAdapter(t, testConfig(), &recordingEmitter{}, "http://127.0.0.1:0")
	err := a.Connect(context.Background())
	var lcErr *platform.LifecycleError
	if !errors.As(err, &lcErr) {
		t.Fatalf("want LifecycleError, got %v", err)
	}
	if lcErr.State != platform.StateUninitialized {
		t.Errorf("reported state: %s", lcErr.State)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	a := newTestAdapter(t, testConfig(), &recordingEmitter{}, "http://127.0.0.1:0")
	for i := 0; i < 3; i++ {
		if err := a.Disconnect(context.Background()); err != nil {
			t.Fatalf("disconnect #%d: %v", i+1, err)
		}
	}
}

func TestCapabilityNegotiation(t *testing.T) {
	srv := newCallsServer(t, func() []apiCall { return nil }, nil)
	defer srv.Close()

	cfg := testConfig()
	a := newTestAdapter(t, cfg, &recordingEmitter{}, srv.URL)
	if err := a.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if a.HasCapability(model.CapabilityRealtime) {
		t.Error("realtime must be off without a webhook url")
	}
	if !a.HasCapability(model.CapabilityHistoricalData) || !a.HasCapability(model.CapabilityCallRecording) {
		t.Error("historical data and recording capabilities expected")
	}
	if a.HasCapability(model.CapabilityLiveTranscription) {
		t.Error("live transcription must be off")
	}

	cfg.WebhookURL = "https://bridge.example.com/webhooks/twilio/voice/twilio-1"
	b := newTestAdapter(t, cfg, &recordingEmitter{}, srv.URL)
	if err := b.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if !b.HasCapability(model.CapabilityRealtime) {
		t.Error("realtime expected once a webhook url is configured")
	}
}

func TestPollEmitsOnlyChangedAndMonotonic(t *testing.T) {
	start := time.Now().UTC().Add(-5 * time.Minute).Format(time.RFC1123Z)
	var rows atomic.Value
	rows.Store([]apiCall{
		{SID: "CA1", Status: "in-progress", Direction: "inbound", StartTime: start},
	})
	srv := newCallsServer(t, func() []apiCall { return rows.Load().([]apiCall) }, nil)
	defer srv.Close()

	emit := &recordingEmitter{}
	a := newTestAdapter(t, testConfig(), emit, srv.URL)
	if err := a.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	a.pollOnce()
	if got := emit.calls(); len(got) != 1 || got[0].Status != model.CallStatusInProgress {
		t.Fatalf("first poll calls: %+v", got)
	}

	// Same status again: no duplicate event.
	a.pollOnce()
	if got := emit.calls(); len(got) != 1 {
		t.Fatalf("unchanged poll must not re-emit, got %d events", len(got))
	}

	// Progression to a terminal state is emitted once.
	rows.Store([]apiCall{
		{SID: "CA1", Status: "completed", Direction: "inbound", StartTime: start, Duration: "125"},
	})
	a.pollOnce()
	got := emit.calls()
	if len(got) != 2 {
		t.Fatalf("want 2 call events after completion, got %d", len(got))
	}
	last := got[1]
	if last.Status != model.CallStatusCompleted || last.DurationSeconds == nil || *last.DurationSeconds != 125 {
		t.Fatalf("completion event: %+v", last)
	}

	// A stale row regressing from a terminal state is dropped.
	rows.Store([]apiCall{
		{SID: "CA1", Status: "ringing", Direction: "inbound", StartTime: start},
	})
	a.pollOnce()
	if got := emit.calls(); len(got) != 2 {
		t.Fatalf("regression after terminal state must be dropped, got %d events", len(got))
	}
}

func TestPollFailureSurfacesAsErrorEvent(t *testing.T) {
	srv := newCallsServer(t, func() []apiCall { return nil }, nil)
	srv.Close() // every request now fails

	emit := &recordingEmitter{}
	a := newTestAdapter(t, testConfig(), emit, srv.URL)
	a.pollOnce()

	emit.mu.Lock()
	defer emit.mu.Unlock()
	if len(emit.events) != 1 || emit.events[0].Kind != platform.EventError {
		t.Fatalf("want one error event, got %+v", emit.events)
	}
	var tErr *platform.TransportError
	if !errors.As(emit.events[0].Err, &tErr) {
		t.Fatalf("want TransportError, got %v", emit.events[0].Err)
	}
	if a.Status().Error == "" {
		t.Error("status should record the poll failure")
	}
}

func TestDisconnectStopsPolling(t *testing.T) {
	var hits atomic.Int64
	srv := newCallsServer(t, func() []apiCall { return nil }, &hits)
	defer srv.Close()

	cfg := testConfig()
	cfg.PollingInterval = 10 * time.Millisecond
	emit := &recordingEmitter{}
	a := newTestAdapter(t, cfg, emit, srv.URL)
	if err := a.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hits.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hits.Load() == 0 {
		t.Fatal("poll ticker never fired")
	}

	if err := a.Disconnect(context.Background()); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	quiesced := hits.Load()
	time.Sleep(60 * time.Millisecond)
	if got := hits.Load(); got > quiesced+1 {
		t.Fatalf("ticker still firing after disconnect: %d -> %d", quiesced, got)
	}
}

func TestHandleStatusCallback(t *testing.T) {
	emit := &recordingEmitter{}
	a := newTestAdapter(t, testConfig(), emit, "http://127.0.0.1:0")

	post := func(form url.Values) error {
		r := httptest.NewRequest("POST", "/webhooks/twilio/voice/twilio-1", strings.NewReader(form.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return a.HandleStatusCallback(r)
	}

	form := url.Values{}
	form.Set("CallSid", "CA7")
	form.Set("CallStatus", "completed")
	form.Set("Direction", "inbound")
	form.Set("CallDuration", "125")
	form.Set("RecordingUrl", "https://api.twilio.com/rec/RE7")
	if err := post(form); err != nil {
		t.Fatalf("callback: %v", err)
	}

	got := emit.calls()
	if len(got) != 1 {
		t.Fatalf("want one call event, got %d", len(got))
	}
	if got[0].Status != model.CallStatusCompleted || got[0].RecordingURL != "https://api.twilio.com/rec/RE7" {
		t.Fatalf("callback event: %+v", got[0])
	}

	// Out-of-order callback after a terminal state is dropped without error.
	form.Set("CallStatus", "ringing")
	form.Del("RecordingUrl")
	if err := post(form); err != nil {
		t.Fatalf("stale callback: %v", err)
	}
	if got := emit.calls(); len(got) != 1 {
		t.Fatalf("stale callback must not emit, got %d events", len(got))
	}

	// Missing CallSid is a validation failure.
	err := post(url.Values{"CallStatus": {"completed"}})
	var vErr *platform.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("want ValidationError, got %v", err)
	}
}

func TestHistoricalRangeValidation(t *testing.T) {
	srv := newCallsServer(t, func() []apiCall { return nil }, nil)
	defer srv.Close()

	a := newTestAdapter(t, testConfig(), &recordingEmitter{}, srv.URL)
	if err := a.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	now := time.Now().UTC()
	var vErr *platform.ValidationError

	_, err := a.FetchHistoricalData(context.Background(), model.HistoricalQuery{From: now.Add(-45 * 24 * time.Hour), To: now})
	if !errors.As(err, &vErr) {
		t.Fatalf("45d range must exceed the 30d maximum, got %v", err)
	}

	_, err = a.FetchHistoricalData(context.Background(), model.HistoricalQuery{From: now, To: now})
	if !errors.As(err, &vErr) {
		t.Fatalf("empty range must be rejected, got %v", err)
	}

	out, err := a.FetchHistoricalData(context.Background(), model.HistoricalQuery{From: now.Add(-24 * time.Hour), To: now})
	if err != nil {
		t.Fatalf("valid range: %v", err)
	}
	if out.PlatformID != "twilio-1" || out.Calls == nil {
		t.Fatalf("historical result: %+v", out)
	}
}
