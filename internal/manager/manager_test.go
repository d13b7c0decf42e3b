package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ccbridge/internal/model"
	"ccbridge/internal/platform"
	"ccbridge/internal/platform/twilio"
)

// recordingConsumer captures every callback for assertions.
type recordingConsumer struct {
	mu          sync.Mutex
	calls       []model.CallData
	agents      []model.AgentState
	queues      []model.QueueState
	metrics     []model.PlatformMetrics
	transcripts []model.CallData
	sentiments  []model.CallData
	histories   []model.CustomerHistory
	errs        []error
}

func (c *recordingConsumer) OnCallUpdate(call model.CallData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}
func (c *recordingConsumer) OnAgentUpdate(a model.AgentState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agents = append(c.agents, a)
}
func (c *recordingConsumer) OnQueueUpdate(q model.QueueState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queues = append(c.queues, q)
}
func (c *recordingConsumer) OnMetricsUpdate(_ string, m model.PlatformMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = append(c.metrics, m)
}
func (c *recordingConsumer) OnTranscriptUpdate(call model.CallData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcripts = append(c.transcripts, call)
}
func (c *recordingConsumer) OnSentimentUpdate(call model.CallData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sentiments = append(c.sentiments, call)
}
func (c *recordingConsumer) OnCustomerHistoryUpdate(h model.CustomerHistory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.histories = append(c.histories, h)
}
func (c *recordingConsumer) OnError(_ string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *recordingConsumer) callUpdates() []model.CallData {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.CallData, len(c.calls))
	copy(out, c.calls)
	return out
}

func (c *recordingConsumer) errors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]error, len(c.errs))
	copy(out, c.errs)
	return out
}

// stubAdapter is a scriptable in-memory adapter for registry tests.
type stubAdapter struct {
	id   string
	typ  model.PlatformType
	emit platform.Emitter

	initErr    error
	connectErr error
	histData   model.HistoricalData
	histErr    error

	mu           sync.Mutex
	state        platform.State
	disconnected int
}

func newStubFactory(s *stubAdapter) platform.Factory {
	return func(cfg model.PlatformConfig, emit platform.Emitter) (platform.Adapter, error) {
		s.id = cfg.ID
		s.typ = cfg.Type
		s.emit = emit
		return s, nil
	}
}

func (s *stubAdapter) ID() string               { return s.id }
func (s *stubAdapter) Type() model.PlatformType { return s.typ }

func (s *stubAdapter) Initialize(ctx context.Context) error {
	if s.initErr != nil {
		return s.initErr
	}
	s.mu.Lock()
	s.state = platform.StateInitialized
	s.mu.Unlock()
	return nil
}

func (s *stubAdapter) Connect(ctx context.Context) error {
	if s.connectErr != nil {
		return s.connectErr
	}
	s.mu.Lock()
	s.state = platform.StateConnected
	s.mu.Unlock()
	return nil
}

func (s *stubAdapter) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	s.state = platform.StateDisconnected
	s.disconnected++
	s.mu.Unlock()
	return nil
}

func (s *stubAdapter) FetchCurrentMetrics(ctx context.Context) (model.PlatformMetrics, error) {
	return model.PlatformMetrics{Timestamp: time.Now().UTC()}, nil
}

func (s *stubAdapter) FetchHistoricalData(ctx context.Context, q model.HistoricalQuery) (model.HistoricalData, error) {
	if s.histErr != nil {
		return model.HistoricalData{}, s.histErr
	}
	d := s.histData
	d.PlatformID = s.id
	d.Query = q
	return d, nil
}

func (s *stubAdapter) HasCapability(name string) bool {
	return name == model.CapabilityHistoricalData
}

func (s *stubAdapter) Status() model.PlatformStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.PlatformStatus{
		PlatformID: s.id,
		Connected:  s.state == platform.StateConnected,
		Capabilities: model.PlatformCapabilities{
			HistoricalData: true,
		},
	}
}

func stubConfig(id string) model.PlatformConfig {
	return model.PlatformConfig{ID: id, Type: model.PlatformTypeGenesys, Enabled: true}
}

func TestAddPlatformRejectsDuplicates(t *testing.T) {
	cons := &recordingConsumer{}
	m := New(cons, nil)
	defer m.Close(context.Background())

	first := &stubAdapter{}
	m.RegisterFactory(model.PlatformTypeGenesys, newStubFactory(first))

	ctx := context.Background()
	if err := m.AddPlatform(ctx, stubConfig("genesys-1")); err != nil {
		t.Fatalf("add: %v", err)
	}

	err := m.AddPlatform(ctx, stubConfig("genesys-1"))
	if !errors.Is(err, platform.ErrDuplicate) {
		t.Fatalf("want ErrDuplicate, got %v", err)
	}

	// The original registration survives the rejected duplicate.
	st, err := m.PlatformStatus("genesys-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Connected {
		t.Error("existing platform must stay connected")
	}
}

func TestAddPlatformUnknownType(t *testing.T) {
	m := New(&recordingConsumer{}, nil)
	defer m.Close(context.Background())

	err := m.AddPlatform(context.Background(), stubConfig("genesys-1"))
	if !errors.Is(err, platform.ErrNotFound) {
		t.Fatalf("want ErrNotFound for unregistered type, got %v", err)
	}
}

func TestConnectFailureLeavesPlatformRegistered(t *testing.T) {
	cons := &recordingConsumer{}
	m := New(cons, nil)
	defer m.Close(context.Background())

	stub := &stubAdapter{connectErr: &platform.TransportError{PlatformID: "genesys-1", Op: "dial", Err: errors.New("refused")}}
	m.RegisterFactory(model.PlatformTypeGenesys, newStubFactory(stub))

	err := m.AddPlatform(context.Background(), stubConfig("genesys-1"))
	var tErr *platform.TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("want TransportError, got %v", err)
	}

	// Registered but disconnected; a later manual connect succeeds.
	st, err := m.PlatformStatus("genesys-1")
	if err != nil {
		t.Fatalf("platform must stay registered: %v", err)
	}
	if st.Connected {
		t.Error("platform must be disconnected after connect failure")
	}

	stub.connectErr = nil
	if err := m.ConnectPlatform(context.Background(), "genesys-1"); err != nil {
		t.Fatalf("retry connect: %v", err)
	}
}

func TestRemovePlatform(t *testing.T) {
	m := New(&recordingConsumer{}, nil)
	defer m.Close(context.Background())

	stub := &stubAdapter{}
	m.RegisterFactory(model.PlatformTypeGenesys, newStubFactory(stub))
	if err := m.AddPlatform(context.Background(), stubConfig("genesys-1")); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := m.RemovePlatform(context.Background(), "genesys-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if stub.disconnected != 1 {
		t.Errorf("remove must disconnect the adapter, got %d disconnects", stub.disconnected)
	}

	err := m.RemovePlatform(context.Background(), "genesys-1")
	if !errors.Is(err, platform.ErrNotFound) {
		t.Fatalf("second remove: want ErrNotFound, got %v", err)
	}
}

func TestEventsAreRetaggedWithOwningPlatform(t *testing.T) {
	cons := &recordingConsumer{}
	m := New(cons, nil)
	defer m.Close(context.Background())

	stub := &stubAdapter{}
	m.RegisterFactory(model.PlatformTypeGenesys, newStubFactory(stub))
	if err := m.AddPlatform(context.Background(), stubConfig("genesys-1")); err != nil {
		t.Fatalf("add: %v", err)
	}

	// The adapter lies about ownership; the manager overwrites it.
	call := model.CallData{ID: "c1", PlatformID: "someone-else", Status: model.CallStatusRinging}
	stub.emit.Emit(platform.Event{Kind: platform.EventCall, Call: &call})

	got := waitForCalls(t, cons, 1)
	if got[0].PlatformID != "genesys-1" {
		t.Fatalf("event platform id: got %q, want genesys-1", got[0].PlatformID)
	}
}

func TestTranscriptBearingCallsHitBothCallbacks(t *testing.T) {
	cons := &recordingConsumer{}
	m := New(cons, nil)
	defer m.Close(context.Background())

	stub := &stubAdapter{}
	m.RegisterFactory(model.PlatformTypeGenesys, newStubFactory(stub))
	if err := m.AddPlatform(context.Background(), stubConfig("genesys-1")); err != nil {
		t.Fatalf("add: %v", err)
	}

	call := model.CallData{ID: "c1", Status: model.CallStatusCompleted, Transcript: "hello"}
	stub.emit.Emit(platform.Event{Kind: platform.EventCall, Call: &call})

	waitForCalls(t, cons, 1)
	cons.mu.Lock()
	defer cons.mu.Unlock()
	if len(cons.transcripts) != 1 || cons.transcripts[0].Transcript != "hello" {
		t.Fatalf("transcript callbacks: %+v", cons.transcripts)
	}
}

func TestSentimentBearingCallsHitSentimentCallback(t *testing.T) {
	cons := &recordingConsumer{}
	m := New(cons, nil)
	defer m.Close(context.Background())

	stub := &stubAdapter{}
	m.RegisterFactory(model.PlatformTypeGenesys, newStubFactory(stub))
	if err := m.AddPlatform(context.Background(), stubConfig("genesys-1")); err != nil {
		t.Fatalf("add: %v", err)
	}

	call := model.CallData{ID: "c1", Status: model.CallStatusCompleted, Sentiment: "negative"}
	stub.emit.Emit(platform.Event{Kind: platform.EventCall, Call: &call})

	waitForCalls(t, cons, 1)
	cons.mu.Lock()
	defer cons.mu.Unlock()
	if len(cons.sentiments) != 1 || cons.sentiments[0].Sentiment != "negative" {
		t.Fatalf("sentiment callbacks: %+v", cons.sentiments)
	}
	if cons.sentiments[0].PlatformID != "genesys-1" {
		t.Fatalf("sentiment update platform id: got %q", cons.sentiments[0].PlatformID)
	}
	if len(cons.transcripts) != 0 {
		t.Fatalf("a sentiment-only call must not hit the transcript callback: %+v", cons.transcripts)
	}
}

func TestTranscriptEventsAreDispatched(t *testing.T) {
	cons := &recordingConsumer{}
	m := New(cons, nil)
	defer m.Close(context.Background())

	stub := &stubAdapter{}
	m.RegisterFactory(model.PlatformTypeGenesys, newStubFactory(stub))
	if err := m.AddPlatform(context.Background(), stubConfig("genesys-1")); err != nil {
		t.Fatalf("add: %v", err)
	}

	call := model.CallData{ID: "c1", Transcript: "hello", Sentiment: "positive"}
	stub.emit.Emit(platform.Event{Kind: platform.EventTranscript, Call: &call})

	deadline := time.Now().Add(2 * time.Second)
	for {
		cons.mu.Lock()
		transcripts, sentiments, calls := len(cons.transcripts), len(cons.sentiments), len(cons.calls)
		cons.mu.Unlock()
		if transcripts == 1 && sentiments == 1 {
			if calls != 0 {
				t.Fatalf("a transcript event must not double as a call update, got %d call updates", calls)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("transcript event not dispatched: transcripts=%d sentiments=%d", transcripts, sentiments)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCustomerHistoryEventsAreDispatched(t *testing.T) {
	cons := &recordingConsumer{}
	m := New(cons, nil)
	defer m.Close(context.Background())

	stub := &stubAdapter{}
	m.RegisterFactory(model.PlatformTypeGenesys, newStubFactory(stub))
	if err := m.AddPlatform(context.Background(), stubConfig("genesys-1")); err != nil {
		t.Fatalf("add: %v", err)
	}

	history := model.CustomerHistory{
		CustomerID: "cust-9",
		Calls:      []model.CallData{{ID: "c1"}, {ID: "c2"}},
		UpdatedAt:  time.Now().UTC(),
	}
	stub.emit.Emit(platform.Event{Kind: platform.EventCustomerHistory, History: &history})

	deadline := time.Now().Add(2 * time.Second)
	for {
		cons.mu.Lock()
		n := len(cons.histories)
		var got model.CustomerHistory
		if n > 0 {
			got = cons.histories[0]
		}
		cons.mu.Unlock()
		if n == 1 {
			if got.CustomerID != "cust-9" || len(got.Calls) != 2 {
				t.Fatalf("history payload: %+v", got)
			}
			if got.PlatformID != "genesys-1" {
				t.Fatalf("history platform id: got %q, want genesys-1", got.PlatformID)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("customer history event not dispatched")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHistoricalDataPartialFailureIsolation(t *testing.T) {
	cons := &recordingConsumer{}
	m := New(cons, nil)
	defer m.Close(context.Background())

	good := &stubAdapter{histData: model.HistoricalData{Calls: []model.CallData{{ID: "c1"}}}}
	bad := &stubAdapter{histErr: &platform.TransportError{PlatformID: "stub-b", Op: "historical", Err: errors.New("rate limited")}}
	m.RegisterFactory(model.PlatformTypeGenesys, newStubFactory(good))
	m.RegisterFactory(model.PlatformTypeTwilio, newStubFactory(bad))

	ctx := context.Background()
	if err := m.AddPlatform(ctx, stubConfig("stub-a")); err != nil {
		t.Fatalf("add a: %v", err)
	}
	cfgB := stubConfig("stub-b")
	cfgB.Type = model.PlatformTypeTwilio
	if err := m.AddPlatform(ctx, cfgB); err != nil {
		t.Fatalf("add b: %v", err)
	}

	now := time.Now().UTC()
	out := m.GetHistoricalData(ctx, model.HistoricalQuery{From: now.Add(-time.Hour), To: now})

	if len(out) != 1 {
		t.Fatalf("want only the healthy platform in the result map, got %v", out)
	}
	data, ok := out["stub-a"]
	if !ok || len(data.Calls) != 1 || data.Calls[0].ID != "c1" {
		t.Fatalf("healthy platform data: %+v", out)
	}

	errs := cons.errors()
	if len(errs) != 1 {
		t.Fatalf("want exactly one reported error, got %v", errs)
	}
	if !strings.HasPrefix(errs[0].Error(), "[stub-b]") {
		t.Errorf("error must be attributed to the failing platform: %v", errs[0])
	}
	var tErr *platform.TransportError
	if !errors.As(errs[0], &tErr) {
		t.Errorf("wrapped error must preserve the transport cause: %v", errs[0])
	}
}

func TestCloseStopsDispatch(t *testing.T) {
	cons := &recordingConsumer{}
	m := New(cons, nil)

	stub := &stubAdapter{}
	m.RegisterFactory(model.PlatformTypeGenesys, newStubFactory(stub))
	if err := m.AddPlatform(context.Background(), stubConfig("genesys-1")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if stub.disconnected != 1 {
		t.Errorf("close must disconnect adapters, got %d", stub.disconnected)
	}

	// Emitting after close must not block or panic.
	done := make(chan struct{})
	go func() {
		call := model.CallData{ID: "late"}
		stub.emit.Emit(platform.Event{Kind: platform.EventCall, Call: &call})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked after manager close")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	m := New(&recordingConsumer{}, nil)

	for i := 0; i < 3; i++ {
		if err := m.Close(context.Background()); err != nil {
			t.Fatalf("close #%d: %v", i+1, err)
		}
	}
}

// End-to-end: a live polling vendor adapter under the manager. One completed
// call on the wire becomes exactly one canonical call update, attributed to
// the registered platform id, and removal stops the polling.
func TestVendorRoundTrip(t *testing.T) {
	start := time.Now().UTC().Add(-3 * time.Minute).Format(time.RFC1123Z)
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/Accounts/AC1.json"):
			fmt.Fprint(w, `{"status":"active"}`)
		case strings.HasSuffix(r.URL.Path, "/Calls.json"):
			hits.Add(1)
			json.NewEncoder(w).Encode(map[string]any{"calls": []map[string]string{{
				"sid":        "CA100",
				"status":     "completed",
				"direction":  "inbound",
				"from":       "+15550001",
				"to":         "+15550002",
				"start_time": start,
				"duration":   "125",
			}}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cons := &recordingConsumer{}
	m := New(cons, nil)
	defer m.Close(context.Background())

	m.RegisterFactory(model.PlatformTypeTwilio, func(cfg model.PlatformConfig, emit platform.Emitter) (platform.Adapter, error) {
		ad, err := twilio.New(cfg, emit)
		if err != nil {
			return nil, err
		}
		ad.(*twilio.Adapter).SetAPIBaseURL(srv.URL)
		return ad, nil
	})

	cfg := model.PlatformConfig{
		ID:              "twilio-1",
		Type:            model.PlatformTypeTwilio,
		Enabled:         true,
		PollingInterval: 10 * time.Millisecond,
		Credentials:     model.Credentials{AccountSID: "AC1", AuthToken: "token"},
	}
	if err := m.AddPlatform(context.Background(), cfg); err != nil {
		t.Fatalf("add platform: %v", err)
	}

	got := waitForCalls(t, cons, 1)
	call := got[0]
	if call.Status != model.CallStatusCompleted {
		t.Errorf("status: got %s, want COMPLETED", call.Status)
	}
	if call.DurationSeconds == nil || *call.DurationSeconds != 125 {
		t.Errorf("duration: got %v, want 125", call.DurationSeconds)
	}
	if call.PlatformID != "twilio-1" {
		t.Errorf("platform id: got %q, want twilio-1", call.PlatformID)
	}

	// The same unchanged call never produces a second update.
	time.Sleep(50 * time.Millisecond)
	if got := cons.callUpdates(); len(got) != 1 {
		t.Fatalf("want exactly one call update, got %d", len(got))
	}

	// Removal stops the poll ticker and drops the platform from fan-out.
	if err := m.RemovePlatform(context.Background(), "twilio-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	quiesced := hits.Load()
	time.Sleep(60 * time.Millisecond)
	if now := hits.Load(); now > quiesced+1 {
		t.Fatalf("polling continued after removal: %d -> %d", quiesced, now)
	}

	nowT := time.Now().UTC()
	out := m.GetHistoricalData(context.Background(), model.HistoricalQuery{From: nowT.Add(-time.Hour), To: nowT})
	if len(out) != 0 {
		t.Fatalf("removed platform must not appear in historical results: %v", out)
	}
}

func waitForCalls(t *testing.T, cons *recordingConsumer, n int) []model.CallData {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := cons.callUpdates(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d call updates, have %d", n, len(cons.callUpdates()))
	return nil
}
