package twilio

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"ccbridge/internal/model"
	"ccbridge/internal/platform"
)

// Adapter is a pull-based vendor integration: realtime state comes from a
// polling ticker over the REST calls resource, optionally complemented by
// voice status callbacks delivered through HandleStatusCallback. From above
// it presents the same push consumption model as socket vendors.
type Adapter struct {
	cfg  model.PlatformConfig
	emit platform.Emitter
	log  *slog.Logger

	api *APIClient

	mu       sync.Mutex
	state    platform.State
	status   model.PlatformStatus
	stopPoll chan struct{}
	seen     map[string]model.CallStatus
}

const defaultPollingInterval = 30 * time.Second

// pollLookback is the poll window size. The calls resource filters on start
// time, so a window keyed to the previous tick would miss status transitions
// of calls that started earlier; overlapping windows catch them and the seen
// map deduplicates re-reads.
const pollLookback = time.Hour

func New(cfg model.PlatformConfig, emit platform.Emitter) (platform.Adapter, error) {
	if emit == nil {
		return nil, fmt.Errorf("twilio: emitter is required")
	}
	log := slog.Default().With("platform_id", cfg.ID, "vendor", "twilio")
	return &Adapter{
		cfg:    cfg,
		emit:   emit,
		log:    log,
		api:    NewAPIClient(cfg.Credentials.AccountSID, cfg.Credentials.AuthToken, log),
		state:  platform.StateUninitialized,
		status: model.PlatformStatus{PlatformID: cfg.ID},
		seen:   make(map[string]model.CallStatus),
	}, nil
}

func (a *Adapter) ID() string               { return a.cfg.ID }
func (a *Adapter) Type() model.PlatformType { return model.PlatformTypeTwilio }

// SetAPIBaseURL redirects REST traffic; used by tests.
func (a *Adapter) SetAPIBaseURL(base string) { a.api.SetBaseURL(base) }

func (a *Adapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != platform.StateUninitialized && a.state != platform.StateInitialized {
		return &platform.LifecycleError{PlatformID: a.cfg.ID, Op: "initialize", State: a.state}
	}
	if a.cfg.Credentials.AccountSID == "" || a.cfg.Credentials.AuthToken == "" {
		return &platform.ConfigurationError{PlatformID: a.cfg.ID, Reason: "account_sid and auth_token are required"}
	}
	if err := a.api.Ping(ctx); err != nil {
		return &platform.ConfigurationError{PlatformID: a.cfg.ID, Reason: fmt.Sprintf("credential check failed: %v", err)}
	}

	a.status.Capabilities = model.PlatformCapabilities{
		Realtime:           a.cfg.WebhookURL != "",
		HistoricalData:     true,
		CallRecording:      true,
		MaxHistoricalRange: 30 * 24 * time.Hour,
	}
	a.state = platform.StateInitialized
	a.log.Info("twilio adapter initialized", "webhook", a.cfg.WebhookURL != "")
	return nil
}

func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == platform.StateUninitialized {
		return &platform.LifecycleError{PlatformID: a.cfg.ID, Op: "connect", State: platform.StateUninitialized}
	}
	if a.state == platform.StateConnected {
		return nil
	}

	interval := a.cfg.PollingInterval
	if interval <= 0 {
		interval = defaultPollingInterval
	}

	stop := make(chan struct{})
	a.stopPoll = stop
	a.state = platform.StateConnected
	a.status.Connected = true
	a.status.LastSync = time.Now().UTC()
	a.status.Error = ""

	go a.pollLoop(interval, stop)
	return nil
}

// Disconnect stops the poll ticker. Safe from any state and safe to repeat:
// a subsequent ticker tick can never fire once the stop channel is closed.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	stop := a.stopPoll
	a.stopPoll = nil
	if a.state == platform.StateConnected {
		a.state = platform.StateDisconnected
	}
	a.status.Connected = false
	a.mu.Unlock()

	if stop != nil {
		close(stop)
		a.log.Info("twilio adapter disconnected")
	}
	return nil
}

func (a *Adapter) pollLoop(interval time.Duration, stop chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			a.pollOnce()
		}
	}
}

// pollOnce fetches recent calls and emits one canonical event per call whose
// status changed. Poll failures surface on the error channel, never as a
// panic inside the ticker goroutine.
func (a *Adapter) pollOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	now := time.Now().UTC()
	recs, err := a.api.ListCalls(ctx, now.Add(-pollLookback), now, 0)
	if err != nil {
		a.recordError(err)
		a.emit.Emit(platform.Event{
			PlatformID: a.cfg.ID,
			Kind:       platform.EventError,
			Err:        &platform.TransportError{PlatformID: a.cfg.ID, Op: "poll calls", Err: err},
		})
		return
	}

	a.mu.Lock()
	a.status.LastSync = now
	a.status.Error = ""
	changed := make([]CallRecord, 0, len(recs))
	for _, rec := range recs {
		next := TranslateCallStatus(rec.Status, a.log)
		prev, ok := a.seen[rec.SID]
		if ok && !prev.CanTransitionTo(next) {
			// Terminal states never regress; stale poll rows are dropped.
			continue
		}
		if ok && prev == next {
			continue
		}
		a.seen[rec.SID] = next
		changed = append(changed, rec)
	}
	a.mu.Unlock()

	for _, rec := range changed {
		call := ToCallData(a.cfg.ID, rec, a.log)
		a.emit.Emit(platform.Event{PlatformID: a.cfg.ID, Kind: platform.EventCall, Call: &call})
	}
	if len(changed) > 0 {
		a.publishMetrics(recs, now)
	}
}

func (a *Adapter) publishMetrics(recs []CallRecord, now time.Time) {
	m := model.PlatformMetrics{
		Timestamp: now,
		Metadata:  map[string]string{"vendor": "twilio"},
	}
	var completed, abandoned int
	var handleSum, handleN int
	for _, rec := range recs {
		switch TranslateCallStatus(rec.Status, nil) {
		case model.CallStatusInProgress, model.CallStatusRinging:
			m.ActiveCalls++
		case model.CallStatusCompleted:
			completed++
			if rec.Duration != nil {
				handleSum += *rec.Duration
				handleN++
			}
		case model.CallStatusAbandoned, model.CallStatusMissed:
			abandoned++
		}
		if now.Sub(rec.StartTime) <= time.Hour {
			m.CallsInLastHour++
		}
	}
	if handleN > 0 {
		m.AverageHandleTimeSeconds = float64(handleSum) / float64(handleN)
	}
	if completed+abandoned > 0 {
		m.AbandonRate = float64(abandoned) / float64(completed+abandoned) * 100
	}

	a.mu.Lock()
	snapshot := m
	a.status.CurrentMetrics = &snapshot
	a.mu.Unlock()
	a.emit.Emit(platform.Event{PlatformID: a.cfg.ID, Kind: platform.EventMetrics, Metrics: &snapshot})
}

// HandleStatusCallback ingests a Twilio voice status callback. Used by the
// HTTP layer to push webhook events into the same pipeline as polling.
func (a *Adapter) HandleStatusCallback(r *http.Request) error {
	form, err := ParseStatusCallback(r)
	if err != nil {
		return &platform.ValidationError{PlatformID: a.cfg.ID, Reason: fmt.Sprintf("bad callback form: %v", err)}
	}
	if form.CallSid == "" {
		return &platform.ValidationError{PlatformID: a.cfg.ID, Reason: "callback missing CallSid"}
	}

	rec := form.ToCallRecord(time.Now())
	next := TranslateCallStatus(rec.Status, a.log)

	a.mu.Lock()
	prev, ok := a.seen[rec.SID]
	if ok && !prev.CanTransitionTo(next) {
		a.mu.Unlock()
		a.log.Debug("twilio: dropping out-of-order callback", "sid", rec.SID, "prev", prev, "next", next)
		return nil
	}
	a.seen[rec.SID] = next
	a.status.LastSync = time.Now().UTC()
	a.mu.Unlock()

	call := ToCallData(a.cfg.ID, rec, a.log)
	if form.RecordingURL != "" {
		call.RecordingURL = form.RecordingURL
	}
	a.emit.Emit(platform.Event{PlatformID: a.cfg.ID, Kind: platform.EventCall, Call: &call})
	return nil
}

func (a *Adapter) FetchCurrentMetrics(ctx context.Context) (model.PlatformMetrics, error) {
	now := time.Now().UTC()
	recs, err := a.api.ListCalls(ctx, now.Add(-time.Hour), now, 0)
	if err != nil {
		a.recordError(err)
		return model.PlatformMetrics{}, &platform.TransportError{PlatformID: a.cfg.ID, Op: "list calls", Err: err}
	}
	a.publishMetrics(recs, now)
	st := a.Status()
	return *st.CurrentMetrics, nil
}

func (a *Adapter) FetchHistoricalData(ctx context.Context, q model.HistoricalQuery) (model.HistoricalData, error) {
	caps := a.Status().Capabilities
	if q.Range() <= 0 {
		return model.HistoricalData{}, &platform.ValidationError{PlatformID: a.cfg.ID, Reason: "query range must be positive"}
	}
	if caps.MaxHistoricalRange > 0 && q.Range() > caps.MaxHistoricalRange {
		return model.HistoricalData{}, &platform.ValidationError{
			PlatformID: a.cfg.ID,
			Reason:     fmt.Sprintf("range %s exceeds negotiated maximum %s", q.Range(), caps.MaxHistoricalRange),
		}
	}

	recs, err := a.api.ListCalls(ctx, q.From, q.To, q.Limit)
	if err != nil {
		a.recordError(err)
		return model.HistoricalData{}, &platform.TransportError{PlatformID: a.cfg.ID, Op: "historical calls", Err: err}
	}

	out := model.HistoricalData{PlatformID: a.cfg.ID, Query: q, Calls: make([]model.CallData, 0, len(recs))}
	for _, rec := range recs {
		out.Calls = append(out.Calls, ToCallData(a.cfg.ID, rec, a.log))
	}
	return out, nil
}

func (a *Adapter) HasCapability(name string) bool {
	return a.Status().Capabilities.Has(name)
}

func (a *Adapter) Status() model.PlatformStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.status
	if st.CurrentMetrics != nil {
		m := *st.CurrentMetrics
		st.CurrentMetrics = &m
	}
	return st
}

func (a *Adapter) recordError(err error) {
	a.mu.Lock()
	a.status.Error = err.Error()
	a.mu.Unlock()
}
