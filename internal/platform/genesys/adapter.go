package genesys

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"ccbridge/internal/model"
	"ccbridge/internal/platform"
)

// Adapter is the reference push-socket vendor integration. Realtime state
// arrives over the notification websocket; metrics and history come from the
// REST API.
type Adapter struct {
	cfg  model.PlatformConfig
	emit platform.Emitter
	log  *slog.Logger

	api       *APIClient
	processor *Processor

	mu     sync.Mutex
	state  platform.State
	status model.PlatformStatus
	socket *SocketClient
	queues []Queue
}

func New(cfg model.PlatformConfig, emit platform.Emitter) (platform.Adapter, error) {
	if emit == nil {
		return nil, fmt.Errorf("genesys: emitter is required")
	}
	log := slog.Default().With("platform_id", cfg.ID, "vendor", "genesys")
	return &Adapter{
		cfg:       cfg,
		emit:      emit,
		log:       log,
		api:       NewAPIClient(cfg.Credentials.Region, cfg.Credentials.ClientID, cfg.Credentials.ClientSecret, log),
		processor: NewProcessor(cfg.ID, log),
		state:     platform.StateUninitialized,
		status:    model.PlatformStatus{PlatformID: cfg.ID},
	}, nil
}

func (a *Adapter) ID() string               { return a.cfg.ID }
func (a *Adapter) Type() model.PlatformType { return model.PlatformTypeGenesys }

// SetAPIBaseURL redirects REST traffic; used by tests.
func (a *Adapter) SetAPIBaseURL(base string) { a.api.SetBaseURL(base) }

func (a *Adapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != platform.StateUninitialized && a.state != platform.StateInitialized {
		return &platform.LifecycleError{PlatformID: a.cfg.ID, Op: "initialize", State: a.state}
	}
	if a.cfg.Credentials.ClientID == "" || a.cfg.Credentials.ClientSecret == "" {
		return &platform.ConfigurationError{PlatformID: a.cfg.ID, Reason: "client_id and client_secret are required"}
	}

	if err := a.api.Authenticate(ctx); err != nil {
		return &platform.ConfigurationError{PlatformID: a.cfg.ID, Reason: fmt.Sprintf("credential exchange failed: %v", err)}
	}

	// Genesys supports the full surface; limits are fixed by the vendor.
	a.status.Capabilities = model.PlatformCapabilities{
		Realtime:             true,
		HistoricalData:       true,
		AgentPresence:        true,
		QueueStats:           true,
		CallRecording:        true,
		MaxHistoricalRange:   90 * 24 * time.Hour,
		MaxConcurrentQueries: 10,
	}
	a.state = platform.StateInitialized
	a.log.Info("genesys adapter initialized")
	return nil
}

func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.state == platform.StateUninitialized {
		a.mu.Unlock()
		return &platform.LifecycleError{PlatformID: a.cfg.ID, Op: "connect", State: platform.StateUninitialized}
	}
	if a.state == platform.StateConnected {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	ch, err := a.api.CreateNotificationChannel(ctx)
	if err != nil {
		a.recordError(err)
		return &platform.TransportError{PlatformID: a.cfg.ID, Op: "create notification channel", Err: err}
	}

	queues, err := a.api.ListQueues(ctx)
	if err != nil {
		// Queue discovery failing only narrows the subscription set.
		a.log.Warn("queue discovery failed; subscribing without queue topics", "err", err)
		queues = nil
	}

	users, err := a.api.ListUsers(ctx)
	if err != nil {
		a.log.Warn("user discovery failed; subscribing without presence topics", "err", err)
		users = nil
	}

	token, err := a.api.Token(ctx)
	if err != nil {
		a.recordError(err)
		return &platform.TransportError{PlatformID: a.cfg.ID, Op: "token refresh", Err: err}
	}

	socketURL := a.cfg.Credentials.SocketURL
	if socketURL == "" {
		socketURL = ch.ConnectURI
	}

	socket := NewSocketClient(SocketConfig{
		URL:            socketURL,
		Token:          token,
		Topics:         subscriptionTopics(queues, users),
		ReconnectDelay: 5 * time.Second,
	}, a.log, a.handleFrame, a.handleTransportError)

	if err := socket.Connect(ctx); err != nil {
		a.recordError(err)
		return &platform.TransportError{PlatformID: a.cfg.ID, Op: "socket connect", Err: err}
	}

	a.mu.Lock()
	a.socket = socket
	a.queues = queues
	a.state = platform.StateConnected
	a.status.Connected = true
	a.status.LastSync = time.Now().UTC()
	a.status.Error = ""
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	socket := a.socket
	a.socket = nil
	if a.state == platform.StateConnected {
		a.state = platform.StateDisconnected
	}
	a.status.Connected = false
	a.mu.Unlock()

	if socket != nil {
		socket.Close()
		a.log.Info("genesys adapter disconnected")
	}
	return nil
}

func (a *Adapter) FetchCurrentMetrics(ctx context.Context) (model.PlatformMetrics, error) {
	a.mu.Lock()
	queues := a.queues
	a.mu.Unlock()

	if len(queues) == 0 {
		qs, err := a.api.ListQueues(ctx)
		if err != nil {
			a.recordError(err)
			return model.PlatformMetrics{}, &platform.TransportError{PlatformID: a.cfg.ID, Op: "list queues", Err: err}
		}
		queues = qs
		a.mu.Lock()
		a.queues = qs
		a.mu.Unlock()
	}

	m := model.PlatformMetrics{
		Timestamp:   time.Now().UTC(),
		TotalQueues: len(queues),
		Metadata:    map[string]string{"vendor": "genesys"},
	}

	ids := make([]string, 0, len(queues))
	for _, q := range queues {
		ids = append(ids, q.ID)
	}
	obs, err := a.api.QueryQueueObservations(ctx, ids)
	if err != nil {
		a.recordError(err)
		return model.PlatformMetrics{}, &platform.TransportError{PlatformID: a.cfg.ID, Op: "queue observations", Err: err}
	}

	var levelSum float64
	var levelN int
	for _, o := range obs {
		m.ActiveCalls += o.Waiting + o.ActiveAgents // approximation: waiting + in-handling interactions
		m.AvailableAgents += o.AvailableAgents
		if o.ServiceLevel != nil {
			levelSum += *o.ServiceLevel
			levelN++
		}
	}
	if levelN > 0 {
		m.ServiceLevel = levelSum / float64(levelN)
	}

	// Presence lookup tolerates partial failure: a broken directory page never
	// aborts the snapshot.
	users, err := a.api.ListUsers(ctx)
	if err != nil {
		a.log.Warn("user directory fetch failed; agent totals omitted from snapshot", "err", err)
	} else {
		m.TotalAgents = len(users)
	}

	a.mu.Lock()
	snapshot := m
	a.status.CurrentMetrics = &snapshot
	a.status.LastSync = m.Timestamp
	a.status.Error = ""
	emit := a.emit
	a.mu.Unlock()

	emit.Emit(platform.Event{PlatformID: a.cfg.ID, Kind: platform.EventMetrics, Metrics: &snapshot})
	return m, nil
}

func (a *Adapter) FetchHistoricalData(ctx context.Context, q model.HistoricalQuery) (model.HistoricalData, error) {
	caps := a.Status().Capabilities
	if !caps.HistoricalData {
		return model.HistoricalData{}, &platform.ValidationError{PlatformID: a.cfg.ID, Reason: "historicalData capability not negotiated"}
	}
	if q.Range() <= 0 {
		return model.HistoricalData{}, &platform.ValidationError{PlatformID: a.cfg.ID, Reason: "query range must be positive"}
	}
	if caps.MaxHistoricalRange > 0 && q.Range() > caps.MaxHistoricalRange {
		return model.HistoricalData{}, &platform.ValidationError{
			PlatformID: a.cfg.ID,
			Reason:     fmt.Sprintf("range %s exceeds negotiated maximum %s", q.Range(), caps.MaxHistoricalRange),
		}
	}

	details, err := a.api.QueryConversations(ctx, q.From, q.To, q.Limit)
	if err != nil {
		a.recordError(err)
		return model.HistoricalData{}, &platform.TransportError{PlatformID: a.cfg.ID, Op: "conversation details", Err: err}
	}

	out := model.HistoricalData{PlatformID: a.cfg.ID, Query: q, Calls: make([]model.CallData, 0, len(details))}
	for _, d := range details {
		call := a.historicalCall(d)
		if q.QueueID != "" && call.QueueID != q.QueueID {
			continue
		}
		if q.AgentID != "" && call.AgentID != q.AgentID {
			continue
		}
		out.Calls = append(out.Calls, call)
	}
	a.emitCustomerHistories(out.Calls)
	return out, nil
}

// emitCustomerHistories folds a historical result into per-customer records
// and pushes them onto the event stream, so consumers tracking customer
// journeys see updates without issuing their own queries.
func (a *Adapter) emitCustomerHistories(calls []model.CallData) {
	byCustomer := make(map[string][]model.CallData)
	for _, call := range calls {
		if call.CustomerID == "" {
			continue
		}
		byCustomer[call.CustomerID] = append(byCustomer[call.CustomerID], call)
	}

	now := time.Now().UTC()
	for customerID, customerCalls := range byCustomer {
		sort.Slice(customerCalls, func(i, j int) bool {
			return customerCalls[i].Timestamp.Before(customerCalls[j].Timestamp)
		})
		history := model.CustomerHistory{
			CustomerID: customerID,
			PlatformID: a.cfg.ID,
			Calls:      customerCalls,
			UpdatedAt:  now,
		}
		a.emit.Emit(platform.Event{PlatformID: a.cfg.ID, Kind: platform.EventCustomerHistory, History: &history})
	}
}

func (a *Adapter) historicalCall(d ConversationDetail) model.CallData {
	call := model.CallData{
		ID:         d.ConversationID,
		PlatformID: a.cfg.ID,
		Timestamp:  d.ConversationStart,
		Type:       translateDirection(d.OriginatingDirection),
		Status:     model.CallStatusCompleted,
		Metadata:   map[string]string{"vendor": "genesys"},
	}
	if !d.ConversationEnd.IsZero() && d.ConversationEnd.After(d.ConversationStart) {
		secs := int(d.ConversationEnd.Sub(d.ConversationStart) / time.Second)
		call.DurationSeconds = &secs
	} else if d.ConversationEnd.IsZero() {
		call.Status = model.CallStatusInProgress
	}

	answered := false
	for _, p := range d.Participants {
		switch p.Purpose {
		case "agent":
			call.AgentID = p.UserID
			answered = true
		case "customer", "external":
			if call.CustomerID == "" {
				call.CustomerID = p.UserID
			}
		}
		for _, s := range p.Sessions {
			for _, seg := range s.Segments {
				if seg.QueueID != "" && call.QueueID == "" {
					call.QueueID = seg.QueueID
				}
				if seg.Recording {
					call.Metadata["recorded"] = "true"
				}
			}
		}
	}
	if !answered && call.Status == model.CallStatusCompleted {
		call.Status = model.CallStatusAbandoned
	}
	return call
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

// --- transport callbacks ---

func (a *Adapter) handleFrame(topic string, body json.RawMessage) {
	ev := a.processor.Process(topic, body)
	if ev == nil {
		return
	}
	a.mu.Lock()
	a.status.LastSync = time.Now().UTC()
	a.mu.Unlock()
	a.emit.Emit(*ev)
}

func (a *Adapter) handleTransportError(err error) {
	a.recordError(err)
	a.emit.Emit(platform.Event{
		PlatformID: a.cfg.ID,
		Kind:       platform.EventError,
		Err:        &platform.TransportError{PlatformID: a.cfg.ID, Op: "socket", Err: err},
	})
}

func (a *Adapter) recordError(err error) {
	a.mu.Lock()
	a.status.Error = err.Error()
	a.mu.Unlock()
}

// subscriptionTopics enumerates the notification topics of interest:
// conversation detail events, per-queue observations, and per-user presence.
// The notification service has no presence wildcard; each agent needs an
// explicit v2.users.{id}.presence subscription.
func subscriptionTopics(queues []Queue, users []User) []string {
	topics := []string{"v2.detail.events.conversation"}
	for _, q := range queues {
		topics = append(topics, "v2.analytics.queues."+q.ID+".observations")
	}
	for _, u := range users {
		topics = append(topics, "v2.users."+u.ID+".presence")
	}
	return topics
}
