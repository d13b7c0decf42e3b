package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"ccbridge/internal/model"
	"ccbridge/internal/platform"
	"ccbridge/pkg/logger"
)

// Manager owns the set of active platform adapters, mediates their lifecycle
// and fans their independent event streams into one consumer-facing stream.
//
// Concurrency model: each adapter owns disjoint state (its socket, ticker and
// status record), so the only shared mutable structure here is the registry
// map. AddPlatform/RemovePlatform are control-path operations and must not be
// invoked concurrently for the same platform id. Event fan-in runs through a
// single buffered channel, preserving per-platform ordering; no ordering
// exists across platforms.
type Manager struct {
	log *slog.Logger

	mu        sync.RWMutex
	factories map[model.PlatformType]platform.Factory
	adapters  map[string]platform.Adapter

	events    chan platform.Event
	done      chan struct{}
	closeOnce sync.Once

	consumer Consumer
}

// Consumer receives canonical events from all platforms. Implementations
// observe vendor-neutral shapes only; vendor wire formats never reach here.
type Consumer interface {
	OnCallUpdate(call model.CallData)
	OnAgentUpdate(agent model.AgentState)
	OnQueueUpdate(queue model.QueueState)
	OnMetricsUpdate(platformID string, metrics model.PlatformMetrics)
	OnTranscriptUpdate(call model.CallData)
	OnSentimentUpdate(call model.CallData)
	OnCustomerHistoryUpdate(history model.CustomerHistory)
	OnError(platformID string, err error)
}

const eventBuffer = 256

// New creates a manager and starts its dispatch loop. Close releases it.
func New(consumer Consumer, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		log:       log,
		factories: make(map[model.PlatformType]platform.Factory),
		adapters:  make(map[string]platform.Adapter),
		events:    make(chan platform.Event, eventBuffer),
		done:      make(chan struct{}),
		consumer:  consumer,
	}
	go m.dispatchLoop()
	return m
}

// RegisterFactory associates a vendor type with an adapter constructor. Must
// run before any AddPlatform of that type; last writer wins, which is fine
// because registration happens once at process start.
func (m *Manager) RegisterFactory(t model.PlatformType, f platform.Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[t] = f
}

// AddPlatform constructs, initializes and (when enabled) connects an adapter.
//
// Partial failure is deliberate: when Initialize succeeds but Connect fails,
// the platform stays registered and disconnected; the caller retries with
// ConnectPlatform.
func (m *Manager) AddPlatform(ctx context.Context, cfg model.PlatformConfig) error {
	if cfg.ID == "" {
		return &platform.ValidationError{Reason: "platform id is required"}
	}

	m.mu.Lock()
	if _, exists := m.adapters[cfg.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("platform %s: %w", cfg.ID, platform.ErrDuplicate)
	}
	factory, ok := m.factories[cfg.Type]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("platform type %s: %w", cfg.Type, platform.ErrNotFound)
	}

	// Every event from this adapter is re-tagged with the owning platform id
	// before fan-in, so consumers can always attribute it.
	emit := platform.EmitterFunc(func(ev platform.Event) {
		ev.PlatformID = cfg.ID
		select {
		case m.events <- ev:
		case <-m.done:
		}
	})

	ad, err := factory(cfg, emit)
	if err != nil {
		return fmt.Errorf("platform %s: construct: %w", cfg.ID, err)
	}

	if err := ad.Initialize(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	if _, exists := m.adapters[cfg.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("platform %s: %w", cfg.ID, platform.ErrDuplicate)
	}
	m.adapters[cfg.ID] = ad
	m.mu.Unlock()

	logger.From(ctx).Info("platform added", "platform_id", cfg.ID, "type", cfg.Type, "enabled", cfg.Enabled)

	if cfg.Enabled {
		if err := ad.Connect(ctx); err != nil {
			m.reportError(cfg.ID, err)
			return err
		}
	}
	return nil
}

// RemovePlatform disconnects the adapter (releasing its timers and sockets)
// and deletes it from the registry.
func (m *Manager) RemovePlatform(ctx context.Context, id string) error {
	m.mu.Lock()
	ad, ok := m.adapters[id]
	if ok {
		delete(m.adapters, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("platform %s: %w", id, platform.ErrNotFound)
	}

	if err := ad.Disconnect(ctx); err != nil {
		m.reportError(id, err)
	}
	logger.From(ctx).Info("platform removed", "platform_id", id)
	return nil
}

// ConnectPlatform is manual lifecycle control independent of AddPlatform's
// auto-connect.
func (m *Manager) ConnectPlatform(ctx context.Context, id string) error {
	ad, err := m.adapter(id)
	if err != nil {
		return err
	}
	if err := ad.Connect(ctx); err != nil {
		m.reportError(id, err)
		return err
	}
	return nil
}

func (m *Manager) DisconnectPlatform(ctx context.Context, id string) error {
	ad, err := m.adapter(id)
	if err != nil {
		return err
	}
	return ad.Disconnect(ctx)
}

// Get exposes a registered adapter to boundary code (webhook ingress) that
// needs vendor-specific entry points. Callers must not drive lifecycle
// through it; that stays with the manager.
func (m *Manager) Get(id string) (platform.Adapter, error) {
	return m.adapter(id)
}

// PlatformStatus returns the adapter-owned status for one platform.
func (m *Manager) PlatformStatus(id string) (model.PlatformStatus, error) {
	ad, err := m.adapter(id)
	if err != nil {
		return model.PlatformStatus{}, err
	}
	return ad.Status(), nil
}

// ListPlatforms returns current status for every registered platform.
func (m *Manager) ListPlatforms() []model.PlatformStatus {
	m.mu.RLock()
	ads := make([]platform.Adapter, 0, len(m.adapters))
	for _, ad := range m.adapters {
		ads = append(ads, ad)
	}
	m.mu.RUnlock()

	out := make([]model.PlatformStatus, 0, len(ads))
	for _, ad := range ads {
		out = append(out, ad.Status())
	}
	return out
}

// FetchCurrentMetrics polls one platform's snapshot on demand.
func (m *Manager) FetchCurrentMetrics(ctx context.Context, id string) (model.PlatformMetrics, error) {
	ad, err := m.adapter(id)
	if err != nil {
		return model.PlatformMetrics{}, err
	}
	metrics, err := ad.FetchCurrentMetrics(ctx)
	if err != nil {
		m.reportError(id, err)
		return model.PlatformMetrics{}, err
	}
	return metrics, nil
}

// GetHistoricalData fans the query out in parallel to every connected adapter
// with the historicalData capability.
//
// Partial-failure isolation is the core guarantee: one platform's failure is
// reported on the error channel and excluded from the result map; it never
// aborts the other platforms' queries.
func (m *Manager) GetHistoricalData(ctx context.Context, q model.HistoricalQuery) map[string]model.HistoricalData {
	m.mu.RLock()
	targets := make([]platform.Adapter, 0, len(m.adapters))
	for _, ad := range m.adapters {
		if ad.Status().Connected && ad.HasCapability(model.CapabilityHistoricalData) {
			targets = append(targets, ad)
		}
	}
	m.mu.RUnlock()

	type result struct {
		id   string
		data model.HistoricalData
		err  error
	}
	results := make(chan result, len(targets))

	var wg sync.WaitGroup
	for _, ad := range targets {
		wg.Add(1)
		go func(ad platform.Adapter) {
			defer wg.Done()
			data, err := ad.FetchHistoricalData(ctx, q)
			results <- result{id: ad.ID(), data: data, err: err}
		}(ad)
	}
	wg.Wait()
	close(results)

	out := make(map[string]model.HistoricalData, len(targets))
	for r := range results {
		if r.err != nil {
			m.reportError(r.id, r.err)
			continue
		}
		out[r.id] = r.data
	}
	return out
}

// Close disconnects every adapter and stops the dispatch loop. The done
// channel closing signals teardown completion to in-flight emitters.
// Safe to call more than once; later calls are no-ops beyond draining any
// adapters registered since the first.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	ads := make([]platform.Adapter, 0, len(m.adapters))
	for id, ad := range m.adapters {
		ads = append(ads, ad)
		delete(m.adapters, id)
	}
	m.mu.Unlock()

	for _, ad := range ads {
		if err := ad.Disconnect(ctx); err != nil {
			m.log.Warn("adapter disconnect failed during shutdown", "platform_id", ad.ID(), "err", err)
		}
	}

	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

func (m *Manager) adapter(id string) (platform.Adapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ad, ok := m.adapters[id]
	if !ok {
		return nil, fmt.Errorf("platform %s: %w", id, platform.ErrNotFound)
	}
	return ad, nil
}

// dispatchLoop is the single fan-in consumer: it drains the shared event
// channel and invokes the consumer callbacks in arrival order.
func (m *Manager) dispatchLoop() {
	for {
		select {
		case <-m.done:
			return
		case ev := <-m.events:
			m.dispatch(ev)
		}
	}
}

func (m *Manager) dispatch(ev platform.Event) {
	if m.consumer == nil {
		return
	}
	switch ev.Kind {
	case platform.EventCall:
		if ev.Call != nil {
			call := *ev.Call
			call.PlatformID = ev.PlatformID
			if call.Transcript != "" || call.Summary != "" {
				m.consumer.OnTranscriptUpdate(call)
			}
			if call.Sentiment != "" {
				m.consumer.OnSentimentUpdate(call)
			}
			m.consumer.OnCallUpdate(call)
		}
	case platform.EventTranscript:
		if ev.Call != nil {
			call := *ev.Call
			call.PlatformID = ev.PlatformID
			m.consumer.OnTranscriptUpdate(call)
			if call.Sentiment != "" {
				m.consumer.OnSentimentUpdate(call)
			}
		}
	case platform.EventCustomerHistory:
		if ev.History != nil {
			history := *ev.History
			history.PlatformID = ev.PlatformID
			m.consumer.OnCustomerHistoryUpdate(history)
		}
	case platform.EventAgent:
		if ev.Agent != nil {
			agent := *ev.Agent
			agent.PlatformID = ev.PlatformID
			m.consumer.OnAgentUpdate(agent)
		}
	case platform.EventQueue:
		if ev.Queue != nil {
			queue := *ev.Queue
			queue.PlatformID = ev.PlatformID
			m.consumer.OnQueueUpdate(queue)
		}
	case platform.EventMetrics:
		if ev.Metrics != nil {
			m.consumer.OnMetricsUpdate(ev.PlatformID, *ev.Metrics)
		}
	case platform.EventError:
		if ev.Err != nil {
			m.reportError(ev.PlatformID, ev.Err)
		}
	default:
		m.log.Warn("dropping event of unknown kind", "kind", ev.Kind, "platform_id", ev.PlatformID)
	}
}

// reportError forwards an adapter-originated error to the single aggregate
// error callback, prefixed with the owning platform id so downstream
// consumers can attribute it without inspecting adapter internals.
func (m *Manager) reportError(platformID string, err error) {
	wrapped := fmt.Errorf("[%s] %w", platformID, err)
	m.log.Error("platform error", "platform_id", platformID, "err", err)
	if m.consumer != nil {
		m.consumer.OnError(platformID, wrapped)
	}
}
