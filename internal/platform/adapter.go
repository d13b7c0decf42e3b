package platform

import (
	"context"

	"ccbridge/internal/model"
)

// Adapter is the vendor-agnostic contract every platform integration implements.
//
// Rules:
// - No vendor SDK/API calls outside adapter packages.
// - Adapters translate vendor wire formats into canonical model types; nothing
//   vendor-shaped escapes upward.
// - Event emission is one-directional (adapter -> Emitter); consumers never
//   poll an adapter for events. Push vendors and poll vendors look identical
//   from above.
//
// Lifecycle: UNINITIALIZED -> INITIALIZED -> CONNECTED -> DISCONNECTED, with
// transport-level reconnects happening inside CONNECTED ownership. Initialize
// must complete before Connect; Disconnect is safe from any state.
type Adapter interface {
	// ID returns the registry key, i.e. PlatformConfig.ID.
	ID() string
	Type() model.PlatformType

	// Initialize performs one-time setup: credential exchange and capability
	// discovery. Fails with *ConfigurationError when required credentials are
	// absent.
	Initialize(ctx context.Context) error

	// Connect establishes the live transport (socket subscribe and/or polling
	// ticker). Fails with *LifecycleError unless Initialize has completed.
	Connect(ctx context.Context) error

	// Disconnect stops polling, closes the transport and releases timers.
	// Calling it repeatedly or before Connect is a no-op.
	Disconnect(ctx context.Context) error

	// FetchCurrentMetrics pulls a point-in-time snapshot and records it in the
	// adapter's status. Fails with *TransportError on network failure.
	FetchCurrentMetrics(ctx context.Context) (model.PlatformMetrics, error)

	// FetchHistoricalData runs a bounded-range query. Ranges exceeding the
	// negotiated MaxHistoricalRange fail with *ValidationError.
	FetchHistoricalData(ctx context.Context, q model.HistoricalQuery) (model.HistoricalData, error)

	// HasCapability lets callers avoid invoking unsupported operations.
	HasCapability(name string) bool

	// Status returns a copy of the adapter-owned status record.
	Status() model.PlatformStatus
}

// Factory constructs an adapter for one registered platform. The Emitter is
// wired by the manager before Initialize is called.
type Factory func(cfg model.PlatformConfig, emit Emitter) (Adapter, error)

// State is the adapter lifecycle state.
type State string

const (
	StateUninitialized State = "UNINITIALIZED"
	StateInitialized   State = "INITIALIZED"
	StateConnected     State = "CONNECTED"
	StateDisconnected  State = "DISCONNECTED"
)
