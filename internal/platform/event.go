package platform

import "ccbridge/internal/model"

// EventKind discriminates the canonical event union.
type EventKind string

const (
	EventCall            EventKind = "call"
	EventAgent           EventKind = "agent"
	EventQueue           EventKind = "queue"
	EventMetrics         EventKind = "metrics"
	EventTranscript      EventKind = "transcript"
	EventCustomerHistory EventKind = "customer_history"
	EventError           EventKind = "error"
)

// Event is one canonical event produced by an adapter. Exactly one payload
// field matching Kind is set. Values are immutable once emitted.
//
// PlatformID is stamped by the emitting adapter; the manager re-tags it
// defensively before fan-in so consumers can always attribute an event.
type Event struct {
	PlatformID string
	Kind       EventKind

	Call    *model.CallData
	Agent   *model.AgentState
	Queue   *model.QueueState
	Metrics *model.PlatformMetrics
	History *model.CustomerHistory

	// EventTranscript carries its payload on Call (Transcript/Sentiment/Summary
	// fields populated); on EventCall the same fields ride along opportunistically.

	// Err carries asynchronous failures (socket errors, poll failures) that
	// have no caller to return to.
	Err error
}

// Emitter receives events from one adapter. Implementations must be safe for
// concurrent use: socket read loops and poll tickers emit from their own
// goroutines.
type Emitter interface {
	Emit(ev Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ev Event)

func (f EmitterFunc) Emit(ev Event) { f(ev) }
