package model

import "time"

// Canonical, vendor-neutral shapes every platform adapter must produce.
//
// Multi-vendor invariant: PlatformID is set exactly once (by the adapter or the
// manager fan-in) and never changes afterwards. Values handed to consumers are
// treated as immutable; adapters must not retain and mutate an emitted value.

type CallType string

const (
	CallTypeInbound  CallType = "INBOUND"
	CallTypeOutbound CallType = "OUTBOUND"
	CallTypeInternal CallType = "INTERNAL"
	CallTypeTransfer CallType = "TRANSFER"
)

type CallStatus string

const (
	CallStatusInitiated  CallStatus = "INITIATED"
	CallStatusRinging    CallStatus = "RINGING"
	CallStatusInProgress CallStatus = "IN_PROGRESS"
	CallStatusCompleted  CallStatus = "COMPLETED"
	CallStatusMissed     CallStatus = "MISSED"
	CallStatusAbandoned  CallStatus = "ABANDONED"
)

// Terminal reports whether a status may never regress to an earlier one.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusMissed, CallStatusAbandoned:
		return true
	default:
		return false
	}
}

// rank orders statuses for monotonicity checks. Terminal states share the top rank.
func (s CallStatus) rank() int {
	switch s {
	case CallStatusInitiated:
		return 0
	case CallStatusRinging:
		return 1
	case CallStatusInProgress:
		return 2
	case CallStatusCompleted, CallStatusMissed, CallStatusAbandoned:
		return 3
	default:
		return 0
	}
}

// CanTransitionTo enforces the per-call monotonic status invariant: once a call
// reaches a terminal state it stays there, and a call never moves backwards.
func (s CallStatus) CanTransitionTo(next CallStatus) bool {
	if s == next {
		return true
	}
	if s.Terminal() {
		return false
	}
	return next.rank() >= s.rank()
}

// CallData is the canonical record for one call observed on one platform.
// Transcript, Sentiment and Summary start empty; an external analysis
// collaborator populates them later.
type CallData struct {
	ID         string     `json:"id"`
	PlatformID string     `json:"platform_id"`
	Timestamp  time.Time  `json:"timestamp"`
	Type       CallType   `json:"type"`
	Status     CallStatus `json:"status"`

	// DurationSeconds and WaitTimeSeconds are absent (nil) until known.
	DurationSeconds *int `json:"duration,omitempty"`
	WaitTimeSeconds *int `json:"wait_time,omitempty"`

	AgentID    string `json:"agent_id,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
	QueueID    string `json:"queue_id,omitempty"`

	RecordingURL string `json:"recording_url,omitempty"`

	Transcript string `json:"transcript,omitempty"`
	Sentiment  string `json:"sentiment,omitempty"`
	Summary    string `json:"summary,omitempty"`

	Tags     []string          `json:"tags,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type AgentStatus string

const (
	AgentStatusOnline  AgentStatus = "ONLINE"
	AgentStatusOffline AgentStatus = "OFFLINE"
	AgentStatusBusy    AgentStatus = "BUSY"
	AgentStatusAway    AgentStatus = "AWAY"
	AgentStatusBreak   AgentStatus = "BREAK"
)

// Handling reports whether the status implies the agent is actively on a call,
// the only states in which CurrentCallID may be set.
func (s AgentStatus) Handling() bool {
	return s == AgentStatusBusy
}

// AgentState is the canonical presence/assignment record for one agent.
type AgentState struct {
	ID         string      `json:"id"`
	PlatformID string      `json:"platform_id"`
	Name       string      `json:"name"`
	Status     AgentStatus `json:"status"`

	CurrentCallID    string    `json:"current_call_id,omitempty"`
	LastStatusChange time.Time `json:"last_status_change"`

	Skills []string `json:"skills,omitempty"`

	Performance *AgentPerformance `json:"performance,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type AgentPerformance struct {
	CallsHandled            int     `json:"calls_handled"`
	AverageHandleTimeSecs   float64 `json:"average_handle_time"`
	CustomerSatisfaction    float64 `json:"customer_satisfaction,omitempty"`
	OccupancyPercent        float64 `json:"occupancy,omitempty"`
	FirstCallResolutionRate float64 `json:"first_call_resolution,omitempty"`
}

// QueueState is the canonical snapshot of one queue.
//
// AvailableAgents <= ActiveAgents <= Size is a soft expectation only; vendors
// violate it and the layer keeps the reported values, it just logs.
type QueueState struct {
	ID         string `json:"id"`
	PlatformID string `json:"platform_id"`
	Name       string `json:"name"`

	Size            int `json:"size"`
	ActiveAgents    int `json:"active_agents"`
	AvailableAgents int `json:"available_agents"`
	WaitingCalls    int `json:"waiting_calls"`

	AverageWaitTimeSeconds float64 `json:"average_wait_time"`

	// ServiceLevel is a percentage in [0,100].
	ServiceLevel float64 `json:"service_level"`

	LastUpdate time.Time `json:"last_update"`
}

// PlatformMetrics is a point-in-time aggregate for one platform, produced by
// polling or accumulated from streamed events.
type PlatformMetrics struct {
	Timestamp time.Time `json:"timestamp"`

	ActiveCalls     int `json:"active_calls"`
	TotalAgents     int `json:"total_agents"`
	AvailableAgents int `json:"available_agents"`
	TotalQueues     int `json:"total_queues"`

	AverageHandleTimeSeconds float64 `json:"average_handle_time"`
	ServiceLevel             float64 `json:"service_level"`
	AbandonRate              float64 `json:"abandon_rate"`

	CallsInLastHour int `json:"calls_in_last_hour"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// HistoricalQuery bounds a historical data request. Adapters reject ranges
// wider than their negotiated MaxHistoricalRange.
type HistoricalQuery struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	// Optional filters.
	QueueID string `json:"queue_id,omitempty"`
	AgentID string `json:"agent_id,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// Range returns the queried duration; zero or negative means the query is invalid.
func (q HistoricalQuery) Range() time.Duration { return q.To.Sub(q.From) }

// CustomerHistory is the interaction record for one customer on one platform,
// assembled from historical call data. Calls are ordered oldest first.
type CustomerHistory struct {
	CustomerID string     `json:"customer_id"`
	PlatformID string     `json:"platform_id"`
	Calls      []CallData `json:"calls"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// HistoricalData is one platform's answer to a HistoricalQuery.
type HistoricalData struct {
	PlatformID string            `json:"platform_id"`
	Query      HistoricalQuery   `json:"query"`
	Calls      []CallData        `json:"calls"`
	Metrics    []PlatformMetrics `json:"metrics,omitempty"`
}
