package model

import "time"

// PlatformType tags which vendor an adapter speaks to.
type PlatformType string

const (
	PlatformTypeGenesys PlatformType = "GENESYS"
	PlatformTypeTwilio  PlatformType = "TWILIO"
	PlatformTypeFive9   PlatformType = "FIVE9"
	PlatformTypeAvaya   PlatformType = "AVAYA"
)

// Credentials holds vendor-specific secrets.
//
// IMPORTANT: never log this struct or any field of it. Config redacts it and
// adapters read it only at construction time.
type Credentials struct {
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	AccountSID   string `json:"account_sid,omitempty"`
	AuthToken    string `json:"auth_token,omitempty"`
	Region       string `json:"region,omitempty"`
	APIBaseURL   string `json:"api_base_url,omitempty"`
	SocketURL    string `json:"socket_url,omitempty"`
}

// PlatformConfig is the registration record for one platform connection.
// It is immutable for the adapter's lifetime; changing credentials requires
// remove + re-add.
type PlatformConfig struct {
	ID   string       `json:"id"`
	Name string       `json:"name"`
	Type PlatformType `json:"type"`

	Credentials Credentials `json:"-"`

	WebhookURL      string        `json:"webhook_url,omitempty"`
	PollingInterval time.Duration `json:"polling_interval,omitempty"`
	Enabled         bool          `json:"enabled"`
}

// PlatformCapabilities is the feature set negotiated during Initialize.
// Callers query it (via the adapter's HasCapability) before invoking optional
// operations instead of failing at call time.
type PlatformCapabilities struct {
	Realtime          bool `json:"realtime"`
	HistoricalData    bool `json:"historical_data"`
	AgentPresence     bool `json:"agent_presence"`
	QueueStats        bool `json:"queue_stats"`
	CallRecording     bool `json:"call_recording"`
	LiveTranscription bool `json:"live_transcription"`

	// MaxHistoricalRange bounds FetchHistoricalData queries; zero means the
	// vendor exposes no history at all.
	MaxHistoricalRange time.Duration `json:"max_historical_range,omitempty"`

	// MaxConcurrentQueries limits parallel REST queries, vendor-reported.
	MaxConcurrentQueries int `json:"max_concurrent_queries,omitempty"`
}

// Capability names usable with Adapter.HasCapability.
const (
	CapabilityRealtime          = "realtime"
	CapabilityHistoricalData    = "historicalData"
	CapabilityAgentPresence     = "agentPresence"
	CapabilityQueueStats        = "queueStats"
	CapabilityCallRecording     = "callRecording"
	CapabilityLiveTranscription = "liveTranscription"
)

// Has resolves a capability name against the flag set. Unknown names are false.
func (c PlatformCapabilities) Has(name string) bool {
	switch name {
	case CapabilityRealtime:
		return c.Realtime
	case CapabilityHistoricalData:
		return c.HistoricalData
	case CapabilityAgentPresence:
		return c.AgentPresence
	case CapabilityQueueStats:
		return c.QueueStats
	case CapabilityCallRecording:
		return c.CallRecording
	case CapabilityLiveTranscription:
		return c.LiveTranscription
	default:
		return false
	}
}

// PlatformStatus is the externally visible health record for one platform.
// Only the owning adapter mutates it; the manager and HTTP callers read copies.
type PlatformStatus struct {
	PlatformID string    `json:"platform_id"`
	Connected  bool      `json:"connected"`
	LastSync   time.Time `json:"last_sync"`

	// Error holds the most recent failure, empty while healthy.
	Error string `json:"error,omitempty"`

	Capabilities PlatformCapabilities `json:"capabilities"`

	CurrentMetrics *PlatformMetrics `json:"current_metrics,omitempty"`
}
