package consumers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"ccbridge/internal/model"
)

// RedisPublisher bridges the canonical event stream to Redis pub/sub so
// downstream consumers (dashboard store, analytics aggregation) subscribe to
// vendor-neutral JSON without importing this process.
//
// Channel layout:
// ccbridge:events:{calls|agents|queues|metrics|transcripts|sentiments|customers|errors}.
// Publishing is fire-and-forget: a broker hiccup is logged, never propagated
// back into the fan-in path.

const (
	channelCalls       = "ccbridge:events:calls"
	channelAgents      = "ccbridge:events:agents"
	channelQueues      = "ccbridge:events:queues"
	channelMetrics     = "ccbridge:events:metrics"
	channelTranscripts = "ccbridge:events:transcripts"
	channelSentiments  = "ccbridge:events:sentiments"
	channelCustomers   = "ccbridge:events:customers"
	channelErrors      = "ccbridge:events:errors"
)

const publishTimeout = 2 * time.Second

type RedisPublisher struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewRedisPublisher(rdb *redis.Client, log *slog.Logger) *RedisPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &RedisPublisher{rdb: rdb, log: log}
}

func (p *RedisPublisher) OnCallUpdate(call model.CallData) {
	p.publish(channelCalls, call)
}

func (p *RedisPublisher) OnAgentUpdate(agent model.AgentState) {
	p.publish(channelAgents, agent)
}

func (p *RedisPublisher) OnQueueUpdate(queue model.QueueState) {
	p.publish(channelQueues, queue)
}

func (p *RedisPublisher) OnMetricsUpdate(platformID string, metrics model.PlatformMetrics) {
	p.publish(channelMetrics, struct {
		PlatformID string                `json:"platform_id"`
		Metrics    model.PlatformMetrics `json:"metrics"`
	}{PlatformID: platformID, Metrics: metrics})
}

func (p *RedisPublisher) OnTranscriptUpdate(call model.CallData) {
	p.publish(channelTranscripts, call)
}

func (p *RedisPublisher) OnSentimentUpdate(call model.CallData) {
	p.publish(channelSentiments, struct {
		CallID     string `json:"call_id"`
		PlatformID string `json:"platform_id"`
		Sentiment  string `json:"sentiment"`
	}{CallID: call.ID, PlatformID: call.PlatformID, Sentiment: call.Sentiment})
}

func (p *RedisPublisher) OnCustomerHistoryUpdate(history model.CustomerHistory) {
	p.publish(channelCustomers, history)
}

func (p *RedisPublisher) OnError(platformID string, err error) {
	// The id gives subscribers a dedup key; errors have no vendor-assigned one.
	p.publish(channelErrors, struct {
		ID         string `json:"id"`
		PlatformID string `json:"platform_id"`
		Error      string `json:"error"`
		At         string `json:"at"`
	}{ID: uuid.NewString(), PlatformID: platformID, Error: err.Error(), At: time.Now().UTC().Format(time.RFC3339)})
}

func (p *RedisPublisher) publish(channel string, v any) {
	if p.rdb == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		p.log.Warn("consumer: marshal failed", "channel", channel, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		p.log.Warn("consumer: publish failed", "channel", channel, "err", err)
	}
}
