package consumers

import (
	"log/slog"

	"ccbridge/internal/manager"
	"ccbridge/internal/model"
)

// Multi fans one canonical stream out to several consumers in order.
type Multi []manager.Consumer

func (m Multi) OnCallUpdate(call model.CallData) {
	for _, c := range m {
		c.OnCallUpdate(call)
	}
}

func (m Multi) OnAgentUpdate(agent model.AgentState) {
	for _, c := range m {
		c.OnAgentUpdate(agent)
	}
}

func (m Multi) OnQueueUpdate(queue model.QueueState) {
	for _, c := range m {
		c.OnQueueUpdate(queue)
	}
}

func (m Multi) OnMetricsUpdate(platformID string, metrics model.PlatformMetrics) {
	for _, c := range m {
		c.OnMetricsUpdate(platformID, metrics)
	}
}

func (m Multi) OnTranscriptUpdate(call model.CallData) {
	for _, c := range m {
		c.OnTranscriptUpdate(call)
	}
}

func (m Multi) OnSentimentUpdate(call model.CallData) {
	for _, c := range m {
		c.OnSentimentUpdate(call)
	}
}

func (m Multi) OnCustomerHistoryUpdate(history model.CustomerHistory) {
	for _, c := range m {
		c.OnCustomerHistoryUpdate(history)
	}
}

func (m Multi) OnError(platformID string, err error) {
	for _, c := range m {
		c.OnError(platformID, err)
	}
}

// Log writes every canonical event to the structured log. Useful locally and
// as a liveness signal in any environment.
type Log struct {
	L *slog.Logger
}

func (l Log) logger() *slog.Logger {
	if l.L != nil {
		return l.L
	}
	return slog.Default()
}

func (l Log) OnCallUpdate(call model.CallData) {
	l.logger().Debug("call update", "platform_id", call.PlatformID, "call_id", call.ID, "status", call.Status)
}

func (l Log) OnAgentUpdate(agent model.AgentState) {
	l.logger().Debug("agent update", "platform_id", agent.PlatformID, "agent_id", agent.ID, "status", agent.Status)
}

func (l Log) OnQueueUpdate(queue model.QueueState) {
	l.logger().Debug("queue update", "platform_id", queue.PlatformID, "queue_id", queue.ID, "waiting", queue.WaitingCalls)
}

func (l Log) OnMetricsUpdate(platformID string, metrics model.PlatformMetrics) {
	l.logger().Debug("metrics update", "platform_id", platformID, "active_calls", metrics.ActiveCalls)
}

func (l Log) OnTranscriptUpdate(call model.CallData) {
	l.logger().Debug("transcript update", "platform_id", call.PlatformID, "call_id", call.ID)
}

func (l Log) OnSentimentUpdate(call model.CallData) {
	l.logger().Debug("sentiment update", "platform_id", call.PlatformID, "call_id", call.ID, "sentiment", call.Sentiment)
}

func (l Log) OnCustomerHistoryUpdate(history model.CustomerHistory) {
	l.logger().Debug("customer history update", "platform_id", history.PlatformID, "customer_id", history.CustomerID, "calls", len(history.Calls))
}

func (l Log) OnError(platformID string, err error) {
	l.logger().Warn("platform error", "platform_id", platformID, "err", err)
}
