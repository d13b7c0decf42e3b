package consumers

import (
	"errors"
	"testing"

	"ccbridge/internal/model"
)

type countingConsumer struct {
	calls, agents, queues, metrics, transcripts, sentiments, histories, errs int
}

func (c *countingConsumer) OnCallUpdate(model.CallData)                   { c.calls++ }
func (c *countingConsumer) OnAgentUpdate(model.AgentState)                { c.agents++ }
func (c *countingConsumer) OnQueueUpdate(model.QueueState)                { c.queues++ }
func (c *countingConsumer) OnMetricsUpdate(string, model.PlatformMetrics) { c.metrics++ }
func (c *countingConsumer) OnTranscriptUpdate(model.CallData)             { c.transcripts++ }
func (c *countingConsumer) OnSentimentUpdate(model.CallData)                  { c.sentiments++ }
func (c *countingConsumer) OnCustomerHistoryUpdate(model.CustomerHistory)     { c.histories++ }
func (c *countingConsumer) OnError(string, error)                             { c.errs++ }

func TestMultiFansOutToEveryConsumer(t *testing.T) {
	a := &countingConsumer{}
	b := &countingConsumer{}
	m := Multi{a, b}

	m.OnCallUpdate(model.CallData{ID: "c1"})
	m.OnAgentUpdate(model.AgentState{ID: "a1"})
	m.OnQueueUpdate(model.QueueState{ID: "q1"})
	m.OnMetricsUpdate("p1", model.PlatformMetrics{})
	m.OnTranscriptUpdate(model.CallData{ID: "c1"})
	m.OnSentimentUpdate(model.CallData{ID: "c1", Sentiment: "positive"})
	m.OnCustomerHistoryUpdate(model.CustomerHistory{CustomerID: "cust-1"})
	m.OnError("p1", errors.New("boom"))

	for _, c := range []*countingConsumer{a, b} {
		if c.calls != 1 || c.agents != 1 || c.queues != 1 || c.metrics != 1 ||
			c.transcripts != 1 || c.sentiments != 1 || c.histories != 1 || c.errs != 1 {
			t.Fatalf("every consumer must see every event: %+v", c)
		}
	}
}

func TestRedisPublisherNilClientIsInert(t *testing.T) {
	p := NewRedisPublisher(nil, nil)
	// Must not panic without a broker.
	p.OnCallUpdate(model.CallData{ID: "c1"})
	p.OnError("p1", errors.New("boom"))
}
