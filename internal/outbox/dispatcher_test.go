package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/stepsync/internal/events"
)

func TestDeliverFramesAndHeadersStepEvents(t *testing.T) {
	producer := &stubProducer{}
	registry := &stubRegistry{id: 7}
	d := NewDispatcher(nil, producer, registry, 0, 10)

	payload, err := json.Marshal(events.StepsRecorded{UserID: "u1", Date: "2026-10-17", Steps: 1000, StepTarget: 10000})
	require.NoError(t, err)

	msgs := []Message{
		{EventID: 1, AggregateType: events.DayRecordAggregate, AggregateID: "users/u1/stepData/2026-10-17", EventType: events.StepsRecordedType, Topic: events.StepTopic, SchemaSubject: events.StepSubject, PartitionKey: "u1", Payload: payload},
		{EventID: 2, EventType: events.StepsRecordedType, Topic: events.StepTopic, SchemaSubject: events.StepSubject, PartitionKey: "u2", Payload: payload},
	}
	require.NoError(t, d.deliver(context.Background(), msgs))

	require.Len(t, producer.writes, 1)
	require.Equal(t, events.StepTopic, producer.writes[0].topic)
	require.Len(t, producer.writes[0].messages, 2)
	require.Len(t, registry.calls, 1, "schema id should be cached")

	first := producer.writes[0].messages[0]
	require.Equal(t, "u1", string(first.Key))
	id, body, err := events.Unframe(first.Value)
	require.NoError(t, err)
	require.Equal(t, 7, id)
	require.JSONEq(t, string(payload), string(body))

	headers := map[string]string{}
	for _, h := range first.Headers {
		headers[h.Key] = string(h.Value)
	}
	require.Equal(t, map[string]string{
		"event_type":     events.StepsRecordedType,
		"user_id":        "u1",
		"schema_subject": events.StepSubject,
		"day":            "2026-10-17",
	}, headers)

	second := producer.writes[0].messages[1]
	for _, h := range second.Headers {
		require.NotEqual(t, events.HeaderDay, h.Key, "rows without a day aggregate carry no day header")
	}
}

func TestDeliverRejectsUnknownEventType(t *testing.T) {
	producer := &stubProducer{}
	registry := &stubRegistry{id: 1}
	d := NewDispatcher(nil, producer, registry, 0, 10)

	err := d.deliver(context.Background(), []Message{{EventType: "steps.unknown", Topic: events.StepTopic}})
	require.ErrorContains(t, err, "no schema metadata for event_type=steps.unknown")
	require.Empty(t, producer.writes)
	require.Empty(t, registry.calls)
}

func TestDeliverPropagatesRegistryError(t *testing.T) {
	d := NewDispatcher(nil, &stubProducer{}, &stubRegistry{err: errors.New("registry down")}, 0, 10)

	err := d.deliver(context.Background(), []Message{{EventType: events.StepsRecordedType, Topic: events.StepTopic, SchemaSubject: events.StepSubject}})
	require.ErrorContains(t, err, "registry down")
}

func TestBackoffDelayIsCapped(t *testing.T) {
	m := NewDLQManager(nil, 0, 0)
	require.Equal(t, 5, m.maxRetries)
	require.Equal(t, m.baseDelay, m.backoffDelay(1))
	require.Equal(t, 4*m.baseDelay, m.backoffDelay(3))
	require.Equal(t, m.backoffDelay(20), m.backoffDelay(40))
}

func TestDLQOutcomesAreCountedPerEventType(t *testing.T) {
	entry := dlqEntry{EventType: events.StepsRecordedType, Topic: events.StepTopic}
	requeued := dlqOutcomes.WithLabelValues(events.StepsRecordedType, dlqRequeued)
	quarantined := dlqOutcomes.WithLabelValues(events.StepsRecordedType, dlqQuarantined)
	beforeRequeued, beforeQuarantined := testutil.ToFloat64(requeued), testutil.ToFloat64(quarantined)

	recordDLQOutcome(entry, dlqRequeued)
	recordDLQOutcome(entry, dlqRequeued)
	recordDLQOutcome(entry, dlqQuarantined)

	require.Equal(t, beforeRequeued+2, testutil.ToFloat64(requeued))
	require.Equal(t, beforeQuarantined+1, testutil.ToFloat64(quarantined))
}

type stubProducer struct {
	mu     sync.Mutex
	err    error
	writes []writtenBatch
}

type writtenBatch struct {
	topic    string
	messages []kafka.Message
}

func (s *stubProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}

	copied := make([]kafka.Message, len(msgs))
	copy(copied, msgs)
	s.writes = append(s.writes, writtenBatch{topic: topic, messages: copied})
	return nil
}

type stubRegistry struct {
	mu    sync.Mutex
	id    int
	err   error
	calls []schemaCall
}

type schemaCall struct {
	subject string
	schema  string
}

func (s *stubRegistry) EnsureSchema(ctx context.Context, subject string, schema string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, schemaCall{subject: subject, schema: schema})
	if s.err != nil {
		return 0, s.err
	}
	if s.id == 0 {
		s.id = 1
	}
	return s.id, nil
}
