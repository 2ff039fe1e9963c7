package outbox

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/stepsync/internal/events"
)

func TestStepProducerRejectsUnknownTopics(t *testing.T) {
	producer := NewStepProducer([]string{"127.0.0.1:9092"})
	require.Contains(t, producer.writers, events.StepTopic)

	err := producer.WriteMessages(context.Background(), "profile_events", kafka.Message{Value: []byte("x")})
	require.ErrorIs(t, err, ErrUnknownTopic)
	require.NoError(t, producer.Close())
}

func TestStepProducerHashesOnUserKey(t *testing.T) {
	producer := NewStepProducer([]string{"127.0.0.1:9092"}, events.StepTopic, "step_events_replay")
	defer producer.Close()

	require.Len(t, producer.writers, 2)
	for _, w := range producer.writers {
		require.IsType(t, &kafka.Hash{}, w.Balancer)
		require.Equal(t, kafka.RequireAll, w.RequiredAcks)
	}
}
