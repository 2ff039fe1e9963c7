package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/stepsync/internal/docstore"
	"example.com/stepsync/internal/events"
)

// ErrUnknownTopic is returned when a batch targets a topic the producer was
// not built for.
var ErrUnknownTopic = errors.New("no writer for topic")

// StepProducer publishes framed step events. Writers are fixed at
// construction and hash on the message key, so every event for one user
// lands on the same partition in outbox order.
type StepProducer struct {
	writers map[string]*kafka.Writer
}

// NewStepProducer creates one writer per topic, defaulting to the step topic.
func NewStepProducer(brokers []string, topics ...string) *StepProducer {
	if len(topics) == 0 {
		topics = []string{events.StepTopic}
	}
	p := &StepProducer{writers: make(map[string]*kafka.Writer, len(topics))}
	for _, topic := range topics {
		p.writers[topic] = &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Compression:  kafka.Snappy,
			BatchTimeout: 50 * time.Millisecond,
		}
	}
	return p
}

// WriteMessages publishes msgs to topic and waits for every replica to ack.
func (p *StepProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	writer, ok := p.writers[topic]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownTopic, topic)
	}
	return writer.WriteMessages(ctx, msgs...)
}

// Close flushes and closes every writer.
func (p *StepProducer) Close() error {
	var errs []error
	for topic, writer := range p.writers {
		if err := writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s writer: %w", topic, err))
		}
	}
	return errors.Join(errs...)
}

// stepRecord turns an outbox row into a Kafka record keyed by user id. Day
// records also carry their day as a header so consumers can route without
// decoding the payload.
func stepRecord(msg Message, schemaID int, at time.Time) kafka.Message {
	headers := []kafka.Header{
		{Key: events.HeaderEventType, Value: []byte(msg.EventType)},
		{Key: events.HeaderUserID, Value: []byte(msg.PartitionKey)},
		{Key: events.HeaderSubject, Value: []byte(msg.SchemaSubject)},
	}
	if msg.AggregateType == events.DayRecordAggregate {
		if day := docstore.Path(msg.AggregateID).ID(); day != "" {
			headers = append(headers, kafka.Header{Key: events.HeaderDay, Value: []byte(day)})
		}
	}
	return kafka.Message{
		Key:     []byte(msg.PartitionKey),
		Value:   events.Frame(schemaID, msg.Payload),
		Time:    at.UTC(),
		Headers: headers,
	}
}
