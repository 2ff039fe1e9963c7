// Package consumer reads framed step events from Kafka and hands them to projections.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"example.com/stepsync/internal/events"
)

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded messages from Kafka.
type Handler interface {
	Handle(context.Context, Message) error
}

// Message is one step event read from Kafka. Steps is set for
// StepsRecorded events and nil for any other event type.
type Message struct {
	Topic         string
	Partition     int
	Offset        int64
	Timestamp     time.Time
	EventType     string
	UserID        string
	Day           string
	SchemaSubject string
	SchemaID      int
	Payload       json.RawMessage
	Steps         *events.StepsRecorded
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithHandlerRetry sets how often a failing handler is retried before the
// message is left uncommitted, and the first delay between attempts.
func WithHandlerRetry(retries int, initial time.Duration) Option {
	return func(p *Processor) {
		p.retries = retries
		p.retryInterval = initial
	}
}

// Processor pulls step events from Kafka, decodes them and hands them to a Handler.
type Processor struct {
	reader        Reader
	handler       Handler
	logger        *log.Logger
	retries       int
	retryInterval time.Duration
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:        reader,
		handler:       handler,
		logger:        log.New(log.Writer(), "[consumer] ", log.LstdFlags|log.Lshortfile),
		retries:       3,
		retryInterval: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes messages until ctx is cancelled. Undecodable messages are
// committed and counted so they cannot stall the partition; a message whose
// handler keeps failing stays uncommitted.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		record, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Printf("fetch error: %v", err)
			continue
		}

		msg, err := decodeMessage(record)
		if err != nil {
			p.logger.Printf("dropping %s/%d@%d: %v", record.Topic, record.Partition, record.Offset, err)
			recordOutcome(record.Topic, outcomeUndecodable)
			p.commit(ctx, record)
			continue
		}

		if err := p.handle(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Printf("handler gave up on %s for user %s day %s: %v", msg.EventType, msg.UserID, msg.Day, err)
			recordOutcome(msg.Topic, outcomeFailed)
			continue
		}

		if p.commit(ctx, record) {
			recordOutcome(msg.Topic, outcomeHandled)
			recordLag(msg)
		}
	}
}

func (p *Processor) handle(ctx context.Context, msg Message) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.retryInterval
	expo.MaxElapsedTime = 0
	expo.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(max(p.retries, 0))), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			handlerRetries.Inc()
		}
		return p.handler.Handle(ctx, msg)
	}, policy)
}

func (p *Processor) commit(ctx context.Context, record kafka.Message) bool {
	if err := p.reader.CommitMessages(ctx, record); err != nil {
		p.logger.Printf("commit %s/%d@%d: %v", record.Topic, record.Partition, record.Offset, err)
		return false
	}
	return true
}

func decodeMessage(record kafka.Message) (Message, error) {
	schemaID, payload, err := events.Unframe(record.Value)
	if err != nil {
		return Message{}, err
	}

	headers := make(map[string]string, len(record.Headers))
	for _, h := range record.Headers {
		headers[h.Key] = string(h.Value)
	}
	eventType, ok := headers[events.HeaderEventType]
	if !ok {
		return Message{}, errors.New("missing event_type header")
	}

	msg := Message{
		Topic:         record.Topic,
		Partition:     record.Partition,
		Offset:        record.Offset,
		Timestamp:     record.Time,
		EventType:     eventType,
		UserID:        headers[events.HeaderUserID],
		Day:           headers[events.HeaderDay],
		SchemaSubject: headers[events.HeaderSubject],
		SchemaID:      schemaID,
		Payload:       payload,
	}
	if msg.UserID == "" {
		msg.UserID = string(record.Key)
	}

	if eventType == events.StepsRecordedType {
		var steps events.StepsRecorded
		if err := json.Unmarshal(payload, &steps); err != nil {
			return Message{}, fmt.Errorf("decode %s payload: %w", eventType, err)
		}
		if msg.Day == "" {
			msg.Day = steps.Date
		}
		msg.Steps = &steps
	}
	return msg, nil
}
