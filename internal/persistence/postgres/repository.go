// Package postgres implements docstore.Store on a JSONB documents table and
// records step events in the transactional outbox.
package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/stepsync/internal/docstore"
	"example.com/stepsync/internal/events"
	"example.com/stepsync/internal/observability"
)

// Store provides Postgres-backed documents and outbox events.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Get returns the document at path, or nil when it does not exist.
func (s *Store) Get(ctx context.Context, path docstore.Path) (*docstore.Document, error) {
	const query = `SELECT body, updated_at FROM documents WHERE doc_path=$1`

	var (
		body      []byte
		updatedAt time.Time
	)
	if err := s.pool.QueryRow(ctx, query, string(path)).Scan(&body, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	fields, err := decodeFields(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &docstore.Document{Path: path, Fields: fields, UpdatedAt: updatedAt}, nil
}

// Upsert merges fields into the document and, for day records, records a
// StepsRecorded event inside the same transaction.
func (s *Store) Upsert(ctx context.Context, path docstore.Path, fields docstore.Fields) (err error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	var prior []byte
	err = tx.QueryRow(ctx, `SELECT body FROM documents WHERE doc_path=$1 FOR UPDATE`, string(path)).Scan(&prior)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		prior, err = nil, nil
	case err != nil:
		return err
	}

	const upsert = `INSERT INTO documents (doc_path, collection, body, updated_at)
        VALUES ($1,$2,$3,NOW())
        ON CONFLICT (doc_path) DO UPDATE SET body = documents.body || EXCLUDED.body, updated_at = NOW(),
            revision = documents.revision + 1
        RETURNING body, revision`

	var (
		merged   []byte
		revision int64
	)
	if err = tx.QueryRow(ctx, upsert, string(path), path.Collection(), body).Scan(&merged, &revision); err != nil {
		return err
	}

	if path.Collection() == "stepData" {
		if err = s.insertStepEvent(ctx, tx, path, prior, merged, revision); err != nil {
			return err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordStepsPersisted(s.now())
	return nil
}

// Create writes the document only when nothing exists at path.
func (s *Store) Create(ctx context.Context, path docstore.Path, fields docstore.Fields) error {
	body, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	const insert = `INSERT INTO documents (doc_path, collection, body) VALUES ($1,$2,$3)
        ON CONFLICT (doc_path) DO NOTHING`

	tag, err := s.pool.Exec(ctx, insert, string(path), path.Collection(), body)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", docstore.ErrAlreadyExists, path)
	}
	return nil
}

// Query lists a collection group ordered by a numeric field, using keyset
// pagination on (value, path).
func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if q.Collection == "" || q.OrderBy == "" {
		return nil, fmt.Errorf("query needs a collection and an order field")
	}

	cmp, order := "<", "DESC"
	if q.Direction == docstore.Ascending {
		cmp, order = ">", "ASC"
	}

	args := []interface{}{q.Collection, q.OrderBy}
	query := `SELECT doc_path, body, updated_at FROM documents WHERE collection=$1`
	if q.StartAfter != nil {
		query += fmt.Sprintf(` AND (COALESCE((body->>$2)::numeric, 0) %s $3
            OR (COALESCE((body->>$2)::numeric, 0) = $3 AND doc_path > $4))`, cmp)
		args = append(args, q.StartAfter.Value, string(q.StartAfter.Path))
	}
	query += fmt.Sprintf(` ORDER BY COALESCE((body->>$2)::numeric, 0) %s, doc_path ASC`, order)
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]docstore.Document, 0, q.Limit)
	for rows.Next() {
		var (
			path      string
			body      []byte
			updatedAt time.Time
		)
		if err := rows.Scan(&path, &body, &updatedAt); err != nil {
			return nil, err
		}
		fields, err := decodeFields(body)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		results = append(results, docstore.Document{Path: docstore.Path(path), Fields: fields, UpdatedAt: updatedAt})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// insertStepEvent queues a StepsRecorded event when the merge changed the
// day's steps, target or derived values. The document revision keys the event,
// so a value that returns to an earlier state is still published.
func (s *Store) insertStepEvent(ctx context.Context, tx pgx.Tx, path docstore.Path, prior, merged []byte, revision int64) error {
	event, changed, err := s.stepChange(path, prior, merged)
	if err != nil || !changed {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	meta := eventCatalog[events.StepsRecordedType]
	dedupeKey := fmt.Sprintf("%s:%d", path, revision)

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = tx.Exec(ctx, stmt,
		events.DayRecordAggregate,
		string(path),
		events.StepsRecordedType,
		meta.Topic,
		meta.SchemaSubject,
		meta.PartitionKeyFn(event),
		payload,
		dedupeKey,
	)
	return err
}

// stepChange builds the event for merged and reports whether its step values
// differ from prior. A missing prior always counts as a change.
func (s *Store) stepChange(path docstore.Path, prior, merged []byte) (events.StepsRecorded, bool, error) {
	event, err := s.stepEvent(path, merged)
	if err != nil {
		return events.StepsRecorded{}, false, err
	}
	if prior == nil {
		return event, true, nil
	}
	before, err := s.stepEvent(path, prior)
	if err != nil {
		return event, true, nil
	}
	return event, !sameStepValues(before, event), nil
}

func (s *Store) stepEvent(path docstore.Path, body []byte) (events.StepsRecorded, error) {
	fields, err := decodeFields(body)
	if err != nil {
		return events.StepsRecorded{}, err
	}
	doc := docstore.Document{Path: path, Fields: fields}

	event := events.StepsRecorded{
		UserID:     path.Segment(1),
		Date:       path.ID(),
		RecordedAt: s.now().UTC(),
	}
	event.Steps, _ = doc.Int("steps")
	event.DistanceMeters, _ = doc.Float("distance")
	event.CaloriesKcal, _ = doc.Float("calories")
	if target, ok := doc.Int("stepTarget"); ok {
		event.StepTarget = int(target)
	}
	return event, nil
}

func sameStepValues(a, b events.StepsRecorded) bool {
	return a.Steps == b.Steps &&
		a.StepTarget == b.StepTarget &&
		a.DistanceMeters == b.DistanceMeters &&
		a.CaloriesKcal == b.CaloriesKcal
}

func decodeFields(body []byte) (docstore.Fields, error) {
	fields := docstore.Fields{}
	if len(strings.TrimSpace(string(body))) == 0 {
		return fields, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic          string
	SchemaSubject  string
	PartitionKeyFn func(events.StepsRecorded) string
}

var eventCatalog = map[string]EventMetadata{
	events.StepsRecordedType: {
		Topic:         events.StepTopic,
		SchemaSubject: events.StepSubject,
		PartitionKeyFn: func(e events.StepsRecorded) string {
			return e.UserID
		},
	},
}
