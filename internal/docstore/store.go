// Package docstore models the keyed document store the tracker persists into.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrAlreadyExists is returned by Create when the document is present.
	ErrAlreadyExists = errors.New("document already exists")
	// ErrInvalidPath is returned for malformed document paths.
	ErrInvalidPath = errors.New("invalid document path")
)

// Store is keyed document access with merge upserts and ordered queries.
type Store interface {
	// Get returns nil, nil when the document does not exist.
	Get(ctx context.Context, path Path) (*Document, error)
	// Upsert creates the document or merges fields into it, leaving other fields untouched.
	Upsert(ctx context.Context, path Path, fields Fields) error
	// Create writes a new document and fails with ErrAlreadyExists if it is present.
	Create(ctx context.Context, path Path, fields Fields) error
	// Query lists documents of a collection group ordered by a numeric field.
	Query(ctx context.Context, q Query) ([]Document, error)
}

// Path addresses a document as alternating collection and id segments,
// e.g. users/u1/stepData/2026-10-17.
type Path string

// NewPath joins collection/id pairs into a Path.
func NewPath(parts ...string) (Path, error) {
	if len(parts) == 0 || len(parts)%2 != 0 {
		return "", fmt.Errorf("%w: expected collection/id pairs, got %d parts", ErrInvalidPath, len(parts))
	}
	for _, part := range parts {
		if strings.TrimSpace(part) == "" || strings.Contains(part, "/") {
			return "", fmt.Errorf("%w: bad segment %q", ErrInvalidPath, part)
		}
	}
	return Path(strings.Join(parts, "/")), nil
}

// Collection returns the collection segment that holds the document.
func (p Path) Collection() string {
	parts := strings.Split(string(p), "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}

// ID returns the final document id segment.
func (p Path) ID() string {
	parts := strings.Split(string(p), "/")
	return parts[len(parts)-1]
}

// Segment returns the i-th segment, or "" when out of range.
func (p Path) Segment(i int) string {
	parts := strings.Split(string(p), "/")
	if i < 0 || i >= len(parts) {
		return ""
	}
	return parts[i]
}

// Fields is a partial or complete document body.
type Fields map[string]any

// Document is a stored body plus its address.
type Document struct {
	Path      Path
	Fields    Fields
	UpdatedAt time.Time
}

// Int reads a numeric field as int64.
func (d Document) Int(field string) (int64, bool) {
	f, ok := numeric(d.Fields[field])
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// Float reads a numeric field as float64.
func (d Document) Float(field string) (float64, bool) {
	return numeric(d.Fields[field])
}

// String reads a string field.
func (d Document) String(field string) (string, bool) {
	s, ok := d.Fields[field].(string)
	return s, ok
}

// Bool reads a boolean field.
func (d Document) Bool(field string) (bool, bool) {
	b, ok := d.Fields[field].(bool)
	return b, ok
}

func numeric(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Direction orders query results.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// Query selects documents from a collection group.
type Query struct {
	Collection string
	OrderBy    string
	Direction  Direction
	Limit      int
	StartAfter *Cursor
}
