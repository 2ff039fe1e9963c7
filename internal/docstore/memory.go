package docstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps documents in memory for tests and local development.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[Path]Document
	now  func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[Path]Document),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, path Path) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[path]
	if !ok {
		return nil, nil
	}
	out := cloneDocument(doc)
	return &out, nil
}

// Upsert implements Store.
func (s *MemoryStore) Upsert(ctx context.Context, path Path, fields Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[path]
	if !ok {
		doc = Document{Path: path, Fields: make(Fields, len(fields))}
	}
	for k, v := range fields {
		doc.Fields[k] = v
	}
	doc.UpdatedAt = s.now()
	s.docs[path] = doc
	return nil
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, path Path, fields Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[path]; ok {
		return ErrAlreadyExists
	}
	doc := Document{Path: path, Fields: make(Fields, len(fields)), UpdatedAt: s.now()}
	for k, v := range fields {
		doc.Fields[k] = v
	}
	s.docs[path] = doc
	return nil
}

// Query implements Store. Documents without a numeric OrderBy field sort as zero.
func (s *MemoryStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	matches := make([]Document, 0)
	for path, doc := range s.docs {
		if path.Collection() == q.Collection {
			matches = append(matches, cloneDocument(doc))
		}
	}
	s.mu.RUnlock()

	value := func(d Document) float64 {
		f, _ := d.Float(q.OrderBy)
		return f
	}
	less := func(a, b Document) bool {
		va, vb := value(a), value(b)
		if va != vb {
			if q.Direction == Descending {
				return va > vb
			}
			return va < vb
		}
		return a.Path < b.Path
	}
	sort.Slice(matches, func(i, j int) bool { return less(matches[i], matches[j]) })

	if q.StartAfter != nil {
		marker := Document{Path: q.StartAfter.Path, Fields: Fields{q.OrderBy: q.StartAfter.Value}}
		idx := sort.Search(len(matches), func(i int) bool { return less(marker, matches[i]) })
		matches = matches[idx:]
	}
	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	return matches, nil
}

func cloneDocument(doc Document) Document {
	fields := make(Fields, len(doc.Fields))
	for k, v := range doc.Fields {
		fields[k] = v
	}
	return Document{Path: doc.Path, Fields: fields, UpdatedAt: doc.UpdatedAt}
}
