// Package leaderboard ranks users by the steps of their most recent day.
package leaderboard

import (
	"context"
	"errors"
	"fmt"

	"example.com/stepsync/internal/docstore"
)

// Document fields of leaderboard/{uid}.
const (
	Collection      = "leaderboard"
	FieldName       = "name"
	FieldDailySteps = "dailySteps"
	FieldDate       = "date"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// ErrInvalidCursor is returned for page tokens that do not decode.
var ErrInvalidCursor = errors.New("invalid leaderboard cursor")

// Path is the leaderboard document of a user.
func Path(userID string) (docstore.Path, error) {
	return docstore.NewPath(Collection, userID)
}

// Entry is one ranked row.
type Entry struct {
	Rank          int    `json:"rank"`
	UserID        string `json:"user_id"`
	Name          string `json:"name"`
	DailySteps    int64  `json:"daily_steps"`
	Date          string `json:"date,omitempty"`
	IsCurrentUser bool   `json:"is_current_user"`
}

// Page is a slice of the ranking plus the token for the next slice.
type Page struct {
	Entries    []Entry `json:"entries"`
	NextCursor string  `json:"next_cursor,omitempty"`
}

// Service reads the ranking.
type Service struct {
	store docstore.Store
}

// NewService constructs a Service.
func NewService(store docstore.Store) *Service {
	return &Service{store: store}
}

// List returns entries ordered by dailySteps descending. Ties keep a stable
// order by user id. currentUserID marks the caller's own row.
func (s *Service) List(ctx context.Context, currentUserID string, limit int, cursor string) (Page, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	after, err := docstore.DecodeCursor(cursor)
	if err != nil {
		return Page{}, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}
	offset := 0
	if after != nil {
		offset = after.Offset
	}

	docs, err := s.store.Query(ctx, docstore.Query{
		Collection: Collection,
		OrderBy:    FieldDailySteps,
		Direction:  docstore.Descending,
		Limit:      limit,
		StartAfter: after,
	})
	if err != nil {
		return Page{}, err
	}

	page := Page{Entries: make([]Entry, 0, len(docs))}
	for i, doc := range docs {
		entry := Entry{Rank: offset + i + 1, UserID: doc.Path.ID()}
		entry.Name, _ = doc.String(FieldName)
		entry.DailySteps, _ = doc.Int(FieldDailySteps)
		entry.Date, _ = doc.String(FieldDate)
		entry.IsCurrentUser = entry.UserID == currentUserID
		page.Entries = append(page.Entries, entry)
	}

	if len(docs) == limit {
		last := docs[len(docs)-1]
		value, _ := last.Float(FieldDailySteps)
		page.NextCursor = docstore.EncodeCursor(&docstore.Cursor{Offset: offset + len(docs), Value: value, Path: last.Path})
	}
	return page, nil
}
