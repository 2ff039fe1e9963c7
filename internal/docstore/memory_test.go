package docstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpsertMergesFields(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	path, err := NewPath("users", "u1", "stepData", "2026-10-17")
	require.NoError(t, err)

	require.NoError(t, store.Upsert(ctx, path, Fields{"steps": 10, "stepTarget": 8000}))
	require.NoError(t, store.Upsert(ctx, path, Fields{"steps": 25}))

	doc, err := store.Get(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, doc)
	steps, _ := doc.Int("steps")
	target, _ := doc.Int("stepTarget")
	require.Equal(t, int64(25), steps)
	require.Equal(t, int64(8000), target)
}

func TestUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	once, twice := NewMemoryStore(), NewMemoryStore()
	path, _ := NewPath("users", "u1", "stepData", "2026-10-17")
	fields := Fields{"steps": 42, "distance": 32.76, "date": "2026-10-17"}

	require.NoError(t, once.Upsert(ctx, path, fields))
	require.NoError(t, twice.Upsert(ctx, path, fields))
	require.NoError(t, twice.Upsert(ctx, path, fields))

	a, _ := once.Get(ctx, path)
	b, _ := twice.Get(ctx, path)
	require.Equal(t, a.Fields, b.Fields)
}

func TestGetMissingReturnsNil(t *testing.T) {
	doc, err := NewMemoryStore().Get(context.Background(), Path("users/none"))
	require.NoError(t, err)
	require.Nil(t, doc)
}

func TestCreateRejectsExisting(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	path, _ := NewPath("accounts", "a@example.com")
	require.NoError(t, store.Create(ctx, path, Fields{"uid": "1"}))
	require.ErrorIs(t, store.Create(ctx, path, Fields{"uid": "2"}), ErrAlreadyExists)

	doc, _ := store.Get(ctx, path)
	uid, _ := doc.String("uid")
	require.Equal(t, "1", uid)
}

func TestQueryOrdersCollectionGroupAndPaginates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for id, steps := range map[string]int{"a": 50, "b": 500, "c": 200, "d": 200} {
		path, _ := NewPath("leaderboard", id)
		require.NoError(t, store.Upsert(ctx, path, Fields{"dailySteps": steps}))
	}
	other, _ := NewPath("users", "a", "stepData", "2026-10-17")
	require.NoError(t, store.Upsert(ctx, other, Fields{"dailySteps": 9999}))

	all, err := store.Query(ctx, Query{Collection: "leaderboard", OrderBy: "dailySteps", Direction: Descending})
	require.NoError(t, err)
	require.Equal(t, []Path{"leaderboard/b", "leaderboard/c", "leaderboard/d", "leaderboard/a"}, paths(all))

	page, err := store.Query(ctx, Query{Collection: "leaderboard", OrderBy: "dailySteps", Direction: Descending, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)

	last, _ := page[1].Float("dailySteps")
	rest, err := store.Query(ctx, Query{
		Collection: "leaderboard",
		OrderBy:    "dailySteps",
		Direction:  Descending,
		StartAfter: &Cursor{Offset: 2, Value: last, Path: page[1].Path},
	})
	require.NoError(t, err)
	require.Equal(t, []Path{"leaderboard/d", "leaderboard/a"}, paths(rest))

	asc, err := store.Query(ctx, Query{Collection: "leaderboard", OrderBy: "dailySteps", Direction: Ascending, Limit: 1})
	require.NoError(t, err)
	require.Equal(t, []Path{"leaderboard/a"}, paths(asc))
}

func TestNewPathValidation(t *testing.T) {
	_, err := NewPath("users")
	require.ErrorIs(t, err, ErrInvalidPath)
	_, err = NewPath("users", "a/b")
	require.ErrorIs(t, err, ErrInvalidPath)

	p, err := NewPath("users", "u1", "stepData", "2026-10-17")
	require.NoError(t, err)
	require.Equal(t, "stepData", p.Collection())
	require.Equal(t, "2026-10-17", p.ID())
	require.Equal(t, "u1", p.Segment(1))
	require.Equal(t, "", p.Segment(9))
}

func TestCursorRoundTrip(t *testing.T) {
	token := EncodeCursor(&Cursor{Offset: 20, Value: 1234, Path: "leaderboard/u9"})
	c, err := DecodeCursor(token)
	require.NoError(t, err)
	require.Equal(t, &Cursor{Offset: 20, Value: 1234, Path: "leaderboard/u9"}, c)

	c, err = DecodeCursor("")
	require.NoError(t, err)
	require.Nil(t, c)

	_, err = DecodeCursor("!!!")
	require.Error(t, err)
}

func paths(docs []Document) []Path {
	out := make([]Path, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Path)
	}
	return out
}
