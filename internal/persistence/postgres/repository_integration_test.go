//go:build integration

package postgres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/stepsync/internal/docstore"
	"example.com/stepsync/internal/domain"
	"example.com/stepsync/internal/tracker"
)

func TestStoreMergesDayRecordsAndRecordsEvents(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t, ctx)
	store := NewStore(pool)

	sync := tracker.NewSynchronizer(tracker.NewDocumentRepository(store))
	day := domain.DayKey("2026-10-17")

	rec, found, err := sync.Load(ctx, "u1", day)
	require.NoError(t, err)
	require.False(t, found)
	require.Equal(t, 10000, rec.StepTarget)

	rec, err = rec.WithSteps(1000, 0.78)
	require.NoError(t, err)
	require.NoError(t, sync.Save(ctx, tracker.WriteFor(rec)))
	require.NoError(t, sync.Save(ctx, tracker.WriteFor(rec)))

	path, _ := tracker.DayPath("u1", day)
	require.NoError(t, store.Upsert(ctx, path, docstore.Fields{"note": "kept"}))

	loaded, found, err := sync.Load(ctx, "u1", day)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(1000), loaded.Steps)
	require.InDelta(t, 780.0, loaded.DistanceMeters, 1e-9)

	var events int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE event_type='steps.recorded' AND partition_key='u1'`).Scan(&events))
	require.Equal(t, 1, events, "identical saves should not emit duplicate events")

	// 10000 -> 12000 -> 10000 publishes both changes.
	raised := loaded
	raised.StepTarget = 12000
	require.NoError(t, sync.Save(ctx, tracker.WriteFor(raised)))
	require.NoError(t, sync.Save(ctx, tracker.WriteFor(loaded)))

	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE event_type='steps.recorded' AND partition_key='u1'`).Scan(&events))
	require.Equal(t, 3, events)

	var lastTarget int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT (payload->>'step_target')::int FROM outbox WHERE partition_key='u1' ORDER BY event_id DESC LIMIT 1`).Scan(&lastTarget))
	require.Equal(t, 10000, lastTarget)
}

func TestStoreCreateAndQuery(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t, ctx)
	store := NewStore(pool)

	account, _ := docstore.NewPath("accounts", "a@example.com")
	require.NoError(t, store.Create(ctx, account, docstore.Fields{"uid": "1"}))
	require.ErrorIs(t, store.Create(ctx, account, docstore.Fields{"uid": "2"}), docstore.ErrAlreadyExists)

	for id, steps := range map[string]int{"a": 50, "b": 500, "c": 200} {
		path, _ := docstore.NewPath("leaderboard", id)
		require.NoError(t, store.Upsert(ctx, path, docstore.Fields{"dailySteps": steps}))
	}

	page, err := store.Query(ctx, docstore.Query{Collection: "leaderboard", OrderBy: "dailySteps", Direction: docstore.Descending, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, docstore.Path("leaderboard/b"), page[0].Path)
	require.Equal(t, docstore.Path("leaderboard/c"), page[1].Path)

	last, _ := page[1].Float("dailySteps")
	rest, err := store.Query(ctx, docstore.Query{
		Collection: "leaderboard",
		OrderBy:    "dailySteps",
		Direction:  docstore.Descending,
		StartAfter: &docstore.Cursor{Offset: 2, Value: last, Path: page[1].Path},
	})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, docstore.Path("leaderboard/a"), rest[0].Path)
}

func startPostgres(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("stepsync"),
		postgrescontainer.WithUsername("stepsync"),
		postgrescontainer.WithPassword("stepsync"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	files := []string{
		"../../../db/postgres/migrations/0001_init.up.sql",
		"../../../db/postgres/migrations/0002_document_revision.up.sql",
	}

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	for _, rel := range files {
		contents, readErr := os.ReadFile(resolvePath(t, rel))
		require.NoError(t, readErr)

		_, execErr := pool.Exec(ctx, string(contents))
		require.NoError(t, execErr)
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
