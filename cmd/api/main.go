package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"example.com/stepsync/internal/api"
	"example.com/stepsync/internal/auth"
	"example.com/stepsync/internal/config"
	"example.com/stepsync/internal/identity"
	"example.com/stepsync/internal/leaderboard"
	"example.com/stepsync/internal/outbox"
	persistence "example.com/stepsync/internal/persistence/postgres"
	"example.com/stepsync/internal/tracker"
	httptransport "example.com/stepsync/internal/transport/http"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	store := persistence.NewStore(pool)
	producer := outbox.NewStepProducer(cfg.KafkaBrokers)
	defer producer.Close()

	registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
	dispatcher := outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize)

	synchronizer := tracker.NewSynchronizer(tracker.NewDocumentRepository(store), tracker.WithRetryPolicy(tracker.RetryPolicy{
		MaxAttempts: cfg.SaveMaxAttempts,
		MaxElapsed:  cfg.SaveMaxElapsed,
	}))
	tokens := auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer, TTL: cfg.JWTTTL}

	handler := api.NewHandler(
		identity.NewLocalProvider(store),
		synchronizer,
		leaderboard.NewService(store),
		tokens,
		api.WithSessionOptions(
			tracker.WithSaveDebounce(cfg.SaveDebounce),
			tracker.WithStrideLength(cfg.DefaultStride),
		),
	)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Simple CORS middleware for local dev
	cors := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	public := append([]string{"/metrics"}, api.PublicPaths...)
	authMiddleware := auth.NewMiddleware(tokens, auth.PublicPaths(public...))

	// The handler drains after the listener closes so live sessions write
	// their last counts before the process exits.
	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:           cfg.HTTPAddress,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   15 * time.Second,
	}, logger(cors(authMiddleware.Wrap(mux))), handler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dispatcher.Start(gctx)
		return nil
	})
	g.Go(func() error {
		log.Printf("stepsync api listening on %s", cfg.HTTPAddress)
		return server.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("server error: %v", err)
	}
	dispatcher.Wait()
}
