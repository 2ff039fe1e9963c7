// Package httptransport runs the API's HTTP server and its shutdown sequence.
package httptransport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"
)

// Drainer ends work that http.Server.Shutdown does not wait for, such as
// hijacked websocket connections.
type Drainer interface {
	Shutdown(ctx context.Context) error
}

// ServerConfig contains tunables for the HTTP server. There is no write
// timeout: live sessions keep their response open for as long as they run.
type ServerConfig struct {
	Address           string
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
}

// Server serves HTTP until its context ends, then drains.
type Server struct {
	http            *http.Server
	drainers        []Drainer
	shutdownTimeout time.Duration
	logger          *log.Logger
}

// NewServer wraps handler. Drainers run, in order, after the listener has
// closed and in-flight requests have finished.
func NewServer(cfg ServerConfig, handler http.Handler, drainers ...Drainer) *Server {
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Server{
		http: &http.Server{
			Addr:              cfg.Address,
			Handler:           handler,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			ReadTimeout:       cfg.ReadTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
		drainers:        drainers,
		shutdownTimeout: timeout,
		logger:          log.New(log.Writer(), "[http] ", log.LstdFlags|log.Lshortfile),
	}
}

// Run listens on the configured address until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until ctx ends, then shuts the server down and runs the
// drainers within the shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	served := make(chan error, 1)
	go func() {
		err := s.http.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		served <- err
	}()

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	for _, d := range s.drainers {
		if err := d.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("drain: %w", err))
		}
	}
	if err := <-served; err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		s.logger.Printf("shutdown incomplete: %v", errors.Join(errs...))
	}
	return errors.Join(errs...)
}
