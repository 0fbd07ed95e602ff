// Package api provides the HTTP server for FleetPipe conversations.
//
// It exposes endpoints to create conversations, submit turns and inspect
// stored state. Turns are routed through the flow orchestrator and persisted
// with the store module.
package api

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/BTreeMap/FleetPipe/internal/flow"
	"github.com/BTreeMap/FleetPipe/internal/models"
	"github.com/BTreeMap/FleetPipe/internal/store"
)

// Server configuration defaults
const (
	// DefaultAddr is the address the server listens on when none is configured.
	DefaultAddr = ":8080"
	// DefaultTurnTimeout bounds a single turn including every tool and generator call.
	DefaultTurnTimeout = 90 * time.Second
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// IdempotencyKeyHeader carries a client request id for retried turns.
	IdempotencyKeyHeader = "Idempotency-Key"
	// maxRequestBytes limits request bodies.
	maxRequestBytes = 1 << 20
	// lockStripes is the number of per-conversation turn locks.
	lockStripes = 64
)

// TurnHandler runs one conversation turn.
type TurnHandler interface {
	HandleTurn(ctx context.Context, state models.ConversationState, in flow.TurnInput) (flow.TurnResult, error)
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Opts holds configuration for the API server.
type Opts struct {
	Addr        string
	TurnTimeout time.Duration
	Health      HealthChecker
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithTurnTimeout sets the per-turn deadline.
func WithTurnTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.TurnTimeout = d
	}
}

// WithHealthChecker sets the dependency probed by GET /health.
func WithHealthChecker(h HealthChecker) Option {
	return func(o *Opts) {
		o.Health = h
	}
}

// Server serves the conversation API.
type Server struct {
	turns       TurnHandler
	st          store.Store
	health      HealthChecker
	addr        string
	turnTimeout time.Duration
	locks       [lockStripes]sync.Mutex
}

// NewServer creates a server backed by the given turn handler and store.
func NewServer(turns TurnHandler, st store.Store, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = DefaultTurnTimeout
	}
	return &Server{
		turns:       turns,
		st:          st,
		health:      cfg.Health,
		addr:        cfg.Addr,
		turnTimeout: cfg.TurnTimeout,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /conversations", s.createConversationHandler)
	mux.HandleFunc("GET /conversations/{id}", s.getConversationHandler)
	mux.HandleFunc("DELETE /conversations/{id}", s.deleteConversationHandler)
	mux.HandleFunc("POST /conversations/{id}/turns", s.turnHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	return mux
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: FleetPipe API listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		slog.Info("Server.Run: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	}
}

// lockConversation serializes turns on one conversation.
func (s *Server) lockConversation(id string) func() {
	h := fnv.New32a()
	h.Write([]byte(id))
	mu := &s.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}
