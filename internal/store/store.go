// Package store persists conversation states between turns.
//
// It provides an in-memory LRU store and SQLite and PostgreSQL backends.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BTreeMap/FleetPipe/internal/models"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// Conversation is a stored conversation state.
type Conversation struct {
	ID        string                   `json:"id"`
	State     models.ConversationState `json:"state"`
	CreatedAt time.Time                `json:"createdAt"`
	UpdatedAt time.Time                `json:"updatedAt"`
}

// Store persists conversation states.
type Store interface {
	// Create stores a new conversation. Creating an existing id fails.
	Create(ctx context.Context, id string, state models.ConversationState) (Conversation, error)
	// Get returns the conversation or ErrNotFound.
	Get(ctx context.Context, id string) (Conversation, error)
	// Save replaces the state of an existing conversation or returns ErrNotFound.
	Save(ctx context.Context, id string, state models.ConversationState) (Conversation, error)
	// Delete removes the conversation and its turn records or returns ErrNotFound.
	Delete(ctx context.Context, id string) error
	TurnDedupRepo
	Close() error
}

// Opts holds configuration for store backends.
type Opts struct {
	DSN string
	// Capacity bounds the in-memory store; the least recently used conversation is evicted.
	Capacity int
}

// Option configures a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithCapacity sets the in-memory store capacity.
func WithCapacity(n int) Option {
	return func(o *Opts) {
		o.Capacity = n
	}
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// encodeState serializes a state for storage.
func encodeState(state models.ConversationState) ([]byte, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode conversation state: %w", err)
	}
	return raw, nil
}

func decodeState(raw []byte) (models.ConversationState, error) {
	var state models.ConversationState
	if err := json.Unmarshal(raw, &state); err != nil {
		return state, fmt.Errorf("failed to decode conversation state: %w", err)
	}
	return state, nil
}
