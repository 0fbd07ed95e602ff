package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/FleetPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore keeps conversations in PostgreSQL with states as JSONB.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to PostgreSQL and applies migrations.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore.NewPostgresStore: DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("PostgresStore.NewPostgresStore: failed to open connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("PostgresStore.NewPostgresStore: ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("PostgresStore.NewPostgresStore: failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgresStore.NewPostgresStore: migrations applied")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Create(ctx context.Context, id string, state models.ConversationState) (Conversation, error) {
	raw, err := encodeState(state)
	if err != nil {
		return Conversation{}, err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, state, active_flow, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)`,
		id, string(raw), string(state.ActiveFlow), now)
	if err != nil {
		slog.Error("PostgresStore.Create: insert failed", "error", err, "id", id)
		return Conversation{}, fmt.Errorf("failed to create conversation: %w", err)
	}
	slog.Debug("PostgresStore.Create: conversation created", "id", id)
	return Conversation{ID: id, State: state, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Conversation, error) {
	var raw []byte
	conv := Conversation{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT state, created_at, updated_at FROM conversations WHERE id = $1`, id).
		Scan(&raw, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		slog.Error("PostgresStore.Get: query failed", "error", err, "id", id)
		return Conversation{}, err
	}
	if conv.State, err = decodeState(raw); err != nil {
		return Conversation{}, err
	}
	return conv, nil
}

func (s *PostgresStore) Save(ctx context.Context, id string, state models.ConversationState) (Conversation, error) {
	raw, err := encodeState(state)
	if err != nil {
		return Conversation{}, err
	}
	conv := Conversation{ID: id, State: state}
	err = s.db.QueryRowContext(ctx,
		`UPDATE conversations SET state = $1, active_flow = $2, updated_at = $3 WHERE id = $4 RETURNING created_at, updated_at`,
		string(raw), string(state.ActiveFlow), time.Now().UTC(), id).
		Scan(&conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		slog.Error("PostgresStore.Save: update failed", "error", err, "id", id)
		return Conversation{}, fmt.Errorf("failed to save conversation: %w", err)
	}
	return conv, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore.Delete: delete failed", "error", err, "id", id)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM processed_turns WHERE conversation_id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) RecordTurn(ctx context.Context, conversationID, requestID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_turns (request_id, conversation_id, received_at) VALUES ($1, $2, $3) ON CONFLICT (request_id) DO NOTHING`,
		requestID, conversationID, time.Now().UTC())
	if err != nil {
		slog.Error("PostgresStore.RecordTurn: insert failed", "error", err, "requestID", requestID)
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("PostgresStore.Close: closing database connection")
	return s.db.Close()
}
