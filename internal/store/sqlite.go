package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/FleetPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore keeps conversations in an SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at the configured DSN, creating
// its directory and tables when missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore.NewSQLiteStore: DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("SQLiteStore.NewSQLiteStore: failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("SQLiteStore.NewSQLiteStore: failed to open connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLiteStore.NewSQLiteStore: ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("SQLiteStore.NewSQLiteStore: failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: ready", "dsn", dsn)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, id string, state models.ConversationState) (Conversation, error) {
	raw, err := encodeState(state)
	if err != nil {
		return Conversation{}, err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, state, active_flow, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(raw), string(state.ActiveFlow), now, now)
	if err != nil {
		slog.Error("SQLiteStore.Create: insert failed", "error", err, "id", id)
		return Conversation{}, fmt.Errorf("failed to create conversation: %w", err)
	}
	slog.Debug("SQLiteStore.Create: conversation created", "id", id)
	return Conversation{ID: id, State: state, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Conversation, error) {
	var raw string
	conv := Conversation{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT state, created_at, updated_at FROM conversations WHERE id = ?`, id).
		Scan(&raw, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore.Get: query failed", "error", err, "id", id)
		return Conversation{}, err
	}
	if conv.State, err = decodeState([]byte(raw)); err != nil {
		return Conversation{}, err
	}
	return conv, nil
}

func (s *SQLiteStore) Save(ctx context.Context, id string, state models.ConversationState) (Conversation, error) {
	raw, err := encodeState(state)
	if err != nil {
		return Conversation{}, err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET state = ?, active_flow = ?, updated_at = ? WHERE id = ?`,
		string(raw), string(state.ActiveFlow), now, id)
	if err != nil {
		slog.Error("SQLiteStore.Save: update failed", "error", err, "id", id)
		return Conversation{}, fmt.Errorf("failed to save conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Conversation{}, ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore.Delete: delete failed", "error", err, "id", id)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM processed_turns WHERE conversation_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) RecordTurn(ctx context.Context, conversationID, requestID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO processed_turns (request_id, conversation_id, received_at) VALUES (?, ?, ?)`,
		requestID, conversationID, time.Now().UTC())
	if err != nil {
		slog.Error("SQLiteStore.RecordTurn: insert failed", "error", err, "requestID", requestID)
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("SQLiteStore.Close: closing database connection")
	return s.db.Close()
}
