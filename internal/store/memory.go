package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/BTreeMap/FleetPipe/internal/models"
)

// DefaultCapacity is the in-memory store capacity when none is configured.
const DefaultCapacity = 1024

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// InMemoryStore keeps the most recently used conversations in memory.
// States are stored in their JSON form so callers never share maps with it.
type InMemoryStore struct {
	mu    sync.Mutex
	convs *lru.Cache[string, storedConversation]
	turns *lru.Cache[string, string]
	now   func() time.Time
}

type storedConversation struct {
	state     []byte
	createdAt time.Time
	updatedAt time.Time
}

// NewInMemoryStore creates an in-memory store.
func NewInMemoryStore(opts ...Option) (*InMemoryStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	convs, err := lru.New[string, storedConversation](cfg.Capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation cache: %w", err)
	}
	turns, err := lru.New[string, string](cfg.Capacity * 8)
	if err != nil {
		return nil, fmt.Errorf("failed to create turn cache: %w", err)
	}
	slog.Debug("InMemoryStore.NewInMemoryStore: created", "capacity", cfg.Capacity)
	return &InMemoryStore{convs: convs, turns: turns, now: time.Now}, nil
}

func (s *InMemoryStore) Create(_ context.Context, id string, state models.ConversationState) (Conversation, error) {
	raw, err := encodeState(state)
	if err != nil {
		return Conversation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.convs.Contains(id) {
		return Conversation{}, fmt.Errorf("conversation %s already exists", id)
	}
	now := s.now()
	s.convs.Add(id, storedConversation{state: raw, createdAt: now, updatedAt: now})
	return Conversation{ID: id, State: state, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (Conversation, error) {
	s.mu.Lock()
	sc, ok := s.convs.Get(id)
	s.mu.Unlock()
	if !ok {
		return Conversation{}, ErrNotFound
	}
	state, err := decodeState(sc.state)
	if err != nil {
		return Conversation{}, err
	}
	return Conversation{ID: id, State: state, CreatedAt: sc.createdAt, UpdatedAt: sc.updatedAt}, nil
}

func (s *InMemoryStore) Save(_ context.Context, id string, state models.ConversationState) (Conversation, error) {
	raw, err := encodeState(state)
	if err != nil {
		return Conversation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.convs.Get(id)
	if !ok {
		return Conversation{}, ErrNotFound
	}
	sc.state = raw
	sc.updatedAt = s.now()
	s.convs.Add(id, sc)
	return Conversation{ID: id, State: state, CreatedAt: sc.createdAt, UpdatedAt: sc.updatedAt}, nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.convs.Remove(id) {
		return ErrNotFound
	}
	for _, key := range s.turns.Keys() {
		if conv, ok := s.turns.Peek(key); ok && conv == id {
			s.turns.Remove(key)
		}
	}
	return nil
}

func (s *InMemoryStore) RecordTurn(_ context.Context, conversationID, requestID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turns.Contains(requestID) {
		return false, nil
	}
	s.turns.Add(requestID, conversationID)
	return true, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
