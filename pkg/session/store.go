package session

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrNotFound is returned for unknown, expired, or destroyed identifiers.
var ErrNotFound = errors.New("session not found")

// Store persists sessions by identifier.
//
// Save stores s under s.ID. When s.PreviousID is set the old identifier is
// kept as an alias of s.ID, and any alias older than that is dropped.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Session, error)
	Len() int
}

// MemoryStore keeps sessions in a bounded LRU whose entries expire after the
// idle TTL. It suits a single service instance.
type MemoryStore struct {
	mu       sync.Mutex
	sessions *lru.LRU[string, *Session]
	aliases  *lru.LRU[string, string]
}

// NewMemoryStore creates a store holding at most size sessions.
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: lru.NewLRU[string, *Session](size, nil, ttl),
		aliases:  lru.NewLRU[string, string](size, nil, ttl),
	}
}

// Get resolves id directly or through a rotation alias.
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions.Get(id); ok {
		return s.clone(), nil
	}
	if current, ok := m.aliases.Get(id); ok {
		if s, ok := m.sessions.Get(current); ok {
			return s.clone(), nil
		}
		m.aliases.Remove(id)
	}
	return nil, ErrNotFound
}

// Save stores a copy of s, refreshing its idle TTL.
func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.PreviousID != "" {
		if old, ok := m.sessions.Peek(s.PreviousID); ok {
			if old.PreviousID != "" {
				m.aliases.Remove(old.PreviousID)
			}
			m.sessions.Remove(s.PreviousID)
		}
		m.aliases.Add(s.PreviousID, s.ID)
	}
	m.sessions.Add(s.ID, s.clone())
	return nil
}

// Delete removes the session reachable through id and its alias.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.aliases.Peek(id); ok {
		id = current
	}
	if s, ok := m.sessions.Peek(id); ok {
		if s.PreviousID != "" {
			m.aliases.Remove(s.PreviousID)
		}
		m.sessions.Remove(id)
	}
	return nil
}

// List returns copies of every live session.
func (m *MemoryStore) List(_ context.Context) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	values := m.sessions.Values()
	out := make([]*Session, 0, len(values))
	for _, s := range values {
		out = append(out, s.clone())
	}
	return out, nil
}

// Len returns the number of live sessions.
func (m *MemoryStore) Len() int {
	return m.sessions.Len()
}
