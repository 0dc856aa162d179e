package session

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore keeps sessions in process memory using go-cache's per-item expiry.
type MemoryStore struct {
	c *gocache.Cache
}

// NewMemoryStore creates a [MemoryStore] whose entries default to ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{c: gocache.New(ttl, 10*time.Minute)}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	v, ok := m.c.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s := v.(Session)
	return &s, nil
}

func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		m.c.Delete(s.ID)
		return nil
	}
	m.c.Set(s.ID, *s, ttl)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.c.Delete(id)
	return nil
}

// Len returns the number of unexpired sessions.
func (m *MemoryStore) Len() int { return m.c.ItemCount() }
