package session

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*InMemoryStore)(nil)

type inMemoryEntry struct {
	rec       Record
	expiresAt time.Time
}

// InMemoryStore is the ephemeral Store implementation. Sessions expire on a
// sliding window from last access and vanish with the process.
type InMemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]inMemoryEntry
	nowTime func() time.Time
}

type InMemoryOption func(*InMemoryStore)

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) InMemoryOption {
	return func(s *InMemoryStore) {
		s.nowTime = nowFunc
	}
}

func NewInMemoryStore(ttl time.Duration, options ...InMemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		ttl:     ttl,
		entries: make(map[string]inMemoryEntry),
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) Save(_ context.Context, sessionID string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[sessionID] = inMemoryEntry{rec: rec, expiresAt: s.nowTime().Add(s.ttl)}
	return nil
}

func (s *InMemoryStore) Load(_ context.Context, sessionID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[sessionID]
	if !ok {
		return Record{}, ErrNotFound
	}
	now := s.nowTime()
	if now.After(entry.expiresAt) {
		delete(s.entries, sessionID)
		return Record{}, ErrNotFound
	}
	entry.expiresAt = now.Add(s.ttl)
	s.entries[sessionID] = entry
	return entry.rec, nil
}

func (s *InMemoryStore) Destroy(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, sessionID)
	return nil
}
