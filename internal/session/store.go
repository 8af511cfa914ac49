package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/thoas/go-funk"

	"github.com/patric-chuzhbe/sinkgate/internal/models"
)

type entry struct {
	data      models.SessionData
	expiresAt time.Time
}

// Store keeps session state in process memory, keyed by an opaque random id.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]entry
	ttl      time.Duration
	now      func() time.Time
}

// NewStore returns an empty Store whose sessions live for ttl.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		sessions: map[string]entry{},
		ttl:      ttl,
		now:      time.Now,
	}
}

// Create records data under a fresh session id.
func (s *Store) Create(ctx context.Context, data models.SessionData) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf(
			"in internal/session/store.go/Create(): error while `uuid.NewRandom()` calling: %w",
			err,
		)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[id.String()] = entry{
		data:      data,
		expiresAt: s.now().Add(s.ttl),
	}

	return id.String(), nil
}

// Get returns the session data of a live session.
func (s *Store) Get(ctx context.Context, id string) (models.SessionData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found, ok := s.sessions[id]
	if !ok || !found.expiresAt.After(s.now()) {
		return models.SessionData{}, false
	}

	return found.data, true
}

func (s *Store) Delete(ctx context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
}

// PurgeExpired drops every session that expired at or before now and returns how many were dropped.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := funk.Keys(s.sessions).([]string)
	expired := funk.FilterString(ids, func(id string) bool {
		return !s.sessions[id].expiresAt.After(now)
	})
	for _, id := range expired {
		delete(s.sessions, id)
	}

	return len(expired), nil
}

// Len returns the number of stored sessions, expired ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.sessions)
}
