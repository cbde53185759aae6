// Package session keeps each browser's application state between requests.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vbonduro/tileinv/internal/app"
)

// Store persists app.State by session id.
type Store interface {
	Get(ctx context.Context, id string) (app.State, bool, error)
	Save(ctx context.Context, id string, state app.State) error
	Delete(ctx context.Context, id string) error
}

// NewID returns a fresh opaque session id.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether id has the shape NewID produces.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil && len(id) == 36
}

type memoryEntry struct {
	state     app.State
	expiresAt time.Time
}

// MemoryStore is a process-local Store. Entries expire ttl after their last
// save.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) (app.State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return app.State{}, false, nil
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.entries, id)
		return app.State{}, false, nil
	}
	return entry.state, true, nil
}

func (s *MemoryStore) Save(_ context.Context, id string, state app.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.entries[id] = memoryEntry{state: state, expiresAt: now.Add(s.ttl)}

	// Sweep expired sessions on write so the map cannot grow without bound.
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

// Guard allows at most one mutating request per session at a time.
type Guard struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewGuard() *Guard {
	return &Guard{inflight: make(map[string]struct{})}
}

// TryAcquire marks id busy. It returns false without blocking when id is
// already busy. The returned release func must be called exactly once.
func (g *Guard) TryAcquire(id string) (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.inflight[id]; busy {
		return func() {}, false
	}
	g.inflight[id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.inflight, id)
			g.mu.Unlock()
		})
	}, true
}
