package workspace

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	workspace Workspace
	expiresAt time.Time
}

// MemoryStore keeps workspaces in process memory. A janitor goroutine evicts
// expired entries until Close is called.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[int64]memoryEntry
	ttl     time.Duration
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore builds an in-memory store. A non-positive ttl uses DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &MemoryStore{
		entries: make(map[int64]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go s.janitor(min(ttl, time.Minute))
	return s
}

func (s *MemoryStore) Save(_ context.Context, ws Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[ws.SessionID] = memoryEntry{workspace: ws, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Load(_ context.Context, sessionID int64) (Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[sessionID]
	if !ok {
		return Workspace{}, ErrWorkspaceNotFound
	}
	now := s.now()
	if !now.Before(entry.expiresAt) {
		delete(s.entries, sessionID)
		return Workspace{}, ErrWorkspaceNotFound
	}
	entry.expiresAt = now.Add(s.ttl)
	s.entries[sessionID] = entry
	return entry.workspace, nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionID)
	return nil
}

// Close stops the janitor.
func (s *MemoryStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *MemoryStore) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	evicted := 0
	for id, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, id)
			evicted++
		}
	}
	return evicted
}

func (s *MemoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}
