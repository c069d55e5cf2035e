package leadimport

import "sync"

// keyedMutex serializes work per session id. Entries are dropped once no
// caller holds or waits for them.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[int64]*lockEntry
}

type lockEntry struct {
	mu      sync.Mutex
	waiters int
}

// Lock blocks until id is free and returns the matching unlock.
func (k *keyedMutex) Lock(id int64) func() {
	k.mu.Lock()
	if k.entries == nil {
		k.entries = make(map[int64]*lockEntry)
	}
	entry, ok := k.entries[id]
	if !ok {
		entry = &lockEntry{}
		k.entries[id] = entry
	}
	entry.waiters++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.waiters--
		if entry.waiters == 0 {
			delete(k.entries, id)
		}
		k.mu.Unlock()
	}
}
