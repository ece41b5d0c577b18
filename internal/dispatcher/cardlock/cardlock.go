// Package cardlock provides per-card-id serialization: the dispatcher
// must process notifications for the same card one at a time (fetch,
// classify, extract, write are not safe to interleave across two
// notifications racing on the same card_id), while notifications for
// different cards run fully in parallel.
package cardlock

import "sync"

// Shard is a lazily-created set of per-key mutexes. Keys are never
// removed: a card that stops receiving notifications simply leaves an
// idle *sync.Mutex behind, which is cheap enough at Trello's card
// cardinality to not warrant eviction.
type Shard struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New constructs an empty shard.
func New() *Shard {
	return &Shard{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key, creating it on first use.
func (s *Shard) Lock(key string) {
	s.lockFor(key).Lock()
}

// Unlock releases the mutex for key. Key must already have been
// created by a prior Lock call.
func (s *Shard) Unlock(key string) {
	s.lockFor(key).Unlock()
}

func (s *Shard) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[key]
	if !ok {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	return m
}
