package transport

import (
	"sync"
	"time"

	"mini-lpc/message"
)

const (
	tokenSetPruneLen = 1024
	tokenSetMaxAge   = time.Minute
)

// tokenSet remembers tokens for a while, with a per-token counter. Entries
// older than tokenSetMaxAge are pruned once the set grows past tokenSetPruneLen.
type tokenSet struct {
	mu      sync.Mutex
	entries map[message.Token]tokenEntry
}

type tokenEntry struct {
	n  int
	at time.Time
}

func newTokenSet() *tokenSet {
	return &tokenSet{entries: make(map[message.Token]tokenEntry)}
}

// add records t.
func (s *tokenSet) add(t message.Token) {
	s.bump(t)
}

// bump increments and returns the counter for t.
func (s *tokenSet) bump(t message.Token) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if len(s.entries) >= tokenSetPruneLen {
		for k, e := range s.entries {
			if now.Sub(e.at) > tokenSetMaxAge {
				delete(s.entries, k)
			}
		}
	}
	e := s.entries[t]
	e.n++
	e.at = now
	s.entries[t] = e
	return e.n
}

// take removes t and reports whether it was present.
func (s *tokenSet) take(t message.Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[t]
	delete(s.entries, t)
	return ok
}

func (s *tokenSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
