package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore is a process-local counter store. It holds at most max keys;
// when full it first drops expired windows, then the window closest to expiry.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	max     int
	now     func() time.Time
}

func NewMemoryStore(max int) *MemoryStore {
	if max <= 0 {
		max = 10000
	}
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		max:     max,
		now:     time.Now,
	}
}

func (s *MemoryStore) IncrementAndGet(_ context.Context, key string, window time.Duration) (Counter, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if ok && !now.Before(e.expiresAt) {
		delete(s.entries, key)
		ok = false
	}
	if !ok {
		if len(s.entries) >= s.max {
			s.sweepLocked(now)
		}
		if len(s.entries) >= s.max {
			s.evictLocked()
		}
		e = &memoryEntry{expiresAt: now.Add(window)}
		s.entries[key] = e
	}
	e.count++

	return Counter{Count: e.count, ResetAt: e.expiresAt, Source: "memory"}, nil
}

// Sweep removes every expired window and returns how many were dropped.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.now())
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) sweepLocked(now time.Time) int {
	n := 0
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

func (s *MemoryStore) evictLocked() {
	var (
		victim string
		oldest time.Time
	)
	for k, e := range s.entries {
		if victim == "" || e.expiresAt.Before(oldest) {
			victim, oldest = k, e.expiresAt
		}
	}
	if victim != "" {
		delete(s.entries, victim)
	}
}
