package ratelimit

import (
	"sync"
	"time"
)

// localStore is the single-process fallback counter. Entries are swept on
// access and by CleanupExpired; there is no background janitor.
type localStore struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

type localEntry struct {
	count     int64
	resetTime time.Time
}

func newLocalStore() *localStore {
	return &localStore{entries: make(map[string]*localEntry)}
}

func (s *localStore) check(key string, limit int, window time.Duration) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	e, ok := s.entries[key]
	if !ok || now.After(e.resetTime) || now.Equal(e.resetTime) {
		e = &localEntry{count: 1, resetTime: now.Add(window)}
		s.entries[key] = e
		return Result{Allowed: true, Remaining: limit - 1, ResetTime: e.resetTime}
	}

	e.count++
	res := Result{
		Allowed:   e.count <= int64(limit),
		ResetTime: e.resetTime,
	}
	if remaining := int64(limit) - e.count; remaining > 0 {
		res.Remaining = int(remaining)
	}
	if !res.Allowed {
		res.RetryAfter = retryAfterSeconds(time.Until(e.resetTime))
	}
	return res
}

func (s *localStore) status(key string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Key: key, Backend: BackendMemory}
	if e, ok := s.entries[key]; ok && time.Now().Before(e.resetTime) {
		st.Count = e.count
		st.ResetTime = e.resetTime
	}
	return st
}

func (s *localStore) reset(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

func (s *localStore) clear() {
	s.mu.Lock()
	s.entries = make(map[string]*localEntry)
	s.mu.Unlock()
}

func (s *localStore) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for k, e := range s.entries {
		if now.After(e.resetTime) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

func (s *localStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
