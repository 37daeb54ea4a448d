package store

import (
	"context"
	"path"
	"sync"
	"time"
)

// memoryKV is an in-memory KV used by tests and single-node development runs.
type memoryKV struct {
	mu      sync.Mutex
	hashes  map[string]map[string]string
	sets    map[string]map[string]struct{}
	counts  map[string]int64
	expires map[string]time.Time
}

// NewMemoryKV returns a process-local KV implementation.
func NewMemoryKV() KV {
	return &memoryKV{
		hashes:  make(map[string]map[string]string),
		sets:    make(map[string]map[string]struct{}),
		counts:  make(map[string]int64),
		expires: make(map[string]time.Time),
	}
}

func (s *memoryKV) expireLocked(key string) {
	deadline, ok := s.expires[key]
	if !ok || time.Now().Before(deadline) {
		return
	}
	delete(s.hashes, key)
	delete(s.sets, key)
	delete(s.counts, key)
	delete(s.expires, key)
}

func (s *memoryKV) existsLocked(key string) bool {
	s.expireLocked(key)
	if _, ok := s.hashes[key]; ok {
		return true
	}
	if _, ok := s.sets[key]; ok {
		return true
	}
	_, ok := s.counts[key]
	return ok
}

func (s *memoryKV) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.existsLocked(key), nil
}

func (s *memoryKV) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.hashes, key)
		delete(s.sets, key)
		delete(s.counts, key)
		delete(s.expires, key)
	}
	return nil
}

func (s *memoryKV) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.existsLocked(key) {
		s.expires[key] = time.Now().Add(ttl)
	}
	return nil
}

func (s *memoryKV) HSet(_ context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (s *memoryKV) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	out := make(map[string]string, len(s.hashes[key]))
	for k, v := range s.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (s *memoryKV) SAdd(_ context.Context, key string, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	set[member] = struct{}{}
	return nil
}

func (s *memoryKV) SRem(_ context.Context, key string, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	if set, ok := s.sets[key]; ok {
		delete(set, member)
		if len(set) == 0 {
			delete(s.sets, key)
		}
	}
	return nil
}

func (s *memoryKV) SCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	return int64(len(s.sets[key])), nil
}

func (s *memoryKV) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	out := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		out = append(out, m)
	}
	return out, nil
}

func (s *memoryKV) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	s.counts[key]++
	return s.counts[key], nil
}

func (s *memoryKV) Decr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	s.counts[key]--
	return s.counts[key], nil
}

func (s *memoryKV) Keys(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	match := func(key string) {
		s.expireLocked(key)
		if !s.existsLocked(key) {
			return
		}
		if ok, _ := path.Match(pattern, key); ok {
			out = append(out, key)
		}
	}
	for key := range s.hashes {
		match(key)
	}
	for key := range s.sets {
		match(key)
	}
	for key := range s.counts {
		match(key)
	}
	return out, nil
}

func (s *memoryKV) Close() error {
	return nil
}
