package cache

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// CachedResponse represents a cached generation result
type CachedResponse struct {
	Type      string
	Content   string
	Timestamp time.Time
}

// GenerateCacheKey generates a cache key from a mode and prompt
func GenerateCacheKey(mode, message string) string {
	h := sha256.New()
	h.Write([]byte(mode))
	h.Write([]byte{0})
	h.Write([]byte(message))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Store is an in-process response cache with a fixed time to live.
// A zero TTL disables it.
type Store struct {
	entries sync.Map
	ttl     time.Duration
	now     func() time.Time
}

// New creates a Store
func New(ttl time.Duration) *Store {
	return &Store{ttl: ttl, now: time.Now}
}

// Get returns the entry for key if it has not expired
func (s *Store) Get(key string) (CachedResponse, bool) {
	if s.ttl <= 0 {
		return CachedResponse{}, false
	}
	val, ok := s.entries.Load(key)
	if !ok {
		return CachedResponse{}, false
	}
	cached := val.(CachedResponse)
	if s.now().Sub(cached.Timestamp) > s.ttl {
		s.entries.CompareAndDelete(key, val)
		return CachedResponse{}, false
	}
	return cached, true
}

// Put stores a response under key
func (s *Store) Put(key, typ, content string) {
	if s.ttl <= 0 {
		return
	}
	s.entries.Store(key, CachedResponse{
		Type:      typ,
		Content:   content,
		Timestamp: s.now(),
	})
}

// Purge drops expired entries and returns how many were removed
func (s *Store) Purge() int {
	removed := 0
	now := s.now()
	s.entries.Range(func(key, val any) bool {
		if now.Sub(val.(CachedResponse).Timestamp) > s.ttl {
			if s.entries.CompareAndDelete(key, val) {
				removed++
			}
		}
		return true
	})
	return removed
}
