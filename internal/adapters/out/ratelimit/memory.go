// Package ratelimit provides an in-memory keyed rate limiter.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/bnema/zerowrap"
	"golang.org/x/time/rate"

	"github.com/bnema/odoobackup/internal/boundaries/out"
)

var _ out.RateLimiter = (*MemoryStore)(nil)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryStore keeps one token bucket per key.
type MemoryStore struct {
	entries map[string]*entry
	mu      sync.Mutex
	rps     float64
	burst   int
	nowFn   func() time.Time
	log     zerowrap.Logger
}

// NewMemoryStore creates a store allowing rps attempts per second with burst.
func NewMemoryStore(rps float64, burst int, log zerowrap.Logger) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
		rps:     rps,
		burst:   burst,
		nowFn:   time.Now,
		log:     log,
	}
}

// Allow consumes one token for key.
func (s *MemoryStore) Allow(ctx context.Context, key string) bool {
	now := s.nowFn()

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(s.rps), s.burst)}
		s.entries[key] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)
	s.mu.Unlock()

	if !allowed {
		log := zerowrap.FromCtx(ctx)
		log.Warn().
			Str(zerowrap.FieldLayer, "adapter").
			Str(zerowrap.FieldAdapter, "ratelimit").
			Str("key", key).
			Msg("rate limited")
	}
	return allowed
}

// Reset drops the bucket for key.
func (s *MemoryStore) Reset(_ context.Context, key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Prune removes buckets idle for longer than idle and returns how many went.
func (s *MemoryStore) Prune(idle time.Duration) int {
	cutoff := s.nowFn().Add(-idle)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if e.lastSeen.Before(cutoff) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// RunJanitor prunes idle buckets every interval until ctx ends.
func (s *MemoryStore) RunJanitor(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Prune(idle); n > 0 {
				s.log.Debug().
					Str(zerowrap.FieldLayer, "adapter").
					Str(zerowrap.FieldAdapter, "ratelimit").
					Int(zerowrap.FieldCount, n).
					Msg("pruned idle rate limit buckets")
			}
		}
	}
}

func (s *MemoryStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
