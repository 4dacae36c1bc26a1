package ratelimit

import (
	"sync"
	"time"

	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/policy"
)

type Decision struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Store admits or rejects a request under a tier for a derived key. The
// check-and-increment is one atomic unit per key; distinct keys never block
// each other's outcome.
type Store interface {
	Allow(tier policy.Tier, key string) Decision
}

type InMemoryStore struct {
	mu    sync.Mutex
	items map[string]entry
	now   func() time.Time
}

type entry struct {
	count   int
	resetAt time.Time
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		items: make(map[string]entry),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemoryStore) Allow(tier policy.Tier, key string) Decision {
	limit := tier.Limit
	if limit <= 0 {
		limit = 1
	}
	window := tier.Window
	if window <= 0 {
		window = time.Minute
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)
	scoped := tier.Name + ":" + key
	curr, ok := s.items[scoped]
	if !ok || now.After(curr.resetAt) {
		curr = entry{count: 0, resetAt: now.Add(window)}
	}
	curr.count++
	s.items[scoped] = curr
	allowed := curr.count <= limit
	remaining := limit - curr.count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   allowed,
		Count:     curr.count,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   curr.resetAt,
	}
}

// sweepLocked drops expired windows so the key space does not grow without
// bound under many distinct callers.
func (s *InMemoryStore) sweepLocked(now time.Time) {
	for k, v := range s.items {
		if now.After(v.resetAt) {
			delete(s.items, k)
		}
	}
}
