package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// OAuthStateTTL state 유효 시간 (10분)
const OAuthStateTTL = 10 * time.Minute

var errEmptyState = errors.New("state cannot be empty")

// StateStore keeps one-time OAuth state values (CSRF 보호).
type StateStore interface {
	StoreState(ctx context.Context, state string, ttl time.Duration) error
	// ConsumeState reports whether state was issued and not yet used. A
	// consumed state is deleted.
	ConsumeState(ctx context.Context, state string) (bool, error)
}

// RedisStateStore shares OAuth state across API replicas.
type RedisStateStore struct {
	cache *RedisCache
}

func NewRedisStateStore(c *RedisCache) *RedisStateStore {
	return &RedisStateStore{cache: c}
}

func (s *RedisStateStore) StoreState(ctx context.Context, state string, ttl time.Duration) error {
	if state == "" {
		return errEmptyState
	}
	return s.cache.SetString(ctx, state, "1", ttl)
}

// ConsumeState uses GETDEL so a state can be redeemed once.
func (s *RedisStateStore) ConsumeState(ctx context.Context, state string) (bool, error) {
	if state == "" {
		return false, nil
	}
	_, ok, err := s.cache.GetDel(ctx, state)
	return ok, err
}

// MemoryStateStore is the single-process fallback when Redis is not configured.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]time.Time
	now    func() time.Time
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryStateStore) StoreState(_ context.Context, state string, ttl time.Duration) error {
	if state == "" {
		return errEmptyState
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, exp := range s.states {
		if now.After(exp) {
			delete(s.states, k)
		}
	}
	s.states[state] = now.Add(ttl)
	return nil
}

func (s *MemoryStateStore) ConsumeState(_ context.Context, state string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.states[state]
	if !ok {
		return false, nil
	}
	delete(s.states, state)
	return !s.now().After(exp), nil
}
