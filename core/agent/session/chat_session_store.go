package session

import (
	"context"
	"sync"
	"time"

	"mailchat_server/core/domain"
	"mailchat_server/pkg/apperr"
)

// =============================================================================
// In-memory Session Store
// =============================================================================

// MemoryStore keeps sessions in process with TTL expiry. Every call holds the
// lock only for a map operation and a copy, so callers never wait on I/O.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	ttl      time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore creates a store. A non-positive ttl keeps sessions forever.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]*domain.Session),
		ttl:      ttl,
		stopCh:   make(chan struct{}),
	}
	if ttl > 0 {
		go s.cleanupLoop()
	}
	return s
}

// Get returns a copy of the session.
func (s *MemoryStore) Get(_ context.Context, id string) (*domain.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok || s.expired(sess, time.Now()) {
		return nil, false, nil
	}
	return copySession(sess), true, nil
}

// Put stores a copy of the session, replacing any previous value.
func (s *MemoryStore) Put(_ context.Context, sess *domain.Session) error {
	if sess == nil || sess.ID == "" {
		return apperr.MissingField("session_id")
	}
	c := copySession(sess)
	if c.LastUsed.IsZero() {
		c.LastUsed = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = c
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Append adds messages to the session history.
func (s *MemoryStore) Append(_ context.Context, id string, limit int, msgs ...domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || s.expired(sess, time.Now()) {
		return apperr.SessionNotFound(id)
	}
	sess.AppendHistory(limit, msgs...)
	return nil
}

// Count returns the number of stored sessions, expired or not.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *MemoryStore) expired(sess *domain.Session, now time.Time) bool {
	return s.ttl > 0 && now.Sub(sess.LastUsed) > s.ttl
}

func (s *MemoryStore) cleanupLoop() {
	interval := s.ttl
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			delete(s.sessions, id)
		}
	}
}

// Stop stops the cleanup goroutine
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func copySession(s *domain.Session) *domain.Session {
	c := *s
	c.History = append([]domain.ChatMessage(nil), s.History...)
	return &c
}
