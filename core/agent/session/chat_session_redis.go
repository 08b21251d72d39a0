package session

import (
	"context"
	"time"

	"mailchat_server/core/domain"
	"mailchat_server/pkg/apperr"
	"mailchat_server/pkg/cache"
)

// RedisStore keeps sessions in Redis as JSON, one key per session, so several
// API replicas can share them. The TTL is refreshed on every write.
type RedisStore struct {
	cache *cache.RedisCache
	ttl   time.Duration
}

func NewRedisStore(c *cache.RedisCache, ttl time.Duration) *RedisStore {
	return &RedisStore{cache: c, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, id string) (*domain.Session, bool, error) {
	var sess domain.Session
	found, err := s.cache.GetJSON(ctx, id, &sess)
	if err != nil {
		return nil, false, apperr.ExternalError("redis", err)
	}
	if !found {
		return nil, false, nil
	}
	return &sess, true, nil
}

func (s *RedisStore) Put(ctx context.Context, sess *domain.Session) error {
	if sess == nil || sess.ID == "" {
		return apperr.MissingField("session_id")
	}
	if sess.LastUsed.IsZero() {
		sess.LastUsed = time.Now()
	}
	if err := s.cache.SetJSON(ctx, sess.ID, sess, s.ttl); err != nil {
		return apperr.ExternalError("redis", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.cache.Delete(ctx, id); err != nil {
		return apperr.ExternalError("redis", err)
	}
	return nil
}

// Append is a read-modify-write. Requests on one session are serialized by
// the caller, so no optimistic locking is done here.
func (s *RedisStore) Append(ctx context.Context, id string, limit int, msgs ...domain.ChatMessage) error {
	sess, ok, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.SessionNotFound(id)
	}
	sess.AppendHistory(limit, msgs...)
	return s.Put(ctx, sess)
}
