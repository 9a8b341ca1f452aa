package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/classroom-exam/internal/config"
)

// SessionStore remembers the one token id (jti) each user may currently use.
// Get returns "" when the user has no session.
type SessionStore interface {
	Set(ctx context.Context, userID, jti string, ttl time.Duration) error
	Get(ctx context.Context, userID string) (string, error)
	Delete(ctx context.Context, userID string) error
}

// RedisSessionStore keeps sessions under login:{userID}.
type RedisSessionStore struct {
	rdb *redis.Client
}

func NewRedisSessionStore(rdb *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{rdb: rdb}
}

func (s *RedisSessionStore) Set(ctx context.Context, userID, jti string, ttl time.Duration) error {
	return s.rdb.Set(ctx, config.CacheKey.UserSessionKey(userID), jti, ttl).Err()
}

func (s *RedisSessionStore) Get(ctx context.Context, userID string) (string, error) {
	jti, err := s.rdb.Get(ctx, config.CacheKey.UserSessionKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return jti, err
}

func (s *RedisSessionStore) Delete(ctx context.Context, userID string) error {
	return s.rdb.Del(ctx, config.CacheKey.UserSessionKey(userID)).Err()
}

type memorySession struct {
	jti     string
	expires time.Time
}

// MemorySessionStore is the in-process SessionStore.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]memorySession
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]memorySession)}
}

func (s *MemorySessionStore) Set(_ context.Context, userID, jti string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[userID] = memorySession{jti: jti, expires: time.Now().Add(ttl)}
	return nil
}

func (s *MemorySessionStore) Get(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return "", nil
	}
	if time.Now().After(sess.expires) {
		delete(s.sessions, userID)
		return "", nil
	}
	return sess.jti, nil
}

func (s *MemorySessionStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	return nil
}
