// Package redisstore keeps live session records in Redis so logout revokes
// a token across every running instance at once. Records carry a TTL
// matching the token expiry.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mystziel/OneQueue-PH/internal/models"
	"github.com/mystziel/OneQueue-PH/internal/store"
)

const sessionKeyPrefix = "session:"

type SessionStore struct {
	client *redis.Client
}

func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client}
}

func (s *SessionStore) SaveSession(ctx context.Context, session models.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	// A record with no lifetime left is a caller bug, not a lookup miss.
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return store.ErrSessionExpired
	}
	return s.client.Set(ctx, sessionKeyPrefix+session.Token, payload, ttl).Err()
}

func (s *SessionStore) GetSession(ctx context.Context, token string) (models.Session, error) {
	payload, err := s.client.Get(ctx, sessionKeyPrefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.Session{}, store.ErrSessionNotFound
		}
		return models.Session{}, err
	}
	var session models.Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return models.Session{}, err
	}
	return session, nil
}

func (s *SessionStore) DeleteSession(ctx context.Context, token string) error {
	return s.client.Del(ctx, sessionKeyPrefix+token).Err()
}

func (s *SessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
