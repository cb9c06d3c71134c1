package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"gitlab.com/timkado/api/support-chat-client/internal/domain"
	"gitlab.com/timkado/api/support-chat-client/pkg/contextkeys"
	"gitlab.com/timkado/api/support-chat-client/pkg/rediskeys"
)

// SessionIdentityStore owns the anonymous visitor session. The persisted value
// is the source of truth; nothing is cached in memory across calls.
type SessionIdentityStore struct {
	store   domain.KeyValueStore
	gateway domain.ChatGateway
	logger  domain.Logger
	group   singleflight.Group
	key     string
}

// NewSessionIdentityStore creates a store backed by kv, creating sessions through gateway.
func NewSessionIdentityStore(kv domain.KeyValueStore, gateway domain.ChatGateway, logger domain.Logger) *SessionIdentityStore {
	return &SessionIdentityStore{
		store:   kv,
		gateway: gateway,
		logger:  logger,
		key:     rediskeys.SessionKey(),
	}
}

// Current returns the persisted session, or nil if there is none.
func (s *SessionIdentityStore) Current(ctx context.Context) (*domain.Session, error) {
	raw, err := s.store.Get(ctx, s.key)
	if errors.Is(err, domain.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session identity: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil || session.SessionID == "" {
		// A corrupt value is treated as missing so the next call re-provisions.
		s.logger.Warn(ctx, "Discarding unreadable persisted session", "key", s.key)
		return nil, nil
	}
	return &session, nil
}

// GetOrCreateSession returns the persisted session, creating one through the
// REST gateway when missing. Concurrent callers share a single creation and the
// new session is persisted before any of them return.
func (s *SessionIdentityStore) GetOrCreateSession(ctx context.Context) (*domain.Session, error) {
	if session, err := s.Current(ctx); err != nil || session != nil {
		return session, err
	}

	v, err, shared := s.group.Do(s.key, func() (any, error) {
		// Another flight may have finished between our read and joining this one.
		if session, err := s.Current(ctx); err != nil || session != nil {
			return session, err
		}

		session, err := s.gateway.CreateSession(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}

		raw, err := json.Marshal(session)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal session: %w", err)
		}
		if err := s.store.Set(ctx, s.key, string(raw)); err != nil {
			return nil, fmt.Errorf("failed to persist session: %w", err)
		}

		logCtx := context.WithValue(ctx, contextkeys.SessionIDKey, session.SessionID)
		s.logger.Info(logCtx, "Provisioned anonymous chat session")
		return session, nil
	})
	if err != nil {
		return nil, err
	}

	session := *(v.(*domain.Session))
	if shared {
		s.logger.Debug(ctx, "Joined in-flight session creation", "session_id", session.SessionID)
	}
	return &session, nil
}

// Clear drops the persisted session. Recreation is lazy.
func (s *SessionIdentityStore) Clear(ctx context.Context) error {
	s.group.Forget(s.key)
	if err := s.store.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("failed to clear session identity: %w", err)
	}
	s.logger.Info(ctx, "Cleared anonymous chat session")
	return nil
}
