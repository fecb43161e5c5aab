package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service manages session lifecycle on top of a Repository.
type Service struct {
	repo        Repository
	lifetime    time.Duration
	idleTimeout time.Duration

	now func() time.Time
}

// NewService creates a new session service
func NewService(repo Repository, lifetime, idleTimeout time.Duration) *Service {
	return &Service{
		repo:        repo,
		lifetime:    lifetime,
		idleTimeout: idleTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Create starts a new session for a user
func (s *Service) Create(ctx context.Context, userID int64, ipAddress, userAgent string) (*Session, error) {
	now := s.now()
	sess := &Session{
		ID:         uuid.NewString(),
		UserID:     userID,
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		ExpiresAt:  now.Add(s.lifetime),
		CreatedAt:  now,
		LastSeenAt: now,
	}

	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return sess, nil
}

// Get resolves a session ID to a live session, refreshing its last-seen
// time. Expired and idle sessions are deleted on sight.
func (s *Service) Get(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if sess.IsExpired(now) || sess.IsIdle(now, s.idleTimeout) {
		_ = s.repo.Delete(ctx, sessionID)
		return nil, ErrSessionExpired
	}

	sess.LastSeenAt = now
	if err := s.repo.Touch(ctx, sessionID, now); err != nil {
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}

	return sess, nil
}

// Delete ends a session
func (s *Service) Delete(ctx context.Context, sessionID string) error {
	return s.repo.Delete(ctx, sessionID)
}

// DeleteByUserID ends every session a user holds
func (s *Service) DeleteByUserID(ctx context.Context, userID int64) error {
	return s.repo.DeleteByUserID(ctx, userID)
}

// CleanupExpired removes sessions whose lifetime has passed. Idle-but-live
// sessions are left for Get to reap.
func (s *Service) CleanupExpired(ctx context.Context) error {
	return s.repo.DeleteExpired(ctx, s.now())
}
