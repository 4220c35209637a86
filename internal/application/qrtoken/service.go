package qrtoken

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/qr-attendance-api/internal/domain"
	"github.com/qr-attendance-api/internal/pkg/token"
)

type Service interface {
	// Issue mints a fresh admission token for the session, replacing any
	// prior one. Driven by the presenter's polling loop, so a valid token is
	// continuously available while each value stays short-lived.
	Issue(ctx context.Context, sessionID string) (*domain.QrToken, error)
	// Validate reports whether presented matches the session's live token.
	// "invalid token" and "token expired" are distinguishable failures so
	// operators can tell a wrong code from a stale one in logs.
	Validate(ctx context.Context, sessionID, presented string) error
	// SweepOnce deletes tokens already expired as of now. Housekeeping only:
	// Validate rejects expired tokens on its own.
	SweepOnce(ctx context.Context, now time.Time) (int, error)
}

type tokenStore interface {
	Upsert(ctx context.Context, t *domain.QrToken) error
	GetBySession(ctx context.Context, sessionID string) (*domain.QrToken, error)
	DeleteExpiredBefore(ctx context.Context, now time.Time) (int, error)
}

type sessionStore interface {
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
}

type ServiceDeps struct {
	TokenRepo   tokenStore
	SessionRepo sessionStore
	TTL         time.Duration
	Now         func() time.Time // defaults to time.Now
}

type service struct {
	tokens   tokenStore
	sessions sessionStore
	ttl      time.Duration
	now      func() time.Time
}

func NewService(deps ServiceDeps) Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		tokens:   deps.TokenRepo,
		sessions: deps.SessionRepo,
		ttl:      deps.TTL,
		now:      now,
	}
}

func (s *service) Issue(ctx context.Context, sessionID string) (*domain.QrToken, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != domain.SessionStatusActive {
		return nil, fmt.Errorf("session is not active: %w", domain.ErrInvalidState)
	}

	value, err := token.New()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	t := &domain.QrToken{
		SessionID:     sessionID,
		Value:         value,
		IssuedAt:      now,
		ExpiresAt:     now.Add(s.ttl),
		ExpiresAtUnix: now.Add(s.ttl).Unix(),
	}
	if err := s.tokens.Upsert(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *service) Validate(ctx context.Context, sessionID, presented string) error {
	t, err := s.tokens.GetBySession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("invalid token: %w", domain.ErrValidation)
		}
		return err
	}
	if subtle.ConstantTimeCompare([]byte(t.Value), []byte(presented)) != 1 {
		return fmt.Errorf("invalid token: %w", domain.ErrValidation)
	}
	if s.now().After(t.ExpiresAt) {
		return fmt.Errorf("token expired: %w", domain.ErrValidation)
	}
	return nil
}

func (s *service) SweepOnce(ctx context.Context, now time.Time) (int, error) {
	return s.tokens.DeleteExpiredBefore(ctx, now)
}
