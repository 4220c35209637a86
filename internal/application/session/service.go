package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/qr-attendance-api/internal/config"
	"github.com/qr-attendance-api/internal/domain"
	"github.com/qr-attendance-api/internal/infrastructure/sns"
	"github.com/qr-attendance-api/internal/pkg/id"
)

type Service interface {
	// Start opens an attendance window for the class. At most one ACTIVE
	// session may exist per class; a second Start fails with ErrConflict.
	Start(ctx context.Context, req domain.StartSessionRequest, teacherID string) (*domain.Session, error)
	// End closes the session explicitly. Only the owning teacher may close.
	End(ctx context.Context, sessionID, teacherID string) (*domain.Session, error)
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	// SweepOnce closes every ACTIVE session whose window has elapsed, as of
	// now. Returns the number of sessions closed.
	SweepOnce(ctx context.Context, now time.Time) (int, error)
}

type sessionStore interface {
	Put(ctx context.Context, s *domain.Session) error
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	FindActiveOlderThan(ctx context.Context, cutoff time.Time) ([]domain.Session, error)
	Close(ctx context.Context, sessionID string, end time.Time) error
}

type classStore interface {
	Get(ctx context.Context, classID string) (*domain.Class, error)
	ClaimActiveSession(ctx context.Context, classID, sessionID string) error
	ReleaseActiveSession(ctx context.Context, classID, sessionID string) error
}

type ServiceDeps struct {
	SessionRepo sessionStore
	ClassRepo   classStore
	Events      sns.EventPublisher // nil disables publishing
	Geofence    config.Geofence
	MaxDuration time.Duration
	Now         func() time.Time // defaults to time.Now
}

type service struct {
	sessions    sessionStore
	classes     classStore
	events      sns.EventPublisher
	geofence    config.Geofence
	maxDuration time.Duration
	now         func() time.Time
}

func NewService(deps ServiceDeps) Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		sessions:    deps.SessionRepo,
		classes:     deps.ClassRepo,
		events:      deps.Events,
		geofence:    deps.Geofence,
		maxDuration: deps.MaxDuration,
		now:         now,
	}
}

func (s *service) Start(ctx context.Context, req domain.StartSessionRequest, teacherID string) (*domain.Session, error) {
	class, err := s.classes.Get(ctx, req.ClassID)
	if err != nil {
		return nil, err
	}
	if class.TeacherID != teacherID {
		return nil, fmt.Errorf("class does not belong to teacher: %w", domain.ErrForbidden)
	}

	now := s.now().UTC()
	sess := &domain.Session{
		SessionID:     id.New(),
		ClassID:       class.ClassID,
		StartTime:     now,
		StartTimeUnix: now.Unix(),
		Status:        domain.SessionStatusActive,
		CenterLat:     s.geofence.CenterLat,
		CenterLng:     s.geofence.CenterLng,
		RadiusM:       s.geofence.RadiusM,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.CenterLat != nil && req.CenterLng != nil {
		sess.CenterLat = *req.CenterLat
		sess.CenterLng = *req.CenterLng
	}
	if req.RadiusM != nil {
		sess.RadiusM = *req.RadiusM
	}

	// The claim on the class item is the real single-active-session
	// constraint; it holds across service instances.
	if err := s.classes.ClaimActiveSession(ctx, class.ClassID, sess.SessionID); err != nil {
		return nil, err
	}
	if err := s.sessions.Put(ctx, sess); err != nil {
		if relErr := s.classes.ReleaseActiveSession(ctx, class.ClassID, sess.SessionID); relErr != nil {
			slog.Warn("could not release active-session claim after failed put",
				"class_id", class.ClassID, "session_id", sess.SessionID, "err", relErr)
		}
		return nil, err
	}
	return sess, nil
}

func (s *service) End(ctx context.Context, sessionID, teacherID string) (*domain.Session, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	class, err := s.classes.Get(ctx, sess.ClassID)
	if err != nil {
		return nil, err
	}
	if class.TeacherID != teacherID {
		return nil, fmt.Errorf("class does not belong to teacher: %w", domain.ErrForbidden)
	}
	end := s.now().UTC()
	if err := s.sessions.Close(ctx, sessionID, end); err != nil {
		return nil, err
	}
	if err := s.classes.ReleaseActiveSession(ctx, sess.ClassID, sessionID); err != nil {
		slog.Warn("could not release active-session claim",
			"class_id", sess.ClassID, "session_id", sessionID, "err", err)
	}
	s.publishClosed(ctx, sessionID, sess.ClassID, "explicit")

	sess.Status = domain.SessionStatusClosed
	sess.EndTime = &end
	return sess, nil
}

func (s *service) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	return s.sessions.Get(ctx, sessionID)
}

func (s *service) SweepOnce(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.maxDuration)
	stale, err := s.sessions.FindActiveOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, sess := range stale {
		if err := s.sessions.Close(ctx, sess.SessionID, now); err != nil {
			// Raced with an explicit close: already CLOSED is a no-op here.
			if errors.Is(err, domain.ErrInvalidState) {
				continue
			}
			return closed, err
		}
		if err := s.classes.ReleaseActiveSession(ctx, sess.ClassID, sess.SessionID); err != nil {
			slog.Warn("could not release active-session claim during sweep",
				"class_id", sess.ClassID, "session_id", sess.SessionID, "err", err)
		}
		s.publishClosed(ctx, sess.SessionID, sess.ClassID, "expired")
		closed++
	}
	return closed, nil
}

// publishClosed emits a session-closed event. Publishing is best-effort and
// never blocks or fails the close itself.
func (s *service) publishClosed(ctx context.Context, sessionID, classID, reason string) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishSessionClosed(ctx, sessionID, classID, reason); err != nil {
		slog.Warn("could not publish session-closed event",
			"session_id", sessionID, "reason", reason, "err", err)
	}
}
