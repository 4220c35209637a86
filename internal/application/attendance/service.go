// Package attendance implements the admission pipeline: the ordered sequence
// of gates that decides whether one attempt, right now, produces an
// attendance record. Gate order is a behavioral contract: the first failing
// gate determines the error the caller sees.
package attendance

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/qr-attendance-api/internal/config"
	"github.com/qr-attendance-api/internal/domain"
	"github.com/qr-attendance-api/internal/pkg/geo"
)

// exportURLTTL bounds how long an exported report link stays fetchable.
const exportURLTTL = 15 * time.Minute

type Service interface {
	// Mark runs the admission gates for one attempt and, when every gate
	// passes, appends exactly one record for (session, student).
	Mark(ctx context.Context, req domain.MarkAttendanceRequest, studentID string) (*domain.AttendanceRecord, error)
	// ListForSession returns the session's ledger resolved to student
	// identity, sorted by marked_at ascending. Teacher-only.
	ListForSession(ctx context.Context, sessionID, teacherID string) ([]domain.AttendanceEntry, error)
	// ExportCSV renders the ledger as CSV, stores it, and returns a
	// time-limited download URL.
	ExportCSV(ctx context.Context, sessionID, teacherID string) (string, error)
}

type userStore interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
}

type deviceStore interface {
	GetBoundByUser(ctx context.Context, userID string) (*domain.Device, error)
}

type sessionStore interface {
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
}

type classStore interface {
	Get(ctx context.Context, classID string) (*domain.Class, error)
}

type tokenValidator interface {
	Validate(ctx context.Context, sessionID, presented string) error
}

type attendanceStore interface {
	Insert(ctx context.Context, rec *domain.AttendanceRecord) error
	Exists(ctx context.Context, sessionID, studentID string) (bool, error)
	ListBySession(ctx context.Context, sessionID string) ([]domain.AttendanceRecord, error)
}

type exportStore interface {
	Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type ServiceDeps struct {
	UserRepo       userStore
	DeviceRepo     deviceStore
	SessionRepo    sessionStore
	ClassRepo      classStore
	TokenValidator tokenValidator
	AttendanceRepo attendanceStore
	Exports        exportStore // nil disables ExportCSV
	Geofence       config.Geofence
	Now            func() time.Time // defaults to time.Now
}

type service struct {
	users    userStore
	devices  deviceStore
	sessions sessionStore
	classes  classStore
	tokens   tokenValidator
	records  attendanceStore
	exports  exportStore
	geofence config.Geofence
	now      func() time.Time
}

func NewService(deps ServiceDeps) Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		users:    deps.UserRepo,
		devices:  deps.DeviceRepo,
		sessions: deps.SessionRepo,
		classes:  deps.ClassRepo,
		tokens:   deps.TokenValidator,
		records:  deps.AttendanceRepo,
		exports:  deps.Exports,
		geofence: deps.Geofence,
		now:      now,
	}
}

func (s *service) Mark(ctx context.Context, req domain.MarkAttendanceRequest, studentID string) (*domain.AttendanceRecord, error) {
	// Gate 1: participant exists.
	if _, err := s.users.Get(ctx, studentID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("student not found: %w", domain.ErrNotFound)
		}
		return nil, err
	}

	// Gate 2: device binding. No binding means any device passes.
	bound, err := s.devices.GetBoundByUser(ctx, studentID)
	switch {
	case err == nil:
		if req.DeviceUUID == nil || *req.DeviceUUID != bound.UUID {
			return nil, fmt.Errorf("unregistered device: %w", domain.ErrForbidden)
		}
	case errors.Is(err, domain.ErrNotFound):
		// not bound
	default:
		return nil, err
	}

	// The session row is loaded here as data only; its lifecycle check is
	// gate 4 so that a geofence failure is reported first, matching the
	// documented gate order even when the session does not exist.
	sess, sessErr := s.sessions.Get(ctx, req.SessionID)
	if sessErr != nil && !errors.Is(sessErr, domain.ErrNotFound) {
		return nil, sessErr
	}

	// Gate 3: geofence. The session's configured center when known,
	// otherwise the deployment default.
	centerLat, centerLng, radius := s.geofence.CenterLat, s.geofence.CenterLng, s.geofence.RadiusM
	if sessErr == nil {
		centerLat, centerLng, radius = sess.CenterLat, sess.CenterLng, sess.RadiusM
	}
	if !geo.WithinRadius(req.Latitude, req.Longitude, centerLat, centerLng, radius) {
		return nil, fmt.Errorf("outside range: %w", domain.ErrForbidden)
	}

	// Gate 4: session exists and is ACTIVE.
	if sessErr != nil {
		return nil, sessErr
	}
	if sess.Status != domain.SessionStatusActive {
		return nil, fmt.Errorf("session is not active: %w", domain.ErrInvalidState)
	}

	// Gate 5: token matches and is unexpired.
	if err := s.tokens.Validate(ctx, req.SessionID, req.Token); err != nil {
		return nil, err
	}

	// Gate 6: no prior record. An optimization only; gate 7's conditional
	// insert is the real enforcement.
	exists, err := s.records.Exists(ctx, req.SessionID, studentID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("attendance already marked: %w", domain.ErrConflict)
	}

	// Gate 7: commit. A lost race surfaces as the same ErrConflict.
	rec := &domain.AttendanceRecord{
		SessionID: req.SessionID,
		StudentID: studentID,
		MarkedAt:  s.now().UTC(),
		Status:    domain.AttendancePresent,
	}
	if err := s.records.Insert(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *service) ListForSession(ctx context.Context, sessionID, teacherID string) ([]domain.AttendanceEntry, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	class, err := s.classes.Get(ctx, sess.ClassID)
	if err != nil {
		return nil, err
	}
	if class.TeacherID != teacherID {
		return nil, fmt.Errorf("session does not belong to teacher: %w", domain.ErrForbidden)
	}

	records, err := s.records.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].MarkedAt.Before(records[j].MarkedAt)
	})

	entries := make([]domain.AttendanceEntry, 0, len(records))
	for _, rec := range records {
		entry := domain.AttendanceEntry{
			StudentID: rec.StudentID,
			MarkedAt:  rec.MarkedAt,
			Status:    rec.Status,
		}
		if u, err := s.users.Get(ctx, rec.StudentID); err == nil {
			entry.StudentEmail = u.Email
			entry.StudentName = u.Name
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *service) ExportCSV(ctx context.Context, sessionID, teacherID string) (string, error) {
	if s.exports == nil {
		return "", fmt.Errorf("export storage not configured: %w", domain.ErrUnavailable)
	}
	entries, err := s.ListForSession(ctx, sessionID, teacherID)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"student_id", "student_email", "student_name", "marked_at", "status"})
	for _, e := range entries {
		_ = w.Write([]string{e.StudentID, e.StudentEmail, e.StudentName, e.MarkedAt.UTC().Format(time.RFC3339), e.Status})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("write csv: %w", err)
	}

	key := fmt.Sprintf("exports/%s.csv", sessionID)
	if _, err := s.exports.Upload(ctx, key, &buf, "text/csv"); err != nil {
		return "", err
	}
	return s.exports.PresignedURL(ctx, key, exportURLTTL)
}
