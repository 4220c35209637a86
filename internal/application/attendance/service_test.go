package attendance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/qr-attendance-api/internal/config"
	"github.com/qr-attendance-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockUserStore struct{ mock.Mock }

func (m *mockUserStore) Get(ctx context.Context, userID string) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if u, _ := args.Get(0).(*domain.User); u != nil {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockDeviceStore struct{ mock.Mock }

func (m *mockDeviceStore) GetBoundByUser(ctx context.Context, userID string) (*domain.Device, error) {
	args := m.Called(ctx, userID)
	if d, _ := args.Get(0).(*domain.Device); d != nil {
		return d, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockSessionStore struct{ mock.Mock }

func (m *mockSessionStore) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	args := m.Called(ctx, sessionID)
	if s, _ := args.Get(0).(*domain.Session); s != nil {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockClassStore struct{ mock.Mock }

func (m *mockClassStore) Get(ctx context.Context, classID string) (*domain.Class, error) {
	args := m.Called(ctx, classID)
	if c, _ := args.Get(0).(*domain.Class); c != nil {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockTokenValidator struct{ mock.Mock }

func (m *mockTokenValidator) Validate(ctx context.Context, sessionID, presented string) error {
	return m.Called(ctx, sessionID, presented).Error(0)
}

type mockAttendanceStore struct{ mock.Mock }

func (m *mockAttendanceStore) Insert(ctx context.Context, rec *domain.AttendanceRecord) error {
	return m.Called(ctx, rec).Error(0)
}
func (m *mockAttendanceStore) Exists(ctx context.Context, sessionID, studentID string) (bool, error) {
	args := m.Called(ctx, sessionID, studentID)
	return args.Bool(0), args.Error(1)
}
func (m *mockAttendanceStore) ListBySession(ctx context.Context, sessionID string) ([]domain.AttendanceRecord, error) {
	args := m.Called(ctx, sessionID)
	if r, _ := args.Get(0).([]domain.AttendanceRecord); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockExportStore struct{ mock.Mock }

func (m *mockExportStore) Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	args := m.Called(ctx, key, r, contentType)
	return args.String(0), args.Error(1)
}
func (m *mockExportStore) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, key, ttl)
	return args.String(0), args.Error(1)
}

// --- helpers ---

var frozen = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// Classroom reference point; farAway is well outside the 50m radius.
const (
	classLat = 40.4168
	classLng = -3.7038
	farLat   = 41.4168
	farLng   = -3.7038
)

type fixture struct {
	users   *mockUserStore
	devices *mockDeviceStore
	sess    *mockSessionStore
	classes *mockClassStore
	tokens  *mockTokenValidator
	records *mockAttendanceStore
	exports *mockExportStore
}

func newFixture() *fixture {
	return &fixture{
		users:   &mockUserStore{},
		devices: &mockDeviceStore{},
		sess:    &mockSessionStore{},
		classes: &mockClassStore{},
		tokens:  &mockTokenValidator{},
		records: &mockAttendanceStore{},
		exports: &mockExportStore{},
	}
}

func (f *fixture) service() Service {
	return NewService(ServiceDeps{
		UserRepo:       f.users,
		DeviceRepo:     f.devices,
		SessionRepo:    f.sess,
		ClassRepo:      f.classes,
		TokenValidator: f.tokens,
		AttendanceRepo: f.records,
		Exports:        f.exports,
		Geofence:       config.Geofence{CenterLat: classLat, CenterLng: classLng, RadiusM: 50},
		Now:            func() time.Time { return frozen },
	})
}

func activeSession() *domain.Session {
	return &domain.Session{
		SessionID: "s1", ClassID: "c1", Status: domain.SessionStatusActive,
		CenterLat: classLat, CenterLng: classLng, RadiusM: 50,
	}
}

func markReq() domain.MarkAttendanceRequest {
	return domain.MarkAttendanceRequest{
		SessionID: "s1",
		Token:     "live-token",
		Latitude:  classLat,
		Longitude: classLng,
	}
}

func ptr[T any](v T) *T { return &v }

// --- Mark gate tests, in pipeline order ---

func TestMark_UnknownStudent(t *testing.T) {
	f := newFixture()
	f.users.On("Get", mock.Anything, "stu1").Return(nil, domain.ErrNotFound)

	_, err := f.service().Mark(context.Background(), markReq(), "stu1")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	// nothing past the first gate runs
	f.devices.AssertNotCalled(t, "GetBoundByUser", mock.Anything, mock.Anything)
}

func TestMark_BoundDeviceMismatch(t *testing.T) {
	f := newFixture()
	f.users.On("Get", mock.Anything, "stu1").Return(&domain.User{UserID: "stu1"}, nil)
	f.devices.On("GetBoundByUser", mock.Anything, "stu1").
		Return(&domain.Device{UUID: "registered-uuid"}, nil)

	req := markReq()
	req.DeviceUUID = ptr("different-uuid")
	_, err := f.service().Mark(context.Background(), req, "stu1")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrForbidden))
	assert.Contains(t, err.Error(), "unregistered device")
}

func TestMark_BoundDeviceButNonePresented(t *testing.T) {
	f := newFixture()
	f.users.On("Get", mock.Anything, "stu1").Return(&domain.User{UserID: "stu1"}, nil)
	f.devices.On("GetBoundByUser", mock.Anything, "stu1").
		Return(&domain.Device{UUID: "registered-uuid"}, nil)

	_, err := f.service().Mark(context.Background(), markReq(), "stu1")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrForbidden))
}

func TestMark_UnboundStudentAnyDevicePasses(t *testing.T) {
	f := newFixture()
	f.users.On("Get", mock.Anything, "stu1").Return(&domain.User{UserID: "stu1"}, nil)
	f.devices.On("GetBoundByUser", mock.Anything, "stu1").Return(nil, domain.ErrNotFound)
	f.sess.On("Get", mock.Anything, "s1").Return(activeSession(), nil)
	f.tokens.On("Validate", mock.Anything, "s1", "live-token").Return(nil)
	f.records.On("Exists", mock.Anything, "s1", "stu1").Return(false, nil)
	f.records.On("Insert", mock.Anything, mock.AnythingOfType("*domain.AttendanceRecord")).Return(nil)

	req := markReq()
	req.DeviceUUID = ptr("whatever-device")
	rec, err := f.service().Mark(context.Background(), req, "stu1")

	require.NoError(t, err)
	assert.Equal(t, domain.AttendancePresent, rec.Status)
}

func TestMark_OutsideGeofence(t *testing.T) {
	f := newFixture()
	f.users.On("Get", mock.Anything, "stu1").Return(&domain.User{UserID: "stu1"}, nil)
	f.devices.On("GetBoundByUser", mock.Anything, "stu1").Return(nil, domain.ErrNotFound)
	f.sess.On("Get", mock.Anything, "s1").Return(activeSession(), nil)

	req := markReq()
	req.Latitude, req.Longitude = farLat, farLng
	_, err := f.service().Mark(context.Background(), req, "stu1")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrForbidden))
	assert.Contains(t, err.Error(), "outside range")
	// token is never consulted for an out-of-range attempt
	f.tokens.AssertNotCalled(t, "Validate", mock.Anything, mock.Anything, mock.Anything)
}

func TestMark_OutsideGeofenceReportedBeforeMissingSession(t *testing.T) {
	f := newFixture()
	f.users.On("Get", mock.Anything, "stu1").Return(&domain.User{UserID: "stu1"}, nil)
	f.devices.On("GetBoundByUser", mock.Anything, "stu1").Return(nil, domain.ErrNotFound)
	f.sess.On("Get", mock.Anything, "s1").Return(nil, domain.ErrNotFound)

	req := markReq()
	req.Latitude, req.Longitude = farLat, farLng
	_, err := f.service().Mark(context.Background(), req, "stu1")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrForbidden))
	assert.Contains(t, err.Error(), "outside range")
}

func TestMark_SessionGeofenceOverridesDefault(t *testing.T) {
	f := newFixture()
	f.users.On("Get", mock.Anything, "stu1").Return(&domain.User{UserID: "stu1"}, nil)
	f.devices.On("GetBoundByUser", mock.Anything, "stu1").Return(nil, domain.ErrNotFound)
	sess := activeSession()
	sess.CenterLat, sess.CenterLng = farLat, farLng
	f.sess.On("Get", mock.Anything, "s1").Return(sess, nil)
	f.tokens.On("Validate", mock.Anything, "s1", "live-token").Return(nil)
	f.records.On("Exists", mock.Anything, "s1", "stu1").Return(false, nil)
	f.records.On("Insert", mock.Anything, mock.AnythingOfType("*domain.AttendanceRecord")).Return(nil)

	// standing at the session's own center, far from the deployment default
	req := markReq()
	req.Latitude, req.Longitude = farLat, farLng
	_, err := f.service().Mark(context.Background(), req, "stu1")

	require.NoError(t, err)
}

func TestMark_SessionNotFound(t *testing.T) {
	f := newFixture()
	f.users.On("Get", mock.Anything, "stu1").Return(&domain.User{UserID: "stu1"}, nil)
	f.devices.On("GetBoundByUser", mock.Anything, "stu1").Return(nil, domain.ErrNotFound)
	f.sess.On("Get", mock.Anything, "s1").Return(nil, domain.ErrNotFound)

	_, err := f.service().Mark(context.Background(), markReq(), "stu1")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestMark_SessionClosed(t *testing.T) {
	f := newFixture()
	f.users.On("Get", mock.Anything, "stu1").Return(&domain.User{UserID: "stu1"}, nil)
	f.devices.On("GetBoundByUser", mock.Anything, "stu1").Return(nil, domain.ErrNotFound)
	sess := activeSession()
	sess.Status = domain.SessionStatusClosed
	f.sess.On("Get", mock.Anything, "s1").Return(sess, nil)

	_, err := f.service().Mark(context.Background(), markReq(), "stu1")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidState))
	assert.Contains(t, err.Error(), "session is not active")
}

func TestMark_StaleToken(t *testing.T) {
	f := newFixture()
	f.users.On("Get", mock.Anything, "stu1").Return(&domain.User{UserID: "stu1"}, nil)
	f.devices.On("GetBoundByUser", mock.Anything, "stu1").Return(nil, domain.ErrNotFound)
	f.sess.On("Get", mock.Anything, "s1").Return(activeSession(), nil)
	f.tokens.On("Validate", mock.Anything, "s1", "live-token").
		Return(fmt.Errorf("token expired: %w", domain.ErrValidation))

	_, err := f.service().Mark(context.Background(), markReq(), "stu1")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))
	f.records.AssertNotCalled(t, "Exists", mock.Anything, mock.Anything, mock.Anything)
}

func TestMark_AlreadyMarked(t *testing.T) {
	f := newFixture()
	f.users.On("Get", mock.Anything, "stu1").Return(&domain.User{UserID: "stu1"}, nil)
	f.devices.On("GetBoundByUser", mock.Anything, "stu1").Return(nil, domain.ErrNotFound)
	f.sess.On("Get", mock.Anything, "s1").Return(activeSession(), nil)
	f.tokens.On("Validate", mock.Anything, "s1", "live-token").Return(nil)
	f.records.On("Exists", mock.Anything, "s1", "stu1").Return(true, nil)

	_, err := f.service().Mark(context.Background(), markReq(), "stu1")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConflict))
	f.records.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestMark_InsertRaceSurfacesConflict(t *testing.T) {
	f := newFixture()
	f.users.On("Get", mock.Anything, "stu1").Return(&domain.User{UserID: "stu1"}, nil)
	f.devices.On("GetBoundByUser", mock.Anything, "stu1").Return(nil, domain.ErrNotFound)
	f.sess.On("Get", mock.Anything, "s1").Return(activeSession(), nil)
	f.tokens.On("Validate", mock.Anything, "s1", "live-token").Return(nil)
	f.records.On("Exists", mock.Anything, "s1", "stu1").Return(false, nil)
	f.records.On("Insert", mock.Anything, mock.AnythingOfType("*domain.AttendanceRecord")).
		Return(domain.ErrConflict)

	_, err := f.service().Mark(context.Background(), markReq(), "stu1")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConflict))
}

func TestMark_HappyPath(t *testing.T) {
	f := newFixture()
	f.users.On("Get", mock.Anything, "stu1").Return(&domain.User{UserID: "stu1"}, nil)
	f.devices.On("GetBoundByUser", mock.Anything, "stu1").
		Return(&domain.Device{UUID: "registered-uuid"}, nil)
	f.sess.On("Get", mock.Anything, "s1").Return(activeSession(), nil)
	f.tokens.On("Validate", mock.Anything, "s1", "live-token").Return(nil)
	f.records.On("Exists", mock.Anything, "s1", "stu1").Return(false, nil)
	f.records.On("Insert", mock.Anything, mock.AnythingOfType("*domain.AttendanceRecord")).Return(nil)

	req := markReq()
	req.DeviceUUID = ptr("registered-uuid")
	rec, err := f.service().Mark(context.Background(), req, "stu1")

	require.NoError(t, err)
	assert.Equal(t, "s1", rec.SessionID)
	assert.Equal(t, "stu1", rec.StudentID)
	assert.Equal(t, domain.AttendancePresent, rec.Status)
	assert.Equal(t, frozen, rec.MarkedAt)
	f.records.AssertExpectations(t)
}

// --- ListForSession tests ---

func TestListForSession_NotSessionOwner(t *testing.T) {
	f := newFixture()
	f.sess.On("Get", mock.Anything, "s1").Return(activeSession(), nil)
	f.classes.On("Get", mock.Anything, "c1").Return(&domain.Class{ClassID: "c1", TeacherID: "t1"}, nil)

	_, err := f.service().ListForSession(context.Background(), "s1", "someone-else")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrForbidden))
}

func TestListForSession_SortedByMarkedAt(t *testing.T) {
	f := newFixture()
	f.sess.On("Get", mock.Anything, "s1").Return(activeSession(), nil)
	f.classes.On("Get", mock.Anything, "c1").Return(&domain.Class{ClassID: "c1", TeacherID: "t1"}, nil)
	f.records.On("ListBySession", mock.Anything, "s1").Return([]domain.AttendanceRecord{
		{SessionID: "s1", StudentID: "late", MarkedAt: frozen.Add(10 * time.Minute), Status: domain.AttendancePresent},
		{SessionID: "s1", StudentID: "early", MarkedAt: frozen, Status: domain.AttendancePresent},
	}, nil)
	f.users.On("Get", mock.Anything, "early").Return(&domain.User{UserID: "early", Email: "e@x.com", Name: "Early"}, nil)
	f.users.On("Get", mock.Anything, "late").Return(&domain.User{UserID: "late", Email: "l@x.com", Name: "Late"}, nil)

	entries, err := f.service().ListForSession(context.Background(), "s1", "t1")

	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "early", entries[0].StudentID)
	assert.Equal(t, "Early", entries[0].StudentName)
	assert.Equal(t, "late", entries[1].StudentID)
}

// --- ExportCSV tests ---

func TestExportCSV_UploadsAndPresigns(t *testing.T) {
	f := newFixture()
	f.sess.On("Get", mock.Anything, "s1").Return(activeSession(), nil)
	f.classes.On("Get", mock.Anything, "c1").Return(&domain.Class{ClassID: "c1", TeacherID: "t1"}, nil)
	f.records.On("ListBySession", mock.Anything, "s1").Return([]domain.AttendanceRecord{
		{SessionID: "s1", StudentID: "stu1", MarkedAt: frozen, Status: domain.AttendancePresent},
	}, nil)
	f.users.On("Get", mock.Anything, "stu1").Return(&domain.User{UserID: "stu1", Email: "s@x.com", Name: "Stu"}, nil)
	f.exports.On("Upload", mock.Anything, "exports/s1.csv", mock.Anything, "text/csv").Return("exports/s1.csv", nil)
	f.exports.On("PresignedURL", mock.Anything, "exports/s1.csv", exportURLTTL).
		Return("https://bucket.example/exports/s1.csv?sig=abc", nil)

	url, err := f.service().ExportCSV(context.Background(), "s1", "t1")

	require.NoError(t, err)
	assert.Equal(t, "https://bucket.example/exports/s1.csv?sig=abc", url)
	f.exports.AssertExpectations(t)
}

func TestExportCSV_NoExportStore(t *testing.T) {
	f := newFixture()
	svc := NewService(ServiceDeps{
		UserRepo:       f.users,
		DeviceRepo:     f.devices,
		SessionRepo:    f.sess,
		ClassRepo:      f.classes,
		TokenValidator: f.tokens,
		AttendanceRepo: f.records,
		Geofence:       config.Geofence{CenterLat: classLat, CenterLng: classLng, RadiusM: 50},
	})

	_, err := svc.ExportCSV(context.Background(), "s1", "t1")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnavailable))
}
