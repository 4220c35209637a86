package handler

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/qr-attendance-api/internal/config"
	"github.com/qr-attendance-api/internal/domain"
	jwtinfra "github.com/qr-attendance-api/internal/infrastructure/jwt"
	"github.com/qr-attendance-api/internal/transport/http/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mock ---

type mockAttendanceSvc struct{ mock.Mock }

func (m *mockAttendanceSvc) Mark(ctx context.Context, req domain.MarkAttendanceRequest, studentID string) (*domain.AttendanceRecord, error) {
	args := m.Called(ctx, req, studentID)
	if r, _ := args.Get(0).(*domain.AttendanceRecord); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAttendanceSvc) ListForSession(ctx context.Context, sessionID, teacherID string) ([]domain.AttendanceEntry, error) {
	args := m.Called(ctx, sessionID, teacherID)
	if e, _ := args.Get(0).([]domain.AttendanceEntry); e != nil {
		return e, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAttendanceSvc) ExportCSV(ctx context.Context, sessionID, teacherID string) (string, error) {
	args := m.Called(ctx, sessionID, teacherID)
	return args.String(0), args.Error(1)
}

// --- helpers ---

// newTestJWTProvider generates a fresh RSA key pair and returns a *jwtinfra.Provider.
func newTestJWTProvider(t *testing.T) *jwtinfra.Provider {
	t.Helper()
	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	dir := t.TempDir()
	privPath := filepath.Join(dir, "private.pem")
	pubPath := filepath.Join(dir, "public.pem")

	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privKey)})
	require.NoError(t, os.WriteFile(privPath, privPEM, 0600))

	pubBytes, err := x509.MarshalPKIXPublicKey(&privKey.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	require.NoError(t, os.WriteFile(pubPath, pubPEM, 0600))

	p, err := jwtinfra.NewProvider(&config.Config{
		JWTPrivateKeyPath: privPath,
		JWTPublicKeyPath:  pubPath,
		JWTExpiry:         24 * time.Hour,
	})
	require.NoError(t, err)
	return p
}

// bearerReq builds a request with a signed Bearer token for the given userID and role.
func bearerReq(t *testing.T, p *jwtinfra.Provider, method, target, userID, role string, body []byte) *http.Request {
	t.Helper()
	token, err := p.Sign(userID, "dev1", role, "as1")
	require.NoError(t, err)
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

// withChiID injects a chi URL param "id" into the request context.
func withChiID(r *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// serveAuthed wraps the handler with middleware.Auth before serving.
func serveAuthed(p *jwtinfra.Provider, h http.Handler, w http.ResponseWriter, r *http.Request) {
	middleware.Auth(p)(h).ServeHTTP(w, r)
}

func markBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(domain.MarkAttendanceRequest{
		SessionID: "s1", Token: "live-token", Latitude: 40.4168, Longitude: -3.7038,
	})
	require.NoError(t, err)
	return body
}

// --- Mark tests ---

func TestMark_NoClaims(t *testing.T) {
	h := NewAttendanceHandler(&mockAttendanceSvc{})
	r := httptest.NewRequest(http.MethodPost, "/v1/attendance", bytes.NewReader(markBody(t)))
	rr := httptest.NewRecorder()
	h.Mark(rr, r)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestMark_InvalidBody(t *testing.T) {
	p := newTestJWTProvider(t)
	h := NewAttendanceHandler(&mockAttendanceSvc{})
	r := bearerReq(t, p, http.MethodPost, "/v1/attendance", "stu1", domain.RoleStudent, []byte("not-json"))
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.Mark), rr, r)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMark_ValidationFailure(t *testing.T) {
	p := newTestJWTProvider(t)
	h := NewAttendanceHandler(&mockAttendanceSvc{})
	body, _ := json.Marshal(domain.MarkAttendanceRequest{SessionID: "s1"}) // token missing
	r := bearerReq(t, p, http.MethodPost, "/v1/attendance", "stu1", domain.RoleStudent, body)
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.Mark), rr, r)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMark_DomainErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"duplicate record", domain.ErrConflict, http.StatusConflict},
		{"geofence or device rejection", domain.ErrForbidden, http.StatusForbidden},
		{"closed session", domain.ErrInvalidState, http.StatusBadRequest},
		{"stale token", domain.ErrValidation, http.StatusBadRequest},
		{"missing session", domain.ErrNotFound, http.StatusNotFound},
		{"store outage", domain.ErrUnavailable, http.StatusServiceUnavailable},
	}

	p := newTestJWTProvider(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAttendanceSvc{}
			svc.On("Mark", mock.Anything, mock.Anything, "stu1").Return(nil, tt.err)
			h := NewAttendanceHandler(svc)

			r := bearerReq(t, p, http.MethodPost, "/v1/attendance", "stu1", domain.RoleStudent, markBody(t))
			rr := httptest.NewRecorder()
			serveAuthed(p, http.HandlerFunc(h.Mark), rr, r)

			assert.Equal(t, tt.wantCode, rr.Code)
			svc.AssertExpectations(t)
		})
	}
}

func TestMark_HappyPath(t *testing.T) {
	p := newTestJWTProvider(t)
	svc := &mockAttendanceSvc{}
	rec := &domain.AttendanceRecord{
		SessionID: "s1", StudentID: "stu1", Status: domain.AttendancePresent,
		MarkedAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
	svc.On("Mark", mock.Anything, mock.Anything, "stu1").Return(rec, nil)
	h := NewAttendanceHandler(svc)

	r := bearerReq(t, p, http.MethodPost, "/v1/attendance", "stu1", domain.RoleStudent, markBody(t))
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.Mark), rr, r)

	assert.Equal(t, http.StatusCreated, rr.Code)
	var resp domain.AttendanceRecord
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "stu1", resp.StudentID)
	assert.Equal(t, domain.AttendancePresent, resp.Status)
	svc.AssertExpectations(t)
}

// --- ListForSession / Export tests ---

func TestListForSession_HappyPath(t *testing.T) {
	p := newTestJWTProvider(t)
	svc := &mockAttendanceSvc{}
	svc.On("ListForSession", mock.Anything, "s1", "t1").Return([]domain.AttendanceEntry{
		{StudentID: "stu1", StudentName: "Alice", Status: domain.AttendancePresent},
	}, nil)
	h := NewAttendanceHandler(svc)

	r := bearerReq(t, p, http.MethodGet, "/v1/sessions/s1/attendance", "t1", domain.RoleTeacher, nil)
	r = withChiID(r, "s1")
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.ListForSession), rr, r)

	assert.Equal(t, http.StatusOK, rr.Code)
	var entries []domain.AttendanceEntry
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "Alice", entries[0].StudentName)
}

func TestExport_ReturnsURL(t *testing.T) {
	p := newTestJWTProvider(t)
	svc := &mockAttendanceSvc{}
	svc.On("ExportCSV", mock.Anything, "s1", "t1").Return("https://bucket.example/exports/s1.csv?sig=abc", nil)
	h := NewAttendanceHandler(svc)

	r := bearerReq(t, p, http.MethodPost, "/v1/sessions/s1/attendance/export", "t1", domain.RoleTeacher, nil)
	r = withChiID(r, "s1")
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.Export), rr, r)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		URL string `json:"url"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Contains(t, resp.URL, "exports/s1.csv")
}
