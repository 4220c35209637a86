package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qr-attendance-api/internal/domain"
	"github.com/qr-attendance-api/internal/pkg/id"
	"github.com/qr-attendance-api/internal/pkg/token"
	"golang.org/x/crypto/bcrypt"
)

type LoginRequest struct {
	Email      string  `json:"email" validate:"required,email"`
	Password   string  `json:"password" validate:"required"`
	DeviceUUID *string `json:"device_uuid"`
}

type LoginResult struct {
	Bearer       string
	RefreshToken string
	Session      *domain.AuthSession
}

type Service interface {
	Register(ctx context.Context, req domain.RegisterUserRequest) (*domain.User, error)
	Login(ctx context.Context, req LoginRequest) (*LoginResult, error)
	Logout(ctx context.Context, authSessionID string) error
	Refresh(ctx context.Context, refreshToken string) (bearer, newRefreshToken string, err error)
}

type userStore interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Get(ctx context.Context, userID string) (*domain.User, error)
	Put(ctx context.Context, u *domain.User) error
}

type authSessionStore interface {
	Put(ctx context.Context, s *domain.AuthSession) error
	GetByRefreshToken(ctx context.Context, token string) (*domain.AuthSession, error)
	RotateRefreshToken(ctx context.Context, authSessionID, newToken string, newExpiry int64) error
	Update(ctx context.Context, authSessionID string, updates map[string]interface{}) error
}

type deviceStore interface {
	GetByUUID(ctx context.Context, uuid string) (*domain.Device, error)
	Put(ctx context.Context, d *domain.Device) error
}

type jwtSigner interface {
	Sign(userID, deviceID, role, authSessionID string) (string, error)
}

type ServiceDeps struct {
	UserRepo        userStore
	AuthSessionRepo authSessionStore
	DeviceRepo      deviceStore
	JWTProvider     jwtSigner
	RefreshTokenTTL time.Duration
}

type service struct {
	users        userStore
	authSessions authSessionStore
	devices      deviceStore
	jwt          jwtSigner
	refreshTTL   time.Duration
}

func NewService(deps ServiceDeps) Service {
	return &service{
		users:        deps.UserRepo,
		authSessions: deps.AuthSessionRepo,
		devices:      deps.DeviceRepo,
		jwt:          deps.JWTProvider,
		refreshTTL:   deps.RefreshTokenTTL,
	}
}

func (s *service) Register(ctx context.Context, req domain.RegisterUserRequest) (*domain.User, error) {
	if _, err := s.users.GetByEmail(ctx, req.Email); err == nil {
		return nil, fmt.Errorf("email already registered: %w", domain.ErrConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	u := &domain.User{
		UserID:       id.New(),
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: string(hash),
		Role:         req.Role,
		Enable:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Put(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	u, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("invalid credentials: %w", domain.ErrUnauthorized)
	}
	if !u.Enable {
		return nil, fmt.Errorf("account disabled: %w", domain.ErrUnauthorized)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		return nil, fmt.Errorf("invalid credentials: %w", domain.ErrUnauthorized)
	}

	device, err := s.resolveDevice(ctx, req.DeviceUUID, u.UserID)
	if err != nil {
		return nil, err
	}

	refreshToken, err := token.New()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	sess := &domain.AuthSession{
		AuthSessionID:    id.New(),
		UserID:           u.UserID,
		DeviceID:         device.DeviceID,
		Enable:           true,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: now.Add(s.refreshTTL).Unix(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.authSessions.Put(ctx, sess); err != nil {
		return nil, err
	}
	bearer, err := s.jwt.Sign(u.UserID, device.DeviceID, u.Role, sess.AuthSessionID)
	if err != nil {
		return nil, err
	}
	sess.User = u
	return &LoginResult{Bearer: bearer, RefreshToken: refreshToken, Session: sess}, nil
}

func (s *service) Logout(ctx context.Context, authSessionID string) error {
	return s.authSessions.Update(ctx, authSessionID, map[string]interface{}{"enable": false})
}

func (s *service) Refresh(ctx context.Context, refreshToken string) (string, string, error) {
	sess, err := s.authSessions.GetByRefreshToken(ctx, refreshToken)
	if err != nil {
		return "", "", fmt.Errorf("invalid or expired refresh token: %w", domain.ErrUnauthorized)
	}
	if sess.RefreshExpiresAt < time.Now().Unix() {
		return "", "", fmt.Errorf("refresh token expired: %w", domain.ErrUnauthorized)
	}
	newToken, err := token.New()
	if err != nil {
		return "", "", err
	}
	newExpiry := time.Now().Add(s.refreshTTL).Unix()
	if err := s.authSessions.RotateRefreshToken(ctx, sess.AuthSessionID, newToken, newExpiry); err != nil {
		return "", "", err
	}
	u, err := s.users.Get(ctx, sess.UserID)
	if err != nil {
		return "", "", err
	}
	bearer, err := s.jwt.Sign(u.UserID, sess.DeviceID, u.Role, sess.AuthSessionID)
	if err != nil {
		return "", "", err
	}
	return bearer, newToken, nil
}

// resolveDevice returns the existing device for deviceUUID or creates one
// bound to userID. This is where a student's device binding first comes into
// existence; the admission pipeline only ever reads it.
func (s *service) resolveDevice(ctx context.Context, deviceUUID *string, userID string) (*domain.Device, error) {
	if deviceUUID != nil {
		if d, err := s.devices.GetByUUID(ctx, *deviceUUID); err == nil {
			return d, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	devUUID := id.New()
	if deviceUUID != nil {
		devUUID = *deviceUUID
	}
	now := time.Now().UTC()
	d := &domain.Device{
		DeviceID:  id.New(),
		UUID:      devUUID,
		UserID:    userID,
		Enable:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.devices.Put(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}
