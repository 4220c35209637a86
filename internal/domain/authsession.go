package domain

import "time"

// AuthSession is a login session carrying the rotating refresh token. Distinct
// from Session, which is a class attendance window.
type AuthSession struct {
	AuthSessionID    string    `json:"id" dynamodbav:"auth_session_id"`
	UserID           string    `json:"user_id" dynamodbav:"user_id"`
	DeviceID         string    `json:"device_id" dynamodbav:"device_id"`
	Enable           bool      `json:"enable" dynamodbav:"enable"`
	RefreshToken     string    `json:"-" dynamodbav:"refresh_token"`
	RefreshExpiresAt int64     `json:"-" dynamodbav:"refresh_expires_at"`
	CreatedAt        time.Time `json:"created" dynamodbav:"created_at"`
	UpdatedAt        time.Time `json:"updated" dynamodbav:"updated_at"`
	User             *User     `json:"user,omitempty" dynamodbav:"-"`
}
