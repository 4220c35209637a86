package domain

import "time"

const (
	SessionStatusActive = "ACTIVE"
	SessionStatusClosed = "CLOSED"
)

// Session is a time-bounded attendance window tied to one class. Once CLOSED
// it never transitions back.
type Session struct {
	SessionID string     `json:"id" dynamodbav:"session_id"`
	ClassID   string     `json:"class_id" dynamodbav:"class_id"`
	StartTime time.Time  `json:"start_time" dynamodbav:"start_time"`
	// StartTimeUnix duplicates StartTime as epoch seconds for DynamoDB
	// numeric comparisons in the session sweeper's stale-window query.
	StartTimeUnix int64      `json:"-" dynamodbav:"start_time_unix"`
	EndTime       *time.Time `json:"end_time,omitempty" dynamodbav:"end_time,omitempty"`
	Status        string     `json:"status" dynamodbav:"status"`
	// Geofence reference point for this session's admission checks.
	CenterLat float64 `json:"center_lat" dynamodbav:"center_lat"`
	CenterLng float64 `json:"center_lng" dynamodbav:"center_lng"`
	RadiusM   float64 `json:"radius_m" dynamodbav:"radius_m"`
	CreatedAt time.Time `json:"created" dynamodbav:"created_at"`
	UpdatedAt time.Time `json:"updated" dynamodbav:"updated_at"`
}

type StartSessionRequest struct {
	ClassID string `json:"class_id" validate:"required"`
	// Optional geofence override; deployment defaults apply when omitted.
	CenterLat *float64 `json:"center_lat" validate:"omitempty,latitude"`
	CenterLng *float64 `json:"center_lng" validate:"omitempty,longitude"`
	RadiusM   *float64 `json:"radius_m" validate:"omitempty,gt=0"`
}

type EndSessionRequest struct {
	SessionID string `json:"session_id" validate:"required"`
}
