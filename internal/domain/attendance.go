package domain

import "time"

const (
	AttendancePresent = "PRESENT"
	// AttendanceAbsent is reserved for future explicit absence marking.
	// Nothing writes it today.
	AttendanceAbsent = "ABSENT"
)

// AttendanceRecord is one admitted attempt. The composite identity
// (session_id, student_id) is the table key, which makes the record
// write-once: the conditional insert is the anti-replay guarantee.
type AttendanceRecord struct {
	SessionID string    `json:"session_id" dynamodbav:"session_id"`
	StudentID string    `json:"student_id" dynamodbav:"student_id"`
	MarkedAt  time.Time `json:"marked_at" dynamodbav:"marked_at"`
	Status    string    `json:"status" dynamodbav:"status"`
}

// AttendanceEntry is a record resolved to student identity for display.
type AttendanceEntry struct {
	StudentID    string    `json:"student_id"`
	StudentEmail string    `json:"student_email"`
	StudentName  string    `json:"student_name"`
	MarkedAt     time.Time `json:"marked_at"`
	Status       string    `json:"status"`
}

type MarkAttendanceRequest struct {
	SessionID  string  `json:"session_id" validate:"required"`
	Token      string  `json:"token" validate:"required"`
	DeviceUUID *string `json:"device_uuid"`
	Latitude   float64 `json:"latitude" validate:"latitude"`
	Longitude  float64 `json:"longitude" validate:"longitude"`
}
