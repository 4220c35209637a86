package domain

import "time"

type Class struct {
	ClassID   string    `json:"id" dynamodbav:"class_id"`
	Name      string    `json:"name" dynamodbav:"name"`
	TeacherID string    `json:"teacher_id" dynamodbav:"teacher_id"`
	// ActiveSessionID is the claim slot enforcing at most one ACTIVE session
	// per class. Empty when no session is running.
	ActiveSessionID string    `json:"active_session_id,omitempty" dynamodbav:"active_session_id,omitempty"`
	CreatedAt       time.Time `json:"created" dynamodbav:"created_at"`
}

type CreateClassRequest struct {
	Name string `json:"name" validate:"required"`
}
