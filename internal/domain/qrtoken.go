package domain

import "time"

// QrToken is the rotating admission secret for one session. The table is keyed
// by session_id, so re-issuing replaces the prior token: at most one token
// exists per session at any instant.
type QrToken struct {
	SessionID string    `json:"session_id" dynamodbav:"session_id"`
	Value     string    `json:"token" dynamodbav:"token_value"`
	IssuedAt  time.Time `json:"issued_at" dynamodbav:"issued_at"`
	ExpiresAt time.Time `json:"expires_at" dynamodbav:"expires_at"`
	// ExpiresAtUnix duplicates ExpiresAt as epoch seconds for DynamoDB
	// numeric comparisons in the sweeper's conditional deletes.
	ExpiresAtUnix int64 `json:"-" dynamodbav:"expires_at_unix"`
}

// QrPayload is the round-trip contract with the scanner: whatever is rendered
// must come back to the admission pipeline unchanged.
type QrPayload struct {
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}
