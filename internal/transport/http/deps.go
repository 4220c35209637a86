package http

import (
	"github.com/qr-attendance-api/internal/infrastructure/dynamo"
	jwtinfra "github.com/qr-attendance-api/internal/infrastructure/jwt"
	s3infra "github.com/qr-attendance-api/internal/infrastructure/s3"
	"github.com/qr-attendance-api/internal/infrastructure/sns"
)

// Deps holds all infrastructure dependencies for the router.
type Deps struct {
	UserRepo        *dynamo.UserRepo
	AuthSessionRepo *dynamo.AuthSessionRepo
	DeviceRepo      *dynamo.DeviceRepo
	ClassRepo       *dynamo.ClassRepo
	SessionRepo     *dynamo.SessionRepo
	QrTokenRepo     *dynamo.QrTokenRepo
	AttendanceRepo  *dynamo.AttendanceRepo
	S3Store         *s3infra.Store     // nil disables CSV export
	Events          sns.EventPublisher // nil disables session-closed events
	JWTProvider     *jwtinfra.Provider
}
