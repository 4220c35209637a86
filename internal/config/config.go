package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort string
	AppEnv  string

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables
	S3BucketName   string
	SNSTopicARN    string // session-closed events; empty disables publishing

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTExpiry         time.Duration
	RefreshTokenTTL   time.Duration

	Geofence Geofence

	TokenTTL             time.Duration // admission token lifetime
	SessionMaxDuration   time.Duration // window after which sessions auto-close
	TokenSweepInterval   time.Duration
	SessionSweepInterval time.Duration

	AllowedOrigins []string // CORS allowed origins
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Users        string
	AuthSessions string
	Devices      string
	Classes      string
	Sessions     string
	QrTokens     string
	Attendance   string
}

// Geofence is the deployment-level classroom reference point. Sessions may
// override it per window at start time.
type Geofence struct {
	CenterLat float64
	CenterLng float64
	RadiusM   float64
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort: getEnv("APP_PORT", "3000"),
		AppEnv:  getEnv("APP_ENV", "development"),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Users:        getEnv("DYNAMO_TABLE_USERS", "users"),
			AuthSessions: getEnv("DYNAMO_TABLE_AUTH_SESSIONS", "auth_sessions"),
			Devices:      getEnv("DYNAMO_TABLE_DEVICES", "devices"),
			Classes:      getEnv("DYNAMO_TABLE_CLASSES", "classes"),
			Sessions:     getEnv("DYNAMO_TABLE_SESSIONS", "class_sessions"),
			QrTokens:     getEnv("DYNAMO_TABLE_QR_TOKENS", "qr_tokens"),
			Attendance:   getEnv("DYNAMO_TABLE_ATTENDANCE", "attendance"),
		},
		S3BucketName: getEnv("S3_BUCKET_NAME", "attendance-exports"),
		SNSTopicARN:  getEnv("SNS_TOPIC_ARN", ""),

		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTExpiry:         getEnvDuration("JWT_EXPIRY", 12*time.Hour),
		RefreshTokenTTL:   getEnvDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),

		Geofence: Geofence{
			CenterLat: getEnvFloat("GEOFENCE_CENTER_LAT", 0),
			CenterLng: getEnvFloat("GEOFENCE_CENTER_LNG", 0),
			RadiusM:   getEnvFloat("GEOFENCE_RADIUS_M", 50),
		},

		TokenTTL:             getEnvDuration("QR_TOKEN_TTL", 5*time.Second),
		SessionMaxDuration:   getEnvDuration("SESSION_MAX_DURATION", 60*time.Minute),
		TokenSweepInterval:   getEnvDuration("TOKEN_SWEEP_INTERVAL", 10*time.Minute),
		SessionSweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", time.Minute),

		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
