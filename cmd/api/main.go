package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/qr-attendance-api/internal/application/qrtoken"
	"github.com/qr-attendance-api/internal/application/session"
	"github.com/qr-attendance-api/internal/config"
	"github.com/qr-attendance-api/internal/infrastructure/dynamo"
	jwtinfra "github.com/qr-attendance-api/internal/infrastructure/jwt"
	s3infra "github.com/qr-attendance-api/internal/infrastructure/s3"
	"github.com/qr-attendance-api/internal/infrastructure/sns"
	"github.com/qr-attendance-api/internal/sweeper"
	transporthttp "github.com/qr-attendance-api/internal/transport/http"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()

	// Bootstrap DynamoDB tables (creates them if they don't exist).
	dynamoClient := dynamo.NewClient(cfg)
	dynamo.Bootstrap(context.Background(), dynamoClient, cfg.DynamoTables)

	// JWT provider (optional — graceful fallback if keys are missing).
	var jwtProvider *jwtinfra.Provider
	if p, err := jwtinfra.NewProvider(cfg); err == nil {
		jwtProvider = p
	} else {
		log.Printf("WARN: JWT provider not available: %v", err)
	}

	// S3 store for attendance report exports.
	s3Client := s3infra.NewClient(cfg)
	s3Store := s3infra.NewStore(s3Client, cfg.S3BucketName)

	// SNS publisher for session-closed events (optional — graceful fallback).
	var events sns.EventPublisher
	if cfg.SNSTopicARN != "" {
		if pub, err := sns.NewPublisher(cfg); err == nil {
			events = pub
		} else {
			log.Printf("WARN: SNS publisher not available: %v", err)
		}
	}

	deps := &transporthttp.Deps{
		UserRepo:        dynamo.NewUserRepo(dynamoClient, cfg.DynamoTables.Users),
		AuthSessionRepo: dynamo.NewAuthSessionRepo(dynamoClient, cfg.DynamoTables.AuthSessions),
		DeviceRepo:      dynamo.NewDeviceRepo(dynamoClient, cfg.DynamoTables.Devices),
		ClassRepo:       dynamo.NewClassRepo(dynamoClient, cfg.DynamoTables.Classes),
		SessionRepo:     dynamo.NewSessionRepo(dynamoClient, cfg.DynamoTables.Sessions),
		QrTokenRepo:     dynamo.NewQrTokenRepo(dynamoClient, cfg.DynamoTables.QrTokens),
		AttendanceRepo:  dynamo.NewAttendanceRepo(dynamoClient, cfg.DynamoTables.Attendance),
		S3Store:         s3Store,
		Events:          events,
		JWTProvider:     jwtProvider,
	}

	router := transporthttp.NewRouter(cfg, deps)

	// Reconciliation loops. The token sweeper is housekeeping for expired
	// admission tokens; the session sweeper closes windows whose maximum
	// duration has elapsed without an explicit end.
	sessionSvc := session.NewService(session.ServiceDeps{
		SessionRepo: deps.SessionRepo,
		ClassRepo:   deps.ClassRepo,
		Events:      events,
		Geofence:    cfg.Geofence,
		MaxDuration: cfg.SessionMaxDuration,
	})
	tokenSvc := qrtoken.NewService(qrtoken.ServiceDeps{
		TokenRepo:   deps.QrTokenRepo,
		SessionRepo: deps.SessionRepo,
		TTL:         cfg.TokenTTL,
	})
	tokenSweeper := sweeper.New("qr-tokens", cfg.TokenSweepInterval, tokenSvc.SweepOnce)
	sessionSweeper := sweeper.New("sessions", cfg.SessionSweepInterval, sessionSvc.SweepOnce)
	tokenSweeper.Start()
	sessionSweeper.Start()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s (env=%s)", cfg.AppPort, cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	tokenSweeper.Stop()
	sessionSweeper.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
