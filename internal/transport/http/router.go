package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/qr-attendance-api/internal/application/attendance"
	"github.com/qr-attendance-api/internal/application/auth"
	"github.com/qr-attendance-api/internal/application/class"
	"github.com/qr-attendance-api/internal/application/qrtoken"
	"github.com/qr-attendance-api/internal/application/session"
	"github.com/qr-attendance-api/internal/config"
	"github.com/qr-attendance-api/internal/domain"
	"github.com/qr-attendance-api/internal/transport/http/handler"
	appmiddleware "github.com/qr-attendance-api/internal/transport/http/middleware"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var authMw func(http.Handler) http.Handler
	if deps.JWTProvider != nil {
		authMw = appmiddleware.Auth(deps.JWTProvider)
	} else {
		authMw = func(next http.Handler) http.Handler { return next }
	}

	// 5 requests/second, burst of 10 — applied to sensitive public endpoints.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)
	// Admission attempts come in bursts when a class scans at once; a wider
	// bucket keeps honest scans through while still capping replay floods.
	markRL := appmiddleware.NewRateLimiter(rate.Limit(10), 30)

	authSvc := auth.NewService(auth.ServiceDeps{
		UserRepo:        deps.UserRepo,
		AuthSessionRepo: deps.AuthSessionRepo,
		DeviceRepo:      deps.DeviceRepo,
		JWTProvider:     deps.JWTProvider,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
	})
	classSvc := class.NewService(deps.ClassRepo)
	sessionSvc := session.NewService(session.ServiceDeps{
		SessionRepo: deps.SessionRepo,
		ClassRepo:   deps.ClassRepo,
		Events:      deps.Events,
		Geofence:    cfg.Geofence,
		MaxDuration: cfg.SessionMaxDuration,
	})
	tokenSvc := qrtoken.NewService(qrtoken.ServiceDeps{
		TokenRepo:   deps.QrTokenRepo,
		SessionRepo: deps.SessionRepo,
		TTL:         cfg.TokenTTL,
	})
	attendanceDeps := attendance.ServiceDeps{
		UserRepo:       deps.UserRepo,
		DeviceRepo:     deps.DeviceRepo,
		SessionRepo:    deps.SessionRepo,
		ClassRepo:      deps.ClassRepo,
		TokenValidator: tokenSvc,
		AttendanceRepo: deps.AttendanceRepo,
		Geofence:       cfg.Geofence,
	}
	if deps.S3Store != nil {
		attendanceDeps.Exports = deps.S3Store
	}
	attendanceSvc := attendance.NewService(attendanceDeps)

	healthH := handler.NewHealthHandler()
	authH := handler.NewAuthHandler(authSvc)
	classH := handler.NewClassHandler(classSvc)
	sessionH := handler.NewSessionHandler(sessionSvc, tokenSvc)
	attendanceH := handler.NewAttendanceHandler(attendanceSvc)

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check", healthH.Ping)
		r.With(sensitiveRL.Limit).Post("/auth/register", authH.Register)
		r.With(sensitiveRL.Limit).Post("/auth/login", authH.Login)
		r.Post("/auth/refresh", authH.Refresh)

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)

			r.Post("/auth/logout", authH.Logout)
			r.Get("/sessions/{id}", sessionH.Get)

			// Teacher-only
			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.RequireRole(domain.RoleTeacher, domain.RoleAdmin))

				r.Post("/classes", classH.Create)
				r.Get("/classes", classH.List)
				r.Post("/sessions", sessionH.Start)
				r.Post("/sessions/{id}/end", sessionH.End)
				r.Get("/sessions/{id}/qr", sessionH.QR)
				r.Get("/sessions/{id}/attendance", attendanceH.ListForSession)
				r.Post("/sessions/{id}/attendance/export", attendanceH.Export)
			})

			// Student-only
			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.RequireRole(domain.RoleStudent))

				r.With(markRL.Limit).Post("/attendance/mark", attendanceH.Mark)
			})
		})
	})

	return r
}
