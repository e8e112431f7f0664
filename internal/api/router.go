package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/hugh/go-referral/internal/api/handlers"
	"github.com/hugh/go-referral/internal/api/middleware"
	"github.com/hugh/go-referral/internal/auth"
	"github.com/hugh/go-referral/internal/magiclink"
	"github.com/hugh/go-referral/internal/referral"
	"github.com/hugh/go-referral/internal/storage"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Router struct {
	chi.Router
}

type RouterConfig struct {
	DB             *gorm.DB
	Redis          *redis.Client
	Inspector      handlers.QueueInspector // optional, adds queue depth to /health
	Logger         *slog.Logger
	JWTService     *auth.JWTService
	AuthService    *auth.Service
	Referrals      *referral.Service
	Links          *magiclink.Registry
	Presigner      storage.Presigner // optional
	PublicBaseURL  string
	SessionTTL     time.Duration
	SecureCookies  bool
	AllowedOrigins []string // CORS allowed origins
	RateLimitReqs  int      // Rate limit requests per window
	RateLimitSecs  int      // Rate limit window in seconds
	PublicLimitReq int      // Rate limit for token-addressed public endpoints
	PublicLimitSec int

	CodeLimitReq int // Access-code attempts per magic link token
	CodeLimitSec int
}

func NewRouter(cfg RouterConfig) *Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))

	// CORS - restrict to configured origins, or allow localhost in development
	allowedOrigins := cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Auth-Token"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	urls := handlers.PublicURLs{Base: cfg.PublicBaseURL}

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(cfg.DB, cfg.Redis, cfg.Inspector)
	authHandler := handlers.NewAuthHandler(cfg.AuthService, cfg.SessionTTL, cfg.SecureCookies)
	referralHandler := handlers.NewReferralHandler(cfg.Referrals, urls, cfg.Presigner)
	linkHandler := handlers.NewLinkHandler(cfg.Links, urls)
	clinicHandler := handlers.NewClinicHandler(cfg.Referrals, urls)
	publicHandler := handlers.NewPublicHandler(cfg.Referrals, cfg.Links, urls, cfg.Presigner)

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if cfg.RateLimitReqs > 0 {
				r.Use(middleware.RateLimit(cfg.RateLimitReqs, cfg.RateLimitSecs))
			}

			r.Post("/auth/register", authHandler.Register)
			r.Post("/auth/login", authHandler.Login)
			r.Post("/auth/logout", authHandler.Logout)

			// Protected routes
			r.Group(func(r chi.Router) {
				r.Use(middleware.Auth(cfg.JWTService))

				r.Get("/me", authHandler.Me)

				r.Route("/clinic", func(r chi.Router) {
					r.Get("/", clinicHandler.Get)
					r.With(middleware.RequireRole("owner", "admin")).Put("/", clinicHandler.Update)
				})

				r.Route("/referrals", func(r chi.Router) {
					r.Get("/", referralHandler.List)
					r.Post("/", referralHandler.Create)
					r.Get("/{id}", referralHandler.Get)
					r.Patch("/{id}/status", referralHandler.UpdateStatus)
					r.Put("/{id}/schedule", referralHandler.Schedule)
					r.Put("/{id}/post-op", referralHandler.SchedulePostOp)
					r.Post("/{id}/share", referralHandler.Share)
					r.Post("/{id}/status-token", referralHandler.StatusToken)
					r.Post("/{id}/report", referralHandler.Report)
					r.Get("/{id}/events", referralHandler.Events)
				})

				r.Route("/referral-links", func(r chi.Router) {
					r.Get("/", linkHandler.List)
					r.Post("/", linkHandler.Create)
					r.Put("/{id}", linkHandler.Update)
					r.Delete("/{id}", linkHandler.Delete)
				})
			})
		})

		// Token-addressed endpoints have their own limiter.
		r.Route("/public", func(r chi.Router) {
			if cfg.PublicLimitReq > 0 {
				r.Use(middleware.RateLimit(cfg.PublicLimitReq, cfg.PublicLimitSec))
			}

			r.Get("/referral/{key}", publicHandler.SharedReferral)
			r.Post("/referral/{key}", publicHandler.SubmitToClinic)
			r.Get("/referral-status/{statusToken}", publicHandler.ReferralStatus)
			r.Get("/referral-link/{token}", publicHandler.Link)
			r.Group(func(r chi.Router) {
				if cfg.CodeLimitReq > 0 {
					r.Use(middleware.RateLimitByParam("token", cfg.CodeLimitReq, cfg.CodeLimitSec))
				}
				r.Post("/referral-link/{token}/verify", publicHandler.VerifyLink)
				r.Post("/referral-link/{token}/submit", publicHandler.SubmitViaLink)
			})
			r.Get("/clinic/{slug}", publicHandler.Clinic)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found", "code": "NOT_FOUND"})
	})

	return &Router{r}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
