// Package server sets up the HTTP server, the router and all route
// definitions.
//
// This package is the wiring layer. It connects handlers, middleware and
// routes, and decides:
//   - which URL patterns map to which handler functions
//   - what middleware runs on which routes
//   - how the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → Server.New() creates:
//	  sqlite.DB → repositories → services → handlers → routes
//	  strava.Client, auth.GoogleProvider, mailer.Service → services
//
// All dependencies are wired in one place (New/setupRoutes), the
// "composition root", rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/keralariders/server/internal/auth"
	"github.com/keralariders/server/internal/config"
	"github.com/keralariders/server/internal/handler"
	"github.com/keralariders/server/internal/mailer"
	"github.com/keralariders/server/internal/metrics"
	"github.com/keralariders/server/internal/middleware"
	sqliteRepo "github.com/keralariders/server/internal/repository/sqlite"
	"github.com/keralariders/server/internal/service"
	"github.com/keralariders/server/internal/strava"
)

// The concrete services must keep satisfying the handler interfaces.
var (
	_ handler.Auth        = (*service.AuthService)(nil)
	_ handler.GoogleOAuth = (*auth.GoogleProvider)(nil)
	_ handler.Profiles    = (*service.ProfileService)(nil)
	_ handler.Events      = (*service.EventService)(nil)
	_ handler.StravaLink  = (*service.StravaService)(nil)
	_ handler.Activities  = (*service.ActivityService)(nil)
	_ handler.Syncer      = (*service.SyncService)(nil)
	_ handler.Pinger      = (*sqliteRepo.DB)(nil)
	_ service.Mailer      = (*mailer.Service)(nil)
	_ service.StravaAPI   = (*strava.Client)(nil)
	_ service.StateSigner = (*auth.TokenService)(nil)
	_ auth.Revocations    = (*service.AuthService)(nil)
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection. It is closed after graceful
// shutdown so pending writes are flushed and the file lock released.
type Server struct {
	router  *chi.Mux
	config  config.Config
	logger  *slog.Logger
	db      *sqliteRepo.DB
	limiter *middleware.RateLimiter

	tokens      *auth.TokenService
	google      handler.GoogleOAuth
	authSvc     *service.AuthService
	profileSvc  *service.ProfileService
	eventSvc    *service.EventService
	stravaSvc   *service.StravaService
	activitySvc *service.ActivityService
	syncSvc     *service.SyncService
}

// New opens the database, builds every service and registers the routes.
//
// Each layer only receives what it needs:
//   - services get repository interfaces (not the concrete sqlite.DB)
//   - handlers get service interfaces (not the repositories)
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	mail, err := mailer.New(cfg.Email, service.OTPTTL, logger)
	if err != nil {
		return nil, fmt.Errorf("creating mailer: %w", err)
	}

	// === CREATE DATABASE ===
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	users := db.Users()
	stravaAPI := strava.NewClient(cfg.Strava.ClientID, cfg.Strava.ClientSecret, cfg.Strava.RedirectURI)
	stravaSvc := service.NewStravaService(users, stravaAPI, tokens, logger)

	limiter := middleware.NewRateLimiter(middleware.Limits{
		middleware.TierPublic: cfg.RateLimit.PerMinute,
		middleware.TierAuth:   cfg.RateLimit.AuthPerMinute,
	})
	authSvc := service.NewAuthService(users, db.Sessions(), db.Codes(), tokens, auth.NewPasswordService(), mail,
		service.AuthOptions{RefreshTTL: cfg.RefreshTokenTTL, SiteURL: cfg.SiteURL}, logger)

	s := &Server{
		router:      chi.NewRouter(),
		config:      cfg,
		logger:      logger,
		db:          db,
		limiter:     limiter,
		tokens:      tokens,
		authSvc:     authSvc,
		profileSvc:  service.NewProfileService(users, logger),
		eventSvc:    service.NewEventService(db.Events(), db.Participants(), users, loc, logger),
		stravaSvc:   stravaSvc,
		activitySvc: service.NewActivityService(users, db.Activities(), logger),
		syncSvc:     service.NewSyncService(users, db.Activities(), stravaSvc, stravaAPI, loc, logger),
	}
	// A nil *GoogleProvider stored in the interface would not compare equal
	// to nil, so only assign when configured.
	if cfg.Google.Enabled() {
		s.google = auth.NewGoogleProvider(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.CallbackURL)
	} else {
		logger.Warn("GOOGLE_CLIENT_ID not set, Google sign-in is disabled")
	}
	if cfg.Strava.ClientID == "" {
		logger.Warn("STRAVA_CLIENT_ID not set, Strava connect will fail")
	}

	s.setupRoutes()
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database.
func (s *Server) Close() error {
	return s.db.Close()
}

// setupRoutes configures all middleware and route handlers.
//
// MIDDLEWARE ORDER MATTERS:
//  1. RequestID: assigns a unique ID to each request (for tracing)
//  2. RealIP: extracts the real client IP from proxy headers
//  3. Logger: logs each request with timing info
//  4. Recoverer: catches panics and returns 500 instead of crashing
//  5. metrics: counts and times requests per route pattern
//
// The rate limiter is attached per route group: the auth tier on the
// credential endpoints, the public tier on everything else under /api.
func (s *Server) setupRoutes() {
	r := s.router
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(metrics.HTTPMiddleware)

	cookies := auth.Cookies{Secure: s.config.Production()}
	requireAuth := auth.RequireAuth(s.tokens, s.authSvc)
	optionalAuth := auth.OptionalAuth(s.tokens, s.authSvc)

	authH := handler.NewAuthHandler(s.authSvc, s.google, cookies, s.config.SiteURL, s.logger)
	stravaH := handler.NewStravaHandler(s.stravaSvc, cookies, s.config.SiteURL, s.logger)
	profileH := handler.NewProfileHandler(s.profileSvc)
	eventH := handler.NewEventHandler(s.eventSvc, s.logger)
	activityH := handler.NewActivityHandler(s.activitySvc)
	syncH := handler.NewSyncHandler(s.syncSvc)
	healthH := handler.NewHealthHandler(s.db, s.logger)

	r.Get("/healthz", healthH.HandleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		// === Credential endpoints (strict tier) ===
		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Limit(middleware.TierAuth))
			r.Post("/auth/signup", authH.HandleSignup)
			r.Post("/auth/signin", authH.HandleSignin)
			r.Post("/auth/verify-otp", authH.HandleVerifyOTP)
			r.Post("/auth/resend-otp", authH.HandleResendOTP)
			r.Post("/auth/reset-password", authH.HandleResetPassword)
			r.Post("/auth/reset-password/confirm", authH.HandleConfirmReset)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Limit(middleware.TierPublic))

			// === Sessions and OAuth redirects ===
			r.Post("/auth/signout", authH.HandleSignout)
			r.Post("/auth/refresh", authH.HandleRefresh)
			r.Get("/auth/google/signin", authH.HandleGoogleSignin)
			r.Get("/auth/google/callback", authH.HandleGoogleCallback)
			r.Get("/sync-activities", syncH.HandleStatus)

			// === Viewer optional ===
			r.Group(func(r chi.Router) {
				r.Use(optionalAuth)
				r.Get("/events", eventH.HandleList)
				r.Get("/events/{id}", eventH.HandleGet)
				// Starting the link needs the rider; the callback is checked
				// against the signed state cookie instead.
				r.Get("/auth/strava/connect", stravaH.HandleConnectRedirect)
			})

			// === Authenticated ===
			r.Group(func(r chi.Router) {
				r.Use(requireAuth)

				r.Post("/auth/strava/connect", stravaH.HandleConnect)
				r.Post("/auth/strava/refresh", stravaH.HandleRefresh)
				r.Post("/auth/strava/disconnect", stravaH.HandleDisconnect)
				r.Get("/strava/stats", stravaH.HandleStats)

				r.Get("/auth/update-profile", profileH.HandleGet)
				r.Post("/auth/update-profile", profileH.HandleUpdate)

				r.Post("/events", eventH.HandleCreate)
				r.Put("/events/{id}", eventH.HandleUpdate)
				r.Delete("/events/{id}", eventH.HandleDelete)
				r.Post("/events/{id}/join", eventH.HandleJoin)
				r.Post("/events/{id}/leave", eventH.HandleLeave)
				r.Get("/users/{krid}/events", eventH.HandleUserEvents)

				r.Post("/user/activity/add", activityH.HandleAdd)
				r.Get("/user/activity/get-all", activityH.HandleList)

				r.Post("/sync-activities", syncH.HandleSync)
			})
		})
	})
}

// SyncAll runs one background sync of every connected rider and records
// the outcome in the sync metrics.
func (s *Server) SyncAll(ctx context.Context) (*service.SyncStats, error) {
	start := time.Now()
	stats, err := s.syncSvc.SyncAll(ctx)
	if stats != nil {
		metrics.RecordSync(stats.SuccessfulSyncs, stats.FailedSyncs,
			stats.TotalActivitiesStored, stats.TotalActivitiesSkipped, time.Since(start), err)
	} else {
		metrics.RecordSync(0, 0, 0, 0, time.Since(start), err)
	}
	return stats, err
}

// runSyncLoop calls SyncAll every interval until ctx is done.
func (s *Server) runSyncLoop(ctx context.Context, interval time.Duration) {
	s.logger.Info("background sync enabled", slog.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SyncAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("background sync failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
//  1. Stop the background sync and limiter cleanup
//  2. Stop accepting new HTTP connections
//  3. Wait for in-flight requests to finish (30s timeout)
//  4. Close the database connection (flushes WAL, releases file lock)
func (s *Server) Start() error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go s.limiter.Run(ctx)
	if s.config.SyncInterval > 0 {
		go s.runSyncLoop(ctx, s.config.SyncInterval)
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("env", s.config.Env),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
