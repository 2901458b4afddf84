// Package main is the entry point for the incident triage console server.
// It serves the REST API the dashboard talks to and relays every report,
// lookup and directory call to the incident backend.
//
// Architecture:
//   - Sessions hold the backend token server-side (Redis, or memory)
//   - The browser only sees a signed session token, backend token sealed inside
//   - Role rules decide visibility, editable fields and navigation
//   - Report editors run the save/send workflow per session
//   - Save/send and directory actions land in a Postgres audit trail
//   - report.saved / report.sent events are published to RabbitMQ
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/opsdesk/triage-console/internal/admin"
	"github.com/opsdesk/triage-console/internal/backend"
	"github.com/opsdesk/triage-console/internal/config"
	"github.com/opsdesk/triage-console/internal/database"
	"github.com/opsdesk/triage-console/internal/events"
	"github.com/opsdesk/triage-console/internal/handlers"
	"github.com/opsdesk/triage-console/internal/middleware"
	"github.com/opsdesk/triage-console/internal/models"
	"github.com/opsdesk/triage-console/internal/services"
	"github.com/opsdesk/triage-console/internal/session"
	"github.com/opsdesk/triage-console/internal/workflow"
)

func main() {
	// Initialize structured logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()
	sugar := logger.Sugar()

	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		sugar.Fatalf("Failed to load config: %v", err)
	}

	sugar.Infow("Starting triage console server",
		"port", cfg.Port,
		"env", cfg.Environment,
		"backend_url", cfg.BackendURL,
		"send_policy", cfg.SendPolicy,
	)

	// Audit trail database (optional outside production)
	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		db, err = database.NewPool(context.Background(), cfg.DatabaseURL)
		if err != nil {
			sugar.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		if err := database.EnsureSchema(context.Background(), db); err != nil {
			sugar.Fatalf("Failed to prepare schema: %v", err)
		}
	} else {
		sugar.Warn("DATABASE_URL not set, audit trail disabled")
	}

	// Session cache
	var (
		cache *redis.Client
		store session.Store
	)
	if cfg.RedisURL != "" {
		cache, err = database.NewRedis(cfg.RedisURL)
		if err != nil {
			sugar.Fatalf("Failed to connect to redis: %v", err)
		}
		defer cache.Close()
		store = session.NewRedisStore(cache)
	} else {
		sugar.Warn("REDIS_URL not set, sessions are kept in memory")
		store = session.NewMemoryStore()
	}

	// Report events
	var publisher events.Publisher = events.Nop{}
	if cfg.AMQPURL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.EventsQueue)
		if err != nil {
			sugar.Fatalf("Failed to connect to rabbitmq: %v", err)
		}
		publisher = amqpPub
	}
	defer publisher.Close()

	// Backend client, bound to a session's token per call
	client := backend.New(cfg.BackendURL,
		backend.WithTimeout(cfg.BackendTimeout),
		backend.WithLogger(sugar),
	)
	reportBackend := func(token string) services.Backend { return client.WithToken(token) }
	directory := func(token string) admin.Directory { return client.WithToken(token) }

	// Initialize services
	sessions := session.NewService(
		store,
		session.NewAuthenticator(client),
		session.NewTokens(cfg.JWTSecret, cfg.SessionTTL),
		cfg.SessionTTL,
		sugar,
	)

	var (
		activitySvc *services.ActivityLogService
		recorder    services.ActivityRecorder
		audit       admin.AuditLog
	)
	if db != nil {
		activitySvc = services.NewActivityLogService(db, sugar)
		recorder = activitySvc
		audit = activitySvc
	}

	reportSvc := services.NewReportService(reportBackend, sugar)
	editorSvc := services.NewEditorService(services.EditorConfig{
		Reports:   reportSvc,
		Backend:   reportBackend,
		Activity:  recorder,
		Publisher: publisher,
		Policy:    workflow.ParseSendPolicy(cfg.SendPolicy),
		Logger:    sugar,
	})
	analyticsSvc := services.NewAnalyticsService(reportSvc, sugar)
	adminSvc := admin.NewService(directory, audit, sugar)

	middleware.RegisterMetrics()
	services.RegisterMetrics()

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(sessions, sugar,
		editorSvc.CloseSession,
		reportSvc.Forget,
		adminSvc.Forget,
	)
	reportHandler := handlers.NewReportHandler(reportSvc, sugar)
	editorHandler := handlers.NewEditorHandler(editorSvc, sugar)
	analyticsHandler := handlers.NewAnalyticsHandler(analyticsSvc, sugar)
	activityHandler := handlers.NewActivityHandler(activitySvc, reportSvc, sugar)
	adminHandler := handlers.NewAdminHandler(adminSvc, sugar)
	healthHandler := handlers.NewHealthHandler(db, cache, sugar)

	// Build router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.Metrics)
	r.Use(middleware.SecureHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Rate limiting
	r.Use(middleware.RateLimit(cfg.RateLimitRPM))

	r.Handle("/metrics", middleware.MetricsHandler())

	// API Routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check
		r.Get("/health", healthHandler.Check)
		r.Get("/health/ready", healthHandler.Ready)

		// Sign-in and restore do not need a live session
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/restore", authHandler.Restore)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(sessions))

			r.Get("/auth/session", authHandler.Session)
			r.Post("/auth/logout", authHandler.Logout)
			r.Get("/navigation", authHandler.Navigation)

			r.Get("/lookups/{kind}", reportHandler.Lookup)

			r.Route("/reports", func(r chi.Router) {
				r.Get("/", reportHandler.List)
				r.Get("/{id}", reportHandler.Detail)
				r.Get("/{id}/comments", reportHandler.Comments)
				r.Post("/{id}/comments", reportHandler.AddComment)
			})

			r.Route("/editors", func(r chi.Router) {
				r.Post("/", editorHandler.Open)
				r.Get("/{id}", editorHandler.View)
				r.Get("/{id}/options/{field}", editorHandler.Options)
				r.Put("/{id}/field", editorHandler.SetField)
				r.Put("/{id}/comment", editorHandler.SetComment)
				r.Post("/{id}/save", editorHandler.Save)
				r.Post("/{id}/send", editorHandler.Send)
				r.Delete("/{id}", editorHandler.Close)
			})

			r.With(middleware.RequireRole(models.RoleSystemAdmin, models.RoleDepartmentAdmin)).
				Get("/analytics", analyticsHandler.Compute)

			r.Route("/activity", func(r chi.Router) {
				r.Get("/reports/{id}", activityHandler.ByReport)
				r.With(middleware.RequireRole(models.RoleSystemAdmin)).
					Get("/recent", activityHandler.Recent)
			})

			// Directory management (System Admin)
			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireRole(models.RoleSystemAdmin))

				r.Get("/users", adminHandler.ListUsers)
				r.Post("/users", adminHandler.RegisterUser)
				r.Put("/users/{id}", adminHandler.UpdateUser)
				r.Delete("/users/{id}", adminHandler.DeleteUser)

				r.Get("/departments", adminHandler.ListDepartments)
				r.Post("/departments", adminHandler.CreateDepartment)
				r.Put("/departments/{id}", adminHandler.UpdateDepartment)
				r.Delete("/departments/{id}", adminHandler.DeleteDepartment)

				r.Get("/locations", adminHandler.ListLocations)
				r.Post("/locations", adminHandler.CreateLocation)
				r.Put("/locations/{id}", adminHandler.UpdateLocation)
				r.Delete("/locations/{id}", adminHandler.DeleteLocation)
			})
		})
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sugar.Infof("Server listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	sugar.Info("Shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		sugar.Fatalf("Forced shutdown: %v", err)
	}

	sugar.Info("Server stopped")
}
