package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/lucaspeixotoadv/crm-webhook-core/src/config"
	"github.com/lucaspeixotoadv/crm-webhook-core/src/database"
	"github.com/lucaspeixotoadv/crm-webhook-core/src/dispatch"
	"github.com/lucaspeixotoadv/crm-webhook-core/src/handlers"
	"github.com/lucaspeixotoadv/crm-webhook-core/src/logging"
	"github.com/lucaspeixotoadv/crm-webhook-core/src/middleware"
	"github.com/lucaspeixotoadv/crm-webhook-core/src/models"
	"github.com/lucaspeixotoadv/crm-webhook-core/src/normalizer"
	"github.com/lucaspeixotoadv/crm-webhook-core/src/queue"
	"github.com/lucaspeixotoadv/crm-webhook-core/src/services"
	"github.com/lucaspeixotoadv/crm-webhook-core/src/store"
)

func main() {
	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		// Logging is not set up yet; write directly.
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	// Initialize structured logging
	logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	log.Info().
		Int("port", cfg.Port).
		Str("log_level", cfg.LogLevel).
		Msg("starting server")

	// Initialize database
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := database.New(ctx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	log.Info().Msg("database connected")

	// Initialize the shared store. Dedup, replay and rate-limit state live
	// here; the service must not accept traffic without it.
	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	st, err := store.New(ctx, cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer st.Close()

	log.Info().Str("addr", cfg.RedisAddr).Msg("redis connected")

	// Load vendor profiles (built-in defaults plus optional YAML overrides)
	vendors, err := config.LoadVendorProfiles(cfg.VendorConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load vendor profiles")
	}
	log.Info().Int("vendors", len(vendors)).Msg("vendor profiles loaded")

	// Initialize services
	credentialService := services.NewCredentialService(db.GetPool(), st, cfg.CredentialCacheTTL)
	deadLetterService := services.NewDeadLetterService(db.GetPool())
	adminService := services.NewAdminService(db.GetPool())

	// Auto-seed admin user on first run (if ADMIN_USERNAME and ADMIN_PASSWORD are set)
	if cfg.AdminUsername != "" && cfg.AdminPassword != "" {
		hasAdmins, err := adminService.HasAdmins(context.Background())
		if err != nil {
			log.Error().Err(err).Msg("failed to check for existing admin users")
		} else if !hasAdmins {
			if _, err := adminService.CreateAdminUser(context.Background(), cfg.AdminUsername, cfg.AdminPassword); err != nil {
				log.Error().Err(err).Msg("failed to create initial admin user")
			} else {
				log.Info().Str("username", cfg.AdminUsername).Msg("initial admin user created")
			}
		}
	}

	// Handler registry. Downstream consumers attach here; the built-in
	// subscribers log delivery for every kind so events are never silently
	// dropped before real consumers are registered.
	registry := dispatch.NewRegistry()
	registerDefaultHandlers(registry)

	// Initialize the durable queue
	q := queue.New(
		queue.NewRedisJobStore(st.Client()),
		st,
		registry,
		deadLetterService,
		queue.Options{
			Workers:       cfg.QueueWorkers,
			MaxAttempts:   cfg.MaxAttempts,
			BaseDelay:     cfg.RetryBaseDelay,
			JobTimeout:    cfg.JobTimeout,
			ProcessingTTL: cfg.ProcessingTTL,
			CompleteTTL:   cfg.CompleteTTL,
		},
	)
	q.Start()
	log.Info().Int("workers", cfg.QueueWorkers).Msg("queue started")

	// Create Gin router
	router := gin.New()

	// Add middleware
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware())
	router.Use(gin.Recovery())

	// Setup routes
	setupRoutes(router, db, st, vendors, credentialService, deadLetterService, adminService, q, cfg)

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Int("port", cfg.Port).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	// Stop accepting new requests first, then drain the queue workers.
	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	q.Stop()
	log.Info().Msg("queue drained")

	log.Info().Msg("server shut down successfully")
}

func setupRoutes(router *gin.Engine, db *database.Database, st *store.Store, vendors config.VendorProfiles, credentialService *services.CredentialService, deadLetterService *services.DeadLetterService, adminService *services.AdminService, q *queue.Queue, cfg *config.Config) {
	// Initialize handlers
	n := normalizer.New()
	healthHandler := handlers.NewHealthHandler(db, st)
	webhookHandler := handlers.NewWebhookHandler(n, q)

	// Health check endpoints
	router.GET("/health", healthHandler.HandleHealth)
	router.GET("/ready", healthHandler.HandleReady)

	// Webhook ingestion endpoint
	router.POST("/webhook/:vendor",
		middleware.WebhookRateLimitMiddleware(st, middleware.RateLimitConfig{
			Quota:  cfg.RateLimitQuota,
			Window: cfg.RateLimitWindow,
			Block:  cfg.RateLimitBlock,
		}),
		middleware.OriginMiddleware(vendors),
		middleware.SignatureMiddleware(st, vendors, middleware.SignatureConfig{
			Secret:       cfg.WebhookSecret,
			ReplayWindow: cfg.ReplayWindow,
			MaxBodySize:  cfg.MaxBodySize,
		}),
		middleware.VendorTokenMiddleware(credentialService, vendors),
		webhookHandler.HandleWebhook)

	// Vendor-facing health probe. No auth; vendors poll it to decide whether
	// to keep delivering.
	router.GET("/webhook/:vendor/health", healthHandler.HandleWebhookHealth)

	// Admin API (only when a JWT secret is configured)
	if cfg.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET not set - admin API disabled")
		return
	}

	auth, err := middleware.NewAdminAuth(cfg.JWTSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize admin auth")
	}
	adminHandler := handlers.NewAdminHandler(adminService, deadLetterService, auth, n, q)

	admin := router.Group("/admin")
	if len(cfg.AdminOrigins) > 0 {
		admin.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AdminOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	admin.POST("/login", middleware.AdminRateLimitMiddleware(), adminHandler.HandleLogin)
	admin.POST("/logout", auth.Middleware(), adminHandler.HandleLogout)
	admin.GET("/deadletters", auth.Middleware(), adminHandler.HandleListDeadLetters)
	admin.POST("/deadletters/:id/requeue", auth.Middleware(), adminHandler.HandleRequeueDeadLetter)
}

// registerDefaultHandlers attaches the built-in delivery-log subscriber for
// every event kind.
func registerDefaultHandlers(registry *dispatch.Registry) {
	logger := logging.NewLogger("consumer")
	for _, kind := range []models.EventKind{
		models.KindMessage,
		models.KindStatus,
		models.KindPresence,
		models.KindConnection,
	} {
		kind := kind
		registry.Subscribe(kind, func(ctx context.Context, event *models.CanonicalEvent) error {
			logger.Info().
				Str("event_id", event.ID).
				Str("kind", string(kind)).
				Str("tenant_id", event.TenantID).
				Str("phone", event.Metadata.Phone).
				Msg("event delivered")
			return nil
		})
	}
}
