package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/reviewdesk/backend/internal/config"
	"github.com/reviewdesk/backend/internal/handler"
	"github.com/reviewdesk/backend/internal/metrics"
	appMiddleware "github.com/reviewdesk/backend/internal/middleware"
	"github.com/reviewdesk/backend/internal/repository"
	"github.com/reviewdesk/backend/internal/service"
	"github.com/reviewdesk/backend/pkg/crypto"
	"github.com/reviewdesk/backend/pkg/payment"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load .env file if present (for local development)
	loadDotEnv()

	// Load config
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Config error: %v", err)
	}

	logger := newLogger(cfg)
	log := logrus.NewEntry(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore := openStore(ctx, cfg, log)
	defer closeStore()

	// Initialize encryptor
	enc, err := crypto.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("Encryption error: %v", err)
	}

	m := metrics.New()

	// A nil interface, not a typed nil, keeps checkout disabled.
	var gateway service.Gateway
	if client, err := newPaymentClient(cfg, log, m); err != nil {
		log.WithError(err).Warn("Payment gateway not configured (checkout and card saving will fail)")
	} else {
		gateway = client
		log.WithFields(logrus.Fields{"provider": client.Provider(), "env": cfg.Gateway.Env}).Info("Payment gateway configured")
	}

	billingCfg := service.BillingConfig{
		Provider:     cfg.Gateway.Provider,
		CallbackURL:  cfg.WebhookURL(),
		SuccessURL:   cfg.SuccessURL,
		FailURL:      cfg.FailURL,
		RefundWindow: cfg.RefundWindow,
	}

	// Initialize services
	authSvc := service.NewAuthService(cfg.JWTSecret)
	subSvc := service.NewSubscriptionService(store, gateway, enc, billingCfg, m, log)
	cardSvc := service.NewCardService(store, gateway, enc, billingCfg, m, log)
	webhookSvc := service.NewWebhookService(store, gateway, subSvc, cardSvc, m, log)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(store, gateway != nil)
	plansHandler := handler.NewPlansHandler(subSvc)
	paymentHandler := handler.NewPaymentHandler(subSvc, cardSvc)
	webhookHandler := handler.NewWebhookHandler(webhookSvc, log)
	adminHandler := handler.NewAdminHandler(subSvc)

	// Build router
	r := chi.NewRouter()

	// Global middleware
	r.Use(appMiddleware.Recovery(log))
	r.Use(appMiddleware.Logger(log.WithField("component", "http"), m))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Global rate limiter (20 req/sec per IP, burst of 40)
	globalRL := appMiddleware.NewRateLimiter(ctx, 20, 40)
	r.Use(globalRL.Middleware())

	// Health check and public routes (no auth)
	r.Get("/health", healthHandler.Check)
	r.Handle("/metrics", m.Handler())
	r.Get("/api/plans", plansHandler.List)
	r.Post("/api/payment/webhook", webhookHandler.HandlePayment)

	// Protected API routes
	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.Auth(authSvc))

		r.Get("/api/payment/subscription", paymentHandler.GetSubscription)
		r.Get("/api/payment/cards", paymentHandler.ListCards)
		r.Put("/api/payment/cards/{id}/default", paymentHandler.SetDefaultCard)
		r.Delete("/api/payment/cards/{id}", paymentHandler.DeleteCard)

		// Routes that create gateway orders
		r.Group(func(r chi.Router) {
			r.Use(appMiddleware.OrderRateLimiter(ctx))
			r.Post("/api/payment/checkout", paymentHandler.CreateCheckout)
			r.Post("/api/payment/cards", paymentHandler.SaveCard)
		})

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(appMiddleware.AdminOnly)
			r.Get("/api/admin/stats", adminHandler.GetStats)
			r.Get("/api/admin/subscriptions/{id}/events", adminHandler.ListEvents)
			r.Get("/api/admin/orders/{orderId}", adminHandler.GetByOrder)
		})
	})

	// Start server
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("Graceful shutdown failed")
		}
	}()

	log.Infof("Billing backend listening at http://%s", addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}
}

// openStore connects to PostgreSQL, or falls back to the in-memory store
// when DATABASE_URL is empty.
func openStore(ctx context.Context, cfg *config.Config, log *logrus.Entry) (repository.Store, func()) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL is empty, using the in-memory store (data is lost on restart)")
		return repository.NewMemoryStore(), func() {}
	}

	db, err := repository.NewDB(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Fatalf("Database error: %v", err)
	}
	if err := repository.RunMigrations(ctx, db); err != nil {
		db.Close()
		log.Fatalf("Migration error: %v", err)
	}
	log.Info("Database connected & migrated")
	return repository.NewPostgresStore(db), db.Close
}

func newPaymentClient(cfg *config.Config, log *logrus.Entry, m *metrics.Collector) (*payment.Client, error) {
	clientCfg, err := cfg.Gateway.Client()
	if err != nil {
		return nil, err
	}
	return payment.NewClient(clientCfg,
		payment.WithLogger(log.WithField("component", "payment")),
		payment.WithAttemptHook(func(p crypto.Padding, result string) {
			m.RecordGatewayAttempt(p.String(), result)
		}),
	)
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warnf("Unknown LOG_LEVEL %q, using info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	// Handlers log through the standard logger.
	logrus.SetLevel(level)
	logrus.SetFormatter(logger.Formatter)
	return logger
}

// loadDotEnv reads a .env file if it exists. Variables already set in the
// environment win.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("Failed to read .env")
	}
}
