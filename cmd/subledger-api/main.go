// Package main is the entry point for the subledger-api server.
// Accounts and sign-in live with the auth provider; this service only keeps
// subscription state for the account ids carried in bearer tokens.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmylchreest/subledger/internal/auth"
	"github.com/jmylchreest/subledger/internal/config"
	"github.com/jmylchreest/subledger/internal/constants"
	"github.com/jmylchreest/subledger/internal/database"
	"github.com/jmylchreest/subledger/internal/gateway"
	"github.com/jmylchreest/subledger/internal/http/handlers"
	"github.com/jmylchreest/subledger/internal/http/mw"
	"github.com/jmylchreest/subledger/internal/http/routes"
	"github.com/jmylchreest/subledger/internal/lock"
	"github.com/jmylchreest/subledger/internal/logging"
	"github.com/jmylchreest/subledger/internal/repository"
	"github.com/jmylchreest/subledger/internal/service"
	"github.com/jmylchreest/subledger/internal/shutdown"
	"github.com/jmylchreest/subledger/internal/version"
	"github.com/jmylchreest/subledger/internal/webhook"
	"github.com/jmylchreest/subledger/internal/worker"
)

func main() {
	// A missing .env is normal outside local development
	_ = godotenv.Load()

	logger := logging.SetDefault()

	v := version.Get()
	logger.Info("starting subledger-api",
		"version", v.Version,
		"commit", v.Commit,
		"built", v.Date,
		"go_version", v.GoVersion,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := database.Migrate(ctx, db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	if schemaVersion, applied, err := database.SchemaVersion(ctx, db); err != nil {
		logger.Warn("failed to get schema version", "error", err)
	} else if schemaVersion != "" {
		logger.Info("database schema ready", "schema_version", schemaVersion, "migrations_applied", applied)
	}

	// Payment gateway. Without an API key, webhooks still apply but renewals fail fast.
	var gw gateway.Gateway
	if cfg.GatewayEnabled() {
		stripeGateway, err := gateway.NewStripeGateway(cfg.StripeSecretKey, logger)
		if err != nil {
			logger.Error("failed to create gateway client", "error", err)
			os.Exit(1)
		}
		gw = stripeGateway
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, renewals are disabled")
	}

	// Renewal lock: shared through Redis across machines, otherwise per process
	var locker lock.Locker = lock.NewInMemory()
	if cfg.RedisURL != "" {
		client, err := lock.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer func() { _ = client.Close() }()
		locker = lock.NewRedisLocker(client, "subledger:renewal:", logger)
		logger.Info("using redis renewal lock")
	}

	repos := repository.NewRepositories(db)

	services, err := service.NewServices(cfg, repos, gw, locker, logger)
	if err != nil {
		logger.Error("failed to create services", "error", err)
		os.Exit(1)
	}

	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)

	webhookVerifier, err := webhook.New(cfg.WebhookSignatureScheme, cfg.WebhookSecret())
	if err != nil {
		logger.Error("failed to create webhook verifier", "error", err)
		os.Exit(1)
	}

	// Background expiry sweep
	var sweeper *worker.Worker
	if cfg.SweepEnabled {
		var archive worker.Archive
		if services.Storage.IsEnabled() {
			archive = services.Storage
		}
		sweeper = worker.New(services.Subscription, archive, worker.Config{
			Interval:         cfg.SweepInterval,
			ArchiveRetention: cfg.ArchiveRetention,
		}, logger)
		sweeper.Start(ctx)
	}

	// Scale-to-zero: never idle while a renewal charge is in flight
	idle := shutdown.NewIdleMonitor(shutdown.IdleMonitorConfig{
		Timeout:      cfg.IdleTimeout,
		ExcludePaths: []string{"/healthz", "/readyz", "/metrics"},
		Busy:         func() bool { return services.Renewal.InFlight() > 0 },
		Logger:       logger,
	})
	idle.Start()

	router := newRouter(cfg, services, repos, db, verifier, webhookVerifier, idle, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		select {
		case <-sigChan:
			logger.Info("shutting down server")
		case <-idle.Done():
			logger.Info("shutting down idle server", "idle_timeout", cfg.IdleTimeout.String())
		}

		// Stop the sweeper first
		cancel()
		if sweeper != nil {
			sweeper.Stop()
		}
		idle.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	logger.Info("starting server",
		"port", cfg.Port,
		"base_url", cfg.BaseURL,
		"gateway", cfg.GatewayEnabled(),
		"webhook_scheme", cfg.WebhookSignatureScheme,
	)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func newRouter(
	cfg *config.Config,
	services *service.Services,
	repos *repository.Repositories,
	db handlers.DBPinger,
	verifier *auth.Verifier,
	webhookVerifier webhook.Verifier,
	idle *shutdown.IdleMonitor,
	logger *slog.Logger,
) http.Handler {
	// Gateway webhooks need the raw body for signature verification
	webhookCfg := handlers.BillingWebhookConfig{
		Recorder:     repos.BillingEvent,
		StoreTimeout: cfg.StoreTimeout,
	}
	if services.Storage.IsEnabled() {
		webhookCfg.Archive = services.Storage
	}
	billingWebhook := handlers.NewBillingWebhookHandler(webhookVerifier, services.Events, webhookCfg, logger)

	return buildRouter(cfg, idle, billingWebhook.HandleWebhook, func(r chi.Router) {
		if cfg.MetricsEnabled {
			r.Handle("/metrics", promhttp.Handler())
		}

		r.Group(func(r chi.Router) {
			r.Use(mw.RateLimitMutations(verifier, cfg.AccountRateLimit))

			api := humachi.New(r, routes.NewHumaConfig(cfg.BaseURL))
			api.UseMiddleware(mw.HumaAuth(api, verifier))

			routes.Register(api, &routes.Handlers{
				HealthCheck:  handlers.HealthCheck,
				Livez:        handlers.Livez,
				Readyz:       handlers.NewReadyzHandler(db).Readyz,
				Subscription: handlers.NewSubscriptionHandler(services.Subscription, services.Renewal, repos.BillingEvent, logger),
			})
		})
	})
}

// buildRouter mounts the billing webhook outside the client limits and the
// request timeout: the gateway retries every non-2xx, so a 429 or 503 there
// only adds deliveries. The handler bounds its own store calls. Client routes
// are added by mount behind the per-IP limit and throttle.
func buildRouter(cfg *config.Config, idle *shutdown.IdleMonitor, billingWebhook http.HandlerFunc, mount func(chi.Router)) *chi.Mux {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(idle.Middleware)
	router.Use(mw.APIVersion())

	router.Post("/webhooks/billing", billingWebhook)

	router.Group(func(r chi.Router) {
		r.Use(mw.Timeout(mw.DefaultTimeoutConfig()))
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-API-Version", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
		r.Use(middleware.RequestSize(constants.MaxRequestBodySize))
		r.Use(mw.RateLimitByIP(cfg.IPRateLimit))
		r.Use(middleware.Throttle(constants.GlobalConcurrencyLimit))
		mount(r)
	})

	return router
}
