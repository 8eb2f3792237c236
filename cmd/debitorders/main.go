package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ihacademy/debit-orders-go/internal/config"
	"github.com/ihacademy/debit-orders-go/internal/domain"
	"github.com/ihacademy/debit-orders-go/internal/handler"
	"github.com/ihacademy/debit-orders-go/internal/infra/cache"
	"github.com/ihacademy/debit-orders-go/internal/infra/notify"
	"github.com/ihacademy/debit-orders-go/internal/infra/observability"
	"github.com/ihacademy/debit-orders-go/internal/infra/rail"
	"github.com/ihacademy/debit-orders-go/internal/infra/resilience"
	"github.com/ihacademy/debit-orders-go/internal/infra/supabase"
	"github.com/ihacademy/debit-orders-go/internal/port"
	"github.com/ihacademy/debit-orders-go/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.Bool("use_supabase", cfg.UseSupabase),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_debit_retries", cfg.MaxDebitRetries),
		zap.Duration("debit_retry_interval", cfg.DebitRetryInterval),
		zap.Bool("billing_auto_run", cfg.BillingAutoRun),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "debit-orders")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Caches ---
	mandateCache := cache.New[*domain.Mandate](cfg.CacheTTL)
	mandateListCache := cache.New[[]domain.Mandate](cfg.CacheTTL)

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	storeCB := resilience.NewCircuitBreaker("supabase")
	railCB := resilience.NewCircuitBreaker("payment-rail")
	emailCB := resilience.NewCircuitBreaker("email-provider")

	// --- Clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	var supabaseClient *supabase.Client
	if cfg.UseSupabase && cfg.SupabaseURL != "" {
		logger.Info("using Supabase as data backend",
			zap.String("supabase_url", cfg.SupabaseURL),
		)
		supabaseClient = supabase.NewClient(
			httpClient,
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			storeCB,
			resilienceCfg,
			logger,
		)
	} else {
		logger.Fatal("Supabase not configured: set SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY")
	}

	// Payment rail: a real HTTP rail when RAIL_URL is set, otherwise the
	// sandbox simulator.
	var paymentRail port.PaymentRail
	if cfg.RailURL != "" {
		logger.Info("using HTTP payment rail", zap.String("rail_url", cfg.RailURL))
		paymentRail = rail.NewClient(httpClient, cfg.RailURL, railCB, cfg.MaxConcurrency, logger)
	} else {
		logger.Info("using sandbox payment rail", zap.Float64("success_rate", cfg.RailSuccessRate))
		paymentRail = rail.NewSandbox(cfg.RailSuccessRate, time.Now().UnixNano(), logger)
	}

	// Notifier: email provider when configured, otherwise a no-op.
	var notifier port.Notifier
	if cfg.EmailProviderURL != "" {
		notifier = notify.NewEmailClient(httpClient, cfg.EmailProviderURL, cfg.EmailFromName, emailCB, resilienceCfg, logger)
	} else {
		logger.Warn("email provider not configured, payment notifications disabled")
		notifier = notify.Noop{}
	}

	// --- Services ---
	mandateSvc := service.NewMandateService(supabaseClient, mandateCache, mandateListCache, metrics, logger)

	billingSvc := service.NewBillingService(
		supabaseClient,
		supabaseClient,
		paymentRail,
		notifier,
		service.BillingPolicy{
			MaxDebitRetries:           cfg.MaxDebitRetries,
			RetryInterval:             cfg.DebitRetryInterval,
			RailTimeout:               cfg.RailTimeout,
			MaxConcurrency:            cfg.MaxConcurrency,
			SuspendOnExhaustedRetries: cfg.SuspendOnExhaustedRetries,
		},
		metrics,
		logger,
	)

	authSvc := service.NewAuthService(supabaseClient, cfg.JWTSecret, cfg.JWTAccessTTL, cfg.JWTRefreshTTL, logger)

	// --- Billing scheduler ---
	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	if cfg.BillingAutoRun {
		go runBillingLoop(schedulerCtx, billingSvc, cfg.BillingRunInterval, logger)
	}

	// --- Router ---
	router := handler.NewRouter(mandateSvc, billingSvc, authSvc, supabaseClient, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	stopScheduler()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// runBillingLoop drives the daily billing cycle: generate transactions for
// due mandates, then attempt the debits. One cycle runs immediately on boot
// so a restarted service catches up without waiting a full interval.
func runBillingLoop(ctx context.Context, billingSvc *service.BillingService, interval time.Duration, logger *zap.Logger) {
	run := func() {
		asOf := time.Now().UTC()
		if _, err := billingSvc.RunGeneration(ctx, asOf); err != nil {
			logger.Error("scheduled generation run failed", zap.Error(err))
		}
		if _, err := billingSvc.RunProcessing(ctx, asOf); err != nil {
			logger.Error("scheduled processing run failed", zap.Error(err))
		}
	}

	run()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
