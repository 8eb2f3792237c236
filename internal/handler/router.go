package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/ihacademy/debit-orders-go/internal/domain"
	"github.com/ihacademy/debit-orders-go/internal/infra/observability"
	"github.com/ihacademy/debit-orders-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// HealthChecker reports whether the persistence backend is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(
	mandateSvc *service.MandateService,
	billingSvc *service.BillingService,
	authSvc *service.AuthService,
	health HealthChecker,
	metrics *observability.Metrics,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(health, logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		r.Route("/debit-order", func(r chi.Router) {

			// Mandates
			r.Post("/mandates", createMandateHandler(mandateSvc, logger))
			r.Get("/mandates", listMandatesHandler(mandateSvc, logger))
			r.Get("/mandates/{mandateId}", getMandateHandler(mandateSvc, logger))
			r.Get("/mandates/{mandateId}/form", mandateFormHandler(mandateSvc, logger))
			r.Post("/mandates/{mandateId}/activate", activateMandateHandler(mandateSvc, logger))
			r.Post("/mandates/{mandateId}/suspend", suspendMandateHandler(mandateSvc, logger))
			r.Post("/mandates/{mandateId}/resume", resumeMandateHandler(mandateSvc, logger))
			r.Post("/mandates/{mandateId}/cancel", cancelMandateHandler(mandateSvc, logger))

			// Transactions
			r.Get("/transactions", listTransactionsHandler(billingSvc, logger))
			r.Get("/transactions/{transactionId}", getTransactionHandler(billingSvc, logger))
			r.Post("/transactions/{transactionId}/process", processTransactionHandler(billingSvc, logger))

			// Billing runs, protected when auth is configured
			r.Group(func(r chi.Router) {
				if authSvc != nil {
					r.Use(JWTAuthMiddleware(authSvc, logger))
				}
				r.Post("/runs/generate", generateRunHandler(billingSvc, logger))
				r.Post("/runs/process", processRunHandler(billingSvc, logger))
			})
		})

		// Billing metrics snapshot for the admin console
		r.Get("/metrics/billing", billingMetricsHandler(metrics))

		// Auth
		r.Route("/auth", func(r chi.Router) {
			if authSvc == nil {
				r.Handle("/*", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					writeError(w, http.StatusServiceUnavailable, "auth service unavailable: Supabase not configured")
				}))
				return
			}
			r.Post("/register", authRegisterHandler(authSvc, logger))
			r.Post("/login", authLoginHandler(authSvc, logger))
			r.Post("/refresh", authRefreshHandler(authSvc, logger))

			r.Group(func(r chi.Router) {
				r.Use(JWTAuthMiddleware(authSvc, logger))
				r.Post("/logout", authLogoutHandler(authSvc, logger))
			})
		})
	})

	return r
}

// ============================================================
// Health & metrics
// ============================================================

func healthzHandler(health HealthChecker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "debit-orders-api", Status: "healthy", LatencyMs: 0, LastChecked: now},
		}

		if health != nil {
			start := time.Now()
			err := health.Ping(ctx)
			latency := time.Since(start).Milliseconds()
			status := "healthy"
			if err != nil {
				status = "degraded"
				logger.Warn("health: store ping failed", zap.Error(err))
			}
			services = append(services, domain.ServiceHealth{
				Name: "supabase", Status: status, LatencyMs: latency, LastChecked: now,
			})
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overallStatus = "unhealthy"
				break
			}
			if s.Status == "degraded" {
				overallStatus = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func billingMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetBillingSnapshot())
	}
}
