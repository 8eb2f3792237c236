package handler

import (
	"net/http"
	"time"

	"github.com/ihacademy/debit-orders-go/internal/domain"
	"github.com/ihacademy/debit-orders-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Transactions
// ============================================================

func listTransactionsHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/debit-order/transactions")
		defer span.End()

		page, pageSize := parsePagination(r)
		filter := domain.TransactionFilter{
			MandateID:      r.URL.Query().Get("mandate_id"),
			OrganizationID: r.URL.Query().Get("organization_id"),
			Status:         domain.TransactionStatus(r.URL.Query().Get("status")),
			Page:           page,
			PageSize:       pageSize,
		}

		transactions, err := svc.ListTransactions(ctx, filter)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if transactions == nil {
			transactions = []domain.Transaction{}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"transactions": transactions,
			"page":         page,
			"page_size":    pageSize,
		})
	}
}

func getTransactionHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/debit-order/transactions/{transactionId}")
		defer span.End()

		transaction, err := svc.GetTransaction(ctx, chi.URLParam(r, "transactionId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, transaction)
	}
}

// processTransactionHandler triggers one debit attempt immediately, outside
// the scheduled processing run.
func processTransactionHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/debit-order/transactions/{transactionId}/process")
		defer span.End()

		transactionID := chi.URLParam(r, "transactionId")
		span.SetAttributes(attribute.String("transaction.id", transactionID))

		transaction, err := svc.ProcessTransaction(ctx, transactionID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, transaction)
	}
}

// ============================================================
// Billing runs
// ============================================================

// parseAsOf reads the optional ?as_of=YYYY-MM-DD override; default is now.
func parseAsOf(r *http.Request) (time.Time, bool) {
	v := r.URL.Query().Get("as_of")
	if v == "" {
		return time.Now().UTC(), true
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func generateRunHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/debit-order/runs/generate")
		defer span.End()

		asOf, ok := parseAsOf(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "as_of must be YYYY-MM-DD")
			return
		}

		// Runs sit behind JWT auth, so log who triggered them.
		logger.Info("generation run requested",
			zap.Time("as_of", asOf),
			zap.String("user_id", UserIDFromContext(ctx)),
			zap.String("organization_id", OrganizationIDFromContext(ctx)),
		)

		run, err := svc.RunGeneration(ctx, asOf)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, run)
	}
}

func processRunHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/debit-order/runs/process")
		defer span.End()

		asOf, ok := parseAsOf(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "as_of must be YYYY-MM-DD")
			return
		}

		logger.Info("processing run requested",
			zap.Time("as_of", asOf),
			zap.String("user_id", UserIDFromContext(ctx)),
			zap.String("organization_id", OrganizationIDFromContext(ctx)),
		)

		run, err := svc.RunProcessing(ctx, asOf)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, run)
	}
}
