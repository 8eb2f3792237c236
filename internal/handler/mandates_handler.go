package handler

import (
	"encoding/json"
	"net/http"

	"github.com/ihacademy/debit-orders-go/internal/domain"
	"github.com/ihacademy/debit-orders-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Mandates
// ============================================================

func createMandateHandler(svc *service.MandateService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/debit-order/mandates")
		defer span.End()

		var req domain.MandateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		span.SetAttributes(attribute.String("organization.id", req.OrganizationID))

		mandate, err := svc.CreateMandate(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusCreated, mandate)
	}
}

func getMandateHandler(svc *service.MandateService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/debit-order/mandates/{mandateId}")
		defer span.End()

		mandateID := chi.URLParam(r, "mandateId")
		mandate, err := svc.GetMandate(ctx, mandateID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, mandate)
	}
}

// listMandatesHandler lists mandates by organization or user.
// One of ?organization_id= or ?user_id= is required; both combine.
func listMandatesHandler(svc *service.MandateService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/debit-order/mandates")
		defer span.End()

		organizationID := r.URL.Query().Get("organization_id")
		userID := r.URL.Query().Get("user_id")

		var (
			mandates []domain.Mandate
			err      error
		)
		switch {
		case userID != "":
			mandates, err = svc.ListMandatesForUser(ctx, userID, organizationID)
		case organizationID != "":
			mandates, err = svc.ListMandatesForOrganization(ctx, organizationID)
		default:
			writeError(w, http.StatusBadRequest, "organization_id or user_id is required")
			return
		}
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if mandates == nil {
			mandates = []domain.Mandate{}
		}

		writeJSON(w, http.StatusOK, map[string]any{"mandates": mandates})
	}
}

func activateMandateHandler(svc *service.MandateService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/debit-order/mandates/{mandateId}/activate")
		defer span.End()

		mandate, err := svc.ActivateMandate(ctx, chi.URLParam(r, "mandateId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, mandate)
	}
}

func suspendMandateHandler(svc *service.MandateService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/debit-order/mandates/{mandateId}/suspend")
		defer span.End()

		mandate, err := svc.SuspendMandate(ctx, chi.URLParam(r, "mandateId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, mandate)
	}
}

func resumeMandateHandler(svc *service.MandateService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/debit-order/mandates/{mandateId}/resume")
		defer span.End()

		mandate, err := svc.ResumeMandate(ctx, chi.URLParam(r, "mandateId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, mandate)
	}
}

func cancelMandateHandler(svc *service.MandateService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/debit-order/mandates/{mandateId}/cancel")
		defer span.End()

		mandate, err := svc.CancelMandate(ctx, chi.URLParam(r, "mandateId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, mandate)
	}
}

// mandateFormHandler serves the printable authorization form as HTML.
func mandateFormHandler(svc *service.MandateService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/debit-order/mandates/{mandateId}/form")
		defer span.End()

		html, err := svc.RenderMandateForm(ctx, chi.URLParam(r, "mandateId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write(html)
	}
}
