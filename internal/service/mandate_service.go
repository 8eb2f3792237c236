// Package service provides the business logic layer (use cases).
// MandateService owns the mandate lifecycle; BillingService owns
// transaction generation and processing.
package service

import (
	"context"
	"regexp"
	"time"

	"github.com/ihacademy/debit-orders-go/internal/domain"
	"github.com/ihacademy/debit-orders-go/internal/infra/observability"
	"github.com/ihacademy/debit-orders-go/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var mandateTracer = otel.Tracer("service/mandate")

var digitsOnlyRegex = regexp.MustCompile(`^[0-9]+$`)

const dateLayout = "2006-01-02"

// MandateService orchestrates mandate creation and lifecycle transitions.
type MandateService struct {
	store     port.MandateStore
	cache     port.Cache[*domain.Mandate]
	listCache port.Cache[[]domain.Mandate]
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewMandateService creates a new mandate service.
func NewMandateService(
	store port.MandateStore,
	cache port.Cache[*domain.Mandate],
	listCache port.Cache[[]domain.Mandate],
	metrics *observability.Metrics,
	logger *zap.Logger,
) *MandateService {
	return &MandateService{store: store, cache: cache, listCache: listCache, metrics: metrics, logger: logger}
}

// newMandateReference builds a reference like DO-550e8400-e29b-41d4-a716-446655440000.
// The token is a UUID so concurrent creates cannot collide.
func newMandateReference() string {
	return "DO-" + uuid.NewString()
}

// CreateMandate validates the request and persists a pending mandate.
// Validation reports every failing field at once, not just the first.
func (s *MandateService) CreateMandate(ctx context.Context, req *domain.MandateRequest) (*domain.Mandate, error) {
	ctx, span := mandateTracer.Start(ctx, "MandateService.CreateMandate")
	defer span.End()
	span.SetAttributes(attribute.String("organization.id", req.OrganizationID))

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("mandate_create", time.Since(start)) }()

	verr := &domain.ErrValidation{}
	if req.UserID == "" {
		verr.Add("user_id", "required")
	}
	if req.OrganizationID == "" {
		verr.Add("organization_id", "required")
	}
	if req.BankName == "" {
		verr.Add("bank_name", "required")
	}
	if req.AccountHolder == "" {
		verr.Add("account_holder", "required")
	}
	switch {
	case req.AccountNumber == "":
		verr.Add("account_number", "required")
	case !digitsOnlyRegex.MatchString(req.AccountNumber):
		verr.Add("account_number", "must contain digits only")
	case len(req.AccountNumber) < 9 || len(req.AccountNumber) > 11:
		verr.Add("account_number", "must be 9 to 11 digits")
	}
	switch {
	case req.BranchCode == "":
		verr.Add("branch_code", "required")
	case !digitsOnlyRegex.MatchString(req.BranchCode):
		verr.Add("branch_code", "must contain digits only")
	case len(req.BranchCode) != 6:
		verr.Add("branch_code", "must be exactly 6 digits")
	}
	if !domain.ValidAccountType(req.AccountType) {
		verr.Add("account_type", "must be one of: current, savings, transmission")
	}
	if !req.MaxAmount.IsPositive() {
		verr.Add("max_amount", "must be greater than zero")
	}
	if !domain.ValidFrequency(req.Frequency) {
		verr.Add("frequency", "must be one of: monthly, weekly, bi-weekly")
	}

	var startDate time.Time
	if req.StartDate == "" {
		verr.Add("start_date", "required")
	} else {
		var err error
		startDate, err = time.Parse(dateLayout, req.StartDate)
		if err != nil {
			verr.Add("start_date", "invalid format, use YYYY-MM-DD")
		}
	}

	var endDate *time.Time
	if req.EndDate != "" {
		parsed, err := time.Parse(dateLayout, req.EndDate)
		switch {
		case err != nil:
			verr.Add("end_date", "invalid format, use YYYY-MM-DD")
		case !startDate.IsZero() && !parsed.After(startDate):
			verr.Add("end_date", "must be after start_date")
		default:
			endDate = &parsed
		}
	}

	if len(verr.Violations) > 0 {
		return nil, verr
	}

	mandate := &domain.Mandate{
		MandateReference: newMandateReference(),
		UserID:           req.UserID,
		OrganizationID:   req.OrganizationID,
		BankName:         req.BankName,
		AccountHolder:    req.AccountHolder,
		AccountNumber:    req.AccountNumber,
		BranchCode:       req.BranchCode,
		AccountType:      req.AccountType,
		MaxAmount:        req.MaxAmount,
		Frequency:        req.Frequency,
		StartDate:        startDate,
		EndDate:          endDate,
		Status:           domain.MandateStatusPending,
	}

	created, err := s.store.CreateMandate(ctx, mandate)
	if err != nil {
		s.logger.Error("failed to create mandate",
			zap.String("organization_id", req.OrganizationID),
			zap.Error(err),
		)
		return nil, err
	}

	s.invalidate(created)
	s.metrics.IncrMandateCreated()

	s.logger.Info("mandate created",
		zap.String("mandate_id", created.ID),
		zap.String("mandate_reference", created.MandateReference),
		zap.String("organization_id", created.OrganizationID),
		zap.String("frequency", string(created.Frequency)),
		zap.String("max_amount", created.MaxAmount.String()),
	)

	return created, nil
}

// GetMandate returns a mandate by id, serving from cache when possible.
func (s *MandateService) GetMandate(ctx context.Context, mandateID string) (*domain.Mandate, error) {
	ctx, span := mandateTracer.Start(ctx, "MandateService.GetMandate")
	defer span.End()

	if m, ok := s.cache.Get(mandateID); ok {
		s.metrics.IncrCacheHit("mandate")
		return m, nil
	}
	s.metrics.IncrCacheMiss("mandate")

	m, err := s.store.GetMandate(ctx, mandateID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(mandateID, m)
	return m, nil
}

// ListMandatesForOrganization returns every mandate of an organization,
// newest first.
func (s *MandateService) ListMandatesForOrganization(ctx context.Context, organizationID string) ([]domain.Mandate, error) {
	ctx, span := mandateTracer.Start(ctx, "MandateService.ListMandatesForOrganization")
	defer span.End()

	key := "org:" + organizationID
	if list, ok := s.listCache.Get(key); ok {
		s.metrics.IncrCacheHit("mandate_list")
		return list, nil
	}
	s.metrics.IncrCacheMiss("mandate_list")

	list, err := s.store.ListMandatesForOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	s.listCache.Set(key, list)
	return list, nil
}

// ListMandatesForUser returns a user's mandates, optionally scoped to one
// organization (empty organizationID means all).
func (s *MandateService) ListMandatesForUser(ctx context.Context, userID, organizationID string) ([]domain.Mandate, error) {
	ctx, span := mandateTracer.Start(ctx, "MandateService.ListMandatesForUser")
	defer span.End()

	key := "user:" + userID + ":" + organizationID
	if list, ok := s.listCache.Get(key); ok {
		s.metrics.IncrCacheHit("mandate_list")
		return list, nil
	}
	s.metrics.IncrCacheMiss("mandate_list")

	list, err := s.store.ListMandatesForUser(ctx, userID, organizationID)
	if err != nil {
		return nil, err
	}
	s.listCache.Set(key, list)
	return list, nil
}

// ActivateMandate marks a signed pending mandate active. Signing timestamps
// the mandate and arms the schedule: the first debit falls on the start date.
func (s *MandateService) ActivateMandate(ctx context.Context, mandateID string) (*domain.Mandate, error) {
	ctx, span := mandateTracer.Start(ctx, "MandateService.ActivateMandate")
	defer span.End()

	m, err := s.store.GetMandate(ctx, mandateID)
	if err != nil {
		return nil, err
	}
	if m.Status != domain.MandateStatusPending {
		return nil, &domain.ErrInvalidState{Resource: "mandate", ID: mandateID, Current: string(m.Status), Action: "activate"}
	}

	signedAt := time.Now().UTC()
	if err := s.store.MarkMandateActivated(ctx, mandateID, signedAt, m.StartDate); err != nil {
		s.logger.Error("failed to activate mandate", zap.String("mandate_id", mandateID), zap.Error(err))
		return nil, err
	}

	s.invalidate(m)
	s.metrics.IncrMandateTransition(domain.MandateStatusActive)

	s.logger.Info("mandate activated",
		zap.String("mandate_id", mandateID),
		zap.String("mandate_reference", m.MandateReference),
		zap.Time("next_process_date", m.StartDate),
	)

	return s.store.GetMandate(ctx, mandateID)
}

// SuspendMandate pauses billing on an active mandate.
func (s *MandateService) SuspendMandate(ctx context.Context, mandateID string) (*domain.Mandate, error) {
	ctx, span := mandateTracer.Start(ctx, "MandateService.SuspendMandate")
	defer span.End()

	return s.transition(ctx, mandateID, domain.MandateStatusSuspended, "suspend")
}

// ResumeMandate reactivates a suspended mandate. The schedule picks up where
// it left off; missed periods are not back-billed.
func (s *MandateService) ResumeMandate(ctx context.Context, mandateID string) (*domain.Mandate, error) {
	ctx, span := mandateTracer.Start(ctx, "MandateService.ResumeMandate")
	defer span.End()

	m, err := s.store.GetMandate(ctx, mandateID)
	if err != nil {
		return nil, err
	}
	if m.Status != domain.MandateStatusSuspended {
		return nil, &domain.ErrInvalidState{Resource: "mandate", ID: mandateID, Current: string(m.Status), Action: "resume"}
	}
	return s.applyTransition(ctx, m, domain.MandateStatusActive)
}

// CancelMandate terminates a mandate permanently. The record is kept for
// audit; cancelled mandates never process again.
func (s *MandateService) CancelMandate(ctx context.Context, mandateID string) (*domain.Mandate, error) {
	ctx, span := mandateTracer.Start(ctx, "MandateService.CancelMandate")
	defer span.End()

	return s.transition(ctx, mandateID, domain.MandateStatusCancelled, "cancel")
}

func (s *MandateService) transition(ctx context.Context, mandateID string, target domain.MandateStatus, action string) (*domain.Mandate, error) {
	m, err := s.store.GetMandate(ctx, mandateID)
	if err != nil {
		return nil, err
	}
	if !m.Status.CanTransitionTo(target) {
		return nil, &domain.ErrInvalidState{Resource: "mandate", ID: mandateID, Current: string(m.Status), Action: action}
	}
	return s.applyTransition(ctx, m, target)
}

func (s *MandateService) applyTransition(ctx context.Context, m *domain.Mandate, target domain.MandateStatus) (*domain.Mandate, error) {
	if err := s.store.UpdateMandateStatus(ctx, m.ID, target); err != nil {
		s.logger.Error("failed to update mandate status",
			zap.String("mandate_id", m.ID),
			zap.String("target_status", string(target)),
			zap.Error(err),
		)
		return nil, err
	}

	s.invalidate(m)
	s.metrics.IncrMandateTransition(target)

	s.logger.Info("mandate status changed",
		zap.String("mandate_id", m.ID),
		zap.String("from", string(m.Status)),
		zap.String("to", string(target)),
	)

	return s.store.GetMandate(ctx, m.ID)
}

// invalidate drops the mandate and every list that could contain it.
func (s *MandateService) invalidate(m *domain.Mandate) {
	if m.ID != "" {
		s.cache.Delete(m.ID)
	}
	s.listCache.DeletePrefix("org:" + m.OrganizationID)
	s.listCache.DeletePrefix("user:" + m.UserID)
}
