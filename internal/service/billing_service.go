package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ihacademy/debit-orders-go/internal/domain"
	"github.com/ihacademy/debit-orders-go/internal/infra/observability"
	"github.com/ihacademy/debit-orders-go/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var billingTracer = otel.Tracer("service/billing")

// BillingPolicy holds the retry and concurrency knobs for billing runs.
// Values come from configuration so operations can tune them without a deploy.
type BillingPolicy struct {
	MaxDebitRetries           int
	RetryInterval             time.Duration
	RailTimeout               time.Duration
	MaxConcurrency            int
	SuspendOnExhaustedRetries bool
}

// BillingService generates transactions from due mandates and drives debit
// attempts through the payment rail.
type BillingService struct {
	mandates     port.MandateStore
	transactions port.TransactionStore
	rail         port.PaymentRail
	notifier     port.Notifier
	policy       BillingPolicy
	metrics      *observability.Metrics
	logger       *zap.Logger
}

// NewBillingService creates a new billing service.
func NewBillingService(
	mandates port.MandateStore,
	transactions port.TransactionStore,
	rail port.PaymentRail,
	notifier port.Notifier,
	policy BillingPolicy,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *BillingService {
	if policy.MaxDebitRetries <= 0 {
		policy.MaxDebitRetries = 3
	}
	if policy.RetryInterval <= 0 {
		policy.RetryInterval = 72 * time.Hour
	}
	if policy.RailTimeout <= 0 {
		policy.RailTimeout = 30 * time.Second
	}
	if policy.MaxConcurrency <= 0 {
		policy.MaxConcurrency = 10
	}
	return &BillingService{
		mandates:     mandates,
		transactions: transactions,
		rail:         rail,
		notifier:     notifier,
		policy:       policy,
		metrics:      metrics,
		logger:       logger,
	}
}

// newTransactionReference builds a reference like TX-550e8400-e29b-41d4-a716-446655440000.
// A full UUID keeps bulk generation runs collision-free.
func newTransactionReference() string {
	return "TX-" + uuid.NewString()
}

// GetTransaction returns a transaction by id.
func (s *BillingService) GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.GetTransaction")
	defer span.End()

	return s.transactions.GetTransaction(ctx, transactionID)
}

// ListTransactions returns transactions matching the filter, newest first.
func (s *BillingService) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.ListTransactions")
	defer span.End()

	if filter.Status != "" {
		switch filter.Status {
		case domain.TransactionStatusPending, domain.TransactionStatusProcessing,
			domain.TransactionStatusSuccessful, domain.TransactionStatusFailed,
			domain.TransactionStatusDisputed:
		default:
			verr := &domain.ErrValidation{}
			return nil, verr.Add("status", "unknown transaction status")
		}
	}
	return s.transactions.ListTransactions(ctx, filter)
}

// RunGeneration scans active mandates due on or before asOf and creates one
// pending transaction per mandate billing period. The run is idempotent: a
// period that already has a transaction is counted as a duplicate and the
// schedule still advances, so re-running after a partial failure is safe.
func (s *BillingService) RunGeneration(ctx context.Context, asOf time.Time) (*domain.GenerationRun, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.RunGeneration")
	defer span.End()

	start := time.Now()
	run := &domain.GenerationRun{
		RunID: uuid.NewString(),
		AsOf:  asOf,
	}
	span.SetAttributes(attribute.String("run.id", run.RunID))

	due, err := s.mandates.ListDueMandates(ctx, asOf)
	if err != nil {
		s.logger.Error("generation run aborted: cannot list due mandates",
			zap.String("run_id", run.RunID), zap.Error(err))
		return nil, err
	}
	run.Due = len(due)

	for i := range due {
		m := &due[i]

		if m.NextProcessDate == nil {
			// Active mandate without a schedule means activation was
			// interrupted. Leave it for manual repair rather than guessing.
			s.logger.Warn("skipping mandate with no next process date",
				zap.String("run_id", run.RunID),
				zap.String("mandate_id", m.ID),
			)
			run.Skipped++
			continue
		}

		dueDate := *m.NextProcessDate

		if m.EndDate != nil && dueDate.After(*m.EndDate) {
			s.logger.Info("mandate past end date, not billing",
				zap.String("run_id", run.RunID),
				zap.String("mandate_id", m.ID),
				zap.Time("end_date", *m.EndDate),
			)
			run.Skipped++
			continue
		}

		txn := &domain.Transaction{
			TransactionReference: newTransactionReference(),
			MandateID:            m.ID,
			Amount:               m.MaxAmount,
			Type:                 domain.TransactionTypeMembershipPayment,
			Description:          fmt.Sprintf("Debit order %s due %s", m.MandateReference, dueDate.Format(dateLayout)),
			Status:               domain.TransactionStatusPending,
			DueDate:              dueDate,
		}

		_, err := s.transactions.CreateTransaction(ctx, txn)
		switch {
		case err == nil:
			run.Generated++
			s.metrics.IncrTransactionGenerated()
		case isConflictErr(err):
			// A transaction for this mandate and due date already exists.
			// Still advance the schedule so the mandate does not stay due.
			run.Duplicates++
			s.logger.Info("transaction already generated for period",
				zap.String("run_id", run.RunID),
				zap.String("mandate_id", m.ID),
				zap.Time("due_date", dueDate),
			)
		default:
			run.Skipped++
			s.logger.Error("failed to create transaction, mandate stays due",
				zap.String("run_id", run.RunID),
				zap.String("mandate_id", m.ID),
				zap.Error(err),
			)
			continue
		}

		next := m.Frequency.Next(dueDate)
		if err := s.mandates.AdvanceMandateSchedule(ctx, m.ID, asOf, next); err != nil {
			s.logger.Error("failed to advance mandate schedule",
				zap.String("run_id", run.RunID),
				zap.String("mandate_id", m.ID),
				zap.Error(err),
			)
		}
	}

	s.metrics.RecordRunDuration("generation", time.Since(start))

	s.logger.Info("generation run complete",
		zap.String("run_id", run.RunID),
		zap.Time("as_of", asOf),
		zap.Int("due", run.Due),
		zap.Int("generated", run.Generated),
		zap.Int("duplicates", run.Duplicates),
		zap.Int("skipped", run.Skipped),
	)

	return run, nil
}

func isConflictErr(err error) bool {
	var conflict *domain.ErrConflict
	return errors.As(err, &conflict)
}
