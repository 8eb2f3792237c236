package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ihacademy/debit-orders-go/internal/domain"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ============================================================
// Debit processing
// ============================================================

// railUnavailableReason is recorded when the rail cannot be reached at all,
// as opposed to the rail declining the debit.
const railUnavailableReason = "Bank system unavailable"

type debitOutcome string

const (
	outcomeSuccessful debitOutcome = "successful"
	outcomeRetried    debitOutcome = "retried"
	outcomeExhausted  debitOutcome = "exhausted"
	outcomeSkipped    debitOutcome = "skipped"
)

// ProcessTransaction attempts the debit for one pending transaction and
// applies the outcome: success, scheduled retry, or terminal failure once
// retries are exhausted. Rail failures never propagate to the caller; they
// are absorbed into the transaction's retry state.
func (s *BillingService) ProcessTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.ProcessTransaction")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", transactionID))

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("transaction_process", time.Since(start)) }()

	txn, err := s.transactions.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Status != domain.TransactionStatusPending {
		return nil, &domain.ErrInvalidState{Resource: "transaction", ID: transactionID, Current: string(txn.Status), Action: "process"}
	}

	mandate, err := s.mandates.GetMandate(ctx, txn.MandateID)
	if err != nil {
		return nil, err
	}
	if mandate.Status != domain.MandateStatusActive {
		return nil, &domain.ErrInvalidState{Resource: "mandate", ID: mandate.ID, Current: string(mandate.Status), Action: "debit against"}
	}

	if _, err := s.attemptDebit(ctx, txn, mandate); err != nil {
		return nil, err
	}
	return s.transactions.GetTransaction(ctx, transactionID)
}

// RunProcessing picks every pending transaction due for an attempt on or
// before asOf and processes them concurrently, bounded by the policy's
// concurrency limit. Individual failures are absorbed into retry state;
// the run itself only errors when the queue cannot be read.
func (s *BillingService) RunProcessing(ctx context.Context, asOf time.Time) (*domain.ProcessingRun, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.RunProcessing")
	defer span.End()

	start := time.Now()
	run := &domain.ProcessingRun{
		RunID: uuid.NewString(),
		AsOf:  asOf,
	}
	span.SetAttributes(attribute.String("run.id", run.RunID))

	queue, err := s.transactions.ListProcessableTransactions(ctx, asOf)
	if err != nil {
		s.logger.Error("processing run aborted: cannot list processable transactions",
			zap.String("run_id", run.RunID), zap.Error(err))
		return nil, err
	}
	run.Picked = len(queue)

	var successful, retried, exhausted atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.policy.MaxConcurrency)

	for i := range queue {
		txn := &queue[i]
		g.Go(func() error {
			mandate, err := s.mandates.GetMandate(gctx, txn.MandateID)
			if err != nil {
				s.logger.Error("cannot load mandate for transaction",
					zap.String("run_id", run.RunID),
					zap.String("transaction_id", txn.ID),
					zap.String("mandate_id", txn.MandateID),
					zap.Error(err),
				)
				return nil
			}
			if mandate.Status != domain.MandateStatusActive {
				// Suspended or cancelled since generation. Leave the
				// transaction pending; resuming the mandate will pick it up.
				return nil
			}

			outcome, err := s.attemptDebit(gctx, txn, mandate)
			if err != nil {
				s.logger.Error("debit attempt failed to record",
					zap.String("run_id", run.RunID),
					zap.String("transaction_id", txn.ID),
					zap.Error(err),
				)
				return nil
			}
			switch outcome {
			case outcomeSuccessful:
				successful.Add(1)
			case outcomeRetried:
				retried.Add(1)
			case outcomeExhausted:
				exhausted.Add(1)
			}
			return nil
		})
	}
	g.Wait()

	run.Successful = int(successful.Load())
	run.Retried = int(retried.Load())
	run.Exhausted = int(exhausted.Load())

	s.metrics.RecordRunDuration("processing", time.Since(start))

	s.logger.Info("processing run complete",
		zap.String("run_id", run.RunID),
		zap.Time("as_of", asOf),
		zap.Int("picked", run.Picked),
		zap.Int("successful", run.Successful),
		zap.Int("retried", run.Retried),
		zap.Int("exhausted", run.Exhausted),
	)

	return run, nil
}

// attemptDebit runs one debit attempt end to end: claim the transaction,
// hit the rail under its timeout, then record the result. The returned error
// is a store error only; rail errors are converted into a failed attempt.
func (s *BillingService) attemptDebit(ctx context.Context, txn *domain.Transaction, mandate *domain.Mandate) (debitOutcome, error) {
	if err := s.transactions.MarkTransactionProcessing(ctx, txn.ID); err != nil {
		return outcomeSkipped, err
	}

	railCtx, cancel := context.WithTimeout(ctx, s.policy.RailTimeout)
	defer cancel()

	attempt := &domain.DebitAttempt{
		TransactionReference: txn.TransactionReference,
		MandateReference:     mandate.MandateReference,
		AccountHolder:        mandate.AccountHolder,
		AccountNumber:        mandate.AccountNumber,
		BranchCode:           mandate.BranchCode,
		AccountType:          mandate.AccountType,
		Amount:               txn.Amount,
	}

	result, err := s.rail.AttemptDebit(railCtx, attempt)
	if err != nil {
		// Unreachable rail and timeouts count as a failed attempt.
		s.metrics.IncrRailError("debit")
		s.logger.Warn("payment rail error",
			zap.String("transaction_id", txn.ID),
			zap.Error(err),
		)
		result = &domain.DebitResult{Success: false, FailureReason: railUnavailableReason}
	}

	if result.Success {
		now := time.Now().UTC()
		if err := s.transactions.MarkTransactionSuccessful(ctx, txn.ID, now); err != nil {
			return outcomeSkipped, err
		}
		s.metrics.IncrDebitOutcome(string(outcomeSuccessful))
		s.logger.Info("debit successful",
			zap.String("transaction_id", txn.ID),
			zap.String("transaction_reference", txn.TransactionReference),
			zap.String("amount", txn.Amount.String()),
		)
		s.notifySuccess(ctx, txn, mandate)
		return outcomeSuccessful, nil
	}

	retryCount := txn.RetryCount + 1
	if retryCount < s.policy.MaxDebitRetries {
		nextRetry := time.Now().UTC().Add(s.policy.RetryInterval)
		if err := s.transactions.MarkTransactionRetry(ctx, txn.ID, retryCount, nextRetry, result.FailureReason); err != nil {
			return outcomeSkipped, err
		}
		s.metrics.IncrDebitOutcome(string(outcomeRetried))
		s.logger.Info("debit failed, retry scheduled",
			zap.String("transaction_id", txn.ID),
			zap.String("failure_reason", result.FailureReason),
			zap.Int("retry_count", retryCount),
			zap.Time("next_retry_date", nextRetry),
		)
		return outcomeRetried, nil
	}

	if err := s.transactions.MarkTransactionFailed(ctx, txn.ID, retryCount, result.FailureReason); err != nil {
		return outcomeSkipped, err
	}
	s.metrics.IncrDebitOutcome(string(outcomeExhausted))
	s.logger.Warn("debit failed permanently, retries exhausted",
		zap.String("transaction_id", txn.ID),
		zap.String("mandate_id", mandate.ID),
		zap.String("failure_reason", result.FailureReason),
		zap.Int("retry_count", retryCount),
	)

	if s.policy.SuspendOnExhaustedRetries {
		if err := s.mandates.UpdateMandateStatus(ctx, mandate.ID, domain.MandateStatusSuspended); err != nil {
			s.logger.Error("failed to suspend mandate after exhausted retries",
				zap.String("mandate_id", mandate.ID),
				zap.Error(err),
			)
		} else {
			s.metrics.IncrMandateTransition(domain.MandateStatusSuspended)
			s.logger.Info("mandate suspended after exhausted retries",
				zap.String("mandate_id", mandate.ID),
			)
		}
	}

	return outcomeExhausted, nil
}

// notifySuccess sends the member-facing payment confirmation. Notification
// failures are logged and dropped; the debit already happened.
func (s *BillingService) notifySuccess(ctx context.Context, txn *domain.Transaction, mandate *domain.Mandate) {
	n := &domain.PaymentNotification{
		Recipient:        mandate.UserID,
		OrganizationName: mandate.OrganizationID,
		Subject:          fmt.Sprintf("Payment confirmation %s", txn.TransactionReference),
		Body: fmt.Sprintf(
			"Your debit order payment of R %s (reference %s) was processed successfully on %s.",
			txn.Amount.StringFixed(2),
			txn.TransactionReference,
			time.Now().Format("2 January 2006"),
		),
	}

	if err := s.notifier.SendPaymentNotification(ctx, n); err != nil {
		s.metrics.IncrNotification("failed")
		s.logger.Warn("payment notification not delivered",
			zap.String("transaction_id", txn.ID),
			zap.Error(err),
		)
		return
	}
	s.metrics.IncrNotification("sent")
}
