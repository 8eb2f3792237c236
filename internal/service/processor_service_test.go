package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ihacademy/debit-orders-go/internal/domain"
	"github.com/ihacademy/debit-orders-go/internal/service"

	"github.com/shopspring/decimal"
)

func seedPendingTransaction(t *testing.T, store *fakeTransactionStore, mandateID string, due time.Time) *domain.Transaction {
	t.Helper()
	txn, err := store.CreateTransaction(context.Background(), &domain.Transaction{
		TransactionReference: fmt.Sprintf("TX-%s-%s", mandateID, due.Format("2006-01-02")),
		MandateID:            mandateID,
		Amount:               decimal.NewFromInt(450),
		Type:                 domain.TransactionTypeMembershipPayment,
		Status:               domain.TransactionStatusPending,
		DueDate:              due,
	})
	if err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
	return txn
}

func TestProcessTransaction_Success(t *testing.T) {
	mandates := newFakeMandateStore()
	transactions := newFakeTransactionStore()
	rail := &fakeRail{results: []*domain.DebitResult{{Success: true}}}
	notifier := &fakeNotifier{}
	svc := newBillingService(mandates, transactions, rail, notifier, service.BillingPolicy{MaxDebitRetries: 3})

	due := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := seedActiveMandate(t, mandates, due)
	txn := seedPendingTransaction(t, transactions, m.ID, due)

	result, err := svc.ProcessTransaction(context.Background(), txn.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if result.Status != domain.TransactionStatusSuccessful {
		t.Errorf("expected successful, got %s", result.Status)
	}
	if result.ProcessedAt == nil {
		t.Error("expected processed_at to be set")
	}
	if result.RetryCount != 0 {
		t.Errorf("expected retry count 0, got %d", result.RetryCount)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifier.sent))
	}
}

func TestProcessTransaction_FailureSchedulesRetry(t *testing.T) {
	mandates := newFakeMandateStore()
	transactions := newFakeTransactionStore()
	rail := &fakeRail{results: []*domain.DebitResult{{Success: false, FailureReason: "Insufficient funds"}}}
	svc := newBillingService(mandates, transactions, rail, nil, service.BillingPolicy{
		MaxDebitRetries: 3,
		RetryInterval:   72 * time.Hour,
	})

	due := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := seedActiveMandate(t, mandates, due)
	txn := seedPendingTransaction(t, transactions, m.ID, due)

	result, err := svc.ProcessTransaction(context.Background(), txn.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if result.Status != domain.TransactionStatusPending {
		t.Errorf("expected pending for retry, got %s", result.Status)
	}
	if result.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", result.RetryCount)
	}
	if result.FailureReason != "Insufficient funds" {
		t.Errorf("expected failure reason recorded, got %q", result.FailureReason)
	}
	if result.NextRetryDate == nil {
		t.Fatal("expected next retry date")
	}
	wantEarliest := time.Now().Add(71 * time.Hour)
	if result.NextRetryDate.Before(wantEarliest) {
		t.Errorf("expected next retry roughly 72h out, got %s", result.NextRetryDate)
	}
}

func TestProcessTransaction_SucceedsOnRetry(t *testing.T) {
	mandates := newFakeMandateStore()
	transactions := newFakeTransactionStore()
	rail := &fakeRail{results: []*domain.DebitResult{
		{Success: false, FailureReason: "Insufficient funds"},
		{Success: true},
	}}
	svc := newBillingService(mandates, transactions, rail, nil, service.BillingPolicy{
		MaxDebitRetries: 3,
		RetryInterval:   72 * time.Hour,
	})

	due := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := seedActiveMandate(t, mandates, due)
	txn := seedPendingTransaction(t, transactions, m.ID, due)

	if _, err := svc.ProcessTransaction(context.Background(), txn.ID); err != nil {
		t.Fatalf("first attempt: %v", err)
	}

	result, err := svc.ProcessTransaction(context.Background(), txn.ID)
	if err != nil {
		t.Fatalf("second attempt: %v", err)
	}

	if result.Status != domain.TransactionStatusSuccessful {
		t.Errorf("expected successful after retry, got %s", result.Status)
	}
	if result.RetryCount != 1 {
		t.Errorf("expected one recorded failure before success, got %d", result.RetryCount)
	}
	if result.ProcessedAt == nil {
		t.Error("expected processed_at to be set")
	}
	if result.NextRetryDate != nil {
		t.Errorf("expected no next retry date after success, got %s", result.NextRetryDate)
	}
}

func TestProcessTransaction_ExhaustsRetries(t *testing.T) {
	mandates := newFakeMandateStore()
	transactions := newFakeTransactionStore()
	rail := &fakeRail{results: []*domain.DebitResult{{Success: false, FailureReason: "Account blocked"}}}
	svc := newBillingService(mandates, transactions, rail, nil, service.BillingPolicy{
		MaxDebitRetries: 3,
		RetryInterval:   time.Hour,
	})

	due := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := seedActiveMandate(t, mandates, due)
	txn := seedPendingTransaction(t, transactions, m.ID, due)

	// Attempts 1 and 2 schedule retries, attempt 3 is terminal.
	for i := 0; i < 2; i++ {
		transactions.transactions[txn.ID].NextRetryDate = nil
		if _, err := svc.ProcessTransaction(context.Background(), txn.ID); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	transactions.transactions[txn.ID].NextRetryDate = nil
	result, err := svc.ProcessTransaction(context.Background(), txn.ID)
	if err != nil {
		t.Fatalf("final attempt: %v", err)
	}

	if result.Status != domain.TransactionStatusFailed {
		t.Errorf("expected failed, got %s", result.Status)
	}
	if result.RetryCount != 3 {
		t.Errorf("expected retry count 3, got %d", result.RetryCount)
	}
	if result.NextRetryDate != nil {
		t.Error("terminal failure must not schedule another retry")
	}

	// Default policy leaves the mandate active.
	updated, _ := mandates.GetMandate(context.Background(), m.ID)
	if updated.Status != domain.MandateStatusActive {
		t.Errorf("expected mandate to stay active, got %s", updated.Status)
	}
}

func TestProcessTransaction_SuspendOnExhaustedRetries(t *testing.T) {
	mandates := newFakeMandateStore()
	transactions := newFakeTransactionStore()
	rail := &fakeRail{results: []*domain.DebitResult{{Success: false, FailureReason: "Account not found"}}}
	svc := newBillingService(mandates, transactions, rail, nil, service.BillingPolicy{
		MaxDebitRetries:           1,
		RetryInterval:             time.Hour,
		SuspendOnExhaustedRetries: true,
	})

	due := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := seedActiveMandate(t, mandates, due)
	txn := seedPendingTransaction(t, transactions, m.ID, due)

	if _, err := svc.ProcessTransaction(context.Background(), txn.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	updated, _ := mandates.GetMandate(context.Background(), m.ID)
	if updated.Status != domain.MandateStatusSuspended {
		t.Errorf("expected mandate suspended, got %s", updated.Status)
	}
}

func TestProcessTransaction_RailErrorAbsorbed(t *testing.T) {
	mandates := newFakeMandateStore()
	transactions := newFakeTransactionStore()
	rail := &fakeRail{err: errors.New("connection refused")}
	svc := newBillingService(mandates, transactions, rail, nil, service.BillingPolicy{
		MaxDebitRetries: 3,
		RetryInterval:   time.Hour,
	})

	due := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := seedActiveMandate(t, mandates, due)
	txn := seedPendingTransaction(t, transactions, m.ID, due)

	result, err := svc.ProcessTransaction(context.Background(), txn.ID)
	if err != nil {
		t.Fatalf("rail errors must not propagate, got %v", err)
	}
	if result.Status != domain.TransactionStatusPending {
		t.Errorf("expected retry after rail error, got %s", result.Status)
	}
	if result.FailureReason != "Bank system unavailable" {
		t.Errorf("expected 'Bank system unavailable', got %q", result.FailureReason)
	}
}

func TestProcessTransaction_OnlyPending(t *testing.T) {
	mandates := newFakeMandateStore()
	transactions := newFakeTransactionStore()
	svc := newBillingService(mandates, transactions, nil, nil, service.BillingPolicy{})

	due := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := seedActiveMandate(t, mandates, due)
	txn := seedPendingTransaction(t, transactions, m.ID, due)
	transactions.transactions[txn.ID].Status = domain.TransactionStatusSuccessful

	_, err := svc.ProcessTransaction(context.Background(), txn.ID)
	var invalidState *domain.ErrInvalidState
	if !errors.As(err, &invalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestProcessTransaction_RequiresActiveMandate(t *testing.T) {
	mandates := newFakeMandateStore()
	transactions := newFakeTransactionStore()
	svc := newBillingService(mandates, transactions, nil, nil, service.BillingPolicy{})

	due := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := seedActiveMandate(t, mandates, due)
	mandates.mandates[m.ID].Status = domain.MandateStatusSuspended
	txn := seedPendingTransaction(t, transactions, m.ID, due)

	_, err := svc.ProcessTransaction(context.Background(), txn.ID)
	var invalidState *domain.ErrInvalidState
	if !errors.As(err, &invalidState) {
		t.Fatalf("expected ErrInvalidState for suspended mandate, got %v", err)
	}
}

func TestRunProcessing_MixedOutcomes(t *testing.T) {
	mandates := newFakeMandateStore()
	transactions := newFakeTransactionStore()
	notifier := &fakeNotifier{}

	due := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := seedActiveMandate(t, mandates, due)

	okTxn := seedPendingTransaction(t, transactions, m.ID, due)
	failTxn := seedPendingTransaction(t, transactions, m.ID, due.AddDate(0, 1, 0))

	// Script per-transaction results by marking which reference fails.
	rail := &scriptedRail{failing: map[string]string{
		failTxn.TransactionReference: "Insufficient funds",
	}}

	svc := newBillingService(mandates, transactions, rail, notifier, service.BillingPolicy{
		MaxDebitRetries: 3,
		RetryInterval:   72 * time.Hour,
		MaxConcurrency:  4,
	})

	run, err := svc.RunProcessing(context.Background(), due.AddDate(0, 2, 0))
	if err != nil {
		t.Fatalf("processing: %v", err)
	}

	if run.Picked != 2 {
		t.Errorf("expected 2 picked, got %d", run.Picked)
	}
	if run.Successful != 1 || run.Retried != 1 || run.Exhausted != 0 {
		t.Errorf("unexpected counts: %+v", run)
	}

	okAfter, _ := transactions.GetTransaction(context.Background(), okTxn.ID)
	if okAfter.Status != domain.TransactionStatusSuccessful {
		t.Errorf("expected %s successful, got %s", okTxn.ID, okAfter.Status)
	}
	failAfter, _ := transactions.GetTransaction(context.Background(), failTxn.ID)
	if failAfter.Status != domain.TransactionStatusPending || failAfter.RetryCount != 1 {
		t.Errorf("expected %s pending with retry 1, got %s retry %d", failTxn.ID, failAfter.Status, failAfter.RetryCount)
	}
}

func TestRunProcessing_SkipsFutureRetries(t *testing.T) {
	mandates := newFakeMandateStore()
	transactions := newFakeTransactionStore()

	due := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := seedActiveMandate(t, mandates, due)
	txn := seedPendingTransaction(t, transactions, m.ID, due)
	future := due.AddDate(0, 0, 3)
	transactions.transactions[txn.ID].NextRetryDate = &future

	svc := newBillingService(mandates, transactions, &fakeRail{}, nil, service.BillingPolicy{})

	run, err := svc.RunProcessing(context.Background(), due)
	if err != nil {
		t.Fatalf("processing: %v", err)
	}
	if run.Picked != 0 {
		t.Errorf("expected no transactions picked before their retry date, got %d", run.Picked)
	}
}

func TestRunProcessing_LeavesPendingWhenMandateSuspended(t *testing.T) {
	mandates := newFakeMandateStore()
	transactions := newFakeTransactionStore()

	due := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := seedActiveMandate(t, mandates, due)
	txn := seedPendingTransaction(t, transactions, m.ID, due)
	mandates.mandates[m.ID].Status = domain.MandateStatusSuspended

	rail := &fakeRail{}
	svc := newBillingService(mandates, transactions, rail, nil, service.BillingPolicy{})

	run, err := svc.RunProcessing(context.Background(), due)
	if err != nil {
		t.Fatalf("processing: %v", err)
	}
	if run.Successful != 0 || run.Retried != 0 || run.Exhausted != 0 {
		t.Errorf("expected no outcomes for suspended mandate, got %+v", run)
	}
	if rail.calls != 0 {
		t.Errorf("rail must not be called for suspended mandates, got %d calls", rail.calls)
	}

	after, _ := transactions.GetTransaction(context.Background(), txn.ID)
	if after.Status != domain.TransactionStatusPending {
		t.Errorf("expected transaction left pending, got %s", after.Status)
	}
}

// scriptedRail fails attempts whose transaction reference is listed.
type scriptedRail struct {
	failing map[string]string
}

func (s *scriptedRail) AttemptDebit(_ context.Context, attempt *domain.DebitAttempt) (*domain.DebitResult, error) {
	if reason, ok := s.failing[attempt.TransactionReference]; ok {
		return &domain.DebitResult{Success: false, FailureReason: reason}, nil
	}
	return &domain.DebitResult{Success: true}, nil
}
