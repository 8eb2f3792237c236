package service_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ihacademy/debit-orders-go/internal/domain"
)

// In-memory store fakes shared by the service tests.

type fakeMandateStore struct {
	mu       sync.Mutex
	mandates map[string]*domain.Mandate
	seq      int
	failWith error
}

func newFakeMandateStore() *fakeMandateStore {
	return &fakeMandateStore{mandates: make(map[string]*domain.Mandate)}
}

func (f *fakeMandateStore) CreateMandate(_ context.Context, m *domain.Mandate) (*domain.Mandate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.seq++
	cp := *m
	cp.ID = fmt.Sprintf("mandate-%d", f.seq)
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	f.mandates[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeMandateStore) GetMandate(_ context.Context, mandateID string) (*domain.Mandate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.mandates[mandateID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "mandate", ID: mandateID}
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMandateStore) ListMandatesForOrganization(_ context.Context, organizationID string) ([]domain.Mandate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Mandate
	for _, m := range f.mandates {
		if m.OrganizationID == organizationID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeMandateStore) ListMandatesForUser(_ context.Context, userID, organizationID string) ([]domain.Mandate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Mandate
	for _, m := range f.mandates {
		if m.UserID != userID {
			continue
		}
		if organizationID != "" && m.OrganizationID != organizationID {
			continue
		}
		out = append(out, *m)
	}
	return out, nil
}

func (f *fakeMandateStore) ListDueMandates(_ context.Context, asOf time.Time) ([]domain.Mandate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	var out []domain.Mandate
	for _, m := range f.mandates {
		if m.Status != domain.MandateStatusActive {
			continue
		}
		if m.NextProcessDate != nil && m.NextProcessDate.After(asOf) {
			continue
		}
		out = append(out, *m)
	}
	return out, nil
}

func (f *fakeMandateStore) UpdateMandateStatus(_ context.Context, mandateID string, status domain.MandateStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.mandates[mandateID]
	if !ok {
		return &domain.ErrNotFound{Resource: "mandate", ID: mandateID}
	}
	m.Status = status
	m.UpdatedAt = time.Now()
	return nil
}

func (f *fakeMandateStore) MarkMandateActivated(_ context.Context, mandateID string, signedAt, nextProcessDate time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.mandates[mandateID]
	if !ok {
		return &domain.ErrNotFound{Resource: "mandate", ID: mandateID}
	}
	m.Status = domain.MandateStatusActive
	m.SignedAt = &signedAt
	m.NextProcessDate = &nextProcessDate
	m.UpdatedAt = time.Now()
	return nil
}

func (f *fakeMandateStore) AdvanceMandateSchedule(_ context.Context, mandateID string, lastProcessedAt, nextProcessDate time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.mandates[mandateID]
	if !ok {
		return &domain.ErrNotFound{Resource: "mandate", ID: mandateID}
	}
	m.LastProcessedAt = &lastProcessedAt
	m.NextProcessDate = &nextProcessDate
	m.UpdatedAt = time.Now()
	return nil
}

type fakeTransactionStore struct {
	mu           sync.Mutex
	transactions map[string]*domain.Transaction
	seq          int
	failWith     error
}

func newFakeTransactionStore() *fakeTransactionStore {
	return &fakeTransactionStore{transactions: make(map[string]*domain.Transaction)}
}

func (f *fakeTransactionStore) CreateTransaction(_ context.Context, t *domain.Transaction) (*domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	for _, existing := range f.transactions {
		if existing.MandateID == t.MandateID && existing.DueDate.Equal(t.DueDate) {
			return nil, &domain.ErrConflict{Message: "transaction already exists for mandate and due date"}
		}
	}
	f.seq++
	cp := *t
	cp.ID = fmt.Sprintf("txn-%d", f.seq)
	cp.CreatedAt = time.Now()
	f.transactions[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeTransactionStore) GetTransaction(_ context.Context, transactionID string) (*domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.transactions[transactionID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: transactionID}
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTransactionStore) ListTransactions(_ context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Transaction
	for _, t := range f.transactions {
		if filter.MandateID != "" && t.MandateID != filter.MandateID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (f *fakeTransactionStore) ListProcessableTransactions(_ context.Context, asOf time.Time) ([]domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	var out []domain.Transaction
	for _, t := range f.transactions {
		if t.Status != domain.TransactionStatusPending {
			continue
		}
		if t.NextRetryDate != nil && t.NextRetryDate.After(asOf) {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (f *fakeTransactionStore) MarkTransactionProcessing(_ context.Context, transactionID string) error {
	return f.update(transactionID, func(t *domain.Transaction) {
		t.Status = domain.TransactionStatusProcessing
	})
}

func (f *fakeTransactionStore) MarkTransactionSuccessful(_ context.Context, transactionID string, processedAt time.Time) error {
	return f.update(transactionID, func(t *domain.Transaction) {
		t.Status = domain.TransactionStatusSuccessful
		t.ProcessedAt = &processedAt
		t.FailureReason = ""
		t.NextRetryDate = nil
	})
}

func (f *fakeTransactionStore) MarkTransactionRetry(_ context.Context, transactionID string, retryCount int, nextRetryDate time.Time, failureReason string) error {
	return f.update(transactionID, func(t *domain.Transaction) {
		t.Status = domain.TransactionStatusPending
		t.RetryCount = retryCount
		t.NextRetryDate = &nextRetryDate
		t.FailureReason = failureReason
	})
}

func (f *fakeTransactionStore) MarkTransactionFailed(_ context.Context, transactionID string, retryCount int, failureReason string) error {
	return f.update(transactionID, func(t *domain.Transaction) {
		t.Status = domain.TransactionStatusFailed
		t.RetryCount = retryCount
		t.NextRetryDate = nil
		t.FailureReason = failureReason
	})
}

func (f *fakeTransactionStore) update(transactionID string, mutate func(*domain.Transaction)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.transactions[transactionID]
	if !ok {
		return &domain.ErrNotFound{Resource: "transaction", ID: transactionID}
	}
	mutate(t)
	return nil
}

// fakeRail returns scripted debit results in order, then repeats the last one.
type fakeRail struct {
	mu      sync.Mutex
	results []*domain.DebitResult
	err     error
	calls   int
}

func (f *fakeRail) AttemptDebit(_ context.Context, _ *domain.DebitAttempt) (*domain.DebitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) == 0 {
		return &domain.DebitResult{Success: true}, nil
	}
	idx := f.calls - 1
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	return f.results[idx], nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []*domain.PaymentNotification
	err  error
}

func (f *fakeNotifier) SendPaymentNotification(_ context.Context, n *domain.PaymentNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}
