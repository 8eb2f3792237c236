// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/ihacademy/debit-orders-go/internal/domain"
)

// MandateStore persists debit-order mandates.
// Implemented by the Supabase adapter (or any other persistence layer).
type MandateStore interface {
	CreateMandate(ctx context.Context, m *domain.Mandate) (*domain.Mandate, error)
	GetMandate(ctx context.Context, mandateID string) (*domain.Mandate, error)

	// ListMandatesForOrganization returns every mandate of an organization,
	// all statuses, newest first.
	ListMandatesForOrganization(ctx context.Context, organizationID string) ([]domain.Mandate, error)
	// ListMandatesForUser returns a user's mandates, optionally filtered to
	// one organization ("" means all).
	ListMandatesForUser(ctx context.Context, userID, organizationID string) ([]domain.Mandate, error)
	// ListDueMandates returns active mandates with next_process_date <= asOf.
	ListDueMandates(ctx context.Context, asOf time.Time) ([]domain.Mandate, error)

	UpdateMandateStatus(ctx context.Context, mandateID string, status domain.MandateStatus) error
	// MarkMandateActivated flips status to active and records signedAt plus
	// the initial nextProcessDate in one write.
	MarkMandateActivated(ctx context.Context, mandateID string, signedAt, nextProcessDate time.Time) error
	// AdvanceMandateSchedule records a generation pass over the mandate.
	AdvanceMandateSchedule(ctx context.Context, mandateID string, lastProcessedAt, nextProcessDate time.Time) error
}

// TransactionStore persists debit-order transactions.
type TransactionStore interface {
	// CreateTransaction inserts a pending transaction. It returns
	// domain.ErrConflict when a transaction already exists for the same
	// (mandate, due date) pair, which is how generator idempotency is enforced.
	CreateTransaction(ctx context.Context, t *domain.Transaction) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error)
	// ListProcessableTransactions returns pending transactions whose
	// next_retry_date is unset or <= asOf.
	ListProcessableTransactions(ctx context.Context, asOf time.Time) ([]domain.Transaction, error)

	MarkTransactionProcessing(ctx context.Context, transactionID string) error
	MarkTransactionSuccessful(ctx context.Context, transactionID string, processedAt time.Time) error
	// MarkTransactionRetry puts a failed attempt back in the queue.
	MarkTransactionRetry(ctx context.Context, transactionID string, retryCount int, nextRetryDate time.Time, failureReason string) error
	// MarkTransactionFailed terminates the transaction after retries are exhausted.
	MarkTransactionFailed(ctx context.Context, transactionID string, retryCount int, failureReason string) error
}

// PaymentRail executes a single debit attempt against the banking system.
// A declined debit comes back as a DebitResult with Success=false; an error
// return means the rail itself could not be reached.
type PaymentRail interface {
	AttemptDebit(ctx context.Context, attempt *domain.DebitAttempt) (*domain.DebitResult, error)
}

// Notifier delivers member-facing payment notifications.
type Notifier interface {
	SendPaymentNotification(ctx context.Context, n *domain.PaymentNotification) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
	DeletePrefix(prefix string)
}

// AuthStore defines data operations for the admin authentication system.
type AuthStore interface {
	GetUserByID(ctx context.Context, userID string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	CreateUser(ctx context.Context, user *domain.User) (*domain.User, error)
	RecordLogin(ctx context.Context, userID string, at time.Time) error

	StoreRefreshToken(ctx context.Context, token *domain.AuthRefreshToken) error
	GetRefreshToken(ctx context.Context, tokenHash string) (*domain.AuthRefreshToken, error)
	RevokeRefreshToken(ctx context.Context, tokenHash string) error
}
