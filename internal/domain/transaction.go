package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the lifecycle state of a debit-order transaction.
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusSuccessful TransactionStatus = "successful"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusDisputed   TransactionStatus = "disputed"
)

// TransactionType classifies what a debit pays for.
type TransactionType string

const (
	TransactionTypeClassPayment      TransactionType = "class_payment"
	TransactionTypeMembershipPayment TransactionType = "membership_payment"
	TransactionTypeLateFee           TransactionType = "late_fee"
)

// Transaction is a single attempted debit against a mandate. MandateID,
// Amount, Type and DueDate are immutable after creation; only the processing
// state fields change.
type Transaction struct {
	ID                   string            `json:"id"`
	TransactionReference string            `json:"transaction_reference"`
	MandateID            string            `json:"mandate_id"`
	BookingID            string            `json:"booking_id,omitempty"`
	Amount               decimal.Decimal   `json:"amount"`
	Type                 TransactionType   `json:"transaction_type"`
	Description          string            `json:"description,omitempty"`
	Status               TransactionStatus `json:"status"`
	DueDate              time.Time         `json:"due_date"`
	ProcessedAt          *time.Time        `json:"processed_at,omitempty"`
	FailureReason        string            `json:"failure_reason,omitempty"`
	RetryCount           int               `json:"retry_count"`
	NextRetryDate        *time.Time        `json:"next_retry_date,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`

	// Populated on list endpoints for display; not a stored column.
	MandateReference string `json:"mandate_reference,omitempty"`
}

// TransactionFilter narrows transaction listings.
type TransactionFilter struct {
	MandateID      string
	OrganizationID string
	Status         TransactionStatus
	Page           int
	PageSize       int
}

// DebitAttempt is the request handed to the payment rail for one debit.
type DebitAttempt struct {
	TransactionReference string          `json:"transaction_reference"`
	MandateReference     string          `json:"mandate_reference"`
	AccountHolder        string          `json:"account_holder"`
	AccountNumber        string          `json:"account_number"`
	BranchCode           string          `json:"branch_code"`
	AccountType          AccountType     `json:"account_type"`
	Amount               decimal.Decimal `json:"amount"`
}

// DebitResult is the payment rail's verdict on a debit attempt.
// A declined debit is a result, not an error; transport failures are errors.
type DebitResult struct {
	Success       bool   `json:"success"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// GenerationRun summarizes one invocation of the transaction generator.
type GenerationRun struct {
	RunID      string    `json:"run_id"`
	AsOf       time.Time `json:"as_of"`
	Due        int       `json:"due"`
	Generated  int       `json:"generated"`
	Duplicates int       `json:"duplicates"`
	Skipped    int       `json:"skipped"`
}

// ProcessingRun summarizes one invocation of the transaction processor.
type ProcessingRun struct {
	RunID      string    `json:"run_id"`
	AsOf       time.Time `json:"as_of"`
	Picked     int       `json:"picked"`
	Successful int       `json:"successful"`
	Retried    int       `json:"retried"`
	Exhausted  int       `json:"exhausted"`
}

// PaymentNotification is the member-facing confirmation sent after a
// successful debit.
type PaymentNotification struct {
	Recipient        string `json:"recipient,omitempty"`
	OrganizationName string `json:"organization_name"`
	Subject          string `json:"subject"`
	Body             string `json:"body"`
}
