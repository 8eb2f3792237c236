package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MandateStatus is the lifecycle state of a debit-order mandate.
type MandateStatus string

const (
	MandateStatusPending   MandateStatus = "pending"
	MandateStatusActive    MandateStatus = "active"
	MandateStatusSuspended MandateStatus = "suspended"
	MandateStatusCancelled MandateStatus = "cancelled"
)

// AccountType enumerates the South African bank account types a mandate may debit.
type AccountType string

const (
	AccountTypeCurrent      AccountType = "current"
	AccountTypeSavings      AccountType = "savings"
	AccountTypeTransmission AccountType = "transmission"
)

// ValidAccountType reports whether t is one of the supported account types.
func ValidAccountType(t AccountType) bool {
	switch t {
	case AccountTypeCurrent, AccountTypeSavings, AccountTypeTransmission:
		return true
	}
	return false
}

// Frequency is the billing recurrence of a mandate.
type Frequency string

const (
	FrequencyMonthly  Frequency = "monthly"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiWeekly Frequency = "bi-weekly"
)

// ValidFrequency reports whether f is one of the supported frequencies.
func ValidFrequency(f Frequency) bool {
	switch f {
	case FrequencyMonthly, FrequencyWeekly, FrequencyBiWeekly:
		return true
	}
	return false
}

// Next returns the process date one frequency interval after from.
// Monthly uses calendar-month arithmetic; weekly and bi-weekly are fixed day counts.
func (f Frequency) Next(from time.Time) time.Time {
	switch f {
	case FrequencyWeekly:
		return from.AddDate(0, 0, 7)
	case FrequencyBiWeekly:
		return from.AddDate(0, 0, 14)
	default:
		return from.AddDate(0, 1, 0)
	}
}

// Mandate is a member's standing authorization for an organization to debit a
// bank account up to MaxAmount on a recurring schedule. Mandates are never
// deleted: cancellation is a status change so the audit history survives.
type Mandate struct {
	ID               string          `json:"id"`
	MandateReference string          `json:"mandate_reference"`
	UserID           string          `json:"user_id"`
	OrganizationID   string          `json:"organization_id"`
	BankName         string          `json:"bank_name"`
	AccountHolder    string          `json:"account_holder"`
	AccountNumber    string          `json:"account_number"`
	BranchCode       string          `json:"branch_code"`
	AccountType      AccountType     `json:"account_type"`
	MaxAmount        decimal.Decimal `json:"max_amount"`
	Frequency        Frequency       `json:"frequency"`
	StartDate        time.Time       `json:"start_date"`
	EndDate          *time.Time      `json:"end_date,omitempty"`
	Status           MandateStatus   `json:"status"`
	SignedAt         *time.Time      `json:"signed_at,omitempty"`
	LastProcessedAt  *time.Time      `json:"last_processed_at,omitempty"`
	NextProcessDate  *time.Time      `json:"next_process_date,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// CanTransitionTo reports whether the mandate state machine permits moving
// from s to target. Cancelled is terminal; suspension is reversible.
func (s MandateStatus) CanTransitionTo(target MandateStatus) bool {
	switch s {
	case MandateStatusPending:
		return target == MandateStatusActive || target == MandateStatusCancelled
	case MandateStatusActive:
		return target == MandateStatusSuspended || target == MandateStatusCancelled
	case MandateStatusSuspended:
		return target == MandateStatusActive || target == MandateStatusCancelled
	case MandateStatusCancelled:
		return false
	}
	return false
}

// MandateRequest is the payload for creating a mandate.
// Dates are YYYY-MM-DD strings at the API boundary.
type MandateRequest struct {
	UserID         string          `json:"user_id"`
	OrganizationID string          `json:"organization_id"`
	BankName       string          `json:"bank_name"`
	AccountHolder  string          `json:"account_holder"`
	AccountNumber  string          `json:"account_number"`
	BranchCode     string          `json:"branch_code"`
	AccountType    AccountType     `json:"account_type"`
	MaxAmount      decimal.Decimal `json:"max_amount"`
	Frequency      Frequency       `json:"frequency"`
	StartDate      string          `json:"start_date"`
	EndDate        string          `json:"end_date,omitempty"`
}
