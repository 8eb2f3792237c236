package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ihacademy/debit-orders-go/internal/domain"
	"github.com/ihacademy/debit-orders-go/internal/infra/resilience"

	"github.com/shopspring/decimal"
)

// ============================================================
// Mandate store — table debit_order_mandates
// Unique constraint: mandate_reference
// ============================================================

// mandateRow maps debit_order_mandates columns.
type mandateRow struct {
	ID               string          `json:"id"`
	MandateReference string          `json:"mandate_reference"`
	UserID           string          `json:"user_id"`
	OrganizationID   string          `json:"organization_id"`
	BankName         string          `json:"bank_name"`
	AccountHolder    string          `json:"account_holder"`
	AccountNumber    string          `json:"account_number"`
	BranchCode       string          `json:"branch_code"`
	AccountType      string          `json:"account_type"`
	MaxAmount        decimal.Decimal `json:"max_amount"`
	Frequency        string          `json:"frequency"`
	StartDate        string          `json:"start_date"`
	EndDate          string          `json:"end_date,omitempty"`
	Status           string          `json:"status"`
	SignedAt         string          `json:"signed_at,omitempty"`
	LastProcessedAt  string          `json:"last_processed_at,omitempty"`
	NextProcessDate  string          `json:"next_process_date,omitempty"`
	CreatedAt        string          `json:"created_at"`
	UpdatedAt        string          `json:"updated_at"`
}

func (r *mandateRow) toDomain() domain.Mandate {
	m := domain.Mandate{
		ID:               r.ID,
		MandateReference: r.MandateReference,
		UserID:           r.UserID,
		OrganizationID:   r.OrganizationID,
		BankName:         r.BankName,
		AccountHolder:    r.AccountHolder,
		AccountNumber:    r.AccountNumber,
		BranchCode:       r.BranchCode,
		AccountType:      domain.AccountType(r.AccountType),
		MaxAmount:        r.MaxAmount,
		Frequency:        domain.Frequency(r.Frequency),
		Status:           domain.MandateStatus(r.Status),
		EndDate:          parseDate(r.EndDate),
		SignedAt:         parseTimestamp(r.SignedAt),
		LastProcessedAt:  parseTimestamp(r.LastProcessedAt),
		NextProcessDate:  parseDate(r.NextProcessDate),
		CreatedAt:        timestampOrZero(r.CreatedAt),
		UpdatedAt:        timestampOrZero(r.UpdatedAt),
	}
	if d := parseDate(r.StartDate); d != nil {
		m.StartDate = *d
	}
	return m
}

// CreateMandate inserts a mandate row and returns the stored record.
func (c *Client) CreateMandate(ctx context.Context, m *domain.Mandate) (*domain.Mandate, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateMandate")
	defer span.End()

	row := map[string]any{
		"mandate_reference": m.MandateReference,
		"user_id":           m.UserID,
		"organization_id":   m.OrganizationID,
		"bank_name":         m.BankName,
		"account_holder":    m.AccountHolder,
		"account_number":    m.AccountNumber,
		"branch_code":       m.BranchCode,
		"account_type":      string(m.AccountType),
		"max_amount":        m.MaxAmount,
		"frequency":         string(m.Frequency),
		"start_date":        formatDate(m.StartDate),
		"status":            string(m.Status),
	}
	if m.EndDate != nil {
		row["end_date"] = formatDate(*m.EndDate)
	}

	body, err := c.doPost(ctx, "debit_order_mandates", row)
	if err != nil {
		if isConflict(err) {
			return nil, &domain.ErrConflict{Message: "mandate reference already exists"}
		}
		return nil, err
	}

	var rows []mandateRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode mandate: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no result from debit_order_mandates insert")
	}
	created := rows[0].toDomain()
	return &created, nil
}

// GetMandate fetches one mandate by id.
func (c *Client) GetMandate(ctx context.Context, mandateID string) (*domain.Mandate, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetMandate")
	defer span.End()

	path := fmt.Sprintf("debit_order_mandates?id=eq.%s&limit=1", mandateID)
	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, err
	}

	var rows []mandateRow
	if body != nil {
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, fmt.Errorf("decode mandate: %w", err)
		}
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "mandate", ID: mandateID}
	}
	m := rows[0].toDomain()
	return &m, nil
}

// ListMandatesForOrganization returns all of an organization's mandates,
// newest first.
func (c *Client) ListMandatesForOrganization(ctx context.Context, organizationID string) ([]domain.Mandate, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListMandatesForOrganization")
	defer span.End()

	path := fmt.Sprintf("debit_order_mandates?organization_id=eq.%s&order=created_at.desc", organizationID)
	return c.listMandates(ctx, path)
}

// ListMandatesForUser returns a user's mandates, optionally scoped to one
// organization.
func (c *Client) ListMandatesForUser(ctx context.Context, userID, organizationID string) ([]domain.Mandate, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListMandatesForUser")
	defer span.End()

	path := fmt.Sprintf("debit_order_mandates?user_id=eq.%s&order=created_at.desc", userID)
	if organizationID != "" {
		path = fmt.Sprintf("debit_order_mandates?user_id=eq.%s&organization_id=eq.%s&order=created_at.desc", userID, organizationID)
	}
	return c.listMandates(ctx, path)
}

// ListDueMandates returns active mandates due for processing on or before
// asOf. This is the billing run's scan, so it goes through the circuit
// breaker and retry policy.
func (c *Client) ListDueMandates(ctx context.Context, asOf time.Time) ([]domain.Mandate, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListDueMandates")
	defer span.End()

	var mandates []domain.Mandate
	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			path := fmt.Sprintf(
				"debit_order_mandates?status=eq.active&next_process_date=lte.%s&order=next_process_date.asc",
				formatDate(asOf),
			)
			var err error
			mandates, err = c.listMandates(ctx, path)
			return err
		})
	})
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/mandates", Err: err}
	}
	return mandates, nil
}

func (c *Client) listMandates(ctx context.Context, path string) ([]domain.Mandate, error) {
	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return []domain.Mandate{}, nil
	}

	var rows []mandateRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode mandates: %w", err)
	}

	mandates := make([]domain.Mandate, 0, len(rows))
	for i := range rows {
		mandates = append(mandates, rows[i].toDomain())
	}
	return mandates, nil
}

// UpdateMandateStatus transitions a mandate's status column.
func (c *Client) UpdateMandateStatus(ctx context.Context, mandateID string, status domain.MandateStatus) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateMandateStatus")
	defer span.End()

	return c.doPatch(ctx, fmt.Sprintf("debit_order_mandates?id=eq.%s", mandateID), map[string]any{
		"status":     string(status),
		"updated_at": time.Now().Format(time.RFC3339),
	})
}

// MarkMandateActivated flips a mandate to active and records signing plus the
// initial processing schedule in one write.
func (c *Client) MarkMandateActivated(ctx context.Context, mandateID string, signedAt, nextProcessDate time.Time) error {
	ctx, span := tracer.Start(ctx, "Supabase.MarkMandateActivated")
	defer span.End()

	return c.doPatch(ctx, fmt.Sprintf("debit_order_mandates?id=eq.%s", mandateID), map[string]any{
		"status":            string(domain.MandateStatusActive),
		"signed_at":         signedAt.Format(time.RFC3339),
		"next_process_date": formatDate(nextProcessDate),
		"updated_at":        time.Now().Format(time.RFC3339),
	})
}

// AdvanceMandateSchedule records a generation pass over the mandate.
func (c *Client) AdvanceMandateSchedule(ctx context.Context, mandateID string, lastProcessedAt, nextProcessDate time.Time) error {
	ctx, span := tracer.Start(ctx, "Supabase.AdvanceMandateSchedule")
	defer span.End()

	return c.doPatch(ctx, fmt.Sprintf("debit_order_mandates?id=eq.%s", mandateID), map[string]any{
		"last_processed_at": lastProcessedAt.Format(time.RFC3339),
		"next_process_date": formatDate(nextProcessDate),
		"updated_at":        time.Now().Format(time.RFC3339),
	})
}
