package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ihacademy/debit-orders-go/internal/domain"
	"github.com/ihacademy/debit-orders-go/internal/infra/resilience"

	"github.com/shopspring/decimal"
)

// ============================================================
// Transaction store — table debit_order_transactions
// Unique constraints: transaction_reference, (mandate_id, due_date)
// ============================================================

// transactionRow maps debit_order_transactions columns. The embedded mandate
// object comes from a PostgREST resource join and feeds the display-only
// mandate_reference field.
type transactionRow struct {
	ID                   string          `json:"id"`
	TransactionReference string          `json:"transaction_reference"`
	MandateID            string          `json:"mandate_id"`
	BookingID            string          `json:"booking_id,omitempty"`
	Amount               decimal.Decimal `json:"amount"`
	TransactionType      string          `json:"transaction_type"`
	Description          string          `json:"description,omitempty"`
	Status               string          `json:"status"`
	DueDate              string          `json:"due_date"`
	ProcessedAt          string          `json:"processed_at,omitempty"`
	FailureReason        string          `json:"failure_reason,omitempty"`
	RetryCount           int             `json:"retry_count"`
	NextRetryDate        string          `json:"next_retry_date,omitempty"`
	CreatedAt            string          `json:"created_at"`

	Mandate *struct {
		MandateReference string `json:"mandate_reference"`
		OrganizationID   string `json:"organization_id"`
	} `json:"debit_order_mandates,omitempty"`
}

func (r *transactionRow) toDomain() domain.Transaction {
	t := domain.Transaction{
		ID:                   r.ID,
		TransactionReference: r.TransactionReference,
		MandateID:            r.MandateID,
		BookingID:            r.BookingID,
		Amount:               r.Amount,
		Type:                 domain.TransactionType(r.TransactionType),
		Description:          r.Description,
		Status:               domain.TransactionStatus(r.Status),
		ProcessedAt:          parseTimestamp(r.ProcessedAt),
		FailureReason:        r.FailureReason,
		RetryCount:           r.RetryCount,
		NextRetryDate:        parseTimestamp(r.NextRetryDate),
		CreatedAt:            timestampOrZero(r.CreatedAt),
	}
	if d := parseDate(r.DueDate); d != nil {
		t.DueDate = *d
	}
	if r.Mandate != nil {
		t.MandateReference = r.Mandate.MandateReference
	}
	return t
}

func isConflict(err error) bool {
	var apiErr *apiError
	return errors.As(err, &apiErr) && apiErr.Status == 409
}

// isPeriodConflict reports whether a 409 came from the (mandate_id, due_date)
// unique constraint. PostgREST echoes the violated constraint name in the
// error body, so a transaction_reference collision is not mistaken for a
// duplicate billing period.
func isPeriodConflict(err error) bool {
	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.Status != 409 {
		return false
	}
	return strings.Contains(apiErr.Body, "mandate_id")
}

// CreateTransaction inserts a transaction. The (mandate_id, due_date) unique
// constraint turns a duplicate generation pass into domain.ErrConflict, which
// is what makes the generator idempotent under repeated invocation. Any other
// 409 is surfaced as an external-service error so the generator skips the
// mandate without advancing its schedule.
func (c *Client) CreateTransaction(ctx context.Context, t *domain.Transaction) (*domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateTransaction")
	defer span.End()

	row := map[string]any{
		"transaction_reference": t.TransactionReference,
		"mandate_id":            t.MandateID,
		"amount":                t.Amount,
		"transaction_type":      string(t.Type),
		"status":                string(t.Status),
		"due_date":              formatDate(t.DueDate),
		"retry_count":           t.RetryCount,
	}
	if t.BookingID != "" {
		row["booking_id"] = t.BookingID
	}
	if t.Description != "" {
		row["description"] = t.Description
	}

	body, err := c.doPost(ctx, "debit_order_transactions", row)
	if err != nil {
		if isPeriodConflict(err) {
			return nil, &domain.ErrConflict{
				Message: fmt.Sprintf("transaction already exists for mandate %s due %s", t.MandateID, formatDate(t.DueDate)),
			}
		}
		if isConflict(err) {
			return nil, &domain.ErrExternalService{Service: "supabase/transactions", Err: err}
		}
		return nil, err
	}

	var rows []transactionRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no result from debit_order_transactions insert")
	}
	created := rows[0].toDomain()
	return &created, nil
}

// GetTransaction fetches one transaction by id.
func (c *Client) GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetTransaction")
	defer span.End()

	path := fmt.Sprintf("debit_order_transactions?id=eq.%s&limit=1", transactionID)
	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, err
	}

	var rows []transactionRow
	if body != nil {
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, fmt.Errorf("decode transaction: %w", err)
		}
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: transactionID}
	}
	t := rows[0].toDomain()
	return &t, nil
}

// ListTransactions returns transactions matching the filter, newest first,
// joined with their mandate reference for display.
func (c *Client) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListTransactions")
	defer span.End()

	// The join must be inner so an organization filter drops non-matching
	// rows instead of just nulling the embedded mandate.
	path := "debit_order_transactions?select=*,debit_order_mandates!inner(mandate_reference,organization_id)&order=created_at.desc"
	if filter.MandateID != "" {
		path += fmt.Sprintf("&mandate_id=eq.%s", filter.MandateID)
	}
	if filter.OrganizationID != "" {
		path += fmt.Sprintf("&debit_order_mandates.organization_id=eq.%s", filter.OrganizationID)
	}
	if filter.Status != "" {
		path += fmt.Sprintf("&status=eq.%s", filter.Status)
	}
	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		path += fmt.Sprintf("&limit=%d&offset=%d", filter.PageSize, (page-1)*filter.PageSize)
	}

	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return []domain.Transaction{}, nil
	}

	var rows []transactionRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode transactions: %w", err)
	}

	txns := make([]domain.Transaction, 0, len(rows))
	for i := range rows {
		txns = append(txns, rows[i].toDomain())
	}
	return txns, nil
}

// ListProcessableTransactions returns pending transactions that are either
// fresh (no retry scheduled) or whose retry date has arrived. Scanned by the
// processing run, so it goes through the circuit breaker and retry policy.
func (c *Client) ListProcessableTransactions(ctx context.Context, asOf time.Time) ([]domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListProcessableTransactions")
	defer span.End()

	var txns []domain.Transaction
	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			path := fmt.Sprintf(
				"debit_order_transactions?status=eq.pending&or=(next_retry_date.is.null,next_retry_date.lte.%s)&order=created_at.asc",
				asOf.UTC().Format(time.RFC3339),
			)
			body, err := c.doGet(ctx, path)
			if err != nil {
				return err
			}

			var rows []transactionRow
			if body != nil {
				if err := json.Unmarshal(body, &rows); err != nil {
					return fmt.Errorf("decode transactions: %w", err)
				}
			}
			txns = make([]domain.Transaction, 0, len(rows))
			for i := range rows {
				txns = append(txns, rows[i].toDomain())
			}
			return nil
		})
	})
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/transactions", Err: err}
	}
	return txns, nil
}

// MarkTransactionProcessing moves a transaction into the processing state.
func (c *Client) MarkTransactionProcessing(ctx context.Context, transactionID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.MarkTransactionProcessing")
	defer span.End()

	return c.doPatch(ctx, fmt.Sprintf("debit_order_transactions?id=eq.%s", transactionID), map[string]any{
		"status": string(domain.TransactionStatusProcessing),
	})
}

// MarkTransactionSuccessful terminates a transaction as successful.
func (c *Client) MarkTransactionSuccessful(ctx context.Context, transactionID string, processedAt time.Time) error {
	ctx, span := tracer.Start(ctx, "Supabase.MarkTransactionSuccessful")
	defer span.End()

	return c.doPatch(ctx, fmt.Sprintf("debit_order_transactions?id=eq.%s", transactionID), map[string]any{
		"status":          string(domain.TransactionStatusSuccessful),
		"processed_at":    processedAt.Format(time.RFC3339),
		"next_retry_date": nil,
		"failure_reason":  nil,
	})
}

// MarkTransactionRetry puts a failed attempt back in the pending queue with a
// future retry date.
func (c *Client) MarkTransactionRetry(ctx context.Context, transactionID string, retryCount int, nextRetryDate time.Time, failureReason string) error {
	ctx, span := tracer.Start(ctx, "Supabase.MarkTransactionRetry")
	defer span.End()

	return c.doPatch(ctx, fmt.Sprintf("debit_order_transactions?id=eq.%s", transactionID), map[string]any{
		"status":          string(domain.TransactionStatusPending),
		"retry_count":     retryCount,
		"next_retry_date": nextRetryDate.UTC().Format(time.RFC3339),
		"failure_reason":  failureReason,
	})
}

// MarkTransactionFailed terminates a transaction after retries are exhausted.
func (c *Client) MarkTransactionFailed(ctx context.Context, transactionID string, retryCount int, failureReason string) error {
	ctx, span := tracer.Start(ctx, "Supabase.MarkTransactionFailed")
	defer span.End()

	return c.doPatch(ctx, fmt.Sprintf("debit_order_transactions?id=eq.%s", transactionID), map[string]any{
		"status":          string(domain.TransactionStatusFailed),
		"retry_count":     retryCount,
		"next_retry_date": nil,
		"failure_reason":  failureReason,
	})
}
