package supabase_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ihacademy/debit-orders-go/internal/domain"
	"github.com/ihacademy/debit-orders-go/internal/infra/resilience"
	"github.com/ihacademy/debit-orders-go/internal/infra/supabase"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *supabase.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return supabase.NewClient(
		srv.Client(),
		srv.URL,
		"anon-key",
		"service-role-key",
		resilience.NewCircuitBreaker("test"),
		resilience.Config{MaxRetries: 1, InitialBackoff: time.Millisecond},
		zap.NewNop(),
	)
}

func testTransaction(due time.Time) *domain.Transaction {
	return &domain.Transaction{
		TransactionReference: "TX-test-1",
		MandateID:            "mandate-1",
		Amount:               decimal.NewFromInt(450),
		Type:                 domain.TransactionTypeMembershipPayment,
		Status:               domain.TransactionStatusPending,
		DueDate:              due,
	}
}

func TestCreateTransaction_DuplicatePeriodMapsToConflict(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		io.WriteString(w, `{"code":"23505","message":"duplicate key value violates unique constraint \"debit_order_transactions_mandate_id_due_date_key\""}`)
	})

	due := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err := client.CreateTransaction(context.Background(), testTransaction(due))

	var conflict *domain.ErrConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ErrConflict for duplicate period, got %v", err)
	}
}

func TestCreateTransaction_ReferenceCollisionIsNotDuplicatePeriod(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		io.WriteString(w, `{"code":"23505","message":"duplicate key value violates unique constraint \"debit_order_transactions_transaction_reference_key\""}`)
	})

	due := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err := client.CreateTransaction(context.Background(), testTransaction(due))

	var conflict *domain.ErrConflict
	if errors.As(err, &conflict) {
		t.Fatalf("reference collision must not look like a duplicate period, got %v", err)
	}
	var external *domain.ErrExternalService
	if !errors.As(err, &external) {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
}

func TestMarkTransactionSuccessful_ClearsRetryStateAndFailureReason(t *testing.T) {
	var patched map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("expected PATCH, got %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &patched); err != nil {
			t.Errorf("decode patch body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	processedAt := time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC)
	if err := client.MarkTransactionSuccessful(context.Background(), "txn-1", processedAt); err != nil {
		t.Fatalf("mark successful: %v", err)
	}

	if patched["status"] != string(domain.TransactionStatusSuccessful) {
		t.Errorf("expected status successful, got %v", patched["status"])
	}
	for _, col := range []string{"next_retry_date", "failure_reason"} {
		v, ok := patched[col]
		if !ok {
			t.Errorf("expected %s to be cleared in the patch", col)
			continue
		}
		if v != nil {
			t.Errorf("expected %s null, got %v", col, v)
		}
	}
}

func TestMarkTransactionRetry_StoresRetryTimestamp(t *testing.T) {
	var patched map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &patched); err != nil {
			t.Errorf("decode patch body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	// 72h from a mid-day failure lands mid-day, not at midnight.
	nextRetry := time.Date(2025, 3, 4, 14, 30, 0, 0, time.UTC)
	if err := client.MarkTransactionRetry(context.Background(), "txn-1", 1, nextRetry, "Insufficient funds"); err != nil {
		t.Fatalf("mark retry: %v", err)
	}

	if got := patched["next_retry_date"]; got != "2025-03-04T14:30:00Z" {
		t.Errorf("expected RFC3339 retry timestamp, got %v", got)
	}
	if patched["failure_reason"] != "Insufficient funds" {
		t.Errorf("expected failure reason recorded, got %v", patched["failure_reason"])
	}
	if got, ok := patched["retry_count"].(float64); !ok || got != 1 {
		t.Errorf("expected retry_count 1, got %v", patched["retry_count"])
	}
}
