package rail_test

import (
	"context"
	"testing"

	"github.com/ihacademy/debit-orders-go/internal/domain"
	"github.com/ihacademy/debit-orders-go/internal/infra/rail"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func testAttempt() *domain.DebitAttempt {
	return &domain.DebitAttempt{
		TransactionReference: "TX1000",
		MandateReference:     "DO1000",
		AccountHolder:        "T Mokoena",
		AccountNumber:        "1234567890",
		BranchCode:           "051001",
		AccountType:          domain.AccountTypeCurrent,
		Amount:               decimal.NewFromInt(450),
	}
}

func TestSandbox_AlwaysApprovesAtFullRate(t *testing.T) {
	sandbox := rail.NewSandbox(1.0, 42, zap.NewNop())

	for i := 0; i < 50; i++ {
		result, err := sandbox.AttemptDebit(context.Background(), testAttempt())
		if err != nil {
			t.Fatalf("AttemptDebit: %v", err)
		}
		if !result.Success {
			t.Fatalf("attempt %d declined with reason %q, want approval", i, result.FailureReason)
		}
	}
}

func TestSandbox_AlwaysDeclinesAtZeroRate(t *testing.T) {
	sandbox := rail.NewSandbox(0.0, 42, zap.NewNop())

	for i := 0; i < 50; i++ {
		result, err := sandbox.AttemptDebit(context.Background(), testAttempt())
		if err != nil {
			t.Fatalf("AttemptDebit: %v", err)
		}
		if result.Success {
			t.Fatalf("attempt %d approved, want decline", i)
		}
		if result.FailureReason == "" {
			t.Fatalf("attempt %d declined without a failure reason", i)
		}
	}
}

func TestSandbox_ClampsSuccessRate(t *testing.T) {
	sandbox := rail.NewSandbox(7.5, 1, zap.NewNop())

	result, err := sandbox.AttemptDebit(context.Background(), testAttempt())
	if err != nil {
		t.Fatalf("AttemptDebit: %v", err)
	}
	if !result.Success {
		t.Fatal("rate above 1 should clamp to always-approve")
	}
}

func TestSandbox_HonoursCancelledContext(t *testing.T) {
	sandbox := rail.NewSandbox(1.0, 1, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := sandbox.AttemptDebit(ctx, testAttempt()); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
