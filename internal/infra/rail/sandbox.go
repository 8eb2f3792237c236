// Package rail provides payment-rail adapters for executing debit attempts.
// The sandbox adapter simulates the banking system; the HTTP adapter talks to
// a real collection gateway.
package rail

import (
	"context"
	"math/rand"
	"sync"

	"github.com/ihacademy/debit-orders-go/internal/domain"

	"go.uber.org/zap"
)

// failureReasons mirrors the decline vocabulary of South African debit-order
// collections.
var failureReasons = []string{
	"Insufficient funds",
	"Account not found",
	"Account blocked",
	"Bank system unavailable",
	"Invalid account details",
}

// Sandbox simulates a payment rail with a configurable success rate.
// Used when no rail URL is configured (local development, demos).
type Sandbox struct {
	successRate float64
	logger      *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSandbox creates a sandbox rail. successRate is clamped to [0, 1].
func NewSandbox(successRate float64, seed int64, logger *zap.Logger) *Sandbox {
	if successRate < 0 {
		successRate = 0
	}
	if successRate > 1 {
		successRate = 1
	}
	return &Sandbox{
		successRate: successRate,
		logger:      logger,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// AttemptDebit simulates one debit attempt.
func (s *Sandbox) AttemptDebit(ctx context.Context, attempt *domain.DebitAttempt) (*domain.DebitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	roll := s.rng.Float64()
	reasonIdx := s.rng.Intn(len(failureReasons))
	s.mu.Unlock()

	if roll < s.successRate {
		s.logger.Debug("sandbox rail: debit approved",
			zap.String("transaction_reference", attempt.TransactionReference),
			zap.String("amount", attempt.Amount.String()),
		)
		return &domain.DebitResult{Success: true}, nil
	}

	reason := failureReasons[reasonIdx]
	s.logger.Debug("sandbox rail: debit declined",
		zap.String("transaction_reference", attempt.TransactionReference),
		zap.String("reason", reason),
	)
	return &domain.DebitResult{Success: false, FailureReason: reason}, nil
}
