package rail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ihacademy/debit-orders-go/internal/domain"
	"github.com/ihacademy/debit-orders-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("rail")

// Client calls an external debit-collection gateway over HTTP.
// The circuit breaker protects the service when the gateway is down; the
// bulkhead bounds concurrent in-flight debits during batch runs.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	bulkhead   *resilience.Bulkhead
	logger     *zap.Logger
}

// NewClient creates a rail client.
func NewClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, maxConcurrency int, logger *zap.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		cb:         cb,
		bulkhead:   resilience.NewBulkhead(maxConcurrency),
		logger:     logger,
	}
}

// AttemptDebit submits one debit to the gateway. Retry scheduling is the
// processor's job, so there is deliberately no retry loop here: one call,
// one verdict.
func (c *Client) AttemptDebit(ctx context.Context, attempt *domain.DebitAttempt) (*domain.DebitResult, error) {
	ctx, span := tracer.Start(ctx, "RailClient.AttemptDebit")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.reference", attempt.TransactionReference))

	if err := c.bulkhead.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.bulkhead.Release()

	result, err := c.cb.Execute(func() (any, error) {
		body, err := json.Marshal(attempt)
		if err != nil {
			return nil, err
		}

		url := fmt.Sprintf("%s/v1/debits", c.baseURL)
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("rail gateway returned status %d", resp.StatusCode)
		}

		var debitResult domain.DebitResult
		if err := json.NewDecoder(resp.Body).Decode(&debitResult); err != nil {
			return nil, err
		}
		return &debitResult, nil
	})

	if err != nil {
		c.logger.Warn("rail: debit attempt errored",
			zap.String("transaction_reference", attempt.TransactionReference),
			zap.Error(err),
		)
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, &domain.ErrCircuitOpen{Service: "rail"}
		}
		return nil, &domain.ErrExternalService{Service: "rail", Err: err}
	}

	return result.(*domain.DebitResult), nil
}
