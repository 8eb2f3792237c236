// Package notify delivers member-facing payment notifications through an
// external email provider.
package notify

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
	"go.uber.org/zap"
)

var tracer = otel.Tracer("notify")

// EmailClient posts notifications to an HTTP email provider.
type EmailClient struct {
	httpClient *http.Client
	baseURL    string
	fromName   string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	logger     *zap.Logger
}

// NewEmailClient creates an email notifier.
func NewEmailClient(httpClient *http.Client, baseURL, fromName string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *EmailClient {
	return &EmailClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		fromName:   fromName,
		cb:         cb,
		cfg:        cfg,
		logger:     logger,
	}
}

// SendPaymentNotification delivers one notification. Delivery is best-effort
// from the processor's point of view; failures are logged and counted, never
// fatal to the debit itself.
func (c *EmailClient) SendPaymentNotification(ctx context.Context, n *domain.PaymentNotification) error {
	ctx, span := tracer.Start(ctx, "EmailClient.SendPaymentNotification")
	defer span.End()

	payload := map[string]string{
		"to":        n.Recipient,
		"from_name": c.fromName,
		"subject":   n.Subject,
		"body":      n.Body,
	}

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			body, err := json.Marshal(payload)
			if err != nil {
				return err
			}

			url := fmt.Sprintf("%s/v1/messages", c.baseURL)
			httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return err
			}
			httpReq.Header.Set("Content-Type", "application/json")

			resp, err := c.httpClient.Do(httpReq)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return fmt.Errorf("email provider returned status %d", resp.StatusCode)
			}
			return nil
		})
	})

	if err != nil {
		c.logger.Warn("notify: delivery failed",
			zap.String("subject", n.Subject),
			zap.Error(err),
		)
		return &domain.ErrExternalService{Service: "email", Err: err}
	}
	return nil
}

// Noop discards notifications. Used when no email provider is configured.
type Noop struct{}

// SendPaymentNotification does nothing.
func (Noop) SendPaymentNotification(context.Context, *domain.PaymentNotification) error {
	return nil
}
