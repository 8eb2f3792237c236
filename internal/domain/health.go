package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// BillingMetrics is returned by GET /v1/metrics/billing.
type BillingMetrics struct {
	MandatesCreated       int64   `json:"mandatesCreated"`
	TransactionsGenerated int64   `json:"transactionsGenerated"`
	DebitsSuccessful      int64   `json:"debitsSuccessful"`
	DebitsRetried         int64   `json:"debitsRetried"`
	DebitsExhausted       int64   `json:"debitsExhausted"`
	RailErrors            int64   `json:"railErrors"`
	SuccessRate           float64 `json:"successRate"`
	CacheHitRate          float64 `json:"cacheHitRate"`
	Period                string  `json:"period"`
}

// SuccessResponse wraps a successful single-entity response.
type SuccessResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}
