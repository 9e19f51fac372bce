package domain

// HealthStatus is returned by GET /healthz and by a failing GET /readyz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, not_ready
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth is the health of one dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	Error       string `json:"error,omitempty"`
	LastChecked string `json:"lastChecked"`
}
