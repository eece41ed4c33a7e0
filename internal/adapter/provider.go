package adapter

import (
	"sync"
	"time"
)

// ProviderHealth represents the observed health of the upstream price provider
type ProviderHealth struct {
	Provider         string        `json:"provider"`
	TotalRequests    int64         `json:"totalRequests"`
	SuccessfulReqs   int64         `json:"successfulRequests"`
	FailedReqs       int64         `json:"failedRequests"`
	SuccessRate      float64       `json:"successRate"`
	AverageLatency   time.Duration `json:"averageLatency"`
	LastSuccess      time.Time     `json:"lastSuccess"`
	LastFailure      time.Time     `json:"lastFailure"`
	LastError        string        `json:"lastError,omitempty"`
	ConsecutiveFails int           `json:"consecutiveFails"`
	IsHealthy        bool          `json:"isHealthy"`
}

// HealthTracker records request outcomes for a provider.
// Calls to the price API are rare (at most one per quota interval), so the
// tracker is informational only and never blocks a request.
type HealthTracker struct {
	mu sync.RWMutex

	provider string

	totalRequests    int64
	successfulReqs   int64
	failedReqs       int64
	totalLatency     time.Duration
	lastSuccess      time.Time
	lastFailure      time.Time
	lastError        string
	consecutiveFails int

	maxConsecutiveFails int
}

// NewHealthTracker creates a tracker for the named provider
func NewHealthTracker(provider string) *HealthTracker {
	return &HealthTracker{
		provider:            provider,
		maxConsecutiveFails: 3,
	}
}

// RecordSuccess records a successful request
func (h *HealthTracker) RecordSuccess(duration time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.totalRequests++
	h.successfulReqs++
	h.totalLatency += duration
	h.lastSuccess = time.Now()
	h.consecutiveFails = 0
}

// RecordFailure records a failed request
func (h *HealthTracker) RecordFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.totalRequests++
	h.failedReqs++
	h.lastFailure = time.Now()
	if err != nil {
		h.lastError = err.Error()
	}
	h.consecutiveFails++
}

// GetHealth returns a snapshot of the tracked health
func (h *HealthTracker) GetHealth() *ProviderHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var successRate float64
	if h.totalRequests > 0 {
		successRate = float64(h.successfulReqs) / float64(h.totalRequests)
	}

	var avgLatency time.Duration
	if h.successfulReqs > 0 {
		avgLatency = h.totalLatency / time.Duration(h.successfulReqs)
	}

	return &ProviderHealth{
		Provider:         h.provider,
		TotalRequests:    h.totalRequests,
		SuccessfulReqs:   h.successfulReqs,
		FailedReqs:       h.failedReqs,
		SuccessRate:      successRate,
		AverageLatency:   avgLatency,
		LastSuccess:      h.lastSuccess,
		LastFailure:      h.lastFailure,
		LastError:        h.lastError,
		ConsecutiveFails: h.consecutiveFails,
		IsHealthy:        h.consecutiveFails < h.maxConsecutiveFails,
	}
}

// IsHealthy returns true while consecutive failures stay below the threshold
func (h *HealthTracker) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.consecutiveFails < h.maxConsecutiveFails
}
