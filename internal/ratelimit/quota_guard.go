package ratelimit

import (
	"time"

	"github.com/metal-price-cache/internal/types"
)

// QuotaGuard enforces a minimum interval between upstream price calls,
// independently of cache freshness. It holds no state; the last call instant
// lives on the snapshot itself.
type QuotaGuard struct {
	minInterval time.Duration
}

// NewQuotaGuard creates a guard from configuration. A nil config uses defaults.
func NewQuotaGuard(cfg *QuotaConfig) *QuotaGuard {
	if cfg == nil {
		cfg = NewQuotaConfig()
	}
	return &QuotaGuard{minInterval: cfg.MinAPIInterval}
}

// MinInterval returns the configured minimum interval
func (g *QuotaGuard) MinInterval() time.Duration {
	return g.minInterval
}

// MayCall reports whether an upstream call is allowed at now.
// True when no call was ever recorded or at least minInterval has elapsed.
func (g *QuotaGuard) MayCall(snapshot *types.PriceSnapshot, now time.Time) bool {
	if snapshot == nil || !snapshot.HasAPICall() {
		return true
	}
	return now.Sub(snapshot.LastAPICallAt) >= g.minInterval
}

// NextAllowedAt returns when the next upstream call becomes allowed.
// The zero time means a call is allowed right away.
func (g *QuotaGuard) NextAllowedAt(snapshot *types.PriceSnapshot) time.Time {
	if snapshot == nil || !snapshot.HasAPICall() {
		return time.Time{}
	}
	return snapshot.LastAPICallAt.Add(g.minInterval)
}

// Remaining returns how long until the next upstream call is allowed, zero if allowed now
func (g *QuotaGuard) Remaining(snapshot *types.PriceSnapshot, now time.Time) time.Duration {
	next := g.NextAllowedAt(snapshot)
	if next.IsZero() || !now.Before(next) {
		return 0
	}
	return next.Sub(now)
}
