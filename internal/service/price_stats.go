package service

import "sync/atomic"

// priceStats counts how GetPrices requests were served
type priceStats struct {
	requests            atomic.Int64
	cacheHits           atomic.Int64
	rateLimited         atomic.Int64
	upstreamCalls       atomic.Int64
	upstreamFailures    atomic.Int64
	fallbacks           atomic.Int64
	persistenceFailures atomic.Int64
	sharedRefreshes     atomic.Int64
}

// Stats is a point-in-time copy of the service counters
type Stats struct {
	Requests            int64   `json:"requests"`
	CacheHits           int64   `json:"cacheHits"`
	RateLimited         int64   `json:"rateLimited"`
	UpstreamCalls       int64   `json:"upstreamCalls"`
	UpstreamFailures    int64   `json:"upstreamFailures"`
	Fallbacks           int64   `json:"fallbacks"`
	PersistenceFailures int64   `json:"persistenceFailures"`
	SharedRefreshes     int64   `json:"sharedRefreshes"`
	CacheHitRate        float64 `json:"cacheHitRate"`
}

func (s *priceStats) snapshot() Stats {
	stats := Stats{
		Requests:            s.requests.Load(),
		CacheHits:           s.cacheHits.Load(),
		RateLimited:         s.rateLimited.Load(),
		UpstreamCalls:       s.upstreamCalls.Load(),
		UpstreamFailures:    s.upstreamFailures.Load(),
		Fallbacks:           s.fallbacks.Load(),
		PersistenceFailures: s.persistenceFailures.Load(),
		SharedRefreshes:     s.sharedRefreshes.Load(),
	}
	if stats.Requests > 0 {
		stats.CacheHitRate = float64(stats.CacheHits) / float64(stats.Requests) * 100
	}
	return stats
}
