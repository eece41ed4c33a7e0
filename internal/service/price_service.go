// Package service implements the price acquisition policy: serve the cached
// snapshot while fresh, respect the upstream quota, and always answer with
// some prices even when every source has failed.
package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/metal-price-cache/internal/adapter"
	apperrors "github.com/metal-price-cache/internal/errors"
	"github.com/metal-price-cache/internal/logging"
	"github.com/metal-price-cache/internal/ratelimit"
	"github.com/metal-price-cache/internal/storage"
	"github.com/metal-price-cache/internal/types"
)

// Hardcoded estimate served when neither the provider nor any cache has prices
const (
	EstimateGold   = 91.63
	EstimateSilver = 1.044
	EstimateSource = "fallback estimate"

	cachedSourceSuffix = " (cached)"
)

// Single-flight keys. Forced refreshes never join a non-forced flight, which
// may answer from cache.
const (
	flightRefresh = "refresh"
	flightForced  = "forced"
)

// SnapshotCache is the cache store the service reads and writes
type SnapshotCache interface {
	Load(ctx context.Context) (*types.PriceSnapshot, error)
	Save(ctx context.Context, snapshot *types.PriceSnapshot) error
}

// PriceService orchestrates cache, quota guard and upstream fetcher
type PriceService struct {
	cache           SnapshotCache
	fetcher         adapter.Fetcher
	guard           *ratelimit.QuotaGuard
	freshnessWindow time.Duration
	now             func() time.Time

	flight singleflight.Group
	stats  priceStats
}

// NewPriceService creates a price service. A nil guard uses the default quota.
func NewPriceService(cache SnapshotCache, fetcher adapter.Fetcher, guard *ratelimit.QuotaGuard, freshnessWindow time.Duration) *PriceService {
	if guard == nil {
		guard = ratelimit.NewQuotaGuard(nil)
	}
	return &PriceService{
		cache:           cache,
		fetcher:         fetcher,
		guard:           guard,
		freshnessWindow: freshnessWindow,
		now:             time.Now,
	}
}

// SetClock replaces the time source
func (s *PriceService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *PriceService) logger(ctx context.Context) *logging.Logger {
	return logging.FromContext(ctx).WithField("component", "price_service")
}

// GetPrices returns the best available prices. It never fails: when the
// provider is unreachable it serves the last known snapshot or the estimate.
func (s *PriceService) GetPrices(ctx context.Context, forceRefresh bool) (result *types.PriceResult) {
	s.stats.requests.Add(1)

	defer func() {
		if r := recover(); r != nil {
			s.logger(ctx).WithField("panic", fmt.Sprint(r)).Error("Recovered from panic while getting prices")
			s.stats.fallbacks.Add(1)
			result = estimate(s.now().UTC())
		}
	}()

	if !forceRefresh {
		snapshot := s.load(ctx)
		if cached := s.serveFromCache(ctx, snapshot, s.now().UTC()); cached != nil {
			return cached
		}
	}

	key := flightRefresh
	if forceRefresh {
		key = flightForced
	}

	// The flight outlives any single caller; the fetcher enforces its own timeout
	flightCtx := context.WithoutCancel(ctx)
	v, _, shared := s.flight.Do(key, func() (interface{}, error) {
		return s.refresh(flightCtx, forceRefresh), nil
	})
	if shared {
		s.stats.sharedRefreshes.Add(1)
	}

	// Flight results are shared between callers; hand out copies
	res := *v.(*types.PriceResult)
	return &res
}

// serveFromCache returns a cached result when no upstream call should be made,
// or nil when the caller must refresh
func (s *PriceService) serveFromCache(ctx context.Context, snapshot *types.PriceSnapshot, now time.Time) *types.PriceResult {
	if snapshot == nil {
		return nil
	}

	if storage.IsFresh(snapshot, now, s.freshnessWindow) {
		s.stats.cacheHits.Add(1)
		return &types.PriceResult{PriceSnapshot: *snapshot, Cached: true}
	}

	if !s.guard.MayCall(snapshot, now) {
		s.stats.rateLimited.Add(1)
		s.logger(ctx).WithFields(map[string]interface{}{
			"lastApiCall":   snapshot.LastAPICallAt.Format(time.RFC3339),
			"nextAllowedAt": s.guard.NextAllowedAt(snapshot).Format(time.RFC3339),
		}).Infof("Rate limited: %.1f hours until next API call allowed", s.guard.Remaining(snapshot, now).Hours())
		return &types.PriceResult{
			PriceSnapshot: *snapshot,
			Cached:        true,
			IsStale:       true,
			RateLimited:   true,
		}
	}

	return nil
}

// refresh runs inside the single flight. Non-forced refreshes look at the
// cache again since a previous flight may have just filled it.
func (s *PriceService) refresh(ctx context.Context, forceRefresh bool) *types.PriceResult {
	logger := s.logger(ctx)
	now := s.now().UTC()
	snapshot := s.load(ctx)

	if !forceRefresh {
		if cached := s.serveFromCache(ctx, snapshot, now); cached != nil {
			return cached
		}
	}

	s.stats.upstreamCalls.Add(1)
	fetched, err := s.fetcher.FetchPrices(ctx)
	if err != nil {
		s.stats.upstreamFailures.Add(1)
		entry := logger.WithError(err).WithField("forced", forceRefresh)
		if apperrors.IsConfigurationMissing(err) {
			entry.Warn("Price API key not configured, serving fallback prices")
		} else {
			entry.Error("Failed to fetch live prices, serving fallback prices")
		}
		return s.fallback(ctx, snapshot, now)
	}

	fetched.LastAPICallAt = now
	if err := s.cache.Save(ctx, fetched); err != nil {
		s.stats.persistenceFailures.Add(1)
		if apperrors.IsPersistenceFailure(err) {
			logger.WithError(err).Warn("Failed to persist price snapshot; serving from memory only")
		} else {
			logger.WithError(err).Error("Unexpected error saving price snapshot")
		}
	}

	logger.WithFields(map[string]interface{}{
		"gold":     fetched.Gold,
		"silver":   fetched.Silver,
		"dataDate": fetched.DataDate,
		"forced":   forceRefresh,
	}).Info("Refreshed metal prices from provider")

	return &types.PriceResult{PriceSnapshot: *fetched}
}

// fallback serves the last known snapshot, or the estimate when there is none.
// Neither is written back to the cache.
func (s *PriceService) fallback(ctx context.Context, snapshot *types.PriceSnapshot, now time.Time) *types.PriceResult {
	s.stats.fallbacks.Add(1)

	if snapshot != nil {
		stale := *snapshot
		stale.Source = snapshot.Source + cachedSourceSuffix
		return &types.PriceResult{PriceSnapshot: stale, Cached: true, IsStale: true}
	}

	s.logger(ctx).Warn("No cached prices available, serving hardcoded estimate")
	return estimate(now)
}

// load reads the cache store. Any error is logged and counts as no snapshot.
func (s *PriceService) load(ctx context.Context) *types.PriceSnapshot {
	snapshot, err := s.cache.Load(ctx)
	if err != nil {
		s.stats.persistenceFailures.Add(1)
		if apperrors.IsPersistenceFailure(err) {
			s.logger(ctx).WithError(err).Warn("Failed to read cached prices")
		} else {
			s.logger(ctx).WithError(err).Error("Unexpected error reading cached prices")
		}
		return nil
	}
	return snapshot
}

// estimate builds the hardcoded fallback result
func estimate(now time.Time) *types.PriceResult {
	return &types.PriceResult{
		PriceSnapshot: *EstimateSnapshot(now),
		Cached:        true,
		IsStale:       true,
	}
}

// EstimateSnapshot returns the hardcoded estimate as of now
func EstimateSnapshot(now time.Time) *types.PriceSnapshot {
	return &types.PriceSnapshot{
		Gold:      EstimateGold,
		Silver:    EstimateSilver,
		FetchedAt: now.UTC(),
		DataDate:  types.Yesterday(now),
		Source:    EstimateSource,
	}
}

// Stats returns the current counters
func (s *PriceService) Stats() Stats {
	return s.stats.snapshot()
}
