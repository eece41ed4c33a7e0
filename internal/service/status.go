package service

import (
	"context"
	"time"

	"github.com/metal-price-cache/internal/adapter"
	"github.com/metal-price-cache/internal/storage"
	"github.com/metal-price-cache/internal/types"
)

// CacheStatus describes the cache and quota state for operators
type CacheStatus struct {
	Snapshot             *types.PriceSnapshot    `json:"snapshot"`
	Fresh                bool                    `json:"fresh"`
	AgeSeconds           float64                 `json:"ageSeconds,omitempty"`
	MayCallUpstream      bool                    `json:"mayCallUpstream"`
	NextAPICallAllowedAt *time.Time              `json:"nextApiCallAllowedAt,omitempty"`
	FreshnessWindow      string                  `json:"freshnessWindow"`
	MinAPIInterval       string                  `json:"minApiInterval"`
	SecondaryStore       string                  `json:"secondaryStore,omitempty"`
	Provider             *adapter.ProviderHealth `json:"provider,omitempty"`
	Stats                Stats                   `json:"stats"`
	CheckedAt            time.Time               `json:"checkedAt"`
}

// healthReporter is implemented by fetchers that track provider health
type healthReporter interface {
	Health() *adapter.ProviderHealth
}

// secondaryNamer is implemented by caches with a secondary tier
type secondaryNamer interface {
	SecondaryName() string
}

// Status reports the current cache and quota state without calling upstream
func (s *PriceService) Status(ctx context.Context) *CacheStatus {
	now := s.now().UTC()
	snapshot := s.load(ctx)

	status := &CacheStatus{
		Snapshot:        snapshot,
		Fresh:           storage.IsFresh(snapshot, now, s.freshnessWindow),
		MayCallUpstream: s.guard.MayCall(snapshot, now),
		FreshnessWindow: s.freshnessWindow.String(),
		MinAPIInterval:  s.guard.MinInterval().String(),
		Stats:           s.stats.snapshot(),
		CheckedAt:       now,
	}

	if snapshot != nil {
		status.AgeSeconds = snapshot.Age(now).Seconds()
		if next := s.guard.NextAllowedAt(snapshot); !next.IsZero() {
			status.NextAPICallAllowedAt = &next
		}
	}
	if hr, ok := s.fetcher.(healthReporter); ok {
		status.Provider = hr.Health()
	}
	if sn, ok := s.cache.(secondaryNamer); ok {
		status.SecondaryStore = sn.SecondaryName()
	}

	return status
}
