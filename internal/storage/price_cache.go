// Package storage provides the price snapshot cache and its secondary stores.
package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/metal-price-cache/internal/errors"
	"github.com/metal-price-cache/internal/types"
)

// PersistenceCapability states whether the host can keep a durable secondary copy
type PersistenceCapability string

const (
	// PersistenceDurable allows reading and writing the secondary store
	PersistenceDurable PersistenceCapability = "durable"
	// PersistenceEphemeral skips the secondary store entirely (serverless hosts)
	PersistenceEphemeral PersistenceCapability = "ephemeral"
)

// SnapshotStore is a secondary, best-effort copy of the latest snapshot.
// Load returns (nil, nil) when no snapshot has been stored yet.
type SnapshotStore interface {
	Name() string
	Load(ctx context.Context) (*types.PriceSnapshot, error)
	Save(ctx context.Context, snapshot *types.PriceSnapshot) error
}

// PriceCache holds the authoritative in-memory snapshot and mirrors it to an
// optional secondary store. Memory is always written first and never rolled back.
type PriceCache struct {
	mu         sync.RWMutex
	memory     *types.PriceSnapshot
	secondary  SnapshotStore
	capability PersistenceCapability
}

// NewPriceCache creates a cache. secondary may be nil for a memory-only cache.
func NewPriceCache(capability PersistenceCapability, secondary SnapshotStore) *PriceCache {
	return &PriceCache{
		secondary:  secondary,
		capability: capability,
	}
}

// secondaryEnabled is checked before any secondary read or write
func (c *PriceCache) secondaryEnabled() bool {
	return c.capability == PersistenceDurable && c.secondary != nil
}

// SecondaryName returns the secondary store name, or "none" when it is disabled
func (c *PriceCache) SecondaryName() string {
	if !c.secondaryEnabled() {
		return "none"
	}
	return c.secondary.Name()
}

// Load returns a copy of the current snapshot.
// When memory is empty it falls back to the secondary store and primes memory
// with the result. A secondary read failure is returned as a persistence error
// with a nil snapshot; callers treat that as "no snapshot".
func (c *PriceCache) Load(ctx context.Context) (*types.PriceSnapshot, error) {
	c.mu.RLock()
	mem := c.memory
	c.mu.RUnlock()
	if mem != nil {
		return mem.Clone(), nil
	}

	if !c.secondaryEnabled() {
		return nil, nil
	}

	snapshot, err := c.secondary.Load(ctx)
	if err != nil {
		return nil, apperrors.NewPersistenceError(c.secondary.Name(), "read", err)
	}
	if snapshot == nil {
		return nil, nil
	}
	if !snapshot.Valid() {
		return nil, apperrors.NewPersistenceError(c.secondary.Name(), "read",
			fmt.Errorf("stored snapshot is incomplete"))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A concurrent Save may have landed while we were reading; it wins
	if c.memory == nil {
		c.memory = snapshot.Clone()
	}
	return c.memory.Clone(), nil
}

// Save replaces the in-memory snapshot and mirrors it to the secondary store.
// The returned error only describes the secondary write; memory is already updated.
func (c *PriceCache) Save(ctx context.Context, snapshot *types.PriceSnapshot) error {
	if !snapshot.Valid() {
		return fmt.Errorf("refusing to cache incomplete snapshot")
	}

	c.mu.Lock()
	c.memory = snapshot.Clone()
	c.mu.Unlock()

	if !c.secondaryEnabled() {
		return nil
	}

	if err := c.secondary.Save(ctx, snapshot); err != nil {
		return apperrors.NewPersistenceError(c.secondary.Name(), "write", err)
	}
	return nil
}

// IsFresh reports whether snapshot is younger than window at now.
// The boundary is exclusive: a snapshot exactly window old is stale.
func IsFresh(snapshot *types.PriceSnapshot, now time.Time, window time.Duration) bool {
	if snapshot == nil {
		return false
	}
	return snapshot.Age(now) < window
}
