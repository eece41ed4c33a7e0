package storage

import (
	"context"
	"testing"
	"time"

	"github.com/metal-price-cache/internal/types"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// testSnapshot builds a complete snapshot fetched at fetchedAt
func testSnapshot(fetchedAt time.Time) *types.PriceSnapshot {
	return &types.PriceSnapshot{
		Gold:          71.84,
		Silver:        0.861,
		FetchedAt:     fetchedAt.UTC(),
		DataDate:      types.DateOf(fetchedAt),
		Source:        "metalpriceapi.com",
		LastAPICallAt: fetchedAt.UTC(),
	}
}
