package adapter

import (
	"context"

	"github.com/metal-price-cache/internal/types"
	"github.com/shopspring/decimal"
)

// ProviderName identifies the upstream price API in snapshots and errors
const ProviderName = "metalpriceapi.com"

// TestAPIKey switches the client into test-data mode: no network, fixed rates
const TestAPIKey = "test-key-voor-ontwikkeling"

// Fixed EUR per troy ounce rates served in test-data mode
const (
	testGoldPerOunce   = 2234.567
	testSilverPerOunce = 26.789
)

// Fetcher obtains current gold and silver prices in EUR per gram.
// The returned snapshot has FetchedAt set and LastAPICallAt left zero.
type Fetcher interface {
	FetchPrices(ctx context.Context) (*types.PriceSnapshot, error)
}

// gramsPerTroyOunce converts per-ounce quotes to per-gram prices
var gramsPerTroyOunce = decimal.RequireFromString("31.1035")

// Rounding applied to per-gram prices
const (
	goldPlaces   int32 = 2
	silverPlaces int32 = 3
)

// PerGram converts an EUR per troy ounce rate to EUR per gram, rounded to places
func PerGram(perOunce float64, places int32) float64 {
	v, _ := decimal.NewFromFloat(perOunce).Div(gramsPerTroyOunce).Round(places).Float64()
	return v
}

// GoldPerGram converts a gold ounce rate (2 decimal places)
func GoldPerGram(perOunce float64) float64 {
	return PerGram(perOunce, goldPlaces)
}

// SilverPerGram converts a silver ounce rate (3 decimal places)
func SilverPerGram(perOunce float64) float64 {
	return PerGram(perOunce, silverPlaces)
}
