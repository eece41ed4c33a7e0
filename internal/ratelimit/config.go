// Package ratelimit guards the metered upstream price API quota.
package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// Default configuration values for the upstream quota.
const (
	// DefaultMinAPIInterval matches the provider's ~1 call/day budget
	DefaultMinAPIInterval = 24 * time.Hour
	// MaxMinAPIInterval rejects values that would effectively freeze prices
	MaxMinAPIInterval = 7 * 24 * time.Hour
)

// QuotaConfig holds upstream quota configuration.
type QuotaConfig struct {
	// MinAPIInterval is the minimum time between two upstream calls.
	// Loaded by the config package from PRICE_MIN_API_INTERVAL, Default: 24h
	MinAPIInterval time.Duration
}

// NewQuotaConfig creates a QuotaConfig with default values.
func NewQuotaConfig() *QuotaConfig {
	return &QuotaConfig{MinAPIInterval: DefaultMinAPIInterval}
}

// Validate ensures configuration is valid.
func (c *QuotaConfig) Validate() error {
	if c.MinAPIInterval < 0 {
		return errors.New("MinAPIInterval cannot be negative")
	}
	if c.MinAPIInterval > MaxMinAPIInterval {
		return fmt.Errorf("MinAPIInterval (%v) exceeds maximum (%v)", c.MinAPIInterval, MaxMinAPIInterval)
	}
	return nil
}

// String returns a string representation of the configuration for logging.
func (c *QuotaConfig) String() string {
	return fmt.Sprintf("QuotaConfig{MinAPIInterval: %v}", c.MinAPIInterval)
}
