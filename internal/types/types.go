// Package types provides common type definitions for the metal price cache.
package types

import "time"

// DateLayout is the calendar-date format used for DataDate
const DateLayout = "2006-01-02"

// Currency and unit every snapshot is expressed in
const (
	CurrencyEUR = "EUR"
	UnitGram    = "gram"
)

// PriceSnapshot is one fetched-or-estimated pair of gold/silver prices plus metadata.
// It is the unit of caching and the persisted layout of every secondary store.
type PriceSnapshot struct {
	Gold          float64   `json:"gold"`   // EUR per gram of pure gold
	Silver        float64   `json:"silver"` // EUR per gram of pure silver
	FetchedAt     time.Time `json:"fetchedAt"`
	DataDate      string    `json:"dataDate"` // Market date the rates represent (YYYY-MM-DD)
	Source        string    `json:"source"`
	LastAPICallAt time.Time `json:"lastApiCallAt,omitempty"` // Zero until an upstream call succeeds
}

// Age returns how long ago the snapshot was produced
func (s *PriceSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}

// HasAPICall reports whether the snapshot records a successful upstream call
func (s *PriceSnapshot) HasAPICall() bool {
	return !s.LastAPICallAt.IsZero()
}

// Clone returns a copy so callers never share the cached instance
func (s *PriceSnapshot) Clone() *PriceSnapshot {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Valid reports whether the snapshot carries usable prices
func (s *PriceSnapshot) Valid() bool {
	return s != nil && s.Gold > 0 && s.Silver > 0 && !s.FetchedAt.IsZero()
}

// PriceResult is a snapshot annotated with provenance flags.
// The flags describe how the snapshot was obtained and are never persisted.
type PriceResult struct {
	PriceSnapshot
	Cached      bool `json:"cached"`
	IsStale     bool `json:"isStale"`
	RateLimited bool `json:"rateLimited"`
}

// DateOf formats the UTC calendar date of t
func DateOf(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// Yesterday returns the UTC calendar date of the day before t
func Yesterday(t time.Time) string {
	return DateOf(t.UTC().AddDate(0, 0, -1))
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
