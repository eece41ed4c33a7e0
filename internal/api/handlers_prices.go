package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/metal-price-cache/internal/errors"
	"github.com/metal-price-cache/internal/logging"
	"github.com/metal-price-cache/internal/service"
	"github.com/metal-price-cache/internal/types"
)

// AdminKeyHeader carries the admin credential; "Authorization: Bearer" is also accepted
const AdminKeyHeader = "X-Admin-Key"

// PriceResponse is the public price payload
type PriceResponse struct {
	Message     string  `json:"message,omitempty"`
	Gold        float64 `json:"gold"`
	Silver      float64 `json:"silver"`
	Cached      bool    `json:"cached"`
	LastUpdated string  `json:"lastUpdated"`
	DataDate    string  `json:"dataDate"`
	Source      string  `json:"source"`
	IsStale     bool    `json:"isStale"`
	Currency    string  `json:"currency"`
	Unit        string  `json:"unit"`
	Error       string  `json:"error,omitempty"`

	// Quota details; omitted from the public endpoint in production
	*QuotaInfo
}

// QuotaInfo exposes the upstream quota state of a response
type QuotaInfo struct {
	RateLimited bool    `json:"rateLimited"`
	LastAPICall *string `json:"lastApiCall"`
}

func newPriceResponse(result *types.PriceResult, withQuota bool) *PriceResponse {
	resp := &PriceResponse{
		Gold:        result.Gold,
		Silver:      result.Silver,
		Cached:      result.Cached,
		LastUpdated: result.FetchedAt.UTC().Format(time.RFC3339),
		DataDate:    result.DataDate,
		Source:      result.Source,
		IsStale:     result.IsStale,
		Currency:    types.CurrencyEUR,
		Unit:        types.UnitGram,
	}
	if withQuota {
		info := &QuotaInfo{RateLimited: result.RateLimited}
		if result.HasAPICall() {
			last := result.LastAPICallAt.UTC().Format(time.RFC3339)
			info.LastAPICall = &last
		}
		resp.QuotaInfo = info
	}
	return resp
}

// getPrices calls the price service and turns a panic or nil result into an error
func (s *Server) getPrices(ctx context.Context, forceRefresh bool) (result *types.PriceResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("price service panicked: %v", r)
		}
	}()

	result = s.priceService.GetPrices(ctx, forceRefresh)
	if result == nil {
		return nil, fmt.Errorf("price service returned no result")
	}
	return result, nil
}

// handleGetPrices serves the cached prices. It always answers 200 with numbers
// so pages can render.
func (s *Server) handleGetPrices(w http.ResponseWriter, r *http.Request) {
	result, err := s.getPrices(r.Context(), false)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Error("Error in prices API")

		resp := newPriceResponse(&types.PriceResult{
			PriceSnapshot: *service.EstimateSnapshot(time.Now()),
			Cached:        true,
			IsStale:       true,
		}, !s.config.Production)
		resp.Error = "Failed to fetch prices from shared cache"
		respondJSON(w, http.StatusOK, resp)
		return
	}

	respondJSON(w, http.StatusOK, newPriceResponse(result, !s.config.Production))
}

// handleUpdatePrices forces a refresh for an authenticated admin
func (s *Server) handleUpdatePrices(w http.ResponseWriter, r *http.Request) {
	if err := s.authorizeAdmin(r); err != nil {
		respondCategorizedError(w, err)
		return
	}

	logger := logging.FromContext(r.Context())
	logger.Info("Admin-requested price update")

	result, err := s.getPrices(r.Context(), true)
	if err != nil {
		logger.WithError(err).Error("Error in admin price update")
		respondCategorizedError(w, apperrors.NewInternalError("failed to update prices", err))
		return
	}

	resp := newPriceResponse(result, true)
	resp.Message = "Prices updated successfully"
	respondJSON(w, http.StatusOK, resp)
}

// handleUpdateMethodNotAllowed rejects reads of the update endpoint
func (s *Server) handleUpdateMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondCategorizedError(w, apperrors.NewMethodNotAllowedError(r.Method, "Use POST with admin key."))
}

// handleGetStatus reports cache and quota state to an authenticated admin
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	if err := s.authorizeAdmin(r); err != nil {
		respondCategorizedError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, s.priceService.Status(r.Context()))
}

// authorizeAdmin fails closed: without a configured key every request is refused
func (s *Server) authorizeAdmin(r *http.Request) error {
	if s.config.AdminKey == "" {
		return apperrors.NewServiceUnavailableError("Admin functionality not configured")
	}

	provided := adminCredential(r)
	if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(s.config.AdminKey)) != 1 {
		logging.FromContext(r.Context()).WithField("ip", clientIP(r)).Warn("Rejected admin request with invalid key")
		return apperrors.NewUnauthorizedError("Unauthorized: Invalid admin key")
	}
	return nil
}

// adminCredential reads the admin key from X-Admin-Key or a bearer token
func adminCredential(r *http.Request) string {
	if key := r.Header.Get(AdminKeyHeader); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}
