package api

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/metal-price-cache/internal/service"
	"github.com/metal-price-cache/internal/types"
)

var testFetchedAt = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

// mockPriceService records calls and returns canned results
type mockPriceService struct {
	mu            sync.Mutex
	getPricesFunc func(ctx context.Context, forceRefresh bool) *types.PriceResult
	forcedCalls   int
	normalCalls   int
}

func (m *mockPriceService) GetPrices(ctx context.Context, forceRefresh bool) *types.PriceResult {
	m.mu.Lock()
	if forceRefresh {
		m.forcedCalls++
	} else {
		m.normalCalls++
	}
	m.mu.Unlock()

	if m.getPricesFunc != nil {
		return m.getPricesFunc(ctx, forceRefresh)
	}
	return &types.PriceResult{
		PriceSnapshot: types.PriceSnapshot{
			Gold:          71.84,
			Silver:        0.861,
			FetchedAt:     testFetchedAt,
			DataDate:      "2025-03-13",
			Source:        "metalpriceapi.com",
			LastAPICallAt: testFetchedAt,
		},
		Cached: !forceRefresh,
	}
}

func (m *mockPriceService) Status(ctx context.Context) *service.CacheStatus {
	return &service.CacheStatus{
		Fresh:           true,
		FreshnessWindow: "24h0m0s",
		MinAPIInterval:  "24h0m0s",
		Stats:           service.Stats{Requests: 3, CacheHits: 2},
	}
}

func (m *mockPriceService) calls() (normal, forced int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.normalCalls, m.forcedCalls
}

func testServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:              "localhost",
		Port:              "8080",
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		RequestsPerSecond: 1000,
		Burst:             1000,
		AdminKey:          "s3cret-admin",
	}
}

// createTestServer creates a test server with mock services
func createTestServer(config *ServerConfig, priceService PriceServiceInterface) *Server {
	server := &Server{
		router:       mux.NewRouter(),
		priceService: priceService,
		config:       config,
	}
	server.setupRouter()
	return server
}

func serve(server *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return body
}

// TestHealthEndpoint tests the health check endpoint
func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(testServerConfig(), &mockPriceService{})

	w := serve(server, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", body["status"])
	}
}

func TestGetPrices_Development(t *testing.T) {
	svc := &mockPriceService{}
	server := createTestServer(testServerConfig(), svc)

	w := serve(server, httptest.NewRequest(http.MethodGet, "/api/prices", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	body := decodeBody(t, w)
	expected := map[string]interface{}{
		"gold":        71.84,
		"silver":      0.861,
		"cached":      true,
		"lastUpdated": "2025-03-14T10:00:00Z",
		"dataDate":    "2025-03-13",
		"source":      "metalpriceapi.com",
		"isStale":     false,
		"currency":    "EUR",
		"unit":        "gram",
		"rateLimited": false,
		"lastApiCall": "2025-03-14T10:00:00Z",
	}
	for key, want := range expected {
		if got := body[key]; got != want {
			t.Errorf("%s = %v, want %v", key, got, want)
		}
	}
	if _, ok := body["error"]; ok {
		t.Errorf("Unexpected error field: %v", body["error"])
	}

	normal, forced := svc.calls()
	if normal != 1 || forced != 0 {
		t.Errorf("GetPrices calls = (normal %d, forced %d), want (1, 0)", normal, forced)
	}
}

func TestGetPrices_ProductionHidesQuotaDetails(t *testing.T) {
	config := testServerConfig()
	config.Production = true
	server := createTestServer(config, &mockPriceService{})

	w := serve(server, httptest.NewRequest(http.MethodGet, "/api/prices", nil))
	body := decodeBody(t, w)

	for _, key := range []string{"rateLimited", "lastApiCall"} {
		if _, ok := body[key]; ok {
			t.Errorf("Production response should not contain %q", key)
		}
	}
	if body["gold"] != 71.84 {
		t.Errorf("gold = %v, want 71.84", body["gold"])
	}
}

func TestGetPrices_NoAPICallRendersNull(t *testing.T) {
	svc := &mockPriceService{
		getPricesFunc: func(ctx context.Context, forceRefresh bool) *types.PriceResult {
			return &types.PriceResult{
				PriceSnapshot: *service.EstimateSnapshot(testFetchedAt),
				Cached:        true,
				IsStale:       true,
			}
		},
	}
	server := createTestServer(testServerConfig(), svc)

	body := decodeBody(t, serve(server, httptest.NewRequest(http.MethodGet, "/api/prices", nil)))
	if v, ok := body["lastApiCall"]; !ok || v != nil {
		t.Errorf("lastApiCall = %v (present %v), want null", v, ok)
	}
	if body["source"] != "fallback estimate" {
		t.Errorf("source = %v, want fallback estimate", body["source"])
	}
}

func TestGetPrices_DefensiveFallback(t *testing.T) {
	tests := []struct {
		name string
		fn   func(ctx context.Context, forceRefresh bool) *types.PriceResult
	}{
		{"nil result", func(ctx context.Context, forceRefresh bool) *types.PriceResult { return nil }},
		{"panic", func(ctx context.Context, forceRefresh bool) *types.PriceResult { panic("boom") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := createTestServer(testServerConfig(), &mockPriceService{getPricesFunc: tt.fn})

			w := serve(server, httptest.NewRequest(http.MethodGet, "/api/prices", nil))
			if w.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d", w.Code)
			}
			body := decodeBody(t, w)
			if body["gold"] != service.EstimateGold || body["silver"] != service.EstimateSilver {
				t.Errorf("Expected estimate prices, got gold=%v silver=%v", body["gold"], body["silver"])
			}
			if body["error"] == nil {
				t.Error("Expected error field in defensive response")
			}
			if body["isStale"] != true || body["cached"] != true {
				t.Errorf("Expected cached and stale flags, got %v / %v", body["cached"], body["isStale"])
			}
		})
	}
}

func TestGetPrices_DefensiveFallbackHidesQuotaInProduction(t *testing.T) {
	config := testServerConfig()
	config.Production = true
	svc := &mockPriceService{
		getPricesFunc: func(ctx context.Context, forceRefresh bool) *types.PriceResult { return nil },
	}
	server := createTestServer(config, svc)

	body := decodeBody(t, serve(server, httptest.NewRequest(http.MethodGet, "/api/prices", nil)))
	for _, key := range []string{"rateLimited", "lastApiCall"} {
		if _, ok := body[key]; ok {
			t.Errorf("Production fallback response should not contain %q", key)
		}
	}
	if body["gold"] != service.EstimateGold {
		t.Errorf("gold = %v, want %v", body["gold"], service.EstimateGold)
	}
}

func TestUpdatePrices_Authorization(t *testing.T) {
	tests := []struct {
		name       string
		adminKey   string
		headers    map[string]string
		wantStatus int
		wantCode   string
		wantForced int
	}{
		{
			name:       "admin key not configured",
			adminKey:   "",
			headers:    map[string]string{AdminKeyHeader: "anything"},
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "SERVICE_UNAVAILABLE",
		},
		{
			name:       "missing credential",
			adminKey:   "s3cret-admin",
			wantStatus: http.StatusUnauthorized,
			wantCode:   "UNAUTHORIZED",
		},
		{
			name:       "wrong credential",
			adminKey:   "s3cret-admin",
			headers:    map[string]string{AdminKeyHeader: "guess"},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "UNAUTHORIZED",
		},
		{
			name:       "wrong bearer token",
			adminKey:   "s3cret-admin",
			headers:    map[string]string{"Authorization": "Bearer guess"},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "UNAUTHORIZED",
		},
		{
			name:       "admin key header",
			adminKey:   "s3cret-admin",
			headers:    map[string]string{AdminKeyHeader: "s3cret-admin"},
			wantStatus: http.StatusOK,
			wantForced: 1,
		},
		{
			name:       "bearer token",
			adminKey:   "s3cret-admin",
			headers:    map[string]string{"Authorization": "Bearer s3cret-admin"},
			wantStatus: http.StatusOK,
			wantForced: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testServerConfig()
			config.AdminKey = tt.adminKey
			svc := &mockPriceService{}
			server := createTestServer(config, svc)

			req := httptest.NewRequest(http.MethodPost, "/api/prices/update", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := serve(server, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}

			if tt.wantCode != "" {
				var resp ErrorResponse
				if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
					t.Fatalf("Failed to decode error response: %v", err)
				}
				if resp.Error.Code != tt.wantCode {
					t.Errorf("Error code = %s, want %s", resp.Error.Code, tt.wantCode)
				}
			} else {
				body := decodeBody(t, w)
				if body["message"] != "Prices updated successfully" {
					t.Errorf("message = %v", body["message"])
				}
				if body["cached"] != false {
					t.Errorf("cached = %v, want false for a forced refresh", body["cached"])
				}
				if _, ok := body["rateLimited"]; !ok {
					t.Error("Admin response should always include rateLimited")
				}
			}

			if _, forced := svc.calls(); forced != tt.wantForced {
				t.Errorf("forced GetPrices calls = %d, want %d", forced, tt.wantForced)
			}
		})
	}
}

func TestUpdatePrices_GetNotAllowed(t *testing.T) {
	server := createTestServer(testServerConfig(), &mockPriceService{})

	w := serve(server, httptest.NewRequest(http.MethodGet, "/api/prices/update", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("Expected status 405, got %d", w.Code)
	}

	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Error.Code != "METHOD_NOT_ALLOWED" {
		t.Errorf("Error code = %s, want METHOD_NOT_ALLOWED", resp.Error.Code)
	}
}

func TestGetStatus(t *testing.T) {
	server := createTestServer(testServerConfig(), &mockPriceService{})

	w := serve(server, httptest.NewRequest(http.MethodGet, "/api/prices/status", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 without credential, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/prices/status", nil)
	req.Header.Set(AdminKeyHeader, "s3cret-admin")
	w = serve(server, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var status service.CacheStatus
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if !status.Fresh || status.Stats.CacheHits != 2 {
		t.Errorf("Unexpected status: %+v", status)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	config := testServerConfig()
	config.RequestsPerSecond = 1
	config.Burst = 2
	server := createTestServer(config, &mockPriceService{})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/prices", nil)
		req.RemoteAddr = "192.0.2.10:4000"
		codes = append(codes, serve(server, req).Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("First requests within burst should pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("Expected 429 after burst, got %d", codes[2])
	}

	// Another client has its own budget
	req := httptest.NewRequest(http.MethodGet, "/api/prices", nil)
	req.RemoteAddr = "192.0.2.11:4000"
	if code := serve(server, req).Code; code != http.StatusOK {
		t.Errorf("Other client should not be limited, got %d", code)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	server := createTestServer(testServerConfig(), &mockPriceService{})

	w := serve(server, httptest.NewRequest(http.MethodGet, "/health", nil))
	if _, err := uuid.Parse(w.Header().Get(RequestIDHeader)); err != nil {
		t.Errorf("Expected generated UUID request ID, got %q", w.Header().Get(RequestIDHeader))
	}

	incoming := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, incoming)
	w = serve(server, req)
	if got := w.Header().Get(RequestIDHeader); got != incoming {
		t.Errorf("Request ID = %q, want incoming %q", got, incoming)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "not-a-uuid\r\n")
	w = serve(server, req)
	if got := w.Header().Get(RequestIDHeader); got == "not-a-uuid\r\n" {
		t.Error("Malformed request ID should be replaced")
	}
}

func TestCORSPreflight(t *testing.T) {
	server := createTestServer(testServerConfig(), &mockPriceService{})

	w := serve(server, httptest.NewRequest(http.MethodOptions, "/api/prices/update", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Missing CORS origin header")
	}
}

func TestCompressionMiddleware(t *testing.T) {
	server := createTestServer(testServerConfig(), &mockPriceService{})

	req := httptest.NewRequest(http.MethodGet, "/api/prices", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := serve(server, req)

	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("Expected gzip encoding, got %q", w.Header().Get("Content-Encoding"))
	}

	gz, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("Failed to open gzip body: %v", err)
	}
	defer gz.Close()

	var body map[string]interface{}
	if err := json.NewDecoder(gz).Decode(&body); err != nil {
		t.Fatalf("Failed to decode gzip body: %v", err)
	}
	if body["currency"] != "EUR" {
		t.Errorf("currency = %v, want EUR", body["currency"])
	}
}

func TestRateLimiter_SweepsIdleClients(t *testing.T) {
	rl := NewRateLimiter(10, 10, nil)
	rl.getLimiter("198.51.100.1")
	rl.getLimiter("198.51.100.2")

	rl.mu.Lock()
	for _, entry := range rl.limiters {
		entry.lastSeen = time.Now().Add(-2 * idleLimiterTTL)
	}
	rl.lastSweep = time.Now().Add(-2 * idleLimiterTTL)
	rl.mu.Unlock()

	rl.getLimiter("198.51.100.3")
	if got := rl.size(); got != 1 {
		t.Errorf("size() = %d, want 1 after sweep", got)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.5:5555"
	req.Header.Set("X-Forwarded-For", "198.51.100.7")
	if got := clientIP(req); got != "203.0.113.5" {
		t.Errorf("clientIP() = %q, want 203.0.113.5", got)
	}
}

func TestRateLimiter_ClientKey(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	tests := []struct {
		name       string
		trusted    []netip.Prefix
		remoteAddr string
		xff        string
		want       string
	}{
		{"no proxies configured ignores header", nil, "192.0.2.10:4000", "198.51.100.7", "192.0.2.10"},
		{"untrusted peer ignores header", trusted, "192.0.2.10:4000", "198.51.100.7", "192.0.2.10"},
		{"trusted peer uses forwarded client", trusted, "10.1.2.3:4000", "198.51.100.7", "198.51.100.7"},
		{"spoofed leftmost hop is skipped", trusted, "10.1.2.3:4000", "203.0.113.66, 198.51.100.7", "198.51.100.7"},
		{"trusted hops are skipped", trusted, "10.1.2.3:4000", "198.51.100.7, 10.9.9.9", "198.51.100.7"},
		{"malformed hop falls back to peer", trusted, "10.1.2.3:4000", "garbage", "10.1.2.3"},
		{"missing header falls back to peer", trusted, "10.1.2.3:4000", "", "10.1.2.3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := NewRateLimiter(10, 10, tt.trusted)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := rl.clientKey(req); got != tt.want {
				t.Errorf("clientKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimitMiddleware_RotatingForwardedForStillThrottled(t *testing.T) {
	config := testServerConfig()
	config.RequestsPerSecond = 1
	config.Burst = 1
	server := createTestServer(config, &mockPriceService{})

	throttled := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/prices/update", nil)
		req.RemoteAddr = "192.0.2.10:4000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		req.Header.Set(AdminKeyHeader, "wrong-key")

		if serve(server, req).Code == http.StatusTooManyRequests {
			throttled++
		}
	}

	if throttled < 45 {
		t.Errorf("Expected rotating X-Forwarded-For to be throttled, got %d/50 responses with 429", throttled)
	}
}
