package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/metal-price-cache/internal/config"
	apperrors "github.com/metal-price-cache/internal/errors"
	"github.com/metal-price-cache/internal/logging"
	"github.com/metal-price-cache/internal/types"
)

const (
	defaultBaseURL = "https://api.metalpriceapi.com/v1"
	defaultTimeout = config.MaxUpstreamTimeout
	userAgent      = "metal-price-cache/1.0"

	// maxResponseBytes caps the body read from the provider
	maxResponseBytes = 1 << 20
)

// MetalPriceClient fetches gold and silver rates from metalpriceapi.com.
// Each call performs exactly one request; there are no retries.
type MetalPriceClient struct {
	apiKey  string
	baseURL string
	timeout time.Duration
	client  *http.Client
	health  *HealthTracker
	now     func() time.Time
}

// latestResponse is the /latest payload. Rates keyed EURXAU/EURXAG hold the
// EUR price of one troy ounce.
type latestResponse struct {
	Success   bool               `json:"success"`
	Base      string             `json:"base"`
	Timestamp int64              `json:"timestamp"`
	Rates     map[string]float64 `json:"rates"`
	Error     json.RawMessage    `json:"error,omitempty"`
}

// apiError is the object form of the provider's error field
type apiError struct {
	StatusCode int    `json:"statusCode"`
	Code       int    `json:"code"`
	Info       string `json:"info"`
	Message    string `json:"message"`
}

// NewMetalPriceClient creates a client from configuration
func NewMetalPriceClient(cfg *config.MetalPriceConfig) *MetalPriceClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 || timeout > config.MaxUpstreamTimeout {
		timeout = defaultTimeout
	}

	return &MetalPriceClient{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
		},
		health: NewHealthTracker(ProviderName),
		now:    time.Now,
	}
}

// SetClock replaces the time source used for fetchedAt and dataDate
func (c *MetalPriceClient) SetClock(now func() time.Time) {
	c.now = now
}

// Health returns the observed provider health
func (c *MetalPriceClient) Health() *ProviderHealth {
	return c.health.GetHealth()
}

// IsTestMode reports whether the client serves fixed test data
func (c *MetalPriceClient) IsTestMode() bool {
	return c.apiKey == TestAPIKey
}

// FetchPrices performs one upstream request and converts the result to EUR per gram
func (c *MetalPriceClient) FetchPrices(ctx context.Context) (*types.PriceSnapshot, error) {
	if c.apiKey == "" {
		return nil, apperrors.NewConfigurationMissingError("METALPRICE_API_KEY")
	}

	now := c.now().UTC()

	if c.IsTestMode() {
		logging.WithField("provider", ProviderName).Info("Using test data instead of live API call")
		return &types.PriceSnapshot{
			Gold:      GoldPerGram(testGoldPerOunce),
			Silver:    SilverPerGram(testSilverPerOunce),
			FetchedAt: now,
			DataDate:  types.Yesterday(now),
			Source:    ProviderName + " (test data)",
		}, nil
	}

	start := time.Now()
	snapshot, err := c.fetchLatest(ctx, now)
	if err != nil {
		c.health.RecordFailure(err)
		logging.WithFields(map[string]interface{}{
			"provider": ProviderName,
			"duration": time.Since(start).String(),
		}).WithError(err).Warn("Upstream price fetch failed")
		return nil, err
	}
	c.health.RecordSuccess(time.Since(start))

	logging.WithFields(map[string]interface{}{
		"provider": ProviderName,
		"gold":     snapshot.Gold,
		"silver":   snapshot.Silver,
		"dataDate": snapshot.DataDate,
		"duration": time.Since(start).String(),
	}).Info("Fetched live metal prices")

	return snapshot, nil
}

func (c *MetalPriceClient) fetchLatest(ctx context.Context, now time.Time) (*types.PriceSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := url.Values{}
	params.Set("api_key", c.apiKey)
	params.Set("base", types.CurrencyEUR)
	params.Set("currencies", "EUR,XAU,XAG")
	reqURL := fmt.Sprintf("%s/latest?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, apperrors.NewUpstreamUnavailableError(ProviderName, fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, apperrors.NewUpstreamTimeoutError(ProviderName, fmt.Errorf("no response within %v", c.timeout))
		}
		// url.Error would echo the request URL, which carries the API key
		return nil, apperrors.NewUpstreamUnavailableError(ProviderName, fmt.Errorf("request failed: %w", unwrapURLError(err)))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(err) {
			return nil, apperrors.NewUpstreamTimeoutError(ProviderName, fmt.Errorf("body not received within %v", c.timeout))
		}
		return nil, apperrors.NewUpstreamUnavailableError(ProviderName, fmt.Errorf("failed to read response: %w", err))
	}

	var payload latestResponse
	decodeErr := json.Unmarshal(body, &payload)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP error: %d", resp.StatusCode)
		if decodeErr == nil {
			if info := errorMessage(payload.Error); info != "" {
				msg = fmt.Sprintf("%s - %s", msg, info)
			}
		}
		return nil, apperrors.NewUpstreamUnavailableError(ProviderName, errors.New(msg))
	}

	if decodeErr != nil {
		return nil, apperrors.NewUpstreamUnavailableError(ProviderName, fmt.Errorf("failed to parse response: %w", decodeErr))
	}

	if !payload.Success {
		msg := errorMessage(payload.Error)
		if msg == "" {
			msg = "unknown API error"
		}
		return nil, apperrors.NewUpstreamUnavailableError(ProviderName, errors.New(msg))
	}

	goldOunce, okGold := payload.Rates["EURXAU"]
	silverOunce, okSilver := payload.Rates["EURXAG"]
	if !okGold || !okSilver || goldOunce <= 0 || silverOunce <= 0 {
		return nil, apperrors.NewUpstreamUnavailableError(ProviderName, errors.New("invalid response format: missing EURXAU/EURXAG rates"))
	}

	return &types.PriceSnapshot{
		Gold:      GoldPerGram(goldOunce),
		Silver:    SilverPerGram(silverOunce),
		FetchedAt: now,
		DataDate:  marketDate(payload.Timestamp, now),
		Source:    ProviderName,
	}, nil
}

// marketDate derives the UTC date the rates represent, never later than now
func marketDate(timestamp int64, now time.Time) string {
	today := types.DateOf(now)
	if timestamp <= 0 {
		return today
	}
	date := types.DateOf(time.Unix(timestamp, 0))
	if date > today {
		return today
	}
	return date
}

// errorMessage extracts a readable message from the provider's error field,
// which is either an object or a bare string
func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var obj apiError
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Info != "" {
			return obj.Info
		}
		return obj.Message
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
