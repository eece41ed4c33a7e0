package config

import (
	"testing"
	"time"
)

// clearServerlessEnv makes capability resolution independent of the host running the tests
func clearServerlessEnv(t *testing.T) {
	t.Helper()
	t.Setenv("VERCEL", "")
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "")
	t.Setenv("PERSISTENCE_CAPABILITY", "")
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearServerlessEnv(t)
	t.Setenv("PERSISTENCE_BACKEND", "")
	t.Setenv("PRICE_FRESHNESS_WINDOW", "")
	t.Setenv("PRICE_MIN_API_INTERVAL", "")
	t.Setenv("METALPRICE_TIMEOUT", "")
	t.Setenv("ADMIN_KEY", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Cache.FreshnessWindow != 24*time.Hour {
		t.Errorf("Cache.FreshnessWindow = %v, want %v", cfg.Cache.FreshnessWindow, 24*time.Hour)
	}
	if cfg.Cache.MinAPIInterval != 24*time.Hour {
		t.Errorf("Cache.MinAPIInterval = %v, want %v", cfg.Cache.MinAPIInterval, 24*time.Hour)
	}
	if cfg.MetalPrice.Timeout != 15*time.Second {
		t.Errorf("MetalPrice.Timeout = %v, want %v", cfg.MetalPrice.Timeout, 15*time.Second)
	}
	if cfg.Persistence.Capability != CapabilityDurable {
		t.Errorf("Persistence.Capability = %v, want %v", cfg.Persistence.Capability, CapabilityDurable)
	}
	if cfg.Persistence.Backend != BackendFile {
		t.Errorf("Persistence.Backend = %v, want %v", cfg.Persistence.Backend, BackendFile)
	}
	if cfg.Admin.Key != "" {
		t.Errorf("Admin.Key = %q, want empty", cfg.Admin.Key)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	clearServerlessEnv(t)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("METALPRICE_API_KEY", "secret")
	t.Setenv("PRICE_MIN_API_INTERVAL", "12h")
	t.Setenv("PERSISTENCE_BACKEND", "Redis")
	t.Setenv("APP_ENV", "production")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want %v", cfg.Server.Port, "9090")
	}
	if cfg.MetalPrice.APIKey != "secret" {
		t.Errorf("MetalPrice.APIKey = %v, want %v", cfg.MetalPrice.APIKey, "secret")
	}
	if cfg.Cache.MinAPIInterval != 12*time.Hour {
		t.Errorf("Cache.MinAPIInterval = %v, want %v", cfg.Cache.MinAPIInterval, 12*time.Hour)
	}
	if cfg.Persistence.Backend != BackendRedis {
		t.Errorf("Persistence.Backend = %v, want %v", cfg.Persistence.Backend, BackendRedis)
	}
	if !cfg.IsProduction() {
		t.Error("IsProduction() = false, want true")
	}
}

func TestResolveCapability(t *testing.T) {
	tests := []struct {
		name     string
		vercel   string
		lambda   string
		explicit string
		want     string
	}{
		{name: "plain host is durable", want: CapabilityDurable},
		{name: "vercel is ephemeral", vercel: "1", want: CapabilityEphemeral},
		{name: "lambda is ephemeral", lambda: "prices-fn", want: CapabilityEphemeral},
		{name: "explicit override wins", vercel: "1", explicit: "DURABLE", want: CapabilityDurable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("VERCEL", tt.vercel)
			t.Setenv("AWS_LAMBDA_FUNCTION_NAME", tt.lambda)
			t.Setenv("PERSISTENCE_CAPABILITY", tt.explicit)

			if got := resolveCapability(); got != tt.want {
				t.Errorf("resolveCapability() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			MetalPrice:  MetalPriceConfig{Timeout: 15 * time.Second},
			Cache:       CacheConfig{FreshnessWindow: 24 * time.Hour, MinAPIInterval: 24 * time.Hour},
			Persistence: PersistenceConfig{Capability: CapabilityDurable, Backend: BackendFile},
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("Validate() on valid config error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown capability", func(c *Config) { c.Persistence.Capability = "sometimes" }},
		{"unknown backend", func(c *Config) { c.Persistence.Backend = "s3" }},
		{"zero freshness window", func(c *Config) { c.Cache.FreshnessWindow = 0 }},
		{"negative min interval", func(c *Config) { c.Cache.MinAPIInterval = -time.Second }},
		{"zero timeout", func(c *Config) { c.MetalPrice.Timeout = 0 }},
		{"timeout above 15s", func(c *Config) { c.MetalPrice.Timeout = 16 * time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() error = nil, want error")
			}
		})
	}
}

func TestLoadConfig_RejectsLongUpstreamTimeout(t *testing.T) {
	clearServerlessEnv(t)
	t.Setenv("METALPRICE_TIMEOUT", "30s")

	if _, err := LoadConfig(); err == nil {
		t.Error("LoadConfig() error = nil, want error for METALPRICE_TIMEOUT above 15s")
	}
}

func TestParseTrustedProxies(t *testing.T) {
	prefixes, err := parseTrustedProxies(" 10.0.0.0/8, 192.0.2.1 ,::ffff:203.0.113.9,")
	if err != nil {
		t.Fatalf("parseTrustedProxies() error = %v", err)
	}

	want := []string{"10.0.0.0/8", "192.0.2.1/32", "203.0.113.9/32"}
	if len(prefixes) != len(want) {
		t.Fatalf("parseTrustedProxies() returned %d prefixes, want %d", len(prefixes), len(want))
	}
	for i, p := range prefixes {
		if p.String() != want[i] {
			t.Errorf("prefix[%d] = %v, want %v", i, p, want[i])
		}
	}

	if prefixes, err := parseTrustedProxies(""); err != nil || len(prefixes) != 0 {
		t.Errorf("parseTrustedProxies(\"\") = %v, %v; want empty, nil", prefixes, err)
	}

	for _, bad := range []string{"proxy.internal", "10.0.0.0/33"} {
		if _, err := parseTrustedProxies(bad); err == nil {
			t.Errorf("parseTrustedProxies(%q) error = nil, want error", bad)
		}
	}
}

func TestLoadConfig_TrustedProxies(t *testing.T) {
	clearServerlessEnv(t)
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if len(cfg.RateLimit.TrustedProxies) != 1 || cfg.RateLimit.TrustedProxies[0].String() != "10.0.0.0/8" {
		t.Errorf("RateLimit.TrustedProxies = %v, want [10.0.0.0/8]", cfg.RateLimit.TrustedProxies)
	}

	t.Setenv("TRUSTED_PROXIES", "not-an-ip")
	if _, err := LoadConfig(); err == nil {
		t.Error("LoadConfig() error = nil, want error for invalid TRUSTED_PROXIES")
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "forty-two")
	t.Setenv("TEST_DURATION", "90m")

	if got := getEnvAsInt("TEST_INT", 1); got != 42 {
		t.Errorf("getEnvAsInt() = %v, want %v", got, 42)
	}
	if got := getEnvAsInt("TEST_BAD_INT", 7); got != 7 {
		t.Errorf("getEnvAsInt() with invalid value = %v, want %v", got, 7)
	}
	if got := getEnvAsDuration("TEST_DURATION", time.Second); got != 90*time.Minute {
		t.Errorf("getEnvAsDuration() = %v, want %v", got, 90*time.Minute)
	}
	if got := getEnv("TEST_UNSET_KEY", "fallback"); got != "fallback" {
		t.Errorf("getEnv() = %v, want %v", got, "fallback")
	}
}

func TestPostgresConfig_URL(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: "5432", Database: "metal_prices", User: "prices", Password: "pw"}
	want := "postgres://prices:pw@db:5432/metal_prices?sslmode=disable"
	if got := p.URL(); got != want {
		t.Errorf("URL() = %v, want %v", got, want)
	}
}
