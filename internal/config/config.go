// Package config provides configuration management for the metal price cache.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Persistence capabilities
const (
	CapabilityDurable   = "durable"
	CapabilityEphemeral = "ephemeral"
)

// MaxUpstreamTimeout caps a single call to the price provider
const MaxUpstreamTimeout = 15 * time.Second

// Persistence backends for the secondary snapshot copy
const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendNone     = "none"
)

// Config holds all application configuration
type Config struct {
	Environment string
	Server      ServerConfig
	MetalPrice  MetalPriceConfig
	Cache       CacheConfig
	Persistence PersistenceConfig
	Database    DatabaseConfig
	Admin       AdminConfig
	RateLimit   RateLimitConfig
	Logging     LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// MetalPriceConfig holds upstream price API configuration
type MetalPriceConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// CacheConfig holds snapshot freshness and upstream quota settings
type CacheConfig struct {
	FreshnessWindow time.Duration
	MinAPIInterval  time.Duration
}

// PersistenceConfig selects where the secondary snapshot copy lives.
// Capability is resolved once here; business logic never sniffs the environment.
type PersistenceConfig struct {
	Capability string
	Backend    string
	FilePath   string
}

// Durable reports whether a secondary copy may be read or written
func (p PersistenceConfig) Durable() bool {
	return p.Capability == CapabilityDurable
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// URL returns the connection URL used by the migration tool
func (p PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", p.User, p.Password, p.Host, p.Port, p.Database)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// AdminConfig holds the shared secret for the force-refresh endpoint.
// An empty key disables admin functionality (fail closed).
type AdminConfig struct {
	Key string
}

// RateLimitConfig holds inbound request throttling per client
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int

	// TrustedProxies may set X-Forwarded-For; empty means the header is ignored
	TrustedProxies []netip.Prefix
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	trustedProxies, err := parseTrustedProxies(getEnv("TRUSTED_PROXIES", ""))
	if err != nil {
		return nil, err
	}

	config := &Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		MetalPrice: MetalPriceConfig{
			APIKey:  getEnv("METALPRICE_API_KEY", ""),
			BaseURL: getEnv("METALPRICE_BASE_URL", "https://api.metalpriceapi.com/v1"),
			Timeout: getEnvAsDuration("METALPRICE_TIMEOUT", MaxUpstreamTimeout),
		},
		Cache: CacheConfig{
			FreshnessWindow: getEnvAsDuration("PRICE_FRESHNESS_WINDOW", 24*time.Hour),
			MinAPIInterval:  getEnvAsDuration("PRICE_MIN_API_INTERVAL", 24*time.Hour),
		},
		Persistence: PersistenceConfig{
			Capability: resolveCapability(),
			Backend:    strings.ToLower(getEnv("PERSISTENCE_BACKEND", BackendFile)),
			FilePath:   getEnv("PRICE_CACHE_FILE", "price-cache.json"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "metal_prices"),
				User:           getEnv("POSTGRES_USER", "prices"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 5),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 10),
			},
		},
		Admin: AdminConfig{
			Key: getEnv("ADMIN_KEY", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 10),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
			TrustedProxies:    trustedProxies,
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	switch c.Persistence.Capability {
	case CapabilityDurable, CapabilityEphemeral:
	default:
		return fmt.Errorf("invalid PERSISTENCE_CAPABILITY %q: must be %s or %s",
			c.Persistence.Capability, CapabilityDurable, CapabilityEphemeral)
	}

	switch c.Persistence.Backend {
	case BackendFile, BackendRedis, BackendPostgres, BackendNone:
	default:
		return fmt.Errorf("invalid PERSISTENCE_BACKEND %q", c.Persistence.Backend)
	}

	if c.Cache.FreshnessWindow <= 0 {
		return fmt.Errorf("PRICE_FRESHNESS_WINDOW must be positive, got %v", c.Cache.FreshnessWindow)
	}
	if c.Cache.MinAPIInterval < 0 {
		return fmt.Errorf("PRICE_MIN_API_INTERVAL cannot be negative, got %v", c.Cache.MinAPIInterval)
	}
	if c.MetalPrice.Timeout <= 0 || c.MetalPrice.Timeout > MaxUpstreamTimeout {
		return fmt.Errorf("METALPRICE_TIMEOUT must be in (0, %v], got %v", MaxUpstreamTimeout, c.MetalPrice.Timeout)
	}

	return nil
}

// resolveCapability decides once whether local durable storage can be used.
// An explicit PERSISTENCE_CAPABILITY wins; otherwise serverless hosts are ephemeral.
func resolveCapability() string {
	if v := getEnv("PERSISTENCE_CAPABILITY", ""); v != "" {
		return strings.ToLower(v)
	}
	if IsServerless() {
		return CapabilityEphemeral
	}
	return CapabilityDurable
}

// IsServerless reports whether the process runs on a serverless host
func IsServerless() bool {
	return os.Getenv("VERCEL") != "" || os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}

// parseTrustedProxies reads a comma-separated list of IPs and CIDR ranges
func parseTrustedProxies(value string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", entry, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}

		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
