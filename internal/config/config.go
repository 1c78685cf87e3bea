// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Provider backends
const (
	ProviderSimulator = "simulator"
	ProviderEVM       = "evm"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"
	LogFile   string // optional; rotated when set

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Risk policy
	MaxSafeTransaction int64

	// Payment provider
	Provider          string
	SimInitialBalance int64
	RPCURL            string
	ChainID           int64
	CustodyPrivateKey string // Hex-encoded, with or without 0x
	WaitMined         bool
	ProviderTimeout   time.Duration

	// Circuit breaker around the provider
	BreakerThreshold int
	BreakerOpenFor   time.Duration

	// Rate limiting
	RateLimitRPM   int
	RateLimitBurst int

	// Tracing
	OTLPEndpoint string

	// CORS
	AllowedOrigins []string
}

// Defaults
const (
	DefaultPort               = "8080"
	DefaultEnv                = "development"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
	DefaultMaxSafeTransaction = 100_000_000
	DefaultSimInitialBalance  = 1_000_000_000
	DefaultRPCURL             = "https://sepolia.base.org"
	DefaultChainID            = 84532 // Base Sepolia
	DefaultProviderTimeout    = 15 * time.Second
	DefaultBreakerThreshold   = 5
	DefaultBreakerOpenFor     = 30 * time.Second
	DefaultRateLimitRPM       = 120
	DefaultRateLimitBurst     = 20
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:          getEnv("LOG_FORMAT", DefaultLogFormat),
		LogFile:            os.Getenv("LOG_FILE"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		MaxSafeTransaction: getEnvInt64("MAX_SAFE_TRANSACTION", DefaultMaxSafeTransaction),
		Provider:           strings.ToLower(getEnv("PROVIDER", ProviderSimulator)),
		SimInitialBalance:  getEnvInt64("SIM_INITIAL_BALANCE", DefaultSimInitialBalance),
		RPCURL:             getEnv("RPC_URL", DefaultRPCURL),
		ChainID:            getEnvInt64("CHAIN_ID", DefaultChainID),
		CustodyPrivateKey:  os.Getenv("CUSTODY_PRIVATE_KEY"),
		WaitMined:          getEnvBool("WAIT_MINED", false),
		ProviderTimeout:    getEnvDuration("PROVIDER_TIMEOUT", DefaultProviderTimeout),
		BreakerThreshold:   int(getEnvInt64("BREAKER_THRESHOLD", DefaultBreakerThreshold)),
		BreakerOpenFor:     getEnvDuration("BREAKER_OPEN_FOR", DefaultBreakerOpenFor),
		RateLimitRPM:       int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		RateLimitBurst:     int(getEnvInt64("RATE_LIMIT_BURST", DefaultRateLimitBurst)),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AllowedOrigins:     getEnvList("ALLOWED_ORIGINS"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.MaxSafeTransaction <= 0 {
		return fmt.Errorf("MAX_SAFE_TRANSACTION must be positive")
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive")
	}
	if c.RateLimitRPM <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM and RATE_LIMIT_BURST must be positive")
	}
	if c.BreakerThreshold <= 0 {
		return fmt.Errorf("BREAKER_THRESHOLD must be positive")
	}

	switch c.Provider {
	case ProviderSimulator:
		if c.SimInitialBalance < 0 {
			return fmt.Errorf("SIM_INITIAL_BALANCE must not be negative")
		}
	case ProviderEVM:
		if c.RPCURL == "" {
			return fmt.Errorf("RPC_URL is required for the evm provider")
		}
		if c.CustodyPrivateKey == "" {
			return fmt.Errorf("CUSTODY_PRIVATE_KEY is required for the evm provider")
		}
		// Allow both with and without 0x prefix
		if len(strings.TrimPrefix(c.CustodyPrivateKey, "0x")) != 64 {
			return fmt.Errorf("CUSTODY_PRIVATE_KEY must be 64 hex characters (with or without 0x prefix)")
		}
		if c.ChainID <= 0 {
			return fmt.Errorf("CHAIN_ID must be positive")
		}
	default:
		return fmt.Errorf("unknown PROVIDER %q (want %s or %s)", c.Provider, ProviderSimulator, ProviderEVM)
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
