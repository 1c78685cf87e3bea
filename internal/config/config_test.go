package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "PROVIDER", "")
	setEnv(t, "PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, ProviderSimulator, cfg.Provider)
	assert.Equal(t, int64(DefaultMaxSafeTransaction), cfg.MaxSafeTransaction)
	assert.Equal(t, int64(DefaultSimInitialBalance), cfg.SimInitialBalance)
	assert.Equal(t, DefaultProviderTimeout, cfg.ProviderTimeout)
	assert.Equal(t, DefaultRateLimitRPM, cfg.RateLimitRPM)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "MAX_SAFE_TRANSACTION", "500")
	setEnv(t, "PROVIDER", "EVM")
	setEnv(t, "CUSTODY_PRIVATE_KEY", "0x"+testKey)
	setEnv(t, "PROVIDER_TIMEOUT", "3s")
	setEnv(t, "WAIT_MINED", "true")
	setEnv(t, "ALLOWED_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(500), cfg.MaxSafeTransaction)
	assert.Equal(t, ProviderEVM, cfg.Provider)
	assert.Equal(t, 3*time.Second, cfg.ProviderTimeout)
	assert.True(t, cfg.WaitMined)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoad_EVMWithoutKey(t *testing.T) {
	setEnv(t, "PROVIDER", "evm")
	setEnv(t, "CUSTODY_PRIVATE_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CUSTODY_PRIVATE_KEY is required")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			MaxSafeTransaction: 100,
			Provider:           ProviderSimulator,
			ProviderTimeout:    time.Second,
			BreakerThreshold:   3,
			RateLimitRPM:       60,
			RateLimitBurst:     5,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid simulator", func(c *Config) {}, ""},
		{"zero threshold", func(c *Config) { c.MaxSafeTransaction = 0 }, "MAX_SAFE_TRANSACTION"},
		{"negative threshold", func(c *Config) { c.MaxSafeTransaction = -1 }, "MAX_SAFE_TRANSACTION"},
		{"zero timeout", func(c *Config) { c.ProviderTimeout = 0 }, "PROVIDER_TIMEOUT"},
		{"zero rate limit", func(c *Config) { c.RateLimitRPM = 0 }, "RATE_LIMIT_RPM"},
		{"zero breaker", func(c *Config) { c.BreakerThreshold = 0 }, "BREAKER_THRESHOLD"},
		{"unknown provider", func(c *Config) { c.Provider = "paypal" }, "unknown PROVIDER"},
		{"negative sim balance", func(c *Config) { c.SimInitialBalance = -5 }, "SIM_INITIAL_BALANCE"},
		{"evm valid", func(c *Config) {
			c.Provider, c.RPCURL, c.CustodyPrivateKey, c.ChainID = ProviderEVM, "http://rpc", testKey, 1
		}, ""},
		{"evm missing rpc", func(c *Config) {
			c.Provider, c.CustodyPrivateKey, c.ChainID = ProviderEVM, testKey, 1
		}, "RPC_URL is required"},
		{"evm short key", func(c *Config) {
			c.Provider, c.RPCURL, c.CustodyPrivateKey, c.ChainID = ProviderEVM, "http://rpc", "abc123", 1
		}, "64 hex characters"},
		{"evm missing chain", func(c *Config) {
			c.Provider, c.RPCURL, c.CustodyPrivateKey = ProviderEVM, "http://rpc", testKey
		}, "CHAIN_ID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnvHelpers(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")
	setEnv(t, "TEST_DUR", "250ms")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
	assert.Equal(t, 250*time.Millisecond, getEnvDuration("TEST_DUR", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("TEST_INVALID", time.Second))
	assert.False(t, getEnvBool("TEST_INVALID", false))
	assert.Nil(t, getEnvList("NONEXISTENT_VAR"))
}
