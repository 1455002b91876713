package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Port:           "8080",
		LogFormat:      "json",
		DeploymentPath: "deploy/deployment.yaml",
		BlockTime:      12 * time.Second,
		SweepInterval:  time.Minute,
		SweepBatchSize: 100,
		RateLimitRPS:   10,
		AuthMaxSkew:    time.Minute,
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("RPC_URL", "")
	t.Setenv("DEPLOYMENT_PATH", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultDeploymentPath, cfg.DeploymentPath)
	assert.Equal(t, DefaultBlockTime, cfg.BlockTime)
	assert.Equal(t, DefaultSweepInterval, cfg.SweepInterval)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Empty(t, cfg.RPCURL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CHAIN_ID", "31337")
	t.Setenv("BLOCK_TIME", "2s")
	t.Setenv("SWEEP_INTERVAL", "30s")
	t.Setenv("ALLOWED_ORIGINS", "https://app.solace.fi, https://solace.fi,")
	t.Setenv("LOG_FORMAT", "text")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(31337), cfg.ChainID)
	assert.Equal(t, 2*time.Second, cfg.BlockTime)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, []string{"https://app.solace.fi", "https://solace.fi"}, cfg.AllowedOrigins)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Setenv("PORT", "http")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT must be a TCP port")
}

func TestLoad_GenesisTime(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/coverage")
	t.Setenv("RPC_URL", "")

	t.Setenv("GENESIS_TIME", "")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GENESIS_TIME is required")

	t.Setenv("GENESIS_TIME", "2023-11-14T22:13:20Z")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_000), cfg.GenesisTime.Unix())

	t.Setenv("GENESIS_TIME", "1700000000")
	cfg, err = Load()
	require.NoError(t, err)
	assert.True(t, cfg.GenesisTime.Equal(time.Unix(1_700_000_000, 0)))

	t.Setenv("GENESIS_TIME", "last tuesday")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GENESIS_TIME")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "missing port", mutate: func(c *Config) { c.Port = "" }, wantErr: "PORT is required"},
		{name: "port out of range", mutate: func(c *Config) { c.Port = "70000" }, wantErr: "PORT must be a TCP port"},
		{name: "missing deployment", mutate: func(c *Config) { c.DeploymentPath = "" }, wantErr: "DEPLOYMENT_PATH is required"},
		{name: "bad log format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: "LOG_FORMAT"},
		{name: "negative chain id", mutate: func(c *Config) { c.ChainID = -1 }, wantErr: "CHAIN_ID"},
		{name: "zero block time", mutate: func(c *Config) { c.BlockTime = 0 }, wantErr: "BLOCK_TIME"},
		{name: "zero sweep interval", mutate: func(c *Config) { c.SweepInterval = 0 }, wantErr: "SWEEP_INTERVAL"},
		{name: "zero sweep batch", mutate: func(c *Config) { c.SweepBatchSize = 0 }, wantErr: "SWEEP_BATCH_SIZE"},
		{name: "zero rate limit", mutate: func(c *Config) { c.RateLimitRPS = 0 }, wantErr: "RATE_LIMIT_RPS"},
		{name: "zero auth skew", mutate: func(c *Config) { c.AuthMaxSkew = 0 }, wantErr: "AUTH_MAX_SKEW"},
		{name: "database without genesis", mutate: func(c *Config) { c.DatabaseURL = "postgres://localhost/coverage" }, wantErr: "GENESIS_TIME is required"},
		{name: "database with genesis", mutate: func(c *Config) {
			c.DatabaseURL = "postgres://localhost/coverage"
			c.GenesisTime = time.Unix(1_700_000_000, 0)
		}},
		{name: "database following rpc", mutate: func(c *Config) {
			c.DatabaseURL = "postgres://localhost/coverage"
			c.RPCURL = "http://localhost:8545"
		}},
		{name: "future genesis", mutate: func(c *Config) { c.GenesisTime = time.Now().Add(time.Hour) }, wantErr: "in the future"},
		{name: "sample rate above one", mutate: func(c *Config) { c.TraceSampleRate = 1.5 }, wantErr: "OTEL_TRACES_SAMPLER_ARG"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
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

func TestConfig_ValidateJoinsErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Port = ""
	cfg.RateLimitRPS = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT is required")
	assert.Contains(t, err.Error(), "RATE_LIMIT_RPS")
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99))
}

func TestGetEnvFloat(t *testing.T) {
	t.Setenv("TEST_FLOAT", "0.25")
	t.Setenv("TEST_FLOAT_BAD", "quarter")

	assert.Equal(t, 0.25, getEnvFloat("TEST_FLOAT", 1))
	assert.Equal(t, 1.0, getEnvFloat("TEST_FLOAT_BAD", 1))
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "90s")
	t.Setenv("TEST_DUR_BAD", "ninety")

	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DUR", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("TEST_DUR_BAD", time.Second))
}
