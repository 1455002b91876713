// Package config handles application configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Deployment
	DeploymentPath string // YAML deployment file

	// Chain settings
	RPCURL    string        // optional; enables the head-following clock and EIP-1271 signers
	ChainID   int64         // overrides the deployment's chain id when non-zero
	BlockTime time.Duration // block interval of the local clock
	// GenesisTime anchors the local clock's block zero. Persisted policies
	// carry block numbers, so it must stay fixed across restarts.
	GenesisTime time.Time

	// Background work
	SweepInterval  time.Duration
	SweepBatchSize int

	// Security
	RateLimitRPS    int
	AuthMaxSkew     time.Duration // accepted age of a signed caller header
	AllowedOrigins  []string
	OTLPEndpoint    string // enables tracing export when set
	TracingInsecure bool
	TraceSampleRate float64
}

// Defaults
const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
	DefaultDeploymentPath = "deploy/deployment.yaml"
	DefaultBlockTime      = 12 * time.Second
	DefaultSweepInterval  = time.Minute
	DefaultSweepBatchSize = 500
	DefaultRateLimit      = 100
	DefaultAuthMaxSkew    = 5 * time.Minute
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	genesis, err := parseTime(os.Getenv("GENESIS_TIME"))
	if err != nil {
		return nil, fmt.Errorf("GENESIS_TIME: %w", err)
	}

	cfg := &Config{
		Port:            getEnv("PORT", DefaultPort),
		Env:             getEnv("ENV", DefaultEnv),
		LogLevel:        getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:       getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		DeploymentPath:  getEnv("DEPLOYMENT_PATH", DefaultDeploymentPath),
		RPCURL:          os.Getenv("RPC_URL"),
		ChainID:         getEnvInt64("CHAIN_ID", 0),
		BlockTime:       getEnvDuration("BLOCK_TIME", DefaultBlockTime),
		GenesisTime:     genesis,
		SweepInterval:   getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		SweepBatchSize:  int(getEnvInt64("SWEEP_BATCH_SIZE", DefaultSweepBatchSize)),
		RateLimitRPS:    int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		AuthMaxSkew:     getEnvDuration("AUTH_MAX_SKEW", DefaultAuthMaxSkew),
		AllowedOrigins:  getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TracingInsecure: os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
		TraceSampleRate: getEnvFloat("OTEL_TRACES_SAMPLER_ARG", 1),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT is required"))
	} else if p, err := strconv.Atoi(c.Port); err != nil || p <= 0 || p > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be a TCP port, got %q", c.Port))
	}
	if c.DeploymentPath == "" {
		errs = append(errs, errors.New("DEPLOYMENT_PATH is required"))
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}
	if c.ChainID < 0 {
		errs = append(errs, errors.New("CHAIN_ID must not be negative"))
	}
	if c.BlockTime <= 0 {
		errs = append(errs, errors.New("BLOCK_TIME must be positive"))
	}
	if c.DatabaseURL != "" && c.RPCURL == "" && c.GenesisTime.IsZero() {
		errs = append(errs, errors.New("GENESIS_TIME is required when DATABASE_URL is set without RPC_URL"))
	}
	if c.GenesisTime.After(time.Now()) {
		errs = append(errs, errors.New("GENESIS_TIME must not be in the future"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if c.SweepBatchSize <= 0 {
		errs = append(errs, errors.New("SWEEP_BATCH_SIZE must be positive"))
	}
	if c.RateLimitRPS <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS must be positive"))
	}
	if c.AuthMaxSkew <= 0 {
		errs = append(errs, errors.New("AUTH_MAX_SKEW must be positive"))
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		errs = append(errs, fmt.Errorf("OTEL_TRACES_SAMPLER_ARG must be within [0, 1], got %v", c.TraceSampleRate))
	}
	return errors.Join(errs...)
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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

// parseTime accepts RFC 3339 or unix seconds. Empty yields the zero time.
func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("want RFC 3339 or unix seconds, got %q", value)
	}
	return t.UTC(), nil
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
