// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
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

	// Database (optional, audit trail uses in-memory store if not set)
	DatabaseURL string

	// Tracing
	OTLPEndpoint string

	// Decision policy
	HighRiskThreshold float64 // score at or above → block
	LowRiskThreshold  float64 // score at or below → allow
	MaxLatencyMS      float64 // SLA budget; breaches are logged, never change the decision
	ModelVersion      string

	// Ensemble weights for the ML/rules blend. AML and graph scores are
	// override signals and are never weighted.
	MLWeight    float64
	RulesWeight float64

	// Stage flags
	EnableAMLScreening  bool
	EnableGraphAnalysis bool

	// Screening list refresh (optional). When SanctionsListPath is set, the
	// server polls the file and hot-swaps the AML engine on changes.
	SanctionsListPath   string
	ListRefreshInterval time.Duration
}

// Defaults
const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultHighRiskThreshold = 0.8
	DefaultLowRiskThreshold  = 0.3
	DefaultMaxLatencyMS      = 100.0
	DefaultMLWeight          = 0.7
	DefaultRulesWeight       = 0.3
	DefaultModelVersion      = "v1.0.0"

	DefaultListRefreshInterval = 5 * time.Minute
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:           getEnv("LOG_FORMAT", "json"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		HighRiskThreshold:   getEnvFloat("HIGH_RISK_THRESHOLD", DefaultHighRiskThreshold),
		LowRiskThreshold:    getEnvFloat("LOW_RISK_THRESHOLD", DefaultLowRiskThreshold),
		MaxLatencyMS:        getEnvFloat("MAX_LATENCY_MS", DefaultMaxLatencyMS),
		ModelVersion:        getEnv("MODEL_VERSION", DefaultModelVersion),
		MLWeight:            getEnvFloat("ML_WEIGHT", DefaultMLWeight),
		RulesWeight:         getEnvFloat("RULES_WEIGHT", DefaultRulesWeight),
		EnableAMLScreening:  getEnvBool("ENABLE_AML_SCREENING", true),
		EnableGraphAnalysis: getEnvBool("ENABLE_GRAPH_ANALYSIS", true),
		SanctionsListPath:   os.Getenv("SANCTIONS_LIST_PATH"),
		ListRefreshInterval: getEnvDuration("LIST_REFRESH_INTERVAL", DefaultListRefreshInterval),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.HighRiskThreshold < 0 || c.HighRiskThreshold > 1 {
		return fmt.Errorf("HIGH_RISK_THRESHOLD must be in [0,1], got %v", c.HighRiskThreshold)
	}
	if c.LowRiskThreshold < 0 || c.LowRiskThreshold > 1 {
		return fmt.Errorf("LOW_RISK_THRESHOLD must be in [0,1], got %v", c.LowRiskThreshold)
	}
	if c.LowRiskThreshold >= c.HighRiskThreshold {
		return fmt.Errorf("LOW_RISK_THRESHOLD (%v) must be below HIGH_RISK_THRESHOLD (%v)",
			c.LowRiskThreshold, c.HighRiskThreshold)
	}
	if c.MaxLatencyMS <= 0 {
		return fmt.Errorf("MAX_LATENCY_MS must be positive, got %v", c.MaxLatencyMS)
	}
	if c.MLWeight < 0 || c.RulesWeight < 0 {
		return fmt.Errorf("ensemble weights must be non-negative, got ml=%v rules=%v",
			c.MLWeight, c.RulesWeight)
	}
	// The blend must never push a clean transaction above 1.0 on its own.
	if c.MLWeight+c.RulesWeight > 1 {
		return fmt.Errorf("ensemble weights must sum to at most 1, got %v",
			c.MLWeight+c.RulesWeight)
	}
	return nil
}

// IsProduction returns true when running in production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
