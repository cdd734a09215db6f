package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultHighRiskThreshold, cfg.HighRiskThreshold)
	assert.Equal(t, DefaultLowRiskThreshold, cfg.LowRiskThreshold)
	assert.Equal(t, DefaultMLWeight, cfg.MLWeight)
	assert.Equal(t, DefaultRulesWeight, cfg.RulesWeight)
	assert.Equal(t, DefaultModelVersion, cfg.ModelVersion)
	assert.True(t, cfg.EnableAMLScreening)
	assert.True(t, cfg.EnableGraphAnalysis)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "HIGH_RISK_THRESHOLD", "0.9")
	setEnv(t, "LOW_RISK_THRESHOLD", "0.2")
	setEnv(t, "ENABLE_GRAPH_ANALYSIS", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 0.9, cfg.HighRiskThreshold)
	assert.Equal(t, 0.2, cfg.LowRiskThreshold)
	assert.False(t, cfg.EnableGraphAnalysis)
}

func TestLoad_ThresholdOrdering(t *testing.T) {
	setEnv(t, "HIGH_RISK_THRESHOLD", "0.3")
	setEnv(t, "LOW_RISK_THRESHOLD", "0.8")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "LOW_RISK_THRESHOLD")
}

func TestLoad_WeightSumBound(t *testing.T) {
	setEnv(t, "ML_WEIGHT", "0.8")
	setEnv(t, "RULES_WEIGHT", "0.3")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "sum to at most 1")
}

func TestLoad_NegativeWeight(t *testing.T) {
	setEnv(t, "ML_WEIGHT", "-0.1")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_InvalidThresholdRange(t *testing.T) {
	setEnv(t, "HIGH_RISK_THRESHOLD", "1.5")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "HIGH_RISK_THRESHOLD")
}

func TestLoad_InvalidFloatFallsBack(t *testing.T) {
	setEnv(t, "MAX_LATENCY_MS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxLatencyMS, cfg.MaxLatencyMS)
}

func TestLoad_ListRefresh(t *testing.T) {
	setEnv(t, "SANCTIONS_LIST_PATH", "/etc/sentra/lists.json")
	setEnv(t, "LIST_REFRESH_INTERVAL", "30s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/etc/sentra/lists.json", cfg.SanctionsListPath)
	assert.Equal(t, 30*time.Second, cfg.ListRefreshInterval)
}

func TestLoad_InvalidRefreshIntervalFallsBack(t *testing.T) {
	setEnv(t, "LIST_REFRESH_INTERVAL", "whenever")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultListRefreshInterval, cfg.ListRefreshInterval)
}

func TestIsProduction(t *testing.T) {
	cfg := &Config{Env: "production"}
	assert.True(t, cfg.IsProduction())

	cfg.Env = "development"
	assert.False(t, cfg.IsProduction())
}
