package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(c *Collector, decision string, n int, dc DecisionContext) {
	for i := 0; i < n; i++ {
		c.RecordDecision(decision, 0.5, 10, "v1.0.0", dc)
	}
}

func TestAuthorizationRate(t *testing.T) {
	c := NewCollector()
	assert.Zero(t, c.AuthorizationRate())

	record(c, "allow", 7, DecisionContext{})
	record(c, "block", 2, DecisionContext{})
	record(c, "review", 1, DecisionContext{})

	assert.InDelta(t, 0.7, c.AuthorizationRate(), 1e-9)
}

func TestFraudRatesFromFeedback(t *testing.T) {
	c := NewCollector()

	// No feedback yet: rates are 0, not NaN
	assert.Zero(t, c.FraudDetectionRate())
	assert.Zero(t, c.FalsePositiveRate())

	c.RecordFraudFeedback("block", true)  // TP
	c.RecordFraudFeedback("block", true)  // TP
	c.RecordFraudFeedback("block", false) // FP
	c.RecordFraudFeedback("allow", true)  // FN
	c.RecordFraudFeedback("allow", false) // TN
	c.RecordFraudFeedback("review", true) // ignored

	assert.InDelta(t, 2.0/3.0, c.FraudDetectionRate(), 1e-9)
	assert.InDelta(t, 0.5, c.FalsePositiveRate(), 1e-9)
}

func TestLatencyPercentilesNearestRank(t *testing.T) {
	c := NewCollector()

	// Empty window: all zeros
	stats := c.LatencyPercentiles()
	assert.Zero(t, stats.P50MS)
	assert.Zero(t, stats.P99MS)

	// 1..100 ms: nearest rank picks index floor(n*q)
	for i := 1; i <= 100; i++ {
		c.RecordDecision("allow", 0.1, float64(i), "v1.0.0", DecisionContext{})
	}
	stats = c.LatencyPercentiles()
	assert.Equal(t, 51.0, stats.P50MS)
	assert.Equal(t, 96.0, stats.P95MS)
	assert.Equal(t, 100.0, stats.P99MS)
}

func TestLatencyPercentilesMonotonic(t *testing.T) {
	c := NewCollector()
	for _, v := range []float64{12, 3, 47, 8, 95, 2, 31, 60, 18, 5, 77} {
		c.RecordDecision("allow", 0.1, v, "v1.0.0", DecisionContext{})
	}
	stats := c.LatencyPercentiles()
	assert.LessOrEqual(t, stats.P50MS, stats.P95MS)
	assert.LessOrEqual(t, stats.P95MS, stats.P99MS)
}

func TestDetectFeatureDrift(t *testing.T) {
	c := NewCollector()

	// Fewer than 10 samples never flags
	for i := 0; i < 9; i++ {
		c.RecordFeature("transaction_amount", 1000)
	}
	assert.False(t, c.DetectFeatureDrift("transaction_amount", 100, 3.0))

	// Identical samples: stdev 0 is treated as 1.0, so the z-score is the
	// raw mean deviation
	c.RecordFeature("transaction_amount", 1000)
	assert.True(t, c.DetectFeatureDrift("transaction_amount", 100, 3.0))
	assert.False(t, c.DetectFeatureDrift("transaction_amount", 999, 3.0))
}

func TestDetectFeatureDriftLastWindowOnly(t *testing.T) {
	c := NewCollector()

	// Old samples far from baseline, recent window right on it: only the
	// last 10 samples count
	for i := 0; i < 20; i++ {
		c.RecordFeature("f", 10_000)
	}
	for i := 0; i < 10; i++ {
		c.RecordFeature("f", 100)
	}
	assert.False(t, c.DetectFeatureDrift("f", 100, 3.0))
}

func TestDetectFeatureDriftUnknownFeature(t *testing.T) {
	c := NewCollector()
	assert.False(t, c.DetectFeatureDrift("never_recorded", 0, 3.0))
}

func TestDetectBias(t *testing.T) {
	c := NewCollector()

	record(c, "allow", 8, DecisionContext{Country: "US"})
	record(c, "block", 2, DecisionContext{Country: "US"})
	record(c, "allow", 3, DecisionContext{Country: "NG"})
	record(c, "block", 7, DecisionContext{Country: "NG"})
	// Review-only segment carries no approval signal and is omitted
	record(c, "review", 5, DecisionContext{Country: "BR"})

	rates := c.DetectBias("country")
	require.Len(t, rates, 2)
	assert.InDelta(t, 0.8, rates["US"], 1e-9)
	assert.InDelta(t, 0.3, rates["NG"], 1e-9)

	assert.Empty(t, c.DetectBias("postal_code"))
}

func TestDetectBiasDemographic(t *testing.T) {
	c := NewCollector()
	record(c, "allow", 4, DecisionContext{DemographicSegment: "18-25"})
	record(c, "block", 4, DecisionContext{DemographicSegment: "18-25"})

	rates := c.DetectBias("demographic")
	assert.InDelta(t, 0.5, rates["18-25"], 1e-9)
}

func TestSummarySnapshot(t *testing.T) {
	c := NewCollector()
	record(c, "allow", 6, DecisionContext{Country: "US"})
	record(c, "block", 3, DecisionContext{Country: "US"})
	record(c, "review", 1, DecisionContext{Country: "US"})
	c.RecordFraudFeedback("block", true)

	s := c.Summary()
	assert.Equal(t, 10, s.TotalDecisions)
	assert.InDelta(t, 0.6, s.AllowRate, 1e-9)
	assert.InDelta(t, 0.3, s.BlockRate, 1e-9)
	assert.InDelta(t, 0.1, s.ReviewRate, 1e-9)
	assert.Equal(t, 1.0, s.FraudDetectionRate)
	require.Contains(t, s.BiasByCountry, "US")
}
