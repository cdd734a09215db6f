// Package monitor observes the decision stream for SLA, drift, and bias.
//
// The collector is read-only with respect to the scoring path: it never
// influences an individual decision. Operators read it through the summary
// endpoint and the Prometheus bridge.
package monitor

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Window bounds. Samples beyond these are rotated out oldest-first.
const (
	maxLatencySamples = 10_000
	maxFeatureSamples = 1_000
	maxMetricRecords  = 10_000
)

// MetricType names the tracked KPI series.
type MetricType string

const (
	MetricAuthorizationRate  MetricType = "authorization_rate"
	MetricFraudDetectionRate MetricType = "fraud_detection_rate"
	MetricFalsePositiveRate  MetricType = "false_positive_rate"
	MetricLatencyP50         MetricType = "latency_p50"
	MetricLatencyP95         MetricType = "latency_p95"
	MetricLatencyP99         MetricType = "latency_p99"
	MetricFeatureDrift       MetricType = "feature_drift"
	MetricBiasScore          MetricType = "bias_score"
)

// Metric is a single appended data point in the bounded time series.
type Metric struct {
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Context   map[string]string `json:"context,omitempty"`
}

// DecisionContext carries the bias dimensions attached to a decision.
type DecisionContext struct {
	Country            string
	DemographicSegment string
}

// LatencyStats are the current latency percentiles in milliseconds.
type LatencyStats struct {
	P50MS float64 `json:"p50_ms"`
	P95MS float64 `json:"p95_ms"`
	P99MS float64 `json:"p99_ms"`
}

// Summary is a consistent snapshot of the collector's KPIs.
type Summary struct {
	TotalDecisions     int                `json:"total_decisions"`
	AllowRate          float64            `json:"allow_rate"`
	BlockRate          float64            `json:"block_rate"`
	ReviewRate         float64            `json:"review_rate"`
	FraudDetectionRate float64            `json:"fraud_detection_rate"`
	FalsePositiveRate  float64            `json:"false_positive_rate"`
	Latency            LatencyStats       `json:"latency"`
	BiasByCountry      map[string]float64 `json:"bias_by_country"`
}

type segmentCounts struct {
	allow int
	block int
}

// Collector aggregates decision outcomes, latencies, feature samples, and
// ground-truth feedback. All methods are safe for concurrent use; queries
// compute over a snapshot taken under the lock, never a moving target.
type Collector struct {
	mu sync.Mutex

	totalDecisions int
	allowed        int
	blocked        int
	review         int

	// Confusion counts, filled by offline ground-truth feedback.
	truePositives  int
	falsePositives int
	falseNegatives int
	trueNegatives  int

	latencies []float64
	features  map[string][]float64
	metrics   []Metric

	byCountry     map[string]*segmentCounts
	byDemographic map[string]*segmentCounts
}

// NewCollector creates an empty metrics collector.
func NewCollector() *Collector {
	return &Collector{
		features:      make(map[string][]float64),
		byCountry:     make(map[string]*segmentCounts),
		byDemographic: make(map[string]*segmentCounts),
	}
}

// RecordDecision records one orchestrator outcome. decision is the lowercase
// decision name ("allow", "block", "review").
func (c *Collector) RecordDecision(decision string, riskScore, latencyMS float64, modelVersion string, dc DecisionContext) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalDecisions++
	switch decision {
	case "allow":
		c.allowed++
	case "block":
		c.blocked++
	case "review":
		c.review++
	}

	c.latencies = appendBounded(c.latencies, latencyMS, maxLatencySamples)

	allowed := 0.0
	if decision == "allow" {
		allowed = 1.0
	}
	mctx := map[string]string{"model_version": modelVersion}
	if dc.Country != "" {
		mctx["country"] = dc.Country
	}
	c.metrics = append(c.metrics, Metric{
		Type:      MetricAuthorizationRate,
		Value:     allowed,
		Timestamp: time.Now().UTC(),
		Context:   mctx,
	})
	if len(c.metrics) > maxMetricRecords {
		c.metrics = c.metrics[len(c.metrics)-maxMetricRecords:]
	}

	if dc.Country != "" {
		bump(c.byCountry, dc.Country, decision)
	}
	if dc.DemographicSegment != "" {
		bump(c.byDemographic, dc.DemographicSegment, decision)
	}
}

// RecordFeature appends a feature observation for drift detection.
func (c *Collector) RecordFeature(name string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.features[name] = appendBounded(c.features[name], value, maxFeatureSamples)
}

// RecordFraudFeedback records ground truth for a past decision. Review
// decisions carry no confusion signal and are ignored.
func (c *Collector) RecordFraudFeedback(decision string, actualFraud bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case decision == "block" && actualFraud:
		c.truePositives++
	case decision == "block" && !actualFraud:
		c.falsePositives++
	case decision == "allow" && actualFraud:
		c.falseNegatives++
	case decision == "allow" && !actualFraud:
		c.trueNegatives++
	}
}

// AuthorizationRate returns allow / total, or 0 with no decisions.
func (c *Collector) AuthorizationRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authorizationRateLocked()
}

func (c *Collector) authorizationRateLocked() float64 {
	if c.totalDecisions == 0 {
		return 0
	}
	return float64(c.allowed) / float64(c.totalDecisions)
}

// FraudDetectionRate returns the true positive rate (sensitivity).
func (c *Collector) FraudDetectionRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fraudDetectionRateLocked()
}

func (c *Collector) fraudDetectionRateLocked() float64 {
	positives := c.truePositives + c.falseNegatives
	if positives == 0 {
		return 0
	}
	return float64(c.truePositives) / float64(positives)
}

// FalsePositiveRate returns FP / (FP + TN).
func (c *Collector) FalsePositiveRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.falsePositiveRateLocked()
}

func (c *Collector) falsePositiveRateLocked() float64 {
	negatives := c.falsePositives + c.trueNegatives
	if negatives == 0 {
		return 0
	}
	return float64(c.falsePositives) / float64(negatives)
}

// LatencyPercentiles returns p50/p95/p99 over the current sample window
// using the nearest-rank method. Empty window returns zeros.
func (c *Collector) LatencyPercentiles() LatencyStats {
	c.mu.Lock()
	samples := make([]float64, len(c.latencies))
	copy(samples, c.latencies)
	c.mu.Unlock()

	sort.Float64s(samples)
	return LatencyStats{
		P50MS: nearestRank(samples, 0.50),
		P95MS: nearestRank(samples, 0.95),
		P99MS: nearestRank(samples, 0.99),
	}
}

// DetectFeatureDrift flags drift when the mean of the last 10 samples sits
// more than threshold standard deviations from the baseline mean. The stdev
// is computed over the same 10-sample window; a zero stdev is treated as 1.0.
// Fewer than 10 samples never flags.
func (c *Collector) DetectFeatureDrift(name string, baselineMean, threshold float64) bool {
	c.mu.Lock()
	values := c.features[name]
	if len(values) < 10 {
		c.mu.Unlock()
		return false
	}
	window := make([]float64, 10)
	copy(window, values[len(values)-10:])
	c.mu.Unlock()

	mean := 0.0
	for _, v := range window {
		mean += v
	}
	mean /= float64(len(window))

	variance := 0.0
	for _, v := range window {
		variance += (v - mean) * (v - mean)
	}
	stdev := math.Sqrt(variance / float64(len(window)-1))
	if stdev == 0 {
		stdev = 1.0
	}

	z := math.Abs((mean - baselineMean) / stdev)
	return z > threshold
}

// DetectBias returns the approval rate (allow / (allow+block)) per segment of
// a bias dimension ("country" or "demographic"). Segments with no allow or
// block decisions are omitted; unknown dimensions return an empty map.
func (c *Collector) DetectBias(dimension string) map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.detectBiasLocked(dimension)
}

func (c *Collector) detectBiasLocked(dimension string) map[string]float64 {
	var buckets map[string]*segmentCounts
	switch dimension {
	case "country":
		buckets = c.byCountry
	case "demographic":
		buckets = c.byDemographic
	default:
		return map[string]float64{}
	}

	rates := make(map[string]float64, len(buckets))
	for segment, counts := range buckets {
		total := counts.allow + counts.block
		if total > 0 {
			rates[segment] = float64(counts.allow) / float64(total)
		}
	}
	return rates
}

// Summary returns a consistent snapshot of all KPIs.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	total := c.totalDecisions
	s := Summary{
		TotalDecisions:     total,
		AllowRate:          c.authorizationRateLocked(),
		FraudDetectionRate: c.fraudDetectionRateLocked(),
		FalsePositiveRate:  c.falsePositiveRateLocked(),
		BiasByCountry:      c.detectBiasLocked("country"),
	}
	if total > 0 {
		s.BlockRate = float64(c.blocked) / float64(total)
		s.ReviewRate = float64(c.review) / float64(total)
	}
	c.mu.Unlock()

	s.Latency = c.LatencyPercentiles()
	return s
}

// nearestRank returns the sorted sample at index floor(n*q), clamped to the
// last element. Input must be sorted; empty input returns 0.
func nearestRank(sorted []float64, quantile float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * quantile)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func appendBounded(samples []float64, v float64, limit int) []float64 {
	samples = append(samples, v)
	if len(samples) > limit {
		samples = samples[len(samples)-limit:]
	}
	return samples
}

func bump(buckets map[string]*segmentCounts, segment, decision string) {
	counts, ok := buckets[segment]
	if !ok {
		counts = &segmentCounts{}
		buckets[segment] = counts
	}
	switch decision {
	case "allow":
		counts.allow++
	case "block":
		counts.block++
	}
}
