package monitor

import (
	"sync"
	"time"
)

// Model performance baselines and alert margins.
const (
	DefaultBaselineTPR = 0.92
	DefaultBaselineFPR = 0.05

	tprDegradationLimit = 0.05
	fprIncreaseLimit    = 0.02
)

// DriftEvent is an immutable record of a detected drift firing.
type DriftEvent struct {
	Type        string    `json:"type"`
	CurrentTPR  float64   `json:"currentTpr"`
	BaselineTPR float64   `json:"baselineTpr"`
	CurrentFPR  float64   `json:"currentFpr"`
	BaselineFPR float64   `json:"baselineFpr"`
	Timestamp   time.Time `json:"timestamp"`
}

// DriftMonitor watches for model performance degradation against a baseline
// model version. Safe for concurrent use.
type DriftMonitor struct {
	mu              sync.Mutex
	baselineVersion string
	events          []DriftEvent
}

// NewDriftMonitor creates a drift monitor for the given baseline version.
func NewDriftMonitor(baselineVersion string) *DriftMonitor {
	return &DriftMonitor{baselineVersion: baselineVersion}
}

// BaselineVersion returns the model version the baselines refer to.
func (m *DriftMonitor) BaselineVersion() string {
	return m.baselineVersion
}

// CheckModelPerformanceDrift fires when TPR has dropped more than 0.05 or
// FPR has risen more than 0.02 against the baseline. Each firing appends an
// immutable drift event.
func (m *DriftMonitor) CheckModelPerformanceDrift(currentTPR, currentFPR, baselineTPR, baselineFPR float64) bool {
	tprDegradation := baselineTPR - currentTPR
	fprIncrease := currentFPR - baselineFPR

	if tprDegradation <= tprDegradationLimit && fprIncrease <= fprIncreaseLimit {
		return false
	}

	m.mu.Lock()
	m.events = append(m.events, DriftEvent{
		Type:        "PERFORMANCE_DRIFT",
		CurrentTPR:  currentTPR,
		BaselineTPR: baselineTPR,
		CurrentFPR:  currentFPR,
		BaselineFPR: baselineFPR,
		Timestamp:   time.Now().UTC(),
	})
	m.mu.Unlock()
	return true
}

// Events returns a snapshot of recorded drift events, oldest first.
func (m *DriftMonitor) Events() []DriftEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DriftEvent, len(m.events))
	copy(out, m.events)
	return out
}
