package aml

import (
	"fmt"
	"sync"
	"time"
)

// STRStatus tracks the lifecycle of a suspicious transaction report.
type STRStatus string

const (
	STRPending STRStatus = "PENDING"
	STRFiled   STRStatus = "FILED"
)

// STRReport is a Suspicious Transaction Report prepared for regulatory filing.
type STRReport struct {
	ReportID       string    `json:"reportId"`
	TransactionID  string    `json:"transactionId"`
	UserID         string    `json:"userId"`
	RiskScore      float64   `json:"riskScore"`
	Indicators     []string  `json:"indicators"`
	FilingRequired bool      `json:"filingRequired"`
	Status         STRStatus `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
}

// strFilingThreshold is the score above which a report must be filed.
const strFilingThreshold = 0.7

// GenerateSTR prepares a suspicious transaction report. Filing is required
// when the risk score exceeds the filing threshold.
func (e *Engine) GenerateSTR(transactionID, userID string, indicators []string, riskScore float64) STRReport {
	return STRReport{
		TransactionID:  transactionID,
		UserID:         userID,
		RiskScore:      riskScore,
		Indicators:     append([]string(nil), indicators...),
		FilingRequired: riskScore > strFilingThreshold,
		Status:         STRPending,
		CreatedAt:      time.Now().UTC(),
	}
}

// STRQueue is a FIFO queue of reports awaiting filing with authorities.
// Safe for concurrent use.
//
// Report ids are zero-padded sequence numbers derived from the current
// pending count; they are not unique across restarts unless persisted.
type STRQueue struct {
	mu      sync.Mutex
	pending []STRReport
	filed   []STRReport
}

// NewSTRQueue creates an empty filing queue.
func NewSTRQueue() *STRQueue {
	return &STRQueue{}
}

// Enqueue adds a report to the pending queue and returns its assigned id.
func (q *STRQueue) Enqueue(report STRReport) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	report.ReportID = fmt.Sprintf("str_%06d", len(q.pending))
	report.Status = STRPending
	q.pending = append(q.pending, report)
	return report.ReportID
}

// File transitions a pending report to filed. Returns false when the id is
// not in the pending queue; a report can only be filed once.
func (q *STRQueue) File(reportID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, report := range q.pending {
		if report.ReportID != reportID {
			continue
		}
		report.Status = STRFiled
		q.filed = append(q.filed, report)
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		return true
	}
	return false
}

// PendingCount returns the number of reports awaiting filing.
func (q *STRQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Pending returns a snapshot of reports awaiting filing, in queue order.
func (q *STRQueue) Pending() []STRReport {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]STRReport, len(q.pending))
	copy(out, q.pending)
	return out
}

// Filed returns a snapshot of filed reports, oldest first.
func (q *STRQueue) Filed() []STRReport {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]STRReport, len(q.filed))
	copy(out, q.filed)
	return out
}
