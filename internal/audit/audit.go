// Package audit maintains the compliance audit trail for risk decisions.
//
// The orchestrator hands every decision to a Sink with fire-and-forget
// semantics: submission never blocks the scoring path and a failing trail is
// logged, never surfaced to the caller.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentra-io/sentra/internal/pagination"
)

// Record is one entry in the compliance audit trail.
type Record struct {
	ComplianceLogID string          `json:"complianceLogId"`
	TransactionID   string          `json:"transactionId"`
	UserID          string          `json:"userId"`
	Decision        string          `json:"decision"`
	RiskScore       float64         `json:"riskScore"`
	ReasonCodes     []string        `json:"reasonCodes"`
	LatencyMS       float64         `json:"latencyMs"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Timestamp       time.Time       `json:"timestamp"`
}

// Sink accepts audit records without blocking the caller.
type Sink interface {
	Submit(record Record)
}

// Store persists audit records.
//
// ListByUser returns records newest first. A non-nil before cursor restricts
// the page to records strictly older than the cursor position, keyed on
// (timestamp, compliance log ID).
type Store interface {
	Record(ctx context.Context, record *Record) error
	ListByUser(ctx context.Context, userID string, limit int, before *pagination.Cursor) ([]*Record, error)
}

// AsyncSink decouples the scoring path from audit persistence with a bounded
// queue and a single writer goroutine. When the queue is full the record is
// dropped and counted; an audit backlog must never slow a decision.
type AsyncSink struct {
	store  Store
	logger *slog.Logger
	queue  chan Record
	done   chan struct{}
}

// DefaultQueueDepth bounds the async audit queue.
const DefaultQueueDepth = 1024

// NewAsyncSink starts the writer goroutine. Call Close to drain and stop.
func NewAsyncSink(store Store, logger *slog.Logger) *AsyncSink {
	s := &AsyncSink{
		store:  store,
		logger: logger,
		queue:  make(chan Record, DefaultQueueDepth),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for record := range s.queue {
		if err := s.store.Record(context.Background(), &record); err != nil {
			s.logger.Error("audit record write failed",
				"compliance_log_id", record.ComplianceLogID,
				"error", err,
			)
		}
	}
}

// Submit enqueues a record, dropping it when the queue is full.
func (s *AsyncSink) Submit(record Record) {
	select {
	case s.queue <- record:
	default:
		s.logger.Warn("audit queue full, dropping record",
			"compliance_log_id", record.ComplianceLogID,
		)
	}
}

// Close stops accepting records and waits for the queue to drain.
func (s *AsyncSink) Close() {
	close(s.queue)
	<-s.done
}

// LogSink writes audit records to the structured log only. Used when no
// database is configured.
type LogSink struct {
	Logger *slog.Logger
}

// Submit logs the record.
func (s *LogSink) Submit(record Record) {
	s.Logger.Info("compliance log",
		"compliance_log_id", record.ComplianceLogID,
		"transaction_id", record.TransactionID,
		"user_id", record.UserID,
		"decision", record.Decision,
		"risk_score", record.RiskScore,
		"reason_codes", record.ReasonCodes,
		"latency_ms", record.LatencyMS,
		"amount", record.Amount.String(),
		"currency", record.Currency,
	)
}
