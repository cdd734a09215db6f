package webhooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sentra-io/sentra/internal/idgen"
)

var (
	webhookEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentra",
		Subsystem: "webhook",
		Name:      "emit_total",
		Help:      "Total webhook emit attempts by event type.",
	}, []string{"event_type"})

	webhookEmitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentra",
		Subsystem: "webhook",
		Name:      "emit_errors_total",
		Help:      "Total webhook emit failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(webhookEmitTotal, webhookEmitErrors)
}

// Emitter wraps a Dispatcher to emit risk lifecycle events across subsystems.
// All methods are fire-and-forget: errors are logged but never returned, so a
// broken subscriber can never change a decision.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

func (e *Emitter) emit(eventType EventType, data map[string]interface{}) {
	if e == nil || e.d == nil {
		return
	}
	webhookEmitTotal.WithLabelValues(string(eventType)).Inc()
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.d.Dispatch(ctx, event); err != nil {
		webhookEmitErrors.WithLabelValues(string(eventType)).Inc()
		e.logger.Warn("webhook emit failed", "event", eventType, "error", err)
	}
}

// EmitDecisionBlocked emits a decision.blocked event.
func (e *Emitter) EmitDecisionBlocked(transactionID, userID string, riskScore float64, reasonCodes []string) {
	e.emit(EventDecisionBlocked, map[string]interface{}{
		"transactionId": transactionID,
		"userId":        userID,
		"riskScore":     riskScore,
		"reasonCodes":   reasonCodes,
	})
}

// EmitDecisionReview emits a decision.review event.
func (e *Emitter) EmitDecisionReview(transactionID, userID string, riskScore float64, reasonCodes []string) {
	e.emit(EventDecisionReview, map[string]interface{}{
		"transactionId": transactionID,
		"userId":        userID,
		"riskScore":     riskScore,
		"reasonCodes":   reasonCodes,
	})
}

// EmitSTRQueued emits a str.queued event.
func (e *Emitter) EmitSTRQueued(reportID, transactionID, userID string, riskScore float64) {
	e.emit(EventSTRQueued, map[string]interface{}{
		"reportId":      reportID,
		"transactionId": transactionID,
		"userId":        userID,
		"riskScore":     riskScore,
	})
}

// EmitSTRFiled emits a str.filed event.
func (e *Emitter) EmitSTRFiled(reportID string) {
	e.emit(EventSTRFiled, map[string]interface{}{
		"reportId": reportID,
	})
}

// EmitModelDrift emits a model.drift event.
func (e *Emitter) EmitModelDrift(metric string, baseline, current float64) {
	e.emit(EventModelDrift, map[string]interface{}{
		"metric":   metric,
		"baseline": baseline,
		"current":  current,
	})
}
