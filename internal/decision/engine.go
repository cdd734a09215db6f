package decision

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sentra-io/sentra/internal/aml"
	"github.com/sentra-io/sentra/internal/audit"
	"github.com/sentra-io/sentra/internal/features"
	"github.com/sentra-io/sentra/internal/graph"
	"github.com/sentra-io/sentra/internal/idgen"
	"github.com/sentra-io/sentra/internal/metrics"
	"github.com/sentra-io/sentra/internal/monitor"
	"github.com/sentra-io/sentra/internal/traces"
	"github.com/shopspring/decimal"
)

// Config is the orchestrator's decision policy. It is read-only during
// scoring; ReloadConfig swaps the whole struct atomically.
type Config struct {
	HighRiskThreshold float64
	LowRiskThreshold  float64
	MaxLatencyMS      float64

	MLWeight    float64
	RulesWeight float64

	EnableAMLScreening  bool
	EnableGraphAnalysis bool

	ModelVersion string
}

// DefaultConfig returns the stock decision policy.
func DefaultConfig() Config {
	return Config{
		HighRiskThreshold:   0.8,
		LowRiskThreshold:    0.3,
		MaxLatencyMS:        100,
		MLWeight:            0.7,
		RulesWeight:         0.3,
		EnableAMLScreening:  true,
		EnableGraphAnalysis: true,
		ModelVersion:        "v1.0.0",
	}
}

// Validate checks policy invariants. The weight sum bound keeps the ML/rules
// blend inside [0,1] before the AML/graph overrides apply.
func (c Config) Validate() error {
	if c.LowRiskThreshold >= c.HighRiskThreshold {
		return fmt.Errorf("decision: low threshold %v must be below high threshold %v",
			c.LowRiskThreshold, c.HighRiskThreshold)
	}
	if c.MLWeight < 0 || c.RulesWeight < 0 || c.MLWeight+c.RulesWeight > 1 {
		return fmt.Errorf("decision: ensemble weights must be non-negative and sum to at most 1")
	}
	if c.MaxLatencyMS <= 0 {
		return fmt.Errorf("decision: latency budget must be positive")
	}
	return nil
}

// Engine orchestrates real-time transaction scoring. Stateless per call and
// safe for concurrent use; all shared state lives in the injected graph,
// collector, and queue, each with its own locking discipline.
type Engine struct {
	cfg       atomic.Pointer[Config]
	scorer    Scorer
	features  features.Provider
	graph     *graph.Graph
	amlEngine atomic.Pointer[aml.Engine]
	strQueue  *aml.STRQueue
	monitor   *monitor.Collector
	sink      audit.Sink
	logger    *slog.Logger

	// Called after a suspicious transaction report is queued, if set.
	strNotify func(reportID, transactionID, userID string, riskScore float64)
}

// Option configures the engine.
type Option func(*Engine)

// WithScorer sets the model signal producer.
func WithScorer(s Scorer) Option {
	return func(e *Engine) { e.scorer = s }
}

// WithFeatureProvider sets the feature store used by enrichment.
func WithFeatureProvider(p features.Provider) Option {
	return func(e *Engine) { e.features = p }
}

// WithGraph sets the shared entity graph.
func WithGraph(g *graph.Graph) Option {
	return func(e *Engine) { e.graph = g }
}

// WithAMLEngine sets the AML rules engine.
func WithAMLEngine(a *aml.Engine) Option {
	return func(e *Engine) { e.amlEngine.Store(a) }
}

// WithSTRQueue sets the suspicious transaction report filing queue.
func WithSTRQueue(q *aml.STRQueue) Option {
	return func(e *Engine) { e.strQueue = q }
}

// WithSTRNotify sets a callback invoked after a suspicious transaction
// report is queued, used to fan filing events out to subscribers.
func WithSTRNotify(fn func(reportID, transactionID, userID string, riskScore float64)) Option {
	return func(e *Engine) { e.strNotify = fn }
}

// WithCollector sets the metrics collector observing the decision stream.
func WithCollector(c *monitor.Collector) Option {
	return func(e *Engine) { e.monitor = c }
}

// WithAuditSink sets the compliance audit sink.
func WithAuditSink(s audit.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an orchestrator with the given policy. Unconfigured
// dependencies fall back to in-memory defaults.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		scorer:   HeuristicScorer{},
		features: features.NewStaticProvider(nil),
		graph:    graph.New(),
		strQueue: aml.NewSTRQueue(),
		monitor:  monitor.NewCollector(),
		logger:   slog.Default(),
	}
	e.cfg.Store(&cfg)
	e.amlEngine.Store(aml.New(aml.DefaultListSource()))
	for _, opt := range opts {
		opt(e)
	}
	if e.sink == nil {
		e.sink = &audit.LogSink{Logger: e.logger}
	}
	return e, nil
}

// Config returns the current decision policy.
func (e *Engine) Config() Config {
	return *e.cfg.Load()
}

// ReloadConfig validates and atomically swaps the decision policy. In-flight
// scores keep the policy they loaded at entry; no partial reads.
func (e *Engine) ReloadConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg.Store(&cfg)
	e.logger.Info("decision policy reloaded",
		"high_threshold", cfg.HighRiskThreshold,
		"low_threshold", cfg.LowRiskThreshold,
		"model_version", cfg.ModelVersion,
	)
	return nil
}

// ReloadLists swaps in an AML engine rebuilt from refreshed screening lists.
// In-flight scores keep the engine they loaded at stage entry.
func (e *Engine) ReloadLists(a *aml.Engine) {
	e.amlEngine.Store(a)
	e.logger.Info("aml screening lists reloaded")
}

// Graph exposes the shared entity graph for callers that ingest
// relationships out of band.
func (e *Engine) Graph() *graph.Graph { return e.graph }

// Monitor exposes the decision stream collector.
func (e *Engine) Monitor() *monitor.Collector { return e.monitor }

// STRQueue exposes the filing queue for compliance endpoints.
func (e *Engine) STRQueue() *aml.STRQueue { return e.strQueue }

// Score evaluates one transaction.
//
// Malformed input is rejected with an error before any risk assessment.
// Once the pipeline starts, no failure reaches the caller: errors and panics
// are converted at this boundary into a fail-safe review decision carrying
// the ENGINE_ERROR reason code and the latency measured up to the failure.
func (e *Engine) Score(ctx context.Context, txn Transaction, reqCtx Context, profiles Profiles) (*RiskDecision, error) {
	if err := txn.Validate(); err != nil {
		return nil, err
	}

	cfg := *e.cfg.Load()
	start := time.Now()
	complianceLogID := idgen.WithPrefix("clog_")

	ctx, span := traces.StartSpan(ctx, "decision.Score",
		traces.TransactionID(txn.ID),
		traces.UserID(txn.UserID),
	)
	defer span.End()

	d, err := e.runPipeline(ctx, cfg, txn, reqCtx, profiles)
	latencyMS := float64(time.Since(start).Microseconds()) / 1000.0

	if err != nil {
		metrics.EngineErrorsTotal.Inc()
		e.logger.Error("pipeline error, failing safe to review",
			"transaction_id", txn.ID,
			"error", err,
		)
		d = &RiskDecision{
			Decision:     Review,
			RiskScore:    0.5,
			RiskLevel:    LevelMedium,
			Signals:      []Signal{},
			ReasonCodes:  []string{"ENGINE_ERROR"},
			NextActions:  []string{"MANUAL_REVIEW"},
			ModelVersion: cfg.ModelVersion,
			Explanation:  fmt.Sprintf("Decision engine error: %v", err),
		}
	}

	d.ComplianceLogID = complianceLogID
	d.LatencyMS = latencyMS
	d.Timestamp = time.Now().UTC()

	if latencyMS > cfg.MaxLatencyMS {
		metrics.LatencySLABreachesTotal.Inc()
		e.logger.Warn("decision latency exceeds SLA",
			"transaction_id", txn.ID,
			"latency_ms", latencyMS,
			"budget_ms", cfg.MaxLatencyMS,
		)
	}

	span.SetAttributes(traces.Decision(string(d.Decision)), traces.RiskScore(d.RiskScore))

	// Observability and the audit trail never affect the returned decision.
	metrics.DecisionsTotal.WithLabelValues(string(d.Decision)).Inc()
	metrics.DecisionLatency.Observe(latencyMS / 1000.0)
	e.monitor.RecordDecision(string(d.Decision), d.RiskScore, latencyMS, cfg.ModelVersion, monitor.DecisionContext{
		Country:            reqCtx.UserCountry,
		DemographicSegment: reqCtx.DemographicSegment,
	})
	e.logCompliance(d, txn)

	return d, nil
}

// runPipeline executes the scoring stages, converting panics from any signal
// producer into an error for the fail-safe boundary above.
func (e *Engine) runPipeline(ctx context.Context, cfg Config, txn Transaction, reqCtx Context, profiles Profiles) (d *RiskDecision, err error) {
	defer func() {
		if r := recover(); r != nil {
			d = nil
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()

	// ENRICH
	f, err := e.enrich(ctx, txn, reqCtx, profiles)
	if err != nil {
		return nil, err
	}
	e.monitor.RecordFeature("transaction_amount", txn.Amount.InexactFloat64())
	e.monitor.RecordFeature(features.UserTxnCount1H, f.Feature(features.UserTxnCount1H))

	// MODEL + RULES
	mlScore, mlSignals, err := e.scorer.Score(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("model scorer: %w", err)
	}
	rulesScore, rulesSignals := evaluateRules(f)

	// COMBINE: weighted blend of the model and rules views.
	combined := cfg.MLWeight*mlScore + cfg.RulesWeight*rulesScore
	signals := append(mlSignals, rulesSignals...)

	// AML: override semantics, never blended.
	if cfg.EnableAMLScreening {
		amlScore, amlSignals, amlCodes := e.screenAML(txn, reqCtx, f)
		if amlScore > combined {
			combined = amlScore
		}
		signals = append(signals, amlSignals...)
		e.maybeFileSTR(txn, amlCodes, amlScore)
	}

	// GRAPH: ring and mule screening, same override semantics.
	if cfg.EnableGraphAnalysis {
		graphScore, graphSignals := e.screenGraph(txn, reqCtx)
		if graphScore > combined {
			combined = graphScore
		}
		signals = append(signals, graphSignals...)
	}

	combined = clamp01(combined)
	sortSignals(signals)

	// POLICY
	decision, level, reasonCodes, nextActions := applyPolicy(cfg, combined, signals, reqCtx)

	// The user node carries the latest assessed risk for offline jobs.
	e.graph.SetEntityRisk(txn.UserID, combined)

	return &RiskDecision{
		Decision:     decision,
		RiskScore:    combined,
		RiskLevel:    level,
		Signals:      signals,
		ReasonCodes:  reasonCodes,
		NextActions:  nextActions,
		ModelVersion: cfg.ModelVersion,
		Explanation:  explanation(signals, reasonCodes),
	}, nil
}

// screenAML runs the deterministic compliance rules. The stage score is the
// max of the sanctions, PEP, and additive transaction checks: regulatory
// hits override, they do not accumulate with the model view.
func (e *Engine) screenAML(txn Transaction, reqCtx Context, f *Features) (float64, []Signal, []string) {
	var (
		signals []Signal
		codes   []string
	)
	rules := e.amlEngine.Load()

	sanctionsScore, sanctionsCodes, _ := rules.ScreenSanctions(f.User.Name, reqCtx.UserCountry)
	for _, code := range sanctionsCodes {
		signals = append(signals, amlSignal("aml_sanctions", code, sanctionsScore, f.User.Name))
	}
	codes = append(codes, sanctionsCodes...)
	if sanctionsScore > 0 {
		metrics.AMLHitsTotal.WithLabelValues("sanctions").Inc()
	}

	pepScore, pepCodes, _ := rules.ScreenPEP(f.User.Name)
	for _, code := range pepCodes {
		signals = append(signals, amlSignal("aml_pep", code, pepScore, f.User.Name))
	}
	codes = append(codes, pepCodes...)
	if pepScore > 0 {
		metrics.AMLHitsTotal.WithLabelValues("pep").Inc()
	}

	thresholdScore, thresholdCodes := rules.CheckTransactionThreshold(txn.Amount, txn.Currency)
	for _, code := range thresholdCodes {
		signals = append(signals, amlSignal("aml_threshold", code, thresholdScore, txn.Amount.String()))
	}
	codes = append(codes, thresholdCodes...)

	profile := aml.EntityProfile{
		AvgTransactionAmount: f.User.AvgTransactionAmount,
		BusinessType:         f.User.BusinessType,
	}
	if profile.AvgTransactionAmount.IsZero() {
		profile.AvgTransactionAmount = decimal.NewFromFloat(f.Feature(features.AvgTransactionAmount))
	}
	txnRiskScore, txnRiskCodes := rules.CheckTransactionRisk(txn.Amount, txn.DestinationCountry, profile)
	for _, code := range txnRiskCodes {
		signals = append(signals, amlSignal("aml_txn_risk", code, txnRiskScore, txn.Amount.String()))
	}
	codes = append(codes, txnRiskCodes...)

	velocityScore := 0.0
	if f.User.TxnCount24H > 0 {
		var velocityCodes []string
		velocityScore, velocityCodes = rules.CheckVelocityAbuse(txn.UserID, f.User.TxnCount24H, f.User.Amount24H)
		for _, code := range velocityCodes {
			signals = append(signals, amlSignal("aml_velocity", code, velocityScore, f.User.Amount24H.String()))
		}
		codes = append(codes, velocityCodes...)
		if velocityScore > 0 {
			metrics.AMLHitsTotal.WithLabelValues("velocity").Inc()
		}
	}

	additive := thresholdScore + txnRiskScore + velocityScore
	if additive > 1.0 {
		additive = 1.0
	}
	score := sanctionsScore
	if pepScore > score {
		score = pepScore
	}
	if additive > score {
		score = additive
	}

	if score == 0 {
		signals = append(signals, Signal{
			ID:       "aml_sanctions_clear",
			Name:     "No Sanctions Hit",
			Weight:   0,
			Value:    TextValue("CLEAR"),
			Category: CategoryAML,
		})
	}

	return score, signals, codes
}

// screenGraph ingests the transaction's relationships into the entity graph
// and runs the mule and ring detectors on the updated view.
func (e *Engine) screenGraph(txn Transaction, reqCtx Context) (float64, []Signal) {
	_ = e.graph.AddEntity(txn.UserID, graph.EntityUser, nil)
	if reqCtx.DeviceID != "" {
		_ = e.graph.AddEntity(reqCtx.DeviceID, graph.EntityDevice, nil)
		e.graph.AddRelationship(txn.UserID, reqCtx.DeviceID, graph.RelationOwns, 1.0, 1)
	}
	if reqCtx.IPAddress != "" {
		_ = e.graph.AddEntity(reqCtx.IPAddress, graph.EntityIPAddress, nil)
		e.graph.AddRelationship(txn.UserID, reqCtx.IPAddress, graph.RelationUses, 1.0, 1)
	}
	if txn.MerchantID != "" {
		_ = e.graph.AddEntity(txn.MerchantID, graph.EntityMerchant, nil)
		e.graph.AddRelationship(txn.UserID, txn.MerchantID, graph.RelationConnectedTo, 1.0, 1)
	}
	nodes, edges := e.graph.Size()
	metrics.GraphNodes.Set(float64(nodes))
	metrics.GraphEdges.Set(float64(edges))

	mule := e.graph.DetectMuleNetwork(txn.UserID, graph.DefaultMuleDeviceThreshold)
	ring := e.graph.DetectFraudRing(txn.UserID, graph.DefaultRingDepth)

	var signals []Signal
	for _, pattern := range mule.Patterns {
		signals = append(signals, Signal{
			ID:       "graph_mule",
			Name:     pattern,
			Weight:   mule.RiskScore,
			Value:    NumberValue(mule.RiskScore),
			Category: CategoryGraph,
		})
	}
	for _, pattern := range ring.Patterns {
		signals = append(signals, Signal{
			ID:       "graph_ring",
			Name:     pattern,
			Weight:   ring.RiskScore,
			Value:    NumberValue(ring.RiskScore),
			Category: CategoryGraph,
		})
	}

	score := mule.RiskScore
	if ring.RiskScore > score {
		score = ring.RiskScore
	}
	if score == 0 {
		signals = append(signals, Signal{
			ID:       "graph_no_mule_pattern",
			Name:     "No Mule Network Detected",
			Weight:   0,
			Value:    TextValue("isolated"),
			Category: CategoryGraph,
		})
	}
	return score, signals
}

// maybeFileSTR queues a suspicious transaction report when the AML stage
// score crosses the filing threshold.
func (e *Engine) maybeFileSTR(txn Transaction, indicators []string, amlScore float64) {
	if e.strQueue == nil {
		return
	}
	report := e.amlEngine.Load().GenerateSTR(txn.ID, txn.UserID, indicators, amlScore)
	if !report.FilingRequired {
		return
	}
	reportID := e.strQueue.Enqueue(report)
	e.logger.Info("suspicious transaction report queued",
		"report_id", reportID,
		"transaction_id", txn.ID,
		"risk_score", amlScore,
	)
	if e.strNotify != nil {
		e.strNotify(reportID, txn.ID, txn.UserID, amlScore)
	}
}

// logCompliance hands the decision to the audit sink; fire-and-forget.
func (e *Engine) logCompliance(d *RiskDecision, txn Transaction) {
	e.sink.Submit(audit.Record{
		ComplianceLogID: d.ComplianceLogID,
		TransactionID:   txn.ID,
		UserID:          txn.UserID,
		Decision:        string(d.Decision),
		RiskScore:       d.RiskScore,
		ReasonCodes:     d.ReasonCodes,
		LatencyMS:       d.LatencyMS,
		Amount:          txn.Amount,
		Currency:        txn.Currency,
		Timestamp:       d.Timestamp,
	})
}

func amlSignal(id, code string, weight float64, observed string) Signal {
	return Signal{
		ID:       id,
		Name:     code,
		Weight:   weight,
		Value:    TextValue(observed),
		Category: CategoryAML,
	}
}
