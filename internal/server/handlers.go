package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/sentra-io/sentra/internal/audit"
	"github.com/sentra-io/sentra/internal/decision"
	"github.com/sentra-io/sentra/internal/graph"
	"github.com/sentra-io/sentra/internal/logging"
	"github.com/sentra-io/sentra/internal/metrics"
	"github.com/sentra-io/sentra/internal/monitor"
	"github.com/sentra-io/sentra/internal/pagination"
	"github.com/sentra-io/sentra/internal/realtime"
	"github.com/sentra-io/sentra/internal/validation"
)

// -----------------------------------------------------------------------------
// Scoring
// -----------------------------------------------------------------------------

// scoreRequest is the POST /v1/decisions payload. Amounts are decimal strings
// so callers never push float rounding into money fields.
type scoreRequest struct {
	Transaction struct {
		ID                 string `json:"id" binding:"required"`
		Amount             string `json:"amount" binding:"required"`
		Currency           string `json:"currency" binding:"required"`
		MerchantID         string `json:"merchantId"`
		UserID             string `json:"userId" binding:"required"`
		DestinationCountry string `json:"destinationCountry"`
	} `json:"transaction" binding:"required"`

	Context struct {
		DeviceID           string    `json:"deviceId"`
		IPAddress          string    `json:"ipAddress"`
		UserCountry        string    `json:"userCountry"`
		Timestamp          time.Time `json:"timestamp"`
		DemographicSegment string    `json:"demographicSegment"`
	} `json:"context"`

	User     *userProfileRequest     `json:"userProfile"`
	Device   *decision.DeviceProfile `json:"deviceProfile"`
	Merchant *merchantProfileRequest `json:"merchantProfile"`
}

type userProfileRequest struct {
	Name                 string `json:"name"`
	AccountAgeDays       int    `json:"accountAgeDays"`
	KYCVerified          bool   `json:"kycVerified"`
	AvgTransactionAmount string `json:"avgTransactionAmount"`
	BusinessType         string `json:"businessType"`
	TxnCount24H          int    `json:"txnCount24h"`
	Amount24H            string `json:"amount24h"`
}

type merchantProfileRequest struct {
	Name           string  `json:"name"`
	MCC            string  `json:"mcc"`
	ChargebackRate float64 `json:"chargebackRate"`
	RiskTier       string  `json:"riskTier"`
}

// scoreDecision handles POST /v1/decisions
func (s *Server) scoreDecision(c *gin.Context) {
	ctx := c.Request.Context()

	var req scoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	if !validation.IsValidCurrency(req.Transaction.Currency) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_currency",
			"message": "currency must be an ISO 4217 code",
		})
		return
	}
	if errs := validation.Validate(
		validation.ValidCountry("destinationCountry", req.Transaction.DestinationCountry),
		validation.ValidCountry("userCountry", req.Context.UserCountry),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_country",
			"message": errs.Error(),
		})
		return
	}

	amount, err := decimal.NewFromString(req.Transaction.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "amount must be a decimal string",
		})
		return
	}

	txn := decision.Transaction{
		ID:                 req.Transaction.ID,
		Amount:             amount,
		Currency:           req.Transaction.Currency,
		MerchantID:         req.Transaction.MerchantID,
		UserID:             req.Transaction.UserID,
		DestinationCountry: req.Transaction.DestinationCountry,
	}

	reqCtx := decision.Context{
		DeviceID:           req.Context.DeviceID,
		IPAddress:          req.Context.IPAddress,
		UserCountry:        req.Context.UserCountry,
		Timestamp:          req.Context.Timestamp,
		DemographicSegment: req.Context.DemographicSegment,
	}
	if reqCtx.Timestamp.IsZero() {
		reqCtx.Timestamp = time.Now().UTC()
	}

	profiles, err := buildProfiles(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_profile",
			"message": err.Error(),
		})
		return
	}

	result, err := s.engine.Score(ctx, txn, reqCtx, profiles)
	if err != nil {
		// Score only errors on malformed input; engine failures come back
		// as fail-safe review decisions.
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_transaction",
			"message": err.Error(),
		})
		return
	}

	s.realtimeHub.BroadcastDecision(map[string]interface{}{
		"transactionId":   txn.ID,
		"userId":          txn.UserID,
		"decision":        string(result.Decision),
		"riskScore":       result.RiskScore,
		"riskLevel":       string(result.RiskLevel),
		"reasonCodes":     result.ReasonCodes,
		"complianceLogId": result.ComplianceLogID,
		"latencyMs":       result.LatencyMS,
	})

	switch result.Decision {
	case decision.Block:
		s.emitter.EmitDecisionBlocked(txn.ID, txn.UserID, result.RiskScore, result.ReasonCodes)
	case decision.Review:
		s.emitter.EmitDecisionReview(txn.ID, txn.UserID, result.RiskScore, result.ReasonCodes)
	}

	c.JSON(http.StatusOK, result)
}

func buildProfiles(req *scoreRequest) (decision.Profiles, error) {
	var p decision.Profiles

	if req.User != nil {
		u := &decision.UserProfile{
			Name:           req.User.Name,
			AccountAgeDays: req.User.AccountAgeDays,
			KYCVerified:    req.User.KYCVerified,
			BusinessType:   req.User.BusinessType,
			TxnCount24H:    req.User.TxnCount24H,
		}
		if req.User.AvgTransactionAmount != "" {
			avg, err := decimal.NewFromString(req.User.AvgTransactionAmount)
			if err != nil {
				return p, err
			}
			u.AvgTransactionAmount = avg
		}
		if req.User.Amount24H != "" {
			amt, err := decimal.NewFromString(req.User.Amount24H)
			if err != nil {
				return p, err
			}
			u.Amount24H = amt
		}
		p.User = u
	}

	p.Device = req.Device

	if req.Merchant != nil {
		p.Merchant = &decision.MerchantProfile{
			Name:           req.Merchant.Name,
			MCC:            req.Merchant.MCC,
			ChargebackRate: req.Merchant.ChargebackRate,
			RiskTier:       req.Merchant.RiskTier,
		}
	}

	return p, nil
}

// listUserDecisions handles GET /v1/users/:userId/decisions with cursor
// pagination. The cursor is opaque; clients pass back nextCursor verbatim.
func (s *Server) listUserDecisions(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.Param("userId")

	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "cursor is malformed",
		})
		return
	}

	// Fetch one extra record to learn whether another page exists.
	records, err := s.auditStore.ListByUser(ctx, userID, limit+1, cursor)
	if err != nil {
		logging.L(ctx).Error("failed to list audit records", "error", err, "user_id", userID)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list decisions",
		})
		return
	}

	page, next, more := pagination.ComputePage(records, limit, func(r *audit.Record) (time.Time, string) {
		return r.Timestamp, r.ComplianceLogID
	})

	resp := gin.H{
		"userId":    userID,
		"decisions": page,
		"count":     len(page),
		"hasMore":   more,
	}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

// -----------------------------------------------------------------------------
// Feedback
// -----------------------------------------------------------------------------

// recordFeedback handles POST /v1/feedback. Investigators post confirmed
// fraud labels here so fraud detection and false positive rates stay honest.
func (s *Server) recordFeedback(c *gin.Context) {
	var req struct {
		Decision    string `json:"decision" binding:"required"`
		ActualFraud *bool  `json:"actualFraud" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "decision and actualFraud are required",
		})
		return
	}

	switch decision.Decision(req.Decision) {
	case decision.Allow, decision.Block, decision.Review:
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_decision",
			"message": "decision must be allow, block, or review",
		})
		return
	}

	s.engine.Monitor().RecordFraudFeedback(req.Decision, *req.ActualFraud)

	c.JSON(http.StatusAccepted, gin.H{"status": "recorded"})
}

// checkModelPerformance handles POST /v1/model/performance
func (s *Server) checkModelPerformance(c *gin.Context) {
	var req struct {
		TruePositiveRate  *float64 `json:"truePositiveRate" binding:"required"`
		FalsePositiveRate *float64 `json:"falsePositiveRate" binding:"required"`
		BaselineTPR       float64  `json:"baselineTpr"`
		BaselineFPR       float64  `json:"baselineFpr"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "truePositiveRate and falsePositiveRate are required",
		})
		return
	}

	baselineTPR := req.BaselineTPR
	if baselineTPR == 0 {
		baselineTPR = monitor.DefaultBaselineTPR
	}
	baselineFPR := req.BaselineFPR
	if baselineFPR == 0 {
		baselineFPR = monitor.DefaultBaselineFPR
	}

	drifted := s.drift.CheckModelPerformanceDrift(
		*req.TruePositiveRate, *req.FalsePositiveRate, baselineTPR, baselineFPR)
	if drifted {
		metrics.DriftEventsTotal.Inc()
		s.broadcastDrift()
		s.emitter.EmitModelDrift("true_positive_rate", baselineTPR, *req.TruePositiveRate)
	}

	c.JSON(http.StatusOK, gin.H{
		"drifted":     drifted,
		"baselineTpr": baselineTPR,
		"baselineFpr": baselineFPR,
	})
}

func (s *Server) broadcastDrift() {
	events := s.drift.Events()
	if len(events) == 0 {
		return
	}
	s.realtimeHub.Broadcast(&realtime.Event{
		Type:      realtime.EventDrift,
		Timestamp: time.Now(),
		Data:      events[len(events)-1],
	})
}

// -----------------------------------------------------------------------------
// Monitoring
// -----------------------------------------------------------------------------

// monitorSummary handles GET /v1/monitor/summary
func (s *Server) monitorSummary(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Monitor().Summary())
}

// monitorBias handles GET /v1/monitor/bias?dimension=country|demographic
func (s *Server) monitorBias(c *gin.Context) {
	dimension := c.DefaultQuery("dimension", "country")
	if dimension != "country" && dimension != "demographic" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_dimension",
			"message": "dimension must be country or demographic",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"dimension":     dimension,
		"approvalRates": s.engine.Monitor().DetectBias(dimension),
	})
}

// driftEvents handles GET /v1/monitor/drift
func (s *Server) driftEvents(c *gin.Context) {
	events := s.drift.Events()
	c.JSON(http.StatusOK, gin.H{
		"baselineVersion": s.drift.BaselineVersion(),
		"events":          events,
		"count":           len(events),
	})
}

// checkFeatureDrift handles GET /v1/monitor/drift/features/:feature
func (s *Server) checkFeatureDrift(c *gin.Context) {
	feature := c.Param("feature")

	baseline, err := strconv.ParseFloat(c.Query("baselineMean"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_baseline",
			"message": "baselineMean query parameter must be a number",
		})
		return
	}

	threshold := 3.0
	if v := c.Query("threshold"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil || t <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_threshold",
				"message": "threshold must be a positive number",
			})
			return
		}
		threshold = t
	}

	drifted := s.engine.Monitor().DetectFeatureDrift(feature, baseline, threshold)
	if drifted {
		metrics.DriftEventsTotal.Inc()
	}

	c.JSON(http.StatusOK, gin.H{
		"feature":      feature,
		"baselineMean": baseline,
		"threshold":    threshold,
		"drifted":      drifted,
	})
}

// -----------------------------------------------------------------------------
// Entity graph
// -----------------------------------------------------------------------------

// addEntity handles POST /v1/graph/entities
func (s *Server) addEntity(c *gin.Context) {
	var req struct {
		ID         string            `json:"id" binding:"required"`
		Type       string            `json:"type" binding:"required"`
		Attributes map[string]string `json:"attributes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "id and type are required",
		})
		return
	}

	if err := s.engine.Graph().AddEntity(req.ID, graph.EntityType(req.Type), req.Attributes); err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "type_conflict",
			"message": err.Error(),
		})
		return
	}

	nodes, edges := s.engine.Graph().Size()
	metrics.GraphNodes.Set(float64(nodes))
	metrics.GraphEdges.Set(float64(edges))

	c.JSON(http.StatusCreated, gin.H{"id": req.ID, "type": req.Type})
}

// addRelationship handles POST /v1/graph/relationships
func (s *Server) addRelationship(c *gin.Context) {
	var req struct {
		SourceID string  `json:"sourceId" binding:"required"`
		TargetID string  `json:"targetId" binding:"required"`
		Relation string  `json:"relation" binding:"required"`
		Weight   float64 `json:"weight"`
		TxnCount int     `json:"transactionCount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "sourceId, targetId, and relation are required",
		})
		return
	}

	weight := req.Weight
	if weight == 0 {
		weight = 1.0
	}

	s.engine.Graph().AddRelationship(req.SourceID, req.TargetID,
		graph.RelationType(req.Relation), weight, req.TxnCount)

	nodes, edges := s.engine.Graph().Size()
	metrics.GraphNodes.Set(float64(nodes))
	metrics.GraphEdges.Set(float64(edges))

	c.JSON(http.StatusCreated, gin.H{
		"sourceId": req.SourceID,
		"targetId": req.TargetID,
		"relation": req.Relation,
	})
}

// getEntity handles GET /v1/graph/entities/:entityId
func (s *Server) getEntity(c *gin.Context) {
	id := c.Param("entityId")

	node, ok := s.engine.Graph().Entity(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Unknown entity: " + id,
		})
		return
	}

	c.JSON(http.StatusOK, node)
}

// entityRiskFactors handles GET /v1/graph/entities/:entityId/risk-factors
func (s *Server) entityRiskFactors(c *gin.Context) {
	id := c.Param("entityId")

	c.JSON(http.StatusOK, gin.H{
		"entityId":    id,
		"riskFactors": s.engine.Graph().RiskFactors(id),
	})
}

// muleCheck handles GET /v1/graph/users/:userId/mule-check
func (s *Server) muleCheck(c *gin.Context) {
	userID := c.Param("userId")

	threshold := graph.DefaultMuleDeviceThreshold
	if v := c.Query("deviceThreshold"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			threshold = n
		}
	}

	c.JSON(http.StatusOK, s.engine.Graph().DetectMuleNetwork(userID, threshold))
}

// ringCheck handles GET /v1/graph/users/:userId/ring-check
func (s *Server) ringCheck(c *gin.Context) {
	userID := c.Param("userId")

	depth := graph.DefaultRingDepth
	if v := c.Query("depth"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 6 {
			depth = n
		}
	}

	c.JSON(http.StatusOK, s.engine.Graph().DetectFraudRing(userID, depth))
}

// graphStats handles GET /v1/graph/stats
func (s *Server) graphStats(c *gin.Context) {
	nodes, edges := s.engine.Graph().Size()
	c.JSON(http.StatusOK, gin.H{
		"nodes": nodes,
		"edges": edges,
	})
}

// -----------------------------------------------------------------------------
// STR workflow
// -----------------------------------------------------------------------------

// pendingSTRs handles GET /v1/str/pending
func (s *Server) pendingSTRs(c *gin.Context) {
	reports := s.engine.STRQueue().Pending()
	c.JSON(http.StatusOK, gin.H{
		"reports": reports,
		"count":   len(reports),
	})
}

// filedSTRs handles GET /v1/str/filed
func (s *Server) filedSTRs(c *gin.Context) {
	reports := s.engine.STRQueue().Filed()
	c.JSON(http.StatusOK, gin.H{
		"reports": reports,
		"count":   len(reports),
	})
}

// fileSTR handles POST /v1/str/:reportId/file
func (s *Server) fileSTR(c *gin.Context) {
	reportID := c.Param("reportId")

	if !s.engine.STRQueue().File(reportID) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No pending report with id " + reportID,
		})
		return
	}

	metrics.STRFiledTotal.Inc()
	s.realtimeHub.Broadcast(&realtime.Event{
		Type:      realtime.EventSTRFiled,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"reportId": reportID},
	})
	s.emitter.EmitSTRFiled(reportID)

	c.JSON(http.StatusOK, gin.H{"reportId": reportID, "status": "FILED"})
}

// -----------------------------------------------------------------------------
// Decision policy
// -----------------------------------------------------------------------------

// getPolicy handles GET /v1/policy
func (s *Server) getPolicy(c *gin.Context) {
	cfg := s.engine.Config()
	c.JSON(http.StatusOK, gin.H{
		"highRiskThreshold":   cfg.HighRiskThreshold,
		"lowRiskThreshold":    cfg.LowRiskThreshold,
		"maxLatencyMs":        cfg.MaxLatencyMS,
		"mlWeight":            cfg.MLWeight,
		"rulesWeight":         cfg.RulesWeight,
		"enableAmlScreening":  cfg.EnableAMLScreening,
		"enableGraphAnalysis": cfg.EnableGraphAnalysis,
		"modelVersion":        cfg.ModelVersion,
	})
}

// updatePolicy handles PUT /v1/policy. Fields left out keep their current
// value; the swap is atomic so in-flight scores see old or new, never a mix.
func (s *Server) updatePolicy(c *gin.Context) {
	var req struct {
		HighRiskThreshold   *float64 `json:"highRiskThreshold"`
		LowRiskThreshold    *float64 `json:"lowRiskThreshold"`
		MaxLatencyMS        *float64 `json:"maxLatencyMs"`
		MLWeight            *float64 `json:"mlWeight"`
		RulesWeight         *float64 `json:"rulesWeight"`
		EnableAMLScreening  *bool    `json:"enableAmlScreening"`
		EnableGraphAnalysis *bool    `json:"enableGraphAnalysis"`
		ModelVersion        *string  `json:"modelVersion"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	cfg := s.engine.Config()
	if req.HighRiskThreshold != nil {
		cfg.HighRiskThreshold = *req.HighRiskThreshold
	}
	if req.LowRiskThreshold != nil {
		cfg.LowRiskThreshold = *req.LowRiskThreshold
	}
	if req.MaxLatencyMS != nil {
		cfg.MaxLatencyMS = *req.MaxLatencyMS
	}
	if req.MLWeight != nil {
		cfg.MLWeight = *req.MLWeight
	}
	if req.RulesWeight != nil {
		cfg.RulesWeight = *req.RulesWeight
	}
	if req.EnableAMLScreening != nil {
		cfg.EnableAMLScreening = *req.EnableAMLScreening
	}
	if req.EnableGraphAnalysis != nil {
		cfg.EnableGraphAnalysis = *req.EnableGraphAnalysis
	}
	if req.ModelVersion != nil {
		cfg.ModelVersion = *req.ModelVersion
	}

	if err := s.engine.ReloadConfig(cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_policy",
			"message": err.Error(),
		})
		return
	}

	logging.L(c.Request.Context()).Info("decision policy reloaded",
		"high_threshold", cfg.HighRiskThreshold,
		"low_threshold", cfg.LowRiskThreshold,
	)

	c.JSON(http.StatusOK, gin.H{"status": "reloaded"})
}

// streamStats handles GET /v1/stream/stats
func (s *Server) streamStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.realtimeHub.Stats())
}
