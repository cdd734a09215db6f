package decision

import (
	"fmt"
	"sort"
	"strings"
)

// Signal-code caps per decision. Block decisions carry the most context for
// the compliance team; allows carry none beyond the decision code.
const (
	blockSignalCodes  = 3
	reviewSignalCodes = 2
)

// applyPolicy maps the final combined score to a decision, risk level,
// reason codes, and next actions. Reason codes are one decision-level code
// followed by the top signal codes by descending weight.
func applyPolicy(cfg Config, riskScore float64, signals []Signal, reqCtx Context) (Decision, RiskLevel, []string, []string) {
	var (
		decision    Decision
		level       RiskLevel
		reasonCodes []string
		nextActions []string
	)

	switch {
	case riskScore >= cfg.HighRiskThreshold:
		decision = Block
		level = LevelHigh
		reasonCodes = append([]string{"HIGH_RISK_SCORE"}, topSignalCodes(signals, blockSignalCodes)...)
		nextActions = []string{"BLOCK", "ESCALATE_TO_COMPLIANCE", "STORE_FOR_INVESTIGATION"}
	case riskScore <= cfg.LowRiskThreshold:
		decision = Allow
		level = LevelLow
		reasonCodes = []string{"LOW_RISK"}
		nextActions = []string{"APPROVE", "MONITOR"}
	default:
		decision = Review
		level = LevelMedium
		reasonCodes = append([]string{"MEDIUM_RISK"}, topSignalCodes(signals, reviewSignalCodes)...)
		nextActions = []string{"MANUAL_REVIEW", "REQUEST_ADDITIONAL_VERIFICATION"}
	}

	// PSD2: step-up authentication for cross-border traffic.
	if reqCtx.UserCountry != "US" {
		nextActions = append(nextActions, "SCA_STEP_UP")
	}

	return decision, level, reasonCodes, nextActions
}

// topSignalCodes renders the top-n signals by weight as reason codes.
// Callers must pass signals already sorted by descending weight.
func topSignalCodes(signals []Signal, n int) []string {
	if n > len(signals) {
		n = len(signals)
	}
	codes := make([]string, 0, n)
	for _, s := range signals[:n] {
		codes = append(codes, signalCode(s))
	}
	return codes
}

// signalCode renders a signal name as an uppercase, underscore-joined code.
func signalCode(s Signal) string {
	return strings.ToUpper(strings.ReplaceAll(s.Name, " ", "_"))
}

// sortSignals orders signals by descending weight, stable so producers'
// original ordering breaks ties.
func sortSignals(signals []Signal) {
	sort.SliceStable(signals, func(i, j int) bool {
		return signals[i].Weight > signals[j].Weight
	})
}

// explanation summarizes the top-3 signals with their weights.
func explanation(signals []Signal, reasonCodes []string) string {
	top := signals
	if len(top) > 3 {
		top = top[:3]
	}

	parts := make([]string, 0, len(top))
	for _, s := range top {
		parts = append(parts, fmt.Sprintf("%s (%.2f)", s.Name, s.Weight))
	}
	return fmt.Sprintf("Decision based on %d key signals: %s",
		len(reasonCodes), strings.Join(parts, "; "))
}
