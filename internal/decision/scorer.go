package decision

import (
	"context"

	"github.com/sentra-io/sentra/internal/features"
	"github.com/shopspring/decimal"
)

// Scorer produces the model score and its supporting signals. Pluggable: a
// trained model is deployed behind this interface, the default is a
// deterministic heuristic over the enriched features.
type Scorer interface {
	Score(ctx context.Context, f *Features) (float64, []Signal, error)
}

// HeuristicScorer is the default model signal producer. It is deterministic:
// the same feature bag always yields the same score.
type HeuristicScorer struct{}

func floatPtr(v float64) *float64 { return &v }

// Score derives a fraud likelihood from velocity, device reputation, and
// behavioral deviation.
func (HeuristicScorer) Score(_ context.Context, f *Features) (float64, []Signal, error) {
	var signals []Signal
	score := 0.0

	// Velocity
	txnCount := f.Feature(features.UserTxnCount1H)
	const velocityThreshold = 5.0
	if txnCount > velocityThreshold {
		w := txnCount / 20.0
		if w > 0.4 {
			w = 0.4
		}
		score += w
		signals = append(signals, Signal{
			ID:        "ml_velocity_high",
			Name:      "High Velocity",
			Weight:    w,
			Value:     NumberValue(txnCount),
			Threshold: floatPtr(velocityThreshold),
			Category:  CategoryVelocity,
		})
	} else {
		score += 0.05
		signals = append(signals, Signal{
			ID:        "ml_velocity_ok",
			Name:      "Normal Velocity",
			Weight:    0.05,
			Value:     NumberValue(txnCount),
			Threshold: floatPtr(velocityThreshold),
			Category:  CategoryVelocity,
		})
	}

	// Device reputation
	reputation := f.Feature(features.DeviceReputation)
	const reputationThreshold = 0.80
	if reputation >= reputationThreshold {
		score += 0.03
		signals = append(signals, Signal{
			ID:        "ml_device_trusted",
			Name:      "Trusted Device",
			Weight:    0.03,
			Value:     NumberValue(reputation),
			Threshold: floatPtr(reputationThreshold),
			Category:  CategoryDevice,
		})
	} else {
		w := (reputationThreshold - reputation) * 0.5
		score += w
		signals = append(signals, Signal{
			ID:        "ml_device_untrusted",
			Name:      "Untrusted Device",
			Weight:    w,
			Value:     NumberValue(reputation),
			Threshold: floatPtr(reputationThreshold),
			Category:  CategoryDevice,
		})
	}

	// Behavioral deviation from the historical average amount
	avgAmount := f.Feature(features.AvgTransactionAmount)
	amount := f.Transaction.Amount.InexactFloat64()
	if avgAmount > 0 && amount > avgAmount*10 {
		score += 0.3
		signals = append(signals, Signal{
			ID:       "ml_behavior_deviation",
			Name:     "Unusual Amount Pattern",
			Weight:   0.3,
			Value:    NumberValue(amount / avgAmount),
			Category: CategoryBehavior,
		})
	} else {
		score += 0.07
		signals = append(signals, Signal{
			ID:       "ml_behavior_normal",
			Name:     "Normal Behavior Pattern",
			Weight:   0.07,
			Value:    NumberValue(amount),
			Category: CategoryBehavior,
		})
	}

	return clamp01(score), signals, nil
}

// ruleAmountLimit is the single-transaction business limit.
var ruleAmountLimit = decimal.NewFromInt(5_000)

// evaluateRules applies the deterministic business rule producers.
func evaluateRules(f *Features) (float64, []Signal) {
	var signals []Signal
	score := 0.0

	limit := ruleAmountLimit.InexactFloat64()
	if f.Transaction.Amount.GreaterThan(ruleAmountLimit) {
		score += 0.4
		signals = append(signals, Signal{
			ID:        "rule_amount_over_limit",
			Name:      "Amount Over Limit",
			Weight:    0.4,
			Value:     NumberValue(f.Transaction.Amount.InexactFloat64()),
			Threshold: floatPtr(limit),
			Category:  CategoryRules,
		})
	} else {
		score += 0.05
		signals = append(signals, Signal{
			ID:        "rule_amount_under_limit",
			Name:      "Amount Under Limit",
			Weight:    0.05,
			Value:     NumberValue(f.Transaction.Amount.InexactFloat64()),
			Threshold: floatPtr(limit),
			Category:  CategoryRules,
		})
	}

	tier := f.Merchant.RiskTier
	if tier == "tier_3" {
		score += 0.3
		signals = append(signals, Signal{
			ID:       "rule_merchant_tier_high_risk",
			Name:     "High Risk Merchant Tier",
			Weight:   0.3,
			Value:    TextValue(tier),
			Category: CategoryMerchant,
		})
	} else {
		score += 0.05
		signals = append(signals, Signal{
			ID:       "rule_merchant_tier_good",
			Name:     "Good Merchant Tier",
			Weight:   0.05,
			Value:    TextValue(tier),
			Category: CategoryMerchant,
		})
	}

	if f.Feature(features.IsVPN) > 0 {
		score += 0.15
		signals = append(signals, Signal{
			ID:       "rule_vpn_detected",
			Name:     "VPN Detected",
			Weight:   0.15,
			Value:    BoolValue(true),
			Category: CategoryDevice,
		})
	}

	return clamp01(score), signals
}

func clamp01(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	if v < 0.0 {
		return 0.0
	}
	return v
}
