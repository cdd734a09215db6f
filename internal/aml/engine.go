package aml

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Regulatory thresholds.
var (
	// ctfThreshold is the FinCEN/FATF currency transaction reporting line.
	ctfThreshold = decimal.NewFromInt(10_000)

	// rapidMovementThreshold flags large 24h fund movement.
	rapidMovementThreshold = decimal.NewFromInt(100_000)
)

// Structuring signature: a consistent per-transaction mean deliberately just
// under the 10k reporting line.
const (
	structuringFloor   = 9_000.0
	structuringCeiling = 9_900.0
)

// highRiskCountries are FATF high-risk jurisdictions for entity screening.
var highRiskCountries = map[string]bool{"KP": true, "IR": true, "SY": true}

// highRiskDestinations extends the set for transaction destinations.
var highRiskDestinations = map[string]bool{"KP": true, "IR": true, "SY": true, "CU": true}

// cashIntensiveBusinesses are business types with elevated laundering risk.
var cashIntensiveBusinesses = map[string]bool{
	"GAMBLING":          true,
	"CASH_ADVANCE":      true,
	"CURRENCY_EXCHANGE": true,
}

// EntityProfile is the historical context used by transaction-level checks.
type EntityProfile struct {
	AvgTransactionAmount decimal.Decimal `json:"avgTransactionAmount"`
	BusinessType         string          `json:"businessType,omitempty"`
}

// Engine applies sanctions, PEP, threshold, and velocity rules. Safe for
// concurrent use: the screening tables are immutable after New.
type Engine struct {
	sanctions map[ListType][]string
	peps      []PEPEntry
}

// New builds an engine from the given screening data source.
func New(source ListSource) *Engine {
	e := &Engine{sanctions: make(map[ListType][]string)}
	for _, entry := range source.SanctionsEntries() {
		e.sanctions[entry.List] = append(e.sanctions[entry.List], entry.Name)
	}
	e.peps = append(e.peps, source.PEPEntries()...)
	return e
}

// ScreenSanctions matches a name against every configured sanctions list and
// the entity's country against the high-risk set. The returned score is the
// max over both sources, never a sum: a list hit scores 0.95, a high-risk
// country raises the floor to 0.85.
func (e *Engine) ScreenSanctions(entityName, entityCountry string) (float64, []string, []SanctionsHit) {
	var (
		score float64
		codes []string
		hits  []SanctionsHit
	)

	for _, list := range []ListType{ListOFAC, ListUN, ListEU, ListUK, ListHMT} {
		for _, sanctioned := range e.sanctions[list] {
			// Substring match; a production deployment would layer fuzzy
			// matching on top of the list feed.
			if !containsFold(entityName, sanctioned) {
				continue
			}
			const matchStrength = 0.95
			hits = append(hits, SanctionsHit{
				List:          list,
				MatchStrength: matchStrength,
				EntityName:    entityName,
				Reason:        fmt.Sprintf("Match: %s", sanctioned),
			})
			if matchStrength > score {
				score = matchStrength
			}
			codes = append(codes, fmt.Sprintf("SANCTIONS_%s_HIT", upper(list)))
		}
	}

	if highRiskCountries[entityCountry] {
		if score < 0.85 {
			score = 0.85
		}
		codes = append(codes, fmt.Sprintf("HIGH_RISK_COUNTRY_%s", entityCountry))
	}

	return score, codes, hits
}

// ScreenPEP matches a name against the PEP registry. When a name matches
// several registry entries the most severe level wins deterministically.
func (e *Engine) ScreenPEP(entityName string) (float64, []string, []PEPMatch) {
	var (
		matches []PEPMatch
		best    *PEPEntry
	)

	for i := range e.peps {
		entry := e.peps[i]
		if !containsFold(entityName, entry.Name) {
			continue
		}
		matches = append(matches, PEPMatch{
			Level:         entry.Level,
			EntityName:    entityName,
			MatchStrength: 0.95,
		})
		if best == nil || pepSeverity(entry.Level) > pepSeverity(best.Level) {
			best = &entry
		}
	}

	if best == nil {
		return 0, nil, nil
	}
	return best.Level.Score(), []string{best.Level.Code()}, matches
}

// CheckTransactionThreshold flags amounts at or above the CTF reporting line.
func (e *Engine) CheckTransactionThreshold(amount decimal.Decimal, currency string) (float64, []string) {
	var (
		score float64
		codes []string
	)
	if amount.GreaterThanOrEqual(ctfThreshold) {
		score += 0.2
		codes = append(codes, fmt.Sprintf("CTF_THRESHOLD_EXCEEDED_%s", amount.String()))
	}
	return capScore(score), codes
}

// CheckTransactionRisk applies transaction-level red flags: a large deviation
// from the entity's historical average, a high-risk destination, and
// cash-intensive business types. Contributions are additive, capped at 1.0.
func (e *Engine) CheckTransactionRisk(amount decimal.Decimal, destinationCountry string, profile EntityProfile) (float64, []string) {
	var (
		score float64
		codes []string
	)

	if profile.AvgTransactionAmount.IsPositive() &&
		amount.GreaterThan(profile.AvgTransactionAmount.Mul(decimal.NewFromInt(10))) {
		score += 0.15
		codes = append(codes, "UNUSUAL_TRANSACTION_AMOUNT")
	}

	if highRiskDestinations[destinationCountry] {
		score += 0.3
		codes = append(codes, fmt.Sprintf("HIGH_RISK_DESTINATION_%s", destinationCountry))
	}

	if cashIntensiveBusinesses[profile.BusinessType] {
		score += 0.1
		codes = append(codes, fmt.Sprintf("CASH_INTENSIVE_%s", profile.BusinessType))
	}

	return capScore(score), codes
}

// CheckVelocityAbuse flags rapid movement and structuring over a 24h window.
func (e *Engine) CheckVelocityAbuse(userID string, txnCount24h int, amount24h decimal.Decimal) (float64, []string) {
	var (
		score float64
		codes []string
	)

	if txnCount24h > 50 {
		score += 0.25
		codes = append(codes, fmt.Sprintf("HIGH_TRANSACTION_VELOCITY_%d", txnCount24h))
	}

	if amount24h.GreaterThan(rapidMovementThreshold) {
		score += 0.15
		codes = append(codes, fmt.Sprintf("RAPID_FUND_MOVEMENT_%s", amount24h.String()))
	}

	divisor := txnCount24h
	if divisor < 1 {
		divisor = 1
	}
	avgPerTxn := amount24h.InexactFloat64() / float64(divisor)
	if avgPerTxn > structuringFloor && avgPerTxn < structuringCeiling {
		score += 0.4
		codes = append(codes, "STRUCTURING_PATTERN_DETECTED")
	}

	return capScore(score), codes
}

func capScore(score float64) float64 {
	if score > 1.0 {
		return 1.0
	}
	return score
}

func upper(l ListType) string {
	switch l {
	case ListOFAC:
		return "OFAC"
	case ListUN:
		return "UN"
	case ListEU:
		return "EU"
	case ListUK:
		return "UK"
	case ListHMT:
		return "HMT"
	default:
		return "UNKNOWN"
	}
}
