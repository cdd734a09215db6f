// Package decision implements the real-time transaction scoring orchestrator.
//
// Every transaction flows through a linear pipeline: enrichment, model and
// rules scoring, a weighted blend, then AML and graph screening applied with
// max semantics so one strong compliance or ring signal dominates an
// otherwise clean view. The policy stage maps the final score to an
// allow/block/review decision with explainable reason codes. A pipeline
// failure never reaches the caller: it is converted at the Score boundary
// into a fail-safe review decision.
package decision

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Decision is the authorization verdict for a transaction.
type Decision string

const (
	Allow  Decision = "allow"
	Block  Decision = "block"
	Review Decision = "review"
)

// RiskLevel classifies the final score.
type RiskLevel string

const (
	LevelLow    RiskLevel = "low"
	LevelMedium RiskLevel = "medium"
	LevelHigh   RiskLevel = "high"
)

// Category groups signals by the evidence source.
type Category string

const (
	CategoryVelocity Category = "velocity"
	CategoryDevice   Category = "device"
	CategoryBehavior Category = "behavior"
	CategoryRules    Category = "rules"
	CategoryMerchant Category = "merchant"
	CategoryAML      Category = "aml"
	CategoryGraph    Category = "graph"
)

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	KindNumber ValueKind = iota
	KindText
	KindBool
)

// Value is the observed value behind a signal: a number, a string, or a
// boolean. The tag keeps serialization and comparisons well-defined.
type Value struct {
	Kind   ValueKind
	Number float64
	Text   string
	Bool   bool
}

// NumberValue wraps a numeric observation.
func NumberValue(v float64) Value { return Value{Kind: KindNumber, Number: v} }

// TextValue wraps a string observation.
func TextValue(v string) Value { return Value{Kind: KindText, Text: v} }

// BoolValue wraps a boolean observation.
func BoolValue(v bool) Value { return Value{Kind: KindBool, Bool: v} }

// MarshalJSON emits the raw observed value.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNumber:
		return json.Marshal(v.Number)
	case KindText:
		return json.Marshal(v.Text)
	case KindBool:
		return json.Marshal(v.Bool)
	default:
		return nil, fmt.Errorf("decision: unknown value kind %d", v.Kind)
	}
}

// UnmarshalJSON restores the tagged variant from a raw JSON value.
func (v *Value) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*v = NumberValue(n)
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*v = BoolValue(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = TextValue(s)
		return nil
	}
	return fmt.Errorf("decision: value is neither number, bool, nor string")
}

// Signal is a single named, weighted piece of evidence feeding the risk
// score. Signals are immutable once produced.
type Signal struct {
	ID        string   `json:"signalId"`
	Name      string   `json:"signalName"`
	Weight    float64  `json:"weight"`
	Value     Value    `json:"observedValue"`
	Threshold *float64 `json:"threshold,omitempty"`
	Category  Category `json:"category"`
}

// Transaction is the payment being scored. Immutable once scored.
type Transaction struct {
	ID                 string          `json:"id"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	MerchantID         string          `json:"merchantId"`
	UserID             string          `json:"userId"`
	DestinationCountry string          `json:"destinationCountry,omitempty"`
}

// Context carries the request-level context for a transaction.
type Context struct {
	DeviceID           string    `json:"deviceId"`
	IPAddress          string    `json:"ipAddress"`
	UserCountry        string    `json:"userCountry"`
	Timestamp          time.Time `json:"timestamp"`
	DemographicSegment string    `json:"demographicSegment,omitempty"`
}

// UserProfile is optional KYC/behavioral context for the user.
type UserProfile struct {
	Name                 string          `json:"name,omitempty"`
	AccountAgeDays       int             `json:"accountAgeDays,omitempty"`
	KYCVerified          bool            `json:"kycVerified,omitempty"`
	AvgTransactionAmount decimal.Decimal `json:"avgTransactionAmount,omitempty"`
	BusinessType         string          `json:"businessType,omitempty"`
	TxnCount24H          int             `json:"txnCount24h,omitempty"`
	Amount24H            decimal.Decimal `json:"amount24h,omitempty"`
}

// DeviceProfile is optional device reputation context.
type DeviceProfile struct {
	DeviceAgeDays int  `json:"deviceAgeDays,omitempty"`
	IsTrusted     bool `json:"isTrusted,omitempty"`
}

// MerchantProfile is optional merchant context.
type MerchantProfile struct {
	Name           string  `json:"name,omitempty"`
	MCC            string  `json:"mcc,omitempty"`
	ChargebackRate float64 `json:"chargebackRate,omitempty"`
	RiskTier       string  `json:"riskTier,omitempty"`
}

// Profiles bundles the optional enrichment profiles.
type Profiles struct {
	User     *UserProfile
	Device   *DeviceProfile
	Merchant *MerchantProfile
}

// RiskDecision is the complete scoring output. It is created once per
// transaction, immutable, and owned by the caller after return.
type RiskDecision struct {
	Decision        Decision  `json:"decision"`
	RiskScore       float64   `json:"riskScore"`
	RiskLevel       RiskLevel `json:"riskLevel"`
	Signals         []Signal  `json:"signals"`
	ReasonCodes     []string  `json:"reasonCodes"`
	NextActions     []string  `json:"nextActions"`
	ComplianceLogID string    `json:"complianceLogId"`
	LatencyMS       float64   `json:"latencyMs"`
	Timestamp       time.Time `json:"timestamp"`
	ModelVersion    string    `json:"modelVersion"`
	Explanation     string    `json:"explanation"`
}

// ErrInvalidInput marks malformed transactions rejected before the pipeline
// runs. These are the only errors Score returns to the caller.
var ErrInvalidInput = errors.New("decision: invalid input")

// Validate rejects malformed transactions before any risk assessment.
func (t *Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: missing transaction id", ErrInvalidInput)
	}
	if t.UserID == "" {
		return fmt.Errorf("%w: missing user id", ErrInvalidInput)
	}
	if t.Currency == "" {
		return fmt.Errorf("%w: missing currency", ErrInvalidInput)
	}
	if !t.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidInput, t.Amount)
	}
	return nil
}
