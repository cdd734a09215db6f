// Package features defines the feature store lookup contract used by the
// decision enrichment stage.
//
// The real feature store is an external collaborator; this package pins down
// its interface and ships a static provider with defined defaults so the
// pipeline and its tests run without one.
package features

import "context"

// Provider returns named numeric features for an entity. Every feature name
// a caller asks about must resolve: providers fill absent values with the
// documented defaults rather than omitting keys.
type Provider interface {
	Features(ctx context.Context, entityID string) (map[string]float64, error)
}

// Feature names used by the enrichment stage. Boolean features are encoded
// as 0/1.
const (
	UserTxnCount1H        = "user_txn_count_1h"
	UserTxnAmount24H      = "user_txn_amount_24h"
	DeviceTxnCount1H      = "device_txn_count_1h"
	MerchantTxnCount1H    = "merchant_txn_count_1h"
	AvgTransactionAmount  = "avg_transaction_amount"
	AvgTimeBetweenTxns    = "avg_time_between_txns_hours"
	AccountAgeDays        = "account_age_days"
	DeviceBindingAgeDays  = "device_binding_age_days"
	DeviceReputation      = "device_reputation"
	IPReputation          = "ip_reputation"
	IsVPN                 = "is_vpn"
	IsProxy               = "is_proxy"
	DeviceMismatch        = "device_mismatch"
)

// Defaults returns the documented default value for every known feature.
func Defaults() map[string]float64 {
	return map[string]float64{
		UserTxnCount1H:       2,
		UserTxnAmount24H:     450.0,
		DeviceTxnCount1H:     1,
		MerchantTxnCount1H:   15,
		AvgTransactionAmount: 75.0,
		AvgTimeBetweenTxns:   12.5,
		AccountAgeDays:       365,
		DeviceBindingAgeDays: 30,
		DeviceReputation:     0.95,
		IPReputation:         0.92,
		IsVPN:                0,
		IsProxy:              0,
		DeviceMismatch:       0,
	}
}

// StaticProvider serves the defaults, optionally overridden per entity.
// Safe for concurrent reads; overrides are fixed at construction.
type StaticProvider struct {
	overrides map[string]map[string]float64
}

// NewStaticProvider creates a provider with optional per-entity overrides.
func NewStaticProvider(overrides map[string]map[string]float64) *StaticProvider {
	copied := make(map[string]map[string]float64, len(overrides))
	for entity, feats := range overrides {
		inner := make(map[string]float64, len(feats))
		for k, v := range feats {
			inner[k] = v
		}
		copied[entity] = inner
	}
	return &StaticProvider{overrides: copied}
}

// Features returns the defaults merged with any overrides for the entity.
func (p *StaticProvider) Features(_ context.Context, entityID string) (map[string]float64, error) {
	out := Defaults()
	for k, v := range p.overrides[entityID] {
		out[k] = v
	}
	return out, nil
}
