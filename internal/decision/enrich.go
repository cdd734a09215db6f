package decision

import (
	"context"
	"fmt"

	"github.com/sentra-io/sentra/internal/features"
)

// deviceFeatureNames are the lookup keys sourced from the device entity
// rather than the user entity.
var deviceFeatureNames = map[string]bool{
	features.DeviceTxnCount1H: true,
	features.DeviceReputation: true,
	features.IPReputation:     true,
	features.IsVPN:            true,
	features.IsProxy:          true,
	features.DeviceMismatch:   true,
}

// Features is the enriched feature bag every signal producer reads. The
// profile fields are zero values when the caller supplied no profile.
type Features struct {
	Transaction Transaction
	Context     Context
	User        UserProfile
	Device      DeviceProfile
	Merchant    MerchantProfile

	// Lookup holds the feature store values, user features overlaid with
	// device features.
	Lookup map[string]float64
}

// Feature returns a looked-up feature value, falling back to the documented
// default when the store returned no value for the name.
func (f *Features) Feature(name string) float64 {
	if v, ok := f.Lookup[name]; ok {
		return v
	}
	return features.Defaults()[name]
}

// enrich merges the transaction, context, and optional profiles with feature
// store lookups for the user and device entities.
func (e *Engine) enrich(ctx context.Context, txn Transaction, reqCtx Context, profiles Profiles) (*Features, error) {
	f := &Features{
		Transaction: txn,
		Context:     reqCtx,
		Lookup:      make(map[string]float64),
	}
	if profiles.User != nil {
		f.User = *profiles.User
	}
	if profiles.Device != nil {
		f.Device = *profiles.Device
	}
	if profiles.Merchant != nil {
		f.Merchant = *profiles.Merchant
	}

	userFeatures, err := e.features.Features(ctx, txn.UserID)
	if err != nil {
		return nil, fmt.Errorf("feature lookup for user %s: %w", txn.UserID, err)
	}
	for k, v := range userFeatures {
		f.Lookup[k] = v
	}

	if reqCtx.DeviceID != "" {
		deviceFeatures, err := e.features.Features(ctx, reqCtx.DeviceID)
		if err != nil {
			return nil, fmt.Errorf("feature lookup for device %s: %w", reqCtx.DeviceID, err)
		}
		for k, v := range deviceFeatures {
			if deviceFeatureNames[k] {
				f.Lookup[k] = v
			}
		}
	}

	return f, nil
}
