package audit

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentra-io/sentra/internal/pagination"
	"github.com/sentra-io/sentra/internal/testutil"
)

func TestPostgresStoreRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	rec := &Record{
		ComplianceLogID: "clog_pg_1",
		TransactionID:   "txn_pg_1",
		UserID:          "user_pg",
		Decision:        "block",
		RiskScore:       0.95,
		ReasonCodes:     []string{"SANCTIONS_OFAC_HIT"},
		LatencyMS:       12.5,
		Amount:          decimal.RequireFromString("2500.00"),
		Currency:        "USD",
		Timestamp:       time.Now().UTC(),
	}
	require.NoError(t, store.Record(ctx, rec))

	records, err := store.ListByUser(ctx, "user_pg", 10, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "clog_pg_1", records[0].ComplianceLogID)
	assert.Equal(t, "block", records[0].Decision)
	assert.Equal(t, []string{"SANCTIONS_OFAC_HIT"}, records[0].ReasonCodes)
	assert.True(t, rec.Amount.Equal(records[0].Amount))
}

func TestPostgresStoreListOrderAndLimit(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Record(ctx, &Record{
			ComplianceLogID: "clog_order_" + string(rune('a'+i)),
			TransactionID:   "txn_order",
			UserID:          "user_order",
			Decision:        "allow",
			RiskScore:       0.1,
			ReasonCodes:     []string{"LOW_RISK"},
			LatencyMS:       5,
			Amount:          decimal.NewFromInt(10),
			Currency:        "USD",
			Timestamp:       base.Add(time.Duration(i) * time.Minute),
		}))
	}

	records, err := store.ListByUser(ctx, "user_order", 2, nil)
	require.NoError(t, err)
	require.Len(t, records, 2)
	// Newest first
	assert.Equal(t, "clog_order_c", records[0].ComplianceLogID)
	assert.Equal(t, "clog_order_b", records[1].ComplianceLogID)

	// Cursor continues where the first page stopped
	cursor := &pagination.Cursor{CreatedAt: records[1].Timestamp, ID: records[1].ComplianceLogID}
	rest, err := store.ListByUser(ctx, "user_order", 2, cursor)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "clog_order_a", rest[0].ComplianceLogID)
}
