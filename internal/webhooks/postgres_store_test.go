package webhooks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentra-io/sentra/internal/testutil"
)

func TestPostgresStoreCRUD(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	sub := &Subscription{
		ID:        "wh_pg_1",
		URL:       "https://example.com/hooks/risk",
		Secret:    "pg-secret",
		Events:    []EventType{EventDecisionBlocked, EventSTRFiled},
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Create(ctx, sub))

	got, err := store.Get(ctx, "wh_pg_1")
	require.NoError(t, err)
	assert.Equal(t, sub.URL, got.URL)
	assert.Equal(t, sub.Events, got.Events)
	assert.True(t, got.Active)

	now := time.Now().UTC()
	got.LastSuccess = &now
	got.ConsecutiveFailures = 2
	require.NoError(t, store.Update(ctx, got))

	updated, err := store.Get(ctx, "wh_pg_1")
	require.NoError(t, err)
	assert.NotNil(t, updated.LastSuccess)
	assert.Equal(t, 2, updated.ConsecutiveFailures)

	require.NoError(t, store.Delete(ctx, "wh_pg_1"))
	_, err = store.Get(ctx, "wh_pg_1")
	assert.Error(t, err)
}

func TestPostgresStoreGetByEvent(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Subscription{
		ID: "wh_pg_blocked", URL: "https://a.example.com", Secret: "s",
		Events: []EventType{EventDecisionBlocked}, Active: true, CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.Create(ctx, &Subscription{
		ID: "wh_pg_drift", URL: "https://b.example.com", Secret: "s",
		Events: []EventType{EventModelDrift}, Active: true, CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.Create(ctx, &Subscription{
		ID: "wh_pg_inactive", URL: "https://c.example.com", Secret: "s",
		Events: []EventType{EventDecisionBlocked}, Active: false, CreatedAt: time.Now().UTC(),
	}))

	subs, err := store.GetByEvent(ctx, EventDecisionBlocked)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "wh_pg_blocked", subs[0].ID)
}
