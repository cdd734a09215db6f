package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSubscription(url string, events ...EventType) *Subscription {
	return &Subscription{
		ID:        generateID("wh_"),
		URL:       url,
		Secret:    "test-secret",
		Events:    events,
		Active:    true,
		CreatedAt: time.Now(),
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestDispatchDeliversWithSignature(t *testing.T) {
	var received atomic.Int32
	var gotEvent, gotSig string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEvent = r.Header.Get("X-Sentra-Event")
		gotSig = r.Header.Get("X-Sentra-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	sub := newSubscription(srv.URL, EventDecisionBlocked)
	require.NoError(t, store.Create(context.Background(), sub))

	d := NewDispatcher(store, testLogger())
	err := d.Dispatch(context.Background(), &Event{
		ID:        "evt_1",
		Type:      EventDecisionBlocked,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"transactionId": "txn_1"},
	})
	require.NoError(t, err)

	waitFor(t, func() bool { return received.Load() == 1 })

	assert.Equal(t, "decision.blocked", gotEvent)
	assert.Equal(t, Sign(gotBody, "test-secret"), gotSig)

	updated, err := store.Get(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.NotNil(t, updated.LastSuccess)
	assert.Equal(t, 0, updated.ConsecutiveFailures)
}

func TestDispatchSkipsUnsubscribedEvents(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	require.NoError(t, store.Create(context.Background(), newSubscription(srv.URL, EventSTRFiled)))

	d := NewDispatcher(store, testLogger())
	require.NoError(t, d.Dispatch(context.Background(), &Event{
		ID:   "evt_1",
		Type: EventDecisionBlocked,
	}))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), received.Load())
}

func TestDispatchRetriesTransientFailures(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	sub := newSubscription(srv.URL, EventModelDrift)
	require.NoError(t, store.Create(context.Background(), sub))

	d := NewDispatcher(store, testLogger())
	require.NoError(t, d.Dispatch(context.Background(), &Event{ID: "evt_1", Type: EventModelDrift}))

	waitFor(t, func() bool { return attempts.Load() == 3 })
	waitFor(t, func() bool {
		updated, _ := store.Get(context.Background(), sub.ID)
		return updated.LastSuccess != nil
	})
}

func TestDispatchClientErrorIsNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	sub := newSubscription(srv.URL, EventSTRQueued)
	require.NoError(t, store.Create(context.Background(), sub))

	d := NewDispatcher(store, testLogger())
	require.NoError(t, d.Dispatch(context.Background(), &Event{ID: "evt_1", Type: EventSTRQueued}))

	waitFor(t, func() bool {
		updated, _ := store.Get(context.Background(), sub.ID)
		return updated.ConsecutiveFailures == 1
	})
	assert.Equal(t, int32(1), attempts.Load())
}

func TestRepeatedFailuresDeactivateSubscription(t *testing.T) {
	store := NewMemoryStore()
	sub := newSubscription("http://example.invalid", EventSTRFiled)
	sub.ConsecutiveFailures = MaxConsecutiveFailures - 1
	require.NoError(t, store.Create(context.Background(), sub))

	d := NewDispatcher(store, testLogger())
	d.recordFailure(context.Background(), sub, "request failed")

	updated, err := store.Get(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.False(t, updated.Active)
	assert.Equal(t, MaxConsecutiveFailures, updated.ConsecutiveFailures)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func setupRouter(store Store) *gin.Engine {
	r := gin.New()
	NewHandler(store).RegisterRoutes(r.Group("/v1"))
	return r
}

func TestCreateWebhook(t *testing.T) {
	r := setupRouter(NewMemoryStore())

	body, _ := json.Marshal(map[string]interface{}{
		"url":    "https://ops.example.com/hooks",
		"events": []string{"decision.blocked", "str.filed"},
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["secret"])

	webhook := resp["webhook"].(map[string]interface{})
	assert.Contains(t, webhook["id"], "wh_")
	assert.Equal(t, true, webhook["active"])
}

func TestCreateWebhookRejectsUnknownEvent(t *testing.T) {
	r := setupRouter(NewMemoryStore())

	body, _ := json.Marshal(map[string]interface{}{
		"url":    "https://ops.example.com/hooks",
		"events": []string{"decision.teleported"},
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListWebhooksHidesSecrets(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Create(context.Background(),
		newSubscription("https://ops.example.com/hooks", EventDecisionReview)))

	r := setupRouter(store)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/webhooks", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "test-secret")
}

func TestDeleteWebhook(t *testing.T) {
	store := NewMemoryStore()
	sub := newSubscription("https://ops.example.com/hooks", EventDecisionReview)
	require.NoError(t, store.Create(context.Background(), sub))

	r := setupRouter(store)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/v1/webhooks/"+sub.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	_, err := store.Get(context.Background(), sub.ID)
	assert.Error(t, err)
}
