package realtime

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func decisionEvent(decision, userID string, score float64) *Event {
	return &Event{
		Type:      EventDecision,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"decision":  decision,
			"userId":    userID,
			"riskScore": score,
		},
	}
}

func TestShouldSendAllEvents(t *testing.T) {
	h := testHub()
	c := &Client{sub: Subscription{AllEvents: true}}

	assert.True(t, h.shouldSend(c, decisionEvent("allow", "u1", 0.1)))
	assert.True(t, h.shouldSend(c, &Event{Type: EventDrift}))
}

func TestShouldSendEventTypeFilter(t *testing.T) {
	h := testHub()
	c := &Client{sub: Subscription{EventTypes: []EventType{EventSTRFiled}}}

	assert.True(t, h.shouldSend(c, &Event{Type: EventSTRFiled}))
	assert.False(t, h.shouldSend(c, &Event{Type: EventDrift}))
	assert.False(t, h.shouldSend(c, decisionEvent("block", "u1", 0.9)))
}

func TestShouldSendDecisionFilter(t *testing.T) {
	h := testHub()
	c := &Client{sub: Subscription{Decisions: []string{"block", "review"}}}

	assert.True(t, h.shouldSend(c, decisionEvent("block", "u1", 0.9)))
	assert.True(t, h.shouldSend(c, decisionEvent("review", "u1", 0.5)))
	assert.False(t, h.shouldSend(c, decisionEvent("allow", "u1", 0.1)))
}

func TestShouldSendUserFilter(t *testing.T) {
	h := testHub()
	c := &Client{sub: Subscription{UserIDs: []string{"u2"}}}

	assert.True(t, h.shouldSend(c, decisionEvent("allow", "u2", 0.1)))
	assert.False(t, h.shouldSend(c, decisionEvent("allow", "u1", 0.1)))

	// Non-decision events pass through user filters
	assert.True(t, h.shouldSend(c, &Event{Type: EventDrift}))
}

func TestShouldSendMinRiskScore(t *testing.T) {
	h := testHub()
	c := &Client{sub: Subscription{MinRiskScore: 0.7}}

	assert.True(t, h.shouldSend(c, decisionEvent("block", "u1", 0.95)))
	assert.True(t, h.shouldSend(c, decisionEvent("review", "u1", 0.7)))
	assert.False(t, h.shouldSend(c, decisionEvent("allow", "u1", 0.1)))
}

func TestBroadcastDropsWhenFull(t *testing.T) {
	h := testHub()

	// No Run loop draining, so the channel caps at its buffer size
	for i := 0; i < 300; i++ {
		h.Broadcast(decisionEvent("allow", "u1", 0.1))
	}
	assert.Len(t, h.broadcast, 256)
}

func TestStats(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	assert.Equal(t, 0, stats["connectedClients"])
	assert.Equal(t, int64(0), stats["totalEvents"])
}
