package aml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSTRFilingRequired(t *testing.T) {
	e := New(DefaultListSource())

	report := e.GenerateSTR("txn_1", "user_1", []string{"SANCTIONS_OFAC_HIT"}, 0.95)
	assert.True(t, report.FilingRequired)
	assert.Equal(t, STRPending, report.Status)
	assert.Equal(t, []string{"SANCTIONS_OFAC_HIT"}, report.Indicators)

	// Exactly at the threshold is not required; strictly above is
	report = e.GenerateSTR("txn_2", "user_1", nil, 0.7)
	assert.False(t, report.FilingRequired)

	report = e.GenerateSTR("txn_3", "user_1", nil, 0.71)
	assert.True(t, report.FilingRequired)
}

func TestSTRQueueFileOnce(t *testing.T) {
	q := NewSTRQueue()
	e := New(DefaultListSource())

	id := q.Enqueue(e.GenerateSTR("txn_1", "user_1", nil, 0.9))
	assert.Equal(t, "str_000000", id)
	assert.Equal(t, 1, q.PendingCount())

	require.True(t, q.File(id))
	assert.Equal(t, 0, q.PendingCount())

	filed := q.Filed()
	require.Len(t, filed, 1)
	assert.Equal(t, STRFiled, filed[0].Status)

	// A report can only be filed once
	assert.False(t, q.File(id))
	assert.False(t, q.File("str_999999"))
}

func TestSTRQueueFIFOOrder(t *testing.T) {
	q := NewSTRQueue()
	e := New(DefaultListSource())

	q.Enqueue(e.GenerateSTR("txn_a", "user_1", nil, 0.9))
	q.Enqueue(e.GenerateSTR("txn_b", "user_2", nil, 0.8))

	pending := q.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "txn_a", pending[0].TransactionID)
	assert.Equal(t, "txn_b", pending[1].TransactionID)

	// Snapshot is a copy; mutating it must not affect the queue
	pending[0].TransactionID = "mutated"
	assert.Equal(t, "txn_a", q.Pending()[0].TransactionID)
}
