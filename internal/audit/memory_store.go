package audit

import (
	"context"
	"sync"

	"github.com/sentra-io/sentra/internal/pagination"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]*Record // userID → records
}

// NewMemoryStore creates an in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]*Record)}
}

func (s *MemoryStore) Record(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := *record
	r.ReasonCodes = append([]string(nil), record.ReasonCodes...)
	s.records[record.UserID] = append(s.records[record.UserID], &r)
	return nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string, limit int, before *pagination.Cursor) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.records[userID]
	if len(all) == 0 {
		return nil, nil
	}

	// Most recent first. With a cursor, skip everything up to and including
	// the cursor record; a stale cursor yields an empty page.
	skipping := before != nil
	result := make([]*Record, 0, limit)
	for i := len(all) - 1; i >= 0 && len(result) < limit; i-- {
		if skipping {
			if all[i].ComplianceLogID == before.ID {
				skipping = false
			}
			continue
		}
		r := *all[i]
		r.ReasonCodes = append([]string(nil), all[i].ReasonCodes...)
		result = append(result, &r)
	}
	return result, nil
}
