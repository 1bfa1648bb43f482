package classifier

import (
	"context"
	"sort"
	"sync"

	"github.com/mbd888/paymo/internal/pagination"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu      sync.RWMutex
	byParty map[string][]*Result
}

// NewMemoryStore creates an in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byParty: make(map[string][]*Result),
	}
}

func (s *MemoryStore) Record(ctx context.Context, result *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := result.clone()
	s.byParty[r.Event.PartyA] = append(s.byParty[r.Event.PartyA], r)
	if !r.SelfPayment {
		s.byParty[r.Event.PartyB] = append(s.byParty[r.Event.PartyB], r)
	}
	return nil
}

func (s *MemoryStore) ListByParty(ctx context.Context, party string, cursor *pagination.Cursor, limit int) ([]*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Result
	for _, r := range s.byParty[party] {
		if cursor.Before(r.EvaluatedAt, r.ID) {
			matched = append(matched, r)
		}
	}

	// Newest first; ties broken by ID so cursors are stable.
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].EvaluatedAt.Equal(matched[j].EvaluatedAt) {
			return matched[i].EvaluatedAt.After(matched[j].EvaluatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]*Result, len(matched))
	for i, r := range matched {
		out[i] = r.clone()
	}
	return out, nil
}
