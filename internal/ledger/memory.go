package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/Tom-Standen/MomentumTrading/internal/model"
)

// MemoryStore keeps ledgers in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	ledgers map[model.Pair][]model.LedgerEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ledgers: make(map[model.Pair][]model.LedgerEntry)}
}

func (s *MemoryStore) Load(_ context.Context, pair model.Pair) ([]model.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.ledgers[pair]
	out := make([]model.LedgerEntry, len(rows))
	copy(out, rows)
	return out, nil
}

func (s *MemoryStore) Append(ctx context.Context, pair model.Pair, entry model.LedgerEntry) error {
	return s.AppendAll(ctx, map[model.Pair]model.LedgerEntry{pair: entry})
}

func (s *MemoryStore) AppendAll(_ context.Context, rows map[model.Pair]model.LedgerEntry) error {
	if err := validateRows(rows); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for p, e := range rows {
		if err := checkDuplicate(s.ledgers[p], e); err != nil {
			return fmt.Errorf("pair %s: %w", p, err)
		}
	}
	for p, e := range rows {
		s.ledgers[p] = append(s.ledgers[p], e)
	}
	return nil
}
