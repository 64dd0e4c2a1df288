package memory

import (
	"context"
	"fmt"
	"sync"

	"fleetledger/internal/export"
)

// Store keeps exported rows in process. Used in development and tests.
type Store struct {
	mu    sync.Mutex
	rows  []export.SettlementRow
	index map[string]int
}

var _ export.SettlementWriter = (*Store)(nil)

func New() *Store {
	return &Store{index: make(map[string]int)}
}

// AppendSettlement stores the row and returns a synthetic row reference.
func (s *Store) AppendSettlement(_ context.Context, row export.SettlementRow) (string, error) {
	if row.TripID == "" {
		return "", fmt.Errorf("settlement row without trip id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.index[row.TripID]; ok {
		return fmt.Sprintf("mem:%d", i+1), nil
	}
	s.rows = append(s.rows, row)
	s.index[row.TripID] = len(s.rows) - 1
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// Rows returns a copy of the exported rows in append order.
func (s *Store) Rows() []export.SettlementRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]export.SettlementRow(nil), s.rows...)
}
