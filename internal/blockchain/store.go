package blockchain

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrRecordNotFound is returned when a blockchain record does not exist
var ErrRecordNotFound = errors.New("blockchain record not found")

// Store persists blockchain records. Save is an upsert keyed by
// record_id that refreshes only the confirmation-related columns.
type Store interface {
	Save(ctx context.Context, record *Record) error
	GetByTxHash(ctx context.Context, txHash string) (*Record, error)
	// GetPending returns pending records, oldest first.
	GetPending(ctx context.Context, limit int) ([]*Record, error)
}

// MemoryStore is an in-memory Store used in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Save(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[record.RecordID]; ok {
		updated := existing.Clone()
		updated.Status = record.Status
		updated.ConfirmedAt = record.ConfirmedAt
		updated.BlockNumber = record.BlockNumber
		updated.GasUsed = record.GasUsed
		updated.ErrorMessage = record.ErrorMessage
		s.records[record.RecordID] = updated
		return nil
	}

	s.records[record.RecordID] = record.Clone()
	return nil
}

func (s *MemoryStore) GetByTxHash(ctx context.Context, txHash string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.records {
		if r.TxHash == txHash {
			return r.Clone(), nil
		}
	}
	return nil, ErrRecordNotFound
}

func (s *MemoryStore) GetPending(ctx context.Context, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, 0)
	for _, r := range s.records {
		if r.Status == StatusPending {
			out = append(out, r.Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
