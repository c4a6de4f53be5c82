package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"
)

// MemoryArchive is a thread-safe in-memory Archive.
type MemoryArchive struct {
	mu     sync.RWMutex
	rounds map[string]RoundRecord
}

var _ Archive = (*MemoryArchive)(nil)

// NewMemoryArchive creates an empty archive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{rounds: make(map[string]RoundRecord)}
}

// SaveRound stores a record. Saving the same round twice is a no-op.
func (m *MemoryArchive) SaveRound(_ context.Context, rec RoundRecord) error {
	if rec.RoundID == "" {
		return errors.New("round id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rounds[rec.RoundID]; exists {
		return nil
	}
	m.rounds[rec.RoundID] = cloneRecord(rec)
	return nil
}

func (m *MemoryArchive) GetRound(_ context.Context, roundID string) (RoundRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.rounds[roundID]
	if !ok {
		return RoundRecord{}, fmt.Errorf("%w: %s", ErrNotFound, roundID)
	}
	return cloneRecord(rec), nil
}

func (m *MemoryArchive) ListRounds(_ context.Context, limit int) ([]RoundRecord, error) {
	m.mu.RLock()
	out := make([]RoundRecord, 0, len(m.rounds))
	for _, rec := range m.rounds {
		out = append(out, cloneRecord(rec))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DrawnAt.Equal(out[j].DrawnAt) {
			return out[i].Number > out[j].Number
		}
		return out[i].DrawnAt.After(out[j].DrawnAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneRecord(rec RoundRecord) RoundRecord {
	if rec.Pot != nil {
		rec.Pot = new(uint256.Int).Set(rec.Pot)
	}
	if rec.RandomValue != nil {
		rec.RandomValue = new(uint256.Int).Set(rec.RandomValue)
	}
	return rec
}
