package journal

import (
	"context"
	"sync"

	"premium_trader/internal/core"
)

// MemoryJournal keeps records in memory. Used in tests and dry runs.
type MemoryJournal struct {
	mu      sync.Mutex
	records []core.TradeRecord
}

var _ core.IJournal = (*MemoryJournal)(nil)

func NewMemory() *MemoryJournal {
	return &MemoryJournal{}
}

func (j *MemoryJournal) Record(_ context.Context, rec core.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	return nil
}

// Records returns a copy of everything recorded so far.
func (j *MemoryJournal) Records() []core.TradeRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]core.TradeRecord, len(j.records))
	copy(out, j.records)
	return out
}

func (j *MemoryJournal) Close() error {
	return nil
}
