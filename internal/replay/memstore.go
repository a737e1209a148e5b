package replay

import (
	"context"
	"sync"

	"github.com/quantfall/perpintel/internal/core"
)

// MemBatchStore is the in-memory batch store used when the engine runs
// without Postgres. Batches do not survive a restart.
type MemBatchStore struct {
	mu      sync.Mutex
	batches map[string]Batch
}

func NewMemBatchStore() *MemBatchStore {
	return &MemBatchStore{batches: make(map[string]Batch)}
}

func (s *MemBatchStore) Create(_ context.Context, b Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[b.ID] = b
	return nil
}

func (s *MemBatchStore) Get(_ context.Context, id string) (Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return Batch{}, core.NewError(core.KindNotFound, "batch %s not found", id)
	}
	return b, nil
}

func (s *MemBatchStore) Update(_ context.Context, b Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[b.ID]; !ok {
		return core.NewError(core.KindNotFound, "batch %s not found", b.ID)
	}
	s.batches[b.ID] = b
	return nil
}

func (s *MemBatchStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.batches, id)
	return nil
}

// MemStateStore is the in-memory state store counterpart.
type MemStateStore struct {
	mu      sync.Mutex
	records []StateRecord
}

func NewMemStateStore() *MemStateStore {
	return &MemStateStore{}
}

func (s *MemStateStore) Save(_ context.Context, rec StateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *MemStateStore) Exists(_ context.Context, symbol string, asOfMs int64, configVersion int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.Symbol == symbol && rec.Timestamp == asOfMs && rec.ConfigVersion == configVersion {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemStateStore) ByBatch(_ context.Context, batchID string) ([]StateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []StateRecord
	for _, rec := range s.records {
		if rec.BatchID == batchID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemStateStore) Labeled(_ context.Context, rec StateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == rec.ID {
			s.records[i] = rec
			return nil
		}
	}
	return core.NewError(core.KindNotFound, "state record %s not found", rec.ID)
}

func (s *MemStateStore) DeleteByBatch(_ context.Context, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	for _, rec := range s.records {
		if rec.BatchID != batchID {
			kept = append(kept, rec)
		}
	}
	s.records = kept
	return nil
}

func (s *MemStateStore) AllLabeled(_ context.Context, symbol string) ([]StateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []StateRecord
	for _, rec := range s.records {
		if rec.OutcomeLabel == "" || rec.OutcomeLabel == core.OutcomePending {
			continue
		}
		if symbol != "" && rec.Symbol != symbol {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
