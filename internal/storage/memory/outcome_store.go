package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/AparnaKarve/aiops-data-collector/internal/collector"
)

// OutcomeStore is an append-only in-memory outcome ledger.
type OutcomeStore struct {
	mu      sync.RWMutex
	records []collector.OutcomeRecord
}

// NewOutcomeStore constructs an empty OutcomeStore.
func NewOutcomeStore() *OutcomeStore {
	return &OutcomeStore{}
}

// RecordOutcome appends a ledger row.
func (s *OutcomeStore) RecordOutcome(_ context.Context, record collector.OutcomeRecord) error {
	if record.JobID == "" {
		return errors.New("job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

// Records returns every row in insertion order.
func (s *OutcomeStore) Records() []collector.OutcomeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]collector.OutcomeRecord, len(s.records))
	copy(out, s.records)
	return out
}

// ForJob returns the rows recorded for jobID.
func (s *OutcomeStore) ForJob(jobID string) []collector.OutcomeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []collector.OutcomeRecord
	for _, rec := range s.records {
		if rec.JobID == jobID {
			out = append(out, rec)
		}
	}
	return out
}
