package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/screenshot-service/internal/screenshot"
)

// RecordStore provides an in-memory screenshot.RecordStore.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]screenshot.Record
}

// NewRecordStore constructs a RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[string]screenshot.Record)}
}

// Save inserts or replaces a record.
func (s *RecordStore) Save(_ context.Context, record screenshot.Record) error {
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record
	return nil
}

// Get returns the record for id or screenshot.ErrNotFound.
func (s *RecordStore) Get(_ context.Context, id string) (screenshot.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return screenshot.Record{}, fmt.Errorf("screenshot %s: %w", id, screenshot.ErrNotFound)
	}
	return record, nil
}

// List returns records newest first. Ties break on ID, newest-generated first.
func (s *RecordStore) List(_ context.Context, limit int) ([]screenshot.Record, error) {
	s.mu.RLock()
	out := make([]screenshot.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
