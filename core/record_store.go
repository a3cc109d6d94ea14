package core

import (
	"context"
	"fmt"
	"sync"
)

// MemoryRecordStore keeps entry records in process memory. It backs the
// service when no file or database store is wired, and doubles as the test
// store.
type MemoryRecordStore struct {
	mu      sync.Mutex
	records []EntryRecord

	// AfterSave runs after each successful Save with the persisted records.
	AfterSave func(records []EntryRecord)
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{}
}

func (s *MemoryRecordStore) Load(_ context.Context) ([]EntryRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("core: record store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneEntryRecords(s.records), nil
}

func (s *MemoryRecordStore) Save(_ context.Context, records []EntryRecord) error {
	if s == nil {
		return fmt.Errorf("core: record store is not configured")
	}
	cloned := cloneEntryRecords(records)
	s.mu.Lock()
	s.records = cloned
	after := s.AfterSave
	s.mu.Unlock()
	if after != nil {
		after(cloneEntryRecords(cloned))
	}
	return nil
}

func cloneEntryRecords(records []EntryRecord) []EntryRecord {
	if records == nil {
		return nil
	}
	out := make([]EntryRecord, len(records))
	for i, record := range records {
		record.Data = cloneAnyMap(record.Data)
		out[i] = record
	}
	return out
}
