package storage

import (
	"sync"
)

// SettlementStore is the append-only settlement log.
type SettlementStore interface {
	Append(record SettlementRecord)
	List() []SettlementRecord
	Recent(limit int) []SettlementRecord
	Count() int
}

// Memory keeps settlement records in process memory. Readers get copies
// and may run concurrently with the poll loop.
type Memory struct {
	mu      sync.RWMutex
	records []SettlementRecord
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Append adds a record to the end of the log.
func (m *Memory) Append(record SettlementRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
}

// List returns every record, oldest first.
func (m *Memory) List() []SettlementRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]SettlementRecord(nil), m.records...)
}

// Recent returns up to limit records, newest first.
func (m *Memory) Recent(limit int) []SettlementRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	out := make([]SettlementRecord, 0, limit)
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[i])
	}
	return out
}

// Count returns the number of stored records.
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

var _ SettlementStore = (*Memory)(nil)
