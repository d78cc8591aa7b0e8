package storage

import (
	"slices"
	"sync"
	"time"

	"connlog/pkg/models"

	"github.com/google/uuid"
)

// Retention defaults
const (
	DefaultMaxLogs        = 2000
	DefaultMaxLogsPerConn = 400
)

// MemoryStore is the bounded, arrival-ordered log working set.
// It keeps at most maxLogs records overall and at most maxPerConn records
// for any single connection id.
type MemoryStore struct {
	logs       []models.LogRecord
	connCounts map[int64]int // conn id -> records currently retained
	mu         sync.RWMutex
	maxLogs    int
	maxPerConn int
	newID      func() string
}

// Option configures a MemoryStore
type Option func(*MemoryStore)

// WithMaxLogs overrides the global retention cap
func WithMaxLogs(n int) Option {
	return func(ms *MemoryStore) {
		if n > 0 {
			ms.maxLogs = n
		}
	}
}

// WithMaxLogsPerConn overrides the per-connection retention cap
func WithMaxLogsPerConn(n int) Option {
	return func(ms *MemoryStore) {
		if n > 0 {
			ms.maxPerConn = n
		}
	}
}

// WithIDGenerator replaces the UUID generator used for record ids
func WithIDGenerator(f func() string) Option {
	return func(ms *MemoryStore) {
		if f != nil {
			ms.newID = f
		}
	}
}

// NewMemoryStore creates an empty store
func NewMemoryStore(opts ...Option) *MemoryStore {
	ms := &MemoryStore{
		connCounts: make(map[int64]int),
		maxLogs:    DefaultMaxLogs,
		maxPerConn: DefaultMaxLogsPerConn,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(ms)
	}
	ms.logs = make([]models.LogRecord, 0, ms.maxLogs+1)
	return ms
}

// Append stores a new record at the tail and applies both eviction passes,
// global first, then per connection. It never fails.
func (ms *MemoryStore) Append(level models.Level, message string, connID *int64, ts time.Time) models.LogRecord {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var conn *int64
	if connID != nil {
		id := *connID
		conn = &id
	}

	rec := models.LogRecord{
		ID:          ms.newID(),
		Level:       level,
		Message:     message,
		ArrivalTime: ts,
		ConnID:      conn,
	}
	ms.logs = append(ms.logs, rec)
	if conn != nil {
		ms.connCounts[*conn]++
	}

	ms.evictGlobal()
	if conn != nil {
		ms.evictPerConnection(*conn)
	}
	return rec
}

// evictGlobal drops the oldest records beyond maxLogs
func (ms *MemoryStore) evictGlobal() {
	excess := len(ms.logs) - ms.maxLogs
	if excess <= 0 {
		return
	}
	for _, rec := range ms.logs[:excess] {
		ms.forget(rec)
	}
	ms.logs = slices.Delete(ms.logs, 0, excess)
}

// evictPerConnection removes records of connID that lie beyond the newest
// maxPerConn ones. Removal is positional; other records keep their order.
func (ms *MemoryStore) evictPerConnection(connID int64) {
	// counts are exact, so a connection under cap needs no scan
	if ms.connCounts[connID] <= ms.maxPerConn {
		return
	}

	count := 0
	for i := len(ms.logs) - 1; i >= 0; i-- {
		if !ms.logs[i].SameConn(connID) {
			continue
		}
		count++
		if count > ms.maxPerConn {
			ms.forget(ms.logs[i])
			ms.logs = slices.Delete(ms.logs, i, i+1)
		}
	}
}

// forget updates the connection index for a record leaving the store
func (ms *MemoryStore) forget(rec models.LogRecord) {
	if rec.ConnID == nil {
		return
	}
	id := *rec.ConnID
	if ms.connCounts[id] <= 1 {
		delete(ms.connCounts, id)
		return
	}
	ms.connCounts[id]--
}

// Clear empties the store. Record ids keep coming from the same generator.
func (ms *MemoryStore) Clear() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	clear(ms.logs)
	ms.logs = ms.logs[:0]
	clear(ms.connCounts)
}

// Snapshot returns a copy of every stored record, oldest first
func (ms *MemoryStore) Snapshot() []models.LogRecord {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return slices.Clone(ms.logs)
}

// GetByLevel returns all records of a specific level, oldest first
func (ms *MemoryStore) GetByLevel(level models.Level) []models.LogRecord {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	result := make([]models.LogRecord, 0)
	for _, rec := range ms.logs {
		if rec.Level == level {
			result = append(result, rec)
		}
	}
	return result
}

// GetRecent returns the N most recent records, oldest first
func (ms *MemoryStore) GetRecent(n int) []models.LogRecord {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	start := len(ms.logs) - n
	if start < 0 {
		start = 0
	}
	return slices.Clone(ms.logs[start:])
}

// Count returns total number of records stored
func (ms *MemoryStore) Count() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.logs)
}

// CountConn returns how many records of a connection are retained
func (ms *MemoryStore) CountConn(connID int64) int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.connCounts[connID]
}

// Connections returns the number of distinct connection ids retained
func (ms *MemoryStore) Connections() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.connCounts)
}

// Caps returns the global and per-connection retention caps
func (ms *MemoryStore) Caps() (maxLogs, maxPerConn int) {
	return ms.maxLogs, ms.maxPerConn
}
