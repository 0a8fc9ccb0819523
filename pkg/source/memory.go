package source

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// MemorySource is a thread-safe in-memory source adapter. It's useful for:
// - Unit testing (no external store)
// - Small reference tables that fit in RAM
type MemorySource struct {
	mu      sync.RWMutex
	name    string
	idField string
	records map[string]Record
	closed  bool
}

// NewMemorySource creates an in-memory source. idField defaults to "id".
func NewMemorySource(name, idField string) *MemorySource {
	if idField == "" {
		idField = "id"
	}
	return &MemorySource{
		name:    name,
		idField: idField,
		records: make(map[string]Record),
	}
}

// Initialize is a no-op for the in-memory adapter.
func (m *MemorySource) Initialize(ctx context.Context) error { return nil }

// Read returns the single record matching the query.
func (m *MemorySource) Read(ctx context.Context, query Query, opts Options) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	// Fast path: direct identity lookup.
	if id, ok := query[m.idField].(string); ok && len(query) == 1 {
		rec, exists := m.records[id]
		if !exists {
			return nil, ErrNotFound
		}
		return copyRecord(rec), nil
	}

	for _, rec := range m.records {
		if matchQuery(rec, query) {
			return copyRecord(rec), nil
		}
	}
	return nil, ErrNotFound
}

// List returns all records matching the query, sorted and paged.
func (m *MemorySource) List(ctx context.Context, query Query, opts Options) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	matched := make([]Record, 0)
	for _, rec := range m.records {
		if matchQuery(rec, query) {
			matched = append(matched, copyRecord(rec))
		}
	}
	if opts.SortField == "" {
		// Deterministic order even without an explicit sort.
		sortRecords(matched, Options{SortField: m.idField, SortOrder: SortAsc})
	} else {
		sortRecords(matched, opts)
	}
	return applyPage(matched, opts), nil
}

// Count returns the number of records matching the query.
func (m *MemorySource) Count(ctx context.Context, query Query, opts Options) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrClosed
	}

	var n int64
	for _, rec := range m.records {
		if matchQuery(rec, query) {
			n++
		}
	}
	return n, nil
}

// NewInstance creates a record handle seeded with a snapshot.
func (m *MemorySource) NewInstance(data Record) Instance {
	return &memoryInstance{src: m, changeTracker: newChangeTracker(data)}
}

// Close shuts the adapter; subsequent calls fail with ErrClosed.
func (m *MemorySource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.records = nil
	return nil
}

func (m *MemorySource) flush(inst *memoryInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	id, _ := inst.Get(m.idField).(string)
	if id == "" {
		id = newULID()
		inst.setClean(m.idField, id)
		if _, exists := m.records[id]; exists {
			return ErrAlreadyExists
		}
		m.records[id] = copyRecord(inst.values)
		inst.clearModified()
		return nil
	}

	stored, exists := m.records[id]
	if !exists {
		// Caller-assigned identity on first flush.
		m.records[id] = copyRecord(inst.values)
		inst.clearModified()
		return nil
	}
	for _, name := range inst.ModifiedFields() {
		stored[name] = inst.values[name]
	}
	inst.clearModified()
	return nil
}

func (m *MemorySource) remove(inst *memoryInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	id, _ := inst.Get(m.idField).(string)
	if id == "" {
		return ErrInvalidData
	}
	if _, exists := m.records[id]; !exists {
		return ErrNotFound
	}
	delete(m.records, id)
	return nil
}

type memoryInstance struct {
	changeTracker
	src *MemorySource
}

func (i *memoryInstance) ID() any { return i.Get(i.src.idField) }

func (i *memoryInstance) Flush(ctx context.Context) error { return i.src.flush(i) }

func (i *memoryInstance) Remove(ctx context.Context) error { return i.src.remove(i) }

func newULID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// Verify MemorySource implements the Source interface.
var _ Source = (*MemorySource)(nil)
