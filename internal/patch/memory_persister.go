package patch

import "sync"

// MemoryPersister keeps saved records in process memory. Two registries that
// share one MemoryPersister behave like two sessions sharing a patch file.
type MemoryPersister struct {
	mu      sync.Mutex
	records map[ViewID][]Record
}

// NewMemoryPersister creates an empty in-memory persister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{records: make(map[ViewID][]Record)}
}

// LoadPatches returns a copy of the records saved for view.
func (m *MemoryPersister) LoadPatches(view ViewID) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, ok := m.records[view]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return cloneRecords(records), nil
}

// SavePatches replaces the records saved for view.
func (m *MemoryPersister) SavePatches(view ViewID, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[view] = cloneRecords(records)
	return nil
}

func cloneRecords(records []Record) []Record {
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = Record{Address: r.Address, Length: r.Length, Tokens: append([]TokenRecord(nil), r.Tokens...)}
	}
	return out
}
