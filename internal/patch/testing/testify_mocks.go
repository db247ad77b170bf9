// Package patchtesting provides mock implementations for patch persistence testing.
package patchtesting

import (
	"github.com/isseis/go-obfuhook/internal/patch"
	"github.com/stretchr/testify/mock"
)

// MockPersister is a mock implementation of patch.Persister
type MockPersister struct {
	mock.Mock
}

// LoadPatches mocks the LoadPatches method
func (m *MockPersister) LoadPatches(view patch.ViewID) ([]patch.Record, error) {
	args := m.Called(view)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]patch.Record), args.Error(1)
}

// SavePatches mocks the SavePatches method
func (m *MockPersister) SavePatches(view patch.ViewID, records []patch.Record) error {
	args := m.Called(view, records)
	return args.Error(0)
}

// RecordsAt returns a matcher for record lists holding exactly the given
// addresses in order.
func RecordsAt(addresses ...uint64) any {
	return mock.MatchedBy(func(records []patch.Record) bool {
		if len(records) != len(addresses) {
			return false
		}
		for i, r := range records {
			if r.Address != addresses[i] {
				return false
			}
		}
		return true
	})
}
