//go:build test

package patchtesting

import (
	"errors"
	"testing"

	"github.com/isseis/go-obfuhook/internal/llil"
	"github.com/isseis/go-obfuhook/internal/patch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMockPersister_ImplementsInterface(_ *testing.T) {
	var _ patch.Persister = (*MockPersister)(nil)
}

func TestMockPersister_DrivesRegistry(t *testing.T) {
	m := &MockPersister{}
	m.On("LoadPatches", patch.ViewID("v")).Return(nil, patch.ErrRecordNotFound)
	m.On("SavePatches", patch.ViewID("v"), RecordsAt(0x10, 0x20)).Return(nil)

	r := patch.NewRegistry(m)
	require.NoError(t, r.Load("v"))
	for _, addr := range []uint64{0x20, 0x10} {
		p, err := patch.FromInstructions(addr, 1, llil.Nop())
		require.NoError(t, err)
		r.Store("v").Put(p)
	}
	require.NoError(t, r.Save("v"))

	m.AssertExpectations(t)
}

func TestMockPersister_SaveFailure(t *testing.T) {
	m := &MockPersister{}
	m.On("SavePatches", mock.Anything, mock.Anything).Return(errors.New("read-only"))

	err := patch.NewRegistry(m).Save("v")
	assert.ErrorIs(t, err, patch.ErrPersistence)
	m.AssertNumberOfCalls(t, "SavePatches", 1)
}
