//go:build test

package arch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	assert.Nil(t, r.Register(fakeArch{}))

	a, err := r.GetByName("fake")
	require.NoError(t, err)
	assert.Equal(t, fakeArch{}, a)

	_, err = r.GetByName("missing")
	assert.ErrorIs(t, err, ErrArchitectureNotFound)
}

func TestRegistry_HookReplacesBase(t *testing.T) {
	r := NewRegistry()
	r.Register(fakeArch{})

	h := NewHook(fakeArch{}, nil)
	prev := r.Register(h)
	assert.Equal(t, fakeArch{}, prev)

	a, err := r.GetByName("fake")
	require.NoError(t, err)
	assert.Same(t, h, a)
	assert.Equal(t, []string{"fake"}, r.Names())
}

func TestInstructionInfo_EndsBlock(t *testing.T) {
	assert.False(t, InstructionInfo{Length: 1}.EndsBlock())
	assert.False(t, InstructionInfo{Branches: []Branch{{Type: CallDestination, Target: 1}}}.EndsBlock())
	assert.True(t, InstructionInfo{Branches: []Branch{{Type: FunctionReturn}}}.EndsBlock())
}

func TestBranchType_String(t *testing.T) {
	assert.Equal(t, "true", TrueBranch.String())
	assert.Equal(t, "unknown", BranchType(99).String())
	assert.True(t, CallDestination.HasTarget())
	assert.False(t, IndirectBranch.HasTarget())
}
