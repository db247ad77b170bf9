//go:build test

package patch

import (
	"fmt"
	"sync"
	"testing"

	"github.com/isseis/go-obfuhook/internal/llil"
	"github.com/isseis/go-obfuhook/internal/tokenstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testView ViewID = "sha256:0123456789abcdef"
	regECX          = llil.RegisterID(1)
	regEDX          = llil.RegisterID(2)
)

func selfAdd(r llil.RegisterID, c uint64) *llil.Expr {
	return llil.SetReg(4, r, llil.Binary(llil.OpAdd, 4, llil.FlagsAll, llil.Reg(4, r), llil.Const(4, c)))
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		length  int
		tokens  []tokenstream.Token
		wantErr error
	}{
		{
			name:   "nop",
			length: 6,
			tokens: tokenstream.Encode(llil.Nop()),
		},
		{
			name:   "two instructions",
			length: 12,
			tokens: tokenstream.Encode(selfAdd(regECX, 1), selfAdd(regEDX, 2)),
		},
		{
			name:    "zero length",
			length:  0,
			tokens:  tokenstream.Encode(llil.Nop()),
			wantErr: ErrInvalidLength,
		},
		{
			name:    "empty token list",
			length:  1,
			tokens:  nil,
			wantErr: ErrEmptyPatch,
		},
		{
			name:    "malformed token list",
			length:  1,
			tokens:  []tokenstream.Token{tokenstream.OperandToken(1)},
			wantErr: tokenstream.ErrMalformedStream,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(0x1000, tt.length, tt.tokens)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, p)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, uint64(0x1000), p.Address)
			assert.Equal(t, tt.length, p.Length)
			assert.Equal(t, tt.tokens, p.Tokens())
			assert.NotEmpty(t, p.Instructions())
		})
	}
}

func TestNew_CopiesTokens(t *testing.T) {
	tokens := tokenstream.Encode(selfAdd(regECX, 1))
	p, err := New(0x10, 6, tokens)
	require.NoError(t, err)

	tokens[0].Value = 99
	assert.Equal(t, uint64(regECX), p.Tokens()[0].Value)

	out := p.Tokens()
	out[0].Value = 77
	assert.Equal(t, uint64(regECX), p.Tokens()[0].Value)
}

func TestStore_AddLookupRemove(t *testing.T) {
	s := NewStore(testView)
	assert.Equal(t, testView, s.View())

	_, ok := s.Lookup(0x100)
	assert.False(t, ok)

	p, err := s.Add(0x100, 6, tokenstream.Encode(llil.Nop()))
	require.NoError(t, err)

	got, ok := s.Lookup(0x100)
	require.True(t, ok)
	assert.Same(t, p, got)

	// Replacing keeps one entry per address.
	p2, err := s.Add(0x100, 6, tokenstream.Encode(selfAdd(regECX, 3)))
	require.NoError(t, err)
	got, _ = s.Lookup(0x100)
	assert.Same(t, p2, got)
	assert.Equal(t, 1, s.Len())

	assert.True(t, s.Remove(0x100))
	assert.False(t, s.Remove(0x100))
	assert.Equal(t, 0, s.Len())
}

func TestStore_RejectsInvalidPatchWithoutSideEffects(t *testing.T) {
	s := NewStore(testView)
	_, err := s.Add(0x100, 6, tokenstream.Encode(llil.Nop()))
	require.NoError(t, err)

	_, err = s.Add(0x100, 6, []tokenstream.Token{tokenstream.OperationToken(llil.OpNop)})
	require.Error(t, err)

	got, ok := s.Lookup(0x100)
	require.True(t, ok)
	assert.Equal(t, llil.OpNop, got.Instructions()[0].Op)
}

func TestStore_PatchesOrdered(t *testing.T) {
	s := NewStore(testView)
	for _, addr := range []uint64{0x300, 0x100, 0x200} {
		_, err := s.Add(addr, 1, tokenstream.Encode(llil.Nop()))
		require.NoError(t, err)
	}

	patches := s.Patches()
	require.Len(t, patches, 3)
	assert.Equal(t, uint64(0x100), patches[0].Address)
	assert.Equal(t, uint64(0x200), patches[1].Address)
	assert.Equal(t, uint64(0x300), patches[2].Address)
}

func TestStore_ConcurrentLookupsDuringWrites(t *testing.T) {
	s := NewStore(testView)
	nop := tokenstream.Encode(llil.Nop())

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				addr := uint64(w*1000 + i)
				_, err := s.Add(addr, 1, nop)
				assert.NoError(t, err)
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if p, ok := s.Lookup(uint64(i)); ok {
					assert.Equal(t, 1, p.Length)
					assert.Len(t, p.Instructions(), 1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 800, s.Len())
}

func TestRecord_PreservesUnknownOperations(t *testing.T) {
	unknown := llil.NewExpr(llil.Operation(900), 4, 0, llil.IntOperand(7))
	p, err := FromInstructions(0x40, 3, unknown)
	require.NoError(t, err)

	rec := toRecord(p)
	for _, tr := range rec.Tokens {
		if tr.Kind == tokenstream.Operation.String() && tr.Value == 900 {
			assert.Empty(t, tr.Name)
		}
	}

	back, err := fromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, p.Tokens(), back.Tokens())
	assert.Equal(t, llil.Operation(900), back.Instructions()[0].Op)
}

func TestRecord_NamesKnownOperations(t *testing.T) {
	p, err := FromInstructions(0x40, 3, llil.Nop())
	require.NoError(t, err)

	rec := toRecord(p)
	last := rec.Tokens[len(rec.Tokens)-1]
	assert.Equal(t, "operation", last.Kind)
	assert.Equal(t, llil.OpNop.String(), last.Name)
}

func TestRecord_UnknownKind(t *testing.T) {
	_, err := fromRecord(Record{Address: 1, Length: 1, Tokens: []TokenRecord{{Kind: "bogus"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf("%q", "bogus"))
}
