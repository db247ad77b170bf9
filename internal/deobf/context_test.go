//go:build test

package deobf

import (
	"testing"

	"github.com/isseis/go-obfuhook/internal/arch/x86"
	"github.com/isseis/go-obfuhook/internal/llil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type line struct {
	addr   uint64
	length int
	expr   *llil.Expr
}

func newTestContext(t *testing.T, lines ...line) *Context {
	t.Helper()
	return newModeContext(t, 32, lines...)
}

func newModeContext(t *testing.T, bits int, lines ...line) *Context {
	t.Helper()
	a, err := x86.New(bits)
	require.NoError(t, err)

	insns := make([]llil.Instruction, len(lines))
	lengths := make(map[uint64]int)
	for i, l := range lines {
		insns[i] = llil.Instruction{Index: i, Address: l.addr, Expr: l.expr}
		lengths[l.addr] = l.length
	}
	return NewContext(insns, lengths, a)
}

func reg(t *testing.T, name string) llil.RegisterID {
	t.Helper()
	return modeReg(t, 32, name)
}

func modeReg(t *testing.T, bits int, name string) llil.RegisterID {
	t.Helper()
	a, err := x86.New(bits)
	require.NoError(t, err)
	r, ok := a.RegisterByName(name)
	require.True(t, ok, name)
	return r
}

func addConst(r llil.RegisterID, size int, v uint64) *llil.Expr {
	return llil.SetReg(size, r, llil.Binary(llil.OpAdd, size, llil.FlagsAll, llil.Reg(size, r), llil.Const(size, v)))
}

func TestContext_Next(t *testing.T) {
	ecx := reg(t, "ecx")
	c := newTestContext(t,
		line{0x10, 3, addConst(ecx, 4, 1)},
		line{0x13, 3, addConst(ecx, 4, 1)},
		line{0x20, 1, llil.Nop()},
		line{0x21, 2, llil.Unary(llil.OpJump, 4, llil.Const(4, 0x10))},
		line{0x23, 1, llil.Nop()},
	)

	assert.Equal(t, 1, c.Next(0))
	assert.Equal(t, -1, c.Next(1), "gap in addresses")
	assert.Equal(t, 3, c.Next(2))
	assert.Equal(t, -1, c.Next(3), "control flow")
	assert.Equal(t, -1, c.Next(4), "end of function")
}

func TestContext_RegisterDead(t *testing.T) {
	eax, ah, al := reg(t, "eax"), reg(t, "ah"), reg(t, "al")
	esp := reg(t, "esp")
	ret := llil.Unary(llil.OpRet, 4, llil.Reg(4, esp))

	t.Run("low byte does not kill high byte", func(t *testing.T) {
		c := newTestContext(t,
			line{0, 2, addConst(ah, 1, 1)},
			line{2, 2, llil.SetReg(1, al, llil.Const(1, 0))},
			line{4, 1, llil.Unary(llil.OpJump, 4, llil.Reg(4, eax))},
		)
		assert.False(t, c.RegisterDead(ah, 1, 0))
	})

	t.Run("wider write kills", func(t *testing.T) {
		c := newTestContext(t,
			line{0, 2, addConst(ah, 1, 1)},
			line{2, 5, llil.SetReg(4, eax, llil.Const(4, 0))},
			line{7, 1, ret},
		)
		assert.True(t, c.RegisterDead(ah, 1, 0))
	})

	t.Run("stack pointer", func(t *testing.T) {
		c := newTestContext(t,
			line{0, 3, addConst(esp, 4, 4)},
			line{3, 5, llil.SetReg(4, esp, llil.Const(4, 0))},
		)
		assert.True(t, c.IsStackPointer(esp))
		assert.False(t, c.RegisterDead(esp, 4, 0))
	})
}

func TestContext_ZeroExtension(t *testing.T) {
	ecx, rcx, cx := modeReg(t, 64, "ecx"), modeReg(t, 64, "rcx"), modeReg(t, 64, "cx")
	rax := modeReg(t, 64, "rax")
	rsp := modeReg(t, 64, "rsp")
	ret := llil.Unary(llil.OpRet, 8, llil.Reg(8, rsp))

	c := newModeContext(t, 64,
		line{0, 3, addConst(ecx, 4, 7)},
		line{3, 7, llil.SetReg(8, rcx, llil.Const(8, 0))},
		line{10, 1, ret},
	)
	assert.True(t, c.ZeroExtends(ecx))
	assert.False(t, c.ZeroExtends(rcx))
	assert.False(t, c.ZeroExtends(cx))
	assert.Equal(t, 8, c.ValueSize(ecx, 4))
	assert.Equal(t, 2, c.ValueSize(cx, 2))
	assert.True(t, c.RegisterDead(ecx, 8, 0), "64-bit write kills the zero-extended value")

	t.Run("full read observes the cleared upper half", func(t *testing.T) {
		c := newModeContext(t, 64,
			line{0, 3, addConst(ecx, 4, 7)},
			line{3, 3, llil.SetReg(8, rax, llil.Reg(8, rcx))},
			line{6, 1, ret},
		)
		assert.False(t, c.RegisterDead(ecx, 8, 0))
	})

	t.Run("32-bit write kills the whole family", func(t *testing.T) {
		c := newModeContext(t, 64,
			line{0, 4, addConst(rcx, 8, 7)},
			line{4, 5, llil.SetReg(4, ecx, llil.Const(4, 0))},
			line{9, 3, llil.SetReg(8, rax, llil.Reg(8, rcx))},
			line{12, 1, ret},
		)
		assert.True(t, c.RegisterDead(rcx, 8, 0))
	})

	t.Run("32-bit mode does not zero-extend", func(t *testing.T) {
		c := newTestContext(t, line{0, 1, llil.Nop()})
		assert.False(t, c.ZeroExtends(reg(t, "ecx")))
	})
}

func TestContext_FlagsDead(t *testing.T) {
	ecx, edx := reg(t, "ecx"), reg(t, "edx")
	inc := llil.SetReg(4, edx, llil.Binary(llil.OpAdd, 4, llil.FlagsNoCarry, llil.Reg(4, edx), llil.Const(4, 1)))
	adc := llil.SetReg(4, edx, llil.Binary(llil.OpAdd, 4, llil.FlagsAll, llil.Reg(4, edx), llil.FlagCond(llil.CondUnsignedLess)))

	t.Run("overwritten", func(t *testing.T) {
		c := newTestContext(t,
			line{0, 3, addConst(ecx, 4, 1)},
			line{3, 3, addConst(edx, 4, 1)},
		)
		assert.True(t, c.FlagsDead(0))
		assert.False(t, c.FlagsDead(1))
	})

	t.Run("carry survives partial write", func(t *testing.T) {
		c := newTestContext(t,
			line{0, 3, addConst(ecx, 4, 1)},
			line{3, 1, inc},
			line{4, 3, adc},
		)
		assert.False(t, c.FlagsDead(0))
	})
}
