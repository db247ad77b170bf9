//go:build test

package llil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubNames map[RegisterID]string

func (s stubNames) RegisterName(r RegisterID) string { return s[r] }

const (
	regECX RegisterID = 7
	regEDX RegisterID = 8
)

var names = stubNames{regECX: "ecx", regEDX: "edx"}

func addSelf(r RegisterID, c uint64) *Expr {
	return SetReg(4, r, Binary(OpAdd, 4, FlagsAll, Reg(4, r), Const(4, c)))
}

func TestOperation_String(t *testing.T) {
	assert.Equal(t, "set_reg", OpSetReg.String())
	assert.Equal(t, "nop", OpNop.String())
	assert.Equal(t, "op_4096", Operation(4096).String())
	assert.False(t, Operation(4096).Known())

	op, ok := OperationByName("add")
	require.True(t, ok)
	assert.Equal(t, OpAdd, op)

	_, ok = OperationByName("bogus")
	assert.False(t, ok)
}

func TestConst_Truncates(t *testing.T) {
	v, ok := Const(4, 0xffffffffdeadbeef).ConstValue()
	require.True(t, ok)
	assert.Equal(t, uint64(0xdeadbeef), v)

	v, ok = Const(8, 0xffffffffdeadbeef).ConstValue()
	require.True(t, ok)
	assert.Equal(t, uint64(0xffffffffdeadbeef), v)
}

func TestExpr_RegisterQueries(t *testing.T) {
	e := addSelf(regECX, 0xdeadbeef)

	dst, ok := e.DestRegister()
	require.True(t, ok)
	assert.Equal(t, regECX, dst)
	assert.True(t, e.ReadsRegister(regECX))
	assert.False(t, e.ReadsRegister(regEDX))
	assert.True(t, e.WritesFlags())
	assert.False(t, e.ReadsFlags())

	inc := SetReg(4, regECX, Binary(OpAdd, 4, FlagsNoCarry, Reg(4, regECX), Const(4, 1)))
	assert.True(t, inc.WritesFlags())
	assert.False(t, inc.WritesAllFlags())

	overwrite := SetReg(4, regECX, Const(4, 1))
	assert.False(t, overwrite.ReadsRegister(regECX))
	assert.False(t, overwrite.WritesFlags())

	branch := If(FlagCond(CondEqual), Const(4, 0x10), Const(4, 0x20))
	assert.True(t, branch.ReadsFlags())
}

func TestExpr_Equal(t *testing.T) {
	a := addSelf(regECX, 0xdeadbeef)
	b := addSelf(regECX, 0xdeadbeef)
	c := addSelf(regECX, 0xcafef00d)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))
	assert.True(t, (*Expr)(nil).Equal(nil))
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		expr *Expr
		want string
	}{
		{name: "self add", expr: addSelf(regECX, 0xdeadbeef), want: "ecx = ecx + 0xdeadbeef"},
		{name: "nop", expr: Nop(), want: "nop"},
		{name: "load", expr: SetReg(4, regEDX, Unary(OpLoad, 4, Reg(4, regECX))), want: "edx = [ecx].4"},
		{name: "store", expr: Store(4, Reg(4, regECX), Const(4, 1)), want: "[ecx].4 = 0x1"},
		{name: "if", expr: If(FlagCond(CondNotEqual), Const(4, 0x10), Const(4, 0x20)), want: "if (cond:ne) then 0x10 else 0x20"},
		{name: "unknown op", expr: NewExpr(Operation(900), 4, 0, IntOperand(1), ExprOperand(Reg(4, regEDX))), want: "op_900(0x1, edx)"},
		{name: "unnamed register", expr: Reg(4, 99), want: "r99"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.expr, names))
		})
	}
}

func TestRender_PartKinds(t *testing.T) {
	parts := Render(addSelf(regECX, 0x10), names)
	require.Len(t, parts, 5)
	assert.Equal(t, PartRegister, parts[0].Kind)
	assert.Equal(t, uint64(regECX), parts[0].Value)
	assert.Equal(t, PartInteger, parts[4].Kind)
	assert.Equal(t, uint64(0x10), parts[4].Value)
}

func TestFunction_SortByAddress(t *testing.T) {
	f := NewFunction()
	f.SetCurrentAddress(0x20)
	f.Append(Nop())
	f.SetCurrentAddress(0x10)
	f.Append(addSelf(regECX, 1))
	f.Append(addSelf(regEDX, 2))

	f.SortByAddress()

	require.Equal(t, 3, f.Len())
	assert.Equal(t, uint64(0x10), f.At(0).Address)
	assert.Equal(t, uint64(0x10), f.At(1).Address)
	assert.Equal(t, uint64(0x20), f.At(2).Address)
	dst, _ := f.At(1).Expr.DestRegister()
	assert.Equal(t, regEDX, dst)
	assert.Equal(t, 2, f.At(2).Index)
	assert.Equal(t, []uint64{0x10, 0x20}, f.Addresses())
	assert.Len(t, f.InstructionsAt(0x10), 2)
}
