//go:build test

package x86

import (
	"testing"

	"github.com/isseis/go-obfuhook/internal/arch"
	"github.com/isseis/go-obfuhook/internal/llil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"
)

func newArch(t *testing.T, bits int) *Arch {
	t.Helper()
	a, err := New(bits)
	require.NoError(t, err)
	return a
}

func lift(t *testing.T, a *Arch, addr uint64, code []byte) ([]llil.Instruction, int) {
	t.Helper()
	fn := llil.NewFunction()
	fn.SetCurrentAddress(addr)
	n, err := a.InstructionLowLevelIL(arch.Request{Address: addr, Data: code}, fn)
	require.NoError(t, err)
	return fn.Instructions(), n
}

func reg(r x86asm.Reg) llil.RegisterID {
	return llil.RegisterID(r)
}

func TestNew(t *testing.T) {
	a32 := newArch(t, 32)
	assert.Equal(t, "x86", a32.Name())
	assert.Equal(t, 4, a32.AddressSize())
	assert.Equal(t, reg(x86asm.ESP), a32.StackPointer())

	a64 := newArch(t, 64)
	assert.Equal(t, "x86_64", a64.Name())
	assert.Equal(t, 8, a64.AddressSize())
	assert.Equal(t, reg(x86asm.RSP), a64.StackPointer())
	assert.Equal(t, "sysv", a64.CallingConvention().Name)

	_, err := New(16)
	assert.Error(t, err)
}

func TestRegisters(t *testing.T) {
	a32 := newArch(t, 32)
	a64 := newArch(t, 64)

	assert.Equal(t, "ecx", a32.RegisterName(reg(x86asm.ECX)))
	assert.Equal(t, "", a32.RegisterName(reg(x86asm.RCX)))
	assert.Equal(t, "", a32.RegisterName(reg(x86asm.R8L)))
	assert.Equal(t, "r8d", a64.RegisterName(reg(x86asm.R8L)))
	assert.Equal(t, "sil", a64.RegisterName(reg(x86asm.SIB)))
	assert.Equal(t, "", a64.RegisterName(0))
	assert.Equal(t, "", a64.RegisterName(1<<20))

	id, ok := a64.RegisterByName("RDX")
	require.True(t, ok)
	assert.Equal(t, reg(x86asm.RDX), id)

	_, ok = a32.RegisterByName("rdx")
	assert.False(t, ok)

	byID := map[llil.RegisterID]arch.Register{}
	for _, r := range a64.Registers() {
		byID[r.ID] = r
	}
	assert.Equal(t, arch.Register{ID: reg(x86asm.AH), Name: "ah", Size: 1, Full: reg(x86asm.RAX)}, byID[reg(x86asm.AH)])
	assert.Equal(t, arch.Register{ID: reg(x86asm.R9W), Name: "r9w", Size: 2, Full: reg(x86asm.R9)}, byID[reg(x86asm.R9W)])
	assert.Equal(t, reg(x86asm.RCX), byID[reg(x86asm.ECX)].Full)

	for _, r := range a32.Registers() {
		assert.LessOrEqual(t, r.Size, 4)
	}
	ecx := a32.Registers()
	found := false
	for _, r := range ecx {
		if r.ID == reg(x86asm.CL) {
			found = true
			assert.Equal(t, reg(x86asm.ECX), r.Full)
		}
	}
	assert.True(t, found)
}

func TestInstructionInfo(t *testing.T) {
	tests := []struct {
		name     string
		bits     int
		code     []byte
		wantLen  int
		branches []arch.Branch
	}{
		{name: "nop", bits: 32, code: []byte{0x90}, wantLen: 1},
		{name: "add ecx imm32", bits: 32, code: []byte{0x81, 0xc1, 0xef, 0xbe, 0xad, 0xde}, wantLen: 6},
		{
			name: "jmp short", bits: 32, code: []byte{0xeb, 0x10}, wantLen: 2,
			branches: []arch.Branch{{Type: arch.UnconditionalBranch, Target: 0x1012}},
		},
		{
			name: "je short", bits: 64, code: []byte{0x74, 0x05}, wantLen: 2,
			branches: []arch.Branch{{Type: arch.TrueBranch, Target: 0x1007}, {Type: arch.FalseBranch, Target: 0x1002}},
		},
		{
			name: "call rel32", bits: 64, code: []byte{0xe8, 0x10, 0x00, 0x00, 0x00}, wantLen: 5,
			branches: []arch.Branch{{Type: arch.CallDestination, Target: 0x1015}},
		},
		{
			name: "jmp backwards wraps in 32-bit mode", bits: 32, code: []byte{0xe9, 0x00, 0xe0, 0xff, 0xff}, wantLen: 5,
			branches: []arch.Branch{{Type: arch.UnconditionalBranch, Target: 0xfffff005}},
		},
		{
			name: "jmp indirect", bits: 64, code: []byte{0xff, 0xe0}, wantLen: 2,
			branches: []arch.Branch{{Type: arch.IndirectBranch}},
		},
		{
			name: "ret", bits: 64, code: []byte{0xc3}, wantLen: 1,
			branches: []arch.Branch{{Type: arch.FunctionReturn}},
		},
		{
			name: "syscall", bits: 64, code: []byte{0x0f, 0x05}, wantLen: 2,
			branches: []arch.Branch{{Type: arch.SystemCall}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newArch(t, tt.bits)
			info, err := a.InstructionInfo(arch.Request{Address: 0x1000, Data: tt.code})
			require.NoError(t, err)
			assert.Equal(t, tt.wantLen, info.Length)
			assert.Equal(t, tt.branches, info.Branches)
		})
	}
}

func TestInstructionInfo_DecodeError(t *testing.T) {
	a := newArch(t, 64)
	_, err := a.InstructionInfo(arch.Request{Address: 0x1000})
	assert.ErrorIs(t, err, arch.ErrDecode)

	_, _, err = a.InstructionText(arch.Request{Address: 0x1000, Data: []byte{0x81}})
	assert.ErrorIs(t, err, arch.ErrDecode)
}

func TestInstructionLowLevelIL(t *testing.T) {
	tests := []struct {
		name string
		bits int
		code []byte
		want []*llil.Expr
	}{
		{
			name: "add ecx imm32",
			bits: 32,
			code: []byte{0x81, 0xc1, 0xef, 0xbe, 0xad, 0xde},
			want: []*llil.Expr{llil.SetReg(4, reg(x86asm.ECX),
				llil.Binary(llil.OpAdd, 4, llil.FlagsAll, llil.Reg(4, reg(x86asm.ECX)), llil.Const(4, 0xdeadbeef)))},
		},
		{
			name: "add rax imm8",
			bits: 64,
			code: []byte{0x48, 0x83, 0xc0, 0x01},
			want: []*llil.Expr{llil.SetReg(8, reg(x86asm.RAX),
				llil.Binary(llil.OpAdd, 8, llil.FlagsAll, llil.Reg(8, reg(x86asm.RAX)), llil.Const(8, 1)))},
		},
		{
			name: "sub with negative imm8 is sign extended",
			bits: 32,
			code: []byte{0x83, 0xe9, 0xff},
			want: []*llil.Expr{llil.SetReg(4, reg(x86asm.ECX),
				llil.Binary(llil.OpSub, 4, llil.FlagsAll, llil.Reg(4, reg(x86asm.ECX)), llil.Const(4, 0xffffffff)))},
		},
		{
			name: "mov eax ecx",
			bits: 32,
			code: []byte{0x89, 0xc8},
			want: []*llil.Expr{llil.SetReg(4, reg(x86asm.EAX), llil.Reg(4, reg(x86asm.ECX)))},
		},
		{
			name: "mov eax rip relative",
			bits: 64,
			code: []byte{0x8b, 0x05, 0x10, 0x00, 0x00, 0x00},
			want: []*llil.Expr{llil.SetReg(4, reg(x86asm.EAX), llil.Unary(llil.OpLoad, 4, llil.Const(8, 0x1016)))},
		},
		{
			name: "store to memory",
			bits: 32,
			code: []byte{0xc7, 0x01, 0x01, 0x00, 0x00, 0x00},
			want: []*llil.Expr{llil.Store(4, llil.Reg(4, reg(x86asm.ECX)), llil.Const(4, 1))},
		},
		{
			name: "lea with scaled index",
			bits: 32,
			code: []byte{0x8d, 0x44, 0x8a, 0x08},
			want: []*llil.Expr{llil.SetReg(4, reg(x86asm.EAX),
				llil.Binary(llil.OpAdd, 4, llil.FlagsNone,
					llil.Binary(llil.OpAdd, 4, llil.FlagsNone,
						llil.Reg(4, reg(x86asm.EDX)),
						llil.Binary(llil.OpMul, 4, llil.FlagsNone, llil.Reg(4, reg(x86asm.ECX)), llil.Const(4, 4))),
					llil.Const(4, 8)))},
		},
		{
			name: "cmp sets flags only",
			bits: 32,
			code: []byte{0x39, 0xc8},
			want: []*llil.Expr{llil.Binary(llil.OpSub, 4, llil.FlagsAll, llil.Reg(4, reg(x86asm.EAX)), llil.Reg(4, reg(x86asm.ECX)))},
		},
		{
			name: "inc ecx",
			bits: 32,
			code: []byte{0x41},
			want: []*llil.Expr{llil.SetReg(4, reg(x86asm.ECX),
				llil.Binary(llil.OpAdd, 4, llil.FlagsNoCarry, llil.Reg(4, reg(x86asm.ECX)), llil.Const(4, 1)))},
		},
		{
			name: "push ebp",
			bits: 32,
			code: []byte{0x55},
			want: []*llil.Expr{llil.Unary(llil.OpPush, 4, llil.Reg(4, reg(x86asm.EBP)))},
		},
		{
			name: "pop rbp",
			bits: 64,
			code: []byte{0x5d},
			want: []*llil.Expr{llil.SetReg(8, reg(x86asm.RBP), llil.NewExpr(llil.OpPop, 8, llil.FlagsNone))},
		},
		{
			name: "je",
			bits: 32,
			code: []byte{0x74, 0x05},
			want: []*llil.Expr{llil.If(llil.FlagCond(llil.CondEqual), llil.Const(4, 0x1007), llil.Const(4, 0x1002))},
		},
		{
			name: "ret",
			bits: 64,
			code: []byte{0xc3},
			want: []*llil.Expr{llil.Unary(llil.OpRet, 8, llil.NewExpr(llil.OpPop, 8, llil.FlagsNone))},
		},
		{
			name: "nop",
			bits: 64,
			code: []byte{0x90},
			want: []*llil.Expr{llil.Nop()},
		},
		{
			name: "cpuid is unimplemented",
			bits: 64,
			code: []byte{0x0f, 0xa2},
			want: []*llil.Expr{llil.NewExpr(llil.OpUnimplemented, 0, llil.FlagsNone)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newArch(t, tt.bits)
			got, n := lift(t, a, 0x1000, tt.code)
			assert.Equal(t, len(tt.code), n)
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.Equal(t, uint64(0x1000), got[i].Address)
				assert.True(t, tt.want[i].Equal(got[i].Expr), "got %s, want %s",
					llil.Format(got[i].Expr, a), llil.Format(tt.want[i], a))
			}
		})
	}
}

func TestInstructionText(t *testing.T) {
	a := newArch(t, 32)

	tokens, n, err := a.InstructionText(arch.Request{Address: 0x1000, Data: []byte{0x81, 0xc1, 0xef, 0xbe, 0xad, 0xde}})
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "add ecx, 0xdeadbeef", arch.JoinText(tokens))

	require.Len(t, tokens, 5)
	assert.Equal(t, arch.TextInstruction, tokens[0].Kind)
	assert.Equal(t, arch.TextRegister, tokens[2].Kind)
	assert.Equal(t, uint64(reg(x86asm.ECX)), tokens[2].Value)
	assert.Equal(t, arch.TextOperandSeparator, tokens[3].Kind)
	assert.Equal(t, arch.TextInteger, tokens[4].Kind)
	assert.Equal(t, uint64(0xdeadbeef), tokens[4].Value)

	tokens, _, err = a.InstructionText(arch.Request{Address: 0x1000, Data: []byte{0xeb, 0x10}})
	require.NoError(t, err)
	assert.Equal(t, "jmp 0x1012", arch.JoinText(tokens))
	assert.Equal(t, arch.TextPossibleAddress, tokens[len(tokens)-1].Kind)

	tokens, _, err = a.InstructionText(arch.Request{Address: 0x1000, Data: []byte{0x90}})
	require.NoError(t, err)
	assert.Equal(t, "nop", arch.JoinText(tokens))
	assert.Len(t, tokens, 1)
}

func TestRegister(t *testing.T) {
	r := arch.NewRegistry()
	Register(r)
	assert.Equal(t, []string{"x86", "x86_64"}, r.Names())
}
