package x86

import (
	"fmt"

	"github.com/isseis/go-obfuhook/internal/arch"
	"github.com/isseis/go-obfuhook/internal/llil"
	"golang.org/x/arch/x86/x86asm"
)

// decodedInstruction is one decoded x86 instruction.
type decodedInstruction struct {
	// Address is the virtual address of the first byte of the instruction.
	Address uint64

	// Len is the instruction length in bytes.
	Len int

	// Op is the instruction opcode (e.g., MOV, ADD).
	Op x86asm.Op

	// Args are the instruction arguments with unused trailing slots removed.
	Args []x86asm.Arg

	// Inst is the full decoder output, kept for text rendering.
	Inst x86asm.Inst
}

// next returns the fallthrough address.
func (d decodedInstruction) next() uint64 {
	return d.Address + uint64(d.Len)
}

// decode decodes a single instruction for the given processor mode.
func decode(code []byte, address uint64, mode int) (decodedInstruction, error) {
	inst, err := x86asm.Decode(code, mode)
	if err != nil {
		return decodedInstruction{}, fmt.Errorf("%w at %#x: %v", arch.ErrDecode, address, err)
	}

	// Trim trailing nil arguments (x86asm.Arg is an interface, unused slots are nil)
	args := inst.Args[:]
	for len(args) > 0 && args[len(args)-1] == nil {
		args = args[:len(args)-1]
	}

	return decodedInstruction{
		Address: address,
		Len:     inst.Len,
		Op:      inst.Op,
		Args:    args,
		Inst:    inst,
	}, nil
}

// conditions maps conditional jumps that test flags to IL conditions.
var conditions = map[x86asm.Op]uint64{
	x86asm.JE:  llil.CondEqual,
	x86asm.JNE: llil.CondNotEqual,
	x86asm.JL:  llil.CondSignedLess,
	x86asm.JLE: llil.CondSignedLessEqual,
	x86asm.JG:  llil.CondSignedGreater,
	x86asm.JGE: llil.CondSignedGreaterEqual,
	x86asm.JB:  llil.CondUnsignedLess,
	x86asm.JBE: llil.CondUnsignedLessEqual,
	x86asm.JA:  llil.CondUnsignedGreater,
	x86asm.JAE: llil.CondUnsignedGreaterEqual,
	x86asm.JS:  llil.CondNegative,
	x86asm.JNS: llil.CondPositive,
	x86asm.JO:  llil.CondOverflow,
	x86asm.JNO: llil.CondNoOverflow,
	x86asm.JP:  llil.CondParity,
	x86asm.JNP: llil.CondNoParity,
}

// isConditionalBranch reports whether op is a two-way relative branch.
func isConditionalBranch(op x86asm.Op) bool {
	if _, ok := conditions[op]; ok {
		return true
	}
	switch op {
	case x86asm.JCXZ, x86asm.JECXZ, x86asm.JRCXZ,
		x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE:
		return true
	}
	return false
}
