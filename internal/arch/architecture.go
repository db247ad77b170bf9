// Package arch defines the architecture capability set consumed by the
// analysis pipeline, the name-keyed architecture registry, and the Hook that
// substitutes patched semantics for decoded instructions.
package arch

import (
	"github.com/isseis/go-obfuhook/internal/llil"
	"github.com/isseis/go-obfuhook/internal/patch"
)

// Request identifies one instruction to decode: the view it belongs to, its
// address, and the bytes starting at that address. Data may extend past the
// end of the instruction.
type Request struct {
	View    patch.ViewID
	Address uint64
	Data    []byte
}

// Register describes one architectural register. Full is the widest
// register that contains it (itself for full-width registers); two registers
// alias when their Full registers are equal.
type Register struct {
	ID   llil.RegisterID
	Name string
	Size int
	Full llil.RegisterID
}

// Flag describes one condition flag.
type Flag struct {
	ID   uint32
	Name string
}

// CallingConvention lists the registers a default call clobbers and returns in.
type CallingConvention struct {
	Name           string
	ArgRegisters   []llil.RegisterID
	ReturnRegister llil.RegisterID
	CallerSaved    []llil.RegisterID
}

// Architecture is the capability set of an instruction-set architecture.
//
// The per-instruction methods are called concurrently by independent
// decoders and must not mutate shared state.
type Architecture interface {
	Name() string
	AddressSize() int
	DefaultIntegerSize() int
	MaxInstructionLength() int

	Registers() []Register
	RegisterName(r llil.RegisterID) string
	RegisterByName(name string) (llil.RegisterID, bool)
	StackPointer() llil.RegisterID
	Flags() []Flag
	CallingConvention() CallingConvention

	// InstructionInfo reports the length and branch behaviour of the
	// instruction at req.Address.
	InstructionInfo(req Request) (InstructionInfo, error)

	// InstructionText renders the instruction at req.Address.
	InstructionText(req Request) ([]TextToken, int, error)

	// InstructionLowLevelIL appends the IL for the instruction at
	// req.Address to fn and returns the number of bytes consumed.
	InstructionLowLevelIL(req Request, fn *llil.Function) (int, error)
}
