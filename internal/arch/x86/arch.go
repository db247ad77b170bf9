// Package x86 implements the x86 and x86_64 base architectures on top of
// golang.org/x/arch/x86/x86asm.
package x86

import (
	"fmt"
	"strings"

	"github.com/isseis/go-obfuhook/internal/arch"
	"github.com/isseis/go-obfuhook/internal/llil"
	"golang.org/x/arch/x86/x86asm"
)

// Architecture names.
const (
	Name32 = "x86"
	Name64 = "x86_64"
)

const maxInstructionLength = 15

// Arch is a base x86 architecture for one processor mode.
type Arch struct {
	name      string
	mode      int
	registers []arch.Register
	byName    map[string]llil.RegisterID
}

var _ arch.Architecture = (*Arch)(nil)

// New returns the architecture for a 32- or 64-bit processor mode.
func New(bits int) (*Arch, error) {
	var name string
	switch bits {
	case 32:
		name = Name32
	case 64:
		name = Name64
	default:
		return nil, fmt.Errorf("unsupported x86 mode: %d bits", bits)
	}

	regs, byName := buildRegisters(bits)
	return &Arch{name: name, mode: bits, registers: regs, byName: byName}, nil
}

// Register adds both modes to r.
func Register(r *arch.Registry) {
	for _, bits := range []int{32, 64} {
		a, _ := New(bits)
		r.Register(a)
	}
}

func (a *Arch) Name() string              { return a.name }
func (a *Arch) AddressSize() int          { return a.mode / 8 }
func (a *Arch) DefaultIntegerSize() int   { return 4 }
func (a *Arch) MaxInstructionLength() int { return maxInstructionLength }
func (a *Arch) Flags() []arch.Flag        { return flags }

func (a *Arch) Registers() []arch.Register {
	out := make([]arch.Register, len(a.registers))
	copy(out, a.registers)
	return out
}

// RegisterName returns the lower-case register name, or "" for ids that are
// not registers of this mode.
func (a *Arch) RegisterName(r llil.RegisterID) string {
	if r == 0 || r > llil.RegisterID(^uint8(0)) {
		return ""
	}
	if _, ok := a.byName[regName(x86asm.Reg(r))]; !ok {
		return ""
	}
	return regName(x86asm.Reg(r))
}

func (a *Arch) RegisterByName(name string) (llil.RegisterID, bool) {
	id, ok := a.byName[strings.ToLower(name)]
	return id, ok
}

func (a *Arch) StackPointer() llil.RegisterID {
	if a.mode == 64 {
		return llil.RegisterID(x86asm.RSP)
	}
	return llil.RegisterID(x86asm.ESP)
}

func (a *Arch) CallingConvention() arch.CallingConvention {
	if a.mode == 64 {
		return sysv
	}
	return cdecl
}

// mask truncates an address to the mode's address width.
func (a *Arch) mask(addr uint64) uint64 {
	if a.mode == 32 {
		return addr & 0xffffffff
	}
	return addr
}

func (a *Arch) relTarget(d decodedInstruction, rel x86asm.Rel) uint64 {
	return a.mask(d.next() + uint64(int64(rel)))
}

// InstructionInfo reports the length and branches of the instruction.
func (a *Arch) InstructionInfo(req arch.Request) (arch.InstructionInfo, error) {
	d, err := decode(req.Data, req.Address, a.mode)
	if err != nil {
		return arch.InstructionInfo{}, err
	}

	info := arch.InstructionInfo{Length: d.Len}
	rel, hasRel := relArg(d)

	switch {
	case d.Op == x86asm.JMP:
		if hasRel {
			info.Branches = []arch.Branch{{Type: arch.UnconditionalBranch, Target: a.relTarget(d, rel)}}
		} else {
			info.Branches = []arch.Branch{{Type: arch.IndirectBranch}}
		}
	case isConditionalBranch(d.Op) && hasRel:
		info.Branches = []arch.Branch{
			{Type: arch.TrueBranch, Target: a.relTarget(d, rel)},
			{Type: arch.FalseBranch, Target: a.mask(d.next())},
		}
	case d.Op == x86asm.CALL:
		if hasRel {
			info.Branches = []arch.Branch{{Type: arch.CallDestination, Target: a.relTarget(d, rel)}}
		}
	case d.Op == x86asm.RET || d.Op == x86asm.IRET || d.Op == x86asm.IRETD || d.Op == x86asm.IRETQ:
		info.Branches = []arch.Branch{{Type: arch.FunctionReturn}}
	case d.Op == x86asm.SYSCALL || d.Op == x86asm.SYSENTER || d.Op == x86asm.INT:
		info.Branches = []arch.Branch{{Type: arch.SystemCall}}
	case d.Op == x86asm.HLT || d.Op == x86asm.UD2 || d.Op == x86asm.UD1:
		info.Branches = []arch.Branch{{Type: arch.Exception}}
	}
	return info, nil
}

func relArg(d decodedInstruction) (x86asm.Rel, bool) {
	if len(d.Args) == 0 {
		return 0, false
	}
	rel, ok := d.Args[0].(x86asm.Rel)
	return rel, ok
}

// InstructionText renders the instruction in Intel syntax.
func (a *Arch) InstructionText(req arch.Request) ([]arch.TextToken, int, error) {
	d, err := decode(req.Data, req.Address, a.mode)
	if err != nil {
		return nil, 0, err
	}
	text := x86asm.IntelSyntax(d.Inst, req.Address, nil)
	return a.tokenize(text, d), d.Len, nil
}

// tokenize splits Intel-syntax text into classified tokens.
func (a *Arch) tokenize(text string, d decodedInstruction) []arch.TextToken {
	mnemonic, operands, _ := strings.Cut(text, " ")
	tokens := []arch.TextToken{{Kind: arch.TextInstruction, Text: mnemonic}}
	if operands == "" {
		return tokens
	}
	tokens = append(tokens, arch.TextToken{Kind: arch.TextPlain, Text: " "})

	_, hasRel := relArg(d)
	for i, op := range strings.Split(operands, ", ") {
		if i > 0 {
			tokens = append(tokens, arch.TextToken{Kind: arch.TextOperandSeparator, Text: ", "})
		}
		tokens = append(tokens, a.classify(op, hasRel))
	}
	return tokens
}

func (a *Arch) classify(op string, branch bool) arch.TextToken {
	if id, ok := a.RegisterByName(op); ok {
		return arch.TextToken{Kind: arch.TextRegister, Text: op, Value: uint64(id)}
	}
	var v uint64
	if _, err := fmt.Sscanf(op, "0x%x", &v); err == nil && fmt.Sprintf("%#x", v) == op {
		kind := arch.TextInteger
		if branch {
			kind = arch.TextPossibleAddress
		}
		return arch.TextToken{Kind: kind, Text: op, Value: v}
	}
	return arch.TextToken{Kind: arch.TextPlain, Text: op}
}

// InstructionLowLevelIL lifts the instruction into fn.
func (a *Arch) InstructionLowLevelIL(req arch.Request, fn *llil.Function) (int, error) {
	d, err := decode(req.Data, req.Address, a.mode)
	if err != nil {
		return 0, err
	}
	l := lifter{arch: a, inst: d}
	for _, e := range l.lift() {
		fn.Append(e)
	}
	return d.Len, nil
}
