package arch

import (
	"fmt"

	"github.com/isseis/go-obfuhook/internal/llil"
	"github.com/isseis/go-obfuhook/internal/patch"
)

// PatchSource answers patch lookups on the decode path. It must not perform
// I/O; *patch.Registry satisfies it.
type PatchSource interface {
	Lookup(view patch.ViewID, address uint64) (*patch.Patch, bool)
}

// Hook wraps a base architecture and substitutes patched semantics for the
// instructions a PatchSource knows about. Unpatched addresses and every
// non-instruction capability are delegated to the base unchanged.
type Hook struct {
	base    Architecture
	patches PatchSource
}

var _ Architecture = (*Hook)(nil)

// NewHook wraps base. The hook reports base's name, so registering it
// replaces base in a Registry.
func NewHook(base Architecture, patches PatchSource) *Hook {
	return &Hook{base: base, patches: patches}
}

// Base returns the wrapped architecture.
func (h *Hook) Base() Architecture {
	return h.base
}

func (h *Hook) Name() string                         { return h.base.Name() }
func (h *Hook) AddressSize() int                     { return h.base.AddressSize() }
func (h *Hook) DefaultIntegerSize() int              { return h.base.DefaultIntegerSize() }
func (h *Hook) MaxInstructionLength() int            { return h.base.MaxInstructionLength() }
func (h *Hook) Registers() []Register                { return h.base.Registers() }
func (h *Hook) StackPointer() llil.RegisterID        { return h.base.StackPointer() }
func (h *Hook) Flags() []Flag                        { return h.base.Flags() }
func (h *Hook) CallingConvention() CallingConvention { return h.base.CallingConvention() }

func (h *Hook) RegisterName(r llil.RegisterID) string {
	return h.base.RegisterName(r)
}

func (h *Hook) RegisterByName(name string) (llil.RegisterID, bool) {
	return h.base.RegisterByName(name)
}

// lookup returns the patched trees for req, or ok=false on a miss.
func (h *Hook) lookup(req Request) (p *patch.Patch, trees []*llil.Expr, ok bool, err error) {
	p, ok = h.patches.Lookup(req.View, req.Address)
	if !ok {
		return nil, nil, false, nil
	}
	trees = p.Instructions()
	if len(trees) == 0 {
		return nil, nil, true, fmt.Errorf("%w: %s@%#x", ErrInconsistentPatch, req.View, req.Address)
	}
	return p, trees, true, nil
}

// InstructionInfo reports the patch length and the branches implied by the
// patched trees, so fallthrough addresses stay those of the original bytes.
func (h *Hook) InstructionInfo(req Request) (InstructionInfo, error) {
	p, trees, ok, err := h.lookup(req)
	if err != nil {
		return InstructionInfo{}, err
	}
	if !ok {
		return h.base.InstructionInfo(req)
	}

	info := InstructionInfo{Length: p.Length}
	for _, t := range trees {
		info.Branches = append(info.Branches, branchesOf(t)...)
	}
	return info, nil
}

// InstructionText renders the patched trees with the base's register names.
func (h *Hook) InstructionText(req Request) ([]TextToken, int, error) {
	p, trees, ok, err := h.lookup(req)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return h.base.InstructionText(req)
	}

	var tokens []TextToken
	for i, t := range trees {
		if i > 0 {
			tokens = append(tokens, TextToken{Kind: TextOperandSeparator, Text: "; "})
		}
		for _, part := range llil.Render(t, h.base) {
			tokens = append(tokens, TextToken{Kind: textKind(part.Kind), Text: part.Text, Value: part.Value})
		}
	}
	return tokens, p.Length, nil
}

// InstructionLowLevelIL appends the patched trees in order and consumes the
// original instruction length.
func (h *Hook) InstructionLowLevelIL(req Request, fn *llil.Function) (int, error) {
	p, trees, ok, err := h.lookup(req)
	if err != nil {
		return 0, err
	}
	if !ok {
		return h.base.InstructionLowLevelIL(req, fn)
	}

	for _, t := range trees {
		fn.Append(t)
	}
	return p.Length, nil
}

func textKind(k llil.PartKind) TextTokenKind {
	switch k {
	case llil.PartOperation:
		return TextInstruction
	case llil.PartRegister:
		return TextRegister
	case llil.PartInteger:
		return TextInteger
	case llil.PartSeparator:
		return TextOperandSeparator
	default:
		return TextPlain
	}
}

// branchesOf derives the outgoing edges of one top-level IL instruction.
func branchesOf(e *llil.Expr) []Branch {
	switch e.Op {
	case llil.OpJump:
		if target, ok := e.Child(0).ConstValue(); ok {
			return []Branch{{Type: UnconditionalBranch, Target: target}}
		}
		return []Branch{{Type: IndirectBranch}}
	case llil.OpCall:
		if target, ok := e.Child(0).ConstValue(); ok {
			return []Branch{{Type: CallDestination, Target: target}}
		}
		return nil
	case llil.OpRet:
		return []Branch{{Type: FunctionReturn}}
	case llil.OpIf:
		var out []Branch
		if target, ok := e.Child(1).ConstValue(); ok {
			out = append(out, Branch{Type: TrueBranch, Target: target})
		}
		if target, ok := e.Child(2).ConstValue(); ok {
			out = append(out, Branch{Type: FalseBranch, Target: target})
		}
		return out
	case llil.OpSyscall:
		return []Branch{{Type: SystemCall}}
	case llil.OpTrap, llil.OpNoRet:
		return []Branch{{Type: Exception}}
	}
	return nil
}
