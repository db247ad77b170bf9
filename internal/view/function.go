package view

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/isseis/go-obfuhook/internal/arch"
	"github.com/isseis/go-obfuhook/internal/llil"
)

// maxInstructions bounds the walk of a single function.
const maxInstructions = 1 << 16

// ErrFunctionTooLarge indicates the walk reached maxInstructions.
var ErrFunctionTooLarge = errors.New("function exceeds instruction limit")

// Function is a function defined in a view.
type Function struct {
	view  *View
	start uint64
}

// Start returns the entry address.
func (f *Function) Start() uint64 {
	return f.start
}

// View returns the view the function belongs to.
func (f *Function) View() *View {
	return f.view
}

// Architecture returns the architecture used to decode the function.
func (f *Function) Architecture() (arch.Architecture, error) {
	return f.view.DefaultArchitecture()
}

// LowLevelIL lifts the function by walking every instruction reachable from
// its start through the function's architecture. Instructions are returned
// in address order.
//
// Bytes that do not decode end their path with an undefined instruction.
// Any other architecture failure aborts the walk.
func (f *Function) LowLevelIL() (*llil.Function, error) {
	a, err := f.Architecture()
	if err != nil {
		return nil, err
	}

	il := llil.NewFunction()
	visited := make(map[uint64]bool)
	pending := []uint64{f.start}

	for len(pending) > 0 {
		addr := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		for !visited[addr] && f.view.IsExecutable(addr) {
			if len(visited) >= maxInstructions {
				return nil, fmt.Errorf("%w: %#x", ErrFunctionTooLarge, f.start)
			}
			visited[addr] = true

			next, targets, err := f.liftOne(a, il, addr)
			if err != nil {
				return nil, err
			}
			pending = append(pending, targets...)
			if next == nil {
				break
			}
			addr = *next
		}
	}

	il.SortByAddress()
	return il, nil
}

// liftOne lifts the instruction at addr. It returns the fallthrough address
// (nil when control does not fall through) and any other branch targets.
func (f *Function) liftOne(a arch.Architecture, il *llil.Function, addr uint64) (*uint64, []uint64, error) {
	req, err := f.view.request(a, addr)
	if err != nil {
		return nil, nil, err
	}

	il.SetCurrentAddress(addr)

	info, err := a.InstructionInfo(req)
	if err != nil {
		if errors.Is(err, arch.ErrDecode) {
			slog.Debug("Undecodable instruction", slog.String("view", string(f.view.id)), slog.String("address", fmt.Sprintf("%#x", addr)))
			il.Append(llil.NewExpr(llil.OpUndef, 0, llil.FlagsNone))
			return nil, nil, nil
		}
		return nil, nil, err
	}

	if _, err := a.InstructionLowLevelIL(req, il); err != nil {
		return nil, nil, err
	}

	ft := addr + uint64(info.Length)
	next := &ft
	var targets []uint64
	for _, b := range info.Branches {
		switch b.Type {
		case arch.UnconditionalBranch, arch.TrueBranch, arch.FalseBranch:
			targets = append(targets, b.Target)
			next = nil
		case arch.FunctionReturn, arch.IndirectBranch, arch.Exception:
			next = nil
		}
	}
	return next, targets, nil
}
