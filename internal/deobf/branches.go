package deobf

import (
	"github.com/isseis/go-obfuhook/internal/llil"
	"github.com/isseis/go-obfuhook/internal/view"
)

// IndirectBranch is a jump or call whose target is computed at run time.
type IndirectBranch struct {
	Address uint64
	Call    bool
}

// IndirectBranches lists the indirect jumps and calls of fn in address order.
// Control-flow flattening dispatches through them, so they are the usual
// starting point when reading an obfuscated function.
func IndirectBranches(fn *view.Function) ([]IndirectBranch, error) {
	il, err := fn.LowLevelIL()
	if err != nil {
		return nil, err
	}

	var out []IndirectBranch
	for _, in := range il.Instructions() {
		e := in.Expr
		if e.Op != llil.OpJump && e.Op != llil.OpCall {
			continue
		}
		if _, direct := e.Child(0).ConstValue(); direct {
			continue
		}
		out = append(out, IndirectBranch{Address: in.Address, Call: e.Op == llil.OpCall})
	}
	return out, nil
}
