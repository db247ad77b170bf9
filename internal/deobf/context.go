package deobf

import (
	"github.com/isseis/go-obfuhook/internal/arch"
	"github.com/isseis/go-obfuhook/internal/llil"
)

// Context is the view of a function that idioms match against: its IL in
// address order plus the register and length facts needed to decide whether
// a value is dead.
//
// Liveness is decided only along straight-line runs of instructions. A run
// ends at control flow, at an instruction whose meaning is unknown, or where
// the next lifted address is not the fallthrough of the previous one; values
// are treated as live at the end of a run, except that flags and caller-saved
// registers other than the return register are dead at a return.
type Context struct {
	insns   []llil.Instruction
	lengths map[uint64]int
	counts  map[uint64]int
	regs    map[llil.RegisterID]arch.Register
	sp      llil.RegisterID
	cc      arch.CallingConvention

	// addrSize is the architecture's address size in bytes.
	addrSize int
}

// NewContext builds a context. insns must be sorted by address; lengths
// gives the instruction length at every address in insns.
func NewContext(insns []llil.Instruction, lengths map[uint64]int, a arch.Architecture) *Context {
	c := &Context{
		insns:   insns,
		lengths: lengths,
		counts:  make(map[uint64]int),
		regs:    make(map[llil.RegisterID]arch.Register),
		sp:      a.StackPointer(),
		cc:      a.CallingConvention(),

		addrSize: a.AddressSize(),
	}
	for _, in := range insns {
		c.counts[in.Address]++
	}
	for _, r := range a.Registers() {
		c.regs[r.ID] = r
	}
	return c
}

// Len returns the number of instructions.
func (c *Context) Len() int {
	return len(c.insns)
}

// At returns the i-th instruction.
func (c *Context) At(i int) llil.Instruction {
	return c.insns[i]
}

// Length returns the byte length of the instruction at addr.
func (c *Context) Length(addr uint64) int {
	return c.lengths[addr]
}

// Single reports whether the i-th instruction is the only IL at its address,
// so replacing the address replaces exactly that instruction.
func (c *Context) Single(i int) bool {
	return c.counts[c.insns[i].Address] == 1 && c.lengths[c.insns[i].Address] > 0
}

// replace substitutes the instruction at index i.
func (c *Context) replace(i int, e *llil.Expr) {
	c.insns[i].Expr = e
}

// family returns the widest register containing r.
func (c *Context) family(r llil.RegisterID) llil.RegisterID {
	if info, ok := c.regs[r]; ok && info.Full != 0 {
		return info.Full
	}
	return r
}

func (c *Context) size(r llil.RegisterID) int {
	if info, ok := c.regs[r]; ok {
		return info.Size
	}
	return 0
}

// ZeroExtends reports whether a write to r also clears the upper half of
// its 64-bit family register, as 32-bit writes do in 64-bit mode. The IL
// does not show that clear, so such a write is never a no-op.
func (c *Context) ZeroExtends(r llil.RegisterID) bool {
	return c.addrSize == 8 && c.size(r) == 4 && c.family(r) != r
}

// ValueSize returns the number of bytes a write of size bytes to r
// defines: the whole family register when the write zero-extends.
func (c *Context) ValueSize(r llil.RegisterID, size int) int {
	if c.ZeroExtends(r) {
		return c.size(c.family(r))
	}
	return size
}

// IsStackPointer reports whether r aliases the stack pointer.
func (c *Context) IsStackPointer(r llil.RegisterID) bool {
	return c.family(r) == c.family(c.sp)
}

// Next returns the index of the instruction that executes after i on the
// straight-line path, or -1 when the run ends at i.
func (c *Context) Next(i int) int {
	cur := c.insns[i]
	if !isPlain(cur.Expr) {
		return -1
	}
	j := i + 1
	if j >= len(c.insns) {
		return -1
	}
	if c.insns[j].Address == cur.Address {
		return j
	}
	length := c.lengths[cur.Address]
	if length <= 0 || c.insns[j].Address != cur.Address+uint64(length) {
		return -1
	}
	return j
}

// isPlain reports whether e is known, does not transfer control, and has no
// unmodelled effects.
func isPlain(e *llil.Expr) bool {
	if !e.Known() {
		return false
	}
	switch e.Op {
	case llil.OpUnimplemented, llil.OpUndef:
		return false
	}
	return !e.Op.IsControlFlow()
}

// readsFamily reports whether e reads any register aliasing family.
func (c *Context) readsFamily(e *llil.Expr, family llil.RegisterID) bool {
	found := false
	e.Walk(func(n *llil.Expr) bool {
		if src, ok := n.SourceRegister(); ok && c.family(src) == family {
			found = true
		}
		return !found
	})
	return found
}

// RegisterDead reports whether the value written to r (size bytes) by
// instruction i is never observed. A later write kills the value only when
// it covers r entirely: the same register, a wider one of its family, or a
// zero-extending write that defines the whole family.
func (c *Context) RegisterDead(r llil.RegisterID, size int, i int) bool {
	if c.IsStackPointer(r) {
		return false
	}
	family := c.family(r)

	for j := c.Next(i); ; j = c.Next(j) {
		if j < 0 {
			return false
		}
		e := c.insns[j].Expr
		if e.Op == llil.OpRet {
			return c.deadAtReturn(family)
		}
		if !isPlain(e) || c.readsFamily(e, family) {
			return false
		}
		if dst, ok := e.DestRegister(); ok && c.covers(dst, r, size) {
			return true
		}
	}
}

// covers reports whether writing dst redefines every byte of the size-byte
// value held in r.
func (c *Context) covers(dst, r llil.RegisterID, size int) bool {
	if dst == r {
		return true
	}
	if c.family(dst) != c.family(r) {
		return false
	}
	width := c.ValueSize(dst, c.size(dst))
	return width > size || width == c.size(c.family(r))
}

func (c *Context) deadAtReturn(family llil.RegisterID) bool {
	if family == c.family(c.cc.ReturnRegister) {
		return false
	}
	for _, r := range c.cc.CallerSaved {
		if c.family(r) == family {
			return true
		}
	}
	return false
}

// FlagsDead reports whether the flags written by instruction i are never
// observed.
func (c *Context) FlagsDead(i int) bool {
	for j := c.Next(i); ; j = c.Next(j) {
		if j < 0 {
			return false
		}
		e := c.insns[j].Expr
		if e.Op == llil.OpRet {
			return true
		}
		if !isPlain(e) || e.ReadsFlags() {
			return false
		}
		if e.WritesAllFlags() {
			return true
		}
	}
}
