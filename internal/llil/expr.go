package llil

// RegisterID identifies an architecture register. The numbering is owned by
// the architecture that produced the expression.
type RegisterID uint32

// Operand is a single operand of an expression: either a raw integer
// (register id, constant, condition code) or a child expression.
type Operand struct {
	Expr  *Expr
	Value uint64
}

// IntOperand returns an integer operand.
func IntOperand(v uint64) Operand {
	return Operand{Value: v}
}

// ExprOperand returns a child expression operand.
func ExprOperand(e *Expr) Operand {
	return Operand{Expr: e}
}

// IsExpr reports whether the operand is a child expression.
func (o Operand) IsExpr() bool {
	return o.Expr != nil
}

// Expr is a node in an IL instruction tree.
//
// Trees held by patches are shared between goroutines and must be treated as
// immutable once built.
type Expr struct {
	Op       Operation
	Size     int
	Flags    uint32
	Operands []Operand
}

// NewExpr builds an expression node.
func NewExpr(op Operation, size int, flags uint32, operands ...Operand) *Expr {
	return &Expr{Op: op, Size: size, Flags: flags, Operands: operands}
}

// Nop returns a no-operation instruction.
func Nop() *Expr {
	return NewExpr(OpNop, 0, FlagsNone)
}

// Const returns a constant of the given size, truncated to that size.
func Const(size int, v uint64) *Expr {
	return NewExpr(OpConst, size, FlagsNone, IntOperand(truncate(v, size)))
}

// Reg returns a register read.
func Reg(size int, r RegisterID) *Expr {
	return NewExpr(OpReg, size, FlagsNone, IntOperand(uint64(r)))
}

// SetReg returns a register write.
func SetReg(size int, r RegisterID, value *Expr) *Expr {
	return NewExpr(OpSetReg, size, FlagsNone, IntOperand(uint64(r)), ExprOperand(value))
}

// Binary returns a two-operand arithmetic or logical expression.
func Binary(op Operation, size int, flags uint32, left, right *Expr) *Expr {
	return NewExpr(op, size, flags, ExprOperand(left), ExprOperand(right))
}

// Unary returns an expression with a single child expression.
func Unary(op Operation, size int, child *Expr) *Expr {
	return NewExpr(op, size, FlagsNone, ExprOperand(child))
}

// Store returns a memory write.
func Store(size int, addr, value *Expr) *Expr {
	return NewExpr(OpStore, size, FlagsNone, ExprOperand(addr), ExprOperand(value))
}

// If returns a conditional branch.
func If(cond, t, f *Expr) *Expr {
	return NewExpr(OpIf, 0, FlagsNone, ExprOperand(cond), ExprOperand(t), ExprOperand(f))
}

// FlagCond returns a flag-condition read.
func FlagCond(cond uint64) *Expr {
	return NewExpr(OpFlagCond, 0, FlagsNone, IntOperand(cond))
}

func truncate(v uint64, size int) uint64 {
	if size <= 0 || size >= 8 {
		return v
	}
	return v & (uint64(1)<<(uint(size)*8) - 1)
}

// Child returns the i-th operand as an expression, or nil.
func (e *Expr) Child(i int) *Expr {
	if i < 0 || i >= len(e.Operands) {
		return nil
	}
	return e.Operands[i].Expr
}

// Int returns the i-th operand as an integer. The second result is false
// when the operand is missing or is an expression.
func (e *Expr) Int(i int) (uint64, bool) {
	if i < 0 || i >= len(e.Operands) || e.Operands[i].IsExpr() {
		return 0, false
	}
	return e.Operands[i].Value, true
}

// ConstValue returns the value of a constant expression.
func (e *Expr) ConstValue() (uint64, bool) {
	if e == nil || e.Op != OpConst {
		return 0, false
	}
	return e.Int(0)
}

// DestRegister returns the register written by a set_reg expression.
func (e *Expr) DestRegister() (RegisterID, bool) {
	if e == nil || e.Op != OpSetReg {
		return 0, false
	}
	v, ok := e.Int(0)
	return RegisterID(v), ok
}

// SourceRegister returns the register read by a reg expression.
func (e *Expr) SourceRegister() (RegisterID, bool) {
	if e == nil || e.Op != OpReg {
		return 0, false
	}
	v, ok := e.Int(0)
	return RegisterID(v), ok
}

// Walk calls fn for e and every descendant in pre-order. Returning false
// from fn stops the descent into that node's children.
func (e *Expr) Walk(fn func(*Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	for _, op := range e.Operands {
		if op.Expr != nil {
			op.Expr.Walk(fn)
		}
	}
}

// ReadsRegister reports whether evaluating e reads register r.
// Register writes count as reads only through their value operand.
func (e *Expr) ReadsRegister(r RegisterID) bool {
	found := false
	e.Walk(func(n *Expr) bool {
		if found {
			return false
		}
		if src, ok := n.SourceRegister(); ok && src == r {
			found = true
		}
		return !found
	})
	return found
}

// WritesFlags reports whether evaluating e writes the arithmetic flags.
func (e *Expr) WritesFlags() bool {
	found := false
	e.Walk(func(n *Expr) bool {
		if n.Flags != FlagsNone {
			found = true
		}
		return !found
	})
	return found
}

// WritesAllFlags reports whether evaluating e overwrites every arithmetic
// flag, leaving no earlier flag value observable.
func (e *Expr) WritesAllFlags() bool {
	found := false
	e.Walk(func(n *Expr) bool {
		if n.Flags == FlagsAll {
			found = true
		}
		return !found
	})
	return found
}

// ReadsFlags reports whether evaluating e reads the arithmetic flags.
func (e *Expr) ReadsFlags() bool {
	found := false
	e.Walk(func(n *Expr) bool {
		if n.Op == OpFlagCond {
			found = true
		}
		return !found
	})
	return found
}

// Known reports whether every node in the tree uses an operation this build
// can interpret.
func (e *Expr) Known() bool {
	known := true
	e.Walk(func(n *Expr) bool {
		if !n.Op.Known() {
			known = false
		}
		return known
	})
	return known
}

// Equal reports whether two trees are structurally identical.
func (e *Expr) Equal(other *Expr) bool {
	if e == nil || other == nil {
		return e == other
	}
	if e.Op != other.Op || e.Size != other.Size || e.Flags != other.Flags ||
		len(e.Operands) != len(other.Operands) {
		return false
	}
	for i, op := range e.Operands {
		o := other.Operands[i]
		if op.IsExpr() != o.IsExpr() {
			return false
		}
		if op.IsExpr() {
			if !op.Expr.Equal(o.Expr) {
				return false
			}
			continue
		}
		if op.Value != o.Value {
			return false
		}
	}
	return true
}
