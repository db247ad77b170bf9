package llil

import (
	"fmt"
	"strings"
)

// RegisterNamer resolves register ids to names for rendering.
type RegisterNamer interface {
	RegisterName(r RegisterID) string
}

// PartKind classifies a rendered text fragment.
type PartKind int

// Rendered fragment kinds.
const (
	PartText PartKind = iota
	PartOperation
	PartRegister
	PartInteger
	PartSeparator
)

// Part is one fragment of rendered IL text.
type Part struct {
	Kind  PartKind
	Text  string
	Value uint64
}

var binarySymbols = map[Operation]string{
	OpAdd: "+",
	OpSub: "-",
	OpXor: "^",
	OpAnd: "&",
	OpOr:  "|",
	OpMul: "*",
}

// Render renders e as text fragments, e.g. "ecx = ecx + 0xdeadbeef".
func Render(e *Expr, names RegisterNamer) []Part {
	r := renderer{names: names}
	r.expr(e)
	return r.parts
}

// Format renders e as a plain string.
func Format(e *Expr, names RegisterNamer) string {
	var sb strings.Builder
	for _, p := range Render(e, names) {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

type renderer struct {
	names RegisterNamer
	parts []Part
}

func (r *renderer) text(s string) {
	r.parts = append(r.parts, Part{Kind: PartText, Text: s})
}

func (r *renderer) register(v uint64) {
	name := fmt.Sprintf("r%d", v)
	if r.names != nil {
		if n := r.names.RegisterName(RegisterID(v)); n != "" {
			name = n
		}
	}
	r.parts = append(r.parts, Part{Kind: PartRegister, Text: name, Value: v})
}

func (r *renderer) integer(v uint64) {
	r.parts = append(r.parts, Part{Kind: PartInteger, Text: fmt.Sprintf("%#x", v), Value: v})
}

func (r *renderer) operation(op Operation) {
	r.parts = append(r.parts, Part{Kind: PartOperation, Text: op.String(), Value: uint64(op)})
}

func (r *renderer) operand(op Operand) {
	if op.IsExpr() {
		r.expr(op.Expr)
		return
	}
	r.integer(op.Value)
}

func (r *renderer) expr(e *Expr) {
	if e == nil {
		r.text("<nil>")
		return
	}
	switch e.Op {
	case OpSetReg:
		if v, ok := e.Int(0); ok && e.Child(1) != nil {
			r.register(v)
			r.text(" = ")
			r.expr(e.Child(1))
			return
		}
	case OpReg:
		if v, ok := e.Int(0); ok && len(e.Operands) == 1 {
			r.register(v)
			return
		}
	case OpConst:
		if v, ok := e.Int(0); ok && len(e.Operands) == 1 {
			r.integer(v)
			return
		}
	case OpAdd, OpSub, OpXor, OpAnd, OpOr, OpMul:
		if len(e.Operands) == 2 {
			r.operand(e.Operands[0])
			r.text(" " + binarySymbols[e.Op] + " ")
			r.operand(e.Operands[1])
			return
		}
	case OpLoad:
		if len(e.Operands) == 1 {
			r.text("[")
			r.operand(e.Operands[0])
			r.text("]")
			r.text(fmt.Sprintf(".%d", e.Size))
			return
		}
	case OpStore:
		if len(e.Operands) == 2 {
			r.text("[")
			r.operand(e.Operands[0])
			r.text(fmt.Sprintf("].%d = ", e.Size))
			r.operand(e.Operands[1])
			return
		}
	case OpIf:
		if len(e.Operands) == 3 {
			r.operation(e.Op)
			r.text(" (")
			r.operand(e.Operands[0])
			r.text(") then ")
			r.operand(e.Operands[1])
			r.text(" else ")
			r.operand(e.Operands[2])
			return
		}
	case OpFlagCond:
		if v, ok := e.Int(0); ok {
			r.text("cond:" + ConditionName(v))
			return
		}
	}
	r.generic(e)
}

// generic renders op(operand, ...) and is used for unknown operations and
// any node whose operand shape does not match its operation.
func (r *renderer) generic(e *Expr) {
	r.operation(e.Op)
	if len(e.Operands) == 0 {
		return
	}
	r.text("(")
	for i, op := range e.Operands {
		if i > 0 {
			r.parts = append(r.parts, Part{Kind: PartSeparator, Text: ", "})
		}
		r.operand(op)
	}
	r.text(")")
}
