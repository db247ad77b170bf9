// Package tokenstream implements the flat, serializable vocabulary used to
// describe IL instruction trees inside patches.
//
// A stream is postfix: every operation marker is preceded by its child items
// (raw operand tokens or complete subtrees) followed by three descriptor
// operands, the child count, the flag write set, and the operand size:
//
//	<child>... <count> <flags> <size> <operation>
//
// For example "ecx = ecx + 0xdeadbeef" is encoded as
//
//	ecx ecx 1 0 4 reg  0xdeadbeef 1 0 4 const  2 1 4 add  2 0 4 set_reg
package tokenstream

import (
	"fmt"
	"math"

	"github.com/isseis/go-obfuhook/internal/llil"
)

// Kind discriminates operand tokens from operation markers.
type Kind uint8

const (
	// Operand tokens carry integers: values, register ids, and descriptors.
	Operand Kind = iota
	// Operation tokens carry an llil.Operation code.
	Operation
)

// descriptorCount is the number of descriptor operands (count, flags, size)
// that precede every operation marker.
const descriptorCount = 3

// String returns the kind name used in persisted records.
func (k Kind) String() string {
	switch k {
	case Operand:
		return "operand"
	case Operation:
		return "operation"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "operand":
		return Operand, true
	case "operation":
		return Operation, true
	}
	return 0, false
}

// Token is a single stream element.
type Token struct {
	Kind  Kind
	Value uint64
}

// OperandToken returns an operand token.
func OperandToken(v uint64) Token {
	return Token{Kind: Operand, Value: v}
}

// OperationToken returns an operation marker.
func OperationToken(op llil.Operation) Token {
	return Token{Kind: Operation, Value: uint64(op)}
}

// Stream is an append-only token sequence.
type Stream struct {
	tokens []Token
}

// New returns a stream over a copy of tokens.
func New(tokens []Token) *Stream {
	s := &Stream{tokens: make([]Token, len(tokens))}
	copy(s.tokens, tokens)
	return s
}

// Append adds one token.
func (s *Stream) Append(kind Kind, value uint64) {
	s.tokens = append(s.tokens, Token{Kind: kind, Value: value})
}

// AppendOperand adds an operand token.
func (s *Stream) AppendOperand(v uint64) {
	s.Append(Operand, v)
}

// AppendOperation adds the descriptors and the marker that close a subtree.
func (s *Stream) AppendOperation(op llil.Operation, count int, flags uint32, size int) {
	s.AppendOperand(uint64(count))
	s.AppendOperand(uint64(flags))
	s.AppendOperand(uint64(size))
	s.Append(Operation, uint64(op))
}

// Tokens returns a copy of the stream's tokens.
func (s *Stream) Tokens() []Token {
	out := make([]Token, len(s.tokens))
	copy(out, s.tokens)
	return out
}

// Len returns the number of tokens.
func (s *Stream) Len() int {
	return len(s.tokens)
}

// Build reconstructs the stream's top-level instruction trees.
func (s *Stream) Build() ([]*llil.Expr, error) {
	return Build(s.tokens)
}

// item is a parse-stack entry: a raw operand or a completed subtree.
type item struct {
	expr  *llil.Expr
	value uint64
	pos   int
}

// Build reconstructs the ordered list of top-level instruction trees encoded
// by tokens. Parsing is purely structural: operand meanings are not checked.
func Build(tokens []Token) ([]*llil.Expr, error) {
	stack := make([]item, 0, len(tokens))

	for pos, tok := range tokens {
		switch tok.Kind {
		case Operand:
			stack = append(stack, item{value: tok.Value, pos: pos})
		case Operation:
			expr, rest, err := reduce(stack, tok, pos)
			if err != nil {
				return nil, err
			}
			stack = append(rest, item{expr: expr, pos: pos})
		default:
			return nil, &MalformedStreamError{Position: pos, Reason: fmt.Sprintf("unknown token kind %d", tok.Kind)}
		}
	}

	exprs := make([]*llil.Expr, 0, len(stack))
	for _, it := range stack {
		if it.expr == nil {
			return nil, &MalformedStreamError{
				Position: len(tokens),
				Reason:   fmt.Sprintf("stream ended mid-subtree: operand at token %d has no operation", it.pos),
			}
		}
		exprs = append(exprs, it.expr)
	}
	return exprs, nil
}

// reduce pops the descriptors and children of the marker at pos off the stack.
func reduce(stack []item, tok Token, pos int) (*llil.Expr, []item, error) {
	if len(stack) < descriptorCount {
		return nil, nil, &MalformedStreamError{Position: pos, Reason: "operation is missing its count, flags, and size descriptors"}
	}
	desc := stack[len(stack)-descriptorCount:]
	for _, d := range desc {
		if d.expr != nil {
			return nil, nil, &MalformedStreamError{Position: d.pos, Reason: "descriptor position holds a subtree"}
		}
	}
	count, flags, size := desc[0].value, desc[1].value, desc[2].value
	stack = stack[:len(stack)-descriptorCount]

	if flags > math.MaxUint32 {
		return nil, nil, &MalformedStreamError{Position: desc[1].pos, Reason: fmt.Sprintf("flags %#x out of range", flags)}
	}
	if size > math.MaxInt32 {
		return nil, nil, &MalformedStreamError{Position: desc[2].pos, Reason: fmt.Sprintf("size %d out of range", size)}
	}
	if count > uint64(len(stack)) {
		return nil, nil, &MalformedStreamError{
			Position: pos,
			Reason:   fmt.Sprintf("%s declares %d operands but only %d are available", llil.Operation(tok.Value), count, len(stack)),
		}
	}
	if tok.Value > math.MaxUint32 {
		return nil, nil, &MalformedStreamError{Position: pos, Reason: fmt.Sprintf("operation code %#x out of range", tok.Value)}
	}

	children := stack[len(stack)-int(count):]
	operands := make([]llil.Operand, len(children))
	for i, c := range children {
		if c.expr != nil {
			operands[i] = llil.ExprOperand(c.expr)
		} else {
			operands[i] = llil.IntOperand(c.value)
		}
	}

	expr := &llil.Expr{
		Op:       llil.Operation(tok.Value),
		Size:     int(size),
		Flags:    uint32(flags),
		Operands: operands,
	}
	return expr, stack[:len(stack)-int(count)], nil
}

// Encode serializes trees into the flat token layout understood by Build.
func Encode(exprs ...*llil.Expr) []Token {
	s := &Stream{}
	for _, e := range exprs {
		s.encode(e)
	}
	return s.tokens
}

func (s *Stream) encode(e *llil.Expr) {
	for _, op := range e.Operands {
		if op.IsExpr() {
			s.encode(op.Expr)
		} else {
			s.AppendOperand(op.Value)
		}
	}
	s.AppendOperation(e.Op, len(e.Operands), e.Flags, e.Size)
}
