// Package llil provides the low-level intermediate language used by the
// analysis pipeline: operation codes, expression trees, the per-function
// instruction container, and text rendering.
package llil

import "fmt"

// Operation identifies an IL opcode. Values are persisted inside patch token
// streams, so existing codes must never be renumbered.
type Operation uint32

// IL operations. The operand layout of each operation is documented next to it;
// "int" operands are raw integers, "expr" operands are child expressions.
const (
	// OpNop has no operands.
	OpNop Operation = iota
	// OpSetReg writes a register: (int register, expr value).
	OpSetReg
	// OpReg reads a register: (int register).
	OpReg
	// OpConst is an integer constant: (int value).
	OpConst
	// OpAdd is (expr left, expr right).
	OpAdd
	// OpSub is (expr left, expr right).
	OpSub
	// OpXor is (expr left, expr right).
	OpXor
	// OpAnd is (expr left, expr right).
	OpAnd
	// OpOr is (expr left, expr right).
	OpOr
	// OpMul is (expr left, expr right).
	OpMul
	// OpLoad reads memory: (expr address).
	OpLoad
	// OpStore writes memory: (expr address, expr value).
	OpStore
	// OpPush is (expr value).
	OpPush
	// OpPop has no operands.
	OpPop
	// OpJump is (expr target).
	OpJump
	// OpCall is (expr target).
	OpCall
	// OpRet is (expr target).
	OpRet
	// OpIf is (expr condition, expr true target, expr false target).
	OpIf
	// OpFlagCond reads a flag condition: (int condition).
	OpFlagCond
	// OpSyscall has no operands.
	OpSyscall
	// OpTrap is (int vector).
	OpTrap
	// OpNoRet has no operands.
	OpNoRet
	// OpUndef has no operands.
	OpUndef
	// OpUnimplemented has no operands.
	OpUnimplemented

	opCount
)

var operationNames = [opCount]string{
	OpNop:           "nop",
	OpSetReg:        "set_reg",
	OpReg:           "reg",
	OpConst:         "const",
	OpAdd:           "add",
	OpSub:           "sub",
	OpXor:           "xor",
	OpAnd:           "and",
	OpOr:            "or",
	OpMul:           "mul",
	OpLoad:          "load",
	OpStore:         "store",
	OpPush:          "push",
	OpPop:           "pop",
	OpJump:          "jump",
	OpCall:          "call",
	OpRet:           "ret",
	OpIf:            "if",
	OpFlagCond:      "flag_cond",
	OpSyscall:       "syscall",
	OpTrap:          "trap",
	OpNoRet:         "noreturn",
	OpUndef:         "undefined",
	OpUnimplemented: "unimplemented",
}

// Known reports whether the operation is one this build can interpret.
// Unknown operations are still carried through token streams and IL
// functions untouched.
func (o Operation) Known() bool {
	return o < opCount
}

// String returns the operation's mnemonic, or op_<n> for unknown codes.
func (o Operation) String() string {
	if o.Known() {
		return operationNames[o]
	}
	return fmt.Sprintf("op_%d", uint32(o))
}

// OperationByName returns the operation with the given mnemonic.
func OperationByName(name string) (Operation, bool) {
	for i, n := range operationNames {
		if n == name {
			return Operation(i), true
		}
	}
	return 0, false
}

// IsBinary reports whether the operation is an arithmetic or logical
// operation over two expression operands.
func (o Operation) IsBinary() bool {
	switch o {
	case OpAdd, OpSub, OpXor, OpAnd, OpOr, OpMul:
		return true
	}
	return false
}

// IsControlFlow reports whether the operation transfers control.
func (o Operation) IsControlFlow() bool {
	switch o {
	case OpJump, OpCall, OpRet, OpIf, OpSyscall, OpTrap, OpNoRet:
		return true
	}
	return false
}

// Flag write sets recorded in Expr.Flags.
const (
	// FlagsNone means the expression leaves the flags untouched.
	FlagsNone uint32 = 0
	// FlagsAll means the expression writes every arithmetic flag.
	FlagsAll uint32 = 1
	// FlagsNoCarry means every arithmetic flag except carry is written.
	FlagsNoCarry uint32 = 2
)

// Condition codes carried by OpFlagCond.
const (
	CondEqual uint64 = iota
	CondNotEqual
	CondSignedLess
	CondSignedLessEqual
	CondSignedGreater
	CondSignedGreaterEqual
	CondUnsignedLess
	CondUnsignedLessEqual
	CondUnsignedGreater
	CondUnsignedGreaterEqual
	CondNegative
	CondPositive
	CondOverflow
	CondNoOverflow
	CondParity
	CondNoParity
)

var conditionNames = []string{
	"e", "ne", "slt", "sle", "sgt", "sge", "ult", "ule", "ugt", "uge",
	"neg", "pos", "o", "no", "p", "np",
}

// ConditionName returns the short name of a flag condition code.
func ConditionName(cond uint64) string {
	if cond < uint64(len(conditionNames)) {
		return conditionNames[cond]
	}
	return fmt.Sprintf("cond_%d", cond)
}
