package arch

// BranchType classifies an outgoing edge of an instruction.
type BranchType int

// Branch types.
const (
	UnconditionalBranch BranchType = iota
	TrueBranch
	FalseBranch
	CallDestination
	FunctionReturn
	IndirectBranch
	SystemCall
	Exception
)

var branchTypeNames = map[BranchType]string{
	UnconditionalBranch: "unconditional",
	TrueBranch:          "true",
	FalseBranch:         "false",
	CallDestination:     "call",
	FunctionReturn:      "return",
	IndirectBranch:      "indirect",
	SystemCall:          "syscall",
	Exception:           "exception",
}

func (b BranchType) String() string {
	if s, ok := branchTypeNames[b]; ok {
		return s
	}
	return "unknown"
}

// HasTarget reports whether branches of this type carry a target address.
func (b BranchType) HasTarget() bool {
	switch b {
	case UnconditionalBranch, TrueBranch, FalseBranch, CallDestination:
		return true
	}
	return false
}

// Branch is one outgoing edge. Target is meaningful only when
// Type.HasTarget() is true.
type Branch struct {
	Type   BranchType
	Target uint64
}

// InstructionInfo is the decoded length and branch behaviour of one
// instruction.
type InstructionInfo struct {
	Length   int
	Branches []Branch
}

// EndsBlock reports whether control does not simply fall through to the next
// instruction.
func (i InstructionInfo) EndsBlock() bool {
	for _, b := range i.Branches {
		if b.Type != CallDestination {
			return true
		}
	}
	return false
}

// TextTokenKind classifies a fragment of instruction text.
type TextTokenKind int

// Text token kinds.
const (
	TextPlain TextTokenKind = iota
	TextInstruction
	TextOperandSeparator
	TextRegister
	TextInteger
	TextPossibleAddress
)

// TextToken is one fragment of rendered instruction text.
type TextToken struct {
	Kind  TextTokenKind
	Text  string
	Value uint64
}

// JoinText concatenates the text of tokens.
func JoinText(tokens []TextToken) string {
	n := 0
	for _, t := range tokens {
		n += len(t.Text)
	}
	b := make([]byte, 0, n)
	for _, t := range tokens {
		b = append(b, t.Text...)
	}
	return string(b)
}
