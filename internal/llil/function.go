package llil

import "sort"

// Instruction is a top-level IL instruction anchored at the address of the
// machine instruction it was lifted from.
type Instruction struct {
	Index   int
	Address uint64
	Expr    *Expr
}

// Function collects the IL instructions lifted for one function.
// Architectures append to it while the function is walked.
type Function struct {
	current      uint64
	instructions []Instruction
}

// NewFunction returns an empty IL function.
func NewFunction() *Function {
	return &Function{}
}

// SetCurrentAddress sets the address recorded for subsequently appended
// instructions.
func (f *Function) SetCurrentAddress(addr uint64) {
	f.current = addr
}

// CurrentAddress returns the address recorded for appended instructions.
func (f *Function) CurrentAddress() uint64 {
	return f.current
}

// Append adds a top-level instruction at the current address and returns its
// index.
func (f *Function) Append(e *Expr) int {
	idx := len(f.instructions)
	f.instructions = append(f.instructions, Instruction{Index: idx, Address: f.current, Expr: e})
	return idx
}

// Len returns the number of instructions.
func (f *Function) Len() int {
	return len(f.instructions)
}

// At returns the i-th instruction.
func (f *Function) At(i int) Instruction {
	return f.instructions[i]
}

// Instructions returns the instructions in their current order.
func (f *Function) Instructions() []Instruction {
	return f.instructions
}

// InstructionsAt returns every instruction lifted from addr.
func (f *Function) InstructionsAt(addr uint64) []Instruction {
	var out []Instruction
	for _, in := range f.instructions {
		if in.Address == addr {
			out = append(out, in)
		}
	}
	return out
}

// Addresses returns the distinct instruction addresses in ascending order.
func (f *Function) Addresses() []uint64 {
	seen := make(map[uint64]struct{}, len(f.instructions))
	var out []uint64
	for _, in := range f.instructions {
		if _, ok := seen[in.Address]; ok {
			continue
		}
		seen[in.Address] = struct{}{}
		out = append(out, in.Address)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SortByAddress orders instructions by address, keeping the emission order of
// instructions that share an address, and renumbers them.
func (f *Function) SortByAddress() {
	sort.SliceStable(f.instructions, func(i, j int) bool {
		return f.instructions[i].Address < f.instructions[j].Address
	})
	for i := range f.instructions {
		f.instructions[i].Index = i
	}
}
