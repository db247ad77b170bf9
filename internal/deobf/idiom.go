package deobf

import (
	"fmt"

	"github.com/isseis/go-obfuhook/internal/llil"
)

// Replacement is the IL that replaces the instruction at Address.
type Replacement struct {
	Address      uint64
	Instructions []*llil.Expr
}

// Match is one recognised idiom occurrence. Replacements are ordered by
// address and cover every address the match claims.
type Match struct {
	Idiom        string
	Replacements []Replacement
}

// Addresses returns the addresses the match claims.
func (m Match) Addresses() []uint64 {
	out := make([]uint64, len(m.Replacements))
	for i, r := range m.Replacements {
		out[i] = r.Address
	}
	return out
}

// Idiom recognises one obfuscation pattern.
type Idiom interface {
	// Name identifies the idiom in logs and configuration.
	Name() string

	// Match reports the occurrence of the idiom that starts at
	// instruction i, if any.
	Match(c *Context, i int) (Match, bool)
}

// Catalog returns the built-in idioms in their default priority order.
func Catalog() []Idiom {
	return []Idiom{DeadConstantAdd{}, InversePair{}}
}

// IdiomsByName resolves names against the built-in catalog, keeping the
// order of names.
func IdiomsByName(names []string) ([]Idiom, error) {
	byName := make(map[string]Idiom)
	for _, id := range Catalog() {
		byName[id.Name()] = id
	}
	out := make([]Idiom, 0, len(names))
	for _, n := range names {
		id, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownIdiom, n)
		}
		out = append(out, id)
	}
	return out, nil
}

// selfUpdate describes "r = r op c".
type selfUpdate struct {
	reg   llil.RegisterID
	size  int
	op    llil.Operation
	value uint64
	flags bool
}

// asSelfUpdate matches "r = r op c" (or "r = c op r" for commutative ops)
// with op one of add, sub and xor.
func asSelfUpdate(e *llil.Expr) (selfUpdate, bool) {
	dst, ok := e.DestRegister()
	if !ok {
		return selfUpdate{}, false
	}
	val := e.Child(1)
	if val == nil || len(val.Operands) != 2 {
		return selfUpdate{}, false
	}
	switch val.Op {
	case llil.OpAdd, llil.OpSub, llil.OpXor:
	default:
		return selfUpdate{}, false
	}

	left, right := val.Child(0), val.Child(1)
	if val.Op != llil.OpSub {
		if _, isConst := left.ConstValue(); isConst {
			left, right = right, left
		}
	}
	src, ok := left.SourceRegister()
	if !ok || src != dst {
		return selfUpdate{}, false
	}
	c, ok := right.ConstValue()
	if !ok {
		return selfUpdate{}, false
	}
	return selfUpdate{
		reg:   dst,
		size:  e.Size,
		op:    val.Op,
		value: c,
		flags: val.WritesFlags(),
	}, true
}

// inverts reports whether b undoes a.
func (a selfUpdate) inverts(b selfUpdate) bool {
	if a.reg != b.reg || a.size != b.size || a.value != b.value {
		return false
	}
	switch a.op {
	case llil.OpAdd:
		return b.op == llil.OpSub
	case llil.OpSub:
		return b.op == llil.OpAdd
	case llil.OpXor:
		return b.op == llil.OpXor
	}
	return false
}

func nop(addr uint64) Replacement {
	return Replacement{Address: addr, Instructions: []*llil.Expr{llil.Nop()}}
}

// DeadConstantAdd removes "r = r + c", "r = r - c" and "r ^= c" when neither
// the new value of r nor the flags it sets are ever observed.
type DeadConstantAdd struct{}

// Name implements Idiom.
func (DeadConstantAdd) Name() string { return "dead-constant-add" }

// Match implements Idiom.
func (d DeadConstantAdd) Match(c *Context, i int) (Match, bool) {
	if !c.Single(i) {
		return Match{}, false
	}
	u, ok := asSelfUpdate(c.At(i).Expr)
	if !ok {
		return Match{}, false
	}
	if !c.RegisterDead(u.reg, c.ValueSize(u.reg, u.size), i) {
		return Match{}, false
	}
	if u.flags && !c.FlagsDead(i) {
		return Match{}, false
	}
	return Match{Idiom: d.Name(), Replacements: []Replacement{nop(c.At(i).Address)}}, true
}

// InversePair removes "r = r + c" immediately undone by "r = r - c" (either
// order, or two identical xors) when the flags of the second are never
// observed. In 64-bit mode a 32-bit pair still clears the upper half of the
// family register, so it is removed only when that register is dead after
// the pair.
type InversePair struct{}

// Name implements Idiom.
func (InversePair) Name() string { return "inverse-pair" }

// Match implements Idiom.
func (p InversePair) Match(c *Context, i int) (Match, bool) {
	j := c.Next(i)
	if j < 0 || !c.Single(i) || !c.Single(j) {
		return Match{}, false
	}
	first, ok := asSelfUpdate(c.At(i).Expr)
	if !ok {
		return Match{}, false
	}
	second, ok := asSelfUpdate(c.At(j).Expr)
	if !ok || !first.inverts(second) {
		return Match{}, false
	}
	if second.flags && !c.FlagsDead(j) {
		return Match{}, false
	}
	if first.flags && !c.FlagsDead(i) {
		return Match{}, false
	}
	if c.ZeroExtends(first.reg) && !c.RegisterDead(first.reg, c.ValueSize(first.reg, first.size), j) {
		return Match{}, false
	}
	return Match{
		Idiom:        p.Name(),
		Replacements: []Replacement{nop(c.At(i).Address), nop(c.At(j).Address)},
	}, true
}
