// Package patch stores address-keyed replacements for the IL semantics of
// decoded instructions and persists them per binary view.
package patch

import (
	"fmt"

	"github.com/isseis/go-obfuhook/internal/llil"
	"github.com/isseis/go-obfuhook/internal/tokenstream"
)

// ViewID identifies a binary view across processes. Views loaded from an
// image use the prefixed content hash of that image ("sha256:<hex>").
type ViewID string

// Patch replaces the semantics of the instruction(s) at Address.
// A Patch is immutable after New returns, so it can be shared between the
// pattern pass and concurrent decoders.
type Patch struct {
	// Address is the address of the first replaced instruction.
	Address uint64

	// Length is the byte length of the original instruction(s). Decoders
	// report it as the consumed length so fallthrough addresses stay put.
	Length int

	tokens       []tokenstream.Token
	instructions []*llil.Expr
}

// New validates tokens and returns a patch. Token lists that do not build
// into at least one structurally valid instruction tree are rejected here,
// so decoding a stored patch never fails.
func New(address uint64, length int, tokens []tokenstream.Token) (*Patch, error) {
	if length <= 0 {
		return nil, fmt.Errorf("%w: %d at %#x", ErrInvalidLength, length, address)
	}

	owned := make([]tokenstream.Token, len(tokens))
	copy(owned, tokens)

	instructions, err := tokenstream.Build(owned)
	if err != nil {
		return nil, fmt.Errorf("patch at %#x: %w", address, err)
	}
	if len(instructions) == 0 {
		return nil, fmt.Errorf("%w at %#x", ErrEmptyPatch, address)
	}

	return &Patch{
		Address:      address,
		Length:       length,
		tokens:       owned,
		instructions: instructions,
	}, nil
}

// FromInstructions encodes trees and returns the resulting patch.
func FromInstructions(address uint64, length int, instructions ...*llil.Expr) (*Patch, error) {
	return New(address, length, tokenstream.Encode(instructions...))
}

// Tokens returns a copy of the patch's token list.
func (p *Patch) Tokens() []tokenstream.Token {
	out := make([]tokenstream.Token, len(p.tokens))
	copy(out, p.tokens)
	return out
}

// TokenCount returns the number of tokens without copying them.
func (p *Patch) TokenCount() int {
	return len(p.tokens)
}

// Instructions returns the replacement instruction trees. The trees are
// shared and must not be modified.
func (p *Patch) Instructions() []*llil.Expr {
	return p.instructions
}
