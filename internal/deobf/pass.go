// Package deobf implements the obfuscation pattern pass: it scans the IL of
// a function for known obfuscation idioms and records patches that replace
// them with their intended semantics.
package deobf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/isseis/go-obfuhook/internal/llil"
	"github.com/isseis/go-obfuhook/internal/patch"
	"github.com/isseis/go-obfuhook/internal/tokenstream"
	"github.com/isseis/go-obfuhook/internal/view"
)

// Result summarises one run of the pass over a function.
type Result struct {
	View     patch.ViewID
	Function uint64
	State    State

	// Matches are the occurrences that were patched, in emission order.
	Matches []Match

	// Rejected counts matches dropped because they overlapped an address
	// already claimed in this run.
	Rejected int

	// Rounds is the number of scans needed to reach a fixed point.
	Rounds int

	// Saved reports whether the view's patches were written to storage.
	Saved bool
}

// Patched returns the number of addresses patched by the run.
func (r *Result) Patched() int {
	n := 0
	for _, m := range r.Matches {
		n += len(m.Replacements)
	}
	return n
}

// Pass is the obfuscation pattern pass.
type Pass struct {
	patches *patch.Registry
	idioms  []Idiom
	policy  ConflictPolicy
	logger  *slog.Logger
}

// Option configures a Pass.
type Option func(*Pass)

// WithIdioms replaces the idiom catalog.
func WithIdioms(idioms ...Idiom) Option {
	return func(p *Pass) { p.idioms = idioms }
}

// WithPolicy sets the conflict policy.
func WithPolicy(policy ConflictPolicy) Option {
	return func(p *Pass) { p.policy = policy }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pass) { p.logger = logger }
}

// NewPass creates a pass that records patches in patches.
func NewPass(patches *patch.Registry, opts ...Option) *Pass {
	p := &Pass{
		patches: patches,
		idioms:  Catalog(),
		policy:  FirstMatch{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run scans fn and patches every idiom occurrence it finds.
//
// Instructions are visited in address order and the scan repeats over the
// patched IL until no new occurrence appears, so a second run over the same
// function adds nothing. Cancellation is checked between instructions; a
// match is always emitted as a whole. Patches emitted before cancellation are
// kept and saved.
func (p *Pass) Run(ctx context.Context, fn *view.Function, reporter Reporter) (*Result, error) {
	if reporter == nil {
		reporter = nopReporter{}
	}
	viewID := fn.View().ID()
	log := p.logger.With(
		slog.String("view", string(viewID)),
		slog.String("function", fmt.Sprintf("%#x", fn.Start())))
	res := &Result{View: viewID, Function: fn.Start()}

	if err := p.patches.Load(viewID); err != nil {
		log.Warn("Ignoring unreadable saved patches", slog.Any("error", err))
	}

	reporter.Report(Scanning, 0)
	c, index, err := buildContext(fn)
	if err != nil {
		res.State = Failed
		reporter.Report(Failed, 0)
		log.Error("Failed to analyse function", slog.Any("error", err))
		return res, fmt.Errorf("%w: function %#x: %w", ErrPassFailure, fn.Start(), err)
	}

	claimed := make(map[uint64]string)
	for {
		res.Rounds++
		found := 0
		for i := 0; i < c.Len(); i++ {
			if err := ctx.Err(); err != nil {
				log.Info("Pass canceled", slog.Int("patched", res.Patched()))
				return p.finish(res, Canceled, reporter, log, err)
			}
			if res.Rounds == 1 {
				reporter.Report(Scanning, i*100/c.Len())
			}

			m, ok := p.matchAt(c, i, claimed, res, log)
			if !ok {
				continue
			}

			reporter.Report(Emitting, i*100/c.Len())
			if err := p.emit(viewID, c, m); err != nil {
				res.State = Failed
				reporter.Report(Failed, 0)
				return res, fmt.Errorf("%w: %w", ErrPassFailure, err)
			}
			for _, r := range m.Replacements {
				claimed[r.Address] = m.Idiom
				c.replace(index[r.Address], r.Instructions[0])
			}
			res.Matches = append(res.Matches, m)
			found++
			log.Debug("Patched idiom", slog.String("idiom", m.Idiom), slog.Any("addresses", hexAddresses(m.Addresses())))
		}
		if found == 0 {
			break
		}
	}

	log.Info("Pass finished",
		slog.Int("patched", res.Patched()),
		slog.Int("rejected", res.Rejected),
		slog.Int("rounds", res.Rounds))
	return p.finish(res, Done, reporter, log, nil)
}

// finish saves emitted patches and records the final state.
func (p *Pass) finish(res *Result, state State, reporter Reporter, log *slog.Logger, cause error) (*Result, error) {
	res.State = state
	if len(res.Matches) > 0 {
		if err := p.patches.Save(res.View); err != nil {
			log.Error("Failed to save patches", slog.Any("error", err))
			reporter.Report(state, 100)
			return res, errors.Join(cause, err)
		}
		res.Saved = true
	}
	reporter.Report(state, 100)
	return res, cause
}

// matchAt gathers the candidates at instruction i and lets the policy pick.
func (p *Pass) matchAt(c *Context, i int, claimed map[uint64]string, res *Result, log *slog.Logger) (Match, bool) {
	if _, ok := claimed[c.At(i).Address]; ok {
		return Match{}, false
	}

	var candidates []Match
	for _, idiom := range p.idioms {
		m, ok := idiom.Match(c, i)
		if !ok {
			continue
		}
		if p.alreadyPatched(res.View, m) {
			continue
		}
		if owner, addr, overlaps := overlap(m, claimed); overlaps {
			res.Rejected++
			log.Info("Rejected overlapping match",
				slog.String("idiom", m.Idiom),
				slog.String("address", fmt.Sprintf("%#x", addr)),
				slog.String("claimed_by", owner))
			continue
		}
		candidates = append(candidates, m)
	}
	if len(candidates) == 0 {
		return Match{}, false
	}
	return p.policy.Choose(candidates), true
}

func (p *Pass) alreadyPatched(viewID patch.ViewID, m Match) bool {
	for _, r := range m.Replacements {
		if _, ok := p.patches.Lookup(viewID, r.Address); ok {
			return true
		}
	}
	return false
}

func overlap(m Match, claimed map[uint64]string) (string, uint64, bool) {
	for _, r := range m.Replacements {
		if owner, ok := claimed[r.Address]; ok {
			return owner, r.Address, true
		}
	}
	return "", 0, false
}

// emit records every replacement of m, or none of them.
func (p *Pass) emit(viewID patch.ViewID, c *Context, m Match) error {
	added := make([]uint64, 0, len(m.Replacements))
	for _, r := range m.Replacements {
		_, err := p.patches.AddPatch(viewID, r.Address, c.Length(r.Address), tokenstream.Encode(r.Instructions...))
		if err != nil {
			for _, addr := range added {
				p.patches.RemovePatch(viewID, addr)
			}
			return fmt.Errorf("idiom %s at %#x: %w", m.Idiom, r.Address, err)
		}
		added = append(added, r.Address)
	}
	return nil
}

// buildContext lifts fn and collects instruction lengths. It also returns the
// index of the single instruction at each address.
func buildContext(fn *view.Function) (*Context, map[uint64]int, error) {
	a, err := fn.Architecture()
	if err != nil {
		return nil, nil, err
	}
	il, err := fn.LowLevelIL()
	if err != nil {
		return nil, nil, err
	}

	insns := make([]llil.Instruction, il.Len())
	copy(insns, il.Instructions())

	lengths := make(map[uint64]int)
	index := make(map[uint64]int)
	for i, in := range insns {
		index[in.Address] = i
		if _, ok := lengths[in.Address]; ok {
			continue
		}
		n, err := fn.View().InstructionLength(a, in.Address)
		if err != nil {
			return nil, nil, err
		}
		lengths[in.Address] = n
	}
	return NewContext(insns, lengths, a), index, nil
}

func hexAddresses(addrs []uint64) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = fmt.Sprintf("%#x", a)
	}
	return out
}
