package deobf

import "fmt"

// ConflictPolicy picks one match among the candidates found at an
// instruction. Candidates never overlap addresses already claimed in the run.
type ConflictPolicy interface {
	Name() string
	Choose(candidates []Match) Match
}

// Policy names.
const (
	PolicyFirstMatch   = "first-match"
	PolicyLongestMatch = "longest-match"
)

// FirstMatch picks the candidate of the earliest idiom in catalog order.
type FirstMatch struct{}

// Name implements ConflictPolicy.
func (FirstMatch) Name() string { return PolicyFirstMatch }

// Choose implements ConflictPolicy.
func (FirstMatch) Choose(candidates []Match) Match {
	return candidates[0]
}

// LongestMatch picks the candidate claiming the most addresses, breaking
// ties by catalog order.
type LongestMatch struct{}

// Name implements ConflictPolicy.
func (LongestMatch) Name() string { return PolicyLongestMatch }

// Choose implements ConflictPolicy.
func (LongestMatch) Choose(candidates []Match) Match {
	best := candidates[0]
	for _, m := range candidates[1:] {
		if len(m.Replacements) > len(best.Replacements) {
			best = m
		}
	}
	return best
}

// PolicyByName returns the policy with the given name.
func PolicyByName(name string) (ConflictPolicy, error) {
	switch name {
	case PolicyFirstMatch, "":
		return FirstMatch{}, nil
	case PolicyLongestMatch:
		return LongestMatch{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownPolicy, name)
}
