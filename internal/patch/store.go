package patch

import (
	"sort"
	"sync"

	"github.com/isseis/go-obfuhook/internal/tokenstream"
)

// Store holds the patches of a single view, keyed by address.
//
// Lookups take a read lock only, so concurrent decoders never block each
// other. Writers replace whole *Patch values, so a reader observes either the
// old or the new patch, never a partially built one.
type Store struct {
	view    ViewID
	mu      sync.RWMutex
	patches map[uint64]*Patch
}

// NewStore creates an empty store for view.
func NewStore(view ViewID) *Store {
	return &Store{
		view:    view,
		patches: make(map[uint64]*Patch),
	}
}

// View returns the identity of the view the store belongs to.
func (s *Store) View() ViewID {
	return s.view
}

// Add validates tokens and stores the resulting patch at address, replacing
// any previous patch there.
func (s *Store) Add(address uint64, length int, tokens []tokenstream.Token) (*Patch, error) {
	p, err := New(address, length, tokens)
	if err != nil {
		return nil, err
	}
	s.Put(p)
	return p, nil
}

// Put stores an already validated patch, replacing any previous one.
func (s *Store) Put(p *Patch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.patches[p.Address] = p
}

// putIfAbsent stores p unless the address is already patched.
func (s *Store) putIfAbsent(p *Patch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.patches[p.Address]; exists {
		return false
	}
	s.patches[p.Address] = p
	return true
}

// Lookup returns the patch at address. A miss is the common case and is not
// an error.
func (s *Store) Lookup(address uint64) (*Patch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patches[address]
	return p, ok
}

// Remove deletes the patch at address and reports whether one existed.
func (s *Store) Remove(address uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.patches[address]; !ok {
		return false
	}
	delete(s.patches, address)
	return true
}

// Len returns the number of patches.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.patches)
}

// Patches returns a snapshot of all patches ordered by address.
func (s *Store) Patches() []*Patch {
	s.mu.RLock()
	out := make([]*Patch, 0, len(s.patches))
	for _, p := range s.patches {
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}
