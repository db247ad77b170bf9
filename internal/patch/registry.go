package patch

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/isseis/go-obfuhook/internal/tokenstream"
)

// Registry owns the patch stores of every view touched in this process.
// It is an explicit object created by the host and handed to the hooks and
// the pattern pass; there is no package-level registry.
type Registry struct {
	persister Persister

	mu     sync.RWMutex
	stores map[ViewID]*Store

	// loadMu serializes Load and Save so a view is read from storage at
	// most once and never concurrently with its own save.
	loadMu sync.Mutex
	loaded map[ViewID]bool
}

// NewRegistry creates a registry backed by persister. A nil persister keeps
// patches in memory only (see MemoryPersister for a shareable one).
func NewRegistry(persister Persister) *Registry {
	if persister == nil {
		persister = NewMemoryPersister()
	}
	return &Registry{
		persister: persister,
		stores:    make(map[ViewID]*Store),
		loaded:    make(map[ViewID]bool),
	}
}

// Store returns the store for view, creating an empty one on first use.
func (r *Registry) Store(view ViewID) *Store {
	if s, ok := r.existing(view); ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[view]; ok {
		return s
	}
	s := NewStore(view)
	r.stores[view] = s
	return s
}

func (r *Registry) existing(view ViewID) (*Store, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.stores[view]
	return s, ok
}

// AddPatch validates tokens and stores the patch at address for view,
// replacing any previous patch there. Nothing is persisted until Save.
func (r *Registry) AddPatch(view ViewID, address uint64, originalLength int, tokens []tokenstream.Token) (*Patch, error) {
	return r.Store(view).Add(address, originalLength, tokens)
}

// Lookup returns the patch at address for view. It never touches storage,
// so it is safe on the decode path.
func (r *Registry) Lookup(view ViewID, address uint64) (*Patch, bool) {
	s, ok := r.existing(view)
	if !ok {
		return nil, false
	}
	return s.Lookup(address)
}

// RemovePatch deletes the patch at address for view, if any.
func (r *Registry) RemovePatch(view ViewID, address uint64) bool {
	s, ok := r.existing(view)
	if !ok {
		return false
	}
	return s.Remove(address)
}

// Patches returns a snapshot of view's patches ordered by address.
func (r *Registry) Patches(view ViewID) []*Patch {
	s, ok := r.existing(view)
	if !ok {
		return nil
	}
	return s.Patches()
}

// Len returns the number of patches held for view.
func (r *Registry) Len(view ViewID) int {
	s, ok := r.existing(view)
	if !ok {
		return 0
	}
	return s.Len()
}

// Loaded reports whether Load has already run for view in this process.
func (r *Registry) Loaded(view ViewID) bool {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	return r.loaded[view]
}

// Save writes every patch currently held for view to durable storage.
// On failure the in-memory patches are left untouched.
func (r *Registry) Save(view ViewID) error {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	patches := r.Patches(view)
	records := make([]Record, len(patches))
	for i, p := range patches {
		records[i] = toRecord(p)
	}

	if err := r.persister.SavePatches(view, records); err != nil {
		return &PersistenceError{Op: "save", View: view, Cause: err}
	}

	slog.Debug("Saved patches", slog.String("view", string(view)), slog.Int("count", len(records)))
	return nil
}

// Load reads the persisted patches for view into memory the first time it is
// called for that view; later calls are no-ops. A view that was never saved
// loads as empty. Corrupt data is reported as a PersistenceError and the view
// is treated as having no prior patches.
//
// Patches already added in this process win over persisted ones at the same
// address.
func (r *Registry) Load(view ViewID) error {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	if r.loaded[view] {
		return nil
	}
	r.loaded[view] = true

	store := r.Store(view)

	records, err := r.persister.LoadPatches(view)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil
		}
		return &PersistenceError{Op: "load", View: view, Cause: err}
	}

	patches := make([]*Patch, 0, len(records))
	for _, rec := range records {
		p, err := fromRecord(rec)
		if err != nil {
			return &PersistenceError{Op: "load", View: view, Cause: &RecordCorruptedError{Path: string(view), Cause: err}}
		}
		patches = append(patches, p)
	}

	added := 0
	for _, p := range patches {
		if store.putIfAbsent(p) {
			added++
		}
	}

	slog.Debug("Loaded patches", slog.String("view", string(view)), slog.Int("count", added))
	return nil
}
