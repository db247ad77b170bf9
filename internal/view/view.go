// Package view models an opened binary image: its identity, mapped segments,
// default architecture, and the functions defined in it.
package view

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/isseis/go-obfuhook/internal/arch"
	"github.com/isseis/go-obfuhook/internal/llil"
	"github.com/isseis/go-obfuhook/internal/patch"
)

// Segment is a contiguous mapped range of the image.
type Segment struct {
	Name       string
	Start      uint64
	Data       []byte
	Executable bool
}

// End returns the first address past the segment.
func (s Segment) End() uint64 {
	return s.Start + uint64(len(s.Data))
}

func (s Segment) contains(addr uint64) bool {
	return addr >= s.Start && addr < s.End()
}

// View is an opened binary image.
//
// The default architecture is resolved by name through the registry on every
// call, so a hook registered after the view was opened is still used.
type View struct {
	id       patch.ViewID
	path     string
	archName string
	archs    *arch.Registry
	entry    uint64
	segments []Segment

	mu        sync.RWMutex
	functions map[uint64]*Function
}

// IDFromContent returns the view identity for an image's bytes.
func IDFromContent(data []byte) patch.ViewID {
	sum := sha256.Sum256(data)
	return patch.ViewID("sha256:" + hex.EncodeToString(sum[:]))
}

func newView(id patch.ViewID, path, archName string, archs *arch.Registry, entry uint64, segments []Segment) (*View, error) {
	if _, err := archs.GetByName(archName); err != nil {
		return nil, err
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i].Start < segments[j].Start })
	return &View{
		id:        id,
		path:      path,
		archName:  archName,
		archs:     archs,
		entry:     entry,
		segments:  segments,
		functions: make(map[uint64]*Function),
	}, nil
}

// NewRaw creates a view over a flat code blob mapped at base.
func NewRaw(data []byte, base uint64, archName string, archs *arch.Registry) (*View, error) {
	owned := append([]byte(nil), data...)
	return newView(IDFromContent(owned), "", archName, archs, base, []Segment{
		{Name: "raw", Start: base, Data: owned, Executable: true},
	})
}

// ID returns the persistent identity of the view.
func (v *View) ID() patch.ViewID {
	return v.id
}

// Path returns the file the view was loaded from, or "" for raw views.
func (v *View) Path() string {
	return v.path
}

// Entry returns the image entry point.
func (v *View) Entry() uint64 {
	return v.entry
}

// Segments returns the mapped segments ordered by start address.
func (v *View) Segments() []Segment {
	return v.segments
}

// ArchitectureName returns the name of the default architecture.
func (v *View) ArchitectureName() string {
	return v.archName
}

// DefaultArchitecture returns the architecture currently registered under
// the view's architecture name.
func (v *View) DefaultArchitecture() (arch.Architecture, error) {
	return v.archs.GetByName(v.archName)
}

// RegisterByName resolves a register name through the default architecture.
func (v *View) RegisterByName(name string) (llil.RegisterID, bool) {
	a, err := v.DefaultArchitecture()
	if err != nil {
		return 0, false
	}
	return a.RegisterByName(name)
}

func (v *View) segment(addr uint64) (Segment, bool) {
	i := sort.Search(len(v.segments), func(i int) bool { return v.segments[i].End() > addr })
	if i < len(v.segments) && v.segments[i].contains(addr) {
		return v.segments[i], true
	}
	return Segment{}, false
}

// Read returns up to n bytes starting at addr, stopping at the end of the
// containing segment.
func (v *View) Read(addr uint64, n int) ([]byte, error) {
	seg, ok := v.segment(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %#x", ErrUnmapped, addr)
	}
	off := addr - seg.Start
	end := off + uint64(n)
	if end > uint64(len(seg.Data)) {
		end = uint64(len(seg.Data))
	}
	return seg.Data[off:end], nil
}

// IsExecutable reports whether addr lies in executable code.
func (v *View) IsExecutable(addr uint64) bool {
	seg, ok := v.segment(addr)
	return ok && seg.Executable
}

// request builds the decode request for addr using a's maximum length.
func (v *View) request(a arch.Architecture, addr uint64) (arch.Request, error) {
	data, err := v.Read(addr, a.MaxInstructionLength())
	if err != nil {
		return arch.Request{}, err
	}
	return arch.Request{View: v.id, Address: addr, Data: data}, nil
}

// InstructionLength returns the length a reports for the instruction at addr.
func (v *View) InstructionLength(a arch.Architecture, addr uint64) (int, error) {
	req, err := v.request(a, addr)
	if err != nil {
		return 0, err
	}
	info, err := a.InstructionInfo(req)
	if err != nil {
		return 0, err
	}
	return info.Length, nil
}

// InstructionText renders the instruction at addr with a.
func (v *View) InstructionText(a arch.Architecture, addr uint64) ([]arch.TextToken, int, error) {
	req, err := v.request(a, addr)
	if err != nil {
		return nil, 0, err
	}
	return a.InstructionText(req)
}

// AddFunction defines a function starting at addr.
func (v *View) AddFunction(addr uint64) (*Function, error) {
	if !v.IsExecutable(addr) {
		return nil, fmt.Errorf("%w: %#x", ErrNotExecutable, addr)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.functions[addr]; ok {
		return nil, fmt.Errorf("%w at %#x", ErrFunctionExists, addr)
	}
	fn := &Function{view: v, start: addr}
	v.functions[addr] = fn
	return fn, nil
}

// Function returns the function starting at addr.
func (v *View) Function(addr uint64) (*Function, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	fn, ok := v.functions[addr]
	return fn, ok
}

// FunctionOrAdd returns the function at addr, defining it if needed.
func (v *View) FunctionOrAdd(addr uint64) (*Function, error) {
	if fn, ok := v.Function(addr); ok {
		return fn, nil
	}
	fn, err := v.AddFunction(addr)
	if err != nil {
		if fn, ok := v.Function(addr); ok {
			return fn, nil
		}
		return nil, err
	}
	return fn, nil
}

// Functions returns every defined function ordered by start address.
func (v *View) Functions() []*Function {
	v.mu.RLock()
	out := make([]*Function, 0, len(v.functions))
	for _, fn := range v.functions {
		out = append(out, fn)
	}
	v.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].start < out[j].start })
	return out
}
