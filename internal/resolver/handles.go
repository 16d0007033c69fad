package resolver

import (
	"sort"

	"github.com/ctagard/cuda-dap/internal/errors"
)

// HandleKind is what a variable reference points at.
type HandleKind int

const (
	// HandleLocals is a frame's "Local" scope.
	HandleLocals HandleKind = iota
	// HandleRegisters is a frame's "Registers" scope.
	HandleRegisters
	// HandleRegisterGroup is one named register group of a device frame.
	HandleRegisterGroup
	// HandleVarObj is a composite backend variable object.
	HandleVarObj
)

// Handle is the state behind one variable reference.
type Handle struct {
	Ref        int
	Generation int
	Kind       HandleKind
	Frame      Frame

	// HandleVarObj
	VarObj string
	Expr   string
	Type   string

	// HandleRegisterGroup
	Group     string
	Registers []Register

	children []Variable
	groups   []*Handle
}

// Register is one backend register of a frame.
type Register struct {
	Number int
	Name   string
}

// Handles issues variable references. Every reference belongs to the
// generation that was current when it was issued; advancing the generation
// voids all of them.
type Handles struct {
	generation int
	next       int
	// starts[g] is the first reference issued in generation g.
	starts []int
	live   map[int]*Handle
	roots  []string
}

// NewHandles starts at generation zero. Reference 0 is never issued; it
// means "no children" on the wire.
func NewHandles() *Handles {
	return &Handles{
		starts: []int{1},
		live:   make(map[int]*Handle),
	}
}

// Generation returns the current generation.
func (h *Handles) Generation() int {
	return h.generation
}

// Issue registers hd in the current generation and returns it with its
// reference filled in.
func (h *Handles) Issue(hd Handle) *Handle {
	h.next++
	hd.Ref = h.next
	hd.Generation = h.generation
	stored := &hd
	h.live[hd.Ref] = stored
	return stored
}

// Get returns the live handle for ref, or STALE_REFERENCE for a reference of
// an earlier generation, or UNKNOWN_REFERENCE for one never issued.
func (h *Handles) Get(ref int) (*Handle, error) {
	if hd, ok := h.live[ref]; ok {
		return hd, nil
	}
	if ref <= 0 || ref > h.next {
		return nil, errors.UnknownReference("variable reference", ref)
	}
	issued := sort.Search(len(h.starts), func(i int) bool { return h.starts[i] > ref }) - 1
	return nil, errors.StaleReference(ref, issued, h.generation)
}

// TrackRoot remembers a backend variable object to delete on Advance.
func (h *Handles) TrackRoot(name string) {
	h.roots = append(h.roots, name)
}

// Advance starts a new generation and returns the variable objects created
// in the previous one.
func (h *Handles) Advance() []string {
	h.generation++
	h.starts = append(h.starts, h.next+1)
	h.live = make(map[int]*Handle)
	roots := h.roots
	h.roots = nil
	return roots
}
