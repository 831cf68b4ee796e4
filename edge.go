package ttg

// edgeCore is the shared pimpl behind an Edge: two append-only lists of
// not-yet-fully-wired endpoints, mirroring the C++ original's Edge, which
// is a value type whose identity is a shared pointer to exactly this kind
// of core.
type edgeCore[K comparable] struct {
	outs []*OutTerminal[K]
	ins  []*InTerminal[K]
}

// Edge is a logical channel bundling one-or-more Out to In connections. It
// is a small value type wrapping a shared core, so copying an Edge copies
// the pointer, not the wiring.
type Edge[K comparable] struct {
	core *edgeCore[K]
}

// NewEdge constructs an empty, unconnected Edge.
func NewEdge[K comparable]() Edge[K] {
	return Edge[K]{core: &edgeCore[K]{}}
}

// SetOut appends an Out terminal to the edge's producer set and connects it
// to every In terminal already registered.
func (e Edge[K]) SetOut(out *OutTerminal[K]) error {
	e.core.outs = append(e.core.outs, out)
	for _, in := range e.core.ins {
		if err := out.Connect(in); err != nil {
			return err
		}
	}
	return nil
}

// SetIn appends an In terminal to the edge's destination set and connects
// every Out terminal already registered to it.
func (e Edge[K]) SetIn(in *InTerminal[K]) error {
	e.core.ins = append(e.core.ins, in)
	for _, out := range e.core.outs {
		if err := out.Connect(in); err != nil {
			return err
		}
	}
	return nil
}

// Fuse merges other's producer and destination lists into e, so a single
// destination can collect from multiple producers. Existing cross
// connections on both sides are preserved as-is; only the new cross
// connections between e's prior endpoints and other's are formed, so an
// out->in pair already wired inside other (or already inside e) is never
// connected a second time.
func (e Edge[K]) Fuse(other Edge[K]) error {
	existingOuts := append([]*OutTerminal[K](nil), e.core.outs...)
	existingIns := append([]*InTerminal[K](nil), e.core.ins...)

	e.core.outs = append(e.core.outs, other.core.outs...)
	e.core.ins = append(e.core.ins, other.core.ins...)

	for _, out := range other.core.outs {
		for _, in := range existingIns {
			if err := out.Connect(in); err != nil {
				return err
			}
		}
	}
	for _, in := range other.core.ins {
		for _, out := range existingOuts {
			if err := out.Connect(in); err != nil {
				return err
			}
		}
	}
	return nil
}

// Connect is a free-function helper wiring a single Out to a single In.
func Connect[K comparable](out *OutTerminal[K], in *InTerminal[K]) error {
	return out.Connect(in)
}
