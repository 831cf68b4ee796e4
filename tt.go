package ttg

import (
	"context"
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/ttg-go/ttg/telemetry"
)

// InputSpec declares one input slot of a TT at construction time: its
// name, capability, and value type. This is an explicit schema in place
// of reflecting over the user-supplied callable's argument types.
type InputSpec struct {
	Name       string
	Capability Capability
	ValueType  reflect.Type
}

// Outputs is the handle a TT body uses to emit keyed deliveries on its
// declared Out terminals, addressed by declaration order.
type Outputs[K comparable] struct {
	outs []*OutTerminal[K]
}

// Send delivers (key, value) on output i.
func (o *Outputs[K]) Send(i int, key K, value any) error {
	if i < 0 || i >= len(o.outs) {
		return fmt.Errorf("ttg: output index %d out of range", i)
	}
	return o.outs[i].Send(key, value)
}

// Broadcast delivers value to every key in keys on output i, eliding the
// per-key DataCopy allocation a loop of Sends would otherwise pay for.
func (o *Outputs[K]) Broadcast(i int, keys []K, value any) error {
	if i < 0 || i >= len(o.outs) {
		return fmt.Errorf("ttg: output index %d out of range", i)
	}
	return o.outs[i].Broadcast(keys, value)
}

// Body is the callable invoked when all of a TT's required inputs for a
// key are present. in[i] corresponds to the i'th InputSpec; a Control
// input's in[i].Copy is nil. A Consume slot may call in[i].Copy.MarkMutable
// only when in[i].Move is true, and only after that succeeds may it call
// in[i].Copy.SetPayload to mutate in place.
type Body[K comparable] func(ctx context.Context, key K, in []Slot, out *Outputs[K]) error

// TT is a template task: a node holding input terminals, output terminal
// descriptors, a keymap, optional priority/inline maps, and a callable
// body. TT implements Node so the graph manager and scheduler operate on
// it without knowing its key type.
type TT[K comparable] struct {
	id     string
	schema []InputSpec
	ins    []*InTerminal[K]
	outs   []*OutTerminal[K]

	keymap    RankMap[K]
	priomap   PriorityMap[K]
	inlinemap InlineMap[K]

	body     Body[K]
	table    *ActivationTable[K]
	required uint64

	rt         *Runtime
	executable atomic.Bool
}

// MakeTT constructs a TT[K] with the given input schema and output names.
// It does not connect any edges; wire the returned TT's Input/Output
// terminals with Edge, OutTerminal.Connect, or Connect before calling
// MakeGraphExecutable.
func MakeTT[K comparable](
	rt *Runtime,
	id string,
	inputs []InputSpec,
	outputs []OutputSpec,
	keymap RankMap[K],
	body Body[K],
) *TT[K] {
	tt := &TT[K]{
		id:     id,
		schema: inputs,
		keymap: keymap,
		body:   body,
		table:  NewActivationTable[K](),
		rt:     rt,
	}

	tt.ins = make([]*InTerminal[K], len(inputs))
	for i, spec := range inputs {
		slotIdx := i
		in := NewInTerminal[K](spec.Name, spec.Capability, spec.ValueType, tt)
		in.SetCallback(
			func(key K, dc *DataCopy) { tt.onDeliver(slotIdx, key, false, dc) },
			func(key K, dc *DataCopy) { tt.onDeliver(slotIdx, key, true, dc) },
		)
		tt.ins[i] = in
		// Every declared input is required; this tree has no notion of
		// an optional input slot.
		tt.required |= uint64(1) << uint(i)
	}

	tt.outs = make([]*OutTerminal[K], len(outputs))
	for i, spec := range outputs {
		tt.outs[i] = NewOutTerminal[K](spec.Name, spec.ValueType, tt)
	}

	if rt != nil {
		rt.register(tt.id, tt)
		registerRecv[K](rt, tt)
	}

	return tt
}

// OutputSpec declares one output terminal of a TT at construction time.
type OutputSpec struct {
	Name      string
	ValueType reflect.Type
}

// WithPriority attaches a per-key priority map.
func (tt *TT[K]) WithPriority(p PriorityMap[K]) *TT[K] { tt.priomap = p; return tt }

// WithInline attaches a per-key inline-firing map.
func (tt *TT[K]) WithInline(m InlineMap[K]) *TT[K] { tt.inlinemap = m; return tt }

// ID implements Node.
func (tt *TT[K]) ID() string { return tt.id }

// Executable implements Node.
func (tt *TT[K]) Executable() bool { return tt.executable.Load() }

func (tt *TT[K]) markExecutable() { tt.executable.Store(true) }

// Successors implements Node by walking every Out terminal's connected In
// terminals back to their owning TTs.
func (tt *TT[K]) Successors() []Node {
	seen := map[string]bool{}
	var nodes []Node
	for _, out := range tt.outs {
		for _, n := range out.successorNodes() {
			if !seen[n.ID()] {
				seen[n.ID()] = true
				nodes = append(nodes, n)
			}
		}
	}
	return nodes
}

// In returns the i'th input terminal, for wiring.
func (tt *TT[K]) In(i int) *InTerminal[K] { return tt.ins[i] }

// Out returns the i'th output terminal, for wiring.
func (tt *TT[K]) Out(i int) *OutTerminal[K] { return tt.outs[i] }

// Inputs returns every input terminal, in declaration order.
func (tt *TT[K]) Inputs() []*InTerminal[K] { return tt.ins }

// Outputs returns every output terminal, in declaration order.
func (tt *TT[K]) Outputs() []*OutTerminal[K] { return tt.outs }

// Seed directly injects a value into slot i for key as a move delivery,
// without going through an Out terminal. It still applies keymap routing:
// a key owned by another rank is sent there through the Transport. Used to
// provide the initial reducer/accumulator value a self-looping TT needs
// before any real input arrives.
func (tt *TT[K]) Seed(slot int, key K, value any) error {
	dc := NewDataCopy(value)
	return tt.onDeliverChecked(slot, key, true, dc)
}

func (tt *TT[K]) priority(key K) int32 {
	if tt.priomap == nil {
		return 0
	}
	return tt.priomap(key)
}

func (tt *TT[K]) inline(key K) bool {
	if tt.inlinemap == nil {
		return false
	}
	return tt.inlinemap(key)
}

// onDeliver is the InTerminal callback entry point; it never returns an
// error to the caller (the In/Out terminal API is fire-and-forget),
// logging instead through the runtime's ErrorHandler.
func (tt *TT[K]) onDeliver(slot int, key K, move bool, dc *DataCopy) {
	if err := tt.onDeliverChecked(slot, key, move, dc); err != nil && tt.rt != nil {
		tt.rt.reportError(tt.id, err)
	}
}

func (tt *TT[K]) onDeliverChecked(slot int, key K, move bool, dc *DataCopy) error {
	if !tt.Executable() {
		return fmt.Errorf("%w: tt %q", ErrNotExecutable, tt.id)
	}

	if tt.keymap != nil && tt.rt != nil {
		rank := tt.keymap(key)
		if rank != tt.rt.Rank() {
			return sendRemote(tt.rt, tt.id, slot, rank, key, dc)
		}
	}

	ar, ready, err := tt.table.AssignAndCheck(key, func() *ActivationRecord[K] {
		ar := newActivationRecord[K](tt.id, key, len(tt.ins), tt.required)
		ar.fire = tt.invoke
		return ar
	}, slot, move, dc)
	if err != nil {
		return err
	}

	if ready {
		ar.priority = tt.priority(key)
		ar.seq = tt.table.NextSeq()
		runCtx := tt.rt.ctx()
		telemetry.ActivationEnqueue(runCtx, tt.id, fmt.Sprint(key), ar.priority)
		sched := tt.rt.scheduler()
		sched.Submit(runCtx, ar, tt.inline(key))
	}
	return nil
}

func (tt *TT[K]) invoke(ctx context.Context, key K, slots []Slot) error {
	return tt.body(ctx, key, slots, &Outputs[K]{outs: tt.outs})
}

// InFlight reports the number of activation records currently pending for
// this TT. Runtime.Fence does not consult it: its local quiescence check
// covers only the scheduler's ready queue and running bodies.
func (tt *TT[K]) InFlight() int { return tt.table.Len() }
