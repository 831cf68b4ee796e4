package ttg

import (
	"context"
	"fmt"
	"log"
	"reflect"
	"sync"

	"github.com/ttg-go/ttg/telemetry"
)

// ErrorHandler and PanicHandler are reused from scheduler.go for the
// runtime-wide defaults; Runtime.reportError funnels every TT delivery
// error (not just firing errors) through the same sink.

// Option configures a Runtime at construction time, following the
// functional-options idiom whitaker-io/machine's builder package uses for
// Machine construction.
type Option func(*Runtime)

// WithWorkers sets the scheduler's worker count; -1 or 0 default to one
// worker per hardware thread.
func WithWorkers(n int) Option {
	return func(rt *Runtime) { rt.workers = n }
}

// WithTransport attaches the Transport used for cross-rank delivery. A
// Runtime with no transport configured acts as rank 0 of a one-rank group
// and fails any delivery whose keymap resolves to a different rank with
// ErrUnknownPeer.
func WithTransport(t Transport) Option {
	return func(rt *Runtime) { rt.transport = t }
}

// WithErrorHandler overrides the default error sink, which logs via the
// standard logger.
func WithErrorHandler(h ErrorHandler) Option {
	return func(rt *Runtime) { rt.onError = h }
}

// WithPanicHandler overrides the default panic sink.
func WithPanicHandler(h PanicHandler) Option {
	return func(rt *Runtime) { rt.onPanic = h }
}

// WithDescriptor registers desc as the ValueDescriptor for values of
// reflect.TypeOf(zero), overriding the default GobDescriptor for that
// type on every TT in this Runtime.
func WithDescriptor(zero any, desc ValueDescriptor) Option {
	t := reflect.TypeOf(zero)
	return func(rt *Runtime) { rt.descriptorsByType[t] = desc }
}

// Runtime is the collective object binding one rank's TT graph to a
// scheduler and an optional Transport. It is deliberately non-generic —
// TT[K] instances of differing K register into it behind the
// Node/Fireable interfaces so one Runtime can own a graph mixing many
// key types.
type Runtime struct {
	mu    sync.RWMutex
	nodes map[string]Node

	workers   int
	sched     *Scheduler
	transport Transport

	onError ErrorHandler
	onPanic PanicHandler

	descriptorsByType map[reflect.Type]ValueDescriptor
	descriptorsBySlot map[ttSlotKey]ValueDescriptor
	defaultDescriptor ValueDescriptor

	runCtx    context.Context
	runCancel context.CancelFunc

	fenceMu sync.Mutex
}

type ttSlotKey struct {
	ttID string
	slot int
}

// NewRuntime constructs a Runtime. TTs capture their owning Runtime at
// MakeTT time, so pass this Runtime to every TT that should participate in
// its scheduling and cross-rank routing; call Initialize once they are all
// constructed and wired.
func NewRuntime(opts ...Option) *Runtime {
	rt := &Runtime{
		nodes:             make(map[string]Node),
		onError:           func(ttID string, err error) { log.Printf("ttg: tt %q: %v", ttID, err) },
		onPanic:           func(ttID string, r any) { log.Printf("ttg: tt %q panicked: %v", ttID, r) },
		descriptorsByType: make(map[reflect.Type]ValueDescriptor),
		descriptorsBySlot: make(map[ttSlotKey]ValueDescriptor),
		defaultDescriptor: GobDescriptor{},
	}
	for _, o := range opts {
		o(rt)
	}
	rt.sched = NewScheduler(rt.workers)
	rt.sched.OnError = rt.onError
	rt.sched.OnPanic = rt.onPanic
	return rt
}

// Rank returns this process's rank, 0 and alone when no Transport is
// configured.
func (rt *Runtime) Rank() int {
	if rt.transport == nil {
		return 0
	}
	return rt.transport.Rank()
}

// Size returns the peer group's size, 1 when no Transport is configured.
func (rt *Runtime) Size() int {
	if rt.transport == nil {
		return 1
	}
	return rt.transport.Size()
}

// register records tt under id so the graph manager can traverse it and
// the Runtime can route errors back to it. Called from MakeTT.
func (rt *Runtime) register(id string, n Node) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.nodes[id] = n
}

// Nodes returns every registered TT, in no particular order, for the graph
// manager to traverse.
func (rt *Runtime) Nodes() []Node {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]Node, 0, len(rt.nodes))
	for _, n := range rt.nodes {
		out = append(out, n)
	}
	return out
}

// RegisterDescriptor overrides the ValueDescriptor used for a specific
// (ttID, slot) pair, taking precedence over both the type-keyed and
// default descriptors. Needed on the receive side, where the wire value's
// concrete Go type is not known until after UnpackPayload runs.
func (rt *Runtime) RegisterDescriptor(ttID string, slot int, desc ValueDescriptor) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.descriptorsBySlot[ttSlotKey{ttID, slot}] = desc
}

// descriptorFor resolves the ValueDescriptor to use for ttID's slot,
// preferring a slot-specific registration, then a type-specific one keyed
// off value's concrete type (when value is non-nil), then the default.
func (rt *Runtime) descriptorFor(ttID string, slot int, value any) ValueDescriptor {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if d, ok := rt.descriptorsBySlot[ttSlotKey{ttID, slot}]; ok {
		return d
	}
	if value != nil {
		if d, ok := rt.descriptorsByType[reflect.TypeOf(value)]; ok {
			return d
		}
	}
	return rt.defaultDescriptor
}

// scheduler returns the runtime's worker pool.
func (rt *Runtime) scheduler() *Scheduler { return rt.sched }

// ctx returns the context governing the current Execute/Finalize cycle.
func (rt *Runtime) ctx() context.Context {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if rt.runCtx == nil {
		return context.Background()
	}
	return rt.runCtx
}

// reportError funnels a delivery-time error (one that never reaches the
// scheduler, e.g. ErrNotExecutable or a remote send failure) to the same
// sink Execute wires the scheduler's OnError to.
func (rt *Runtime) reportError(ttID string, err error) { rt.onError(ttID, err) }

// Initialize makes every registered TT executable by running
// MakeGraphExecutable from the given seed nodes. Call it once, after
// every TT is constructed and wired.
func (rt *Runtime) Initialize(seeds ...Node) error {
	return MakeGraphExecutable(rt.Nodes(), seeds...)
}

// Execute starts the scheduler's worker pool and, if a Transport is
// configured, begins servicing remote deliveries. Execute is idempotent.
func (rt *Runtime) Execute(ctx context.Context) {
	rt.mu.Lock()
	if rt.runCtx == nil {
		rt.runCtx, rt.runCancel = context.WithCancel(ctx)
	}
	runCtx := rt.runCtx
	rt.mu.Unlock()
	rt.sched.Start(runCtx)
}

// Fence blocks until this rank's scheduler is locally quiescent and, when a
// Transport is configured, until every rank reports the same (distributed
// quiescence). It is safe to call Fence multiple times across a Runtime's
// lifetime.
func (rt *Runtime) Fence() error {
	rt.fenceMu.Lock()
	defer rt.fenceMu.Unlock()

	for !rt.sched.Quiescent() {
		select {
		case <-rt.ctx().Done():
			return fmt.Errorf("ttg: fence: %w", rt.ctx().Err())
		default:
		}
	}
	telemetry.FenceRound(rt.ctx(), rt.Rank())
	if rt.transport == nil {
		return nil
	}
	return rt.transport.Fence()
}

// Finalize cancels the run context, stops the scheduler, and closes the
// Transport. After Finalize, the Runtime's TTs can no longer fire; a fresh
// Runtime is needed for another Execute cycle.
func (rt *Runtime) Finalize() error {
	rt.mu.Lock()
	cancel := rt.runCancel
	rt.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	rt.sched.Stop()
	if rt.transport != nil {
		return rt.transport.Close()
	}
	return nil
}
