// Package e2e exercises the core engine, a Transport, and the device
// bridge together as a downstream consumer would, the way cmd does for
// the CLI surface — it cannot live in the root module's own test package
// since transport and device are separate modules that already require
// the root module.
package e2e

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ttg-go/ttg"
	"github.com/ttg-go/ttg/device"
	"github.com/ttg-go/ttg/transport"
)

func intT() reflect.Type { return reflect.TypeOf(0) }

// S1: a linear chain a -> b -> c; a and b each add one to their input and
// c records the value it receives.
func TestS1LinearChain(t *testing.T) {
	rt := ttg.NewRuntime(ttg.WithTransport(transport.NewLocal()))

	var mu sync.Mutex
	var final int
	done := make(chan struct{})

	c := ttg.MakeTT[int](rt, "c",
		[]ttg.InputSpec{{Name: "in", Capability: ttg.CapRead, ValueType: intT()}},
		nil,
		nil,
		func(ctx context.Context, key int, in []ttg.Slot, out *ttg.Outputs[int]) error {
			mu.Lock()
			final = in[0].Copy.Payload().(int)
			mu.Unlock()
			close(done)
			return nil
		},
	)

	b := ttg.MakeTT[int](rt, "b",
		[]ttg.InputSpec{{Name: "in", Capability: ttg.CapRead, ValueType: intT()}},
		[]ttg.OutputSpec{{Name: "out", ValueType: intT()}},
		nil,
		func(ctx context.Context, key int, in []ttg.Slot, out *ttg.Outputs[int]) error {
			return out.Send(0, key, in[0].Copy.Payload().(int)+1)
		},
	)

	a := ttg.MakeTT[int](rt, "a",
		[]ttg.InputSpec{{Name: "in", Capability: ttg.CapRead, ValueType: intT()}},
		[]ttg.OutputSpec{{Name: "out", ValueType: intT()}},
		nil,
		func(ctx context.Context, key int, in []ttg.Slot, out *ttg.Outputs[int]) error {
			return out.Send(0, key, in[0].Copy.Payload().(int)+1)
		},
	)

	if err := ttg.Connect[int](a.Out(0), b.In(0)); err != nil {
		t.Fatalf("Connect a->b: %v", err)
	}
	if err := ttg.Connect[int](b.Out(0), c.In(0)); err != nil {
		t.Fatalf("Connect b->c: %v", err)
	}
	if err := rt.Initialize(a); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.Execute(ctx)

	if err := a.Seed(0, 1, 10); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for chain to complete")
	}

	mu.Lock()
	defer mu.Unlock()
	if final != 12 {
		t.Fatalf("final value: got %d, want 12", final)
	}
}

// A reducer TT with two Read inputs fans in before firing. Distinct from
// TestS2ConsumeAccumulatorReduction below: both inputs here are read-only
// and combined exactly once, with no Consume/MarkMutable mutation.
func TestFanInTwoReadInputs(t *testing.T) {
	rt := ttg.NewRuntime(ttg.WithTransport(transport.NewLocal()))

	sum := make(chan int, 1)
	reducer := ttg.MakeTT[int](rt, "reducer",
		[]ttg.InputSpec{
			{Name: "lhs", Capability: ttg.CapRead, ValueType: intT()},
			{Name: "rhs", Capability: ttg.CapRead, ValueType: intT()},
		},
		nil,
		nil,
		func(ctx context.Context, key int, in []ttg.Slot, out *ttg.Outputs[int]) error {
			sum <- in[0].Copy.Payload().(int) + in[1].Copy.Payload().(int)
			return nil
		},
	)

	if err := rt.Initialize(reducer); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.Execute(ctx)

	if err := reducer.Seed(0, 1, 3); err != nil {
		t.Fatalf("Seed lhs: %v", err)
	}

	select {
	case <-sum:
		t.Fatal("reducer fired before both inputs were present")
	case <-time.After(50 * time.Millisecond):
	}

	if err := reducer.Seed(1, 1, 4); err != nil {
		t.Fatalf("Seed rhs: %v", err)
	}

	select {
	case got := <-sum:
		if got != 7 {
			t.Fatalf("reducer result: got %d, want 7", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reducer to fire")
	}
}

// S2: a single Consume accumulator, seeded with 0 and self-looped back
// into its own accumulator input, folds in three separate sends summing
// to 6. Each firing must acquire exclusive-mutable mode on the
// accumulator's DataCopy via MarkMutable before mutating it in place, and
// exactly three such mutations must occur — one per delta delivered.
func TestS2ConsumeAccumulatorReduction(t *testing.T) {
	rt := ttg.NewRuntime(ttg.WithTransport(transport.NewLocal()))

	var mutations atomic.Int32
	results := make(chan int, 8)

	acc := ttg.MakeTT[int](rt, "acc",
		[]ttg.InputSpec{
			{Name: "delta", Capability: ttg.CapRead, ValueType: intT()},
			{Name: "acc", Capability: ttg.CapConsume, ValueType: intT()},
		},
		[]ttg.OutputSpec{{Name: "acc_out", ValueType: intT()}},
		nil,
		func(ctx context.Context, key int, in []ttg.Slot, out *ttg.Outputs[int]) error {
			if !in[1].Move {
				return fmt.Errorf("accumulator slot delivered without move")
			}
			if err := in[1].Copy.MarkMutable(); err != nil {
				return err
			}
			mutations.Add(1)
			next := in[1].Copy.Payload().(int) + in[0].Copy.Payload().(int)
			in[1].Copy.SetPayload(next)
			results <- next
			return out.Send(0, key, next)
		},
	)

	// Self-loop: "acc_out" feeds straight back into the accumulator's own
	// Consume input, so every firing's output becomes the next firing's
	// sole accumulator reference.
	if err := ttg.Connect[int](acc.Out(0), acc.In(1)); err != nil {
		t.Fatalf("Connect acc self-loop: %v", err)
	}
	if err := rt.Initialize(acc); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.Execute(ctx)

	if err := acc.Seed(1, 0, 0); err != nil {
		t.Fatalf("Seed initial accumulator: %v", err)
	}

	var final int
	for _, delta := range []int{1, 2, 3} {
		if err := acc.Seed(0, 0, delta); err != nil {
			t.Fatalf("Seed delta %d: %v", delta, err)
		}
		select {
		case final = <-results:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for delta %d to fold into the accumulator", delta)
		}
	}

	if final != 6 {
		t.Fatalf("accumulator result: got %d, want 6", final)
	}
	if got := mutations.Load(); got != 3 {
		t.Fatalf("mutation count: got %d, want 3", got)
	}
}

// S3: broadcasting a value to many keys elides per-key DataCopy allocation
// and still delivers the same payload to every key's activation.
func TestS3BroadcastCopyElision(t *testing.T) {
	rt := ttg.NewRuntime(ttg.WithTransport(transport.NewLocal()))

	const n = 5
	var mu sync.Mutex
	seen := map[int]int{}
	copies := map[int]*ttg.DataCopy{}
	var wg sync.WaitGroup
	wg.Add(n)

	sink := ttg.MakeTT[int](rt, "sink",
		[]ttg.InputSpec{{Name: "in", Capability: ttg.CapRead, ValueType: intT()}},
		nil,
		nil,
		func(ctx context.Context, key int, in []ttg.Slot, out *ttg.Outputs[int]) error {
			mu.Lock()
			seen[key] = in[0].Copy.Payload().(int)
			copies[key] = in[0].Copy
			mu.Unlock()
			wg.Done()
			return nil
		},
	)

	source := ttg.MakeTT[int](rt, "source",
		[]ttg.InputSpec{{Name: "trigger", Capability: ttg.CapControl}},
		[]ttg.OutputSpec{{Name: "out", ValueType: intT()}},
		nil,
		func(ctx context.Context, key int, in []ttg.Slot, out *ttg.Outputs[int]) error {
			keys := make([]int, n)
			for i := range keys {
				keys[i] = i
			}
			return out.Broadcast(0, keys, 99)
		},
	)

	if err := ttg.Connect[int](source.Out(0), sink.In(0)); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := rt.Initialize(source, sink); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.Execute(ctx)

	if err := source.Seed(0, 0, nil); err != nil {
		t.Fatalf("Seed trigger: %v", err)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast fan-out")
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < n; i++ {
		if got := seen[i]; got != 99 {
			t.Fatalf("key %d: got %d, want 99", i, got)
		}
		if copies[i] != copies[0] {
			t.Fatalf("key %d received a different DataCopy than key 0; broadcast should share one", i)
		}
	}
}

// S4: cross-rank routing. Two ranks each own half the keyspace; a producer
// on rank 0 sends to keys owned by rank 1 via the InProcess mesh Transport.
func TestS4CrossRankRouting(t *testing.T) {
	mesh := transport.NewInProcessMesh(2)
	defer mesh[0].Close()
	defer mesh[1].Close()

	rankOf := func(key int) int { return key % 2 }

	rt0 := ttg.NewRuntime(ttg.WithTransport(mesh[0]))
	rt1 := ttg.NewRuntime(ttg.WithTransport(mesh[1]))

	var mu sync.Mutex
	var got int
	done := make(chan struct{})

	// Both ranks must register a TT under the same id with the same
	// keymap, so a remote delivery for an owned key re-enters the right
	// TT on the owning rank.
	newSink := func(rt *ttg.Runtime, record bool) *ttg.TT[int] {
		return ttg.MakeTT[int](rt, "sink",
			[]ttg.InputSpec{{Name: "in", Capability: ttg.CapRead, ValueType: intT()}},
			nil,
			rankOf,
			func(ctx context.Context, key int, in []ttg.Slot, out *ttg.Outputs[int]) error {
				if record {
					mu.Lock()
					got = in[0].Copy.Payload().(int)
					mu.Unlock()
					close(done)
				}
				return nil
			},
		)
	}
	sink0 := newSink(rt0, false)
	sink1 := newSink(rt1, true)

	if err := rt0.Initialize(sink0); err != nil {
		t.Fatalf("rt0.Initialize: %v", err)
	}
	if err := rt1.Initialize(sink1); err != nil {
		t.Fatalf("rt1.Initialize: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt0.Execute(ctx)
	rt1.Execute(ctx)

	// key 1 is owned by rank 1; seeding it on rank 0's TT must route
	// across the mesh instead of firing locally.
	if err := sink0.Seed(0, 1, 42); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cross-rank delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	if got != 42 {
		t.Fatalf("delivered value: got %d, want 42", got)
	}
}

// S5: a self-looping Fibonacci generator, fed by Seed, terminating itself
// by simply not re-seeding past a bound (this harness only generates the
// first few terms and reads them off a channel).
func TestS5FibonacciSelfLoop(t *testing.T) {
	rt := ttg.NewRuntime(ttg.WithTransport(transport.NewLocal()))

	terms := make(chan int, 16)
	var fib *ttg.TT[int]
	fib = ttg.MakeTT[int](rt, "fib",
		[]ttg.InputSpec{
			{Name: "prev", Capability: ttg.CapRead, ValueType: intT()},
			{Name: "curr", Capability: ttg.CapRead, ValueType: intT()},
		},
		nil,
		nil,
		func(ctx context.Context, key int, in []ttg.Slot, out *ttg.Outputs[int]) error {
			prev := in[0].Copy.Payload().(int)
			curr := in[1].Copy.Payload().(int)
			next := prev + curr
			terms <- curr
			if key < 8 {
				if err := fib.Seed(0, key+1, curr); err != nil {
					return err
				}
				if err := fib.Seed(1, key+1, next); err != nil {
					return err
				}
			}
			return nil
		},
	)

	if err := rt.Initialize(fib); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.Execute(ctx)

	if err := fib.Seed(0, 0, 0); err != nil {
		t.Fatalf("Seed prev: %v", err)
	}
	if err := fib.Seed(1, 0, 1); err != nil {
		t.Fatalf("Seed curr: %v", err)
	}

	want := []int{1, 1, 2, 3, 5, 8, 13, 21, 34}
	for i, w := range want {
		select {
		case got := <-terms:
			if got != w {
				t.Fatalf("term %d: got %d, want %d", i, got, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for term %d", i)
		}
	}
}

// S6: a device task that must call Select, then Wait, then Forward before
// completing, exercised against the no-op Simulator backend.
func TestS6DeviceSelectWaitForward(t *testing.T) {
	rt := ttg.NewRuntime(ttg.WithTransport(transport.NewLocal()))

	done := make(chan int, 1)
	body := device.Wrap[int](device.Simulator{}, func(ctx context.Context, key int, in []ttg.Slot, out *ttg.Outputs[int], dev *device.Context) error {
		dc := in[0].Copy
		if err := dev.Select(ctx, dc); err != nil {
			return err
		}
		if err := dev.Wait(ctx); err != nil {
			return err
		}
		done <- dc.Payload().(int)
		return dev.Forward(ctx)
	})

	task := ttg.MakeTT[int](rt, "devtask",
		[]ttg.InputSpec{{Name: "in", Capability: ttg.CapRead, ValueType: intT()}},
		nil,
		nil,
		body,
	)

	if err := rt.Initialize(task); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.Execute(ctx)

	if err := task.Seed(0, 1, 77); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	select {
	case got := <-done:
		if got != 77 {
			t.Fatalf("device task payload: got %d, want 77", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for device task")
	}
}

// A task body that never calls Forward is an error, per device.Run.
func TestDeviceRunRequiresForward(t *testing.T) {
	err := device.Run(context.Background(), device.Simulator{}, func(ctx context.Context, dev *device.Context) error {
		return nil
	})
	if err == nil {
		t.Fatal("expected an error when the body never calls Forward")
	}
}
