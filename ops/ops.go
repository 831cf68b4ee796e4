// Package ops provides generic constructors for the common one-TT
// streaming operators whitaker-io/machine's builder exposes as pipeline
// stages (Map, FoldLeft, Fork, Window), rebuilt here directly on top of
// ttg.MakeTT rather than on a fluent builder: each constructor returns a
// plain *ttg.TT[K] the caller wires with ttg.Connect like any other node.
package ops

import (
	"context"
	"reflect"

	"github.com/ttg-go/ttg"
)

// Map constructs a single-input, single-output TT that applies fn to
// every delivered value and forwards the result under the same key,
// grounded on whitaker-io/machine's loader/map.go "Applicative" stage.
func Map[K comparable](rt *ttg.Runtime, id string, valueType reflect.Type, keymap ttg.RankMap[K], fn func(value any) (any, error)) *ttg.TT[K] {
	return ttg.MakeTT(rt, id,
		[]ttg.InputSpec{{Name: "in", Capability: ttg.CapRead, ValueType: valueType}},
		[]ttg.OutputSpec{{Name: "out", ValueType: valueType}},
		keymap,
		func(ctx context.Context, key K, in []ttg.Slot, out *ttg.Outputs[K]) error {
			result, err := fn(in[0].Copy.Payload())
			if err != nil {
				return err
			}
			return out.Send(0, key, result)
		},
	)
}

// Fork constructs a single-input, two-output TT that routes every
// delivered value to the "left" output, the "right" output, or both,
// as decided by split, grounded on whitaker-io/machine's loader/fork.go
// "Fork" stage.
func Fork[K comparable](rt *ttg.Runtime, id string, valueType reflect.Type, keymap ttg.RankMap[K], split func(value any) (toLeft, toRight bool)) *ttg.TT[K] {
	return ttg.MakeTT(rt, id,
		[]ttg.InputSpec{{Name: "in", Capability: ttg.CapRead, ValueType: valueType}},
		[]ttg.OutputSpec{{Name: "left", ValueType: valueType}, {Name: "right", ValueType: valueType}},
		keymap,
		func(ctx context.Context, key K, in []ttg.Slot, out *ttg.Outputs[K]) error {
			value := in[0].Copy.Payload()
			left, right := split(value)
			if left {
				if err := out.Send(0, key, value); err != nil {
					return err
				}
			}
			if right {
				return out.Send(1, key, value)
			}
			return nil
		},
	)
}

// Accumulator is the per-key running state a FoldLeft TT carries across
// deliveries. Fold constructors key their accumulator
// slot by the same K the data slot uses, so the self-loop pattern
// matches the Fibonacci-style "accumulator feeds back into its own
// input" construction used elsewhere in this tree.
type Accumulator = any

// FoldLeft constructs a two-input TT — a data slot and a looped-back
// accumulator slot — that combines each delivered value into the running
// accumulator with fold(accumulator, value) and emits the updated
// accumulator on "out", which the caller is expected to wire back into
// slot 1 (the accumulator input) to close the loop, grounded on
// whitaker-io/machine's loader/fold.go "FoldLeft" stage generalized from
// its machine.Fold(aggregate, next Data) Data signature.
func FoldLeft[K comparable](rt *ttg.Runtime, id string, valueType reflect.Type, keymap ttg.RankMap[K], fold func(acc, value Accumulator) Accumulator) *ttg.TT[K] {
	tt := ttg.MakeTT(rt, id,
		[]ttg.InputSpec{
			{Name: "in", Capability: ttg.CapRead, ValueType: valueType},
			{Name: "acc", Capability: ttg.CapRead, ValueType: valueType},
		},
		[]ttg.OutputSpec{{Name: "out", ValueType: valueType}},
		keymap,
		func(ctx context.Context, key K, in []ttg.Slot, out *ttg.Outputs[K]) error {
			acc := fold(in[1].Copy.Payload(), in[0].Copy.Payload())
			return out.Send(0, key, acc)
		},
	)
	return tt
}

// windowState buffers deliveries until size is reached, then emits the
// whole batch and resets.
type windowState struct {
	size  int
	items []any
}

// Window constructs a single-input, single-output TT that buffers size
// deliveries per key before emitting them as a single []any batch,
// grounded on whitaker-io/machine's loader/window.go "Window" stage. The
// buffer lives in the TT's closure rather than the DataCopy payload,
// since a window's state spans many deliveries to the same key, which the
// per-activation DataCopy model does not hold open across separate fire
// events.
func Window[K comparable](rt *ttg.Runtime, id string, valueType reflect.Type, keymap ttg.RankMap[K], size int) *ttg.TT[K] {
	states := make(map[any]*windowState)

	return ttg.MakeTT(rt, id,
		[]ttg.InputSpec{{Name: "in", Capability: ttg.CapRead, ValueType: valueType}},
		[]ttg.OutputSpec{{Name: "out", ValueType: reflect.TypeOf([]any{})}},
		keymap,
		func(ctx context.Context, key K, in []ttg.Slot, out *ttg.Outputs[K]) error {
			st, ok := states[key]
			if !ok {
				st = &windowState{size: size}
				states[key] = st
			}
			st.items = append(st.items, in[0].Copy.Payload())
			if len(st.items) < st.size {
				return nil
			}
			batch := st.items
			delete(states, key)
			return out.Send(0, key, batch)
		},
	)
}
