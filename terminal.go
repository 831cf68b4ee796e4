package ttg

import (
	"fmt"
	"reflect"
)

// Capability tags what an In terminal may do with a delivered value,
// replacing the base/derived Terminal class hierarchy of the original
// implementation with a single tagged variant.
type Capability int

const (
	// CapRead grants read-only observation; requires a shared-immutable
	// DataCopy and admits concurrent readers.
	CapRead Capability = iota
	// CapConsume grants the ability to request sole ownership and mutate
	// or move the DataCopy's payload.
	CapConsume
	// CapWrite marks an Out terminal; never used as an In's capability.
	CapWrite
	// CapControl marks a control-only input that carries no value, used to
	// gate firing without a payload.
	CapControl
)

// String renders the capability for logs and Dot output.
func (c Capability) String() string {
	switch c {
	case CapRead:
		return "read"
	case CapConsume:
		return "consume"
	case CapWrite:
		return "write"
	case CapControl:
		return "control"
	default:
		return "unknown"
	}
}

// InTerminal is the receiving endpoint of an Edge, owned exclusively by
// its TT. Delivery is always routed through the two callbacks registered
// at graph build time; attempting delivery before they are set fails with
// ErrUninitialized.
type InTerminal[K comparable] struct {
	name       string
	capability Capability
	valueType  reflect.Type
	owner      Node

	sendRef  func(key K, dc *DataCopy)
	sendMove func(key K, dc *DataCopy)
}

// NewInTerminal constructs an In terminal with the given capability and
// declared value type. valueType may be nil for a CapControl terminal.
func NewInTerminal[K comparable](name string, capability Capability, valueType reflect.Type, owner Node) *InTerminal[K] {
	return &InTerminal[K]{name: name, capability: capability, valueType: valueType, owner: owner}
}

// Name returns the terminal's declared name.
func (in *InTerminal[K]) Name() string { return in.name }

// Capability returns the terminal's capability tag.
func (in *InTerminal[K]) Capability() Capability { return in.capability }

// SetCallback registers the owning TT's dispatch functions. Must be called
// before any delivery reaches this terminal through OutTerminal.Send or
// OutTerminal.Broadcast.
func (in *InTerminal[K]) SetCallback(sendRef, sendMove func(key K, dc *DataCopy)) {
	in.sendRef = sendRef
	in.sendMove = sendMove
}

func (in *InTerminal[K]) initialized() bool { return in.sendRef != nil && in.sendMove != nil }

// deliverRef dispatches send_by_ref: the receiver observes the DataCopy by
// shared reference and must not assume exclusive access.
func (in *InTerminal[K]) deliverRef(key K, dc *DataCopy) error {
	if !in.initialized() {
		return fmt.Errorf("%w: terminal %q", ErrUninitialized, in.name)
	}
	in.sendRef(key, dc)
	return nil
}

// deliverMove dispatches send_by_move: the receiver may adopt the DataCopy
// and, once it is the sole reference, mutate it in place.
func (in *InTerminal[K]) deliverMove(key K, dc *DataCopy) error {
	if !in.initialized() {
		return fmt.Errorf("%w: terminal %q", ErrUninitialized, in.name)
	}
	in.sendMove(key, dc)
	return nil
}

// OutTerminal is the sending endpoint of a TT. It fans a (key, value) pair
// out to every connected In terminal, applying a copy-elision multicast
// policy.
type OutTerminal[K comparable] struct {
	name       string
	valueType  reflect.Type
	owner      Node
	successors []*InTerminal[K]
}

// NewOutTerminal constructs an Out terminal carrying values of valueType.
func NewOutTerminal[K comparable](name string, valueType reflect.Type, owner Node) *OutTerminal[K] {
	return &OutTerminal[K]{name: name, valueType: valueType, owner: owner}
}

// Name returns the terminal's declared name.
func (out *OutTerminal[K]) Name() string { return out.name }

// successorNodes returns the distinct owning TTs of this terminal's connected
// In terminals, used by graph traversal.
func (out *OutTerminal[K]) successorNodes() []Node {
	seen := map[string]bool{}
	var nodes []Node
	for _, in := range out.successors {
		if in.owner == nil {
			continue
		}
		if !seen[in.owner.ID()] {
			seen[in.owner.ID()] = true
			nodes = append(nodes, in.owner)
		}
	}
	return nodes
}

// Connect wires this Out terminal to an In terminal, checking a type
// compatibility rule: a Read In requires a value-type match, a Consume
// In requires a non-const (i.e. addressable/mutable) Go
// value type, which in this Go realization is any non-read-only type —
// since Go has no const qualifier on values, the check is reduced to the
// declared value type matching, leaving mutability a runtime discipline
// enforced by DataCopy instead of the type system.
func (out *OutTerminal[K]) Connect(in *InTerminal[K]) error {
	if in.capability == CapWrite {
		return fmt.Errorf("%w: cannot connect Out to Out", ErrIllegalDirection)
	}
	if in.capability != CapControl && out.valueType != in.valueType {
		return fmt.Errorf("%w: out %q carries %v, in %q wants %v",
			ErrTypeMismatch, out.name, out.valueType, in.name, in.valueType)
	}
	out.successors = append(out.successors, in)
	return nil
}

// Send delivers (key, value) to every connected successor, applying the
// multicast copy-elision policy: the first Consume successor found becomes
// the move target and receives the value last; all others receive a
// shared reference to the same DataCopy.
func (out *OutTerminal[K]) Send(key K, value any) error {
	return out.deliver([]K{key}, value)
}

// Broadcast delivers the same value to every key in keys, across every
// connected successor, eliding the DataCopy allocation to exactly one
// instance per call.
func (out *OutTerminal[K]) Broadcast(keys []K, value any) error {
	return out.deliver(keys, value)
}

func (out *OutTerminal[K]) deliver(keys []K, value any) error {
	if len(out.successors) == 0 || len(keys) == 0 {
		return nil
	}

	moveIdx := -1
	for i, succ := range out.successors {
		if succ.capability == CapConsume {
			moveIdx = i
			break
		}
	}

	if moveIdx == -1 {
		return out.deliverSharedOnly(keys, value)
	}
	return out.deliverWithMove(keys, value, moveIdx)
}

// deliverSharedOnly handles the case where every successor is Read: one
// DataCopy is created with a reader for every (successor, key) pair.
func (out *OutTerminal[K]) deliverSharedOnly(keys []K, value any) error {
	total := len(out.successors) * len(keys)
	dc := NewDataCopy(value)
	for i := 1; i < total; i++ {
		if err := dc.AddRef(); err != nil {
			return err
		}
	}
	for _, succ := range out.successors {
		for _, k := range keys {
			if err := succ.deliverRef(k, dc); err != nil {
				return err
			}
		}
	}
	return nil
}

// deliverWithMove handles the case where one successor (moveIdx) is the
// move target: all (successor, key) pairs except that successor's last key
// receive a shared reference; that last pair receives the move, after every
// shared delivery has been made.
func (out *OutTerminal[K]) deliverWithMove(keys []K, value any, moveIdx int) error {
	sharedCount := 0
	for i, succ := range out.successors {
		n := len(keys)
		if i == moveIdx {
			n--
		}
		_ = succ
		sharedCount += n
	}

	// NewDataCopy starts readers at 1, accounting for the move holder's own
	// slot; every shared delivery beyond that needs one more reference.
	dc := NewDataCopy(value)
	for i := 0; i < sharedCount; i++ {
		if err := dc.AddRef(); err != nil {
			return err
		}
	}

	for i, succ := range out.successors {
		if i == moveIdx {
			continue
		}
		for _, k := range keys {
			if err := succ.deliverRef(k, dc); err != nil {
				return err
			}
		}
	}

	target := out.successors[moveIdx]
	for _, k := range keys[:len(keys)-1] {
		if err := target.deliverRef(k, dc); err != nil {
			return err
		}
	}
	return target.deliverMove(keys[len(keys)-1], dc)
}
