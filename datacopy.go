package ttg

import (
	"fmt"
	"math"
	"sync/atomic"
)

// mutableSentinel is the value assigned to DataCopy.readers to mark a copy
// as exclusive-mutable, mirroring ttg_data_copy_t::mutable_tag in
// ttg/ttg/parsec/ttg_data_copy.h of the original implementation.
const mutableSentinel = int32(math.MinInt32)

// DataCopy is a ref-counted envelope around a value flowing through the
// graph. It has two modes: shared-immutable (readers >= 1, any reader may
// access concurrently) and exclusive-mutable (readers == mutableSentinel,
// exactly one holder may mutate). OutTerminal.Send/Broadcast decide at
// input-delivery time which receiver gets the move delivery (Slot.Move);
// the switch to exclusive-mutable mode happens when that receiver's body
// calls MarkMutable. DataCopy itself only enforces the bookkeeping
// invariants.
type DataCopy struct {
	payload any
	readers atomic.Int32
}

// NewDataCopy wraps payload in a fresh, shared-immutable DataCopy with a
// single reader.
func NewDataCopy(payload any) *DataCopy {
	dc := &DataCopy{payload: payload}
	dc.readers.Store(1)
	return dc
}

// Payload returns the wrapped value. Callers must respect the capability
// under which they received the DataCopy (Read: treat as read-only,
// Consume: may mutate only after a successful MarkMutable).
func (d *DataCopy) Payload() any { return d.payload }

// SetPayload replaces the wrapped value. Only safe to call while holding
// exclusive-mutable access.
func (d *DataCopy) SetPayload(v any) { d.payload = v }

// IsMutable reports whether the copy is currently in exclusive-mutable mode.
func (d *DataCopy) IsMutable() bool { return d.readers.Load() == mutableSentinel }

// NumReaders returns the current readers value: a positive count in
// shared-immutable mode, or mutableSentinel in exclusive-mutable mode.
func (d *DataCopy) NumReaders() int32 { return d.readers.Load() }

// AddRef atomically increments the reader count. It fails with
// ErrAliasingViolation if the copy is currently mutable: a mutable DataCopy
// must never gain a second reader.
func (d *DataCopy) AddRef() error {
	for {
		cur := d.readers.Load()
		if cur == mutableSentinel {
			return fmt.Errorf("%w: add_ref on mutable copy", ErrAliasingViolation)
		}
		if d.readers.CompareAndSwap(cur, cur+1) {
			return nil
		}
	}
}

// DropRef atomically decrements the reader count and reports whether this
// was the last reference (in which case the caller should release the
// payload). Dropping a mutable copy's sole reference also returns true.
func (d *DataCopy) DropRef() bool {
	for {
		cur := d.readers.Load()
		if cur == mutableSentinel {
			if d.readers.CompareAndSwap(cur, 0) {
				return true
			}
			continue
		}
		next := cur - 1
		if d.readers.CompareAndSwap(cur, next) {
			return next == 0
		}
	}
}

// MarkMutable transitions the copy to exclusive-mutable mode. It only
// succeeds when the prior reader count is exactly 1; otherwise it fails
// with ErrAliasingViolation, since some other holder is still sharing the
// copy.
func (d *DataCopy) MarkMutable() error {
	if !d.readers.CompareAndSwap(1, mutableSentinel) {
		return fmt.Errorf("%w: mark_mutable requires a sole reader", ErrAliasingViolation)
	}
	return nil
}

// ResetReaders returns the copy to shared-immutable mode with a single
// reader, used on the return-from-mutable path once a mutating consumer
// finishes and further readers are queued.
func (d *DataCopy) ResetReaders() {
	d.readers.Store(1)
}
