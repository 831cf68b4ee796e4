package ttg

import (
	"context"
	"fmt"
	"hash/maphash"
	"sync"
	"sync/atomic"
)

// Slot holds one filled input for an activation: a DataCopy (for Read or
// Consume inputs) or nothing at all (for Control inputs, which only need
// to be marked present). Move reports whether this particular delivery
// arrived via send_by_move rather than send_by_ref — only a Move slot may
// attempt DataCopy.MarkMutable, since it is the one guaranteed (by the
// multicast policy in OutTerminal.deliver) to eventually be the sole
// reference once any sibling shared deliveries have released theirs.
type Slot struct {
	Move bool
	Copy *DataCopy
}

// ActivationRecord is the per-(TT, key) record tracking which input slots
// are satisfied. It is created lazily on first input delivery for a key
// and destroyed once the TT body has consumed it.
type ActivationRecord[K comparable] struct {
	ttID  string
	key   K
	slots []Slot
	filled uint64 // bitset, one bit per slot; supports up to 64 inputs
	required uint64

	priority int32
	seq      uint64

	fire func(ctx context.Context, key K, slots []Slot) error
}

func newActivationRecord[K comparable](ttID string, key K, nSlots int, required uint64) *ActivationRecord[K] {
	return &ActivationRecord[K]{
		ttID:     ttID,
		key:      key,
		slots:    make([]Slot, nSlots),
		required: required,
	}
}

func (ar *ActivationRecord[K]) ready() bool { return ar.filled == ar.required }

// assign installs a value into slot i. Returns ErrDuplicateInput if the
// slot is already filled. Callers must hold the owning shard's lock (see
// ActivationTable.AssignAndCheck); assign itself does no synchronization.
func (ar *ActivationRecord[K]) assign(i int, move bool, dc *DataCopy) error {
	bit := uint64(1) << uint(i)
	if ar.filled&bit != 0 {
		return fmt.Errorf("%w: tt %q key %v slot %d", ErrDuplicateInput, ar.ttID, ar.key, i)
	}
	ar.slots[i] = Slot{Move: move, Copy: dc}
	ar.filled |= bit
	return nil
}

// Priority implements the scheduler's Fireable ordering.
func (ar *ActivationRecord[K]) Priority() int32 { return ar.priority }

// Seq implements the scheduler's FIFO tie-break ordering.
func (ar *ActivationRecord[K]) Seq() uint64 { return ar.seq }

// ID identifies the originating TT, for diagnostics.
func (ar *ActivationRecord[K]) ID() string { return ar.ttID }

// KeyString renders the activation's key for telemetry attributes, since
// the scheduler's Fireable view has no K type parameter to format against.
func (ar *ActivationRecord[K]) KeyString() string { return fmt.Sprint(ar.key) }

// Fire assembles the slot arguments and invokes the TT body, then releases
// every DataCopy reference the activation held — both the shared
// references it never mutated and, once the body is done with it, the
// moved reference it may have mutated in place.
func (ar *ActivationRecord[K]) Fire(ctx context.Context) error {
	defer func() {
		for _, s := range ar.slots {
			if s.Copy != nil {
				s.Copy.DropRef()
			}
		}
	}()
	return ar.fire(ctx, ar.key, ar.slots)
}

// activationShards is the number of buckets an ActivationTable hashes
// into. Each bucket has its own mutex, giving a lock-keyed-by-hash-bucket
// concurrency model without a single global lock.
const activationShards = 64

type activationShard[K comparable] struct {
	mu      sync.Mutex
	records map[K]*ActivationRecord[K]
}

// ActivationTable is the per-TT table of in-flight ActivationRecords,
// guaranteeing at most one record per key.
type ActivationTable[K comparable] struct {
	seed    maphash.Seed
	shards  [activationShards]*activationShard[K]
	nextSeq atomic.Uint64
}

// NextSeq returns a monotonically increasing sequence number, used to
// break priority ties FIFO-style in the ready queue.
func (t *ActivationTable[K]) NextSeq() uint64 { return t.nextSeq.Add(1) }

// NewActivationTable constructs an empty table.
func NewActivationTable[K comparable]() *ActivationTable[K] {
	t := &ActivationTable[K]{seed: maphash.MakeSeed()}
	for i := range t.shards {
		t.shards[i] = &activationShard[K]{records: make(map[K]*ActivationRecord[K])}
	}
	return t
}

func (t *ActivationTable[K]) shardFor(key K) *activationShard[K] {
	var h maphash.Hash
	h.SetSeed(t.seed)
	fmt.Fprintf(&h, "%v", key)
	return t.shards[h.Sum64()%activationShards]
}

// LookupOrInsert atomically finds the existing record for key, or inserts
// a fresh one built by newFn. Exactly one caller observes inserted==true
// for a given key. Prefer AssignAndCheck when the caller also needs to
// assign a slot and check readiness in the same critical section.
func (t *ActivationTable[K]) LookupOrInsert(key K, newFn func() *ActivationRecord[K]) (ar *ActivationRecord[K], inserted bool) {
	shard := t.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if existing, ok := shard.records[key]; ok {
		return existing, false
	}
	ar = newFn()
	shard.records[key] = ar
	return ar, true
}

// Remove deletes the record for key, used once an activation has become
// ready and is handed to the scheduler.
func (t *ActivationTable[K]) Remove(key K) {
	shard := t.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	delete(shard.records, key)
}

// AssignAndCheck finds-or-inserts the record for key, assigns slot i, and
// (if every required slot is now filled) removes the record from the
// table, all under the single shard-mutex critical section. Two producer
// TTs delivering different required slots for the same key therefore
// cannot race on filled/slots: within one (TT, key), slot writes are
// serialized by the activation-table lock.
func (t *ActivationTable[K]) AssignAndCheck(key K, newFn func() *ActivationRecord[K], slot int, move bool, dc *DataCopy) (ar *ActivationRecord[K], ready bool, err error) {
	shard := t.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	ar, ok := shard.records[key]
	if !ok {
		ar = newFn()
		shard.records[key] = ar
	}
	if err := ar.assign(slot, move, dc); err != nil {
		return ar, false, err
	}
	if ar.ready() {
		delete(shard.records, key)
		return ar, true, nil
	}
	return ar, false, nil
}

// Len reports how many activation records are currently in flight across
// all shards (exposed per TT as TT.InFlight; Runtime.Fence does not
// consult it).
func (t *ActivationTable[K]) Len() int {
	n := 0
	for _, shard := range t.shards {
		shard.mu.Lock()
		n += len(shard.records)
		shard.mu.Unlock()
	}
	return n
}
