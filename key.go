package ttg

// RankMap maps a key to the rank that owns the activation for that key.
// The core never interprets a key's structure beyond equality and
// hashability, both of which Go's comparable constraint already gives us.
type RankMap[K comparable] func(key K) int

// PriorityMap assigns a dequeue priority to a key. Activation records with
// a higher priority are dequeued before lower-priority ones; ties are FIFO
// within a single rank's ready queue. A nil PriorityMap is equivalent to a
// constant map returning 0 for every key.
type PriorityMap[K comparable] func(key K) int32

// InlineMap decides, per key, whether a ready activation fires on the
// goroutine that satisfied its last input slot instead of being handed to
// the scheduler's worker pool. A nil InlineMap is equivalent to a constant
// map returning false for every key (always scheduled).
type InlineMap[K comparable] func(key K) bool
