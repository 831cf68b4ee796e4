package ttg

import "errors"

// Error taxonomy for the task-graph engine. Runtime errors (Wire,
// UnknownPeer, DuplicateInput) are fatal: the caller is expected to stop
// the graph rather than attempt partial recovery, since the data-flow
// graph carries no redundancy model.
var (
	// ErrTypeMismatch is returned when an Out terminal's value type is not
	// admitted by an In terminal's capability.
	ErrTypeMismatch = errors.New("ttg: type mismatch connecting terminal")

	// ErrIllegalDirection is returned when connecting an Out to an Out, or
	// an In to an In.
	ErrIllegalDirection = errors.New("ttg: illegal direction connecting terminal")

	// ErrUninitialized is returned when a value is sent to an In terminal
	// before its callbacks have been registered.
	ErrUninitialized = errors.New("ttg: delivery to terminal without callback")

	// ErrDuplicateInput is returned when a second value arrives for a slot
	// that is already filled for the same (TT, key) activation.
	ErrDuplicateInput = errors.New("ttg: duplicate input for activation slot")

	// ErrAliasingViolation is returned when code attempts to share a
	// mutable DataCopy, or to mark mutable a DataCopy with more than one
	// outstanding reader.
	ErrAliasingViolation = errors.New("ttg: aliasing violation on data copy")

	// ErrUnknownPeer is returned when a key's keymap resolves to a rank
	// outside of the established peer group.
	ErrUnknownPeer = errors.New("ttg: key routed to unknown rank")

	// ErrWireCorruption is returned when a message fails to deserialize or
	// violates the wire framing.
	ErrWireCorruption = errors.New("ttg: wire corruption")

	// ErrNotExecutable is returned when firing is attempted before
	// MakeGraphExecutable has been run from a reachable seed.
	ErrNotExecutable = errors.New("ttg: fire attempted before graph executable")
)
