package ttg

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// ValueDescriptor is the polymorphic serialization seam for cross-rank
// transport: one descriptor is registered per value type, opaque to the
// core. GetInfo reports only whether a value's payload is contiguous; it
// carries no header or payload sizes, since Pack returns sized byte
// slices directly. Pack/Unpack (header, payload) mirror
// the four-function pack/unpack pairing of the original specification,
// collapsed here into two calls each since Go's encoding packages do not
// need a separate header-sizing pass the way the C++ original's in-place
// buffer packing did.
type ValueDescriptor interface {
	// Name identifies the descriptor, used for diagnostics and registry
	// lookups.
	Name() string
	// GetInfo reports whether payload encodes the value contiguously
	// (without nested allocations) — purely advisory, used by transports
	// that can skip a copy for contiguous payloads.
	GetInfo(value any) (contiguous bool)
	// PackHeader encodes any fixed-size metadata the unpacker needs before
	// it can size the payload buffer (e.g. element count, dtype tag).
	PackHeader(value any) (header []byte, err error)
	// PackPayload encodes the value's bulk data.
	PackPayload(value any) (payload []byte, err error)
	// UnpackHeader decodes the metadata produced by PackHeader.
	UnpackHeader(header []byte) (info any, err error)
	// UnpackPayload decodes payload (using info from UnpackHeader) back
	// into a value.
	UnpackPayload(info any, payload []byte) (value any, err error)
	// Print renders value for trace/debug logging.
	Print(value any) string
}

// GobDescriptor is the reference ValueDescriptor for arbitrary Go values,
// backed by encoding/gob the way whitaker-io/machine's deepCopy and
// ForkDuplicate helpers use gob for generic value handling. It carries no
// header (all information lives in the gob-encoded payload) and is
// registered by default for any value type that does not have a tighter
// descriptor registered.
type GobDescriptor struct{}

// Name implements ValueDescriptor.
func (GobDescriptor) Name() string { return "gob" }

// GetInfo implements ValueDescriptor; gob payloads are never contiguous.
func (GobDescriptor) GetInfo(any) bool { return false }

// PackHeader implements ValueDescriptor; gob needs no separate header.
func (GobDescriptor) PackHeader(any) ([]byte, error) { return nil, nil }

// PackPayload implements ValueDescriptor.
func (GobDescriptor) PackPayload(value any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnpackHeader implements ValueDescriptor; always returns nil info.
func (GobDescriptor) UnpackHeader([]byte) (any, error) { return nil, nil }

// UnpackPayload implements ValueDescriptor.
func (GobDescriptor) UnpackPayload(_ any, payload []byte) (any, error) {
	var value any
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&value); err != nil {
		return nil, err
	}
	return value, nil
}

// Print implements ValueDescriptor.
func (GobDescriptor) Print(value any) string { return fmt.Sprintf("%v", value) }

// RecvHandler is registered per-TT with a Transport and re-enters the
// activation path once a remote message has been deserialized into a
// DataCopy.
type RecvHandler func(slot int, keyBytes []byte, header []byte, payload []byte) error

// Transport serialises cross-rank messages (activation + values) and
// dispatches them.
type Transport interface {
	// Rank returns this process's rank within the peer group.
	Rank() int
	// Size returns the number of ranks in the peer group.
	Size() int
	// RegisterRecv installs the handler invoked when a message addressed
	// to ttID arrives on this rank.
	RegisterRecv(ttID string, handler RecvHandler)
	// SendRemote serialises and dispatches one (key, value) delivery to
	// the key's owning rank.
	SendRemote(ttID string, slot int, rank int, keyBytes, header, payload []byte) error
	// BroadcastRemote groups a keylist by owner rank and sends one message
	// per owner carrying that rank's sublist.
	BroadcastRemote(ttID string, slot int, groups map[int][]byte, header, payload []byte) error
	// Fence blocks until every rank of the peer group has called Fence.
	// It is a rendezvous only: it does not track, acknowledge, or wait for
	// messages still in flight between ranks.
	Fence() error
	// Close tears the transport down, reversing whatever Bootstrap set up.
	Close() error
}
