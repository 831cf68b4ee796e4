// Package transport provides Transport implementations for ttg: an
// in-process stand-in for single-rank graphs and tests, and
// point-to-point/broker-backed implementations for multi-rank deployments.
package transport

import (
	"fmt"
	"sync"

	"github.com/ttg-go/ttg"
)

// Local is the degenerate single-rank Transport: every key is locally
// owned, so SendRemote/BroadcastRemote should never be reached by a
// correctly configured graph. It exists so a Runtime can always be built
// with a non-nil Transport, the way whitaker-io/machine's builder always
// has a default no-op Logger rather than a nil check at every call site.
type Local struct {
	mu       sync.Mutex
	handlers map[string]ttg.RecvHandler
}

// NewLocal constructs a Local transport.
func NewLocal() *Local {
	return &Local{handlers: make(map[string]ttg.RecvHandler)}
}

// Rank implements ttg.Transport.
func (*Local) Rank() int { return 0 }

// Size implements ttg.Transport.
func (*Local) Size() int { return 1 }

// RegisterRecv implements ttg.Transport.
func (l *Local) RegisterRecv(ttID string, handler ttg.RecvHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[ttID] = handler
}

// SendRemote implements ttg.Transport; always fails since a single rank
// owns every key and the core should never route a local key remotely.
func (*Local) SendRemote(ttID string, slot, rank int, keyBytes, header, payload []byte) error {
	return fmt.Errorf("%w: local transport has no peers (tt %q)", ttg.ErrUnknownPeer, ttID)
}

// BroadcastRemote implements ttg.Transport.
func (l *Local) BroadcastRemote(ttID string, slot int, groups map[int][]byte, header, payload []byte) error {
	return fmt.Errorf("%w: local transport has no peers (tt %q)", ttg.ErrUnknownPeer, ttID)
}

// Fence implements ttg.Transport; trivially satisfied, there is nothing
// in flight across ranks to wait for.
func (*Local) Fence() error { return nil }

// Close implements ttg.Transport.
func (*Local) Close() error { return nil }
