package transport

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ttg-go/ttg"
)

// message is one queued delivery between two ranks of an InProcess mesh.
// The core routes remote deliveries one key at a time (tt.onDeliverChecked
// calls sendRemote per key, even for a Broadcast call whose keys resolve
// to different ranks), so keyBytes here always carries exactly one key;
// BroadcastRemote is provided for Transport-interface completeness and for
// callers that want to batch keys bound for the same rank themselves.
type message struct {
	ttID    string
	slot    int
	keyBytes []byte
	header  []byte
	payload []byte
}

// InProcess is a multi-rank Transport realized with Go channels instead of
// sockets: every rank in the mesh runs in the same process (typically one
// goroutine group per simulated rank), exercising the same key->rank
// routing and wire-framing semantics as transport.TCP without requiring
// real network I/O. This is the harness S4 (cross-rank routing) is tested
// against.
type InProcess struct {
	rank  int
	size  int
	inbox chan message
	peers []*InProcess

	mu       sync.Mutex
	handlers map[string]ttg.RecvHandler

	closeOnce sync.Once
	done      chan struct{}

	fenceBarrier *barrier
}

// NewInProcessMesh builds size InProcess transports, rank 0..size-1,
// wired to each other's inboxes.
func NewInProcessMesh(size int) []*InProcess {
	peers := make([]*InProcess, size)
	b := newBarrier(size)
	for i := range peers {
		peers[i] = &InProcess{
			rank:         i,
			size:         size,
			inbox:        make(chan message, 1024),
			handlers:     make(map[string]ttg.RecvHandler),
			done:         make(chan struct{}),
			fenceBarrier: b,
		}
	}
	for _, p := range peers {
		p.peers = peers
	}
	for _, p := range peers {
		go p.drain()
	}
	return peers
}

func (p *InProcess) drain() {
	for {
		select {
		case msg := <-p.inbox:
			p.deliver(msg)
		case <-p.done:
			return
		}
	}
}

func (p *InProcess) deliver(msg message) {
	p.mu.Lock()
	h, ok := p.handlers[msg.ttID]
	p.mu.Unlock()
	if !ok {
		return
	}
	_ = h(msg.slot, msg.keyBytes, msg.header, msg.payload)
}

// Rank implements ttg.Transport.
func (p *InProcess) Rank() int { return p.rank }

// Size implements ttg.Transport.
func (p *InProcess) Size() int { return p.size }

// RegisterRecv implements ttg.Transport.
func (p *InProcess) RegisterRecv(ttID string, handler ttg.RecvHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[ttID] = handler
}

// SendRemote implements ttg.Transport.
func (p *InProcess) SendRemote(ttID string, slot, rank int, keyBytes, header, payload []byte) error {
	if rank < 0 || rank >= p.size {
		return fmt.Errorf("%w: rank %d", ttg.ErrUnknownPeer, rank)
	}
	p.peers[rank].inbox <- message{ttID: ttID, slot: slot, keyBytes: keyBytes, header: header, payload: payload}
	return nil
}

// BroadcastRemote implements ttg.Transport; groups is rank -> one
// concatenated count-prefixed key-list blob for that rank's sublist. The
// current core never calls this directly (see message's doc comment); it
// is provided for callers that batch remote broadcast keys themselves.
func (p *InProcess) BroadcastRemote(ttID string, slot int, groups map[int][]byte, header, payload []byte) error {
	for rank, keys := range groups {
		if rank < 0 || rank >= p.size {
			return fmt.Errorf("%w: rank %d", ttg.ErrUnknownPeer, rank)
		}
		for _, keyBytes := range decodeKeyList(keys) {
			p.peers[rank].inbox <- message{ttID: ttID, slot: slot, keyBytes: keyBytes, header: header, payload: payload}
		}
	}
	return nil
}

// Fence implements ttg.Transport with a simple barrier: every rank blocks
// until all ranks have called Fence. SendRemote only queues a message on
// the peer's buffered inbox, which another goroutine drains, so a message
// can still be waiting in an inbox when the barrier releases; the barrier
// does not wait for inboxes to empty.
func (p *InProcess) Fence() error {
	p.fenceBarrier.Wait()
	return nil
}

// Close implements ttg.Transport.
func (p *InProcess) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

// EncodeKeyList concatenates a count-prefixed key list, the broadcast wire
// format ("key_len is replaced by a count-prefixed key list").
func EncodeKeyList(keys [][]byte) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(len(keys)))
	for _, k := range keys {
		lenBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(lenBuf, uint32(len(k)))
		buf = append(buf, lenBuf...)
		buf = append(buf, k...)
	}
	return buf
}

func decodeKeyList(b []byte) [][]byte {
	if len(b) < 4 {
		return nil
	}
	n := binary.BigEndian.Uint32(b)
	b = b[4:]
	out := make([][]byte, 0, n)
	for i := uint32(0); i < n; i++ {
		if len(b) < 4 {
			break
		}
		klen := binary.BigEndian.Uint32(b)
		b = b[4:]
		if uint32(len(b)) < klen {
			break
		}
		out = append(out, b[:klen])
		b = b[klen:]
	}
	return out
}

// barrier is a reusable all-arrive rendezvous for Fence.
type barrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	n       int
	arrived int
	round   int
}

func newBarrier(n int) *barrier {
	b := &barrier{n: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *barrier) Wait() {
	b.mu.Lock()
	defer b.mu.Unlock()
	myRound := b.round
	b.arrived++
	if b.arrived == b.n {
		b.arrived = 0
		b.round++
		b.cond.Broadcast()
		return
	}
	for b.round == myRound {
		b.cond.Wait()
	}
}
