package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"

	"github.com/ttg-go/ttg"
)

// TCP is a point-to-point Transport over net.Conn using the wire format:
//
//	u32  tt_global_id
//	u16  slot_index
//	u32  key_len          key_bytes...
//	u32  header_len       header_bytes...
//	u64  payload_len      payload_bytes...
//
// grounded on the header/opcode framing style of the aistore transport
// package (other_examples/.../aistore__transport-api.go), adapted from
// object streaming to single-delivery point-to-point messages.
//
// tt_global_id is assigned by registration order: every rank in an SPMD
// task-graph program constructs the identical sequence of MakeTT calls
// (the original's MPI-collective construction model assumes this too), so
// the Nth TT registered on every rank shares the same global id without a
// separate handshake. fenceControlID is a reserved tt_global_id value no
// real TT is ever assigned, used to carry Fence's control frames over the
// same connections and framing.
type TCP struct {
	rank  int
	conns []net.Conn // conns[r] is this rank's connection to rank r; nil at index==rank
	wmu   []sync.Mutex
	rd    []*bufio.Reader

	mu       sync.Mutex
	nextID   uint32
	idByName map[string]uint32
	nameByID map[uint32]string
	handlers map[string]ttg.RecvHandler

	fenceMu      sync.Mutex
	fenceCond    *sync.Cond
	fenceArrived map[int]bool // rank fenceCoordinatorRank only: ranks seen in the current round
	fenceRelease chan struct{}

	closeOnce sync.Once
}

// Bootstrap establishes the homogeneous peer group a multi-rank program
// assumes: every rank listens on its own address, dials every
// higher-ranked peer, and accepts a connection from every lower-ranked
// one, giving a full mesh of net.Conn pairs. addrs is the full peer list
// in any order: it is sorted, and each address's rank is its index in the
// sorted list. self is this process's address, which must appear in addrs.
func Bootstrap(self string, addrs []string) (*TCP, error) {
	ordered := append([]string(nil), addrs...)
	sort.Strings(ordered)

	rank := -1
	for i, a := range ordered {
		if a == self {
			rank = i
			break
		}
	}
	if rank < 0 {
		return nil, fmt.Errorf("ttg/transport: self address %q not present in peer list", self)
	}

	size := len(ordered)
	t := &TCP{
		rank:         rank,
		conns:        make([]net.Conn, size),
		wmu:          make([]sync.Mutex, size),
		rd:           make([]*bufio.Reader, size),
		idByName:     make(map[string]uint32),
		nameByID:     make(map[uint32]string),
		handlers:     make(map[string]ttg.RecvHandler),
		fenceArrived: make(map[int]bool),
		fenceRelease: make(chan struct{}, 1),
	}
	t.fenceCond = sync.NewCond(&t.fenceMu)

	ln, err := net.Listen("tcp", self)
	if err != nil {
		return nil, fmt.Errorf("ttg/transport: listen %q: %w", self, err)
	}
	defer ln.Close()

	var wg sync.WaitGroup
	errs := make(chan error, size)

	// Accept from every lower-ranked peer.
	wg.Add(rank)
	go func() {
		for i := 0; i < rank; i++ {
			conn, err := ln.Accept()
			if err != nil {
				errs <- err
				wg.Done()
				continue
			}
			peerRank, err := readHello(conn)
			if err != nil {
				errs <- err
				wg.Done()
				continue
			}
			t.conns[peerRank] = conn
			t.rd[peerRank] = bufio.NewReader(conn)
			wg.Done()
		}
	}()

	// Dial every higher-ranked peer.
	for r := rank + 1; r < size; r++ {
		conn, err := net.Dial("tcp", ordered[r])
		if err != nil {
			return nil, fmt.Errorf("ttg/transport: dial %q: %w", ordered[r], err)
		}
		if err := writeHello(conn, rank); err != nil {
			return nil, err
		}
		t.conns[r] = conn
		t.rd[r] = bufio.NewReader(conn)
	}

	wg.Wait()
	select {
	case err := <-errs:
		return nil, err
	default:
	}

	for _, r := range t.conns {
		if r != nil {
			go t.readLoop(r)
		}
	}
	return t, nil
}

func writeHello(conn net.Conn, rank int) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(rank))
	_, err := conn.Write(buf[:])
	return err
}

func readHello(conn net.Conn) (int, error) {
	var buf [4]byte
	if _, err := io.ReadFull(conn, buf[:]); err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint32(buf[:])), nil
}

// Rank implements ttg.Transport.
func (t *TCP) Rank() int { return t.rank }

// Size implements ttg.Transport.
func (t *TCP) Size() int { return len(t.conns) }

// RegisterRecv implements ttg.Transport, assigning ttID the next
// registration-order global id.
func (t *TCP) RegisterRecv(ttID string, handler ttg.RecvHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.idByName[ttID]; !ok {
		id := t.nextID
		t.nextID++
		t.idByName[ttID] = id
		t.nameByID[id] = ttID
	}
	t.handlers[ttID] = handler
}

// SendRemote implements ttg.Transport.
func (t *TCP) SendRemote(ttID string, slot, rank int, keyBytes, header, payload []byte) error {
	if rank < 0 || rank >= len(t.conns) || t.conns[rank] == nil {
		return fmt.Errorf("%w: rank %d", ttg.ErrUnknownPeer, rank)
	}
	t.mu.Lock()
	globalID, ok := t.idByName[ttID]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: tt %q not registered with transport", ttg.ErrUnknownPeer, ttID)
	}
	return t.writeFrame(rank, globalID, slot, keyBytes, header, payload)
}

// BroadcastRemote implements ttg.Transport: groups is rank -> a
// count-prefixed key-list blob for that rank's sublist; one wire frame is
// written per key. The current core never calls this directly (see the
// doc comment on the message type in inprocess.go); it is provided for
// callers that batch remote broadcast keys themselves.
func (t *TCP) BroadcastRemote(ttID string, slot int, groups map[int][]byte, header, payload []byte) error {
	for rank, keys := range groups {
		for _, keyBytes := range decodeKeyList(keys) {
			if err := t.SendRemote(ttID, slot, rank, keyBytes, header, payload); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *TCP) writeFrame(rank int, globalID uint32, slot int, keyBytes, header, payload []byte) error {
	t.wmu[rank].Lock()
	defer t.wmu[rank].Unlock()

	w := t.conns[rank]
	var hdr [2 + 4 + 2 + 4]byte
	// u32 tt_global_id, u16 slot_index, u32 key_len
	binary.BigEndian.PutUint32(hdr[0:4], globalID)
	binary.BigEndian.PutUint16(hdr[4:6], uint16(slot))
	binary.BigEndian.PutUint32(hdr[6:10], uint32(len(keyBytes)))
	if _, err := w.Write(hdr[0:10]); err != nil {
		return err
	}
	if _, err := w.Write(keyBytes); err != nil {
		return err
	}

	var lens [4 + 8]byte
	binary.BigEndian.PutUint32(lens[0:4], uint32(len(header)))
	if _, err := w.Write(lens[0:4]); err != nil {
		return err
	}
	if _, err := w.Write(header); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(lens[4:12], uint64(len(payload)))
	if _, err := w.Write(lens[4:12]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func (t *TCP) readLoop(conn net.Conn) {
	rank := t.connRank(conn)
	if rank < 0 {
		return
	}
	r := t.rd[rank]
	for {
		var hdr [10]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return
		}
		globalID := binary.BigEndian.Uint32(hdr[0:4])
		slot := int(binary.BigEndian.Uint16(hdr[4:6]))
		keyLen := binary.BigEndian.Uint32(hdr[6:10])

		keyBytes := make([]byte, keyLen)
		if _, err := io.ReadFull(r, keyBytes); err != nil {
			return
		}

		var hlenBuf [4]byte
		if _, err := io.ReadFull(r, hlenBuf[:]); err != nil {
			return
		}
		headerBytes := make([]byte, binary.BigEndian.Uint32(hlenBuf[:]))
		if _, err := io.ReadFull(r, headerBytes); err != nil {
			return
		}

		var plenBuf [8]byte
		if _, err := io.ReadFull(r, plenBuf[:]); err != nil {
			return
		}
		payload := make([]byte, binary.BigEndian.Uint64(plenBuf[:]))
		if _, err := io.ReadFull(r, payload); err != nil {
			return
		}

		if globalID == fenceControlID {
			t.handleFenceFrame(rank, slot)
			continue
		}

		t.mu.Lock()
		ttID, ok := t.nameByID[globalID]
		handler := t.handlers[ttID]
		t.mu.Unlock()
		if !ok || handler == nil {
			continue
		}
		_ = handler(slot, keyBytes, headerBytes, payload)
	}
}

// handleFenceFrame processes a Fence control frame received from fromRank,
// dispatching on the message kind carried in the frame's slot field.
func (t *TCP) handleFenceFrame(fromRank, msg int) {
	switch msg {
	case fenceMsgArrive:
		t.fenceMu.Lock()
		t.fenceArrived[fromRank] = true
		t.fenceCond.Broadcast()
		t.fenceMu.Unlock()
	case fenceMsgRelease:
		t.fenceRelease <- struct{}{}
	}
}

func (t *TCP) connRank(conn net.Conn) int {
	for i, c := range t.conns {
		if c == conn {
			return i
		}
	}
	return -1
}

// fenceCoordinatorRank is the rank that collects arrivals and broadcasts
// releases for TCP.Fence's wire round.
const fenceCoordinatorRank = 0

// fenceControlID is a tt_global_id value reserved for Fence control frames;
// RegisterRecv's registration-order assignment starts at 0 and only ever
// increments, so this all-ones value never collides with a real TT.
const fenceControlID = ^uint32(0)

const (
	fenceMsgArrive  = 0
	fenceMsgRelease = 1
)

// Fence implements ttg.Transport as a wire round instead of a process-local
// barrier: each rank's TCP instance lives in its own process, so a
// sync.Cond rendezvous (as used for the in-process test mesh) can never be
// reached by a peer. Rank fenceCoordinatorRank collects an "arrive" control
// frame from every other rank before broadcasting "release" frames back;
// every non-coordinator rank sends its arrival and then blocks for the
// release. The caller (Runtime.Fence) has already confirmed local
// quiescence before calling this.
func (t *TCP) Fence() error {
	if t.rank == fenceCoordinatorRank {
		return t.fenceCoordinate()
	}
	if err := t.writeFrame(fenceCoordinatorRank, fenceControlID, fenceMsgArrive, nil, nil, nil); err != nil {
		return fmt.Errorf("ttg/transport: fence arrive: %w", err)
	}
	<-t.fenceRelease
	return nil
}

func (t *TCP) fenceCoordinate() error {
	t.fenceMu.Lock()
	t.fenceArrived[t.rank] = true
	for len(t.fenceArrived) < len(t.conns) {
		t.fenceCond.Wait()
	}
	t.fenceArrived = make(map[int]bool)
	t.fenceMu.Unlock()

	for r := 0; r < len(t.conns); r++ {
		if r == fenceCoordinatorRank {
			continue
		}
		if err := t.writeFrame(r, fenceControlID, fenceMsgRelease, nil, nil, nil); err != nil {
			return fmt.Errorf("ttg/transport: fence release to rank %d: %w", r, err)
		}
	}
	return nil
}

// Close implements ttg.Transport.
func (t *TCP) Close() error {
	var err error
	t.closeOnce.Do(func() {
		for _, c := range t.conns {
			if c != nil {
				if e := c.Close(); e != nil {
					err = e
				}
			}
		}
	})
	return err
}
