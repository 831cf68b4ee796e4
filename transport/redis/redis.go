// Package redis provides a ttg.Transport backed by Redis list mailboxes,
// split into its own module the way whitaker-io/machine isolates each
// broker integration (subscriptions/redis) behind its own go.mod.
package redis

import (
	"encoding/binary"
	"fmt"
	"sync"

	ps "github.com/gomodule/redigo/redis"

	"github.com/ttg-go/ttg"
)

// Redis is a Transport backed by per-rank Redis lists used as mailboxes
// (`RPUSH`/`BLPOP`), grounded on subscriptions/redis/redis.go's
// PubSubConn-based machine.Subscription, adapted here from pub/sub
// fan-out to a point-to-point rank mailbox so a deployment that already
// runs Redis for other services can reuse it instead of opening direct
// rank-to-rank sockets.
type Redis struct {
	rank int
	size int
	pool *ps.Pool
	keyPrefix string

	mu       sync.Mutex
	handlers map[string]ttg.RecvHandler
	idByName map[string]uint32
	nameByID map[uint32]string
	nextID   uint32

	done chan struct{}
	fenceBarrier *barrier
}

// NewRedis constructs a Redis transport for one rank of a size-rank peer
// group, using keyPrefix+"."+rank as each rank's mailbox list key.
func NewRedis(pool *ps.Pool, keyPrefix string, rank, size int) *Redis {
	r := &Redis{
		rank:         rank,
		size:         size,
		pool:         pool,
		keyPrefix:    keyPrefix,
		handlers:     make(map[string]ttg.RecvHandler),
		idByName:     make(map[string]uint32),
		nameByID:     make(map[uint32]string),
		done:         make(chan struct{}),
		fenceBarrier: newBarrier(size),
	}
	go r.readLoop()
	return r
}

func (r *Redis) mailbox(rank int) string {
	return fmt.Sprintf("%s.%d", r.keyPrefix, rank)
}

func (r *Redis) readLoop() {
	conn := r.pool.Get()
	defer conn.Close()
	mailbox := r.mailbox(r.rank)
	for {
		select {
		case <-r.done:
			return
		default:
		}
		reply, err := ps.ByteSlices(conn.Do("BLPOP", mailbox, 1))
		if err != nil || reply == nil {
			continue
		}
		if len(reply) < 2 {
			continue
		}
		globalID, slot, keyBytes, header, payload, err := decodeKafkaFrame(reply[1])
		if err != nil {
			continue
		}
		r.mu.Lock()
		ttID, ok := r.nameByID[globalID]
		handler := r.handlers[ttID]
		r.mu.Unlock()
		if !ok || handler == nil {
			continue
		}
		_ = handler(slot, keyBytes, header, payload)
	}
}

// Rank implements ttg.Transport.
func (r *Redis) Rank() int { return r.rank }

// Size implements ttg.Transport.
func (r *Redis) Size() int { return r.size }

// RegisterRecv implements ttg.Transport.
func (r *Redis) RegisterRecv(ttID string, handler ttg.RecvHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.idByName[ttID]; !ok {
		id := r.nextID
		r.nextID++
		r.idByName[ttID] = id
		r.nameByID[id] = ttID
	}
	r.handlers[ttID] = handler
}

// SendRemote implements ttg.Transport, pushing onto rank's mailbox list.
// The frame reuses Kafka's flat binary encoding — both transports carry
// the identical fields, just over different carriers.
func (r *Redis) SendRemote(ttID string, slot, rank int, keyBytes, header, payload []byte) error {
	r.mu.Lock()
	globalID, ok := r.idByName[ttID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: tt %q not registered with transport", ttg.ErrUnknownPeer, ttID)
	}
	conn := r.pool.Get()
	defer conn.Close()
	_, err := conn.Do("RPUSH", r.mailbox(rank), encodeKafkaFrame(globalID, slot, keyBytes, header, payload))
	return err
}

// BroadcastRemote implements ttg.Transport.
func (r *Redis) BroadcastRemote(ttID string, slot int, groups map[int][]byte, header, payload []byte) error {
	for rank, keys := range groups {
		for _, keyBytes := range decodeKeyList(keys) {
			if err := r.SendRemote(ttID, slot, rank, keyBytes, header, payload); err != nil {
				return err
			}
		}
	}
	return nil
}

// Fence implements ttg.Transport.
func (r *Redis) Fence() error {
	r.fenceBarrier.Wait()
	return nil
}

// Close implements ttg.Transport.
func (r *Redis) Close() error {
	close(r.done)
	return r.pool.Close()
}

func encodeKafkaFrame(globalID uint32, slot int, keyBytes, header, payload []byte) []byte {
	buf := make([]byte, 0, 10+len(keyBytes)+4+len(header)+8+len(payload))
	var tmp [10]byte
	binary.BigEndian.PutUint32(tmp[0:4], globalID)
	binary.BigEndian.PutUint16(tmp[4:6], uint16(slot))
	binary.BigEndian.PutUint32(tmp[6:10], uint32(len(keyBytes)))
	buf = append(buf, tmp[:]...)
	buf = append(buf, keyBytes...)

	var hlen [4]byte
	binary.BigEndian.PutUint32(hlen[:], uint32(len(header)))
	buf = append(buf, hlen[:]...)
	buf = append(buf, header...)

	var plen [8]byte
	binary.BigEndian.PutUint64(plen[:], uint64(len(payload)))
	buf = append(buf, plen[:]...)
	buf = append(buf, payload...)
	return buf
}

func decodeKafkaFrame(b []byte) (globalID uint32, slot int, keyBytes, header, payload []byte, err error) {
	if len(b) < 10 {
		return 0, 0, nil, nil, nil, fmt.Errorf("%w: short frame", ttg.ErrWireCorruption)
	}
	globalID = binary.BigEndian.Uint32(b[0:4])
	slot = int(binary.BigEndian.Uint16(b[4:6]))
	keyLen := binary.BigEndian.Uint32(b[6:10])
	b = b[10:]
	if uint32(len(b)) < keyLen+4 {
		return 0, 0, nil, nil, nil, fmt.Errorf("%w: truncated key", ttg.ErrWireCorruption)
	}
	keyBytes = b[:keyLen]
	b = b[keyLen:]

	hlen := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	if uint32(len(b)) < hlen+8 {
		return 0, 0, nil, nil, nil, fmt.Errorf("%w: truncated header", ttg.ErrWireCorruption)
	}
	header = b[:hlen]
	b = b[hlen:]

	plen := binary.BigEndian.Uint64(b[:8])
	b = b[8:]
	if uint64(len(b)) < plen {
		return 0, 0, nil, nil, nil, fmt.Errorf("%w: truncated payload", ttg.ErrWireCorruption)
	}
	payload = b[:plen]
	return globalID, slot, keyBytes, header, payload, nil
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

// barrier is a reusable all-arrive rendezvous for Fence, duplicated from
// transport.barrier since this package is intentionally dependency-free
// of the core transport package beyond ttg itself.
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
