// Package kafka provides a ttg.Transport backed by Kafka, split into its
// own module the way whitaker-io/machine isolates each broker integration
// (subscriptions/kafka, components/kafka) behind its own go.mod so that
// consumers of the core ttg module or of transport.TCP never pull in the
// kafka-go client.
package kafka

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	kaf "github.com/segmentio/kafka-go"

	"github.com/ttg-go/ttg"
)

// Kafka is a Transport backed by a shared topic partitioned by rank,
// grounded on subscriptions/kafka/kafka.go's machine.Subscription reader
// and components/kafka/kafka.go's writer, adapted from JSON-framed
// machine.Data packets to the transport package's binary wire frame. Each
// rank produces onto the partition owning its destination rank and
// consumes only the partition carrying its own rank number, so one topic
// serves the whole peer group.
type Kafka struct {
	rank int
	size int

	writer *kaf.Writer
	reader *kaf.Reader

	mu       sync.Mutex
	handlers map[string]ttg.RecvHandler
	idByName map[string]uint32
	nameByID map[uint32]string
	nextID   uint32

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	fenceBarrier *barrier
}

// NewKafka constructs a Kafka transport for one rank of a size-rank peer
// group sharing topic on brokers. The reader is bound to the partition
// numbered rank, with no consumer group: partitions are assigned by rank
// directly instead of by consumer-group rebalancing, since the peer
// group's size is fixed for the life of the run.
func NewKafka(brokers []string, topic string, rank, size int) *Kafka {
	ctx, cancel := context.WithCancel(context.Background())
	k := &Kafka{
		rank: rank,
		size: size,
		writer: &kaf.Writer{
			Addr:     kaf.TCP(brokers...),
			Topic:    topic,
			Balancer: &kaf.Hash{},
		},
		reader: kaf.NewReader(kaf.ReaderConfig{
			Brokers:   brokers,
			Topic:     topic,
			Partition: rank,
		}),
		handlers:     make(map[string]ttg.RecvHandler),
		idByName:     make(map[string]uint32),
		nameByID:     make(map[uint32]string),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		fenceBarrier: newBarrier(size),
	}
	go k.readLoop()
	return k
}

func (k *Kafka) readLoop() {
	defer close(k.done)
	for {
		msg, err := k.reader.ReadMessage(k.ctx)
		if err != nil {
			return
		}
		globalID, slot, keyBytes, header, payload, err := decodeKafkaFrame(msg.Value)
		if err != nil {
			continue
		}
		k.mu.Lock()
		ttID, ok := k.nameByID[globalID]
		handler := k.handlers[ttID]
		k.mu.Unlock()
		if !ok || handler == nil {
			continue
		}
		_ = handler(slot, keyBytes, header, payload)
	}
}

// Rank implements ttg.Transport.
func (k *Kafka) Rank() int { return k.rank }

// Size implements ttg.Transport.
func (k *Kafka) Size() int { return k.size }

// RegisterRecv implements ttg.Transport.
func (k *Kafka) RegisterRecv(ttID string, handler ttg.RecvHandler) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.idByName[ttID]; !ok {
		id := k.nextID
		k.nextID++
		k.idByName[ttID] = id
		k.nameByID[id] = ttID
	}
	k.handlers[ttID] = handler
}

// SendRemote implements ttg.Transport, producing onto the partition
// matching rank.
func (k *Kafka) SendRemote(ttID string, slot, rank int, keyBytes, header, payload []byte) error {
	k.mu.Lock()
	globalID, ok := k.idByName[ttID]
	k.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: tt %q not registered with transport", ttg.ErrUnknownPeer, ttID)
	}
	return k.writer.WriteMessages(k.ctx, kaf.Message{
		Partition: rank,
		Value:     encodeKafkaFrame(globalID, slot, keyBytes, header, payload),
	})
}

// BroadcastRemote implements ttg.Transport.
func (k *Kafka) BroadcastRemote(ttID string, slot int, groups map[int][]byte, header, payload []byte) error {
	for rank, keys := range groups {
		for _, keyBytes := range decodeKeyList(keys) {
			if err := k.SendRemote(ttID, slot, rank, keyBytes, header, payload); err != nil {
				return err
			}
		}
	}
	return nil
}

// Fence implements ttg.Transport.
func (k *Kafka) Fence() error {
	k.fenceBarrier.Wait()
	return nil
}

// Close implements ttg.Transport.
func (k *Kafka) Close() error {
	k.cancel()
	werr := k.writer.Close()
	rerr := k.reader.Close()
	if werr != nil {
		return werr
	}
	return rerr
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
