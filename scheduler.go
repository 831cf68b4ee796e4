package ttg

import (
	"container/heap"
	"context"
	"log"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/ttg-go/ttg/telemetry"
)

// Fireable is the scheduler's erased view of an ActivationRecord[K]: the
// key type parameter is hidden behind the closures captured in Fire, so
// records for many different TT key types can share one ready queue.
type Fireable interface {
	ID() string
	KeyString() string
	Priority() int32
	Seq() uint64
	Fire(ctx context.Context) error
}

// readyQueue is a container/heap priority queue ordered by (Priority desc,
// Seq asc), giving the "higher priority dequeued first, ties FIFO"
// ordering guarantee.
type readyQueue []Fireable

func (q readyQueue) Len() int { return len(q) }
func (q readyQueue) Less(i, j int) bool {
	if q[i].Priority() != q[j].Priority() {
		return q[i].Priority() > q[j].Priority()
	}
	return q[i].Seq() < q[j].Seq()
}
func (q readyQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *readyQueue) Push(x any)        { *q = append(*q, x.(Fireable)) }
func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// PanicHandler is invoked when a TT body panics while firing. The default
// PanicHandler used by NewScheduler logs via the standard logger; callers
// typically replace it with a handler wired to their logging/telemetry
// stack (see the telemetry package).
type PanicHandler func(ttID string, r any)

// ErrorHandler is invoked when a TT body returns a non-nil error. There is
// no partial-failure recovery. The default handler logs via the standard
// logger; it does not stop the scheduler, which keeps firing other ready
// activations.
type ErrorHandler func(ttID string, err error)

// Scheduler owns a fixed worker pool draining a shared priority ready
// queue, populated both by local activations and by transport-delivered
// activations.
type Scheduler struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   readyQueue
	workers int
	started bool
	wg      sync.WaitGroup

	inFlight atomic.Int64 // count of fired-but-not-yet-returned bodies, for Fence

	OnPanic PanicHandler
	OnError ErrorHandler
}

// NewScheduler constructs a Scheduler with the given worker count. A count
// of -1 (or 0) defaults to one worker per hardware thread.
func NewScheduler(workers int) *Scheduler {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	s := &Scheduler{
		workers: workers,
		OnPanic: func(ttID string, r any) { log.Printf("ttg: tt %q panicked: %v", ttID, r) },
		OnError: func(ttID string, err error) { log.Printf("ttg: tt %q: %v", ttID, err) },
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start launches the worker pool. Workers run until ctx is done; Start is
// idempotent, so a repeated Execute call is harmless.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.work(ctx)
	}

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	}()
}

// Submit enqueues a ready Fireable. If inline is true the record fires
// synchronously on the caller's goroutine instead of being queued, per a
// TT's per-key InlineMap.
func (s *Scheduler) Submit(ctx context.Context, f Fireable, inline bool) {
	if inline {
		s.runOne(ctx, f)
		return
	}
	s.mu.Lock()
	heap.Push(&s.queue, f)
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *Scheduler) work(ctx context.Context) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		for len(s.queue) == 0 {
			select {
			case <-ctx.Done():
				s.mu.Unlock()
				return
			default:
			}
			s.cond.Wait()
			select {
			case <-ctx.Done():
				s.mu.Unlock()
				return
			default:
			}
		}
		f := heap.Pop(&s.queue).(Fireable)
		s.mu.Unlock()

		s.runOne(ctx, f)
	}
}

func (s *Scheduler) runOne(ctx context.Context, f Fireable) {
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			s.OnPanic(f.ID(), r)
		}
	}()
	telemetry.ActivationFire(ctx, f.ID(), f.KeyString())
	if err := f.Fire(ctx); err != nil {
		s.OnError(f.ID(), err)
	}
}

// Quiescent reports whether the ready queue is empty and no body is
// currently firing. Used as the local half of the fence protocol.
func (s *Scheduler) Quiescent() bool {
	s.mu.Lock()
	empty := len(s.queue) == 0
	s.mu.Unlock()
	return empty && s.inFlight.Load() == 0
}

// Stop blocks until all launched workers have exited, used by Finalize
// after ctx has been cancelled.
func (s *Scheduler) Stop() {
	s.wg.Wait()
}
