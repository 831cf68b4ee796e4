package ttg

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fireRecord struct {
	id       string
	priority int32
	seq      uint64
	fire     func(ctx context.Context) error
}

func (f *fireRecord) ID() string                     { return f.id }
func (f *fireRecord) KeyString() string              { return f.id }
func (f *fireRecord) Priority() int32                { return f.priority }
func (f *fireRecord) Seq() uint64                     { return f.seq }
func (f *fireRecord) Fire(ctx context.Context) error { return f.fire(ctx) }

func TestSchedulerFiresHigherPriorityFirst(t *testing.T) {
	s := NewScheduler(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	wg.Add(2)

	low := &fireRecord{id: "low", priority: 0, seq: 2, fire: func(ctx context.Context) error {
		mu.Lock()
		order = append(order, "low")
		mu.Unlock()
		wg.Done()
		return nil
	}}
	high := &fireRecord{id: "high", priority: 10, seq: 1, fire: func(ctx context.Context) error {
		mu.Lock()
		order = append(order, "high")
		mu.Unlock()
		wg.Done()
		return nil
	}}

	// Queue both before starting workers so the heap orders them before
	// any worker can drain one in isolation.
	s.Submit(ctx, low, false)
	s.Submit(ctx, high, false)
	s.Start(ctx)

	waitOrTimeout(t, &wg, time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "high" {
		t.Fatalf("expected high priority to fire first, got %v", order)
	}
}

func TestSchedulerInlineFiresSynchronously(t *testing.T) {
	s := NewScheduler(2)
	ctx := context.Background()

	fired := false
	rec := &fireRecord{id: "inline", fire: func(ctx context.Context) error {
		fired = true
		return nil
	}}
	s.Submit(ctx, rec, true)
	if !fired {
		t.Fatal("inline submission should fire synchronously before Submit returns")
	}
}

func TestSchedulerQuiescentAfterDraining(t *testing.T) {
	s := NewScheduler(2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	if !s.Quiescent() {
		t.Fatal("a fresh scheduler should be quiescent")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	rec := &fireRecord{id: "work", fire: func(ctx context.Context) error {
		wg.Done()
		return nil
	}}
	s.Submit(ctx, rec, false)
	waitOrTimeout(t, &wg, time.Second)

	deadline := time.Now().Add(time.Second)
	for !s.Quiescent() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !s.Quiescent() {
		t.Fatal("scheduler should become quiescent once the fired body returns")
	}
}

func TestSchedulerPanicHandlerInvoked(t *testing.T) {
	s := NewScheduler(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	var caughtID string
	s.OnPanic = func(ttID string, r any) {
		caughtID = ttID
		wg.Done()
	}
	s.Start(ctx)

	rec := &fireRecord{id: "panicker", fire: func(ctx context.Context) error {
		panic("boom")
	}}
	s.Submit(ctx, rec, false)
	waitOrTimeout(t, &wg, time.Second)

	if caughtID != "panicker" {
		t.Fatalf("OnPanic should be called with the firing TT's id, got %q", caughtID)
	}
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for scheduler work to complete")
	}
}
