package ttg

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestActivationTableLookupOrInsertExactlyOneInsert(t *testing.T) {
	table := NewActivationTable[string]()
	const n = 50
	var wg sync.WaitGroup
	var insertedCount int32
	var mu sync.Mutex

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, inserted := table.LookupOrInsert("key", func() *ActivationRecord[string] {
				return newActivationRecord[string]("tt", "key", 1, 1)
			})
			if inserted {
				mu.Lock()
				insertedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if insertedCount != 1 {
		t.Fatalf("exactly one goroutine should observe inserted==true, got %d", insertedCount)
	}
	if got := table.Len(); got != 1 {
		t.Fatalf("table.Len(): got %d, want 1", got)
	}
}

func TestActivationRecordAssignDuplicateSlot(t *testing.T) {
	ar := newActivationRecord[string]("tt", "k", 2, 0b11)
	if err := ar.assign(0, false, NewDataCopy(1)); err != nil {
		t.Fatalf("first assign: %v", err)
	}
	if err := ar.assign(0, false, NewDataCopy(2)); !errors.Is(err, ErrDuplicateInput) {
		t.Fatalf("second assign to same slot: got %v, want ErrDuplicateInput", err)
	}
}

func TestActivationRecordReadyRequiresAllRequiredSlots(t *testing.T) {
	ar := newActivationRecord[string]("tt", "k", 2, 0b11)
	if ar.ready() {
		t.Fatal("should not be ready with no slots filled")
	}
	_ = ar.assign(0, false, NewDataCopy(1))
	if ar.ready() {
		t.Fatal("should not be ready with only one of two required slots filled")
	}
	_ = ar.assign(1, false, NewDataCopy(2))
	if !ar.ready() {
		t.Fatal("should be ready once every required slot is filled")
	}
}

func TestActivationRecordFireReleasesDataCopies(t *testing.T) {
	dc1 := NewDataCopy(1)
	dc2 := NewDataCopy(2)
	ar := newActivationRecord[string]("tt", "k", 2, 0b11)
	_ = ar.assign(0, false, dc1)
	_ = ar.assign(1, false, dc2)
	ar.fire = func(ctx context.Context, key string, slots []Slot) error { return nil }

	if err := ar.Fire(context.Background()); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if got := dc1.NumReaders(); got != 0 {
		t.Fatalf("dc1 NumReaders after Fire: got %d, want 0", got)
	}
	if got := dc2.NumReaders(); got != 0 {
		t.Fatalf("dc2 NumReaders after Fire: got %d, want 0", got)
	}
}

func TestActivationTableRemove(t *testing.T) {
	table := NewActivationTable[int]()
	table.LookupOrInsert(1, func() *ActivationRecord[int] {
		return newActivationRecord[int]("tt", 1, 1, 1)
	})
	if got := table.Len(); got != 1 {
		t.Fatalf("Len before Remove: got %d, want 1", got)
	}
	table.Remove(1)
	if got := table.Len(); got != 0 {
		t.Fatalf("Len after Remove: got %d, want 0", got)
	}
}
