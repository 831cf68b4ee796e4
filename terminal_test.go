package ttg

import (
	"errors"
	"reflect"
	"testing"
)

func intType() reflect.Type { return reflect.TypeOf(0) }

func TestOutTerminalConnectTypeMismatch(t *testing.T) {
	out := NewOutTerminal[string]("out", intType(), nil)
	in := NewInTerminal[string]("in", CapRead, reflect.TypeOf(""), nil)
	if err := out.Connect(in); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("Connect with mismatched types: got %v, want ErrTypeMismatch", err)
	}
}

func TestOutTerminalConnectControlIgnoresType(t *testing.T) {
	out := NewOutTerminal[string]("out", intType(), nil)
	in := NewInTerminal[string]("in", CapControl, nil, nil)
	if err := out.Connect(in); err != nil {
		t.Fatalf("Connect to a Control input should ignore value type: %v", err)
	}
}

func TestOutTerminalConnectToOutRejected(t *testing.T) {
	out := NewOutTerminal[string]("out", intType(), nil)
	in := NewInTerminal[string]("in", CapWrite, intType(), nil)
	if err := out.Connect(in); !errors.Is(err, ErrIllegalDirection) {
		t.Fatalf("Connect to a CapWrite terminal: got %v, want ErrIllegalDirection", err)
	}
}

func TestInTerminalDeliverBeforeCallbackUninitialized(t *testing.T) {
	in := NewInTerminal[string]("in", CapRead, intType(), nil)
	if err := in.deliverRef("k", NewDataCopy(1)); !errors.Is(err, ErrUninitialized) {
		t.Fatalf("deliverRef before SetCallback: got %v, want ErrUninitialized", err)
	}
}

func TestDeliverSharedOnlyFansOutOneDataCopy(t *testing.T) {
	out := NewOutTerminal[string]("out", intType(), nil)

	var received []*DataCopy
	for i := 0; i < 3; i++ {
		in := NewInTerminal[string]("in", CapRead, intType(), nil)
		in.SetCallback(
			func(key string, dc *DataCopy) { received = append(received, dc) },
			func(key string, dc *DataCopy) { t.Fatal("unexpected move delivery to a Read terminal") },
		)
		if err := out.Connect(in); err != nil {
			t.Fatalf("Connect: %v", err)
		}
	}

	if err := out.Send("key", 42); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(received) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(received))
	}
	for _, dc := range received {
		if dc != received[0] {
			t.Fatal("all Read successors should share the same DataCopy instance")
		}
	}
	if got := received[0].NumReaders(); got != 3 {
		t.Fatalf("NumReaders after fan-out to 3 readers: got %d, want 3", got)
	}
}

func TestDeliverWithMoveLastDeliveryIsMove(t *testing.T) {
	out := NewOutTerminal[string]("out", intType(), nil)

	var sawMove bool
	var deliveries []string
	readIn := NewInTerminal[string]("read", CapRead, intType(), nil)
	readIn.SetCallback(
		func(key string, dc *DataCopy) { deliveries = append(deliveries, "ref") },
		func(key string, dc *DataCopy) { t.Fatal("unexpected move to Read terminal") },
	)
	consumeIn := NewInTerminal[string]("consume", CapConsume, intType(), nil)
	consumeIn.SetCallback(
		func(key string, dc *DataCopy) { deliveries = append(deliveries, "ref") },
		func(key string, dc *DataCopy) { sawMove = true; deliveries = append(deliveries, "move") },
	)

	if err := out.Connect(readIn); err != nil {
		t.Fatalf("Connect read: %v", err)
	}
	if err := out.Connect(consumeIn); err != nil {
		t.Fatalf("Connect consume: %v", err)
	}

	if err := out.Send("key", 7); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !sawMove {
		t.Fatal("expected the Consume successor to receive a move delivery")
	}
	if len(deliveries) != 2 || deliveries[len(deliveries)-1] != "move" {
		t.Fatalf("expected the move to be the last of 2 deliveries, got %v", deliveries)
	}
}

func TestBroadcastElidesDataCopyAllocation(t *testing.T) {
	out := NewOutTerminal[string]("out", intType(), nil)

	var received []*DataCopy
	in := NewInTerminal[string]("in", CapRead, intType(), nil)
	in.SetCallback(
		func(key string, dc *DataCopy) { received = append(received, dc) },
		func(key string, dc *DataCopy) {},
	)
	if err := out.Connect(in); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	keys := []string{"a", "b", "c"}
	if err := out.Broadcast(keys, "payload"); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if len(received) != len(keys) {
		t.Fatalf("expected %d deliveries, got %d", len(keys), len(received))
	}
	for _, dc := range received {
		if dc != received[0] {
			t.Fatal("Broadcast should deliver the same DataCopy instance to every key")
		}
	}
	if got := received[0].NumReaders(); got != int32(len(keys)) {
		t.Fatalf("NumReaders after broadcast to %d keys: got %d, want %d", len(keys), got, len(keys))
	}
}
