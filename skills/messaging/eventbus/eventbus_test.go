package eventbus

import (
	"sync"
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	bus := New()
	sub, err := bus.Subscribe(4, DropNewest, "orders", "refunds")
	if err != nil {
		t.Fatal(err)
	}

	if n := bus.Publish("orders", "o1"); n != 1 {
		t.Errorf("Publish(orders) delivered to %d, want 1", n)
	}
	if n := bus.Publish("refunds", "r1"); n != 1 {
		t.Errorf("Publish(refunds) delivered to %d, want 1", n)
	}
	if n := bus.Publish("unrelated", "x"); n != 0 {
		t.Errorf("Publish(unrelated) delivered to %d, want 0", n)
	}

	got := []Message{<-sub.C(), <-sub.C()}
	if got[0].Topic != "orders" || got[0].Payload != "o1" {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Topic != "refunds" || got[1].Payload != "r1" {
		t.Errorf("second = %+v", got[1])
	}
}

func TestFanout(t *testing.T) {
	bus := New()
	a, _ := bus.Subscribe(1, DropNewest, "t")
	b, _ := bus.Subscribe(1, DropNewest, "t")

	if n := bus.Publish("t", 42); n != 2 {
		t.Fatalf("delivered to %d subscribers, want 2", n)
	}
	if m := <-a.C(); m.Payload != 42 {
		t.Errorf("a got %v", m.Payload)
	}
	if m := <-b.C(); m.Payload != 42 {
		t.Errorf("b got %v", m.Payload)
	}
}

func TestDropNewest(t *testing.T) {
	bus := New()
	sub, _ := bus.Subscribe(2, DropNewest, "t")

	for i := 1; i <= 4; i++ {
		bus.Publish("t", i)
	}
	// The backlog keeps the oldest two; the rest were shed.
	if m := <-sub.C(); m.Payload != 1 {
		t.Errorf("first = %v, want 1", m.Payload)
	}
	if m := <-sub.C(); m.Payload != 2 {
		t.Errorf("second = %v, want 2", m.Payload)
	}
	if d := sub.Dropped(); d != 2 {
		t.Errorf("Dropped = %d, want 2", d)
	}
}

func TestDropOldest(t *testing.T) {
	bus := New()
	sub, _ := bus.Subscribe(2, DropOldest, "t")

	for i := 1; i <= 4; i++ {
		bus.Publish("t", i)
	}
	// The buffer slid forward: only the newest two remain.
	if m := <-sub.C(); m.Payload != 3 {
		t.Errorf("first = %v, want 3", m.Payload)
	}
	if m := <-sub.C(); m.Payload != 4 {
		t.Errorf("second = %v, want 4", m.Payload)
	}
	if d := sub.Dropped(); d != 2 {
		t.Errorf("Dropped = %d, want 2", d)
	}
}

func TestPublish_NeverBlocks(t *testing.T) {
	bus := New()
	sub, _ := bus.Subscribe(1, DropNewest, "t")
	bus.Publish("t", "fills the buffer")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish("t", i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	_ = sub
}

func TestSubscriptionClose(t *testing.T) {
	bus := New()
	sub, _ := bus.Subscribe(1, DropNewest, "t")

	sub.Close()
	sub.Close()
	if n := bus.Subscribers("t"); n != 0 {
		t.Errorf("Subscribers = %d after close, want 0", n)
	}
	if n := bus.Publish("t", "x"); n != 0 {
		t.Errorf("Publish after close delivered to %d", n)
	}
	if _, ok := <-sub.C(); ok {
		t.Error("channel still open after Close")
	}
}

func TestCloseDuringPublish_NoPanic(t *testing.T) {
	bus := New()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				bus.Publish("t", j)
			}
		}()
	}
	for i := 0; i < 50; i++ {
		sub, err := bus.Subscribe(1, DropOldest, "t")
		if err != nil {
			t.Fatal(err)
		}
		sub.Close()
	}
	wg.Wait()
}

func TestBusClose(t *testing.T) {
	bus := New()
	sub, _ := bus.Subscribe(2, DropNewest, "a", "b")
	bus.Publish("a", 1)

	bus.Close()
	bus.Close()

	// The pending message drains, then the channel reports closed.
	if m, ok := <-sub.C(); !ok || m.Payload != 1 {
		t.Errorf("drain = %v, %v", m, ok)
	}
	if _, ok := <-sub.C(); ok {
		t.Error("channel open after bus Close")
	}
	if _, err := bus.Subscribe(1, DropNewest, "t"); err != ErrClosed {
		t.Errorf("Subscribe after Close = %v, want ErrClosed", err)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	bus := New()
	if _, err := bus.Subscribe(0, DropNewest, "t"); err == nil {
		t.Error("accepted a zero buffer")
	}
	if _, err := bus.Subscribe(1, DropNewest); err == nil {
		t.Error("accepted an empty topic list")
	}
}
