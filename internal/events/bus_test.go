package events

import (
	"testing"
	"time"

	"eamscan/internal/store"
)

func TestPublishFansOut(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe()
	b := bus.Subscribe()

	bus.Publish(MessageEvent{Message: store.Message{ID: "m1"}})

	for name, ch := range map[string]<-chan MessageEvent{"a": a, "b": b} {
		select {
		case ev := <-ch:
			if ev.Message.ID != "m1" {
				t.Fatalf("subscriber %s got %+v", name, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s never received the event", name)
		}
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := NewBus()
	bus.Subscribe() // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(MessageEvent{Message: store.Message{ID: "m"}})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	bus := NewBus()
	bus.Publish(MessageEvent{Message: store.Message{ID: "m1"}})
}
