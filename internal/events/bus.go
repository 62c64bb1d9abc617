package events

import (
	"sync"

	"eamscan/internal/store"
)

// MessageEvent is emitted exactly once per new message and once per repeat
// merge. Consumers can distinguish the two via Repeat (or by watching
// Message.RepeatCount grow).
type MessageEvent struct {
	Message store.Message `json:"message"`
	Repeat  bool          `json:"repeat"`
}

// Bus provides simple in-process pub/sub for accepted-message events.
// Publishing never blocks; a subscriber that falls behind misses events.
type Bus struct {
	mu   sync.RWMutex
	subs []chan MessageEvent
}

func NewBus() *Bus { return &Bus{} }

func (b *Bus) Subscribe() <-chan MessageEvent {
	ch := make(chan MessageEvent, 16)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, ch)
	return ch
}

func (b *Bus) Publish(ev MessageEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
