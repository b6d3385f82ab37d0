package chat

import "sync"

// EventType identifies what changed in a Manager.
type EventType string

const (
	EventMessagesChanged   EventType = "messages_changed"
	EventTitleChanged      EventType = "title_changed"
	EventActivityChanged   EventType = "activity_changed"
	EventConnectionChanged EventType = "connection_changed"
	EventFailure           EventType = "failure"
)

// Event is published to subscribers after the Manager state changed.
// Snapshot is taken after the change was applied.
type Event struct {
	Type     EventType
	Snapshot Snapshot
	Err      error // set for EventFailure
}

// Bus fans events out to any number of subscribers. Handlers are called
// synchronously in subscription order and must not block.
type Bus struct {
	mu   sync.RWMutex
	subs []busSub
	next uint64
}

type busSub struct {
	id uint64
	fn func(Event)
}

// Subscribe adds fn and returns a function that removes it.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs = append(b.subs, busSub{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers e to every current subscriber.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	subs := make([]busSub, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()
	for _, s := range subs {
		s.fn(e)
	}
}
