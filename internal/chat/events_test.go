package chat

import "testing"

func TestBusFanOut(t *testing.T) {
	var b Bus
	var a, c []EventType
	b.Subscribe(func(e Event) { a = append(a, e.Type) })
	unsub := b.Subscribe(func(e Event) { c = append(c, e.Type) })

	b.Publish(Event{Type: EventMessagesChanged})
	unsub()
	unsub()
	b.Publish(Event{Type: EventTitleChanged})

	if len(a) != 2 || a[0] != EventMessagesChanged || a[1] != EventTitleChanged {
		t.Errorf("a = %v", a)
	}
	if len(c) != 1 || c[0] != EventMessagesChanged {
		t.Errorf("c = %v", c)
	}
}

func TestBusUnsubscribeDuringPublish(t *testing.T) {
	var b Bus
	var calls int
	var unsub func()
	unsub = b.Subscribe(func(Event) {
		calls++
		unsub()
	})
	b.Publish(Event{Type: EventFailure})
	b.Publish(Event{Type: EventFailure})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
