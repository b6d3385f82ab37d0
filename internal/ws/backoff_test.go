package ws

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	bo := NewBackoff(500*time.Millisecond, 5*time.Second)

	expected := []time.Duration{
		500 * time.Millisecond,
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		5 * time.Second, // capped
		5 * time.Second, // stays capped
	}

	for i, want := range expected {
		got := bo.Next()
		if got != want {
			t.Errorf("attempt %d: got %v, want %v", i, got, want)
		}
	}
	if bo.Attempts() != len(expected) {
		t.Errorf("Attempts() = %d, want %d", bo.Attempts(), len(expected))
	}
}

func TestBackoffReset(t *testing.T) {
	bo := NewBackoff(time.Second, 60*time.Second)
	bo.Next() // 1s
	bo.Next() // 2s
	bo.Next() // 4s
	bo.Reset()

	if bo.Attempts() != 0 {
		t.Errorf("Attempts() after reset = %d", bo.Attempts())
	}
	got := bo.Next()
	if got != time.Second {
		t.Errorf("after reset: got %v, want %v", got, time.Second)
	}
}

func TestBackoffOverflowStaysCapped(t *testing.T) {
	bo := NewBackoff(time.Second, time.Minute)
	for i := 0; i < 100; i++ {
		if d := bo.Next(); d <= 0 || d > time.Minute {
			t.Fatalf("attempt %d: got %v", i, d)
		}
	}
}
