package eventdispatch

import "testing"

func TestDispatcher_EmitAndDrop(t *testing.T) {
	dropped := 0
	d := NewDispatcher[int](2, func(int) { dropped++ })

	d.Emit(1)
	d.Emit(2)
	d.Emit(3) // buffer full, dropped

	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	if got := <-d.Out(); got != 1 {
		t.Errorf("first = %d, want 1", got)
	}
	if got := <-d.Out(); got != 2 {
		t.Errorf("second = %d, want 2", got)
	}
}

func TestDispatcher_Close(t *testing.T) {
	d := NewDispatcher[string](1, nil)
	d.Emit("x")
	d.Close()
	d.Close() // idempotent
	d.Emit("ignored after close")

	if got := <-d.Out(); got != "x" {
		t.Errorf("got %q, want %q", got, "x")
	}
	if _, ok := <-d.Out(); ok {
		t.Error("channel not closed")
	}
}
