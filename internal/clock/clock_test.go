package clock

import (
	"context"
	"testing"
	"time"
)

func TestManualAdvance(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 1, 15, 7, 59, 59, 0, time.UTC)
	m := NewManual(start)
	if got := m.Advance(time.Second); !got.Equal(start.Add(time.Second)) {
		t.Fatalf("advance = %s", got)
	}
	m.Set(start)
	if !m.Now().Equal(start) {
		t.Fatalf("set = %s", m.Now())
	}
}

func TestFixedAndSystem(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	if !Fixed(at).Now().Equal(at) {
		t.Fatal("fixed clock drifted")
	}
	loc := time.FixedZone("WIB", 7*3600)
	if got := (System{Location: loc}).Now().Location(); got != loc {
		t.Fatalf("location = %v", got)
	}
}

func TestUntilBoundary(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 15, 8, 0, 0, 300*int(time.Millisecond), time.UTC)
	got := untilBoundary(now, time.Second)
	if got < 700*time.Millisecond || got > 710*time.Millisecond {
		t.Fatalf("untilBoundary = %s", got)
	}
}

func TestTicksStopsOnCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	ch := Ticks(ctx, System{}, 10*time.Millisecond)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no tick received")
	}
	cancel()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("tick channel not closed after cancel")
		}
	}
}
