package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"schoolbell/internal/bell"
	"schoolbell/internal/clock"
	"schoolbell/internal/eventbus"
	"schoolbell/internal/playback"
	"schoolbell/pkg/logx"
)

type staticSource []bell.Schedule

func (s staticSource) Schedules() []bell.Schedule { return append([]bell.Schedule(nil), s...) }

type recordingPlayer struct {
	mu     sync.Mutex
	played []string
	err    error
}

func (p *recordingPlayer) Scheduled(_ context.Context, s bell.Schedule) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !s.HasAudio() {
		return playback.ErrNoAudio
	}
	if p.err != nil {
		return &playback.PlaybackError{ScheduleID: s.ID, Err: p.err}
	}
	p.played = append(p.played, s.ID)
	return nil
}

func (p *recordingPlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.played)
}

func at(h, m, s int) time.Time { return time.Date(2024, 1, 15, h, m, s, 0, time.UTC) }

func sched(id string, h, m, repeat int) bell.Schedule {
	return bell.Schedule{
		ID: id, Label: id, AudioID: "clip-" + id, Enabled: true, Days: bell.Weekdays(),
		Time: bell.TimeOfDay{Hour: h, Minute: m}, RepeatInterval: repeat,
	}
}

func newEngine(src staticSource, p Player, bus eventbus.Bus, active func() bool) *Engine {
	return New(Config{Location: time.UTC, Active: active}, src, p, clock.Fixed(at(0, 0, 0)), bus, nil, logx.Nop())
}

func TestTickAtMostOncePerInstant(t *testing.T) {
	t.Parallel()
	p := &recordingPlayer{}
	e := newEngine(staticSource{sched("hour-8", 8, 0, 0)}, p, nil, nil)
	ctx := context.Background()

	// Two ticks inside the same wall-clock second.
	e.Tick(ctx, at(8, 0, 0))
	e.Tick(ctx, at(8, 0, 0).Add(400*time.Millisecond))
	// A clock stepped backwards over the same instant.
	e.Tick(ctx, at(7, 59, 59))
	e.Tick(ctx, at(8, 0, 0))

	if p.count() != 1 {
		t.Fatalf("played %d times, want 1", p.count())
	}
}

func TestTickNextBellSwitches(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	next, unsub := bus.Subscribe(16, eventbus.TypeBellNext)
	defer unsub()

	e := newEngine(staticSource{sched("hour-9", 9, 0, 0), sched("hour-9b", 9, 5, 0)}, &recordingPlayer{}, bus, nil)
	ctx := context.Background()

	e.Tick(ctx, at(8, 59, 59))
	if st := e.State(); st.Next == nil || st.Next.Schedule.ID != "hour-9" {
		t.Fatalf("next = %+v", st.Next)
	}
	e.Tick(ctx, at(9, 0, 0))
	if st := e.State(); st.Next == nil || st.Next.Schedule.ID != "hour-9b" {
		t.Fatalf("next after 09:00 = %+v", st.Next)
	}
	e.Tick(ctx, at(9, 0, 1))

	// Published only on change: two distinct values over three ticks.
	if got := len(next); got != 2 {
		t.Fatalf("bell.next events = %d, want 2", got)
	}
	first := (<-next).Data.(eventbus.BellNext)
	if first.ScheduleID != "hour-9" {
		t.Fatalf("first next = %+v", first)
	}
}

func TestTickInactiveDoesNotFire(t *testing.T) {
	t.Parallel()
	p := &recordingPlayer{}
	active := false
	e := newEngine(staticSource{sched("hour-8", 8, 0, 0)}, p, nil, func() bool { return active })

	if fired := e.Tick(context.Background(), at(8, 0, 0)); len(fired) != 0 || p.count() != 0 {
		t.Fatalf("fired while inactive: %v", fired)
	}
	if e.State().Active {
		t.Fatal("state reports active")
	}
	// Activation does not backfill the suppressed instant.
	active = true
	e.Tick(context.Background(), at(8, 0, 1))
	if p.count() != 0 {
		t.Fatal("suppressed bell was backfilled")
	}
}

func TestTickPlaybackErrorKeepsTicking(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	errs, unsub := bus.Subscribe(4, eventbus.TypePlaybackError)
	defer unsub()

	p := &recordingPlayer{err: errors.New("device busy")}
	e := newEngine(staticSource{sched("a", 8, 0, 1)}, p, bus, nil)
	ctx := context.Background()

	e.Tick(ctx, at(8, 0, 0))
	p.mu.Lock()
	p.err = nil
	p.mu.Unlock()
	e.Tick(ctx, at(8, 1, 0))

	if p.count() != 1 {
		t.Fatalf("played = %d, want 1 after recovery", p.count())
	}
	ev := <-errs
	if ev.Data.(eventbus.PlaybackError).ScheduleID != "a" {
		t.Fatalf("error event = %+v", ev)
	}
	if st := e.State(); st.LastFired == nil || !st.LastFired.Repeat || st.Ticks != 2 {
		t.Fatalf("state = %+v", st)
	}
}

func TestTickSilentScheduleStillFires(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	fired, unsub := bus.Subscribe(4, eventbus.TypeBellFired)
	defer unsub()

	s := sched("silent", 8, 0, 0)
	s.AudioID = ""
	p := &recordingPlayer{}
	e := newEngine(staticSource{s}, p, bus, nil)

	if got := e.Tick(context.Background(), at(8, 0, 0)); len(got) != 1 {
		t.Fatalf("triggers = %d", len(got))
	}
	ev := <-fired
	if ev.Data.(eventbus.BellFired).HasAudio {
		t.Fatal("silent schedule reported audio")
	}
	if p.count() != 0 {
		t.Fatal("silent schedule produced sound")
	}
}

func TestTickUsesEngineLocation(t *testing.T) {
	t.Parallel()
	wib := time.FixedZone("WIB", 7*3600)
	p := &recordingPlayer{}
	e := New(Config{Location: wib}, staticSource{sched("entry", 7, 20, 0)}, p, nil, nil, nil, logx.Nop())

	// 00:20 UTC is 07:20 in UTC+7.
	e.Tick(context.Background(), time.Date(2024, 1, 15, 0, 20, 0, 0, time.UTC))
	if p.count() != 1 {
		t.Fatal("bell not evaluated in the configured zone")
	}
}

func TestTickFallBackHourRingsOnce(t *testing.T) {
	t.Parallel()
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	s := sched("night", 1, 30, 0)
	s.Days = bell.NewDaySet(time.Sunday)
	p := &recordingPlayer{}
	e := New(Config{Location: ny}, staticSource{s}, p, nil, nil, nil, logx.Nop())

	// Clocks fall back at 02:00 EDT on 2026-11-01, so 01:30 happens twice.
	start := time.Date(2026, 11, 1, 0, 0, 0, 0, ny)
	for i := 0; i < 4*3600; i++ {
		e.Tick(context.Background(), start.Add(time.Duration(i)*time.Second))
	}
	if p.count() != 1 {
		t.Fatalf("played %d times across the repeated hour, want 1", p.count())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	e := New(Config{Location: time.UTC, Interval: 10 * time.Millisecond}, staticSource{}, &recordingPlayer{}, clock.System{}, nil, nil, logx.Nop())

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	if e.State().Ticks == 0 {
		t.Fatal("no ticks processed")
	}
}
