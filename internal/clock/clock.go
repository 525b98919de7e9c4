// Package clock provides the wall-clock source and the 1 Hz tick stream that
// drive the bell engine.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock reports the current instant.
type Clock interface {
	Now() time.Time
}

// System reads the host clock. A nil Location means time.Local.
type System struct {
	Location *time.Location
}

func (s System) Now() time.Time {
	if s.Location == nil {
		return time.Now()
	}
	return time.Now().In(s.Location)
}

// Fixed always returns the same instant.
type Fixed time.Time

func (f Fixed) Now() time.Time { return time.Time(f) }

// Manual is a settable clock for tests and simulations.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

func NewManual(start time.Time) *Manual { return &Manual{now: start} }

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new instant.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

// Ticks emits clk.Now() once per interval, each tick aligned to the next
// interval boundary of the host clock. A slow consumer misses ticks; nothing
// is queued or replayed. The channel closes when ctx is done.
func Ticks(ctx context.Context, clk Clock, interval time.Duration) <-chan time.Time {
	if interval <= 0 {
		interval = time.Second
	}
	out := make(chan time.Time)
	go func() {
		defer close(out)
		timer := time.NewTimer(untilBoundary(time.Now(), interval))
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			select {
			case out <- clk.Now():
			case <-ctx.Done():
				return
			default:
			}
			timer.Reset(untilBoundary(time.Now(), interval))
		}
	}()
	return out
}

// untilBoundary is the wait from now to the next multiple of interval, with a
// small lead past the boundary so the receiver reads the new second.
func untilBoundary(now time.Time, interval time.Duration) time.Duration {
	const lead = 5 * time.Millisecond
	next := now.Truncate(interval).Add(interval)
	return next.Sub(now) + lead
}
