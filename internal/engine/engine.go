// Package engine runs the bell tick loop: evaluate, hand fired schedules to
// the playback gate, project the next bell, publish UI events.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"schoolbell/internal/bell"
	"schoolbell/internal/clock"
	"schoolbell/internal/eventbus"
	"schoolbell/internal/metrics"
	"schoolbell/internal/playback"
	"schoolbell/pkg/logx"
)

// ScheduleSource supplies the current schedule set each tick.
type ScheduleSource interface {
	Schedules() []bell.Schedule
}

// Player is the part of the playback gate the engine drives.
type Player interface {
	Scheduled(ctx context.Context, s bell.Schedule) error
}

// State is the UI view after the latest tick.
type State struct {
	Now       time.Time      `json:"now"`
	Next      *bell.NextBell `json:"next,omitempty"`
	LastFired *bell.Trigger  `json:"last_fired,omitempty"`
	Ticks     uint64         `json:"ticks"`
	Active    bool           `json:"active"`
}

type Config struct {
	Location *time.Location
	Interval time.Duration
	// Active gates firing; nil means always active.
	Active func() bool
}

type Engine struct {
	src    ScheduleSource
	player Player
	clk    clock.Clock
	bus    eventbus.Bus
	sink   metrics.Sink
	log    logx.Logger
	cfg    Config

	mu        sync.RWMutex
	state     State
	lastFired map[string]wallMinute
}

func New(cfg Config, src ScheduleSource, player Player, clk clock.Clock, bus eventbus.Bus, sink metrics.Sink, log logx.Logger) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if clk == nil {
		clk = clock.System{Location: cfg.Location}
	}
	if bus == nil {
		bus = eventbus.New()
	}
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		src:       src,
		player:    player,
		clk:       clk,
		bus:       bus,
		sink:      sink,
		log:       log.With(logx.String("comp", "engine")),
		cfg:       cfg,
		lastFired: map[string]wallMinute{},
	}
}

// Run ticks until ctx is done. Per-tick failures are logged, never returned.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("engine started",
		logx.String("tz", e.cfg.Location.String()),
		logx.Duration("interval", e.cfg.Interval),
	)
	for now := range clock.Ticks(ctx, e.clk, e.cfg.Interval) {
		e.Tick(ctx, now)
	}
	e.log.Info("engine stopped")
	return ctx.Err()
}

// Tick performs one deterministic step at now and returns the triggers that
// were handed to the player.
func (e *Engine) Tick(ctx context.Context, now time.Time) []bell.Trigger {
	started := time.Now()
	local := now.In(e.cfg.Location)
	sec := local.Truncate(time.Second)
	e.sink.TickDrift(local.Sub(sec))

	active := e.cfg.Active == nil || e.cfg.Active()
	schedules := e.src.Schedules()
	fired := e.admit(bell.Evaluate(sec, schedules), active)

	for i := range fired {
		e.fire(ctx, fired[i])
	}

	next, ok := bell.Project(sec, schedules)
	e.commit(sec, fired, next, ok, active)
	e.countSchedules(schedules)
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeTick, Time: sec})
	e.sink.TickCompleted(time.Since(started))
	return fired
}

// admit drops triggers while inactive and any trigger whose schedule already
// fired at or after this instant, so a repeated or backward tick never rings
// twice.
func (e *Engine) admit(triggers []bell.Trigger, active bool) []bell.Trigger {
	if len(triggers) == 0 {
		return nil
	}
	if !active {
		for _, t := range triggers {
			e.sink.PlaybackSkipped(metrics.SkipInactive)
			e.log.Debug("device not activated, bell suppressed", logx.String("schedule", t.Schedule.ID))
		}
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := triggers[:0:0]
	for _, t := range triggers {
		at := wallMinuteOf(t.At.In(e.cfg.Location))
		if last, ok := e.lastFired[t.Schedule.ID]; ok && at <= last {
			e.sink.PlaybackSkipped(metrics.SkipDuplicate)
			continue
		}
		e.lastFired[t.Schedule.ID] = at
		out = append(out, t)
	}
	return out
}

func (e *Engine) fire(ctx context.Context, t bell.Trigger) {
	s := t.Schedule
	e.sink.BellFired(t.Repeat)
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeBellFired, Time: t.At, Data: eventbus.BellFired{
		ScheduleID: s.ID, Label: s.Label, At: t.At, Repeat: t.Repeat, HasAudio: s.HasAudio(),
	}})
	e.log.Info("bell fired",
		logx.String("schedule", s.ID),
		logx.String("label", s.Label),
		logx.Bool("repeat", t.Repeat),
	)

	err := e.player.Scheduled(ctx, s)
	var pe *playback.PlaybackError
	switch {
	case err == nil:
		e.sink.PlaybackStarted(string(playback.LaneScheduled))
	case errors.Is(err, playback.ErrNoAudio):
		e.sink.PlaybackSkipped(metrics.SkipNoAudio)
		e.log.Debug("no audio for schedule", logx.String("schedule", s.ID))
	case errors.As(err, &pe):
		e.sink.PlaybackFailed()
		e.log.Warn("bell playback failed", logx.String("schedule", s.ID), logx.Err(err))
		e.bus.Publish(eventbus.Event{Type: eventbus.TypePlaybackError, Time: t.At, Data: eventbus.PlaybackError{
			ScheduleID: s.ID, Error: pe.Err.Error(),
		}})
	default:
		e.sink.PlaybackFailed()
		e.log.Warn("bell playback failed", logx.String("schedule", s.ID), logx.Err(err))
	}
}

func (e *Engine) commit(now time.Time, fired []bell.Trigger, next bell.NextBell, ok, active bool) {
	e.mu.Lock()
	prev := e.state.Next
	e.state.Now = now
	e.state.Ticks++
	e.state.Active = active
	if n := len(fired); n > 0 {
		last := fired[n-1]
		e.state.LastFired = &last
	}
	if ok {
		e.state.Next = &next
	} else {
		e.state.Next = nil
	}
	changed := !sameNext(prev, e.state.Next)
	e.pruneLocked(now)
	e.mu.Unlock()

	if !changed {
		return
	}
	payload := eventbus.BellNext{}
	if ok {
		payload = eventbus.BellNext{ScheduleID: next.Schedule.ID, Label: next.Label(), FireTime: next.FireTime, Repeat: next.Repeat}
		e.log.Debug("next bell", logx.String("schedule", next.Schedule.ID), logx.Time("at", next.FireTime))
	}
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeBellNext, Time: now, Data: payload})
}

// wallMinute is a local date and HH:MM packed as YYYYMMDDhhmm. A bell fires
// at most once per wall minute, so the hour repeated when clocks fall back
// does not ring twice.
type wallMinute int64

func wallMinuteOf(t time.Time) wallMinute {
	y, m, d := t.Date()
	return wallMinute(((int64(y)*100+int64(m))*100+int64(d))*10000 + int64(t.Hour()*100+t.Minute()))
}

func (w wallMinute) day() int64 { return int64(w) / 10000 }

// pruneLocked forgets fire records from previous days.
func (e *Engine) pruneLocked(now time.Time) {
	if now.Hour() != 0 || now.Minute() != 0 || now.Second() != 0 {
		return
	}
	today := wallMinuteOf(now).day()
	for id, at := range e.lastFired {
		if at.day() < today {
			delete(e.lastFired, id)
		}
	}
}

func sameNext(a, b *bell.NextBell) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Schedule.ID == b.Schedule.ID && a.FireTime.Equal(b.FireTime) && a.Repeat == b.Repeat &&
		a.Schedule.Label == b.Schedule.Label
}

func (e *Engine) countSchedules(schedules []bell.Schedule) {
	enabled := 0
	for _, s := range schedules {
		if s.Enabled {
			enabled++
		}
	}
	e.sink.SchedulesLoaded(len(schedules), enabled)
}

// State returns a copy of the latest UI view.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := e.state
	if st.Next != nil {
		n := *st.Next
		st.Next = &n
	}
	if st.LastFired != nil {
		t := *st.LastFired
		st.LastFired = &t
	}
	return st
}

// Location is the zone the engine evaluates in.
func (e *Engine) Location() *time.Location { return e.cfg.Location }
