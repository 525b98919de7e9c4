package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"schoolbell/internal/bell"
	"schoolbell/pkg/logx"
)

// Lane says who started the current playback.
type Lane string

const (
	LaneNone      Lane = ""
	LaneScheduled Lane = "scheduled"
	LaneManual    Lane = "manual"
)

// ManualState is the manual-play toggle. Playing is false when idle.
type ManualState struct {
	Playing    bool   `json:"playing"`
	ScheduleID string `json:"schedule_id,omitempty"`
}

// Status is a point-in-time view of the gate.
type Status struct {
	Playing      bool        `json:"playing"`
	ScheduleID   string      `json:"schedule_id,omitempty"`
	Lane         Lane        `json:"lane,omitempty"`
	StartedAt    time.Time   `json:"started_at,omitempty"`
	Manual       ManualState `json:"manual"`
	LastPlayedID string      `json:"last_played_id,omitempty"`
	LastPlayedAt time.Time   `json:"last_played_at,omitempty"`
}

type session struct {
	token    uint64
	schedule string
	lane     Lane
	handle   Handle
	started  time.Time
}

// Gate serializes access to the player. At most one playback is live; a new
// request tears down the old one first. Completions from a torn-down playback
// are ignored.
type Gate struct {
	clips  ClipSource
	player Player
	log    logx.Logger
	now    func() time.Time

	onChange func(Status)
	onError  func(*PlaybackError)

	mu     sync.Mutex
	cur    *session
	seq    uint64
	lastID string
	lastAt time.Time
}

type GateOption func(*Gate)

func WithNow(now func() time.Time) GateOption {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// OnChange is called after every state transition, outside the gate lock.
func OnChange(fn func(Status)) GateOption { return func(g *Gate) { g.onChange = fn } }

// OnError is called when a running playback ends with an error.
func OnError(fn func(*PlaybackError)) GateOption { return func(g *Gate) { g.onError = fn } }

func NewGate(clips ClipSource, player Player, log logx.Logger, opts ...GateOption) *Gate {
	if log.IsZero() {
		log = logx.Nop()
	}
	g := &Gate{clips: clips, player: player, log: log.With(logx.String("comp", "playback")), now: time.Now}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Scheduled plays s for a timed trigger. Whatever is playing is stopped,
// including a manual playback. Missing audio leaves current playback alone.
func (g *Gate) Scheduled(ctx context.Context, s bell.Schedule) error {
	g.mu.Lock()
	err := g.startLocked(ctx, s, LaneScheduled)
	st := g.statusLocked()
	g.mu.Unlock()

	if !errors.Is(err, ErrNoAudio) {
		g.changed(st)
	}
	return err
}

// Manual toggles s. If s is the current manual playback it is stopped and the
// returned state is idle; otherwise current playback is torn down and s starts
// from the beginning.
func (g *Gate) Manual(ctx context.Context, s bell.Schedule) (ManualState, error) {
	g.mu.Lock()
	if c := g.cur; c != nil && c.lane == LaneManual && c.schedule == s.ID {
		g.releaseLocked()
		st := g.statusLocked()
		g.mu.Unlock()
		g.log.Debug("manual paused", logx.String("schedule", s.ID))
		g.changed(st)
		return st.Manual, nil
	}
	err := g.startLocked(ctx, s, LaneManual)
	st := g.statusLocked()
	g.mu.Unlock()

	if !errors.Is(err, ErrNoAudio) {
		g.changed(st)
	}
	return st.Manual, err
}

// Stop tears down any playback.
func (g *Gate) Stop() {
	g.mu.Lock()
	had := g.cur != nil
	g.releaseLocked()
	st := g.statusLocked()
	g.mu.Unlock()
	if had {
		g.changed(st)
	}
}

func (g *Gate) Snapshot() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statusLocked()
}

func (g *Gate) startLocked(ctx context.Context, s bell.Schedule, lane Lane) error {
	if !s.HasAudio() {
		return ErrNoAudio
	}
	clip, err := g.clips.Clip(ctx, s.AudioID)
	if errors.Is(err, bell.ErrUnknownClip) {
		return ErrNoAudio
	}
	if err != nil {
		return &PlaybackError{ScheduleID: s.ID, Err: err}
	}

	g.releaseLocked()

	// Playback outlives the request that started it; Stop ends it.
	h, err := g.player.Play(context.WithoutCancel(ctx), clip)
	if err != nil {
		return &PlaybackError{ScheduleID: s.ID, Err: err}
	}

	g.seq++
	now := g.now()
	g.cur = &session{token: g.seq, schedule: s.ID, lane: lane, handle: h, started: now}
	g.lastID, g.lastAt = s.ID, now
	go g.watch(g.seq, s.ID, h)

	g.log.Info("bell playing",
		logx.String("schedule", s.ID),
		logx.String("lane", string(lane)),
		logx.String("clip", clip.ID),
	)
	return nil
}

func (g *Gate) releaseLocked() {
	c := g.cur
	if c == nil {
		return
	}
	g.cur = nil
	if err := c.handle.Stop(); err != nil {
		g.log.Warn("stop playback", logx.String("schedule", c.schedule), logx.Err(err))
	}
}

func (g *Gate) watch(token uint64, scheduleID string, h Handle) {
	<-h.Done()

	g.mu.Lock()
	if g.cur == nil || g.cur.token != token {
		g.mu.Unlock()
		return
	}
	g.cur = nil
	st := g.statusLocked()
	g.mu.Unlock()

	if err := h.Err(); err != nil {
		pe := &PlaybackError{ScheduleID: scheduleID, Err: err}
		g.log.Warn("playback failed", logx.String("schedule", scheduleID), logx.Err(err))
		if g.onError != nil {
			g.onError(pe)
		}
	} else {
		g.log.Debug("playback finished", logx.String("schedule", scheduleID))
	}
	g.changed(st)
}

func (g *Gate) statusLocked() Status {
	st := Status{LastPlayedID: g.lastID, LastPlayedAt: g.lastAt}
	if c := g.cur; c != nil {
		st.Playing = true
		st.ScheduleID = c.schedule
		st.Lane = c.lane
		st.StartedAt = c.started
		if c.lane == LaneManual {
			st.Manual = ManualState{Playing: true, ScheduleID: c.schedule}
		}
	}
	return st
}

func (g *Gate) changed(st Status) {
	if g.onChange != nil {
		g.onChange(st)
	}
}
