package app

import (
	"context"
	"time"

	"schoolbell/internal/engine"
	"schoolbell/internal/playback"
	"schoolbell/internal/runtime/supervisor"
)

// Report is the /status document.
type Report struct {
	Now        time.Time           `json:"now"`
	StartedAt  time.Time           `json:"started_at"`
	Timezone   string              `json:"timezone"`
	Engine     engine.State        `json:"engine"`
	Playback   playback.Status     `json:"playback"`
	Device     DeviceReport        `json:"device"`
	Schedules  ScheduleCounts      `json:"schedules"`
	Supervisor supervisor.Snapshot `json:"supervisor"`
	// EventsDropped counts bus events lost to slow subscribers.
	EventsDropped uint64 `json:"events_dropped"`
}

type DeviceReport struct {
	ID        string `json:"id"`
	Activated bool   `json:"activated"`
	Required  bool   `json:"required"`
}

type ScheduleCounts struct {
	Total   int `json:"total"`
	Enabled int `json:"enabled"`
	Silent  int `json:"silent"`
	Clips   int `json:"clips"`
}

func (a *App) Report(context.Context) Report {
	r := Report{
		Now:       a.clk.Now().In(a.loc),
		StartedAt: a.started,
		Timezone:  a.loc.String(),
		Engine:    a.eng.State(),
		Playback:  a.gate.Snapshot(),
		Device: DeviceReport{
			ID:        a.act.DeviceID(),
			Activated: a.act.Activated(),
			Required:  a.cfgm.Get().Activation.Required,
		},
		EventsDropped: a.bus.Dropped(),
	}
	for _, s := range a.reg.Schedules() {
		r.Schedules.Total++
		if s.Enabled {
			r.Schedules.Enabled++
		}
		if !s.HasAudio() {
			r.Schedules.Silent++
		}
	}
	r.Schedules.Clips = len(a.reg.Clips())
	if a.sup != nil {
		r.Supervisor = a.sup.Snapshot()
	}
	return r
}
