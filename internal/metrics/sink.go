// Package metrics records engine and playback counters.
package metrics

import "time"

// Sink is fire-and-forget: implementations must not block or return errors.
type Sink interface {
	TickCompleted(duration time.Duration)
	TickDrift(drift time.Duration)

	BellFired(repeat bool)
	PlaybackStarted(lane string)
	PlaybackSkipped(reason string)
	PlaybackFailed()
	PlaybackActive(active bool)

	SchedulesLoaded(total, enabled int)
}

// Skip reasons for PlaybackSkipped.
const (
	SkipNoAudio   = "no_audio"
	SkipInactive  = "inactive"
	SkipDuplicate = "duplicate"
)

type NoopSink struct{}

func NewNoopSink() *NoopSink { return &NoopSink{} }

func (*NoopSink) TickCompleted(time.Duration) {}
func (*NoopSink) TickDrift(time.Duration)     {}
func (*NoopSink) BellFired(bool)              {}
func (*NoopSink) PlaybackStarted(string)      {}
func (*NoopSink) PlaybackSkipped(string)      {}
func (*NoopSink) PlaybackFailed()             {}
func (*NoopSink) PlaybackActive(bool)         {}
func (*NoopSink) SchedulesLoaded(int, int)    {}
