package eventbus

import "time"

// Event types published by the engine and playback gate.
const (
	TypeTick          = "tick"
	TypeBellFired     = "bell.fired"
	TypeBellNext      = "bell.next"
	TypePlayback      = "playback.state"
	TypePlaybackError = "playback.error"
	TypeSchedules     = "schedules.changed"
)

// BellFired is the payload of TypeBellFired.
type BellFired struct {
	ScheduleID string    `json:"schedule_id"`
	Label      string    `json:"label"`
	At         time.Time `json:"at"`
	Repeat     bool      `json:"repeat"`
	HasAudio   bool      `json:"has_audio"`
}

// BellNext is the payload of TypeBellNext. Zero ScheduleID means no bell
// remains today.
type BellNext struct {
	ScheduleID string    `json:"schedule_id,omitempty"`
	Label      string    `json:"label,omitempty"`
	FireTime   time.Time `json:"fire_time,omitempty"`
	Repeat     bool      `json:"repeat,omitempty"`
}

// PlaybackError is the payload of TypePlaybackError.
type PlaybackError struct {
	ScheduleID string `json:"schedule_id"`
	Error      string `json:"error"`
}
