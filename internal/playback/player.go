// Package playback owns the single audio output: which schedule is sounding,
// who started it, and how it is torn down.
package playback

import (
	"context"
	"errors"
	"fmt"

	"schoolbell/internal/bell"
)

// ErrNoAudio means the schedule has no playable clip. It is never fatal.
var ErrNoAudio = errors.New("no audio assigned")

// PlaybackError reports that the player failed for a schedule.
type PlaybackError struct {
	ScheduleID string
	Err        error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback %s: %v", e.ScheduleID, e.Err)
}

func (e *PlaybackError) Unwrap() error { return e.Err }

// Player starts audio. It must return promptly; the audio runs until the
// Handle completes or is stopped.
type Player interface {
	Play(ctx context.Context, clip bell.AudioClip) (Handle, error)
}

// Handle is one running playback.
//
// Done closes when playback ends for any reason. Err is valid after Done and
// is nil for natural completion or Stop. Stop releases every resource before
// returning and is idempotent.
type Handle interface {
	Done() <-chan struct{}
	Err() error
	Stop() error
}

// ClipSource loads clip bytes. A missing clip is reported with
// bell.ErrUnknownClip.
type ClipSource interface {
	Clip(ctx context.Context, id string) (bell.AudioClip, error)
}
