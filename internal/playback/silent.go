package playback

import (
	"context"
	"sync"
	"time"

	"schoolbell/internal/bell"
)

// SilentPlayer pretends to play each clip for Duration. It is used on hosts
// without an audio device and in tests.
type SilentPlayer struct {
	Duration time.Duration
}

func (p SilentPlayer) Play(ctx context.Context, clip bell.AudioClip) (Handle, error) {
	d := p.Duration
	if d <= 0 {
		d = 5 * time.Second
	}
	h := &timerHandle{done: make(chan struct{})}
	h.timer = time.AfterFunc(d, h.close)
	return h, nil
}

type timerHandle struct {
	timer *time.Timer
	done  chan struct{}
	once  sync.Once
}

func (h *timerHandle) close()                { h.once.Do(func() { close(h.done) }) }
func (h *timerHandle) Done() <-chan struct{} { return h.done }
func (h *timerHandle) Err() error            { return nil }

func (h *timerHandle) Stop() error {
	h.timer.Stop()
	h.close()
	return nil
}
