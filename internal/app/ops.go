package app

import (
	"context"
	"errors"

	"schoolbell/internal/bell"
	"schoolbell/internal/eventbus"
	"schoolbell/internal/metrics"
	"schoolbell/internal/playback"
	"schoolbell/internal/registry"
)

// scheduleOps publishes schedules.changed after each successful operator
// mutation.
type scheduleOps struct {
	*registry.Registry
	bus eventbus.Bus
}

func (o scheduleOps) changed(what, id string, err error) {
	if err != nil {
		return
	}
	o.bus.Publish(eventbus.Event{Type: eventbus.TypeSchedules, Data: map[string]string{"op": what, "id": id}})
}

func (o scheduleOps) Save(ctx context.Context, s bell.Schedule) (bell.Schedule, error) {
	saved, err := o.Registry.Save(ctx, s)
	o.changed("save", saved.ID, err)
	return saved, err
}

func (o scheduleOps) Delete(ctx context.Context, id string) error {
	err := o.Registry.Delete(ctx, id)
	o.changed("delete", id, err)
	return err
}

func (o scheduleOps) Toggle(ctx context.Context, id string) (bell.Schedule, error) {
	s, err := o.Registry.Toggle(ctx, id)
	o.changed("toggle", id, err)
	return s, err
}

func (o scheduleOps) Assign(ctx context.Context, id, clipID string) (bell.Schedule, error) {
	s, err := o.Registry.Assign(ctx, id, clipID)
	o.changed("assign", id, err)
	return s, err
}

func (o scheduleOps) AddClip(ctx context.Context, name, mime string, data []byte) (bell.AudioClip, error) {
	c, err := o.Registry.AddClip(ctx, name, mime, data)
	o.changed("add_clip", c.ID, err)
	return c, err
}

func (o scheduleOps) DeleteClip(ctx context.Context, id string) ([]string, error) {
	cleared, err := o.Registry.DeleteClip(ctx, id)
	o.changed("delete_clip", id, err)
	return cleared, err
}

// manualPlayer counts operator-started playback the way the engine counts
// scheduled playback.
type manualPlayer struct {
	*playback.Gate
	sink metrics.Sink
}

func (m manualPlayer) Manual(ctx context.Context, s bell.Schedule) (playback.ManualState, error) {
	st, err := m.Gate.Manual(ctx, s)
	switch {
	case err == nil:
		if st.Playing {
			m.sink.PlaybackStarted(string(playback.LaneManual))
		}
	case errors.Is(err, playback.ErrNoAudio):
		m.sink.PlaybackSkipped(metrics.SkipNoAudio)
	default:
		m.sink.PlaybackFailed()
	}
	return st, err
}
