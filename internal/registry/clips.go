package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"schoolbell/internal/bell"
	"schoolbell/internal/storage"
	"schoolbell/pkg/logx"
)

// Clips returns clip metadata in upload order.
func (r *Registry) Clips() []bell.AudioClip {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]bell.AudioClip(nil), r.clips...)
}

// Clip loads a clip with its bytes from the store.
func (r *Registry) Clip(ctx context.Context, id string) (bell.AudioClip, error) {
	c, err := r.store.GetAudioClip(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return bell.AudioClip{}, fmt.Errorf("%w: %s", ErrUnknownClip, id)
	}
	if err != nil {
		return bell.AudioClip{}, &StoreError{Op: "get clip", Err: err}
	}
	return c, nil
}

func (r *Registry) clipIndexLocked(id string) int {
	for i, c := range r.clips {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// AddClip stores a new clip and returns its metadata.
func (r *Registry) AddClip(ctx context.Context, name, mime string, data []byte) (bell.AudioClip, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "clip"
	}
	if len(data) == 0 {
		return bell.AudioClip{}, errors.New("audio clip is empty")
	}
	c := bell.AudioClip{ID: uuid.NewString(), Name: name, MIME: mime, Data: data, CreatedAt: r.now()}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.PutAudioClip(ctx, c); err != nil {
		return bell.AudioClip{}, &StoreError{Op: "put clip", Err: err}
	}
	c.Data = nil
	r.clips = append(r.clips, c)
	r.log.Info("clip added", logx.String("clip", c.ID), logx.String("name", name), logx.Int("bytes", len(data)))
	return c, nil
}

// DeleteClip removes a clip. Every schedule that used it keeps firing but
// loses its audio. The ids of those schedules are returned.
func (r *Registry) DeleteClip(ctx context.Context, id string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.clipIndexLocked(id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClip, id)
	}
	cleared, err := r.store.DeleteAudioClip(ctx, id)
	if err != nil {
		return nil, &StoreError{Op: "delete clip", Err: err}
	}
	r.clips = append(r.clips[:i:i], r.clips[i+1:]...)

	// Refresh from the store so memory matches the cascade exactly.
	schedules, err := r.store.ListSchedules(ctx)
	if err != nil {
		for j := range r.schedules {
			if r.schedules[j].AudioID == id {
				r.schedules[j].AudioID = ""
			}
		}
		r.log.Warn("reload after clip delete failed", logx.Err(err))
	} else {
		r.schedules = schedules
	}
	r.log.Info("clip deleted", logx.String("clip", id), logx.Strings("cleared", cleared))
	return cleared, nil
}
