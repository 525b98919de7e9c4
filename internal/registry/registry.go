// Package registry holds the authoritative in-memory working set of schedules
// and keeps it in step with the store.
//
// Every mutation validates, persists, and only then updates memory, all under
// the write lock. A store failure therefore leaves memory untouched.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"schoolbell/internal/bell"
	"schoolbell/internal/storage"
	"schoolbell/pkg/logx"
)

var (
	ErrUnknownSchedule = errors.New("unknown schedule")
	ErrUnknownClip     = bell.ErrUnknownClip
)

// StoreError reports a failed persistence step of a mutation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return "store " + e.Op + ": " + e.Err.Error() }
func (e *StoreError) Unwrap() error { return e.Err }

// Registry is safe for concurrent use.
type Registry struct {
	store storage.Store
	log   logx.Logger
	now   func() time.Time

	mu        sync.RWMutex
	schedules []bell.Schedule
	clips     []bell.AudioClip
}

type Option func(*Registry)

// WithClock overrides the clock used for clip timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func New(store storage.Store, log logx.Logger, opts ...Option) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Registry{store: store, log: log.With(logx.String("comp", "registry")), now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Load reads the store. An empty schedule table is seeded with the default
// school day, one schedule at a time.
func (r *Registry) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	schedules, err := r.store.ListSchedules(ctx)
	if err != nil {
		return &StoreError{Op: "list schedules", Err: err}
	}
	if len(schedules) == 0 {
		for _, s := range bell.DefaultSchedules() {
			err := r.store.PutSchedule(ctx, s)
			if errors.Is(err, storage.ErrReadOnly) {
				// Show what the first writer will seed.
				schedules = bell.DefaultSchedules()
				break
			}
			if err != nil {
				return &StoreError{Op: "seed schedule " + s.ID, Err: err}
			}
			schedules = append(schedules, s)
		}
		r.log.Info("seeded default schedules", logx.Int("count", len(schedules)))
	}
	clips, err := r.store.ListAudioClips(ctx)
	if err != nil {
		return &StoreError{Op: "list clips", Err: err}
	}
	r.schedules = schedules
	r.clips = clips
	r.log.Debug("loaded", logx.Int("schedules", len(schedules)), logx.Int("clips", len(clips)))
	return nil
}

// Schedules returns a copy in canonical (storage) order.
func (r *Registry) Schedules() []bell.Schedule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]bell.Schedule(nil), r.schedules...)
}

// Ordered returns a copy sorted for display.
func (r *Registry) Ordered() []bell.Schedule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return bell.Ordered(r.schedules)
}

func (r *Registry) Get(id string) (bell.Schedule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.indexLocked(id); i >= 0 {
		return r.schedules[i], true
	}
	return bell.Schedule{}, false
}

func (r *Registry) indexLocked(id string) int {
	for i, s := range r.schedules {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// Save validates and upserts s. An empty ID gets a fresh uuid. The saved
// schedule is returned.
func (r *Registry) Save(ctx context.Context, s bell.Schedule) (bell.Schedule, error) {
	s.ID = strings.TrimSpace(s.ID)
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if err := s.Validate(); err != nil {
		return bell.Schedule{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s.HasAudio() && r.clipIndexLocked(s.AudioID) < 0 {
		return bell.Schedule{}, fmt.Errorf("%w: %s", ErrUnknownClip, s.AudioID)
	}
	if err := r.store.PutSchedule(ctx, s); err != nil {
		return bell.Schedule{}, &StoreError{Op: "put schedule", Err: err}
	}
	if i := r.indexLocked(s.ID); i >= 0 {
		r.schedules[i] = s
	} else {
		r.schedules = append(r.schedules, s)
	}
	return s, nil
}

func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSchedule, id)
	}
	if err := r.store.DeleteSchedule(ctx, id); err != nil {
		return &StoreError{Op: "delete schedule", Err: err}
	}
	r.schedules = append(r.schedules[:i:i], r.schedules[i+1:]...)
	return nil
}

// update applies fn to a copy of schedule id and saves the result.
func (r *Registry) update(ctx context.Context, id string, fn func(*bell.Schedule) error) (bell.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(id)
	if i < 0 {
		return bell.Schedule{}, fmt.Errorf("%w: %s", ErrUnknownSchedule, id)
	}
	s := r.schedules[i]
	if err := fn(&s); err != nil {
		return bell.Schedule{}, err
	}
	if err := r.store.PutSchedule(ctx, s); err != nil {
		return bell.Schedule{}, &StoreError{Op: "put schedule", Err: err}
	}
	r.schedules[i] = s
	return s, nil
}

func (r *Registry) SetEnabled(ctx context.Context, id string, enabled bool) (bell.Schedule, error) {
	return r.update(ctx, id, func(s *bell.Schedule) error {
		s.Enabled = enabled
		return nil
	})
}

// Toggle flips Enabled and returns the new state.
func (r *Registry) Toggle(ctx context.Context, id string) (bell.Schedule, error) {
	return r.update(ctx, id, func(s *bell.Schedule) error {
		s.Enabled = !s.Enabled
		return nil
	})
}

// Assign points schedule id at clip clipID. An empty clipID clears it.
func (r *Registry) Assign(ctx context.Context, id, clipID string) (bell.Schedule, error) {
	clipID = strings.TrimSpace(clipID)
	return r.update(ctx, id, func(s *bell.Schedule) error {
		if clipID != "" && r.clipIndexLocked(clipID) < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownClip, clipID)
		}
		s.AudioID = clipID
		return nil
	})
}
