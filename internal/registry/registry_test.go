package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"schoolbell/internal/bell"
	"schoolbell/internal/storage"
	"schoolbell/pkg/logx"
)

// flakyStore fails PutSchedule while failPut is set.
type flakyStore struct {
	storage.Store
	failPut bool
}

var errDisk = errors.New("disk full")

func (f *flakyStore) PutSchedule(ctx context.Context, s bell.Schedule) error {
	if f.failPut {
		return errDisk
	}
	return f.Store.PutSchedule(ctx, s)
}

func newLoaded(t *testing.T, st storage.Store) *Registry {
	t.Helper()
	r := New(st, logx.Nop())
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return r
}

func TestLoadSeedsDefaultsOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	r := newLoaded(t, st)

	if got := len(r.Schedules()); got != len(bell.DefaultSchedules()) {
		t.Fatalf("schedules = %d", got)
	}
	persisted, _ := st.ListSchedules(ctx)
	if len(persisted) != len(bell.DefaultSchedules()) {
		t.Fatalf("persisted = %d", len(persisted))
	}

	// A second load over a populated store does not seed again.
	if _, err := r.Toggle(ctx, "entry"); err != nil {
		t.Fatal(err)
	}
	r2 := newLoaded(t, st)
	s, _ := r2.Get("entry")
	if s.Enabled {
		t.Fatal("reload re-seeded over stored state")
	}
}

type readOnlyStore struct{ storage.Store }

func (readOnlyStore) PutSchedule(context.Context, bell.Schedule) error { return storage.ErrReadOnly }

func TestLoadReadOnlyEmptyStoreShowsDefaults(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	r := newLoaded(t, readOnlyStore{st})
	if got := len(r.Schedules()); got != len(bell.DefaultSchedules()) {
		t.Fatalf("schedules = %d", got)
	}
	if persisted, _ := st.ListSchedules(context.Background()); len(persisted) != 0 {
		t.Fatalf("read-only load persisted %d schedules", len(persisted))
	}
}

func TestSaveAssignsIDAndValidates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newLoaded(t, storage.NewMemory())

	s, err := r.Save(ctx, bell.Schedule{Time: bell.TimeOfDay{Hour: 15, Minute: 30}, Label: "Club", Enabled: true, Days: bell.Weekdays()})
	if err != nil {
		t.Fatal(err)
	}
	if s.ID == "" {
		t.Fatal("no id assigned")
	}
	if _, ok := r.Get(s.ID); !ok {
		t.Fatal("saved schedule missing from memory")
	}

	_, err = r.Save(ctx, bell.Schedule{ID: "bad", Time: bell.TimeOfDay{Hour: 30}})
	var ce *bell.ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConfigurationError", err)
	}

	_, err = r.Save(ctx, bell.Schedule{ID: "x", Time: bell.TimeOfDay{Hour: 8}, AudioID: "nope"})
	if !errors.Is(err, ErrUnknownClip) {
		t.Fatalf("err = %v, want ErrUnknownClip", err)
	}
}

func TestStoreFailureLeavesMemoryUnchanged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := &flakyStore{Store: storage.NewMemory()}
	r := newLoaded(t, st)

	before, _ := r.Get("hour-8")
	st.failPut = true
	_, err := r.Toggle(ctx, "hour-8")
	var se *StoreError
	if !errors.As(err, &se) || !errors.Is(err, errDisk) {
		t.Fatalf("err = %v, want StoreError wrapping errDisk", err)
	}
	after, _ := r.Get("hour-8")
	if after.Enabled != before.Enabled {
		t.Fatal("memory changed although the store rejected the write")
	}
}

func TestOrderedIsACopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newLoaded(t, storage.NewMemory())
	if _, err := r.Save(ctx, bell.Schedule{ID: "early", Time: bell.TimeOfDay{Hour: 6}, Label: "Early", Days: bell.Weekdays()}); err != nil {
		t.Fatal(err)
	}

	ordered := r.Ordered()
	if ordered[0].ID != "early" {
		t.Fatalf("ordered[0] = %s", ordered[0].ID)
	}
	ordered[0].Label = "mutated"
	canonical := r.Schedules()
	if canonical[0].ID != "entry" || canonical[len(canonical)-1].ID != "early" {
		t.Fatalf("canonical order changed: first=%s last=%s", canonical[0].ID, canonical[len(canonical)-1].ID)
	}
	if s, _ := r.Get("early"); s.Label != "Early" {
		t.Fatal("Ordered exposed internal state")
	}
}

func TestDeleteClipCascadeKeepsScheduleFiring(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 7, 0, 0, 0, time.UTC)
	r := New(storage.NewMemory(), logx.Nop(), WithClock(func() time.Time { return now }))
	if err := r.Load(ctx); err != nil {
		t.Fatal(err)
	}

	clip, err := r.AddClip(ctx, "bell.mp3", "audio/mpeg", []byte("xyz"))
	if err != nil {
		t.Fatal(err)
	}
	if !clip.CreatedAt.Equal(now) || clip.Data != nil {
		t.Fatalf("clip meta = %+v", clip)
	}
	if _, err := r.Assign(ctx, "hour-8", clip.ID); err != nil {
		t.Fatal(err)
	}
	full, err := r.Clip(ctx, clip.ID)
	if err != nil || string(full.Data) != "xyz" {
		t.Fatalf("clip = %+v, %v", full, err)
	}

	cleared, err := r.DeleteClip(ctx, clip.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(cleared) != 1 || cleared[0] != "hour-8" {
		t.Fatalf("cleared = %v", cleared)
	}
	s, _ := r.Get("hour-8")
	if s.AudioID != "" {
		t.Fatalf("audio id = %q, want empty", s.AudioID)
	}

	// The schedule still reaches the evaluator; it just has nothing to play.
	fire := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	triggers := bell.Evaluate(fire, r.Schedules())
	if len(triggers) != 1 || triggers[0].Schedule.ID != "hour-8" || triggers[0].Schedule.HasAudio() {
		t.Fatalf("triggers = %+v", triggers)
	}
	if len(r.Clips()) != 0 {
		t.Fatal("clip still listed")
	}
}

func TestAssignAndDeleteUnknown(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newLoaded(t, storage.NewMemory())
	if _, err := r.Assign(ctx, "hour-8", "missing"); !errors.Is(err, ErrUnknownClip) {
		t.Fatalf("assign err = %v", err)
	}
	if _, err := r.Assign(ctx, "nope", ""); !errors.Is(err, ErrUnknownSchedule) {
		t.Fatalf("assign err = %v", err)
	}
	if err := r.Delete(ctx, "nope"); !errors.Is(err, ErrUnknownSchedule) {
		t.Fatalf("delete err = %v", err)
	}
	if err := r.Delete(ctx, "home"); err != nil {
		t.Fatal(err)
	}
	if _, ok := r.Get("home"); ok {
		t.Fatal("deleted schedule still present")
	}
	if _, err := r.DeleteClip(ctx, "missing"); !errors.Is(err, ErrUnknownClip) {
		t.Fatalf("delete clip err = %v", err)
	}
}
