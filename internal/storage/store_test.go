package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"

	"schoolbell/internal/bell"
	"schoolbell/pkg/logx"
)

type driverCase struct {
	name string
	open func(t *testing.T) Store
}

func drivers() []driverCase {
	return []driverCase{
		{name: "memory", open: func(t *testing.T) Store { return NewMemory() }},
		{name: "file", open: func(t *testing.T) Store {
			st, err := OpenFile(afero.NewMemMapFs(), "/data/bells.json", logx.Nop())
			if err != nil {
				t.Fatalf("open file store: %v", err)
			}
			return st
		}},
		{name: "sqlite", open: func(t *testing.T) Store {
			st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bells.db")}, logx.Nop())
			if err != nil {
				t.Fatalf("open sqlite store: %v", err)
			}
			return st
		}},
	}
}

func schedule(id string, h, m int, audio string) bell.Schedule {
	return bell.Schedule{
		ID: id, Time: bell.TimeOfDay{Hour: h, Minute: m}, Label: id,
		AudioID: audio, Enabled: true, Days: bell.Weekdays(),
	}
}

func TestStoreContract(t *testing.T) {
	t.Parallel()
	for _, d := range drivers() {
		d := d
		t.Run(d.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := d.open(t)
			defer st.Close()

			// Insertion order is kept; an update keeps the position.
			for _, s := range []bell.Schedule{schedule("b", 9, 0, ""), schedule("a", 8, 0, ""), schedule("c", 10, 0, "")} {
				if err := st.PutSchedule(ctx, s); err != nil {
					t.Fatalf("put: %v", err)
				}
			}
			upd := schedule("b", 9, 30, "")
			upd.RepeatInterval = 15
			if err := st.PutSchedule(ctx, upd); err != nil {
				t.Fatal(err)
			}
			got, err := st.ListSchedules(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 3 || got[0].ID != "b" || got[1].ID != "a" || got[2].ID != "c" {
				t.Fatalf("order = %v", ids(got))
			}
			if got[0].Time != (bell.TimeOfDay{Hour: 9, Minute: 30}) || got[0].RepeatInterval != 15 || got[0].Days != bell.Weekdays() {
				t.Fatalf("update not stored: %+v", got[0])
			}

			if err := st.DeleteSchedule(ctx, "a"); err != nil {
				t.Fatal(err)
			}
			if err := st.DeleteSchedule(ctx, "a"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("second delete err = %v, want ErrNotFound", err)
			}

			v, ok, err := st.GetSetting(ctx, KeyDeviceID)
			if err != nil || ok || v != "" {
				t.Fatalf("missing setting = %q %v %v", v, ok, err)
			}
			if err := st.PutSetting(ctx, KeyDeviceID, "ABCD1234"); err != nil {
				t.Fatal(err)
			}
			if v, ok, _ := st.GetSetting(ctx, KeyDeviceID); !ok || v != "ABCD1234" {
				t.Fatalf("setting = %q %v", v, ok)
			}
		})
	}
}

func TestStoreClipDeleteCascades(t *testing.T) {
	t.Parallel()
	for _, d := range drivers() {
		d := d
		t.Run(d.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := d.open(t)
			defer st.Close()

			clip := bell.AudioClip{ID: "clip-1", Name: "bell.mp3", MIME: "audio/mpeg", Data: []byte("ID3..."), CreatedAt: time.Now()}
			if err := st.PutAudioClip(ctx, clip); err != nil {
				t.Fatal(err)
			}
			for _, s := range []bell.Schedule{schedule("s1", 8, 0, "clip-1"), schedule("s2", 9, 0, "other"), schedule("s3", 10, 0, "clip-1")} {
				if err := st.PutSchedule(ctx, s); err != nil {
					t.Fatal(err)
				}
			}

			meta, err := st.ListAudioClips(ctx)
			if err != nil || len(meta) != 1 || meta[0].Data != nil {
				t.Fatalf("list clips = %+v, %v", meta, err)
			}
			full, err := st.GetAudioClip(ctx, "clip-1")
			if err != nil || string(full.Data) != "ID3..." || full.Name != "bell.mp3" {
				t.Fatalf("get clip = %+v, %v", full, err)
			}

			cleared, err := st.DeleteAudioClip(ctx, "clip-1")
			if err != nil {
				t.Fatal(err)
			}
			if len(cleared) != 2 || cleared[0] != "s1" || cleared[1] != "s3" {
				t.Fatalf("cleared = %v", cleared)
			}
			got, _ := st.ListSchedules(ctx)
			for _, s := range got {
				if s.AudioID == "clip-1" {
					t.Fatalf("schedule %s still references deleted clip", s.ID)
				}
			}
			if got[1].AudioID != "other" {
				t.Fatalf("unrelated reference cleared: %+v", got[1])
			}
			if _, err := st.GetAudioClip(ctx, "clip-1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("get deleted clip err = %v", err)
			}
			if _, err := st.DeleteAudioClip(ctx, "clip-1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("delete missing clip err = %v", err)
			}
		})
	}
}

func TestStoreAuditNewestFirst(t *testing.T) {
	t.Parallel()
	for _, d := range drivers() {
		d := d
		t.Run(d.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := d.open(t)
			defer st.Close()

			base := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
			for i, action := range []string{"toggle", "ring", "assign"} {
				e := AuditEntry{At: base.Add(time.Duration(i) * time.Minute), Actor: "cli", Action: action, OK: true}
				if err := st.AppendAudit(ctx, e); err != nil {
					t.Fatal(err)
				}
			}
			got, err := st.ListAudit(ctx, 2)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 2 || got[0].Action != "assign" || got[1].Action != "ring" {
				t.Fatalf("audit = %+v", got)
			}
		})
	}
}

func TestClosedStoreRejects(t *testing.T) {
	t.Parallel()
	for _, d := range drivers() {
		d := d
		t.Run(d.name, func(t *testing.T) {
			t.Parallel()
			st := d.open(t)
			_ = st.Close()
			if _, err := st.ListSchedules(context.Background()); !errors.Is(err, ErrClosed) {
				t.Fatalf("err = %v, want ErrClosed", err)
			}
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs := afero.NewMemMapFs()

	st, err := OpenFile(fs, "/var/lib/schoolbell/bells.json", logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	_ = st.PutSchedule(ctx, schedule("entry", 7, 20, "clip-1"))
	_ = st.PutAudioClip(ctx, bell.AudioClip{ID: "clip-1", Name: "a.ogg", Data: []byte{1, 2, 3}})
	_ = st.PutSetting(ctx, KeyActivated, "true")
	_ = st.Close()

	if ok, _ := afero.Exists(fs, "/var/lib/schoolbell/bells.audio/clip-1"); !ok {
		t.Fatal("clip bytes not written")
	}

	st, err = OpenFile(fs, "/var/lib/schoolbell/bells.json", logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	got, _ := st.ListSchedules(ctx)
	if len(got) != 1 || got[0].AudioID != "clip-1" {
		t.Fatalf("schedules after reopen = %+v", got)
	}
	c, err := st.GetAudioClip(ctx, "clip-1")
	if err != nil || len(c.Data) != 3 {
		t.Fatalf("clip after reopen = %+v, %v", c, err)
	}
	if v, ok, _ := st.GetSetting(ctx, KeyActivated); !ok || v != "true" {
		t.Fatalf("setting after reopen = %q %v", v, ok)
	}
}

func TestFileStoreFailedWriteKeepsMemory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base := afero.NewMemMapFs()
	st, err := OpenFile(base, "/data/bells.json", logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.PutSchedule(ctx, schedule("a", 8, 0, "")); err != nil {
		t.Fatal(err)
	}

	// Swap the filesystem for a read-only view so the next snapshot fails.
	st.(*fileStore).fs = afero.NewReadOnlyFs(base)
	if err := st.PutSchedule(ctx, schedule("b", 9, 0, "")); err == nil {
		t.Fatal("expected write to fail on read-only fs")
	}
	got, _ := st.ListSchedules(ctx)
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("memory diverged from disk: %v", ids(got))
	}
}

// A second writer on the same path must be refused. Otherwise its stale
// snapshot overwrites whatever the first writer stored.
func TestFileStoreSingleWriter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs := afero.NewMemMapFs()

	cli, err := OpenFile(fs, "/data/bells.json", logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := OpenFile(fs, "/data/bells.json", logx.Nop()); !errors.Is(err, ErrLocked) {
		t.Fatalf("second open err = %v, want ErrLocked", err)
	}
	if err := cli.PutSchedule(ctx, schedule("entry", 7, 20, "")); err != nil {
		t.Fatal(err)
	}
	if err := cli.Close(); err != nil {
		t.Fatal(err)
	}
	if err := cli.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	daemon, err := OpenFile(fs, "/data/bells.json", logx.Nop())
	if err != nil {
		t.Fatalf("open after close: %v", err)
	}
	defer daemon.Close()
	if err := daemon.PutSetting(ctx, KeyActivated, "true"); err != nil {
		t.Fatal(err)
	}
	got, _ := daemon.ListSchedules(ctx)
	if len(got) != 1 || got[0].ID != "entry" {
		t.Fatalf("schedule lost after setting write: %v", ids(got))
	}
}

func TestFileStoreReadOnlyWhileLocked(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs := afero.NewMemMapFs()

	daemon, err := OpenFile(fs, "/data/bells.json", logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer daemon.Close()
	if err := daemon.PutSchedule(ctx, schedule("entry", 7, 20, "")); err != nil {
		t.Fatal(err)
	}

	view, err := openFile(fs, "/data/bells.json", logx.Nop(), true)
	if err != nil {
		t.Fatalf("read-only open: %v", err)
	}
	defer view.Close()
	got, err := view.ListSchedules(ctx)
	if err != nil || len(got) != 1 {
		t.Fatalf("read-only list = %v, %v", ids(got), err)
	}
	if err := view.PutSchedule(ctx, schedule("late", 9, 0, "")); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("read-only put err = %v, want ErrReadOnly", err)
	}
	if err := view.PutSetting(ctx, KeyActivated, "true"); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("read-only setting err = %v, want ErrReadOnly", err)
	}

	// Closing the view must not release the writer's lock.
	_ = view.Close()
	if _, err := OpenFile(fs, "/data/bells.json", logx.Nop()); !errors.Is(err, ErrLocked) {
		t.Fatalf("open after view close err = %v, want ErrLocked", err)
	}
}

func TestOpenOnDiskSingleWriter(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for _, driver := range []string{"file", "sqlite"} {
		cfg := Config{Driver: driver, Path: filepath.Join(dir, driver, "bells.db")}
		first, err := Open(cfg, logx.Nop())
		if err != nil {
			t.Fatalf("%s: %v", driver, err)
		}
		if _, err := Open(cfg, logx.Nop()); !errors.Is(err, ErrLocked) {
			t.Fatalf("%s: second open err = %v, want ErrLocked", driver, err)
		}
		cfg.ReadOnly = true
		view, err := Open(cfg, logx.Nop())
		if err != nil {
			t.Fatalf("%s: read-only open: %v", driver, err)
		}
		if _, err := view.ListSchedules(context.Background()); err != nil {
			t.Fatalf("%s: read-only list: %v", driver, err)
		}
		_ = view.Close()
		_ = first.Close()

		cfg.ReadOnly = false
		again, err := Open(cfg, logx.Nop())
		if err != nil {
			t.Fatalf("%s: reopen after close: %v", driver, err)
		}
		_ = again.Close()
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected unknown driver error")
	}
}

func ids(in []bell.Schedule) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = s.ID
	}
	return out
}
