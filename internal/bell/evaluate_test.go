package bell

import (
	"testing"
	"time"
)

// 2024-01-15 is a Monday.
func monday(h, m, s int) time.Time {
	return time.Date(2024, 1, 15, h, m, s, 0, time.UTC)
}

func sched(id string, h, m, repeat int) Schedule {
	return Schedule{
		ID:             id,
		Time:           TimeOfDay{Hour: h, Minute: m},
		Label:          id,
		AudioID:        "clip-" + id,
		Enabled:        true,
		Days:           Weekdays(),
		RepeatInterval: repeat,
	}
}

// firesOver walks every second from start for n seconds and returns the fire instants.
func firesOver(start time.Time, n int, schedules []Schedule) []Trigger {
	var out []Trigger
	for i := 0; i < n; i++ {
		out = append(out, Evaluate(start.Add(time.Duration(i)*time.Second), schedules)...)
	}
	return out
}

func TestEvaluateSingleFireOncePerDay(t *testing.T) {
	t.Parallel()
	s := sched("hour-8", 8, 0, 0)
	got := firesOver(monday(0, 0, 0), 24*60*60, []Schedule{s})
	if len(got) != 1 {
		t.Fatalf("fires = %d, want 1", len(got))
	}
	if !got[0].At.Equal(monday(8, 0, 0)) {
		t.Fatalf("fired at %s, want 08:00:00", got[0].At.Format(time.TimeOnly))
	}
	if got[0].Repeat {
		t.Fatalf("base fire marked as repeat")
	}
}

func TestEvaluateRepeatStopsAtEndOfDay(t *testing.T) {
	t.Parallel()
	s := sched("hour-8", 8, 0, 15)
	// Monday 00:00:00 through Tuesday 07:59:59.
	got := firesOver(monday(0, 0, 0), 32*60*60, []Schedule{s})

	want := (23*60 + 45 - 8*60) / 15 // repeats from 08:15 to 23:45
	want++                           // plus the base fire
	if len(got) != want {
		t.Fatalf("fires = %d, want %d", len(got), want)
	}
	for i, tr := range got {
		exp := monday(8, 0, 0).Add(time.Duration(i*15) * time.Minute)
		if !tr.At.Equal(exp) {
			t.Fatalf("fire %d at %s, want %s", i, tr.At, exp)
		}
		if (i == 0) == tr.Repeat {
			t.Fatalf("fire %d: repeat=%v", i, tr.Repeat)
		}
	}
	last := got[len(got)-1].At
	if last.Day() != 15 || last.Hour() != 23 || last.Minute() != 45 {
		t.Fatalf("last fire = %s, want Monday 23:45", last)
	}
}

func TestEvaluateBaseMinuteNeverDoubleFires(t *testing.T) {
	t.Parallel()
	s := sched("hour-8", 8, 0, 1)
	got := Evaluate(monday(8, 0, 0), []Schedule{s})
	if len(got) != 1 {
		t.Fatalf("triggers at base = %d, want 1", len(got))
	}
	if got[0].Repeat {
		t.Fatalf("base instant reported as repeat")
	}
	for sec := 1; sec < 60; sec++ {
		if tr := Evaluate(monday(8, 0, sec), []Schedule{s}); len(tr) != 0 {
			t.Fatalf("fired again at 08:00:%02d", sec)
		}
	}
	if tr := Evaluate(monday(8, 1, 0), []Schedule{s}); len(tr) != 1 || !tr[0].Repeat {
		t.Fatalf("expected one repeat at 08:01:00, got %+v", tr)
	}
}

func TestEvaluateNeverIncludesDisabled(t *testing.T) {
	t.Parallel()
	s := sched("off", 8, 0, 5)
	s.Enabled = false
	if got := firesOver(monday(0, 0, 0), 24*60*60, []Schedule{s}); len(got) != 0 {
		t.Fatalf("disabled schedule fired %d times", len(got))
	}
}

func TestEvaluateSkipsInactiveWeekday(t *testing.T) {
	t.Parallel()
	s := sched("hour-8", 8, 0, 0)
	sunday := time.Date(2024, 1, 14, 8, 0, 0, 0, time.UTC)
	if got := Evaluate(sunday, []Schedule{s}); len(got) != 0 {
		t.Fatalf("fired on Sunday: %+v", got)
	}
}

func TestEvaluateIgnoresSubSecond(t *testing.T) {
	t.Parallel()
	s := sched("hour-8", 8, 0, 0)
	now := monday(8, 0, 0).Add(750 * time.Millisecond)
	if got := Evaluate(now, []Schedule{s}); len(got) != 1 {
		t.Fatalf("expected a fire within the matching second, got %d", len(got))
	}
}

func TestEvaluateSilentScheduleStillScanned(t *testing.T) {
	t.Parallel()
	s := sched("silent", 8, 0, 0)
	s.AudioID = ""
	got := Evaluate(monday(8, 0, 0), []Schedule{s})
	if len(got) != 1 || got[0].Schedule.HasAudio() {
		t.Fatalf("expected silent schedule in evaluate output, got %+v", got)
	}
}

func TestEvaluateSchoolMorning(t *testing.T) {
	t.Parallel()
	schedules := []Schedule{
		sched("entry", 7, 20, 0),
		sched("hour-8", 8, 0, 15),
	}

	got := Evaluate(monday(8, 15, 0), schedules)
	if len(got) != 1 || got[0].Schedule.ID != "hour-8" {
		t.Fatalf("08:15:00 fired %+v, want hour-8 only", got)
	}
	if got := Evaluate(monday(8, 1, 0), schedules); len(got) != 0 {
		t.Fatalf("08:01:00 fired %+v, want nothing", got)
	}
}

func TestElapsedMinutesFloorsNegative(t *testing.T) {
	t.Parallel()
	base := monday(8, 0, 0)
	tests := []struct {
		now  time.Time
		want int64
	}{
		{monday(8, 0, 0), 0},
		{monday(8, 0, 59), 0},
		{monday(8, 1, 0), 1},
		{monday(7, 59, 30), -1},
		{monday(7, 59, 0), -1},
		{monday(7, 58, 59), -2},
	}
	for _, tt := range tests {
		if got := elapsedMinutes(tt.now, base); got != tt.want {
			t.Errorf("elapsedMinutes(%s) = %d, want %d", tt.now.Format(time.TimeOnly), got, tt.want)
		}
	}
}
