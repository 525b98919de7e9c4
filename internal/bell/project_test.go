package bell

import (
	"testing"
	"time"
)

func TestProjectPicksEarliestAndAdvances(t *testing.T) {
	t.Parallel()
	schedules := []Schedule{
		sched("later", 9, 5, 0),
		sched("sooner", 9, 0, 0),
	}

	next, ok := Project(monday(8, 30, 0), schedules)
	if !ok || next.Schedule.ID != "sooner" || !next.FireTime.Equal(monday(9, 0, 0)) {
		t.Fatalf("at 08:30 got %+v ok=%v, want sooner@09:00", next, ok)
	}

	// At the base second itself the bell is no longer "upcoming".
	next, ok = Project(monday(9, 0, 0), schedules)
	if !ok || next.Schedule.ID != "later" {
		t.Fatalf("at 09:00 got %+v ok=%v, want later", next, ok)
	}
}

func TestProjectRepeatCandidate(t *testing.T) {
	t.Parallel()
	s := sched("hour-8", 8, 0, 15)

	tests := []struct {
		name   string
		now    time.Time
		want   time.Time
		repeat bool
	}{
		{name: "before base", now: monday(7, 0, 0), want: monday(8, 0, 0), repeat: false},
		{name: "just after base", now: monday(8, 0, 1), want: monday(8, 15, 0), repeat: true},
		{name: "on a repeat", now: monday(8, 15, 0), want: monday(8, 30, 0), repeat: true},
		{name: "between repeats", now: monday(10, 7, 0), want: monday(10, 15, 0), repeat: true},
		{name: "last of the day", now: monday(23, 30, 0), want: monday(23, 45, 0), repeat: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			next, ok := Project(tt.now, []Schedule{s})
			if !ok {
				t.Fatalf("no next bell")
			}
			if !next.FireTime.Equal(tt.want) || next.Repeat != tt.repeat {
				t.Fatalf("got %s repeat=%v, want %s repeat=%v", next.FireTime.Format(time.TimeOnly), next.Repeat, tt.want.Format(time.TimeOnly), tt.repeat)
			}
		})
	}
}

func TestProjectNothingLeftToday(t *testing.T) {
	t.Parallel()
	schedules := []Schedule{sched("hour-8", 8, 0, 15), sched("home", 14, 0, 0)}
	if next, ok := Project(monday(23, 50, 0), schedules); ok {
		t.Fatalf("expected no more bells, got %+v", next)
	}
}

func TestProjectTieKeepsInputOrder(t *testing.T) {
	t.Parallel()
	schedules := []Schedule{sched("first", 9, 0, 0), sched("second", 9, 0, 0)}
	next, ok := Project(monday(8, 0, 0), schedules)
	if !ok || next.Schedule.ID != "first" {
		t.Fatalf("tie broke to %q, want first", next.Schedule.ID)
	}
}

func TestProjectExcludesDisabledAndOtherDays(t *testing.T) {
	t.Parallel()
	off := sched("off", 9, 0, 0)
	off.Enabled = false
	sundayOnly := sched("sunday", 9, 30, 0)
	sundayOnly.Days = NewDaySet(time.Sunday)
	on := sched("on", 10, 0, 0)

	next, ok := Project(monday(8, 0, 0), []Schedule{off, sundayOnly, on})
	if !ok || next.Schedule.ID != "on" {
		t.Fatalf("got %+v ok=%v, want on", next, ok)
	}
}

func TestProjectIncludesSilentSchedules(t *testing.T) {
	t.Parallel()
	s := sched("silent", 9, 0, 0)
	s.AudioID = ""
	if _, ok := Project(monday(8, 0, 0), []Schedule{s}); !ok {
		t.Fatalf("silent schedule should still be projected")
	}
}

func TestNextBellLabel(t *testing.T) {
	t.Parallel()
	n := NextBell{Schedule: Schedule{Label: "Period 1"}, Repeat: true}
	if n.Label() != "Period 1 (repeat)" {
		t.Fatalf("label = %q", n.Label())
	}
}
