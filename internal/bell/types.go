package bell

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock hour and minute (24h).
// JSON form is "HH:MM".
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// Valid reports whether t is a real 24h clock value.
func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

// On returns the instant at t:00 on now's calendar date, in now's location.
func (t TimeOfDay) On(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, now.Location())
}

// Before orders by hour then minute.
func (t TimeOfDay) Before(o TimeOfDay) bool {
	if t.Hour != o.Hour {
		return t.Hour < o.Hour
	}
	return t.Minute < o.Minute
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// DaySet is a set of weekdays stored as a bitmask (bit 0 = Sunday).
type DaySet uint8

const allDays DaySet = 1<<7 - 1

// Weekdays returns the Monday..Saturday school week.
func Weekdays() DaySet {
	return NewDaySet(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday)
}

func NewDaySet(days ...time.Weekday) DaySet {
	var s DaySet
	for _, d := range days {
		if d >= time.Sunday && d <= time.Saturday {
			s |= 1 << uint(d)
		}
	}
	return s
}

// DaySetFromInts builds a set from 0..6 indexes; out-of-range values are an error.
func DaySetFromInts(days []int) (DaySet, error) {
	var s DaySet
	for _, d := range days {
		if d < 0 || d > 6 {
			return 0, &ConfigurationError{Field: "days", Reason: fmt.Sprintf("weekday %d out of range 0..6", d)}
		}
		s |= 1 << uint(d)
	}
	return s, nil
}

func (s DaySet) Has(d time.Weekday) bool {
	if d < time.Sunday || d > time.Saturday {
		return false
	}
	return s&(1<<uint(d)) != 0
}

func (s DaySet) Empty() bool { return s&allDays == 0 }

// Ints returns the set as sorted weekday indexes.
func (s DaySet) Ints() []int {
	out := make([]int, 0, 7)
	for d := 0; d <= 6; d++ {
		if s&(1<<uint(d)) != 0 {
			out = append(out, d)
		}
	}
	return out
}

func (s DaySet) String() string {
	if s&allDays == allDays {
		return "daily"
	}
	names := make([]string, 0, 7)
	for _, d := range s.Ints() {
		names = append(names, time.Weekday(d).String()[:3])
	}
	return strings.Join(names, ",")
}

func (s DaySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Ints())
}

func (s *DaySet) UnmarshalJSON(b []byte) error {
	var days []int
	if err := json.Unmarshal(b, &days); err != nil {
		return err
	}
	v, err := DaySetFromInts(days)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Schedule is a recurring bell definition.
//
// AudioID is empty when no clip is assigned; such a schedule is still
// evaluated but never produces sound.
type Schedule struct {
	ID             string    `json:"id"`
	Time           TimeOfDay `json:"time"`
	Label          string    `json:"label"`
	AudioID        string    `json:"audio_id,omitempty"`
	Enabled        bool      `json:"enabled"`
	Days           DaySet    `json:"days"`
	RepeatInterval int       `json:"repeat_interval,omitempty"` // minutes; 0 = single fire
}

// HasAudio reports whether a clip is assigned.
func (s Schedule) HasAudio() bool { return strings.TrimSpace(s.AudioID) != "" }

// Repeats reports whether the schedule re-fires after its base time.
func (s Schedule) Repeats() bool { return s.RepeatInterval > 0 }

// ActiveOn reports whether the schedule is enabled and set for now's weekday.
func (s Schedule) ActiveOn(now time.Time) bool {
	return s.Enabled && s.Days.Has(now.Weekday())
}

// AudioClip is an uploaded sound. Clips are immutable once stored.
type AudioClip struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	MIME      string    `json:"mime,omitempty"`
	Data      []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Trigger is one firing of a schedule. It is never persisted.
type Trigger struct {
	Schedule Schedule
	At       time.Time
	Repeat   bool
}

// NextBell is the nearest upcoming firing, for display only.
type NextBell struct {
	Schedule Schedule
	FireTime time.Time
	Repeat   bool
}

// Label returns the display label, marking repeat occurrences.
func (n NextBell) Label() string {
	if n.Repeat {
		return n.Schedule.Label + " (repeat)"
	}
	return n.Schedule.Label
}

// Ordered returns a copy of schedules sorted for display (time, label, id).
// The input slice is never modified.
func Ordered(schedules []Schedule) []Schedule {
	out := make([]Schedule, len(schedules))
	copy(out, schedules)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Time != b.Time {
			return a.Time.Before(b.Time)
		}
		if a.Label != b.Label {
			return a.Label < b.Label
		}
		return a.ID < b.ID
	})
	return out
}

// ErrUnknownClip reports a reference to an audio clip that does not exist.
var ErrUnknownClip = errors.New("unknown audio clip")
