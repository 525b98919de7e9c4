package bell

import "time"

// Evaluate returns the triggers that fire exactly at now.
//
// A schedule fires when it is enabled, active on now's weekday, and either:
//   - the wall clock reads its base HH:MM:00, or
//   - it repeats, now is on a :00 second, and the whole minutes elapsed since
//     today's base time are a positive multiple of the interval.
//
// Only exact second matches fire; a caller that skipped the matching second
// gets nothing back for it. Sub-second precision of now is ignored.
func Evaluate(now time.Time, schedules []Schedule) []Trigger {
	now = wholeSecond(now)
	var out []Trigger
	for _, s := range schedules {
		if !s.ActiveOn(now) {
			continue
		}
		if t, ok := match(now, s); ok {
			out = append(out, t)
		}
	}
	return out
}

func match(now time.Time, s Schedule) (Trigger, bool) {
	if now.Second() != 0 {
		return Trigger{}, false
	}
	if now.Hour() == s.Time.Hour && now.Minute() == s.Time.Minute {
		return Trigger{Schedule: s, At: now}, true
	}
	if !s.Repeats() {
		return Trigger{}, false
	}
	// diff == 0 is the base instant, already handled above.
	diff := elapsedMinutes(now, s.Time.On(now))
	if diff > 0 && diff%int64(s.RepeatInterval) == 0 {
		return Trigger{Schedule: s, At: now, Repeat: true}, true
	}
	return Trigger{}, false
}

// elapsedMinutes is floor(seconds(now-base) / 60), flooring toward -inf.
func elapsedMinutes(now, base time.Time) int64 {
	secs := int64(now.Sub(base) / time.Second)
	q := secs / 60
	if secs%60 != 0 && secs < 0 {
		q--
	}
	return q
}

func wholeSecond(t time.Time) time.Time {
	return t.Add(-time.Duration(t.Nanosecond()))
}
