package bell

import "time"

// Project returns the nearest firing strictly after now among the schedules
// active today. Both base times and repeat occurrences are candidates; for a
// repeating schedule only its first occurrence after now is considered.
//
// Ties keep input order. ok is false when no bell remains today.
func Project(now time.Time, schedules []Schedule) (next NextBell, ok bool) {
	consider := func(c NextBell) {
		if !ok || c.FireTime.Before(next.FireTime) {
			next = c
			ok = true
		}
	}
	for _, s := range schedules {
		if !s.ActiveOn(now) {
			continue
		}
		base := s.Time.On(now)
		if base.After(now) {
			consider(NextBell{Schedule: s, FireTime: base})
		}
		if s.Repeats() {
			if at, found := firstRepeatAfter(now, base, s.RepeatInterval); found {
				consider(NextBell{Schedule: s, FireTime: at, Repeat: true})
			}
		}
	}
	return next, ok
}

// firstRepeatAfter returns the first base+k*every (k >= 1) after now that
// still falls on base's calendar day.
func firstRepeatAfter(now, base time.Time, every int) (time.Time, bool) {
	step := time.Duration(every) * time.Minute
	k := int64(1)
	if now.After(base) {
		k = int64(now.Sub(base)/step) + 1
	}
	at := base.Add(time.Duration(k) * step)
	y, m, d := base.Date()
	midnight := time.Date(y, m, d+1, 0, 0, 0, 0, base.Location())
	if !at.Before(midnight) {
		return time.Time{}, false
	}
	return at, true
}
