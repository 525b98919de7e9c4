package bell

// DefaultSchedules is the school-day set seeded into an empty store.
// None has audio assigned yet.
func DefaultSchedules() []Schedule {
	days := Weekdays()
	mk := func(id string, h, m int, label string) Schedule {
		return Schedule{ID: id, Time: TimeOfDay{Hour: h, Minute: m}, Label: label, Enabled: true, Days: days}
	}
	return []Schedule{
		mk("entry", 7, 20, "School entry"),
		mk("hour-8", 8, 0, "Period 1"),
		mk("hour-9", 9, 0, "Period 2"),
		mk("break-1", 10, 0, "Break 1"),
		mk("entry-2", 10, 15, "Back to class"),
		mk("hour-11", 11, 0, "Period 3"),
		mk("hour-12", 12, 0, "Period 4 / Break 2"),
		mk("home", 14, 0, "Home time"),
	}
}
