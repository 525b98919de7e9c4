package bell

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ConfigurationError rejects a malformed schedule at the input boundary.
// Schedules that fail validation never reach the evaluator.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "invalid schedule: " + e.Reason
	}
	return fmt.Sprintf("invalid schedule: %s: %s", e.Field, e.Reason)
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*$`)

// ParseTimeOfDay parses "HH:MM" (or "H:MM") into a TimeOfDay.
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	m := reHHMM.FindStringSubmatch(raw)
	if len(m) != 3 {
		return TimeOfDay{}, &ConfigurationError{Field: "time", Reason: fmt.Sprintf("%q is not HH:MM", raw)}
	}
	var hh int
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	t := TimeOfDay{Hour: hh, Minute: mm}
	if !t.Valid() {
		return TimeOfDay{}, &ConfigurationError{Field: "time", Reason: fmt.Sprintf("%q is outside 00:00..23:59", raw)}
	}
	return t, nil
}

var dayNames = map[string]int{"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6}

// ParseDays reads "daily", "weekdays" (Monday to Saturday) or a comma list
// of weekday numbers 0..6 (0 = Sunday) and three-letter names.
func ParseDays(raw string) (DaySet, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "daily":
		return allDays, nil
	case "weekdays":
		return Weekdays(), nil
	}
	var days []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if n, ok := dayNames[part]; ok {
			days = append(days, n)
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return 0, &ConfigurationError{Field: "days", Reason: fmt.Sprintf("%q is not a weekday", part)}
		}
		days = append(days, n)
	}
	if len(days) == 0 {
		return 0, &ConfigurationError{Field: "days", Reason: "no weekday given"}
	}
	return DaySetFromInts(days)
}

// Validate checks the schedule invariants.
func (s Schedule) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return &ConfigurationError{Field: "id", Reason: "required"}
	}
	if !s.Time.Valid() {
		return &ConfigurationError{Field: "time", Reason: fmt.Sprintf("%d:%d is outside 00:00..23:59", s.Time.Hour, s.Time.Minute)}
	}
	if s.Days&^allDays != 0 {
		return &ConfigurationError{Field: "days", Reason: "contains values outside 0..6"}
	}
	if s.RepeatInterval < 0 {
		return &ConfigurationError{Field: "repeat_interval", Reason: "must be >= 0"}
	}
	return nil
}
