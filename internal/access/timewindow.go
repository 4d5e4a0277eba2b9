package access

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// ParseClock converts HH:MM to minutes since midnight.
func ParseClock(v string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(v), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time format: %q", v)
	}
	hours, err := strconv.Atoi(h)
	if err != nil || hours < 0 || hours > 23 {
		return 0, fmt.Errorf("invalid time format: %q", v)
	}
	minutes, err := strconv.Atoi(m)
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("invalid time format: %q", v)
	}
	return hours*60 + minutes, nil
}

// Contains reports whether now falls inside the window.
func (w Window) Contains(now time.Time) (bool, error) {
	tz := w.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return false, fmt.Errorf("load timezone: %w", err)
	}
	start, err := ParseClock(w.Start)
	if err != nil {
		return false, err
	}
	end, err := ParseClock(w.End)
	if err != nil {
		return false, err
	}

	local := now.In(loc)
	if !containsDay(w.Days, int(local.Weekday())) {
		return false, nil
	}
	current := local.Hour()*60 + local.Minute()
	if start <= end {
		return current >= start && current <= end, nil
	}
	return current >= start || current <= end, nil
}

func containsDay(days []int, day int) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}
