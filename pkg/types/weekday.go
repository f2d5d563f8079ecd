package types

import (
	"fmt"
	"strings"
	"time"
)

// weekdayNames accepts the Chinese names used by timetable exports as well as
// English full and short names.
var weekdayNames = map[string]time.Weekday{
	"周一": time.Monday,
	"周二": time.Tuesday,
	"周三": time.Wednesday,
	"周四": time.Thursday,
	"周五": time.Friday,
	"周六": time.Saturday,
	"周日": time.Sunday,
	"周天": time.Sunday,

	"星期一": time.Monday,
	"星期二": time.Tuesday,
	"星期三": time.Wednesday,
	"星期四": time.Thursday,
	"星期五": time.Friday,
	"星期六": time.Saturday,
	"星期日": time.Sunday,
	"星期天": time.Sunday,

	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
	"sun": time.Sunday,

	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

// ParseWeekday maps a day-of-week label to a time.Weekday.
func ParseWeekday(s string) (time.Weekday, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if wd, ok := weekdayNames[key]; ok {
		return wd, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidWeekday, s)
}

// ParseClock parses an HH:MM wall-clock time. A single-digit hour is accepted.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse(ClockLayout, strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return t.Hour(), t.Minute(), nil
}

// IsValidDate checks a YYYY-MM-DD calendar date.
func IsValidDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}
