// Package clock provides pure wall-clock and calendar-date arithmetic for
// session scheduling. Times are zero-padded "HH:MM" strings in a 24-hour day;
// dates are ISO "YYYY-MM-DD". Zero-padded strings compare correctly with the
// usual string operators, a property shared with the SQL layer.
package clock

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	minutesPerDay = 24 * 60

	// DateLayout is the ISO calendar date layout used across the API.
	DateLayout = "2006-01-02"
)

// ParseHHMM converts a wall-clock string to its minute-of-day.
// Accepts H:MM and HH:MM.
func ParseHHMM(value string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid time %q", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || len(parts[1]) != 2 {
		return 0, fmt.Errorf("invalid time %q", value)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("time %q out of range", value)
	}
	return hour*60 + minute, nil
}

// FormatHHMM renders a minute-of-day as zero-padded HH:MM, wrapping at 24h.
func FormatHHMM(minutes int) string {
	minutes %= minutesPerDay
	if minutes < 0 {
		minutes += minutesPerDay
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// IsValidHHMM reports whether value parses as a wall-clock time.
func IsValidHHMM(value string) bool {
	_, err := ParseHHMM(value)
	return err == nil
}

// Normalize re-renders a wall-clock string in canonical zero-padded form.
func Normalize(value string) (string, error) {
	minutes, err := ParseHHMM(value)
	if err != nil {
		return "", err
	}
	return FormatHHMM(minutes), nil
}

// Overlaps reports whether the half-open ranges [aStart,aEnd) and
// [bStart,bEnd) intersect. Back-to-back ranges, one ending exactly when the
// other starts, do not overlap. Inputs are assumed well-formed; malformed
// values are treated as 00:00.
func Overlaps(aStart, aEnd, bStart, bEnd string) bool {
	return minuteOf(aStart) < minuteOf(bEnd) && minuteOf(bStart) < minuteOf(aEnd)
}

// MinutesBetween returns end minus start in minutes. The result is negative
// when end precedes start; callers validate ordering separately.
func MinutesBetween(start, end string) int {
	return minuteOf(end) - minuteOf(start)
}

// AddMinutes offsets a wall-clock time by n minutes, wrapping modulo 24 hours.
func AddMinutes(value string, n int) string {
	return FormatHHMM(minuteOf(value) + n)
}

func minuteOf(value string) int {
	minutes, err := ParseHHMM(value)
	if err != nil {
		return 0
	}
	return minutes
}

// ParseDate parses an ISO calendar date.
func ParseDate(value string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(value))
}

// FormatDate renders a calendar date in ISO form.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DateOf truncates a moment to its calendar date in the same location.
func DateOf(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// SameDate reports whether two moments fall on the same calendar date,
// ignoring location and time of day.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// WeekdayName returns the English weekday name for a date.
func WeekdayName(t time.Time) string {
	return t.Weekday().String()
}

// IsWeekdayName reports whether name is an English weekday name, any case.
func IsWeekdayName(name string) bool {
	trimmed := strings.TrimSpace(name)
	for day := time.Sunday; day <= time.Saturday; day++ {
		if strings.EqualFold(day.String(), trimmed) {
			return true
		}
	}
	return false
}

// WeekStart returns the Monday of the week containing t, at midnight.
func WeekStart(t time.Time) time.Time {
	date := DateOf(t)
	offset := (int(date.Weekday()) + 6) % 7
	return date.AddDate(0, 0, -offset)
}

// DateOnDay resolves a weekday name to its date within the week starting at
// weekStart (a Monday). The second return is false for unknown day names.
func DateOnDay(weekStart time.Time, weekday string) (time.Time, bool) {
	for i := 0; i < 7; i++ {
		candidate := weekStart.AddDate(0, 0, i)
		if strings.EqualFold(candidate.Weekday().String(), strings.TrimSpace(weekday)) {
			return candidate, true
		}
	}
	return time.Time{}, false
}
