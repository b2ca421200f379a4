package usage

import "time"

// CurrentWeekStart returns the most recent UTC Sunday 00:00:00 at or before
// now. All weekly allowances roll over on this boundary.
func CurrentWeekStart(now time.Time) time.Time {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -int(now.Weekday()))
}

// ApplyRollover resets the weekly counter when the stored week start is
// stale. It returns true when the record changed so the caller can persist
// the reset. Reapplying within the same week is a no-op.
func (r *Record) ApplyRollover(now time.Time) bool {
	week := CurrentWeekStart(now)
	if r.WeekStart.Equal(week) {
		return false
	}
	r.WeeklyUsed = 0
	r.WeekStart = week
	return true
}
