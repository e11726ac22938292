package store

import "time"

// DateKeyFormat is the layout of usage record date keys.
const DateKeyFormat = "2006-01-02"

// DateKey returns the date key for t in local time. Usage is attributed to
// the user's local day, not UTC.
func DateKey(t time.Time) string {
	return t.Format(DateKeyFormat)
}

// timeframeStart returns the first date key included in tf relative to ref.
//
// Daily covers the current local day. Weekly starts on the most recent
// Monday. Monthly starts on the first of the current month.
func timeframeStart(tf Timeframe, ref time.Time) string {
	switch tf {
	case Weekly:
		// Weekday() is Sunday==0; shift so Monday==0.
		offset := (int(ref.Weekday()) + 6) % 7
		return DateKey(ref.AddDate(0, 0, -offset))
	case Monthly:
		return DateKey(time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, ref.Location()))
	default:
		return DateKey(ref)
	}
}
