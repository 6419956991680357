package domain

import "time"

// PeriodFor returns the monthly billing period [start, end) containing at.
// Periods roll over on the anchor's day of month, clamped to the month's
// length, so an anchor on the 31st starts February's period on the 28th/29th.
func PeriodFor(anchor, at time.Time) (time.Time, time.Time) {
	anchor = anchor.UTC()
	at = at.UTC()
	day := anchor.Day()

	start := anchorIn(at.Year(), at.Month(), day)
	if at.Before(start) {
		prev := time.Date(at.Year(), at.Month()-1, 1, 0, 0, 0, 0, time.UTC)
		start = anchorIn(prev.Year(), prev.Month(), day)
	}

	next := time.Date(start.Year(), start.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	end := anchorIn(next.Year(), next.Month(), day)
	return start, end
}

// MonthStart is the default anchor for new subscriptions.
func MonthStart(at time.Time) time.Time {
	at = at.UTC()
	return time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func anchorIn(year int, month time.Month, day int) time.Time {
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
