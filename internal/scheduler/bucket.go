package scheduler

import "time"

// Bucket is the reminder category a contest falls into based on the time
// remaining until it starts. Evaluated fresh every cycle; nothing records
// "already reminded", so a contest keeps receiving the same bucket's
// reminder while it stays inside that window.
type Bucket int

const (
	BucketNone Bucket = iota
	BucketUnder30Min
	BucketOneHour
	BucketTwoHours
	BucketToday
	BucketTomorrow
)

func (b Bucket) String() string {
	switch b {
	case BucketUnder30Min:
		return "under_30m"
	case BucketOneHour:
		return "1h"
	case BucketTwoHours:
		return "2h"
	case BucketToday:
		return "today"
	case BucketTomorrow:
		return "tomorrow"
	default:
		return "none"
	}
}

// Classify picks the reminder bucket for a contest starting at start, as seen
// at now. Rules are checked in priority order; the fixed windows are disjoint
// by construction and the date fallbacks only apply once the start time has
// left all of them. Calendar comparisons use local time.
func Classify(now, start time.Time) Bucket {
	delta := start.Sub(now)
	switch {
	case delta > 0 && delta <= 30*time.Minute:
		return BucketUnder30Min
	case delta > 30*time.Minute && delta <= time.Hour:
		return BucketOneHour
	case delta > time.Hour && delta <= 2*time.Hour:
		return BucketTwoHours
	}

	sy, sm, sd := start.Local().Date()
	ny, nm, nd := now.Local().Date()
	if sy == ny && sm == nm && sd == nd {
		return BucketToday
	}
	ty, tm, td := now.Local().AddDate(0, 0, 1).Date()
	if sy == ty && sm == tm && sd == td {
		return BucketTomorrow
	}
	return BucketNone
}
