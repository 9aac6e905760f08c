package scheduler

import (
	"fmt"

	"cfbot/internal/source"
)

const (
	startFull  = "2006-01-02 15:04"
	startShort = "15:04 02.01"
)

func announceText(c source.Contest) string {
	return fmt.Sprintf("New contest: %s\nStarts: %s", c.Name, c.Start.Local().Format(startFull))
}

func reminderText(b Bucket, c source.Contest) string {
	start := c.Start.Local().Format(startShort)
	switch b {
	case BucketUnder30Min:
		return fmt.Sprintf("'%s' starts in less than 30 minutes (%s)", c.Name, start)
	case BucketOneHour:
		return fmt.Sprintf("Starting in 1 hour: %s", c.Name)
	case BucketTwoHours:
		return fmt.Sprintf("Starting in 2 hours: %s", c.Name)
	case BucketToday:
		return fmt.Sprintf("%s starts today at %s", c.Name, start)
	case BucketTomorrow:
		return fmt.Sprintf("%s starts tomorrow at %s", c.Name, start)
	default:
		return ""
	}
}
