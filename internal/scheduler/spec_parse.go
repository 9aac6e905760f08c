package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPollInterval is the cadence of the notification loop when the
// config does not override it.
const DefaultPollInterval = 30 * time.Minute

// SpecKind describes the normalized kind of a schedule string.
type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec represents a parsed schedule string.
//
// Supported forms:
//   - Cron (crontab.guru-style): "*/30 * * * *", "@hourly", "@every 30m"
//   - Interval duration: "30m", "2h30m"
//   - Interval HH:MM: "00:30" (30 minutes), "02:30" (2 hours 30 minutes)
type ParsedSpec struct {
	Kind  SpecKind
	Every time.Duration
	cron  cron.Schedule
}

var (
	reHHMM     = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)
	cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// ParseSchedule parses a schedule string into either a validated cron
// schedule or an interval duration. Empty input defaults to the 30-minute
// poll interval.
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{Kind: SpecInterval, Every: DefaultPollInterval}, nil
	}

	// Heuristics: any whitespace or leading '@' means cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		sched, err := cronParser.Parse(s)
		if err != nil {
			return ParsedSpec{}, fmt.Errorf("invalid cron schedule %q: %w", raw, err)
		}
		return ParsedSpec{Kind: SpecCron, cron: sched}, nil
	}

	// HH:MM means an interval, not a time of day.
	if m := reHHMM.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return ParsedSpec{}, fmt.Errorf("invalid schedule %q: minutes must be 00-59", raw)
		}
		d := time.Duration(h)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return ParsedSpec{}, fmt.Errorf("invalid schedule %q: interval must be > 0", raw)
		}
		return ParsedSpec{Kind: SpecInterval, Every: d}, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		if d <= 0 {
			return ParsedSpec{}, fmt.Errorf("invalid schedule %q: interval must be > 0", raw)
		}
		return ParsedSpec{Kind: SpecInterval, Every: d}, nil
	}

	return ParsedSpec{}, fmt.Errorf(
		"invalid schedule %q (use cron like '*/30 * * * *', HH:MM like '00:30', or duration like '30m')",
		raw,
	)
}

// NextWait returns how long to sleep after a cycle that finished at now.
func (p ParsedSpec) NextWait(now time.Time) time.Duration {
	if p.Kind == SpecCron && p.cron != nil {
		wait := p.cron.Next(now).Sub(now)
		if wait <= 0 {
			wait = time.Minute
		}
		return wait
	}
	if p.Every > 0 {
		return p.Every
	}
	return DefaultPollInterval
}
