package scheduler

import (
	"testing"
	"time"
)

func TestClassifyFixedWindows(t *testing.T) {
	t.Parallel()
	// Midday base so the date fallbacks stay on "today" for small deltas.
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local)

	tests := []struct {
		name  string
		delta time.Duration
		want  Bucket
	}{
		{name: "one second", delta: time.Second, want: BucketUnder30Min},
		{name: "20 minutes", delta: 20 * time.Minute, want: BucketUnder30Min},
		{name: "exactly 30m", delta: 30 * time.Minute, want: BucketUnder30Min},
		{name: "just over 30m", delta: 30*time.Minute + time.Second, want: BucketOneHour},
		{name: "exactly 1h", delta: time.Hour, want: BucketOneHour},
		{name: "just over 1h", delta: time.Hour + time.Second, want: BucketTwoHours},
		{name: "5000 seconds", delta: 5000 * time.Second, want: BucketTwoHours},
		{name: "exactly 2h", delta: 2 * time.Hour, want: BucketTwoHours},
		{name: "just over 2h same day", delta: 2*time.Hour + time.Second, want: BucketToday},
		{name: "this evening", delta: 9 * time.Hour, want: BucketToday},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(now, now.Add(tt.delta)); got != tt.want {
				t.Fatalf("Classify(+%v) = %v, want %v", tt.delta, got, tt.want)
			}
		})
	}
}

func TestClassifyDateFallbacks(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 22, 0, 0, 0, time.Local)

	// 3h out crosses midnight: not today, so tomorrow.
	if got := Classify(now, now.Add(3*time.Hour)); got != BucketTomorrow {
		t.Fatalf("3h past midnight = %v, want tomorrow", got)
	}
	// Tomorrow evening.
	if got := Classify(now, time.Date(2025, 3, 11, 20, 0, 0, 0, time.Local)); got != BucketTomorrow {
		t.Fatalf("tomorrow evening misclassified: %v", got)
	}
	// Two days out: no reminder this cycle.
	if got := Classify(now, time.Date(2025, 3, 12, 10, 0, 0, 0, time.Local)); got != BucketNone {
		t.Fatalf("two days out = %v, want none", got)
	}
}

// Every positive delta must land in exactly one bucket: sweeping the first
// few hours checks the windows are disjoint and gap-free in priority order.
func TestClassifySingleBucket(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.Local)

	for delta := time.Second; delta <= 3*time.Hour; delta += 17 * time.Second {
		got := Classify(now, now.Add(delta))
		var want Bucket
		switch {
		case delta <= 30*time.Minute:
			want = BucketUnder30Min
		case delta <= time.Hour:
			want = BucketOneHour
		case delta <= 2*time.Hour:
			want = BucketTwoHours
		default:
			want = BucketToday // 9:00 base keeps +3h on the same date
		}
		if got != want {
			t.Fatalf("Classify(+%v) = %v, want %v", delta, got, want)
		}
	}
}
