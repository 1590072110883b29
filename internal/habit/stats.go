package habit

import (
	"math"
	"sort"
)

// Stats is the per-habit aggregate the bot reports.
type Stats struct {
	CurrentStreak  int
	MaxStreak      int
	CompletionRate int // percent over the trailing rate window
	TotalCompleted int
}

// RateWindowDays is the trailing window the bot uses for completion rates.
const RateWindowDays = 30

// CurrentStreak counts the unbroken run of completions ending at (or
// reaching back from) today, where consecutive completions may be up to
// gapDays apart. gapDays=1 is the classic consecutive-days streak; a
// completion yesterday keeps a daily streak alive until today is missed
// outright.
//
// Walks newest to oldest: each completion must land within gapDays of the
// expected date and then becomes the new expectation. Future-dated entries
// are skipped without breaking the run.
func CurrentStreak(completed []Date, today Date, gapDays int) int {
	if gapDays < 1 {
		gapDays = 1
	}
	dates := sortedCopy(completed)

	streak := 0
	expected := today
	for i := len(dates) - 1; i >= 0; i-- {
		gap := DaysBetween(dates[i], expected)
		if gap < 0 {
			continue
		}
		if gap > gapDays {
			break
		}
		streak++
		expected = dates[i]
	}
	return streak
}

// MaxStreak returns the longest run ever recorded, using the same gap
// tolerance as CurrentStreak. Empty log yields 0, a single completion 1.
func MaxStreak(completed []Date, gapDays int) int {
	if gapDays < 1 {
		gapDays = 1
	}
	dates := sortedCopy(completed)
	if len(dates) == 0 {
		return 0
	}

	best := 1
	run := 1
	for i := 1; i < len(dates); i++ {
		if DaysBetween(dates[i-1], dates[i]) <= gapDays {
			run++
		} else {
			run = 1
		}
		if run > best {
			best = run
		}
	}
	return best
}

// CompletionRate returns actual/expected completions over the trailing
// windowDays-day window ending today, as a rounded percentage. The
// expected count is ceil(windowDays/gapDays). Rates above 100 are
// deliberately not clamped: over-completing an interval habit is reported
// as such, not hidden.
func CompletionRate(completed []Date, today Date, windowDays, gapDays int) int {
	if gapDays < 1 {
		gapDays = 1
	}
	expected := (windowDays + gapDays - 1) / gapDays
	if expected == 0 {
		return 100
	}

	actual := 0
	for _, d := range completed {
		age := DaysBetween(d, today)
		if age >= 0 && age < windowDays {
			actual++
		}
	}
	return int(math.Round(float64(actual) / float64(expected) * 100))
}

// ComputeStats bundles the three independent statistics plus the raw total.
func ComputeStats(completed []Date, today Date, gapDays int) Stats {
	return Stats{
		CurrentStreak:  CurrentStreak(completed, today, gapDays),
		MaxStreak:      MaxStreak(completed, gapDays),
		CompletionRate: CompletionRate(completed, today, RateWindowDays, gapDays),
		TotalCompleted: len(completed),
	}
}

func sortedCopy(dates []Date) []Date {
	out := make([]Date, len(dates))
	copy(out, dates)
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
