package habit

// DueOnDate reports whether a habit is due on target under its rule, for
// historical and future calendar views.
//
// reference anchors the interval grid: the habit's first-ever completion
// date, or its creation date if it was never completed. Anchoring on the
// first completion keeps past views stable; a late completion today does
// not retroactively shift dates that already rendered as due.
//
// Dates strictly before createdAt are never due, whatever the rule says.
// Completions can predate createdAt in old data; callers treat those days
// as not due rather than erroring.
func DueOnDate(r Rule, createdAt, reference, target Date) bool {
	if !createdAt.IsZero() && target.Before(createdAt) {
		return false
	}
	switch r.Kind() {
	case KindDaily:
		return true
	case KindInterval:
		d := DaysBetween(reference, target)
		return d >= 0 && d%r.FrequencyDays() == 0
	case KindWeekdays:
		return r.Weekdays().Has(target.Weekday())
	default:
		return false
	}
}

// DueToday reports whether a habit calls for action today, anchored on the
// last completion instead of the first. A late or early completion
// reschedules the next occurrence from that point, which is what "what do
// I do today" wants; use DueOnDate for replayable calendar grids.
//
// lastCompleted is the zero Date when the habit was never completed; an
// interval habit then bootstraps as due immediately.
func DueToday(r Rule, createdAt, lastCompleted, today Date) bool {
	if !createdAt.IsZero() && today.Before(createdAt) {
		return false
	}
	switch r.Kind() {
	case KindDaily:
		return true
	case KindInterval:
		if lastCompleted.IsZero() {
			return true
		}
		return DaysBetween(lastCompleted, today) >= r.FrequencyDays()
	case KindWeekdays:
		return r.Weekdays().Has(today.Weekday())
	default:
		return false
	}
}
