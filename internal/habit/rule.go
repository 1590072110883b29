package habit

import (
	"fmt"
	"strings"
)

// RuleKind discriminates the three recurrence variants.
type RuleKind uint8

const (
	KindDaily RuleKind = iota
	KindInterval
	KindWeekdays
)

func (k RuleKind) String() string {
	switch k {
	case KindDaily:
		return "daily"
	case KindInterval:
		return "interval"
	case KindWeekdays:
		return "weekdays"
	default:
		return "unknown"
	}
}

func ParseRuleKind(s string) (RuleKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily":
		return KindDaily, nil
	case "interval":
		return KindInterval, nil
	case "weekdays":
		return KindWeekdays, nil
	default:
		return 0, fmt.Errorf("unknown rule kind %q", s)
	}
}

// Frequency clamp applied where user input enters the system.
const (
	MinFrequencyDays = 1
	MaxFrequencyDays = 365
)

// WeekdaySet is a bitmask over weekdays 0=Sunday .. 6=Saturday.
type WeekdaySet uint8

func (s WeekdaySet) Has(weekday int) bool {
	if weekday < 0 || weekday > 6 {
		return false
	}
	return s&(1<<uint(weekday)) != 0
}

func (s WeekdaySet) Empty() bool { return s == 0 }

// Days returns the contained weekdays in ascending order.
func (s WeekdaySet) Days() []int {
	var out []int
	for d := 0; d <= 6; d++ {
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

// Rule is a tagged recurrence variant. The interval length and the weekday
// set only exist inside their respective variants, so an interval rule with
// a weekday set (or vice versa) is unrepresentable.
type Rule struct {
	kind     RuleKind
	every    int // interval only, always within [Min,Max]FrequencyDays
	weekdays WeekdaySet
}

// Daily builds the every-day rule.
func Daily() Rule { return Rule{kind: KindDaily} }

// EveryNDays builds an interval rule. Out-of-range inputs are clamped to
// [1,365] here, at the boundary; the evaluators assume a valid interval.
func EveryNDays(n int) Rule {
	if n < MinFrequencyDays {
		n = MinFrequencyDays
	}
	if n > MaxFrequencyDays {
		n = MaxFrequencyDays
	}
	return Rule{kind: KindInterval, every: n}
}

// OnWeekdaySet builds a weekday-set rule from an already-validated set.
// Used when rehydrating rules from storage.
func OnWeekdaySet(set WeekdaySet) Rule {
	return Rule{kind: KindWeekdays, weekdays: set & 0x7f}
}

// OnWeekdays builds a weekday-set rule. Weekday values outside [0,6] are a
// caller error and rejected.
func OnWeekdays(days ...int) (Rule, error) {
	var set WeekdaySet
	for _, d := range days {
		if d < 0 || d > 6 {
			return Rule{}, fmt.Errorf("weekday %d out of range [0,6]", d)
		}
		set |= 1 << uint(d)
	}
	return Rule{kind: KindWeekdays, weekdays: set}, nil
}

func (r Rule) Kind() RuleKind { return r.kind }

// FrequencyDays returns the interval length for interval rules and 1
// otherwise. The streak/rate math uses this as its allowed-gap tolerance.
func (r Rule) FrequencyDays() int {
	if r.kind == KindInterval {
		return r.every
	}
	return 1
}

func (r Rule) Weekdays() WeekdaySet { return r.weekdays }

var weekdayNames = [7]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

func (r Rule) String() string {
	switch r.kind {
	case KindDaily:
		return "every day"
	case KindInterval:
		if r.every == 1 {
			return "every day"
		}
		return fmt.Sprintf("every %d days", r.every)
	case KindWeekdays:
		days := r.weekdays.Days()
		names := make([]string, 0, len(days))
		for _, d := range days {
			names = append(names, weekdayNames[d])
		}
		if len(names) == 0 {
			return "never"
		}
		return strings.Join(names, ", ")
	default:
		return "unknown"
	}
}
