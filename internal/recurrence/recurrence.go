// Package recurrence computes the next occurrence of a repeating
// notification. All arithmetic is done on wall-clock components in the
// schedule's IANA zone, so a series keeps its time-of-day across DST
// transitions. The package is pure: no clock, no I/O.
package recurrence

import (
	"fmt"
	"time"

	"push-engine/internal/models"
)

// Result is either the next occurrence instant or an exhausted series.
type Result struct {
	Next      time.Time
	Exhausted bool
}

func exhausted() Result {
	return Result{Exhausted: true}
}

// Next computes the occurrence following last for the given rule. The end
// condition is evaluated against the computed candidate: a candidate past
// repeat_until (end of that calendar day in loc), or beyond the occurrence
// limit, exhausts the series. occurrencesSoFar counts cycles already
// dispatched, including the one that produced last.
func Next(rule models.RecurrenceRule, last time.Time, loc *time.Location, end models.EndCondition, occurrencesSoFar int) (Result, error) {
	if loc == nil {
		return Result{}, fmt.Errorf("recurrence: nil location")
	}
	if rule.Every < 1 {
		return Result{}, fmt.Errorf("recurrence: interval must be positive, got %d", rule.Every)
	}

	var candidate time.Time
	switch rule.Type {
	case models.RecurrenceDaily:
		candidate = addDays(last.In(loc), rule.Every)
	case models.RecurrenceWeekly:
		c, err := nextWeekly(rule, last.In(loc))
		if err != nil {
			return Result{}, err
		}
		candidate = c
	case models.RecurrenceMonthly:
		c, err := nextMonthly(rule, last.In(loc))
		if err != nil {
			return Result{}, err
		}
		candidate = c
	default:
		return Result{}, fmt.Errorf("recurrence: unknown rule type %q", rule.Type)
	}

	switch end.Type {
	case models.EndNever, "":
	case models.EndRepeatUntil:
		if end.Until == nil {
			return Result{}, fmt.Errorf("recurrence: repeat_until end condition without instant")
		}
		u := end.Until.In(loc)
		cutoff := time.Date(u.Year(), u.Month(), u.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), loc)
		if candidate.After(cutoff) {
			return exhausted(), nil
		}
	case models.EndOccurrences:
		if end.Limit < 1 {
			return Result{}, fmt.Errorf("recurrence: occurrence limit must be positive, got %d", end.Limit)
		}
		if occurrencesSoFar >= end.Limit {
			return exhausted(), nil
		}
	default:
		return Result{}, fmt.Errorf("recurrence: unknown end condition %q", end.Type)
	}

	return Result{Next: candidate}, nil
}

// addDays re-derives wall-clock components rather than adding a fixed
// duration, so crossing a DST boundary keeps the time-of-day.
func addDays(t time.Time, days int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+days, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// nextWeekly walks forward one day at a time from last+1d. A day is an
// occurrence when its weekday is in the rule's set and it falls in a week a
// multiple of Every weeks after the week containing last. Weeks start on
// Monday.
func nextWeekly(rule models.RecurrenceRule, last time.Time) (time.Time, error) {
	if len(rule.Weekdays) == 0 {
		return time.Time{}, fmt.Errorf("recurrence: weekly rule with empty weekday set")
	}
	allowed := make(map[int]bool, len(rule.Weekdays))
	for _, wd := range rule.Weekdays {
		if wd < 1 || wd > 7 {
			return time.Time{}, fmt.Errorf("recurrence: weekday out of range: %d", wd)
		}
		allowed[wd] = true
	}

	anchorWeek := startOfWeek(last)
	// Worst case: the sole allowed weekday lands just before the next
	// admitted week window.
	for i := 1; i <= 7*(rule.Every+1); i++ {
		candidate := addDays(last, i)
		if !allowed[isoWeekday(candidate)] {
			continue
		}
		if weeksBetween(anchorWeek, startOfWeek(candidate))%rule.Every == 0 {
			return candidate, nil
		}
	}
	return time.Time{}, fmt.Errorf("recurrence: no weekly occurrence found within %d weeks", rule.Every+1)
}

// nextMonthly lands on DayOfMonth in the month Every months after last's
// month, clamped to that month's final day when shorter.
func nextMonthly(rule models.RecurrenceRule, last time.Time) (time.Time, error) {
	if rule.DayOfMonth < 1 || rule.DayOfMonth > 31 {
		return time.Time{}, fmt.Errorf("recurrence: day of month out of range: %d", rule.DayOfMonth)
	}
	first := time.Date(last.Year(), last.Month()+time.Month(rule.Every), 1, 0, 0, 0, 0, last.Location())
	day := rule.DayOfMonth
	if max := daysInMonth(first.Year(), first.Month()); day > max {
		day = max
	}
	return time.Date(first.Year(), first.Month(), day, last.Hour(), last.Minute(), last.Second(), last.Nanosecond(), last.Location()), nil
}

// isoWeekday maps time.Weekday to 1=Monday..7=Sunday.
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// startOfWeek returns the Monday date of t's week at noon. Noon sidesteps
// zone offset shifts when the difference is later divided into whole days.
func startOfWeek(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()-(isoWeekday(t)-1), 12, 0, 0, 0, time.UTC)
}

func weeksBetween(a, b time.Time) int {
	days := int(b.Sub(a).Hours() / 24)
	return days / 7
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 12, 0, 0, 0, time.UTC).Day()
}
