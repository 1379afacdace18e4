package calendar

import (
	"errors"
	"time"
)

type RecurrenceFrequency int

const (
	FreqDaily RecurrenceFrequency = iota
	FreqWeekly
)

// RecurringRule описывает повторяющийся интервал (например, личное время мастера
// каждую среду с 12:00 до 13:00).
type RecurringRule struct {
	Freq     RecurrenceFrequency
	Interval int // каждые Interval дней/недель, минимум 1
	// Для FreqWeekly: дни недели, в которые интервал повторяется. Пусто — день StartTime.
	Weekdays  []time.Weekday
	StartTime time.Time
	Duration  time.Duration
	Until     *time.Time
	Count     *int
	// Даты-исключения (полночь в таймзоне StartTime).
	Exceptions map[time.Time]struct{}
}

// ExpandRecurringRule разворачивает правило в интервалы, пересекающиеся с window.
func ExpandRecurringRule(rule RecurringRule, window TimeRange) ([]TimeRange, error) {
	if rule.Duration <= 0 {
		return nil, errors.New("recurring rule: duration must be positive")
	}
	if rule.StartTime.IsZero() {
		return nil, errors.New("recurring rule: start time is required")
	}
	if rule.Interval <= 0 {
		rule.Interval = 1
	}
	out := []TimeRange{}
	if window.IsEmpty() {
		return out, nil
	}

	weekdays := map[time.Weekday]bool{}
	for _, w := range rule.Weekdays {
		weekdays[w] = true
	}
	if rule.Freq == FreqWeekly && len(weekdays) == 0 {
		weekdays[rule.StartTime.Weekday()] = true
	}

	first := dateOnly(rule.StartTime)
	clock := rule.StartTime.Sub(first)
	generated := 0

	for day := first; ; day = day.AddDate(0, 0, 1) {
		start := day.Add(clock)
		if rule.Until != nil && start.After(*rule.Until) {
			break
		}
		if rule.Count != nil && generated >= *rule.Count {
			break
		}
		if !start.Before(window.End) {
			break
		}
		if !occursOn(rule, first, day, weekdays) {
			continue
		}
		if _, skip := rule.Exceptions[day]; skip {
			continue
		}
		occ := TimeRange{Start: start, End: start.Add(rule.Duration)}
		generated++
		if occ.Overlaps(window) {
			out = append(out, occ)
		}
	}
	return out, nil
}

func occursOn(rule RecurringRule, first, day time.Time, weekdays map[time.Weekday]bool) bool {
	days := int(day.Sub(first).Hours()+12) / 24
	switch rule.Freq {
	case FreqWeekly:
		week := days / 7
		return weekdays[day.Weekday()] && week%rule.Interval == 0
	default:
		return days%rule.Interval == 0
	}
}
