package calendar

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var ErrInvalidTimeRange = errors.New("invalid time range")

// TimeRange — полуоткрытый интервал [Start, End).
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func NewTimeRange(start, end time.Time) (TimeRange, error) {
	if start.IsZero() || end.IsZero() || !end.After(start) {
		return TimeRange{}, ErrInvalidTimeRange
	}
	return TimeRange{Start: start, End: end}, nil
}

func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

func (r TimeRange) IsEmpty() bool {
	return !r.End.After(r.Start)
}

// Contains — other целиком лежит внутри r.
func (r TimeRange) Contains(other TimeRange) bool {
	return !other.Start.Before(r.Start) && !other.End.After(r.End)
}

// Overlaps — пересечение полуоткрытых интервалов, касание концами не считается.
func (r TimeRange) Overlaps(other TimeRange) bool {
	return overlaps(r, other, false)
}

func (r TimeRange) In(loc *time.Location) TimeRange {
	return TimeRange{Start: r.Start.In(loc), End: r.End.In(loc)}
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
}

// NormalizeTimeRange приводит интервал к каноничному виду: границы по порядку,
// время в loc (если задан), длина не больше maxDuration (если maxDuration > 0).
func NormalizeTimeRange(start, end time.Time, loc *time.Location, maxDuration time.Duration) (TimeRange, error) {
	if start.IsZero() || end.IsZero() {
		return TimeRange{}, ErrInvalidTimeRange
	}
	if start.After(end) {
		start, end = end, start
	}
	if loc != nil {
		start, end = start.In(loc), end.In(loc)
	}
	if maxDuration > 0 && end.Sub(start) > maxDuration {
		end = start.Add(maxDuration)
	}
	if !end.After(start) {
		return TimeRange{}, ErrInvalidTimeRange
	}
	return TimeRange{Start: start, End: end}, nil
}

// HasOverlap ищет в existing интервалы, пересекающиеся с r.
// При inclusive=true касание концами тоже считается конфликтом.
func HasOverlap(r TimeRange, existing []TimeRange, inclusive bool) (bool, []TimeRange) {
	var conflicts []TimeRange
	for _, e := range existing {
		if overlaps(r, e, inclusive) {
			conflicts = append(conflicts, e)
		}
	}
	return len(conflicts) > 0, conflicts
}

func overlaps(a, b TimeRange, inclusive bool) bool {
	if inclusive {
		return !a.Start.After(b.End) && !b.Start.After(a.End)
	}
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Merge объединяет пересекающиеся и стыкующиеся интервалы. Пустые выкидываются,
// результат отсортирован по началу.
func Merge(ranges []TimeRange) []TimeRange {
	sorted := make([]TimeRange, 0, len(ranges))
	for _, r := range ranges {
		if !r.IsEmpty() {
			sorted = append(sorted, r)
		}
	}
	if len(sorted) == 0 {
		return nil
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	out := []TimeRange{sorted[0]}
	for _, r := range sorted[1:] {
		last := &out[len(out)-1]
		if r.Start.After(last.End) {
			out = append(out, r)
			continue
		}
		if r.End.After(last.End) {
			last.End = r.End
		}
	}
	return out
}

// Subtract вычитает занятые интервалы из свободных.
func Subtract(free, busy []TimeRange) []TimeRange {
	busy = Merge(busy)
	var out []TimeRange
	for _, f := range Merge(free) {
		cur := f.Start
		for _, b := range busy {
			if !b.End.After(cur) {
				continue
			}
			if !b.Start.Before(f.End) {
				break
			}
			if b.Start.After(cur) {
				out = append(out, TimeRange{Start: cur, End: b.Start})
			}
			cur = b.End
			if !cur.Before(f.End) {
				break
			}
		}
		if cur.Before(f.End) {
			out = append(out, TimeRange{Start: cur, End: f.End})
		}
	}
	return out
}

// Clip обрезает интервалы по окну window.
func Clip(ranges []TimeRange, window TimeRange) []TimeRange {
	var out []TimeRange
	for _, r := range ranges {
		if r.Start.Before(window.Start) {
			r.Start = window.Start.In(r.Start.Location())
		}
		if r.End.After(window.End) {
			r.End = window.End.In(r.End.Location())
		}
		if !r.IsEmpty() {
			out = append(out, r)
		}
	}
	return out
}

// FitSlots возвращает все интервалы [s, s+duration), помещающиеся в свободное время,
// где s кратно step от полуночи (в таймзоне интервала).
func FitSlots(free []TimeRange, duration, step time.Duration) []TimeRange {
	if duration <= 0 {
		return nil
	}
	if step <= 0 {
		step = duration
	}
	var out []TimeRange
	for _, f := range free {
		midnight := dateOnly(f.Start)
		offset := f.Start.Sub(midnight)
		n := offset / step
		if offset%step != 0 {
			n++
		}
		for s := midnight.Add(n * step); !s.Add(duration).After(f.End); s = s.Add(step) {
			out = append(out, TimeRange{Start: s, End: s.Add(duration)})
		}
	}
	return out
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DaysBetween перечисляет полночи календарных дней в loc, которые задевает интервал.
func DaysBetween(r TimeRange, loc *time.Location) []time.Time {
	if r.IsEmpty() {
		return nil
	}
	var days []time.Time
	last := r.End.Add(-time.Nanosecond).In(loc)
	for d := dateOnly(r.Start.In(loc)); !d.After(last); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

var ruWeekdays = [...]string{
	time.Sunday:    "Воскресенье",
	time.Monday:    "Понедельник",
	time.Tuesday:   "Вторник",
	time.Wednesday: "Среда",
	time.Thursday:  "Четверг",
	time.Friday:    "Пятница",
	time.Saturday:  "Суббота",
}

// FormatSlotForUser: "Пятница, 10.01.2025, 10:00–11:00", опционально с " (ID: ...)".
func FormatSlotForUser(tr TimeRange, loc *time.Location, includeID bool, slotID string) string {
	if loc != nil {
		tr = tr.In(loc)
	}
	s := fmt.Sprintf("%s, %s, %s–%s",
		ruWeekdays[tr.Start.Weekday()],
		tr.Start.Format("02.01.2006"),
		tr.Start.Format("15:04"),
		tr.End.Format("15:04"),
	)
	if includeID && slotID != "" {
		s += " (ID: " + slotID + ")"
	}
	return s
}
