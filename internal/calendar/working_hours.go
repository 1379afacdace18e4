package calendar

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Break — перерыв внутри рабочего дня, "HH:MM".
type Break struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// WorkingDayRule — рабочие часы для набора дней недели.
// Weekdays: 1 — понедельник ... 7 — воскресенье.
type WorkingDayRule struct {
	Weekdays []int   `json:"weekdays"`
	Start    string  `json:"start"`
	End      string  `json:"end"`
	Breaks   []Break `json:"breaks,omitempty"`
}

// ParseClock разбирает "HH:MM" в смещение от полуночи. Допускается "24:00".
func ParseClock(s string) (time.Duration, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return 0, fmt.Errorf("invalid clock %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid clock %q: out of range", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

func (r WorkingDayRule) Validate() error {
	if len(r.Weekdays) == 0 {
		return fmt.Errorf("weekdays must not be empty")
	}
	for _, w := range r.Weekdays {
		if w < 1 || w > 7 {
			return fmt.Errorf("weekday %d out of range 1..7", w)
		}
	}
	start, err := ParseClock(r.Start)
	if err != nil {
		return err
	}
	end, err := ParseClock(r.End)
	if err != nil {
		return err
	}
	if end <= start {
		return fmt.Errorf("end %s must be after start %s", r.End, r.Start)
	}
	for _, b := range r.Breaks {
		bs, err := ParseClock(b.Start)
		if err != nil {
			return err
		}
		be, err := ParseClock(b.End)
		if err != nil {
			return err
		}
		if be <= bs {
			return fmt.Errorf("break end %s must be after start %s", b.End, b.Start)
		}
	}
	return nil
}

func (r WorkingDayRule) appliesTo(weekday int) bool {
	for _, w := range r.Weekdays {
		if w == weekday {
			return true
		}
	}
	return false
}

// ISOWeekday: понедельник = 1, воскресенье = 7.
func ISOWeekday(t time.Time) int {
	if t.Weekday() == time.Sunday {
		return 7
	}
	return int(t.Weekday())
}

// ParseRules разбирает JSON-массив правил из employee_schedule.rules.
func ParseRules(raw []byte) ([]WorkingDayRule, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var rules []WorkingDayRule
	if err := json.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("parse schedule rules: %w", err)
	}
	for i, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return rules, nil
}

// WorkingIntervals возвращает рабочие интервалы на календарный день day (в loc)
// за вычетом перерывов.
func WorkingIntervals(rules []WorkingDayRule, day time.Time, loc *time.Location) ([]TimeRange, error) {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := day.In(loc).Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, loc)
	weekday := ISOWeekday(midnight)

	at := func(clock string) (time.Time, error) {
		off, err := ParseClock(clock)
		if err != nil {
			return time.Time{}, err
		}
		h := int(off / time.Hour)
		min := int((off % time.Hour) / time.Minute)
		return time.Date(y, m, d, h, min, 0, 0, loc), nil
	}

	var work, breaks []TimeRange
	for _, r := range rules {
		if !r.appliesTo(weekday) {
			continue
		}
		start, err := at(r.Start)
		if err != nil {
			return nil, err
		}
		end, err := at(r.End)
		if err != nil {
			return nil, err
		}
		work = append(work, TimeRange{Start: start, End: end})
		for _, b := range r.Breaks {
			bs, err := at(b.Start)
			if err != nil {
				return nil, err
			}
			be, err := at(b.End)
			if err != nil {
				return nil, err
			}
			breaks = append(breaks, TimeRange{Start: bs, End: be})
		}
	}
	return Subtract(work, breaks), nil
}
