package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(day, hour, min int) time.Time {
	return time.Date(2025, time.January, day, hour, min, 0, 0, time.UTC)
}

func rng(day, h1, m1, h2, m2 int) TimeRange {
	return TimeRange{Start: at(day, h1, m1), End: at(day, h2, m2)}
}

func TestNormalizeTimeRange_SwappedBounds(t *testing.T) {
	tr, err := NormalizeTimeRange(at(1, 12, 0), at(1, 10, 0), time.UTC, 0)
	require.NoError(t, err)
	assert.True(t, tr.Start.Equal(at(1, 10, 0)))
	assert.True(t, tr.End.Equal(at(1, 12, 0)))
}

func TestNormalizeTimeRange_MaxDuration(t *testing.T) {
	tr, err := NormalizeTimeRange(at(1, 10, 0), at(1, 15, 0), nil, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, tr.Duration())
}

func TestNormalizeTimeRange_Invalid(t *testing.T) {
	_, err := NormalizeTimeRange(time.Time{}, time.Time{}, time.UTC, 0)
	assert.ErrorIs(t, err, ErrInvalidTimeRange)

	_, err = NormalizeTimeRange(at(1, 10, 0), at(1, 10, 0), time.UTC, 0)
	assert.ErrorIs(t, err, ErrInvalidTimeRange)
}

func TestHasOverlap(t *testing.T) {
	existing := []TimeRange{rng(1, 9, 0, 10, 0), rng(1, 11, 0, 12, 0)}

	ok, conflicts := HasOverlap(rng(1, 10, 0, 11, 0), existing, false)
	assert.False(t, ok)
	assert.Empty(t, conflicts)

	ok, conflicts = HasOverlap(rng(1, 10, 0, 11, 0), existing, true)
	assert.True(t, ok)
	assert.Len(t, conflicts, 2)

	ok, conflicts = HasOverlap(rng(1, 9, 30, 10, 30), existing, false)
	assert.True(t, ok)
	assert.Len(t, conflicts, 1)
}

func TestMerge(t *testing.T) {
	got := Merge([]TimeRange{
		rng(1, 12, 0, 13, 0),
		rng(1, 9, 0, 10, 0),
		rng(1, 10, 0, 11, 0),
		rng(1, 12, 30, 14, 0),
		rng(1, 15, 0, 15, 0),
	})
	assert.Equal(t, []TimeRange{rng(1, 9, 0, 11, 0), rng(1, 12, 0, 14, 0)}, got)
	assert.Nil(t, Merge(nil))
}

func TestSubtract(t *testing.T) {
	free := []TimeRange{rng(1, 9, 0, 18, 0)}
	busy := []TimeRange{
		rng(1, 13, 0, 14, 0),
		rng(1, 8, 0, 9, 30),
		rng(1, 17, 0, 19, 0),
		rng(1, 13, 30, 14, 30),
	}
	got := Subtract(free, busy)
	assert.Equal(t, []TimeRange{rng(1, 9, 30, 13, 0), rng(1, 14, 30, 17, 0)}, got)

	assert.Empty(t, Subtract(free, []TimeRange{rng(1, 0, 0, 23, 0)}))
	assert.Equal(t, free, Subtract(free, nil))
}

func TestClip(t *testing.T) {
	got := Clip([]TimeRange{rng(1, 8, 0, 10, 0), rng(1, 11, 0, 12, 0), rng(1, 17, 0, 20, 0)}, rng(1, 9, 0, 18, 0))
	assert.Equal(t, []TimeRange{rng(1, 9, 0, 10, 0), rng(1, 11, 0, 12, 0), rng(1, 17, 0, 18, 0)}, got)
	assert.Empty(t, Clip([]TimeRange{rng(1, 6, 0, 7, 0)}, rng(1, 9, 0, 18, 0)))
}

func TestFitSlots(t *testing.T) {
	free := []TimeRange{rng(1, 9, 10, 10, 30)}
	got := FitSlots(free, 30*time.Minute, 15*time.Minute)
	assert.Equal(t, []TimeRange{
		rng(1, 9, 15, 9, 45),
		rng(1, 9, 30, 10, 0),
		rng(1, 9, 45, 10, 15),
		rng(1, 10, 0, 10, 30),
	}, got)

	assert.Empty(t, FitSlots([]TimeRange{rng(1, 9, 0, 9, 20)}, 30*time.Minute, 15*time.Minute))
	assert.Len(t, FitSlots([]TimeRange{rng(1, 9, 0, 10, 0)}, 30*time.Minute, 0), 2)
}

func TestDaysBetween(t *testing.T) {
	days := DaysBetween(TimeRange{Start: at(1, 22, 0), End: at(3, 0, 0)}, time.UTC)
	require.Len(t, days, 2)
	assert.True(t, days[1].Equal(at(2, 0, 0)))

	msk := time.FixedZone("MSK", 3*3600)
	days = DaysBetween(TimeRange{Start: at(1, 22, 0), End: at(1, 23, 0)}, msk)
	require.Len(t, days, 1)
	assert.Equal(t, 2, days[0].Day())
}

func TestParseClock(t *testing.T) {
	d, err := ParseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, 9*time.Hour+30*time.Minute, d)

	d, err = ParseClock("24:00")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, d)

	for _, bad := range []string{"", "9", "25:00", "10:60", "24:30", "ab:cd", "10:5"} {
		_, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}

func TestWorkingIntervals(t *testing.T) {
	rules := []WorkingDayRule{
		{Weekdays: []int{1, 2, 3, 4, 5}, Start: "10:00", End: "19:00", Breaks: []Break{{Start: "14:00", End: "15:00"}}},
		{Weekdays: []int{6}, Start: "11:00", End: "16:00"},
	}
	// 2025-01-06 — понедельник
	got, err := WorkingIntervals(rules, at(6, 0, 0), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, []TimeRange{rng(6, 10, 0, 14, 0), rng(6, 15, 0, 19, 0)}, got)

	got, err = WorkingIntervals(rules, at(11, 8, 0), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, []TimeRange{rng(11, 11, 0, 16, 0)}, got)

	got, err = WorkingIntervals(rules, at(12, 0, 0), time.UTC)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParseRules(t *testing.T) {
	rules, err := ParseRules([]byte(`[{"weekdays":[1,7],"start":"09:00","end":"18:00"}]`))
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, 7, ISOWeekday(at(5, 0, 0)))

	_, err = ParseRules([]byte(`[{"weekdays":[8],"start":"09:00","end":"18:00"}]`))
	assert.Error(t, err)
	_, err = ParseRules([]byte(`[{"weekdays":[1],"start":"18:00","end":"09:00"}]`))
	assert.Error(t, err)
}

func TestExpandRecurringRule_Weekly(t *testing.T) {
	// Каждую среду и пятницу с 12:00 на час.
	rule := RecurringRule{
		Freq:      FreqWeekly,
		Weekdays:  []time.Weekday{time.Wednesday, time.Friday},
		StartTime: at(1, 12, 0),
		Duration:  time.Hour,
	}
	got, err := ExpandRecurringRule(rule, TimeRange{Start: at(1, 0, 0), End: at(11, 0, 0)})
	require.NoError(t, err)
	assert.Equal(t, []TimeRange{
		rng(1, 12, 0, 13, 0),
		rng(3, 12, 0, 13, 0),
		rng(8, 12, 0, 13, 0),
		rng(10, 12, 0, 13, 0),
	}, got)
}

func TestExpandRecurringRule_DailyWithCountAndExceptions(t *testing.T) {
	count := 3
	rule := RecurringRule{
		Freq:       FreqDaily,
		Interval:   2,
		StartTime:  at(1, 9, 0),
		Duration:   30 * time.Minute,
		Count:      &count,
		Exceptions: map[time.Time]struct{}{at(3, 0, 0): {}},
	}
	got, err := ExpandRecurringRule(rule, TimeRange{Start: at(1, 0, 0), End: at(31, 0, 0)})
	require.NoError(t, err)
	assert.Equal(t, []TimeRange{rng(1, 9, 0, 9, 30), rng(5, 9, 0, 9, 30), rng(7, 9, 0, 9, 30)}, got)

	_, err = ExpandRecurringRule(RecurringRule{StartTime: at(1, 9, 0)}, rng(1, 0, 0, 2, 0))
	assert.Error(t, err)
}

func TestFormatSlotForUser(t *testing.T) {
	tr := rng(10, 10, 0, 11, 0)
	assert.Equal(t, "Пятница, 10.01.2025, 10:00–11:00", FormatSlotForUser(tr, time.UTC, false, ""))
	assert.Equal(t, "Пятница, 10.01.2025, 13:00–14:00 (ID: 42)",
		FormatSlotForUser(tr, time.FixedZone("MSK", 3*3600), true, "42"))
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	p := Paginate(items, 2, 2)
	assert.Equal(t, []int{3, 4}, p.Items)
	assert.True(t, p.HasNext)
	assert.True(t, p.HasPrev)
	assert.Equal(t, 5, p.Total)

	last := Paginate(items, 10, 2)
	assert.Empty(t, last.Items)
	assert.False(t, last.HasNext)

	req := PageRequest{Page: 3, PageSize: 1000}
	assert.Equal(t, MaxPageSize, req.Limit())
	assert.Equal(t, 2*MaxPageSize, req.Offset())
}

type fakeTelegramStore map[int64]*TelegramUser

func (f fakeTelegramStore) FindByTelegramID(_ context.Context, id int64) (*TelegramUser, error) {
	if id == 500 {
		return nil, errors.New("db down")
	}
	return f[id], nil
}

func TestValidateTelegramUser(t *testing.T) {
	store := fakeTelegramStore{
		1: {ID: uuid.New(), TelegramID: 1, Role: "master", Status: UserStatusActive},
		2: {ID: uuid.New(), TelegramID: 2, Role: "client", Status: UserStatusBlocked},
	}
	ctx := context.Background()

	u, err := ValidateTelegramUser(ctx, store, 1)
	require.NoError(t, err)
	assert.Equal(t, "master", u.Role)

	_, err = ValidateTelegramUser(ctx, store, 0)
	assert.ErrorIs(t, err, ErrInvalidTelegramID)
	_, err = ValidateTelegramUser(ctx, store, 2)
	assert.ErrorIs(t, err, ErrUserInactive)
	_, err = ValidateTelegramUser(ctx, store, 3)
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = ValidateTelegramUser(ctx, store, 500)
	assert.EqualError(t, err, "db down")
}
