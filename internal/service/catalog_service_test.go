package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Leganyst/salon-crm/internal/apperr"
	"github.com/Leganyst/salon-crm/internal/calendar"
	"github.com/Leganyst/salon-crm/internal/logger"
	"github.com/Leganyst/salon-crm/internal/model"
)

func (f *fixture) catalog() *CatalogService {
	return NewCatalogService(f.db, f.cache, logger.Discard())
}

func TestCatalog_CreateSalonDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	salon, err := f.catalog().CreateSalon(ctx, SalonInput{Name: "  Орхидея ", Currency: "eur"})
	require.NoError(t, err)
	assert.Equal(t, "Орхидея", salon.Name)
	assert.Equal(t, "EUR", salon.Currency)
	assert.Equal(t, model.DefaultTimeZone, salon.TimeZone)
	assert.Equal(t, model.DefaultSlotStepMin, salon.SlotStepMin)
	assert.True(t, salon.LoyaltyRate.Equal(model.DefaultLoyaltyRate))

	bad := decimal.NewFromFloat(1.5)
	_, err = f.catalog().CreateSalon(ctx, SalonInput{Name: "X", LoyaltyRate: &bad})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = f.catalog().CreateSalon(ctx, SalonInput{Name: "X", TimeZone: "Mars/Olympus"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	inactive := false
	_, err = f.catalog().UpdateSalon(ctx, salon.ID, SalonInput{Name: "Орхидея", IsActive: &inactive})
	require.NoError(t, err)
	salons, err := f.catalog().ListSalons(ctx)
	require.NoError(t, err)
	require.Len(t, salons, 1)
	assert.Equal(t, f.salon.ID, salons[0].ID)
}

func TestCatalog_Services(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.catalog()

	manicure, err := svc.CreateService(ctx, f.salon.ID, ServiceInput{
		Name: "Маникюр", Category: "nails", DurationMin: 90, Price: decimal.RequireFromString("1500.005"),
	})
	require.NoError(t, err)
	assert.True(t, manicure.Price.Equal(decimal.RequireFromString("1500.01")))

	_, err = svc.CreateService(ctx, f.salon.ID, ServiceInput{Name: "Пустая", DurationMin: 0})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	nails, err := svc.ListServices(ctx, f.salon.ID, true, "nails")
	require.NoError(t, err)
	require.Len(t, nails, 1)
	assert.Equal(t, manicure.ID, nails[0].ID)

	off := false
	updated, err := svc.UpdateService(ctx, f.salon.ID, manicure.ID, ServiceInput{Name: "Маникюр", Category: "nails", DurationMin: 60, Price: decimal.NewFromInt(1200), IsActive: &off})
	require.NoError(t, err)
	assert.False(t, updated.IsActive)
	active, err := svc.ListServices(ctx, f.salon.ID, true, "")
	require.NoError(t, err)
	assert.Len(t, active, 1)

	require.NoError(t, svc.DeleteService(ctx, f.salon.ID, manicure.ID))
	_, err = svc.GetService(ctx, f.salon.ID, manicure.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	f.book(f.employee, f.client, f.at(0, 11, 0), model.BookingStatusConfirmed)
	err = svc.DeleteService(ctx, f.salon.ID, f.service.ID)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestCatalog_Employees(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.catalog()

	e, err := svc.CreateEmployee(ctx, f.salon.ID, EmployeeInput{DisplayName: "вера", Position: "колорист", ServiceIDs: []uuid.UUID{f.service.ID}})
	require.NoError(t, err)
	assert.Equal(t, "Вера", e.DisplayName)
	assert.True(t, e.IsActive)

	other, err := svc.CreateSalon(ctx, SalonInput{Name: "Чужой салон"})
	require.NoError(t, err)
	foreign, err := svc.CreateService(ctx, other.ID, ServiceInput{Name: "Чужая", DurationMin: 30})
	require.NoError(t, err)
	err = svc.AssignServices(ctx, f.salon.ID, e.ID, []uuid.UUID{foreign.ID})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	userID := uuid.New()
	_, err = svc.UpdateEmployee(ctx, f.salon.ID, e.ID, EmployeeInput{DisplayName: "Вера", UserID: &userID})
	require.NoError(t, err)
	byUser, err := svc.EmployeeByUser(ctx, f.salon.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, byUser.ID)

	list, err := svc.ListEmployees(ctx, f.salon.ID, true)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, svc.DeleteEmployee(ctx, f.salon.ID, e.ID))
	_, err = svc.GetEmployee(ctx, f.salon.ID, e.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	f.book(f.employee, f.client, f.at(0, 11, 0), model.BookingStatusConfirmed)
	err = svc.DeleteEmployee(ctx, f.salon.ID, f.employee.ID)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestCatalog_SchedulesDriveAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.catalog()
	avail := f.availability()

	slots, err := avail.FindSlots(ctx, f.dayQuery(0))
	require.NoError(t, err)
	require.Len(t, slots, 14)

	// только вторники, 12:00–15:00; кэш сбрасывается сменой расписания
	_, err = svc.SetSchedules(ctx, f.salon.ID, f.employee.ID, []ScheduleInput{{
		Rules: []calendar.WorkingDayRule{{Weekdays: []int{2}, Start: "12:00", End: "15:00"}},
	}})
	require.NoError(t, err)

	slots, err = avail.FindSlots(ctx, f.dayQuery(0))
	require.NoError(t, err)
	assert.Empty(t, slots)

	slots, err = avail.FindSlots(ctx, f.dayQuery(1))
	require.NoError(t, err)
	assert.Equal(t, []string{"12:00", "12:30", "13:00", "13:30", "14:00"}, slotStarts(slots))

	schedules, err := svc.ListSchedules(ctx, f.salon.ID, f.employee.ID)
	require.NoError(t, err)
	assert.Len(t, schedules, 1)

	_, err = svc.SetSchedules(ctx, f.salon.ID, f.employee.ID, []ScheduleInput{{
		Rules: []calendar.WorkingDayRule{{Weekdays: []int{8}, Start: "12:00", End: "15:00"}},
	}})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestCatalog_RecurringTimeOff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.catalog()

	rule := calendar.RecurringRule{
		Freq:      calendar.FreqDaily,
		Interval:  1,
		StartTime: f.at(0, 16, 0),
		Duration:  time.Hour,
	}
	window := calendar.TimeRange{Start: f.at(0, 0, 0), End: f.at(3, 0, 0)}
	items, err := svc.AddRecurringTimeOff(ctx, f.salon.ID, f.employee.ID, rule, window, "учёба")
	require.NoError(t, err)
	require.Len(t, items, 3)

	// 16:00–17:00 занято: уходят старты 15:30, 16:00 и 16:30
	slots, err := f.availability().FindSlots(ctx, f.dayQuery(1))
	require.NoError(t, err)
	assert.Len(t, slots, 11)
	assert.NotContains(t, slotStarts(slots), "16:00")

	list, err := svc.ListTimeOff(ctx, f.salon.ID, f.employee.ID, window.Start, window.End)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.NoError(t, svc.DeleteTimeOff(ctx, f.salon.ID, f.employee.ID, list[0].ID))

	_, err = svc.AddRecurringTimeOff(ctx, f.salon.ID, f.employee.ID, rule,
		calendar.TimeRange{Start: f.at(0, 0, 0), End: f.at(400, 0, 0)}, "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestCatalog_Holidays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.catalog()

	h, err := svc.AddHoliday(ctx, f.salon.ID, f.at(1, 0, 0), "санитарный день")
	require.NoError(t, err)
	_, err = svc.AddHoliday(ctx, f.salon.ID, f.at(1, 12, 0), "дубль")
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	list, err := svc.ListHolidays(ctx, f.salon.ID, f.at(0, 0, 0), f.at(7, 0, 0))
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, svc.DeleteHoliday(ctx, f.salon.ID, h.ID))
	err = svc.DeleteHoliday(ctx, f.salon.ID, h.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
