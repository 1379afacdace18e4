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
	"github.com/Leganyst/salon-crm/internal/logger"
	"github.com/Leganyst/salon-crm/internal/model"
	"github.com/Leganyst/salon-crm/internal/repository"
)

func TestAnalyticsService_Summary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	boris := f.addEmployee("Борис")

	// визит неделей раньше делает клиента вернувшимся
	f.book(f.employee, f.client, f.at(-7, 10, 0), model.BookingStatusCompleted)

	done := f.book(f.employee, f.client, f.at(0, 10, 0), model.BookingStatusConfirmed)
	_, err := f.bookings(nil).Complete(ctx, CompleteBookingInput{SalonID: f.salon.ID, BookingID: done.ID, Method: model.PaymentMethodCard})
	require.NoError(t, err)
	f.book(f.employee, f.client, f.at(0, 11, 0), model.BookingStatusCancelled)
	f.book(f.employee, f.client, f.at(0, 15, 0), model.BookingStatusConfirmed)
	f.book(boris, f.client, f.at(1, 10, 0), model.BookingStatusPending)

	svc := NewAnalyticsService(f.db, f.cache, logger.Discard())
	sum, err := svc.Summary(ctx, f.salon.ID, f.at(0, 0, 0), f.at(7, 0, 0))
	require.NoError(t, err)

	assert.True(t, sum.Paid.Equal(decimal.NewFromInt(2000)), sum.Paid.String())
	assert.True(t, sum.Refunded.IsZero())
	assert.True(t, sum.Revenue.Equal(decimal.NewFromInt(2000)))
	assert.True(t, sum.AverageCheck.Equal(decimal.NewFromInt(2000)))
	assert.Equal(t, int64(4), sum.TotalBookings)
	assert.Equal(t, map[string]int64{"completed": 1, "cancelled": 1, "confirmed": 1, "pending": 1}, sum.BookingsByStatus)
	assert.Equal(t, int64(1), sum.ReturningClients)

	require.Len(t, sum.TopServices, 1)
	assert.Equal(t, "Стрижка", sum.TopServices[0].Name)
	assert.Equal(t, int64(1), sum.TopServices[0].Count)

	require.Len(t, sum.EmployeeLoad, 2)
	assert.Equal(t, f.employee.ID, sum.EmployeeLoad[0].EmployeeID)
	assert.Equal(t, int64(2), sum.EmployeeLoad[0].Bookings)
	assert.Equal(t, int64(120), sum.EmployeeLoad[0].BookedMinutes)
	assert.Equal(t, boris.ID, sum.EmployeeLoad[1].EmployeeID)
	assert.Equal(t, int64(60), sum.EmployeeLoad[1].BookedMinutes)

	// повторный запрос отдаётся из кэша
	f.book(f.employee, f.client, f.at(2, 10, 0), model.BookingStatusConfirmed)
	cached, err := svc.Summary(ctx, f.salon.ID, f.at(0, 0, 0), f.at(7, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(4), cached.TotalBookings)
}

func TestAnalyticsService_InvalidPeriod(t *testing.T) {
	svc := NewAnalyticsService(nil, nil, logger.Discard())
	now := time.Now()
	_, err := svc.Summary(context.Background(), uuid.New(), now, now)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestEmployeeLoad(t *testing.T) {
	anna, boris := uuid.New(), uuid.New()
	base := time.Date(2030, 1, 7, 7, 0, 0, 0, time.UTC)
	slices := []repository.BookingSlice{
		{EmployeeID: boris, DisplayName: "Борис", StartsAt: base, EndsAt: base.Add(time.Hour), Status: model.BookingStatusCompleted, Price: decimal.NewFromInt(1500)},
		{EmployeeID: anna, DisplayName: "Анна", StartsAt: base, EndsAt: base.Add(30 * time.Minute), Status: model.BookingStatusConfirmed, Price: decimal.NewFromInt(900)},
		{EmployeeID: anna, DisplayName: "Анна", StartsAt: base.Add(time.Hour), EndsAt: base.Add(90 * time.Minute), Status: model.BookingStatusCompleted, Price: decimal.NewFromInt(900)},
	}

	load := employeeLoad(slices)
	require.Len(t, load, 2)
	// равная загрузка: порядок по имени
	assert.Equal(t, "Анна", load[0].Name)
	assert.Equal(t, int64(60), load[0].BookedMinutes)
	assert.True(t, load[0].Revenue.Equal(decimal.NewFromInt(900)))
	assert.Equal(t, "Борис", load[1].Name)
	assert.True(t, load[1].Revenue.Equal(decimal.NewFromInt(1500)))
}
