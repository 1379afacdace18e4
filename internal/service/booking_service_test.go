package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/Leganyst/salon-crm/internal/apperr"
	"github.com/Leganyst/salon-crm/internal/calendar"
	"github.com/Leganyst/salon-crm/internal/model"
	"github.com/Leganyst/salon-crm/internal/repository"
)

func (f *fixture) createInput(start time.Time) CreateBookingInput {
	staff := uuid.New()
	return CreateBookingInput{
		SalonID:    f.salon.ID,
		ClientID:   f.client.ID,
		ServiceID:  f.service.ID,
		EmployeeID: f.employee.ID,
		StartsAt:   start,
		Source:     model.ChannelAdmin,
		UserID:     &staff,
	}
}

func TestBookingCreate_StaffBookingIsConfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.bookings(nil).Create(ctx, f.createInput(f.at(0, 11, 0)))
	require.NoError(t, err)

	assert.Equal(t, model.BookingStatusConfirmed, b.Status)
	assert.True(t, b.StartsAt.Equal(f.at(0, 11, 0)))
	assert.True(t, b.EndsAt.Equal(f.at(0, 12, 0)))
	assert.True(t, b.Price.Equal(decimal.NewFromInt(2000)))
	require.NotNil(t, b.Client)
	assert.Equal(t, f.client.ID, b.Client.ID)

	events, err := repository.NewGormEventRepository(f.db).ListByBooking(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventTypeBookingCreated, events[0].EventType)
}

func TestBookingCreate_BotBookingIsPendingAndRespectsLead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.bookings(nil)

	in := f.createInput(f.at(0, 15, 0))
	in.UserID = nil
	in.Source = model.ChannelTelegram
	b, err := svc.Create(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusPending, b.Status)
	assert.Equal(t, model.ChannelTelegram, b.Source)

	in.StartsAt = f.at(0, 9, 30)
	_, err = svc.Create(ctx, in)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestBookingCreate_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.bookings(nil)

	_, err := svc.Create(ctx, f.createInput(f.at(0, 11, 0)))
	require.NoError(t, err)

	_, err = svc.Create(ctx, f.createInput(f.at(0, 11, 30)))
	assert.True(t, apperr.Is(err, apperr.KindConflict), "overlap: %v", err)

	_, err = svc.Create(ctx, f.createInput(f.at(0, 13, 0)))
	assert.True(t, apperr.Is(err, apperr.KindValidation), "lunch: %v", err)

	_, err = svc.Create(ctx, f.createInput(f.at(-1, 11, 0)))
	assert.True(t, apperr.Is(err, apperr.KindValidation), "past: %v", err)

	require.NoError(t, repository.NewGormClientRepository(f.db).SetStatus(ctx, f.salon.ID, f.client.ID, model.ClientStatusBlocked))
	_, err = svc.Create(ctx, f.createInput(f.at(0, 16, 0)))
	assert.True(t, apperr.Is(err, apperr.KindForbidden), "blocked: %v", err)
}

func TestBookingCancel_ClientWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.bookings(nil)

	soon := f.book(f.employee, f.client, f.at(0, 10, 30), model.BookingStatusConfirmed)
	_, err := svc.Cancel(ctx, f.salon.ID, soon.ID, "передумала", false)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	cancelled, err := svc.Cancel(ctx, f.salon.ID, soon.ID, "отмена администратором", true)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, "отмена администратором", cancelled.Comment)

	_, err = svc.Cancel(ctx, f.salon.ID, soon.ID, "", true)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	later := f.book(f.employee, f.client, f.at(0, 15, 0), model.BookingStatusPending)
	_, err = svc.Cancel(ctx, f.salon.ID, later.ID, "", false)
	assert.NoError(t, err)
}

func TestBookingReschedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.bookings(nil)

	b := f.book(f.employee, f.client, f.at(0, 11, 0), model.BookingStatusConfirmed)
	other := f.book(f.employee, f.client, f.at(0, 16, 0), model.BookingStatusConfirmed)

	moved, err := svc.Reschedule(ctx, f.salon.ID, b.ID, f.at(0, 11, 30), true)
	require.NoError(t, err)
	assert.True(t, moved.StartsAt.Equal(f.at(0, 11, 30)))
	assert.True(t, moved.EndsAt.Equal(f.at(0, 12, 30)))

	_, err = svc.Reschedule(ctx, f.salon.ID, b.ID, f.at(0, 15, 30), true)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = svc.Reschedule(ctx, f.salon.ID, other.ID, f.at(1, 10, 0), true)
	require.NoError(t, err)
	assert.True(t, f.loadBooking(other.ID).StartsAt.Equal(f.at(1, 10, 0)))
}

func TestBookingReschedule_ClientRespectsLead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.bookings(nil)
	require.NoError(t, f.db.Model(f.salon).Update("booking_lead_min", 180).Error)

	b := f.book(f.employee, f.client, f.at(0, 15, 0), model.BookingStatusConfirmed)

	_, err := svc.Reschedule(ctx, f.salon.ID, b.ID, f.at(0, 10, 30), false)
	assert.True(t, apperr.Is(err, apperr.KindValidation), "client: %v", err)
	assert.True(t, f.loadBooking(b.ID).StartsAt.Equal(f.at(0, 15, 0)))

	moved, err := svc.Reschedule(ctx, f.salon.ID, b.ID, f.at(0, 10, 30), true)
	require.NoError(t, err)
	assert.True(t, moved.StartsAt.Equal(f.at(0, 10, 30)))
}

// Запись отменяют между первичной проверкой и транзакцией переноса.
func TestBookingReschedule_CancelledInBetween(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.bookings(nil)

	b := f.book(f.employee, f.client, f.at(0, 11, 0), model.BookingStatusConfirmed)

	var once sync.Once
	require.NoError(t, f.db.Callback().Query().After("gorm:query").Register("test:cancel_after_read", func(tx *gorm.DB) {
		if tx.Statement.Table != "bookings" {
			return
		}
		once.Do(func() {
			require.NoError(t, f.db.Session(&gorm.Session{NewDB: true}).
				Exec("UPDATE bookings SET status = ? WHERE id = ?", model.BookingStatusCancelled, b.ID).Error)
		})
	}))

	_, err := svc.Reschedule(ctx, f.salon.ID, b.ID, f.at(0, 15, 0), true)
	assert.True(t, apperr.Is(err, apperr.KindConflict), "reschedule: %v", err)

	got := f.loadBooking(b.ID)
	assert.Equal(t, model.BookingStatusCancelled, got.Status)
	assert.True(t, got.StartsAt.Equal(f.at(0, 11, 0)))

	events, err := repository.NewGormEventRepository(f.db).ListByBooking(ctx, b.ID)
	require.NoError(t, err)
	for _, e := range events {
		assert.NotEqual(t, model.EventTypeBookingRescheduled, e.EventType)
	}
}

func TestBookingCreate_ConcurrentSameSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.bookings(nil)

	const workers = 5
	errs := make([]error, workers)
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		i := i
		g.Go(func() error {
			_, errs[i] = svc.Create(ctx, f.createInput(f.at(0, 11, 0)))
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.Is(err, apperr.KindConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, conflicts)

	var n int64
	require.NoError(t, f.db.Model(&model.Booking{}).Where("employee_id = ?", f.employee.ID).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestBookingReschedule_RacesCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.bookings(nil)

	for i := 0; i < 10; i++ {
		b := f.book(f.employee, f.client, f.at(i+1, 11, 0), model.BookingStatusConfirmed)

		var rescheduleErr, cancelErr error
		var g errgroup.Group
		g.Go(func() error {
			_, rescheduleErr = svc.Reschedule(ctx, f.salon.ID, b.ID, f.at(i+1, 15, 0), true)
			return nil
		})
		g.Go(func() error {
			_, cancelErr = svc.Cancel(ctx, f.salon.ID, b.ID, "отмена", true)
			return nil
		})
		require.NoError(t, g.Wait())

		require.NoError(t, cancelErr)
		if rescheduleErr != nil {
			assert.True(t, apperr.Is(rescheduleErr, apperr.KindConflict), "reschedule: %v", rescheduleErr)
		}
		assert.Equal(t, model.BookingStatusCancelled, f.loadBooking(b.ID).Status)
	}
}

func TestBookingConfirmAndNoShow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.bookings(nil)

	b := f.book(f.employee, f.client, f.at(0, 11, 0), model.BookingStatusPending)
	confirmed, err := svc.Confirm(ctx, f.salon.ID, b.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusConfirmed, confirmed.Status)

	_, err = svc.Confirm(ctx, f.salon.ID, b.ID, nil)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = svc.MarkNoShow(ctx, f.salon.ID, b.ID, nil)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	f.now = f.at(0, 12, 0)
	svc = f.bookings(nil)
	noShow, err := svc.MarkNoShow(ctx, f.salon.ID, b.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusNoShow, noShow.Status)
}

func TestBookingComplete_RedeemsAndEarnsPoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.bookings(nil)

	require.NoError(t, repository.NewGormLoyaltyRepository(f.db).Append(ctx, &model.LoyaltyTransaction{
		SalonID: f.salon.ID, ClientID: f.client.ID, Points: 300, Kind: model.LoyaltyKindAdjust,
	}))
	b := f.book(f.employee, f.client, f.at(0, 10, 0), model.BookingStatusConfirmed)

	_, err := svc.Complete(ctx, CompleteBookingInput{SalonID: f.salon.ID, BookingID: b.ID, Method: model.PaymentMethodCard, PointsToRedeem: 301})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	done, err := svc.Complete(ctx, CompleteBookingInput{SalonID: f.salon.ID, BookingID: b.ID, Method: model.PaymentMethodCard, PointsToRedeem: 300})
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	payments, err := repository.NewGormPaymentRepository(f.db).ListByBooking(ctx, f.salon.ID, b.ID)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	byMethod := map[model.PaymentMethod]decimal.Decimal{}
	for _, p := range payments {
		byMethod[p.Method] = p.Amount
	}
	assert.True(t, byMethod[model.PaymentMethodPoints].Equal(decimal.NewFromInt(300)))
	assert.True(t, byMethod[model.PaymentMethodCard].Equal(decimal.NewFromInt(1700)))

	// 300 - 300 + floor(1700 * 0.05)
	balance, err := repository.NewGormLoyaltyRepository(f.db).Balance(ctx, f.salon.ID, f.client.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(85), balance)

	client, err := repository.NewGormClientRepository(f.db).GetByID(ctx, f.salon.ID, f.client.ID)
	require.NoError(t, err)
	require.NotNil(t, client.LastVisitAt)

	_, err = svc.Complete(ctx, CompleteBookingInput{SalonID: f.salon.ID, BookingID: b.ID})
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestEarnedPoints(t *testing.T) {
	rate := decimal.NewFromFloat(0.05)
	assert.Equal(t, int64(85), EarnedPoints(decimal.NewFromInt(1700), rate))
	assert.Equal(t, int64(4), EarnedPoints(decimal.RequireFromString("99.99"), rate))
	assert.Equal(t, int64(0), EarnedPoints(decimal.Zero, rate))
	assert.Equal(t, int64(0), EarnedPoints(decimal.NewFromInt(1000), decimal.Zero))
}

func TestBookingList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.book(f.employee, f.client, f.at(0, 11, 0), model.BookingStatusConfirmed)
	f.book(f.employee, f.client, f.at(0, 15, 0), model.BookingStatusCancelled)
	f.book(f.employee, f.client, f.at(1, 11, 0), model.BookingStatusPending)

	page, err := f.bookings(nil).List(ctx, repository.BookingFilter{
		SalonID:  f.salon.ID,
		Statuses: model.ActiveBookingStatuses,
		Page:     calendar.PageRequest{Page: 1, PageSize: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.True(t, page.HasNext)
	require.Len(t, page.Items, 1)
	assert.True(t, page.Items[0].StartsAt.Equal(f.at(0, 11, 0)))

	upcoming, err := f.bookings(nil).Upcoming(ctx, f.salon.ID, f.client.ID)
	require.NoError(t, err)
	assert.Len(t, upcoming, 2)
}

func TestBookingService_BulkCancelEmployee_ReturnsRecipientsAndCancels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	notifier := &fakeNotifier{}
	svc := f.bookings(notifier)

	second := f.addClient("Ольга", "79990000002", 0)
	inWindow := f.book(f.employee, f.client, f.at(0, 11, 0), model.BookingStatusConfirmed)
	inWindowPending := f.book(f.employee, second, f.at(0, 15, 0), model.BookingStatusPending)
	outOfWindow := f.book(f.employee, f.client, f.at(1, 11, 0), model.BookingStatusConfirmed)
	completed := f.book(f.employee, f.client, f.at(0, 16, 0), model.BookingStatusCompleted)

	reason := "мастер заболел"
	window := calendar.TimeRange{Start: f.at(0, 10, 0), End: f.at(0, 19, 0)}
	res, err := svc.BulkCancelEmployee(ctx, f.salon.ID, f.employee.ID, window, reason)
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.Cancelled)
	require.Len(t, res.Affected, 2)
	first := res.Affected[0]
	assert.Equal(t, inWindow.ID, first.BookingID)
	assert.Equal(t, f.client.ID, first.ClientID)
	require.NotNil(t, first.ClientTelegramID)
	assert.Equal(t, int64(555), *first.ClientTelegramID)
	assert.Equal(t, f.employee.ID, first.EmployeeID)
	assert.Equal(t, f.service.ID, first.ServiceID)
	assert.Equal(t, inWindowPending.ID, res.Affected[1].BookingID)
	assert.Nil(t, res.Affected[1].ClientTelegramID)

	for _, id := range []uuid.UUID{inWindow.ID, inWindowPending.ID} {
		b := f.loadBooking(id)
		assert.Equal(t, model.BookingStatusCancelled, b.Status)
		assert.NotNil(t, b.CancelledAt)
		assert.Equal(t, reason, b.Comment)
	}
	assert.Equal(t, model.BookingStatusConfirmed, f.loadBooking(outOfWindow.ID).Status)
	assert.Equal(t, model.BookingStatusCompleted, f.loadBooking(completed.ID).Status)

	sent := notifier.messages()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0].Text, "07.01.2030 11:00")
	assert.Contains(t, sent[0].Text, reason)

	again, err := svc.BulkCancelEmployee(ctx, f.salon.ID, f.employee.ID, window, reason)
	require.NoError(t, err)
	assert.Zero(t, again.Cancelled)
	assert.Empty(t, again.Affected)
}
