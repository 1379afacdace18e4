package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Leganyst/salon-crm/internal/apperr"
	"github.com/Leganyst/salon-crm/internal/cache"
	"github.com/Leganyst/salon-crm/internal/calendar"
	"github.com/Leganyst/salon-crm/internal/model"
	"github.com/Leganyst/salon-crm/internal/repository"
)

type CreateBookingInput struct {
	SalonID    uuid.UUID
	ClientID   uuid.UUID
	ServiceID  uuid.UUID
	EmployeeID uuid.UUID
	StartsAt   time.Time
	Source     model.Channel
	Comment    string
	// Кто из сотрудников создал запись; nil — клиент сам через бота.
	UserID *uuid.UUID
}

type CompleteBookingInput struct {
	SalonID        uuid.UUID
	BookingID      uuid.UUID
	Method         model.PaymentMethod
	PointsToRedeem int64
	UserID         *uuid.UUID
}

// AffectedBooking — отменённая запись, клиента которой нужно уведомить.
type AffectedBooking struct {
	BookingID        uuid.UUID `json:"booking_id"`
	ClientID         uuid.UUID `json:"client_id"`
	ClientName       string    `json:"client_name"`
	ClientTelegramID *int64    `json:"client_telegram_id,omitempty"`
	EmployeeID       uuid.UUID `json:"employee_id"`
	ServiceID        uuid.UUID `json:"service_id"`
	StartsAt         time.Time `json:"starts_at"`
}

type BulkCancelResult struct {
	Cancelled int64             `json:"cancelled"`
	Affected  []AffectedBooking `json:"affected"`
}

type BookingService struct {
	db           *gorm.DB
	availability *AvailabilityService
	cache        cache.Cache
	notifier     Notifier
	now          Clock
	log          logrus.FieldLogger
}

func NewBookingService(db *gorm.DB, availability *AvailabilityService, c cache.Cache, notifier Notifier, log logrus.FieldLogger) *BookingService {
	return &BookingService{
		db:           db,
		availability: availability,
		cache:        c,
		notifier:     notifier,
		now:          systemClock,
		log:          log,
	}
}

func (s *BookingService) Create(ctx context.Context, in CreateBookingInput) (*model.Booking, error) {
	if in.SalonID == uuid.Nil || in.ClientID == uuid.Nil || in.ServiceID == uuid.Nil || in.EmployeeID == uuid.Nil {
		return nil, apperr.Validation("salon, client, service and employee are required", nil)
	}
	if in.StartsAt.IsZero() {
		return nil, apperr.Validation("start time is required", nil)
	}
	if in.Source == "" {
		in.Source = model.ChannelAdmin
	}
	start := truncateMinute(in.StartsAt)

	salon, err := loadSalon(ctx, s.db, in.SalonID)
	if err != nil {
		return nil, err
	}
	client, err := repository.NewGormClientRepository(s.db).GetByID(ctx, in.SalonID, in.ClientID)
	if err != nil {
		return nil, dbErr("client", err)
	}
	if client.IsBlocked() {
		return nil, apperr.Forbidden("client is blocked", nil)
	}
	svc, err := repository.NewGormServiceRepository(s.db).GetByID(ctx, in.SalonID, in.ServiceID)
	if err != nil {
		return nil, dbErr("service", err)
	}
	if !svc.IsActive {
		return nil, apperr.Validation("service is not available for booking", nil)
	}
	employee, err := s.bookableEmployee(ctx, s.db, in.SalonID, in.EmployeeID, in.ServiceID)
	if err != nil {
		return nil, err
	}
	byStaff := in.UserID != nil || in.Source == model.ChannelAdmin
	if err := s.checkLead(salon, start, byStaff); err != nil {
		return nil, err
	}

	status := model.BookingStatusPending
	if byStaff {
		status = model.BookingStatusConfirmed
	}
	booking := &model.Booking{
		SalonID:    in.SalonID,
		ClientID:   client.ID,
		EmployeeID: employee.ID,
		ServiceID:  svc.ID,
		StartsAt:   start,
		EndsAt:     start.Add(svc.Duration()),
		Status:     status,
		Price:      svc.Price,
		Source:     in.Source,
		Comment:    in.Comment,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repository.NewGormEmployeeRepository(tx).Lock(ctx, employee.ID); err != nil {
			return dbErr("employee lock", err)
		}
		r := calendar.TimeRange{Start: booking.StartsAt, End: booking.EndsAt}
		if err := s.availability.IsAvailable(ctx, tx, salon, employee, r, nil); err != nil {
			return err
		}
		if err := repository.NewGormBookingRepository(tx).Create(ctx, booking); err != nil {
			return dbErr("create booking", err)
		}
		return recordEvent(ctx, tx, in.SalonID, model.EventTypeBookingCreated, &booking.ID, in.UserID,
			fmt.Sprintf("source=%s status=%s", booking.Source, booking.Status))
	})
	if err != nil {
		return nil, err
	}

	invalidateAvailability(ctx, s.cache, s.log, in.SalonID)
	s.log.WithFields(logrus.Fields{
		"salon_id":    in.SalonID,
		"booking_id":  booking.ID,
		"employee_id": employee.ID,
		"source":      booking.Source,
	}).Info("booking created")

	return s.Get(ctx, in.SalonID, booking.ID)
}

func (s *BookingService) Get(ctx context.Context, salonID, id uuid.UUID) (*model.Booking, error) {
	b, err := repository.NewGormBookingRepository(s.db).GetByID(ctx, salonID, id)
	if err != nil {
		return nil, dbErr("booking", err)
	}
	return b, nil
}

// History — журнал событий записи в порядке появления.
func (s *BookingService) History(ctx context.Context, salonID, id uuid.UUID) ([]model.Event, error) {
	if _, err := s.Get(ctx, salonID, id); err != nil {
		return nil, err
	}
	events, err := repository.NewGormEventRepository(s.db).ListByBooking(ctx, id)
	if err != nil {
		return nil, dbErr("events", err)
	}
	return events, nil
}

func (s *BookingService) List(ctx context.Context, f repository.BookingFilter) (calendar.Page[model.Booking], error) {
	if f.SalonID == uuid.Nil {
		return calendar.Page[model.Booking]{}, apperr.Validation("salon_id is required", nil)
	}
	items, total, err := repository.NewGormBookingRepository(s.db).List(ctx, f)
	if err != nil {
		return calendar.Page[model.Booking]{}, dbErr("bookings", err)
	}
	return calendar.NewPage(items, f.Page, total), nil
}

// Upcoming — будущие активные записи клиента.
func (s *BookingService) Upcoming(ctx context.Context, salonID, clientID uuid.UUID) ([]model.Booking, error) {
	now := s.now()
	page, err := s.List(ctx, repository.BookingFilter{
		SalonID:  salonID,
		ClientID: &clientID,
		Statuses: model.ActiveBookingStatuses,
		From:     &now,
		Page:     calendar.PageRequest{Page: 1, PageSize: calendar.MaxPageSize},
	})
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// Cancel отменяет активную запись. Клиент не может отменить запись позже, чем
// за CancelWindowMin до начала; у сотрудников такого ограничения нет.
func (s *BookingService) Cancel(ctx context.Context, salonID, id uuid.UUID, reason string, byStaff bool) (*model.Booking, error) {
	salon, err := loadSalon(ctx, s.db, salonID)
	if err != nil {
		return nil, err
	}
	b, err := s.Get(ctx, salonID, id)
	if err != nil {
		return nil, err
	}
	if !b.Status.IsActive() {
		return nil, apperr.Conflict(fmt.Sprintf("booking is already %s", b.Status), nil)
	}
	now := s.now()
	if !byStaff && now.Add(time.Duration(salon.CancelWindowMin)*time.Minute).After(b.StartsAt) {
		return nil, apperr.Forbidden("it is too late to cancel this booking, please contact the salon", nil)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := repository.NewGormBookingRepository(tx).CancelByIDs(ctx, []uuid.UUID{b.ID}, now, reason)
		if err != nil {
			return dbErr("cancel booking", err)
		}
		if n == 0 {
			return apperr.Conflict("booking is no longer active", nil)
		}
		return recordEvent(ctx, tx, salonID, model.EventTypeBookingCancelled, &b.ID, nil, reason)
	})
	if err != nil {
		return nil, err
	}
	invalidateAvailability(ctx, s.cache, s.log, salonID)
	s.log.WithFields(logrus.Fields{"salon_id": salonID, "booking_id": id, "by_staff": byStaff}).Info("booking cancelled")
	return s.Get(ctx, salonID, id)
}

// Reschedule переносит запись на новое время у того же мастера. Для клиента
// действует то же минимальное время до визита, что и при создании.
func (s *BookingService) Reschedule(ctx context.Context, salonID, id uuid.UUID, newStart time.Time, byStaff bool) (*model.Booking, error) {
	if newStart.IsZero() {
		return nil, apperr.Validation("start time is required", nil)
	}
	salon, err := loadSalon(ctx, s.db, salonID)
	if err != nil {
		return nil, err
	}
	b, err := s.Get(ctx, salonID, id)
	if err != nil {
		return nil, err
	}
	if !b.Status.IsActive() {
		return nil, apperr.Conflict(fmt.Sprintf("booking is already %s", b.Status), nil)
	}
	start := truncateMinute(newStart)
	if err := s.checkLead(salon, start, byStaff); err != nil {
		return nil, err
	}
	duration := b.EndsAt.Sub(b.StartsAt)
	if b.Service != nil && b.Service.DurationMin > 0 {
		duration = b.Service.Duration()
	}
	employee, err := s.bookableEmployee(ctx, s.db, salonID, b.EmployeeID, b.ServiceID)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repository.NewGormEmployeeRepository(tx).Lock(ctx, employee.ID); err != nil {
			return dbErr("employee lock", err)
		}
		bookings := repository.NewGormBookingRepository(tx)
		// статус мог измениться, пока мы проверяли время
		current, err := bookings.GetForUpdate(ctx, salonID, id)
		if err != nil {
			return dbErr("booking", err)
		}
		if !current.Status.IsActive() {
			return apperr.Conflict(fmt.Sprintf("booking is already %s", current.Status), nil)
		}
		r := calendar.TimeRange{Start: start, End: start.Add(duration)}
		if err := s.availability.IsAvailable(ctx, tx, salon, employee, r, &current.ID); err != nil {
			return err
		}
		n, err := bookings.Reschedule(ctx, current.ID, r.Start, r.End)
		if err != nil {
			return dbErr("reschedule booking", err)
		}
		if n == 0 {
			return apperr.Conflict("booking is no longer active", nil)
		}
		return recordEvent(ctx, tx, salonID, model.EventTypeBookingRescheduled, &current.ID, nil,
			fmt.Sprintf("from=%s to=%s", current.StartsAt.UTC().Format(time.RFC3339), r.Start.UTC().Format(time.RFC3339)))
	})
	if err != nil {
		return nil, err
	}
	invalidateAvailability(ctx, s.cache, s.log, salonID)
	s.log.WithFields(logrus.Fields{"salon_id": salonID, "booking_id": id, "by_staff": byStaff}).Info("booking rescheduled")
	return s.Get(ctx, salonID, id)
}

func (s *BookingService) Confirm(ctx context.Context, salonID, id uuid.UUID, userID *uuid.UUID) (*model.Booking, error) {
	return s.transition(ctx, salonID, id, userID, model.EventTypeBookingConfirmed, func(b *model.Booking) error {
		if b.Status != model.BookingStatusPending {
			return apperr.Conflict(fmt.Sprintf("only pending bookings can be confirmed, booking is %s", b.Status), nil)
		}
		b.Status = model.BookingStatusConfirmed
		return nil
	})
}

// MarkNoShow помечает неявку. Только для уже начавшихся записей.
func (s *BookingService) MarkNoShow(ctx context.Context, salonID, id uuid.UUID, userID *uuid.UUID) (*model.Booking, error) {
	now := s.now()
	return s.transition(ctx, salonID, id, userID, model.EventTypeBookingNoShow, func(b *model.Booking) error {
		if !b.Status.IsActive() {
			return apperr.Conflict(fmt.Sprintf("booking is already %s", b.Status), nil)
		}
		if b.StartsAt.After(now) {
			return apperr.Validation("booking has not started yet", nil)
		}
		b.Status = model.BookingStatusNoShow
		return nil
	})
}

func (s *BookingService) transition(ctx context.Context, salonID, id uuid.UUID, userID *uuid.UUID, event model.EventType, apply func(*model.Booking) error) (*model.Booking, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bookings := repository.NewGormBookingRepository(tx)
		b, err := bookings.GetForUpdate(ctx, salonID, id)
		if err != nil {
			return dbErr("booking", err)
		}
		if err := apply(b); err != nil {
			return err
		}
		if err := bookings.Save(ctx, b); err != nil {
			return dbErr("save booking", err)
		}
		return recordEvent(ctx, tx, salonID, event, &b.ID, userID, string(b.Status))
	})
	if err != nil {
		return nil, err
	}
	invalidateAvailability(ctx, s.cache, s.log, salonID)
	return s.Get(ctx, salonID, id)
}

// Complete закрывает визит: списывает баллы (1 балл = 1 единица валюты),
// принимает оплату остатка и начисляет баллы с оплаченной суммы.
func (s *BookingService) Complete(ctx context.Context, in CompleteBookingInput) (*model.Booking, error) {
	if in.Method == "" {
		in.Method = model.PaymentMethodCash
	}
	if !in.Method.Valid() || in.Method == model.PaymentMethodPoints {
		return nil, apperr.Validation("invalid payment method", nil)
	}
	if in.PointsToRedeem < 0 {
		return nil, apperr.Validation("points to redeem must not be negative", nil)
	}
	salon, err := loadSalon(ctx, s.db, in.SalonID)
	if err != nil {
		return nil, err
	}
	now := s.now()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bookings := repository.NewGormBookingRepository(tx)
		payments := repository.NewGormPaymentRepository(tx)
		ledger := repository.NewGormLoyaltyRepository(tx)

		b, err := bookings.GetByID(ctx, in.SalonID, in.BookingID)
		if err != nil {
			return dbErr("booking", err)
		}
		if !b.Status.IsActive() {
			return apperr.Conflict(fmt.Sprintf("booking is already %s", b.Status), nil)
		}

		redeem := decimal.NewFromInt(in.PointsToRedeem)
		if redeem.GreaterThan(b.Price) {
			return apperr.Validation("cannot redeem more points than the booking price", nil)
		}
		if in.PointsToRedeem > 0 {
			if err := lockClient(ctx, tx, b.ClientID); err != nil {
				return dbErr("client lock", err)
			}
			balance, err := ledger.Balance(ctx, in.SalonID, b.ClientID)
			if err != nil {
				return dbErr("loyalty balance", err)
			}
			if balance < in.PointsToRedeem {
				return apperr.Validation(fmt.Sprintf("insufficient loyalty points: balance %d", balance), nil)
			}
			if err := payments.Create(ctx, &model.Payment{
				SalonID:   in.SalonID,
				BookingID: &b.ID,
				ClientID:  b.ClientID,
				Amount:    redeem,
				Method:    model.PaymentMethodPoints,
				Status:    model.PaymentStatusPaid,
				PaidAt:    now,
			}); err != nil {
				return dbErr("points payment", err)
			}
			if err := ledger.Append(ctx, &model.LoyaltyTransaction{
				SalonID:   in.SalonID,
				ClientID:  b.ClientID,
				BookingID: &b.ID,
				Points:    -in.PointsToRedeem,
				Kind:      model.LoyaltyKindRedeem,
				Comment:   "оплата визита баллами",
			}); err != nil {
				return dbErr("loyalty redeem", err)
			}
			if err := recordEvent(ctx, tx, in.SalonID, model.EventTypeLoyaltyRedeemed, &b.ID, in.UserID,
				fmt.Sprintf("points=%d", in.PointsToRedeem)); err != nil {
				return err
			}
		}

		cash := b.Price.Sub(redeem)
		if cash.IsPositive() {
			if err := payments.Create(ctx, &model.Payment{
				SalonID:   in.SalonID,
				BookingID: &b.ID,
				ClientID:  b.ClientID,
				Amount:    cash,
				Method:    in.Method,
				Status:    model.PaymentStatusPaid,
				PaidAt:    now,
			}); err != nil {
				return dbErr("payment", err)
			}
		}

		if earned := EarnedPoints(cash, salon.LoyaltyRate); earned > 0 {
			if err := ledger.Append(ctx, &model.LoyaltyTransaction{
				SalonID:   in.SalonID,
				ClientID:  b.ClientID,
				BookingID: &b.ID,
				Points:    earned,
				Kind:      model.LoyaltyKindEarn,
				Comment:   "начисление за визит",
			}); err != nil {
				return dbErr("loyalty earn", err)
			}
		}

		b.Status = model.BookingStatusCompleted
		b.CompletedAt = &now
		if err := bookings.Save(ctx, b); err != nil {
			return dbErr("complete booking", err)
		}
		if err := repository.NewGormClientRepository(tx).TouchLastVisit(ctx, b.ClientID, b.StartsAt); err != nil {
			return dbErr("client last visit", err)
		}
		return recordEvent(ctx, tx, in.SalonID, model.EventTypeBookingCompleted, &b.ID, in.UserID,
			fmt.Sprintf("method=%s paid=%s points=%d", in.Method, cash.StringFixed(2), in.PointsToRedeem))
	})
	if err != nil {
		return nil, err
	}
	invalidateAvailability(ctx, s.cache, s.log, in.SalonID)
	return s.Get(ctx, in.SalonID, in.BookingID)
}

// EarnedPoints — floor(amount * rate).
func EarnedPoints(amount, rate decimal.Decimal) int64 {
	if !amount.IsPositive() || !rate.IsPositive() {
		return 0
	}
	return amount.Mul(rate).Floor().IntPart()
}

// BulkCancelEmployee отменяет все активные записи мастера в окне (болезнь,
// закрытие смены) и возвращает их для уведомления клиентов.
func (s *BookingService) BulkCancelEmployee(ctx context.Context, salonID, employeeID uuid.UUID, window calendar.TimeRange, reason string) (*BulkCancelResult, error) {
	if window.IsEmpty() {
		return nil, apperr.Validation("end must be after start", nil)
	}
	if _, err := repository.NewGormEmployeeRepository(s.db).GetByID(ctx, salonID, employeeID); err != nil {
		return nil, dbErr("employee", err)
	}
	now := s.now()
	result := &BulkCancelResult{Affected: []AffectedBooking{}}
	clients := make(map[uuid.UUID]model.Client)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repository.NewGormEmployeeRepository(tx).Lock(ctx, employeeID); err != nil {
			return dbErr("employee lock", err)
		}
		bookingRepo := repository.NewGormBookingRepository(tx)
		active, err := bookingRepo.ListActiveOverlapping(ctx, []uuid.UUID{employeeID}, window.Start, window.End, nil)
		if err != nil {
			return dbErr("bookings", err)
		}
		if len(active) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, 0, len(active))
		clientIDs := make([]uuid.UUID, 0, len(active))
		for _, b := range active {
			ids = append(ids, b.ID)
			clientIDs = append(clientIDs, b.ClientID)
		}
		var rows []model.Client
		if err := tx.WithContext(ctx).Where("id IN ?", clientIDs).Find(&rows).Error; err != nil {
			return dbErr("clients", err)
		}
		for _, c := range rows {
			clients[c.ID] = c
		}

		n, err := bookingRepo.CancelByIDs(ctx, ids, now, reason)
		if err != nil {
			return dbErr("cancel bookings", err)
		}
		result.Cancelled = n

		for _, b := range active {
			c := clients[b.ClientID]
			result.Affected = append(result.Affected, AffectedBooking{
				BookingID:        b.ID,
				ClientID:         b.ClientID,
				ClientName:       c.Name,
				ClientTelegramID: c.TelegramID,
				EmployeeID:       b.EmployeeID,
				ServiceID:        b.ServiceID,
				StartsAt:         b.StartsAt,
			})
			if err := recordEvent(ctx, tx, salonID, model.EventTypeBookingCancelled, uuidPtr(b.ID), nil, "bulk: "+reason); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Cancelled == 0 {
		return result, nil
	}

	invalidateAvailability(ctx, s.cache, s.log, salonID)
	s.log.WithFields(logrus.Fields{
		"salon_id":    salonID,
		"employee_id": employeeID,
		"cancelled":   result.Cancelled,
	}).Info("employee bookings cancelled")

	s.notifyCancelled(ctx, salonID, result.Affected, clients, reason)
	return result, nil
}

func (s *BookingService) notifyCancelled(ctx context.Context, salonID uuid.UUID, affected []AffectedBooking, clients map[uuid.UUID]model.Client, reason string) {
	if s.notifier == nil {
		return
	}
	salon, err := loadSalon(ctx, s.db, salonID)
	if err != nil {
		s.log.WithError(err).Warn("load salon for notifications")
		return
	}
	loc := salon.Location()
	for _, a := range affected {
		c, ok := clients[a.ClientID]
		if !ok {
			continue
		}
		text := fmt.Sprintf("%s, к сожалению, ваша запись на %s отменена.",
			c.Name, a.StartsAt.In(loc).Format("02.01.2006 15:04"))
		if reason != "" {
			text += " Причина: " + reason + "."
		}
		text += " Напишите нам, чтобы подобрать другое время."
		if err := s.notifier.Notify(ctx, &c, text); err != nil {
			s.log.WithFields(logrus.Fields{"booking_id": a.BookingID, "error": err}).Warn("cancel notification failed")
		}
	}
}

func (s *BookingService) bookableEmployee(ctx context.Context, db *gorm.DB, salonID, employeeID, serviceID uuid.UUID) (*model.Employee, error) {
	employees := repository.NewGormEmployeeRepository(db)
	e, err := employees.GetByID(ctx, salonID, employeeID)
	if err != nil {
		return nil, dbErr("employee", err)
	}
	if !e.IsActive {
		return nil, apperr.Validation("employee is not active", nil)
	}
	ok, err := employees.ProvidesService(ctx, e.ID, serviceID)
	if err != nil {
		return nil, dbErr("employee services", err)
	}
	if !ok {
		return nil, apperr.Validation("employee does not provide this service", nil)
	}
	return e, nil
}

// checkLead: в прошлое записать нельзя никому, клиентам — не раньше чем за BookingLeadMin.
func (s *BookingService) checkLead(salon *model.Salon, start time.Time, byStaff bool) error {
	now := s.now()
	if start.Before(now) {
		return apperr.Validation("cannot book in the past", nil)
	}
	if !byStaff && start.Before(now.Add(time.Duration(salon.BookingLeadMin)*time.Minute)) {
		return apperr.Validation(fmt.Sprintf("booking must be made at least %d minutes in advance", salon.BookingLeadMin), nil)
	}
	return nil
}

func recordEvent(ctx context.Context, tx *gorm.DB, salonID uuid.UUID, t model.EventType, bookingID, userID *uuid.UUID, details string) error {
	err := repository.NewGormEventRepository(tx).Create(ctx, &model.Event{
		SalonID:   salonID,
		EventType: t,
		BookingID: bookingID,
		UserID:    userID,
		Details:   details,
	})
	return dbErr("event", err)
}
