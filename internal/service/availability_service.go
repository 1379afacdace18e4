package service

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Leganyst/salon-crm/internal/apperr"
	"github.com/Leganyst/salon-crm/internal/cache"
	"github.com/Leganyst/salon-crm/internal/calendar"
	"github.com/Leganyst/salon-crm/internal/model"
	"github.com/Leganyst/salon-crm/internal/repository"
)

const (
	// MaxAvailabilityWindow — максимальная длина окна поиска слотов.
	MaxAvailabilityWindow = 31 * 24 * time.Hour
	availabilityTTL       = 30 * time.Second
)

type AvailabilityQuery struct {
	SalonID    uuid.UUID
	ServiceID  uuid.UUID
	EmployeeID *uuid.UUID
	From       time.Time
	To         time.Time
}

// Slot — свободное окно под конкретную услугу у конкретного мастера.
type Slot struct {
	EmployeeID   uuid.UUID `json:"employee_id"`
	EmployeeName string    `json:"employee_name"`
	ServiceID    uuid.UUID `json:"service_id"`
	StartsAt     time.Time `json:"starts_at"`
	EndsAt       time.Time `json:"ends_at"`
}

// AvailabilityService считает свободное время мастеров: расписание минус
// перерывы, отгулы, праздники и активные записи.
type AvailabilityService struct {
	db    *gorm.DB
	cache cache.Cache
	now   Clock
	log   logrus.FieldLogger
}

func NewAvailabilityService(db *gorm.DB, c cache.Cache, log logrus.FieldLogger) *AvailabilityService {
	return &AvailabilityService{db: db, cache: c, now: systemClock, log: log}
}

func (s *AvailabilityService) FindSlots(ctx context.Context, q AvailabilityQuery) ([]Slot, error) {
	if q.SalonID == uuid.Nil || q.ServiceID == uuid.Nil {
		return nil, apperr.Validation("salon_id and service_id are required", nil)
	}
	if !q.To.After(q.From) {
		return nil, apperr.Validation("end must be after start", nil)
	}
	if q.To.Sub(q.From) > MaxAvailabilityWindow {
		return nil, apperr.Validation("window must not exceed 31 days", nil)
	}

	employeeKey := "any"
	if q.EmployeeID != nil {
		employeeKey = q.EmployeeID.String()
	}
	key := availabilityPrefix(q.SalonID) + cache.Key(
		q.ServiceID.String(),
		employeeKey,
		q.From.UTC().Format(time.RFC3339),
		q.To.UTC().Format(time.RFC3339),
	)
	if slots, ok := cache.GetJSON[[]Slot](ctx, s.cache, key); ok {
		return slots, nil
	}

	salon, err := loadSalon(ctx, s.db, q.SalonID)
	if err != nil {
		return nil, err
	}
	svc, err := repository.NewGormServiceRepository(s.db).GetByID(ctx, q.SalonID, q.ServiceID)
	if err != nil {
		return nil, dbErr("service", err)
	}
	if !svc.IsActive {
		return nil, apperr.Validation("service is not available for booking", nil)
	}

	employees, err := s.candidates(ctx, q)
	if err != nil {
		return nil, err
	}

	window := calendar.TimeRange{Start: q.From.UTC(), End: q.To.UTC()}
	if earliest := s.now().Add(time.Duration(salon.BookingLeadMin) * time.Minute); window.Start.Before(earliest) {
		window.Start = earliest
	}

	slots := []Slot{}
	if window.IsEmpty() || len(employees) == 0 {
		return slots, nil
	}

	free, err := freeTime(ctx, s.db, salon, employees, window)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(employees))
	for _, e := range employees {
		ids = append(ids, e.ID)
	}
	bookings, err := repository.NewGormBookingRepository(s.db).ListActiveOverlapping(ctx, ids, window.Start, window.End, nil)
	if err != nil {
		return nil, dbErr("bookings", err)
	}
	loc := salon.Location()
	busy := make(map[uuid.UUID][]calendar.TimeRange)
	for _, b := range bookings {
		busy[b.EmployeeID] = append(busy[b.EmployeeID], calendar.TimeRange{Start: b.StartsAt.In(loc), End: b.EndsAt.In(loc)})
	}

	step := time.Duration(salon.SlotStepMin) * time.Minute
	for _, e := range employees {
		for _, r := range calendar.FitSlots(calendar.Subtract(free[e.ID], busy[e.ID]), svc.Duration(), step) {
			if r.Start.Before(window.Start) {
				continue
			}
			slots = append(slots, Slot{
				EmployeeID:   e.ID,
				EmployeeName: e.DisplayName,
				ServiceID:    svc.ID,
				StartsAt:     r.Start.In(loc),
				EndsAt:       r.End.In(loc),
			})
		}
	}
	sort.SliceStable(slots, func(i, j int) bool {
		if !slots[i].StartsAt.Equal(slots[j].StartsAt) {
			return slots[i].StartsAt.Before(slots[j].StartsAt)
		}
		return slots[i].EmployeeName < slots[j].EmployeeName
	})

	if err := cache.SetJSON(ctx, s.cache, key, slots, availabilityTTL); err != nil {
		s.log.WithFields(logrus.Fields{"salon_id": q.SalonID, "error": err}).Warn("availability cache set failed")
	}
	return slots, nil
}

func (s *AvailabilityService) candidates(ctx context.Context, q AvailabilityQuery) ([]model.Employee, error) {
	employees := repository.NewGormEmployeeRepository(s.db)
	if q.EmployeeID == nil {
		list, err := employees.ListByService(ctx, q.SalonID, q.ServiceID)
		if err != nil {
			return nil, dbErr("employees", err)
		}
		return list, nil
	}
	e, err := employees.GetByID(ctx, q.SalonID, *q.EmployeeID)
	if err != nil {
		return nil, dbErr("employee", err)
	}
	if !e.IsActive {
		return nil, apperr.Validation("employee is not active", nil)
	}
	ok, err := employees.ProvidesService(ctx, e.ID, q.ServiceID)
	if err != nil {
		return nil, dbErr("employee services", err)
	}
	if !ok {
		return nil, apperr.Validation("employee does not provide this service", nil)
	}
	return []model.Employee{*e}, nil
}

// IsAvailable проверяет, что интервал целиком лежит в свободном времени мастера.
// Вызывается внутри транзакции записи, tx — её соединение.
func (s *AvailabilityService) IsAvailable(ctx context.Context, tx *gorm.DB, salon *model.Salon, employee *model.Employee, r calendar.TimeRange, exclude *uuid.UUID) error {
	if r.IsEmpty() {
		return apperr.Validation("invalid time range", calendar.ErrInvalidTimeRange)
	}
	if salon.SlotStepMin > 0 {
		step := time.Duration(salon.SlotStepMin) * time.Minute
		local := r.Start.In(salon.Location())
		midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
		if local.Sub(midnight)%step != 0 {
			return apperr.Validation("start time is not aligned to the slot grid", nil)
		}
	}

	working, err := freeTime(ctx, tx, salon, []model.Employee{*employee}, r)
	if err != nil {
		return err
	}
	if !coveredBy(r, working[employee.ID]) {
		return apperr.Validation("employee is not working at this time", nil)
	}

	bookings, err := repository.NewGormBookingRepository(tx).ListActiveOverlapping(ctx, []uuid.UUID{employee.ID}, r.Start, r.End, exclude)
	if err != nil {
		return dbErr("bookings", err)
	}
	taken := make([]calendar.TimeRange, 0, len(bookings))
	for _, b := range bookings {
		taken = append(taken, calendar.TimeRange{Start: b.StartsAt, End: b.EndsAt})
	}
	if ok, _ := calendar.HasOverlap(r, taken, false); ok {
		return apperr.Conflict("time slot is already taken", nil)
	}
	return nil
}

// freeTime — рабочее время каждого мастера внутри window за вычетом праздников
// и отгулов. Записи здесь не учитываются.
func freeTime(ctx context.Context, tx *gorm.DB, salon *model.Salon, employees []model.Employee, window calendar.TimeRange) (map[uuid.UUID][]calendar.TimeRange, error) {
	loc := salon.Location()
	ids := make([]uuid.UUID, 0, len(employees))
	for _, e := range employees {
		ids = append(ids, e.ID)
	}

	days := calendar.DaysBetween(window, loc)
	if len(days) == 0 {
		return map[uuid.UUID][]calendar.TimeRange{}, nil
	}

	schedules := repository.NewGormScheduleRepository(tx)
	holidays, err := schedules.ListHolidays(ctx, salon.ID, days[0], days[len(days)-1])
	if err != nil {
		return nil, dbErr("holidays", err)
	}
	closed := make(map[string]bool, len(holidays))
	for _, h := range holidays {
		closed[time.Time(h.Date).Format(time.DateOnly)] = true
	}

	rows, err := schedules.ListByEmployees(ctx, ids)
	if err != nil {
		return nil, dbErr("schedules", err)
	}
	byEmployee := make(map[uuid.UUID][]model.Schedule)
	for _, sch := range rows {
		byEmployee[sch.EmployeeID] = append(byEmployee[sch.EmployeeID], sch)
	}

	timeOff, err := schedules.ListTimeOff(ctx, ids, window.Start, window.End)
	if err != nil {
		return nil, dbErr("time off", err)
	}
	busy := make(map[uuid.UUID][]calendar.TimeRange)
	for _, t := range timeOff {
		busy[t.EmployeeID] = append(busy[t.EmployeeID], calendar.TimeRange{Start: t.StartsAt.In(loc), End: t.EndsAt.In(loc)})
	}

	out := make(map[uuid.UUID][]calendar.TimeRange, len(employees))
	for _, e := range employees {
		var work []calendar.TimeRange
		for _, day := range days {
			if closed[day.Format(time.DateOnly)] {
				continue
			}
			for i := range byEmployee[e.ID] {
				sch := byEmployee[e.ID][i]
				if !sch.ActiveOn(day) {
					continue
				}
				rules, err := calendar.ParseRules(sch.Rules)
				if err != nil {
					return nil, apperr.Internal("invalid schedule rules", err)
				}
				intervals, err := calendar.WorkingIntervals(rules, day, loc)
				if err != nil {
					return nil, apperr.Internal("invalid schedule rules", err)
				}
				work = append(work, intervals...)
			}
		}
		work = calendar.Clip(calendar.Merge(work), window.In(loc))
		out[e.ID] = calendar.Subtract(work, busy[e.ID])
	}
	return out, nil
}

func coveredBy(r calendar.TimeRange, free []calendar.TimeRange) bool {
	for _, f := range free {
		if f.Contains(r) {
			return true
		}
	}
	return false
}
