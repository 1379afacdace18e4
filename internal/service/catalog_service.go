package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/Leganyst/salon-crm/internal/apperr"
	"github.com/Leganyst/salon-crm/internal/cache"
	"github.com/Leganyst/salon-crm/internal/calendar"
	"github.com/Leganyst/salon-crm/internal/model"
	"github.com/Leganyst/salon-crm/internal/repository"
)

type SalonInput struct {
	Name            string
	TimeZone        string
	Currency        string
	SlotStepMin     int
	BookingLeadMin  int
	CancelWindowMin int
	LoyaltyRate     *decimal.Decimal
	IsActive        *bool
}

type ServiceInput struct {
	Name        string
	Category    string
	Description string
	DurationMin int
	Price       decimal.Decimal
	IsActive    *bool
}

type EmployeeInput struct {
	DisplayName string
	Position    string
	Description string
	UserID      *uuid.UUID
	IsActive    *bool
	ServiceIDs  []uuid.UUID
}

// ScheduleInput — одно расписание мастера; пустые даты — без ограничения.
type ScheduleInput struct {
	StartDate *time.Time
	EndDate   *time.Time
	Rules     []calendar.WorkingDayRule
}

// CatalogService — салоны, услуги, мастера и их рабочее время.
type CatalogService struct {
	db    *gorm.DB
	cache cache.Cache
	log   logrus.FieldLogger
}

func NewCatalogService(db *gorm.DB, c cache.Cache, log logrus.FieldLogger) *CatalogService {
	return &CatalogService{db: db, cache: c, log: log}
}

func (s *CatalogService) invalidate(ctx context.Context, salonID uuid.UUID) {
	invalidateAvailability(ctx, s.cache, s.log, salonID)
}

// ---- салоны

func validateSalon(in *SalonInput) error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return apperr.Validation("salon name is required", nil)
	}
	if in.TimeZone != "" {
		if _, err := time.LoadLocation(in.TimeZone); err != nil {
			return apperr.Validation("unknown time zone", err)
		}
	}
	if in.SlotStepMin < 0 || in.SlotStepMin > 240 {
		return apperr.Validation("slot step must be between 1 and 240 minutes", nil)
	}
	if in.BookingLeadMin < 0 || in.CancelWindowMin < 0 {
		return apperr.Validation("lead and cancel window must not be negative", nil)
	}
	if in.LoyaltyRate != nil && (in.LoyaltyRate.IsNegative() || in.LoyaltyRate.GreaterThan(decimal.NewFromInt(1))) {
		return apperr.Validation("loyalty rate must be between 0 and 1", nil)
	}
	return nil
}

func (s *CatalogService) CreateSalon(ctx context.Context, in SalonInput) (*model.Salon, error) {
	if err := validateSalon(&in); err != nil {
		return nil, err
	}
	salon := &model.Salon{
		Name:            in.Name,
		TimeZone:        in.TimeZone,
		Currency:        strings.ToUpper(in.Currency),
		SlotStepMin:     in.SlotStepMin,
		BookingLeadMin:  in.BookingLeadMin,
		CancelWindowMin: in.CancelWindowMin,
		LoyaltyRate:     model.DefaultLoyaltyRate,
		IsActive:        true,
	}
	if in.LoyaltyRate != nil {
		salon.LoyaltyRate = *in.LoyaltyRate
	}
	if in.IsActive != nil {
		salon.IsActive = *in.IsActive
	}
	if err := repository.NewGormSalonRepository(s.db).Create(ctx, salon); err != nil {
		return nil, dbErr("create salon", err)
	}
	s.log.WithFields(logrus.Fields{"salon_id": salon.ID, "name": salon.Name}).Info("salon created")
	return salon, nil
}

func (s *CatalogService) GetSalon(ctx context.Context, id uuid.UUID) (*model.Salon, error) {
	return loadSalon(ctx, s.db, id)
}

func (s *CatalogService) ListSalons(ctx context.Context) ([]model.Salon, error) {
	salons, err := repository.NewGormSalonRepository(s.db).ListActive(ctx)
	if err != nil {
		return nil, dbErr("salons", err)
	}
	return salons, nil
}

func (s *CatalogService) UpdateSalon(ctx context.Context, id uuid.UUID, in SalonInput) (*model.Salon, error) {
	if err := validateSalon(&in); err != nil {
		return nil, err
	}
	repo := repository.NewGormSalonRepository(s.db)
	salon, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, dbErr("salon", err)
	}
	salon.Name = in.Name
	if in.TimeZone != "" {
		salon.TimeZone = in.TimeZone
	}
	if in.Currency != "" {
		salon.Currency = strings.ToUpper(in.Currency)
	}
	if in.SlotStepMin > 0 {
		salon.SlotStepMin = in.SlotStepMin
	}
	salon.BookingLeadMin = in.BookingLeadMin
	salon.CancelWindowMin = in.CancelWindowMin
	if in.LoyaltyRate != nil {
		salon.LoyaltyRate = *in.LoyaltyRate
	}
	if in.IsActive != nil {
		salon.IsActive = *in.IsActive
	}
	salon.ApplyDefaults()
	if err := repo.Update(ctx, salon); err != nil {
		return nil, dbErr("update salon", err)
	}
	s.invalidate(ctx, id)
	return salon, nil
}

// ---- услуги

func validateService(in *ServiceInput) error {
	in.Name = strings.TrimSpace(in.Name)
	in.Category = strings.TrimSpace(in.Category)
	if in.Name == "" {
		return apperr.Validation("service name is required", nil)
	}
	if in.DurationMin <= 0 || in.DurationMin > 24*60 {
		return apperr.Validation("duration must be between 1 and 1440 minutes", nil)
	}
	if in.Price.IsNegative() {
		return apperr.Validation("price must not be negative", nil)
	}
	return nil
}

func (s *CatalogService) CreateService(ctx context.Context, salonID uuid.UUID, in ServiceInput) (*model.Service, error) {
	if err := validateService(&in); err != nil {
		return nil, err
	}
	svc := &model.Service{
		SalonID:     salonID,
		Name:        in.Name,
		Category:    in.Category,
		Description: in.Description,
		DurationMin: in.DurationMin,
		Price:       in.Price.Round(2),
		IsActive:    true,
	}
	if in.IsActive != nil {
		svc.IsActive = *in.IsActive
	}
	if err := repository.NewGormServiceRepository(s.db).Create(ctx, svc); err != nil {
		return nil, dbErr("create service", err)
	}
	return svc, nil
}

func (s *CatalogService) UpdateService(ctx context.Context, salonID, id uuid.UUID, in ServiceInput) (*model.Service, error) {
	if err := validateService(&in); err != nil {
		return nil, err
	}
	repo := repository.NewGormServiceRepository(s.db)
	svc, err := repo.GetByID(ctx, salonID, id)
	if err != nil {
		return nil, dbErr("service", err)
	}
	svc.Name = in.Name
	svc.Category = in.Category
	svc.Description = in.Description
	svc.DurationMin = in.DurationMin
	svc.Price = in.Price.Round(2)
	if in.IsActive != nil {
		svc.IsActive = *in.IsActive
	}
	if err := repo.Save(ctx, svc); err != nil {
		return nil, dbErr("update service", err)
	}
	s.invalidate(ctx, salonID)
	return svc, nil
}

func (s *CatalogService) GetService(ctx context.Context, salonID, id uuid.UUID) (*model.Service, error) {
	svc, err := repository.NewGormServiceRepository(s.db).GetByID(ctx, salonID, id)
	if err != nil {
		return nil, dbErr("service", err)
	}
	return svc, nil
}

func (s *CatalogService) ListServices(ctx context.Context, salonID uuid.UUID, onlyActive bool, category string) ([]model.Service, error) {
	list, err := repository.NewGormServiceRepository(s.db).List(ctx, salonID, onlyActive, category)
	if err != nil {
		return nil, dbErr("services", err)
	}
	return list, nil
}

// DeleteService удаляет услугу, по которой не было записей; иначе её нужно выключить.
func (s *CatalogService) DeleteService(ctx context.Context, salonID, id uuid.UUID) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.Booking{}).Where("service_id = ?", id).Count(&n).Error; err != nil {
		return dbErr("bookings", err)
	}
	if n > 0 {
		return apperr.Conflict("service has bookings, deactivate it instead", nil)
	}
	if err := repository.NewGormServiceRepository(s.db).Delete(ctx, salonID, id); err != nil {
		return dbErr("service", err)
	}
	s.invalidate(ctx, salonID)
	return nil
}

// ---- мастера

func (s *CatalogService) CreateEmployee(ctx context.Context, salonID uuid.UUID, in EmployeeInput) (*model.Employee, error) {
	in.DisplayName = normalizeName(in.DisplayName)
	if in.DisplayName == "" {
		return nil, apperr.Validation("employee name is required", nil)
	}
	e := &model.Employee{
		SalonID:     salonID,
		UserID:      in.UserID,
		DisplayName: in.DisplayName,
		Position:    strings.TrimSpace(in.Position),
		Description: in.Description,
		IsActive:    true,
	}
	if in.IsActive != nil {
		e.IsActive = *in.IsActive
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repository.NewGormEmployeeRepository(tx).Create(ctx, e); err != nil {
			return dbErr("create employee", err)
		}
		return s.assignServices(ctx, tx, salonID, e.ID, in.ServiceIDs)
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, salonID)
	return s.GetEmployee(ctx, salonID, e.ID)
}

func (s *CatalogService) UpdateEmployee(ctx context.Context, salonID, id uuid.UUID, in EmployeeInput) (*model.Employee, error) {
	in.DisplayName = normalizeName(in.DisplayName)
	if in.DisplayName == "" {
		return nil, apperr.Validation("employee name is required", nil)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := repository.NewGormEmployeeRepository(tx)
		e, err := repo.GetByID(ctx, salonID, id)
		if err != nil {
			return dbErr("employee", err)
		}
		e.DisplayName = in.DisplayName
		e.Position = strings.TrimSpace(in.Position)
		e.Description = in.Description
		e.UserID = in.UserID
		if in.IsActive != nil {
			e.IsActive = *in.IsActive
		}
		if err := repo.Save(ctx, e); err != nil {
			return dbErr("update employee", err)
		}
		if in.ServiceIDs != nil {
			return s.assignServices(ctx, tx, salonID, id, in.ServiceIDs)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, salonID)
	return s.GetEmployee(ctx, salonID, id)
}

func (s *CatalogService) GetEmployee(ctx context.Context, salonID, id uuid.UUID) (*model.Employee, error) {
	e, err := repository.NewGormEmployeeRepository(s.db).GetByID(ctx, salonID, id)
	if err != nil {
		return nil, dbErr("employee", err)
	}
	return e, nil
}

func (s *CatalogService) ListEmployees(ctx context.Context, salonID uuid.UUID, onlyActive bool) ([]model.Employee, error) {
	list, err := repository.NewGormEmployeeRepository(s.db).List(ctx, salonID, onlyActive)
	if err != nil {
		return nil, dbErr("employees", err)
	}
	return list, nil
}

// EmployeeByUser — карточка мастера, привязанная к учётке сотрудника.
func (s *CatalogService) EmployeeByUser(ctx context.Context, salonID, userID uuid.UUID) (*model.Employee, error) {
	var e model.Employee
	err := s.db.WithContext(ctx).Where("salon_id = ? AND user_id = ?", salonID, userID).First(&e).Error
	if err != nil {
		return nil, dbErr("employee", err)
	}
	return &e, nil
}

// DeleteEmployee удаляет мастера без записей; мастеров с историей выключают.
func (s *CatalogService) DeleteEmployee(ctx context.Context, salonID, id uuid.UUID) error {
	if _, err := s.GetEmployee(ctx, salonID, id); err != nil {
		return err
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.Booking{}).Where("employee_id = ?", id).Count(&n).Error; err != nil {
		return dbErr("bookings", err)
	}
	if n > 0 {
		return apperr.Conflict("employee has bookings, deactivate instead", nil)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range []any{&model.EmployeeService{}, &model.Schedule{}, &model.TimeOff{}} {
			if err := tx.Where("employee_id = ?", id).Delete(m).Error; err != nil {
				return dbErr("employee relations", err)
			}
		}
		return dbErr("employee", tx.Where("id = ? AND salon_id = ?", id, salonID).Delete(&model.Employee{}).Error)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, salonID)
	return nil
}

func (s *CatalogService) AssignServices(ctx context.Context, salonID, employeeID uuid.UUID, serviceIDs []uuid.UUID) error {
	if _, err := s.GetEmployee(ctx, salonID, employeeID); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.assignServices(ctx, tx, salonID, employeeID, serviceIDs)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, salonID)
	return nil
}

func (s *CatalogService) assignServices(ctx context.Context, tx *gorm.DB, salonID, employeeID uuid.UUID, serviceIDs []uuid.UUID) error {
	services, err := repository.NewGormServiceRepository(tx).ListByIDs(ctx, serviceIDs)
	if err != nil {
		return dbErr("services", err)
	}
	found := make(map[uuid.UUID]bool, len(services))
	for _, svc := range services {
		if svc.SalonID == salonID {
			found[svc.ID] = true
		}
	}
	for _, id := range serviceIDs {
		if !found[id] {
			return apperr.Validation(fmt.Sprintf("unknown service %s", id), nil)
		}
	}
	return dbErr("assign services", repository.NewGormEmployeeRepository(tx).SetServices(ctx, employeeID, serviceIDs))
}

// ---- расписания, отгулы, праздники

func (s *CatalogService) SetSchedules(ctx context.Context, salonID, employeeID uuid.UUID, in []ScheduleInput) ([]model.Schedule, error) {
	if _, err := s.GetEmployee(ctx, salonID, employeeID); err != nil {
		return nil, err
	}
	schedules := make([]model.Schedule, 0, len(in))
	for i, item := range in {
		if len(item.Rules) == 0 {
			return nil, apperr.Validation(fmt.Sprintf("schedule %d: at least one rule is required", i), nil)
		}
		for j, r := range item.Rules {
			if err := r.Validate(); err != nil {
				return nil, apperr.Validation(fmt.Sprintf("schedule %d rule %d: %v", i, j, err), err)
			}
		}
		if item.StartDate != nil && item.EndDate != nil && item.EndDate.Before(*item.StartDate) {
			return nil, apperr.Validation(fmt.Sprintf("schedule %d: end date is before start date", i), nil)
		}
		raw, err := json.Marshal(item.Rules)
		if err != nil {
			return nil, apperr.Internal("encode schedule rules", err)
		}
		schedules = append(schedules, model.Schedule{
			StartDate: optionalDate(item.StartDate),
			EndDate:   optionalDate(item.EndDate),
			Rules:     datatypes.JSON(raw),
		})
	}
	if err := repository.NewGormScheduleRepository(s.db).ReplaceForEmployee(ctx, employeeID, schedules); err != nil {
		return nil, dbErr("save schedules", err)
	}
	s.invalidate(ctx, salonID)
	return schedules, nil
}

func optionalDate(t *time.Time) *datatypes.Date {
	if t == nil {
		return nil
	}
	d := repository.DateOf(*t)
	return &d
}

func (s *CatalogService) ListSchedules(ctx context.Context, salonID, employeeID uuid.UUID) ([]model.Schedule, error) {
	if _, err := s.GetEmployee(ctx, salonID, employeeID); err != nil {
		return nil, err
	}
	list, err := repository.NewGormScheduleRepository(s.db).ListByEmployee(ctx, employeeID)
	if err != nil {
		return nil, dbErr("schedules", err)
	}
	return list, nil
}

func (s *CatalogService) AddTimeOff(ctx context.Context, salonID, employeeID uuid.UUID, r calendar.TimeRange, reason string) (*model.TimeOff, error) {
	if r.IsEmpty() {
		return nil, apperr.Validation("end must be after start", calendar.ErrInvalidTimeRange)
	}
	if _, err := s.GetEmployee(ctx, salonID, employeeID); err != nil {
		return nil, err
	}
	t := &model.TimeOff{EmployeeID: employeeID, StartsAt: r.Start.UTC(), EndsAt: r.End.UTC(), Reason: reason}
	if err := repository.NewGormScheduleRepository(s.db).CreateTimeOff(ctx, t); err != nil {
		return nil, dbErr("create time off", err)
	}
	s.invalidate(ctx, salonID)
	return t, nil
}

// AddRecurringTimeOff разворачивает повторяющееся личное время мастера в окне
// window и сохраняет каждое вхождение отдельной строкой.
func (s *CatalogService) AddRecurringTimeOff(ctx context.Context, salonID, employeeID uuid.UUID, rule calendar.RecurringRule, window calendar.TimeRange, reason string) ([]model.TimeOff, error) {
	if window.IsEmpty() || window.Duration() > 366*24*time.Hour {
		return nil, apperr.Validation("window must be non-empty and at most one year", nil)
	}
	if _, err := s.GetEmployee(ctx, salonID, employeeID); err != nil {
		return nil, err
	}
	ranges, err := calendar.ExpandRecurringRule(rule, window)
	if err != nil {
		return nil, apperr.Validation(err.Error(), err)
	}
	items := make([]*model.TimeOff, 0, len(ranges))
	for _, r := range ranges {
		items = append(items, &model.TimeOff{EmployeeID: employeeID, StartsAt: r.Start.UTC(), EndsAt: r.End.UTC(), Reason: reason})
	}
	if err := repository.NewGormScheduleRepository(s.db).CreateTimeOff(ctx, items...); err != nil {
		return nil, dbErr("create time off", err)
	}
	s.invalidate(ctx, salonID)
	out := make([]model.TimeOff, 0, len(items))
	for _, t := range items {
		out = append(out, *t)
	}
	return out, nil
}

func (s *CatalogService) DeleteTimeOff(ctx context.Context, salonID, employeeID, id uuid.UUID) error {
	if _, err := s.GetEmployee(ctx, salonID, employeeID); err != nil {
		return err
	}
	if err := repository.NewGormScheduleRepository(s.db).DeleteTimeOff(ctx, employeeID, id); err != nil {
		return dbErr("time off", err)
	}
	s.invalidate(ctx, salonID)
	return nil
}

func (s *CatalogService) ListTimeOff(ctx context.Context, salonID, employeeID uuid.UUID, from, to time.Time) ([]model.TimeOff, error) {
	if _, err := s.GetEmployee(ctx, salonID, employeeID); err != nil {
		return nil, err
	}
	list, err := repository.NewGormScheduleRepository(s.db).ListTimeOff(ctx, []uuid.UUID{employeeID}, from, to)
	if err != nil {
		return nil, dbErr("time off", err)
	}
	return list, nil
}

func (s *CatalogService) AddHoliday(ctx context.Context, salonID uuid.UUID, date time.Time, name string) (*model.Holiday, error) {
	if date.IsZero() {
		return nil, apperr.Validation("date is required", nil)
	}
	repo := repository.NewGormScheduleRepository(s.db)
	existing, err := repo.ListHolidays(ctx, salonID, date, date)
	if err != nil {
		return nil, dbErr("holidays", err)
	}
	if len(existing) > 0 {
		return nil, apperr.Conflict("holiday already exists for this date", nil)
	}
	h := &model.Holiday{SalonID: salonID, Date: repository.DateOf(date), Name: strings.TrimSpace(name)}
	if err := repo.CreateHoliday(ctx, h); err != nil {
		return nil, dbErr("create holiday", err)
	}
	s.invalidate(ctx, salonID)
	return h, nil
}

func (s *CatalogService) ListHolidays(ctx context.Context, salonID uuid.UUID, from, to time.Time) ([]model.Holiday, error) {
	list, err := repository.NewGormScheduleRepository(s.db).ListHolidays(ctx, salonID, from, to)
	if err != nil {
		return nil, dbErr("holidays", err)
	}
	return list, nil
}

func (s *CatalogService) DeleteHoliday(ctx context.Context, salonID, id uuid.UUID) error {
	err := repository.NewGormScheduleRepository(s.db).DeleteHoliday(ctx, salonID, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound("holiday not found", err)
	}
	if err != nil {
		return dbErr("holiday", err)
	}
	s.invalidate(ctx, salonID)
	return nil
}
