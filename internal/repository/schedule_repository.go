package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/Leganyst/salon-crm/internal/model"
)

// ScheduleRepository — рабочее время мастеров: расписания, отгулы и праздники салона.
type ScheduleRepository interface {
	ListByEmployee(ctx context.Context, employeeID uuid.UUID) ([]model.Schedule, error)
	ListByEmployees(ctx context.Context, employeeIDs []uuid.UUID) ([]model.Schedule, error)
	ReplaceForEmployee(ctx context.Context, employeeID uuid.UUID, schedules []model.Schedule) error

	CreateTimeOff(ctx context.Context, items ...*model.TimeOff) error
	DeleteTimeOff(ctx context.Context, employeeID, id uuid.UUID) error
	ListTimeOff(ctx context.Context, employeeIDs []uuid.UUID, from, to time.Time) ([]model.TimeOff, error)

	CreateHoliday(ctx context.Context, h *model.Holiday) error
	DeleteHoliday(ctx context.Context, salonID, id uuid.UUID) error
	ListHolidays(ctx context.Context, salonID uuid.UUID, from, to time.Time) ([]model.Holiday, error)
}

type GormScheduleRepository struct {
	db *gorm.DB
}

func NewGormScheduleRepository(db *gorm.DB) *GormScheduleRepository {
	return &GormScheduleRepository{db: db}
}

func (r *GormScheduleRepository) ListByEmployee(ctx context.Context, employeeID uuid.UUID) ([]model.Schedule, error) {
	return r.ListByEmployees(ctx, []uuid.UUID{employeeID})
}

func (r *GormScheduleRepository) ListByEmployees(ctx context.Context, employeeIDs []uuid.UUID) ([]model.Schedule, error) {
	if len(employeeIDs) == 0 {
		return nil, nil
	}
	var schedules []model.Schedule
	err := r.db.WithContext(ctx).
		Where("employee_id IN ?", employeeIDs).
		Order("created_at ASC").
		Find(&schedules).Error
	if err != nil {
		return nil, err
	}
	return schedules, nil
}

// ReplaceForEmployee атомарно заменяет все расписания мастера.
func (r *GormScheduleRepository) ReplaceForEmployee(ctx context.Context, employeeID uuid.UUID, schedules []model.Schedule) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("employee_id = ?", employeeID).Delete(&model.Schedule{}).Error; err != nil {
			return err
		}
		for i := range schedules {
			schedules[i].EmployeeID = employeeID
			if err := tx.Create(&schedules[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *GormScheduleRepository) CreateTimeOff(ctx context.Context, items ...*model.TimeOff) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(items).Error
}

func (r *GormScheduleRepository) DeleteTimeOff(ctx context.Context, employeeID, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Where("id = ? AND employee_id = ?", id, employeeID).Delete(&model.TimeOff{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListTimeOff — отгулы, пересекающиеся с [from, to).
func (r *GormScheduleRepository) ListTimeOff(ctx context.Context, employeeIDs []uuid.UUID, from, to time.Time) ([]model.TimeOff, error) {
	if len(employeeIDs) == 0 {
		return nil, nil
	}
	var out []model.TimeOff
	err := r.db.WithContext(ctx).
		Where("employee_id IN ?", employeeIDs).
		Where("starts_at < ? AND ends_at > ?", to.UTC(), from.UTC()).
		Order("starts_at ASC").
		Find(&out).Error
	return out, err
}

func (r *GormScheduleRepository) CreateHoliday(ctx context.Context, h *model.Holiday) error {
	return r.db.WithContext(ctx).Create(h).Error
}

func (r *GormScheduleRepository) DeleteHoliday(ctx context.Context, salonID, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Where("id = ? AND salon_id = ?", id, salonID).Delete(&model.Holiday{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListHolidays — праздники с датой в [from, to]. Границы берутся как даты.
func (r *GormScheduleRepository) ListHolidays(ctx context.Context, salonID uuid.UUID, from, to time.Time) ([]model.Holiday, error) {
	var out []model.Holiday
	err := r.db.WithContext(ctx).
		Where("salon_id = ?", salonID).
		Where("date >= ? AND date <= ?", DateOf(from), DateOf(to)).
		Order("date ASC").
		Find(&out).Error
	return out, err
}

// DateOf — календарная дата t как datatypes.Date (полночь UTC).
func DateOf(t time.Time) datatypes.Date {
	y, m, d := t.Date()
	return datatypes.Date(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}
