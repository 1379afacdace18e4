package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Leganyst/salon-crm/internal/db"
	"github.com/Leganyst/salon-crm/internal/model"
)

type EmployeeRepository interface {
	Create(ctx context.Context, e *model.Employee) error
	Save(ctx context.Context, e *model.Employee) error
	GetByID(ctx context.Context, salonID, id uuid.UUID) (*model.Employee, error)
	List(ctx context.Context, salonID uuid.UUID, onlyActive bool) ([]model.Employee, error)
	ListByService(ctx context.Context, salonID, serviceID uuid.UUID) ([]model.Employee, error)
	ProvidesService(ctx context.Context, employeeID, serviceID uuid.UUID) (bool, error)
	SetServices(ctx context.Context, employeeID uuid.UUID, serviceIDs []uuid.UUID) error
	Lock(ctx context.Context, id uuid.UUID) error
}

type GormEmployeeRepository struct {
	db *gorm.DB
}

func NewGormEmployeeRepository(db *gorm.DB) *GormEmployeeRepository {
	return &GormEmployeeRepository{db: db}
}

func (r *GormEmployeeRepository) Create(ctx context.Context, e *model.Employee) error {
	return r.db.WithContext(ctx).Omit("Services", "Schedules").Create(e).Error
}

func (r *GormEmployeeRepository) Save(ctx context.Context, e *model.Employee) error {
	return r.db.WithContext(ctx).Omit("Services", "Schedules").Save(e).Error
}

func (r *GormEmployeeRepository) GetByID(ctx context.Context, salonID, id uuid.UUID) (*model.Employee, error) {
	var e model.Employee
	err := r.db.WithContext(ctx).
		Preload("Services", func(tx *gorm.DB) *gorm.DB { return tx.Order("name") }).
		First(&e, "id = ? AND salon_id = ?", id, salonID).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *GormEmployeeRepository) List(ctx context.Context, salonID uuid.UUID, onlyActive bool) ([]model.Employee, error) {
	q := r.db.WithContext(ctx).Where("salon_id = ?", salonID)
	if onlyActive {
		q = q.Where("is_active = ?", true)
	}
	var out []model.Employee
	if err := q.Preload("Services").Order("display_name").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListByService — активные мастера, оказывающие услугу.
func (r *GormEmployeeRepository) ListByService(ctx context.Context, salonID, serviceID uuid.UUID) ([]model.Employee, error) {
	var out []model.Employee
	err := r.db.WithContext(ctx).
		Model(&model.Employee{}).
		Joins("JOIN employee_services ON employee_services.employee_id = employees.id").
		Where("employees.salon_id = ? AND employees.is_active = ?", salonID, true).
		Where("employee_services.service_id = ?", serviceID).
		Order("employees.display_name").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *GormEmployeeRepository) ProvidesService(ctx context.Context, employeeID, serviceID uuid.UUID) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&model.EmployeeService{}).
		Where("employee_id = ? AND service_id = ?", employeeID, serviceID).
		Count(&n).Error
	return n > 0, err
}

// SetServices заменяет список услуг мастера.
func (r *GormEmployeeRepository) SetServices(ctx context.Context, employeeID uuid.UUID, serviceIDs []uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("employee_id = ?", employeeID).Delete(&model.EmployeeService{}).Error; err != nil {
			return err
		}
		if len(serviceIDs) == 0 {
			return nil
		}
		now := time.Now().UTC()
		rows := make([]model.EmployeeService, 0, len(serviceIDs))
		seen := map[uuid.UUID]bool{}
		for _, id := range serviceIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			rows = append(rows, model.EmployeeService{EmployeeID: employeeID, ServiceID: id, CreatedAt: now, UpdatedAt: now})
		}
		return tx.Create(&rows).Error
	})
}

// Lock берёт строчную блокировку на мастера, чтобы сериализовать запись к нему.
// В SQLite соединение одно, блокировка не нужна.
func (r *GormEmployeeRepository) Lock(ctx context.Context, id uuid.UUID) error {
	if !db.IsPostgres(r.db) {
		return nil
	}
	var e model.Employee
	return r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		First(&e, "id = ?", id).Error
}
