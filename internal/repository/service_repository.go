package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Leganyst/salon-crm/internal/model"
)

// ServiceRepository — каталог услуг салона.
type ServiceRepository interface {
	GetByID(ctx context.Context, salonID, id uuid.UUID) (*model.Service, error)
	Create(ctx context.Context, service *model.Service) error
	Save(ctx context.Context, service *model.Service) error
	Delete(ctx context.Context, salonID, id uuid.UUID) error
	List(ctx context.Context, salonID uuid.UUID, onlyActive bool, category string) ([]model.Service, error)
	ListByEmployee(ctx context.Context, employeeID uuid.UUID) ([]model.Service, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Service, error)
}

type GormServiceRepository struct {
	db *gorm.DB
}

func NewGormServiceRepository(db *gorm.DB) *GormServiceRepository {
	return &GormServiceRepository{db: db}
}

func (r *GormServiceRepository) GetByID(ctx context.Context, salonID, id uuid.UUID) (*model.Service, error) {
	var s model.Service
	if err := r.db.WithContext(ctx).First(&s, "id = ? AND salon_id = ?", id, salonID).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *GormServiceRepository) Create(ctx context.Context, service *model.Service) error {
	return r.db.WithContext(ctx).Create(service).Error
}

func (r *GormServiceRepository) Save(ctx context.Context, service *model.Service) error {
	return r.db.WithContext(ctx).Omit("Employees").Save(service).Error
}

// Delete удаляет услугу вместе с привязками к мастерам.
func (r *GormServiceRepository) Delete(ctx context.Context, salonID, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND salon_id = ?", id, salonID).Delete(&model.Service{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Where("service_id = ?", id).Delete(&model.EmployeeService{}).Error
	})
}

func (r *GormServiceRepository) List(ctx context.Context, salonID uuid.UUID, onlyActive bool, category string) ([]model.Service, error) {
	q := r.db.WithContext(ctx).Where("salon_id = ?", salonID)
	if onlyActive {
		q = q.Where("is_active = ?", true)
	}
	if category != "" {
		q = q.Where("category = ?", category)
	}
	var services []model.Service
	if err := q.Order("category ASC, name ASC").Find(&services).Error; err != nil {
		return nil, err
	}
	return services, nil
}

func (r *GormServiceRepository) ListByEmployee(ctx context.Context, employeeID uuid.UUID) ([]model.Service, error) {
	var services []model.Service
	err := r.db.WithContext(ctx).
		Model(&model.Service{}).
		Joins("JOIN employee_services ON employee_services.service_id = services.id").
		Where("employee_services.employee_id = ?", employeeID).
		Order("services.name ASC").
		Find(&services).Error
	if err != nil {
		return nil, err
	}
	return services, nil
}

func (r *GormServiceRepository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Service, error) {
	if len(ids) == 0 {
		return []model.Service{}, nil
	}
	var services []model.Service
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&services).Error; err != nil {
		return nil, err
	}
	return services, nil
}
