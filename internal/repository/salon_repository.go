package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Leganyst/salon-crm/internal/model"
)

type SalonRepository interface {
	Create(ctx context.Context, salon *model.Salon) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Salon, error)
	Update(ctx context.Context, salon *model.Salon) error
	ListActive(ctx context.Context) ([]model.Salon, error)
}

type GormSalonRepository struct {
	db *gorm.DB
}

func NewGormSalonRepository(db *gorm.DB) *GormSalonRepository {
	return &GormSalonRepository{db: db}
}

func (r *GormSalonRepository) Create(ctx context.Context, salon *model.Salon) error {
	return r.db.WithContext(ctx).Create(salon).Error
}

func (r *GormSalonRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Salon, error) {
	var s model.Salon
	if err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *GormSalonRepository) Update(ctx context.Context, salon *model.Salon) error {
	return r.db.WithContext(ctx).Save(salon).Error
}

func (r *GormSalonRepository) ListActive(ctx context.Context) ([]model.Salon, error) {
	var out []model.Salon
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("name").Find(&out).Error
	return out, err
}
