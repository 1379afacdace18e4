package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Leganyst/salon-crm/internal/calendar"
	"github.com/Leganyst/salon-crm/internal/model"
)

// LoyaltyRepository — журнал баллов. Баланс всегда считается суммой по журналу.
type LoyaltyRepository interface {
	Append(ctx context.Context, tx *model.LoyaltyTransaction) error
	Balance(ctx context.Context, salonID, clientID uuid.UUID) (int64, error)
	List(ctx context.Context, salonID, clientID uuid.UUID, page calendar.PageRequest) ([]model.LoyaltyTransaction, int64, error)
	ReassignClient(ctx context.Context, fromClientID, toClientID uuid.UUID) error
}

type GormLoyaltyRepository struct {
	db *gorm.DB
}

func NewGormLoyaltyRepository(db *gorm.DB) *GormLoyaltyRepository {
	return &GormLoyaltyRepository{db: db}
}

func (r *GormLoyaltyRepository) Append(ctx context.Context, t *model.LoyaltyTransaction) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *GormLoyaltyRepository) Balance(ctx context.Context, salonID, clientID uuid.UUID) (int64, error) {
	var balance int64
	err := r.db.WithContext(ctx).
		Model(&model.LoyaltyTransaction{}).
		Select("COALESCE(SUM(points), 0)").
		Where("salon_id = ? AND client_id = ?", salonID, clientID).
		Scan(&balance).Error
	return balance, err
}

func (r *GormLoyaltyRepository) List(
	ctx context.Context,
	salonID, clientID uuid.UUID,
	page calendar.PageRequest,
) ([]model.LoyaltyTransaction, int64, error) {
	var (
		items []model.LoyaltyTransaction
		total int64
	)
	q := r.db.WithContext(ctx).
		Model(&model.LoyaltyTransaction{}).
		Where("salon_id = ? AND client_id = ?", salonID, clientID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := q.Order("created_at DESC").Limit(page.Limit()).Offset(page.Offset()).Find(&items).Error
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *GormLoyaltyRepository) ReassignClient(ctx context.Context, fromClientID, toClientID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&model.LoyaltyTransaction{}).
		Where("client_id = ?", fromClientID).
		Update("client_id", toClientID).Error
}
