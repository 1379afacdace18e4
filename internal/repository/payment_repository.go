package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Leganyst/salon-crm/internal/model"
)

type PaymentRepository interface {
	Create(ctx context.Context, p *model.Payment) error
	GetByID(ctx context.Context, salonID, id uuid.UUID) (*model.Payment, error)
	// MarkRefunded переводит paid → refunded. false — платёж уже был возвращён.
	MarkRefunded(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	ListByBooking(ctx context.Context, salonID, bookingID uuid.UUID) ([]model.Payment, error)
	ListByPeriod(ctx context.Context, salonID uuid.UUID, from, to time.Time) ([]model.Payment, error)
	TotalPaidByClient(ctx context.Context, clientID uuid.UUID) (decimal.Decimal, error)
	ReassignClient(ctx context.Context, fromClientID, toClientID uuid.UUID) error
}

type GormPaymentRepository struct {
	db *gorm.DB
}

func NewGormPaymentRepository(db *gorm.DB) *GormPaymentRepository {
	return &GormPaymentRepository{db: db}
}

func (r *GormPaymentRepository) Create(ctx context.Context, p *model.Payment) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *GormPaymentRepository) GetByID(ctx context.Context, salonID, id uuid.UUID) (*model.Payment, error) {
	var p model.Payment
	if err := r.db.WithContext(ctx).First(&p, "id = ? AND salon_id = ?", id, salonID).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *GormPaymentRepository) MarkRefunded(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Payment{}).
		Where("id = ? AND status = ?", id, model.PaymentStatusPaid).
		Updates(map[string]any{
			"status":      model.PaymentStatusRefunded,
			"refunded_at": at.UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *GormPaymentRepository) ListByBooking(ctx context.Context, salonID, bookingID uuid.UUID) ([]model.Payment, error) {
	var out []model.Payment
	err := r.db.WithContext(ctx).
		Where("salon_id = ? AND booking_id = ?", salonID, bookingID).
		Order("paid_at ASC").
		Find(&out).Error
	return out, err
}

func (r *GormPaymentRepository) ListByPeriod(ctx context.Context, salonID uuid.UUID, from, to time.Time) ([]model.Payment, error) {
	var out []model.Payment
	err := r.db.WithContext(ctx).
		Where("salon_id = ? AND paid_at >= ? AND paid_at < ?", salonID, from.UTC(), to.UTC()).
		Order("paid_at ASC").
		Find(&out).Error
	return out, err
}

// TotalPaidByClient — сумма оплат деньгами (без баллов и возвратов).
func (r *GormPaymentRepository) TotalPaidByClient(ctx context.Context, clientID uuid.UUID) (decimal.Decimal, error) {
	var row struct{ Total decimal.Decimal }
	err := r.db.WithContext(ctx).
		Model(&model.Payment{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("client_id = ? AND status = ? AND method <> ?", clientID, model.PaymentStatusPaid, model.PaymentMethodPoints).
		Scan(&row).Error
	return row.Total, err
}

func (r *GormPaymentRepository) ReassignClient(ctx context.Context, fromClientID, toClientID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&model.Payment{}).
		Where("client_id = ?", fromClientID).
		Update("client_id", toClientID).Error
}
