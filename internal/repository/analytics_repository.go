package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Leganyst/salon-crm/internal/model"
)

type StatusCount struct {
	Status model.BookingStatus
	Count  int64
}

type ServiceStat struct {
	ServiceID uuid.UUID       `json:"service_id"`
	Name      string          `json:"name"`
	Count     int64           `json:"count"`
	Revenue   decimal.Decimal `json:"revenue"`
}

// BookingSlice — минимальный набор полей записи для подсчёта загрузки.
type BookingSlice struct {
	EmployeeID  uuid.UUID
	DisplayName string
	StartsAt    time.Time
	EndsAt      time.Time
	Status      model.BookingStatus
	Price       decimal.Decimal
}

// AnalyticsRepository — агрегирующие запросы для отчётов. Период — [from, to).
type AnalyticsRepository interface {
	PaidTotal(ctx context.Context, salonID uuid.UUID, from, to time.Time) (decimal.Decimal, error)
	RefundedTotal(ctx context.Context, salonID uuid.UUID, from, to time.Time) (decimal.Decimal, error)
	BookingsByStatus(ctx context.Context, salonID uuid.UUID, from, to time.Time) ([]StatusCount, error)
	ReturningClients(ctx context.Context, salonID uuid.UUID, from, to time.Time) (int64, error)
	TopServices(ctx context.Context, salonID uuid.UUID, from, to time.Time, limit int) ([]ServiceStat, error)
	BookingSlices(ctx context.Context, salonID uuid.UUID, from, to time.Time) ([]BookingSlice, error)
}

type GormAnalyticsRepository struct {
	db *gorm.DB
}

func NewGormAnalyticsRepository(db *gorm.DB) *GormAnalyticsRepository {
	return &GormAnalyticsRepository{db: db}
}

// PaidTotal — деньги, полученные в периоде. Оплата баллами выручкой не считается.
func (r *GormAnalyticsRepository) PaidTotal(ctx context.Context, salonID uuid.UUID, from, to time.Time) (decimal.Decimal, error) {
	var row struct{ Total decimal.Decimal }
	err := r.db.WithContext(ctx).
		Model(&model.Payment{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("salon_id = ? AND method <> ?", salonID, model.PaymentMethodPoints).
		Where("paid_at >= ? AND paid_at < ?", from.UTC(), to.UTC()).
		Scan(&row).Error
	return row.Total, err
}

func (r *GormAnalyticsRepository) RefundedTotal(ctx context.Context, salonID uuid.UUID, from, to time.Time) (decimal.Decimal, error) {
	var row struct{ Total decimal.Decimal }
	err := r.db.WithContext(ctx).
		Model(&model.Payment{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("salon_id = ? AND method <> ? AND status = ?", salonID, model.PaymentMethodPoints, model.PaymentStatusRefunded).
		Where("refunded_at >= ? AND refunded_at < ?", from.UTC(), to.UTC()).
		Scan(&row).Error
	return row.Total, err
}

func (r *GormAnalyticsRepository) BookingsByStatus(ctx context.Context, salonID uuid.UUID, from, to time.Time) ([]StatusCount, error) {
	var out []StatusCount
	err := r.db.WithContext(ctx).
		Model(&model.Booking{}).
		Select("status, COUNT(*) AS count").
		Where("salon_id = ? AND starts_at >= ? AND starts_at < ?", salonID, from.UTC(), to.UTC()).
		Group("status").
		Scan(&out).Error
	return out, err
}

// ReturningClients — клиенты с визитом в периоде, у которых был визит и раньше.
func (r *GormAnalyticsRepository) ReturningClients(ctx context.Context, salonID uuid.UUID, from, to time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Raw(`
SELECT COUNT(DISTINCT b.client_id)
FROM bookings b
WHERE b.salon_id = ? AND b.status = ? AND b.starts_at >= ? AND b.starts_at < ?
  AND EXISTS (
    SELECT 1 FROM bookings p
    WHERE p.client_id = b.client_id AND p.status = ? AND p.starts_at < ?
  )`,
		salonID, model.BookingStatusCompleted, from.UTC(), to.UTC(),
		model.BookingStatusCompleted, from.UTC(),
	).Scan(&n).Error
	return n, err
}

func (r *GormAnalyticsRepository) TopServices(ctx context.Context, salonID uuid.UUID, from, to time.Time, limit int) ([]ServiceStat, error) {
	if limit <= 0 {
		limit = 5
	}
	var out []ServiceStat
	err := r.db.WithContext(ctx).
		Table("bookings").
		Select("bookings.service_id AS service_id, services.name AS name, COUNT(*) AS count, COALESCE(SUM(bookings.price), 0) AS revenue").
		Joins("JOIN services ON services.id = bookings.service_id").
		Where("bookings.salon_id = ? AND bookings.status = ?", salonID, model.BookingStatusCompleted).
		Where("bookings.starts_at >= ? AND bookings.starts_at < ?", from.UTC(), to.UTC()).
		Group("bookings.service_id, services.name").
		Order("count DESC, name ASC").
		Limit(limit).
		Scan(&out).Error
	return out, err
}

// BookingSlices — незаотменённые записи периода с именем мастера.
func (r *GormAnalyticsRepository) BookingSlices(ctx context.Context, salonID uuid.UUID, from, to time.Time) ([]BookingSlice, error) {
	var out []BookingSlice
	err := r.db.WithContext(ctx).
		Table("bookings").
		Select("bookings.employee_id, employees.display_name, bookings.starts_at, bookings.ends_at, bookings.status, bookings.price").
		Joins("JOIN employees ON employees.id = bookings.employee_id").
		Where("bookings.salon_id = ? AND bookings.status IN ?", salonID, []model.BookingStatus{
			model.BookingStatusPending, model.BookingStatusConfirmed, model.BookingStatusCompleted,
		}).
		Where("bookings.starts_at >= ? AND bookings.starts_at < ?", from.UTC(), to.UTC()).
		Scan(&out).Error
	return out, err
}
