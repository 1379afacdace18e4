package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Leganyst/salon-crm/internal/calendar"
	"github.com/Leganyst/salon-crm/internal/db"
	"github.com/Leganyst/salon-crm/internal/model"
)

type BookingFilter struct {
	SalonID    uuid.UUID
	ClientID   *uuid.UUID
	EmployeeID *uuid.UUID
	ServiceID  *uuid.UUID
	Statuses   []model.BookingStatus
	// Начало записи в [From, To).
	From *time.Time
	To   *time.Time
	Page calendar.PageRequest
}

type BookingRepository interface {
	Create(ctx context.Context, booking *model.Booking) error
	GetByID(ctx context.Context, salonID, id uuid.UUID) (*model.Booking, error)
	// GetForUpdate читает запись без связей; на Postgres строка блокируется до конца транзакции.
	GetForUpdate(ctx context.Context, salonID, id uuid.UUID) (*model.Booking, error)
	Save(ctx context.Context, booking *model.Booking) error
	List(ctx context.Context, f BookingFilter) ([]model.Booking, int64, error)
	// Активные записи мастеров, пересекающиеся с окном. exclude — запись, которую не учитываем (перенос).
	ListActiveOverlapping(ctx context.Context, employeeIDs []uuid.UUID, from, to time.Time, exclude *uuid.UUID) ([]model.Booking, error)
	ListDueReminders(ctx context.Context, from, to time.Time, limit int) ([]model.Booking, error)
	MarkReminderSent(ctx context.Context, id uuid.UUID, at time.Time) error
	CancelByIDs(ctx context.Context, ids []uuid.UUID, at time.Time, comment string) (int64, error)
	Reschedule(ctx context.Context, id uuid.UUID, start, end time.Time) (int64, error)
	ReassignClient(ctx context.Context, fromClientID, toClientID uuid.UUID) error
}

type GormBookingRepository struct {
	db *gorm.DB
}

func NewGormBookingRepository(db *gorm.DB) *GormBookingRepository {
	return &GormBookingRepository{db: db}
}

func (r *GormBookingRepository) Create(ctx context.Context, booking *model.Booking) error {
	return r.db.WithContext(ctx).Omit("Client", "Employee", "Service").Create(booking).Error
}

func (r *GormBookingRepository) GetByID(ctx context.Context, salonID, id uuid.UUID) (*model.Booking, error) {
	var b model.Booking
	err := r.db.WithContext(ctx).
		Preload("Client").
		Preload("Employee").
		Preload("Service").
		First(&b, "id = ? AND salon_id = ?", id, salonID).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *GormBookingRepository) GetForUpdate(ctx context.Context, salonID, id uuid.UUID) (*model.Booking, error) {
	q := r.db.WithContext(ctx)
	if db.IsPostgres(r.db) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var b model.Booking
	if err := q.First(&b, "id = ? AND salon_id = ?", id, salonID).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *GormBookingRepository) Save(ctx context.Context, booking *model.Booking) error {
	return r.db.WithContext(ctx).Omit("Client", "Employee", "Service").Save(booking).Error
}

func (r *GormBookingRepository) List(ctx context.Context, f BookingFilter) ([]model.Booking, int64, error) {
	var (
		bookings []model.Booking
		total    int64
	)

	q := r.db.WithContext(ctx).Model(&model.Booking{}).Where("salon_id = ?", f.SalonID)
	if f.ClientID != nil {
		q = q.Where("client_id = ?", *f.ClientID)
	}
	if f.EmployeeID != nil {
		q = q.Where("employee_id = ?", *f.EmployeeID)
	}
	if f.ServiceID != nil {
		q = q.Where("service_id = ?", *f.ServiceID)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.From != nil {
		q = q.Where("starts_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("starts_at < ?", f.To.UTC())
	}

	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := q.Preload("Client").Preload("Employee").Preload("Service").
		Order("starts_at ASC").
		Limit(f.Page.Limit()).
		Offset(f.Page.Offset()).
		Find(&bookings).Error
	if err != nil {
		return nil, 0, err
	}
	return bookings, total, nil
}

func (r *GormBookingRepository) ListActiveOverlapping(
	ctx context.Context,
	employeeIDs []uuid.UUID,
	from, to time.Time,
	exclude *uuid.UUID,
) ([]model.Booking, error) {
	if len(employeeIDs) == 0 {
		return nil, nil
	}
	q := r.db.WithContext(ctx).
		Where("employee_id IN ?", employeeIDs).
		Where("status IN ?", model.ActiveBookingStatuses).
		Where("starts_at < ? AND ends_at > ?", to.UTC(), from.UTC())
	if exclude != nil {
		q = q.Where("id <> ?", *exclude)
	}
	var out []model.Booking
	if err := q.Order("starts_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListDueReminders — подтверждённые записи, начинающиеся в (from, to], по которым ещё не было напоминания.
func (r *GormBookingRepository) ListDueReminders(ctx context.Context, from, to time.Time, limit int) ([]model.Booking, error) {
	q := r.db.WithContext(ctx).
		Preload("Client").
		Preload("Service").
		Preload("Employee").
		Where("status = ?", model.BookingStatusConfirmed).
		Where("reminder_sent_at IS NULL").
		Where("starts_at > ? AND starts_at <= ?", from.UTC(), to.UTC()).
		Order("starts_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []model.Booking
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *GormBookingRepository) MarkReminderSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.Booking{}).
		Where("id = ? AND reminder_sent_at IS NULL", id).
		Update("reminder_sent_at", at.UTC()).Error
}

// CancelByIDs отменяет только активные записи из списка и возвращает число отменённых.
func (r *GormBookingRepository) CancelByIDs(ctx context.Context, ids []uuid.UUID, at time.Time, comment string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	updates := map[string]any{
		"status":       model.BookingStatusCancelled,
		"cancelled_at": at.UTC(),
	}
	if comment != "" {
		updates["comment"] = comment
	}
	res := r.db.WithContext(ctx).
		Model(&model.Booking{}).
		Where("id IN ?", ids).
		Where("status IN ?", model.ActiveBookingStatuses).
		Updates(updates)
	return res.RowsAffected, res.Error
}

// Reschedule двигает только активную запись и сбрасывает отметку о напоминании.
func (r *GormBookingRepository) Reschedule(ctx context.Context, id uuid.UUID, start, end time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Booking{}).
		Where("id = ?", id).
		Where("status IN ?", model.ActiveBookingStatuses).
		Updates(map[string]any{
			"starts_at":        start.UTC(),
			"ends_at":          end.UTC(),
			"reminder_sent_at": nil,
		})
	return res.RowsAffected, res.Error
}

func (r *GormBookingRepository) ReassignClient(ctx context.Context, fromClientID, toClientID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&model.Booking{}).
		Where("client_id = ?", fromClientID).
		Update("client_id", toClientID).Error
}
