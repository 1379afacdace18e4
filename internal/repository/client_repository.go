package repository

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Leganyst/salon-crm/internal/calendar"
	"github.com/Leganyst/salon-crm/internal/model"
)

type ClientFilter struct {
	SalonID uuid.UUID
	// Поиск по имени, телефону или e-mail.
	Search string
	Tag    string
	Status model.ClientStatus
	Page   calendar.PageRequest
}

type ClientRepository interface {
	Create(ctx context.Context, c *model.Client) error
	Save(ctx context.Context, c *model.Client) error
	GetByID(ctx context.Context, salonID, id uuid.UUID) (*model.Client, error)
	FindByPhone(ctx context.Context, salonID uuid.UUID, phone string) (*model.Client, error)
	FindByChannel(ctx context.Context, salonID uuid.UUID, channel model.Channel, externalID string) (*model.Client, error)
	List(ctx context.Context, f ClientFilter) ([]model.Client, int64, error)
	SetStatus(ctx context.Context, salonID, id uuid.UUID, status model.ClientStatus) error
	TouchLastVisit(ctx context.Context, id uuid.UUID, at time.Time) error
	Delete(ctx context.Context, salonID, id uuid.UUID) error
	CountCreatedBetween(ctx context.Context, salonID uuid.UUID, from, to time.Time) (int64, error)
}

type GormClientRepository struct {
	db *gorm.DB
}

func NewGormClientRepository(db *gorm.DB) *GormClientRepository {
	return &GormClientRepository{db: db}
}

// NormalizePhone оставляет в номере только цифры.
func NormalizePhone(phone string) string {
	b := make([]byte, 0, len(phone))
	for i := 0; i < len(phone); i++ {
		if c := phone[i]; c >= '0' && c <= '9' {
			b = append(b, c)
		}
	}
	return string(b)
}

func (r *GormClientRepository) Create(ctx context.Context, c *model.Client) error {
	c.Phone = NormalizePhone(c.Phone)
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *GormClientRepository) Save(ctx context.Context, c *model.Client) error {
	c.Phone = NormalizePhone(c.Phone)
	return r.db.WithContext(ctx).Save(c).Error
}

func (r *GormClientRepository) GetByID(ctx context.Context, salonID, id uuid.UUID) (*model.Client, error) {
	var c model.Client
	if err := r.db.WithContext(ctx).First(&c, "id = ? AND salon_id = ?", id, salonID).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *GormClientRepository) FindByPhone(ctx context.Context, salonID uuid.UUID, phone string) (*model.Client, error) {
	n := NormalizePhone(phone)
	if n == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var c model.Client
	if err := r.db.WithContext(ctx).Where("salon_id = ? AND phone = ?", salonID, n).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// FindByChannel ищет клиента по идентификатору в мессенджере.
func (r *GormClientRepository) FindByChannel(
	ctx context.Context,
	salonID uuid.UUID,
	channel model.Channel,
	externalID string,
) (*model.Client, error) {
	q := r.db.WithContext(ctx).Where("salon_id = ?", salonID)
	switch channel {
	case model.ChannelTelegram:
		id, err := strconv.ParseInt(externalID, 10, 64)
		if err != nil {
			return nil, gorm.ErrRecordNotFound
		}
		q = q.Where("telegram_id = ?", id)
	case model.ChannelInstagram:
		q = q.Where("instagram_id = ?", externalID)
	case model.ChannelWhatsApp:
		q = q.Where("whatsapp_id = ?", NormalizePhone(externalID))
	default:
		return nil, gorm.ErrRecordNotFound
	}
	var c model.Client
	if err := q.First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *GormClientRepository) List(ctx context.Context, f ClientFilter) ([]model.Client, int64, error) {
	var (
		clients []model.Client
		total   int64
	)

	q := r.db.WithContext(ctx).Model(&model.Client{}).Where("salon_id = ?", f.SalonID)
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		cond := "LOWER(name) LIKE ? OR LOWER(email) LIKE ?"
		args := []any{like, like}
		if digits := NormalizePhone(s); digits != "" {
			cond += " OR phone LIKE ?"
			args = append(args, "%"+digits+"%")
		}
		q = q.Where(cond, args...)
	}
	if f.Tag != "" {
		// pq.StringArray пишет элементы в кавычках: {"vip","new client"}
		q = q.Where("tags LIKE ?", "%\""+f.Tag+"\"%")
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := q.Order("name").Limit(f.Page.Limit()).Offset(f.Page.Offset()).Find(&clients).Error; err != nil {
		return nil, 0, err
	}
	return clients, total, nil
}

func (r *GormClientRepository) SetStatus(ctx context.Context, salonID, id uuid.UUID, status model.ClientStatus) error {
	res := r.db.WithContext(ctx).
		Model(&model.Client{}).
		Where("id = ? AND salon_id = ?", id, salonID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *GormClientRepository) TouchLastVisit(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.Client{}).
		Where("id = ?", id).
		Where("last_visit_at IS NULL OR last_visit_at < ?", at).
		Update("last_visit_at", at).Error
}

func (r *GormClientRepository) Delete(ctx context.Context, salonID, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Where("id = ? AND salon_id = ?", id, salonID).Delete(&model.Client{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *GormClientRepository) CountCreatedBetween(ctx context.Context, salonID uuid.UUID, from, to time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&model.Client{}).
		Where("salon_id = ? AND created_at >= ? AND created_at < ?", salonID, from, to).
		Count(&n).Error
	return n, err
}
