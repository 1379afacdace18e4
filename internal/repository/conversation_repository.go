package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Leganyst/salon-crm/internal/model"
)

type ConversationKey struct {
	SalonID  uuid.UUID
	ClientID uuid.UUID
	Channel  model.Channel
	Key      string
}

type ConversationRepository interface {
	// Get возвращает строку контекста, даже если она уже истекла; решает вызывающий.
	Get(ctx context.Context, k ConversationKey) (*model.ConversationContext, error)
	Upsert(ctx context.Context, row *model.ConversationContext) error
	Delete(ctx context.Context, k ConversationKey) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
	ReassignClient(ctx context.Context, fromClientID, toClientID uuid.UUID) error

	AppendMessage(ctx context.Context, m *model.ChatMessage) error
	// ListMessages — последние limit сообщений с момента since, в хронологическом порядке.
	ListMessages(ctx context.Context, salonID, clientID uuid.UUID, channel model.Channel, since time.Time, limit int) ([]model.ChatMessage, error)
}

type GormConversationRepository struct {
	db *gorm.DB
}

func NewGormConversationRepository(db *gorm.DB) *GormConversationRepository {
	return &GormConversationRepository{db: db}
}

func (r *GormConversationRepository) scope(k ConversationKey) *gorm.DB {
	return r.db.Where("salon_id = ? AND client_id = ? AND channel = ? AND key = ?", k.SalonID, k.ClientID, k.Channel, k.Key)
}

func (r *GormConversationRepository) Get(ctx context.Context, k ConversationKey) (*model.ConversationContext, error) {
	var row model.ConversationContext
	if err := r.scope(k).WithContext(ctx).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// Upsert по уникальному ключу (salon, client, channel, key).
func (r *GormConversationRepository) Upsert(ctx context.Context, row *model.ConversationContext) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "salon_id"}, {Name: "client_id"}, {Name: "channel"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
	}).Create(row).Error
}

func (r *GormConversationRepository) Delete(ctx context.Context, k ConversationKey) error {
	return r.scope(k).WithContext(ctx).Delete(&model.ConversationContext{}).Error
}

func (r *GormConversationRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", now.UTC()).Delete(&model.ConversationContext{})
	return res.RowsAffected, res.Error
}

// ReassignClient переносит контекст на другого клиента; конфликтующие ключи остаются за целевым.
func (r *GormConversationRepository) ReassignClient(ctx context.Context, fromClientID, toClientID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.ChatMessage{}).
			Where("client_id = ?", fromClientID).
			Update("client_id", toClientID).Error; err != nil {
			return err
		}
		var rows []model.ConversationContext
		if err := tx.Where("client_id = ?", fromClientID).Find(&rows).Error; err != nil {
			return err
		}
		for _, row := range rows {
			var n int64
			err := tx.Model(&model.ConversationContext{}).
				Where("salon_id = ? AND client_id = ? AND channel = ? AND key = ?", row.SalonID, toClientID, row.Channel, row.Key).
				Count(&n).Error
			if err != nil {
				return err
			}
			if n > 0 {
				if err := tx.Delete(&model.ConversationContext{}, "id = ?", row.ID).Error; err != nil {
					return err
				}
				continue
			}
			if err := tx.Model(&model.ConversationContext{}).Where("id = ?", row.ID).Update("client_id", toClientID).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *GormConversationRepository) AppendMessage(ctx context.Context, m *model.ChatMessage) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *GormConversationRepository) ListMessages(
	ctx context.Context,
	salonID, clientID uuid.UUID,
	channel model.Channel,
	since time.Time,
	limit int,
) ([]model.ChatMessage, error) {
	q := r.db.WithContext(ctx).
		Where("salon_id = ? AND client_id = ? AND channel = ?", salonID, clientID, channel).
		Where("created_at >= ?", since.UTC()).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []model.ChatMessage
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
