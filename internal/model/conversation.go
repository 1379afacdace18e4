package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// conversation_context — состояние диалога бота: ключ-значение с временем жизни.
type ConversationContext struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	SalonID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_conversation_key"`

	ClientID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_conversation_key"`
	Channel  Channel   `gorm:"type:varchar(16);not null;uniqueIndex:idx_conversation_key"`
	Key      string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_conversation_key"`

	Value     datatypes.JSON `gorm:"type:jsonb"`
	ExpiresAt time.Time      `gorm:"not null;index"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (ConversationContext) TableName() string { return "conversation_context" }

func (c *ConversationContext) BeforeCreate(tx *gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

type MessageDirection string

const (
	DirectionIn  MessageDirection = "in"
	DirectionOut MessageDirection = "out"
)

// chat_messages — переписка клиента с ботом.
type ChatMessage struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	SalonID uuid.UUID `gorm:"type:uuid;not null;index"`

	ClientID  uuid.UUID        `gorm:"type:uuid;not null;index:idx_chat_client_time"`
	Channel   Channel          `gorm:"type:varchar(16);not null"`
	Direction MessageDirection `gorm:"type:varchar(4);not null"`
	Text      string           `gorm:"type:text;not null"`

	CreatedAt time.Time `gorm:"not null;index:idx_chat_client_time"`
}

func (m *ChatMessage) BeforeCreate(tx *gorm.DB) error {
	ensureID(&m.ID)
	return nil
}
