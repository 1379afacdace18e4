package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// users — сотрудники салона с доступом в админку.
type User struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	SalonID uuid.UUID `gorm:"type:uuid;not null;index"`

	Email        string `gorm:"type:varchar(255);not null;uniqueIndex"`
	PasswordHash string `gorm:"type:varchar(255);not null"`
	DisplayName  string `gorm:"type:varchar(255)"`
	TelegramID   *int64 `gorm:"index"`
	IsActive     bool   `gorm:"not null"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`

	Salon *Salon `gorm:"foreignKey:SalonID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	ensureID(&u.ID)
	return nil
}

type ClientStatus string

const (
	ClientStatusActive  ClientStatus = "active"
	ClientStatusBlocked ClientStatus = "blocked"
)

// Откуда клиент пришёл и по какому каналу с ним общаемся.
type Channel string

const (
	ChannelAdmin     Channel = "admin"
	ChannelTelegram  Channel = "telegram"
	ChannelInstagram Channel = "instagram"
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelImport    Channel = "import"
)

// clients
type Client struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	SalonID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_client_salon_tg,priority:1;uniqueIndex:idx_client_salon_ig,priority:1;uniqueIndex:idx_client_salon_wa,priority:1"`

	Name  string `gorm:"type:varchar(255);not null"`
	Phone string `gorm:"type:varchar(32);index"`
	Email string `gorm:"type:varchar(255)"`

	// Идентификаторы в мессенджерах: в пределах салона один аккаунт = один клиент.
	TelegramID  *int64 `gorm:"uniqueIndex:idx_client_salon_tg,priority:2,where:telegram_id IS NOT NULL"`
	InstagramID string `gorm:"type:varchar(64);uniqueIndex:idx_client_salon_ig,priority:2,where:instagram_id <> ''"`
	WhatsAppID  string `gorm:"column:whatsapp_id;type:varchar(32);uniqueIndex:idx_client_salon_wa,priority:2,where:whatsapp_id <> ''"`

	Birthday *datatypes.Date
	// Теги храним постгресовым литералом массива, в SQLite это просто текст.
	Tags  pq.StringArray `gorm:"type:text"`
	Notes string         `gorm:"type:text"`

	Source Channel      `gorm:"type:varchar(16);not null"`
	Status ClientStatus `gorm:"type:varchar(16);not null;index"`

	LastVisitAt *time.Time

	CreatedAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (c *Client) BeforeCreate(tx *gorm.DB) error {
	ensureID(&c.ID)
	if c.Status == "" {
		c.Status = ClientStatusActive
	}
	if c.Source == "" {
		c.Source = ChannelAdmin
	}
	return nil
}

func (c *Client) IsBlocked() bool {
	return c.Status == ClientStatusBlocked
}
