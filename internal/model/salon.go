package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	DefaultTimeZone        = "Europe/Moscow"
	DefaultCurrency        = "RUB"
	DefaultSlotStepMin     = 15
	DefaultBookingLeadMin  = 60
	DefaultCancelWindowMin = 120
)

// DefaultLoyaltyRate — доля чека, которая возвращается баллами.
var DefaultLoyaltyRate = decimal.NewFromFloat(0.05)

// Salon — арендатор платформы. Все остальные сущности привязаны к салону.
type Salon struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name     string `gorm:"type:varchar(255);not null"`
	TimeZone string `gorm:"type:varchar(64);not null"`
	Currency string `gorm:"type:varchar(8);not null"`

	// Шаг сетки слотов и минимальный запас времени до записи, в минутах.
	SlotStepMin    int `gorm:"not null"`
	BookingLeadMin int `gorm:"not null"`
	// Клиент не может сам отменить запись позже, чем за CancelWindowMin до начала.
	CancelWindowMin int `gorm:"not null"`

	LoyaltyRate decimal.Decimal `gorm:"type:numeric(5,4);not null"`

	IsActive bool `gorm:"not null;index"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (s *Salon) BeforeCreate(tx *gorm.DB) error {
	ensureID(&s.ID)
	s.ApplyDefaults()
	return nil
}

// ApplyDefaults заполняет незаданные настройки значениями по умолчанию.
func (s *Salon) ApplyDefaults() {
	if s.TimeZone == "" {
		s.TimeZone = DefaultTimeZone
	}
	if s.Currency == "" {
		s.Currency = DefaultCurrency
	}
	if s.SlotStepMin <= 0 {
		s.SlotStepMin = DefaultSlotStepMin
	}
	if s.BookingLeadMin < 0 {
		s.BookingLeadMin = 0
	}
	if s.CancelWindowMin < 0 {
		s.CancelWindowMin = 0
	}
	if s.LoyaltyRate.IsNegative() {
		s.LoyaltyRate = decimal.Zero
	}
}

// Location возвращает часовой пояс салона; при ошибке — UTC.
func (s *Salon) Location() *time.Location {
	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
