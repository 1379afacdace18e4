package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "cash"
	PaymentMethodCard   PaymentMethod = "card"
	PaymentMethodOnline PaymentMethod = "online"
	PaymentMethodPoints PaymentMethod = "points"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodOnline, PaymentMethodPoints:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// payments
type Payment struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	SalonID uuid.UUID `gorm:"type:uuid;not null;index"`

	BookingID *uuid.UUID `gorm:"type:uuid;index"`
	ClientID  uuid.UUID  `gorm:"type:uuid;not null;index"`

	Amount decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Method PaymentMethod   `gorm:"type:varchar(16);not null"`
	Status PaymentStatus   `gorm:"type:varchar(16);not null;index"`

	PaidAt     time.Time `gorm:"not null;index"`
	RefundedAt *time.Time

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

type LoyaltyKind string

const (
	LoyaltyKindEarn   LoyaltyKind = "earn"
	LoyaltyKindRedeem LoyaltyKind = "redeem"
	LoyaltyKindAdjust LoyaltyKind = "adjust"
)

// loyalty_transactions — журнал баллов. Баланс клиента = SUM(points).
type LoyaltyTransaction struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	SalonID uuid.UUID `gorm:"type:uuid;not null;index"`

	ClientID  uuid.UUID  `gorm:"type:uuid;not null;index"`
	BookingID *uuid.UUID `gorm:"type:uuid;index"`

	Points  int64       `gorm:"not null"`
	Kind    LoyaltyKind `gorm:"type:varchar(16);not null"`
	Comment string      `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;index"`
}

func (l *LoyaltyTransaction) BeforeCreate(tx *gorm.DB) error {
	ensureID(&l.ID)
	return nil
}
