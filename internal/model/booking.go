package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusNoShow    BookingStatus = "no_show"
)

// ActiveBookingStatuses — записи, которые занимают время мастера.
var ActiveBookingStatuses = []BookingStatus{BookingStatusPending, BookingStatusConfirmed}

func (s BookingStatus) IsActive() bool {
	return s == BookingStatusPending || s == BookingStatusConfirmed
}

// bookings
type Booking struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	SalonID uuid.UUID `gorm:"type:uuid;not null;index"`

	ClientID   uuid.UUID `gorm:"type:uuid;not null;index"`
	EmployeeID uuid.UUID `gorm:"type:uuid;not null;index:idx_booking_employee_time"`
	ServiceID  uuid.UUID `gorm:"type:uuid;not null;index"`

	StartsAt time.Time `gorm:"not null;index:idx_booking_employee_time"`
	EndsAt   time.Time `gorm:"not null"`

	Status BookingStatus   `gorm:"type:varchar(32);not null;index"`
	Price  decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Source Channel         `gorm:"type:varchar(16);not null"`

	Comment string `gorm:"type:text"`

	CancelledAt    *time.Time
	CompletedAt    *time.Time
	ReminderSentAt *time.Time `gorm:"index"`

	CreatedAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time `gorm:"not null"`

	Client   *Client   `gorm:"foreignKey:ClientID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	Employee *Employee `gorm:"foreignKey:EmployeeID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	Service  *Service  `gorm:"foreignKey:ServiceID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

func (b *Booking) BeforeCreate(tx *gorm.DB) error {
	ensureID(&b.ID)
	return nil
}
