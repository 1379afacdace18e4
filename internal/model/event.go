package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Тип события аудита.
type EventType string

const (
	EventTypeBookingCreated     EventType = "booking_created"
	EventTypeBookingCancelled   EventType = "booking_cancelled"
	EventTypeBookingRescheduled EventType = "booking_rescheduled"
	EventTypeBookingCompleted   EventType = "booking_completed"
	EventTypeBookingConfirmed   EventType = "booking_confirmed"
	EventTypeBookingNoShow      EventType = "booking_no_show"
	EventTypeLoyaltyRedeemed    EventType = "loyalty_redeemed"
	EventTypeClientMerged       EventType = "client_merged"
)

// events — события аудита
type Event struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	SalonID uuid.UUID `gorm:"type:uuid;not null;index"`

	EventType EventType `gorm:"type:varchar(64);not null;index"`

	CreatedAt time.Time `gorm:"not null;index"`

	UserID    *uuid.UUID `gorm:"type:uuid;index"`
	BookingID *uuid.UUID `gorm:"type:uuid;index"`

	Details string `gorm:"type:text"`
}

func (e *Event) BeforeCreate(tx *gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
