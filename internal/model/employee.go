package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Employee — мастер салона. Может быть привязан к учётке в админке через UserID.
type Employee struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	SalonID uuid.UUID `gorm:"type:uuid;not null;index"`

	UserID *uuid.UUID `gorm:"type:uuid;index"`

	DisplayName string `gorm:"type:varchar(255);not null"`
	Position    string `gorm:"type:varchar(255)"`
	Description string `gorm:"type:text"`

	IsActive bool `gorm:"not null;index"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`

	Services  []Service  `gorm:"many2many:employee_services;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Schedules []Schedule `gorm:"foreignKey:EmployeeID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (e *Employee) BeforeCreate(tx *gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
