package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// employee_schedule — рабочее расписание мастера. Правила — JSON-массив
// calendar.WorkingDayRule, действуют в интервале дат [StartDate, EndDate].
type Schedule struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	EmployeeID uuid.UUID `gorm:"type:uuid;not null;index"`

	// Чистые даты без времени — datatypes.Date
	StartDate *datatypes.Date
	EndDate   *datatypes.Date

	Rules datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Schedule) TableName() string { return "employee_schedule" }

func (s *Schedule) BeforeCreate(tx *gorm.DB) error {
	ensureID(&s.ID)
	return nil
}

// ActiveOn — действует ли расписание в указанный день (день берётся в своей таймзоне).
func (s *Schedule) ActiveOn(day time.Time) bool {
	d := dateKey(day)
	if s.StartDate != nil && d < dateKey(time.Time(*s.StartDate)) {
		return false
	}
	if s.EndDate != nil && d > dateKey(time.Time(*s.EndDate)) {
		return false
	}
	return true
}

// employee_time_off — отпуск, больничный, личное время.
type TimeOff struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	EmployeeID uuid.UUID `gorm:"type:uuid;not null;index"`

	StartsAt time.Time `gorm:"not null;index"`
	EndsAt   time.Time `gorm:"not null"`
	Reason   string    `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (TimeOff) TableName() string { return "employee_time_off" }

func (t *TimeOff) BeforeCreate(tx *gorm.DB) error {
	ensureID(&t.ID)
	return nil
}

// holidays — салон закрыт весь день.
type Holiday struct {
	ID      uuid.UUID      `gorm:"type:uuid;primaryKey"`
	SalonID uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_holiday_salon_date"`
	Date    datatypes.Date `gorm:"not null;uniqueIndex:idx_holiday_salon_date"`
	Name    string         `gorm:"type:varchar(255)"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (h *Holiday) BeforeCreate(tx *gorm.DB) error {
	ensureID(&h.ID)
	return nil
}

// dateKey — yyyymmdd для сравнения дат без учёта времени.
func dateKey(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}
