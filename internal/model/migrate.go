package model

import "gorm.io/gorm"

// AutoMigrate выполняет миграцию всех сущностей CRM. Схема одинаково
// разворачивается и на Postgres, и на SQLite.
func AutoMigrate(db *gorm.DB) error {
	if err := db.SetupJoinTable(&Employee{}, "Services", &EmployeeService{}); err != nil {
		return err
	}
	if err := db.SetupJoinTable(&Service{}, "Employees", &EmployeeService{}); err != nil {
		return err
	}
	return db.AutoMigrate(
		&Salon{},
		&User{},
		&Role{},
		&UserRole{},
		&Client{},
		&Service{},
		&Employee{},
		&EmployeeService{},
		&Schedule{},
		&TimeOff{},
		&Holiday{},
		&Booking{},
		&Payment{},
		&LoyaltyTransaction{},
		&ConversationContext{},
		&ChatMessage{},
		&Event{},
	)
}
