package model

import "github.com/google/uuid"

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMaster = "master"
)

// roles
type Role struct {
	ID   int64  `gorm:"primaryKey;autoIncrement"`
	Code string `gorm:"type:varchar(32);not null;uniqueIndex"`
	Name string `gorm:"type:varchar(255)"`
}

// user_roles — связывает пользователей и роли (комбинированный PK)
type UserRole struct {
	RoleID int64     `gorm:"primaryKey;index"`
	UserID uuid.UUID `gorm:"type:uuid;primaryKey;index"`

	Role *Role `gorm:"foreignKey:RoleID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	User *User `gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// RoleRank — чем больше, тем больше прав.
func RoleRank(code string) int {
	switch code {
	case RoleOwner:
		return 3
	case RoleAdmin:
		return 2
	case RoleMaster:
		return 1
	default:
		return 0
	}
}

// IsRoleOrHigher проверяет, что роль не ниже требуемой.
func IsRoleOrHigher(code, required string) bool {
	return RoleRank(code) >= RoleRank(required) && RoleRank(code) > 0
}
