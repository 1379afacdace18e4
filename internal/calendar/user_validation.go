package calendar

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrInvalidTelegramID = errors.New("invalid telegram id")
	ErrUserNotFound      = errors.New("user not found")
	ErrUserInactive      = errors.New("user is inactive")
)

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusInactive UserStatus = "inactive"
	UserStatusBlocked  UserStatus = "blocked"
)

// TelegramUser — тот, кто пишет боту: сотрудник салона или клиент.
type TelegramUser struct {
	ID         uuid.UUID
	SalonID    uuid.UUID
	TelegramID int64
	Role       string // owner | admin | master | client
	Status     UserStatus
}

// TelegramUserStore ищет пользователя по Telegram ID. Отсутствие — (nil, nil).
type TelegramUserStore interface {
	FindByTelegramID(ctx context.Context, telegramID int64) (*TelegramUser, error)
}

// ValidateTelegramUser проверяет идентификатор, находит пользователя и отсекает
// неактивных и заблокированных.
func ValidateTelegramUser(ctx context.Context, store TelegramUserStore, telegramID int64) (*TelegramUser, error) {
	if telegramID <= 0 {
		return nil, ErrInvalidTelegramID
	}
	u, err := store.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	if u.Status != UserStatusActive {
		return nil, ErrUserInactive
	}
	out := *u
	return &out, nil
}
