package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Leganyst/salon-crm/internal/ai"
	"github.com/Leganyst/salon-crm/internal/apperr"
	"github.com/Leganyst/salon-crm/internal/cache"
	"github.com/Leganyst/salon-crm/internal/db"
	"github.com/Leganyst/salon-crm/internal/model"
	"github.com/Leganyst/salon-crm/internal/repository"
)

// Notifier доставляет клиенту текстовое сообщение по доступному каналу.
type Notifier interface {
	Notify(ctx context.Context, client *model.Client, text string) error
}

// ChatModel — генеративная модель для ассистента.
type ChatModel interface {
	Chat(ctx context.Context, messages []ai.Message) (string, error)
}

// Clock позволяет подменять текущее время в тестах.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

func availabilityPrefix(salonID uuid.UUID) string {
	return cache.Key("availability", salonID.String()) + ":"
}

func invalidateAvailability(ctx context.Context, c cache.Cache, log logrus.FieldLogger, salonID uuid.UUID) {
	if c == nil {
		return
	}
	if err := c.DeletePrefix(ctx, availabilityPrefix(salonID)); err != nil {
		log.WithFields(logrus.Fields{"salon_id": salonID, "error": err}).Warn("availability cache invalidation failed")
	}
}

// loadSalon достаёт салон и проверяет, что он активен.
func loadSalon(ctx context.Context, tx *gorm.DB, salonID uuid.UUID) (*model.Salon, error) {
	salon, err := repository.NewGormSalonRepository(tx).GetByID(ctx, salonID)
	if err != nil {
		return nil, dbErr("salon", err)
	}
	return salon, nil
}

// lockClient сериализует операции с баллами клиента на Postgres.
func lockClient(ctx context.Context, tx *gorm.DB, clientID uuid.UUID) error {
	if !db.IsPostgres(tx) {
		return nil
	}
	var c model.Client
	return tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").First(&c, "id = ?", clientID).Error
}

// normalizeName: лишние пробелы убираются, каждое слово с заглавной.
// cases.Caser хранит состояние, поэтому создаётся на каждый вызов.
func normalizeName(name string) string {
	return cases.Title(language.Russian).String(strings.Join(strings.Fields(name), " "))
}

func truncateMinute(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

func uuidPtr(id uuid.UUID) *uuid.UUID {
	return &id
}

func dbErr(what string, err error) error {
	return apperr.FromDB(what, err)
}
