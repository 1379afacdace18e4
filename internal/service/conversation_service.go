package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/Leganyst/salon-crm/internal/apperr"
	"github.com/Leganyst/salon-crm/internal/model"
	"github.com/Leganyst/salon-crm/internal/repository"
)

const (
	// SessionKey — момент начала текущей сессии диалога; история берётся с него.
	SessionKey = "session_started_at"
	SessionTTL = 24 * time.Hour

	defaultHistoryLimit = 20
)

type ConversationService struct {
	db  *gorm.DB
	now Clock
	log logrus.FieldLogger
}

func NewConversationService(db *gorm.DB, log logrus.FieldLogger) *ConversationService {
	return &ConversationService{db: db, now: systemClock, log: log}
}

func validKey(k repository.ConversationKey) error {
	if k.SalonID == uuid.Nil || k.ClientID == uuid.Nil || k.Channel == "" || strings.TrimSpace(k.Key) == "" {
		return apperr.Validation("salon, client, channel and key are required", nil)
	}
	if len(k.Key) > 64 {
		return apperr.Validation("key is too long", nil)
	}
	return nil
}

// Get читает значение в dst. Истёкшие строки считаются отсутствующими: false без ошибки.
func (s *ConversationService) Get(ctx context.Context, k repository.ConversationKey, dst any) (bool, error) {
	if err := validKey(k); err != nil {
		return false, err
	}
	row, err := repository.NewGormConversationRepository(s.db).Get(ctx, k)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, dbErr("conversation context", err)
	}
	if !row.ExpiresAt.After(s.now()) {
		return false, nil
	}
	if dst != nil && len(row.Value) > 0 {
		if err := json.Unmarshal(row.Value, dst); err != nil {
			return false, apperr.Internal("decode conversation context", err)
		}
	}
	return true, nil
}

// Set записывает значение и продлевает срок жизни ключа на ttl.
func (s *ConversationService) Set(ctx context.Context, k repository.ConversationKey, value any, ttl time.Duration) error {
	if err := validKey(k); err != nil {
		return err
	}
	if ttl <= 0 {
		return apperr.Validation("ttl must be positive", nil)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return apperr.Validation("value is not serializable", err)
	}
	row := &model.ConversationContext{
		SalonID:   k.SalonID,
		ClientID:  k.ClientID,
		Channel:   k.Channel,
		Key:       k.Key,
		Value:     datatypes.JSON(raw),
		ExpiresAt: s.now().Add(ttl),
	}
	return dbErr("conversation context", repository.NewGormConversationRepository(s.db).Upsert(ctx, row))
}

func (s *ConversationService) Delete(ctx context.Context, k repository.ConversationKey) error {
	if err := validKey(k); err != nil {
		return err
	}
	return dbErr("conversation context", repository.NewGormConversationRepository(s.db).Delete(ctx, k))
}

// Purge удаляет истёкшие строки контекста.
func (s *ConversationService) Purge(ctx context.Context, now time.Time) (int64, error) {
	n, err := repository.NewGormConversationRepository(s.db).PurgeExpired(ctx, now)
	if err != nil {
		return 0, dbErr("purge conversation context", err)
	}
	if n > 0 {
		s.log.WithField("rows", n).Debug("expired conversation context purged")
	}
	return n, nil
}

func (s *ConversationService) AppendMessage(ctx context.Context, salonID, clientID uuid.UUID, channel model.Channel, dir model.MessageDirection, text string) error {
	return dbErr("chat message", repository.NewGormConversationRepository(s.db).AppendMessage(ctx, &model.ChatMessage{
		SalonID:   salonID,
		ClientID:  clientID,
		Channel:   channel,
		Direction: dir,
		Text:      text,
		CreatedAt: s.now(),
	}))
}

// Touch открывает новую сессию, если прежняя истекла, и продлевает текущую.
// Возвращает момент начала сессии.
func (s *ConversationService) Touch(ctx context.Context, salonID, clientID uuid.UUID, channel model.Channel) (time.Time, error) {
	k := repository.ConversationKey{SalonID: salonID, ClientID: clientID, Channel: channel, Key: SessionKey}
	var started time.Time
	ok, err := s.Get(ctx, k, &started)
	if err != nil {
		return time.Time{}, err
	}
	if !ok || started.IsZero() {
		started = s.now()
	}
	if err := s.Set(ctx, k, started, SessionTTL); err != nil {
		return time.Time{}, err
	}
	return started, nil
}

// History — сообщения текущей сессии, не больше limit последних.
func (s *ConversationService) History(ctx context.Context, salonID, clientID uuid.UUID, channel model.Channel, limit int) ([]model.ChatMessage, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	k := repository.ConversationKey{SalonID: salonID, ClientID: clientID, Channel: channel, Key: SessionKey}
	var started time.Time
	ok, err := s.Get(ctx, k, &started)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []model.ChatMessage{}, nil
	}
	msgs, err := repository.NewGormConversationRepository(s.db).ListMessages(ctx, salonID, clientID, channel, started, limit)
	if err != nil {
		return nil, dbErr("chat messages", err)
	}
	return msgs, nil
}
