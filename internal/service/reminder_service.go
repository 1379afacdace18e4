package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Leganyst/salon-crm/internal/calendar"
	"github.com/Leganyst/salon-crm/internal/model"
	"github.com/Leganyst/salon-crm/internal/notify"
	"github.com/Leganyst/salon-crm/internal/repository"
	"github.com/Leganyst/salon-crm/internal/worker"
)

const reminderBatch = 500

type ReminderConfig struct {
	Lead     time.Duration
	Interval time.Duration
	Workers  int
}

type ReminderStats struct {
	Due    int `json:"due"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
	Purged int `json:"purged"`
}

// ReminderService напоминает клиентам о подтверждённых записях и заодно
// подчищает истёкший контекст диалогов.
type ReminderService struct {
	db            *gorm.DB
	notifier      Notifier
	conversations *ConversationService
	cfg           ReminderConfig
	now           Clock
	log           logrus.FieldLogger
}

func NewReminderService(db *gorm.DB, notifier Notifier, conversations *ConversationService, cfg ReminderConfig, log logrus.FieldLogger) *ReminderService {
	if cfg.Lead <= 0 {
		cfg.Lead = 24 * time.Hour
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &ReminderService{
		db:            db,
		notifier:      notifier,
		conversations: conversations,
		cfg:           cfg,
		now:           systemClock,
		log:           log.WithField("component", "reminders"),
	}
}

// RunOnce отправляет напоминания по записям, начинающимся в (now, now+lead].
// Неудачные отправки остаются без отметки и повторяются на следующем тике.
func (s *ReminderService) RunOnce(ctx context.Context, now time.Time) (ReminderStats, error) {
	var stats ReminderStats
	if s.conversations != nil {
		n, err := s.conversations.Purge(ctx, now)
		if err != nil {
			s.log.WithError(err).Warn("purge conversation context")
		}
		stats.Purged = int(n)
	}
	// без каналов доставки напоминания не шлём, но контекст чистим всё равно
	if s.notifier == nil {
		return stats, nil
	}

	bookings := repository.NewGormBookingRepository(s.db)
	due, err := bookings.ListDueReminders(ctx, now, now.Add(s.cfg.Lead), reminderBatch)
	if err != nil {
		return stats, dbErr("due reminders", err)
	}
	stats.Due = len(due)
	if len(due) == 0 {
		return stats, nil
	}

	locations, err := s.salonLocations(ctx, due)
	if err != nil {
		return stats, err
	}

	var sent, failed int64
	tasks := make([]worker.Task, 0, len(due))
	for i := range due {
		b := due[i]
		tasks = append(tasks, func(ctx context.Context) error {
			log := s.log.WithFields(logrus.Fields{"salon_id": b.SalonID, "booking_id": b.ID})
			err := s.notifier.Notify(ctx, b.Client, reminderText(&b, locations[b.SalonID]))
			switch {
			case errors.Is(err, notify.ErrNoChannel):
				// писать некуда, повторять бессмысленно
				log.Info("client has no channel for reminder")
			case err != nil:
				atomic.AddInt64(&failed, 1)
				return fmt.Errorf("booking %s: %w", b.ID, err)
			}
			if err := bookings.MarkReminderSent(ctx, b.ID, s.now()); err != nil {
				atomic.AddInt64(&failed, 1)
				return fmt.Errorf("mark reminder %s: %w", b.ID, err)
			}
			atomic.AddInt64(&sent, 1)
			return nil
		})
	}

	for _, err := range worker.Run(ctx, s.cfg.Workers, tasks) {
		s.log.WithError(err).Warn("reminder failed")
	}
	stats.Sent = int(atomic.LoadInt64(&sent))
	stats.Failed = int(atomic.LoadInt64(&failed))
	s.log.WithFields(logrus.Fields{"due": stats.Due, "sent": stats.Sent, "failed": stats.Failed}).Info("reminders processed")
	return stats, nil
}

// Run тикает каждые Interval до отмены ctx. Первый проход — сразу.
func (s *ReminderService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx, s.now()); err != nil {
			s.log.WithError(err).Error("reminder tick failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *ReminderService) salonLocations(ctx context.Context, due []model.Booking) (map[uuid.UUID]*time.Location, error) {
	out := make(map[uuid.UUID]*time.Location)
	for _, b := range due {
		if _, ok := out[b.SalonID]; ok {
			continue
		}
		salon, err := loadSalon(ctx, s.db, b.SalonID)
		if err != nil {
			return nil, err
		}
		out[b.SalonID] = salon.Location()
	}
	return out, nil
}

func reminderText(b *model.Booking, loc *time.Location) string {
	when := calendar.FormatSlotForUser(calendar.TimeRange{Start: b.StartsAt, End: b.EndsAt}, loc, false, "")
	text := "Напоминаем о записи: " + when
	if b.Service != nil {
		text += ", " + b.Service.Name
	}
	if b.Employee != nil {
		text += ", мастер " + b.Employee.DisplayName
	}
	return text + ". Если планы изменились, пожалуйста, предупредите нас."
}
