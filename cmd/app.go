package main

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/Leganyst/salon-crm/internal/ai"
	"github.com/Leganyst/salon-crm/internal/cache"
	"github.com/Leganyst/salon-crm/internal/channels/meta"
	"github.com/Leganyst/salon-crm/internal/channels/telegram"
	"github.com/Leganyst/salon-crm/internal/config"
	"github.com/Leganyst/salon-crm/internal/db"
	"github.com/Leganyst/salon-crm/internal/logger"
	"github.com/Leganyst/salon-crm/internal/model"
	"github.com/Leganyst/salon-crm/internal/notify"
	"github.com/Leganyst/salon-crm/internal/service"
)

// app — общее окружение команд: конфиг, логгер, БД и кэш.
type app struct {
	cfg   *config.AppConfig
	log   *logrus.Logger
	db    *gorm.DB
	cache cache.Cache

	closers []func()
}

func bootstrap(cmd *cobra.Command) (*app, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	config.LoadEnvFile(envFile)

	cfg, err := config.LoadAppConfig()
	if err != nil {
		return nil, fmt.Errorf("load app config: %w", err)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	dbCfg, err := config.LoadDBConfig()
	if err != nil {
		return nil, fmt.Errorf("load db config: %w", err)
	}
	gormDB, err := db.NewGormDB(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("init db: %w", err)
	}
	a := &app{cfg: cfg, log: log, db: gormDB}
	a.closers = append(a.closers, func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	a.cache = a.openCache(cmd.Context())
	log.WithFields(logrus.Fields{"env": cfg.Env, "db_driver": dbCfg.Driver}).Info("bootstrap complete")
	return a, nil
}

// openCache — Redis, если он задан и отвечает; иначе кэш в памяти процесса.
func (a *app) openCache(ctx context.Context) cache.Cache {
	if a.cfg.RedisAddr != "" {
		r := cache.NewRedis(a.cfg.RedisAddr, a.cfg.RedisPassword, a.cfg.RedisDB)
		err := r.Ping(ctx)
		if err == nil {
			a.closers = append(a.closers, func() { _ = r.Close() })
			a.log.WithField("addr", a.cfg.RedisAddr).Info("using redis cache")
			return r
		}
		a.log.WithError(err).Warn("redis is unavailable, falling back to in-memory cache")
		_ = r.Close()
	}
	mem := cache.NewMemory(0)
	a.closers = append(a.closers, mem.Close)
	return mem
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) migrate() error {
	if err := model.AutoMigrate(a.db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// channels — внешние каналы связи. Незаданные в конфиге остаются nil.
type channels struct {
	botAPI *tgbotapi.BotAPI
	meta   *meta.Client
	email  *notify.SMTPSender
}

func (a *app) openChannels() (*channels, error) {
	ch := &channels{}
	if a.cfg.TelegramToken != "" {
		api, err := tgbotapi.NewBotAPI(a.cfg.TelegramToken)
		if err != nil {
			return nil, fmt.Errorf("telegram bot: %w", err)
		}
		if a.cfg.TelegramBotUsername == "" {
			a.cfg.TelegramBotUsername = api.Self.UserName
		}
		ch.botAPI = api
	}
	if a.cfg.MetaAccessToken != "" {
		ch.meta = meta.NewClient(meta.Config{
			AccessToken:   a.cfg.MetaAccessToken,
			PhoneNumberID: a.cfg.MetaPhoneNumberID,
		}, a.log)
	}
	if a.cfg.SMTP.Enabled() {
		ch.email = notify.NewSMTPSender(a.cfg.SMTP)
	}
	return ch, nil
}

// notifier собирает MultiNotifier без typed-nil отправителей.
func (a *app) notifier(ch *channels) *notify.MultiNotifier {
	var (
		tg    notify.TelegramSender
		wa    notify.WhatsAppSender
		email notify.EmailSender
	)
	if ch.botAPI != nil {
		tg = telegram.NewSender(ch.botAPI)
	}
	if ch.meta != nil {
		wa = ch.meta
	}
	if ch.email != nil {
		email = ch.email
	}
	return notify.NewMultiNotifier(tg, wa, email, a.log)
}

type services struct {
	identity      *service.IdentityService
	catalog       *service.CatalogService
	clients       *service.ClientService
	availability  *service.AvailabilityService
	bookings      *service.BookingService
	loyalty       *service.LoyaltyService
	payments      *service.PaymentService
	analytics     *service.AnalyticsService
	conversations *service.ConversationService
	assistant     *service.AssistantService
	reminders     *service.ReminderService
}

func (a *app) buildServices(notifier service.Notifier) *services {
	var chat service.ChatModel
	if a.cfg.AIAPIKey != "" {
		chat = ai.NewGeminiClient(ai.Config{
			APIKey:  a.cfg.AIAPIKey,
			BaseURL: a.cfg.AIBaseURL,
			Model:   a.cfg.AIModel,
			RPS:     a.cfg.AIRPS,
		}, a.log)
	} else {
		a.log.Warn("AI_API_KEY is empty, assistant answers with a canned reply")
	}

	s := &services{
		identity:      service.NewIdentityService(a.db, a.cfg.JWTSecret, a.cfg.JWTTTL, a.log),
		catalog:       service.NewCatalogService(a.db, a.cache, a.log),
		clients:       service.NewClientService(a.db, a.log),
		availability:  service.NewAvailabilityService(a.db, a.cache, a.log),
		loyalty:       service.NewLoyaltyService(a.db, a.log),
		payments:      service.NewPaymentService(a.db, a.log),
		analytics:     service.NewAnalyticsService(a.db, a.cache, a.log),
		conversations: service.NewConversationService(a.db, a.log),
	}
	s.bookings = service.NewBookingService(a.db, s.availability, a.cache, notifier, a.log)
	s.assistant = service.NewAssistantService(a.db, s.clients, s.conversations, chat, a.log)
	s.reminders = service.NewReminderService(a.db, notifier, s.conversations, service.ReminderConfig{
		Lead:     a.cfg.ReminderLead,
		Interval: a.cfg.ReminderInterval,
		Workers:  a.cfg.ReminderWorkers,
	}, a.log)
	return s
}

// resolveSalonID: явный id из конфига, либо единственный салон в базе.
func resolveSalonID(ctx context.Context, catalog *service.CatalogService, raw, what string) (uuid.UUID, error) {
	if raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%s: invalid salon id %q: %w", what, raw, err)
		}
		if _, err := catalog.GetSalon(ctx, id); err != nil {
			return uuid.Nil, fmt.Errorf("%s: %w", what, err)
		}
		return id, nil
	}
	salons, err := catalog.ListSalons(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", what, err)
	}
	if len(salons) != 1 {
		return uuid.Nil, fmt.Errorf("%s: salon id is not set and there are %d salons", what, len(salons))
	}
	return salons[0].ID, nil
}
