package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Leganyst/salon-crm/internal/apperr"
	"github.com/Leganyst/salon-crm/internal/calendar"
	"github.com/Leganyst/salon-crm/internal/export"
	"github.com/Leganyst/salon-crm/internal/model"
	"github.com/Leganyst/salon-crm/internal/repository"
	"github.com/Leganyst/salon-crm/internal/service"
	"github.com/Leganyst/salon-crm/internal/worker"
)

const (
	greeting = "Здравствуйте! Я бот салона %s. Можно записаться, посмотреть свои записи и карту лояльности.\n\n" +
		"/services — услуги и цены\n/mybookings — ваши записи\n/cancel <номер> — отменить запись\n/move <номер> ДД.ММ.ГГГГ ЧЧ:ММ — перенести запись\n/card — карта лояльности\n\n" +
		"Поделитесь номером телефона, чтобы мы узнали вас при звонке."
	shareContactButton = "Поделиться номером"
	staffOnly          = "Команда доступна только сотрудникам салона."
	genericFailure     = "Что-то пошло не так, попробуйте позже."
)

type Config struct {
	SalonID     uuid.UUID
	BotUsername string
	// Параллельная обработка апдейтов.
	Workers int
}

type Deps struct {
	Identity  *service.IdentityService
	Catalog   *service.CatalogService
	Clients   *service.ClientService
	Bookings  *service.BookingService
	Loyalty   *service.LoyaltyService
	Assistant *service.AssistantService
}

// Bot — клиентский бот салона: регистрация, записи, карта лояльности и
// свободный диалог с ассистентом.
type Bot struct {
	api    BotAPI
	sender *Sender
	cfg    Config
	deps   Deps
	log    logrus.FieldLogger
}

func NewBot(api BotAPI, cfg Config, deps Deps, log logrus.FieldLogger) *Bot {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Bot{
		api:    api,
		sender: NewSender(api),
		cfg:    cfg,
		deps:   deps,
		log:    log.WithField("component", "telegram"),
	}
}

// Sender — отправитель уведомлений через того же бота.
func (b *Bot) Sender() *Sender { return b.sender }

// Run читает апдейты long polling до отмены ctx.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	pool := worker.New(ctx, b.cfg.Workers)
	pool.Start()
	b.log.WithField("salon_id", b.cfg.SalonID).Info("telegram bot started")
	defer func() {
		b.api.StopReceivingUpdates()
		pool.Stop()
		b.log.Info("telegram bot stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			if err := pool.Submit(func(ctx context.Context) error {
				b.HandleUpdate(ctx, upd)
				return nil
			}); err != nil {
				return nil
			}
		}
	}
}

// HandleUpdate обрабатывает одно сообщение. Ошибки логируются, пользователю
// уходит короткий ответ.
func (b *Bot) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || msg.From == nil || msg.Chat == nil || msg.From.IsBot {
		return
	}
	log := b.log.WithFields(logrus.Fields{"telegram_id": msg.From.ID, "chat_id": msg.Chat.ID})

	var err error
	switch {
	case msg.Contact != nil:
		err = b.handleContact(ctx, msg)
	case msg.IsCommand():
		log = log.WithField("command", msg.Command())
		err = b.handleCommand(ctx, msg)
	case strings.TrimSpace(msg.Text) != "":
		err = b.handleText(ctx, msg)
	default:
		return
	}
	if err == nil {
		return
	}
	if apperr.KindOf(err) == apperr.KindInternal {
		log.WithError(err).Error("telegram update failed")
	} else {
		log.WithError(err).Debug("telegram update rejected")
	}
	if sendErr := b.reply(ctx, msg.Chat.ID, userMessage(err)); sendErr != nil {
		log.WithError(sendErr).Warn("telegram reply failed")
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start", "help":
		return b.cmdStart(ctx, msg)
	case "services":
		return b.cmdServices(ctx, msg)
	case "mybookings":
		return b.cmdMyBookings(ctx, msg)
	case "cancel":
		return b.cmdCancel(ctx, msg)
	case "move":
		return b.cmdMove(ctx, msg)
	case "card":
		client, err := b.client(ctx, msg.From)
		if err != nil {
			return err
		}
		return b.sendCard(ctx, msg.Chat.ID, client)
	case "today":
		return b.cmdToday(ctx, msg)
	default:
		return b.reply(ctx, msg.Chat.ID, "Не знаю такой команды. /help — список команд.")
	}
}

func (b *Bot) client(ctx context.Context, from *tgbotapi.User) (*model.Client, error) {
	c, _, err := b.deps.Clients.FindOrCreateByChannel(ctx, b.cfg.SalonID, model.ChannelTelegram,
		strconv.FormatInt(from.ID, 10), displayName(from))
	return c, err
}

func (b *Bot) cmdStart(ctx context.Context, msg *tgbotapi.Message) error {
	client, err := b.client(ctx, msg.From)
	if err != nil {
		return err
	}
	if id, ok := export.ParseLoyaltyStart(msg.CommandArguments()); ok && id == client.ID {
		return b.sendCard(ctx, msg.Chat.ID, client)
	}
	salon, err := b.deps.Catalog.GetSalon(ctx, b.cfg.SalonID)
	if err != nil {
		return err
	}
	out := tgbotapi.NewMessage(msg.Chat.ID, fmt.Sprintf(greeting, salon.Name))
	if client.Phone == "" {
		kb := tgbotapi.NewReplyKeyboard(tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButtonContact(shareContactButton)))
		kb.OneTimeKeyboard = true
		kb.ResizeKeyboard = true
		out.ReplyMarkup = kb
	}
	return b.sender.send(ctx, out)
}

// handleContact принимает только собственный контакт пользователя.
func (b *Bot) handleContact(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.Contact.UserID != msg.From.ID {
		return b.reply(ctx, msg.Chat.ID, "Пожалуйста, поделитесь своим номером кнопкой ниже.")
	}
	client, err := b.client(ctx, msg.From)
	if err != nil {
		return err
	}
	if _, err := b.deps.Clients.AttachPhone(ctx, b.cfg.SalonID, client.ID, msg.Contact.PhoneNumber); err != nil {
		return err
	}
	out := tgbotapi.NewMessage(msg.Chat.ID, "Спасибо, номер сохранён.")
	out.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	return b.sender.send(ctx, out)
}

func (b *Bot) cmdServices(ctx context.Context, msg *tgbotapi.Message) error {
	salon, err := b.deps.Catalog.GetSalon(ctx, b.cfg.SalonID)
	if err != nil {
		return err
	}
	list, err := b.deps.Catalog.ListServices(ctx, b.cfg.SalonID, true, "")
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return b.reply(ctx, msg.Chat.ID, "Список услуг пока пуст.")
	}
	var sb strings.Builder
	sb.WriteString("Наши услуги:\n")
	for _, s := range list {
		fmt.Fprintf(&sb, "\n• %s — %d мин, %s %s", s.Name, s.DurationMin, s.Price.StringFixed(0), salon.Currency)
	}
	return b.reply(ctx, msg.Chat.ID, sb.String())
}

func (b *Bot) cmdMyBookings(ctx context.Context, msg *tgbotapi.Message) error {
	client, err := b.client(ctx, msg.From)
	if err != nil {
		return err
	}
	salon, err := b.deps.Catalog.GetSalon(ctx, b.cfg.SalonID)
	if err != nil {
		return err
	}
	list, err := b.deps.Bookings.Upcoming(ctx, b.cfg.SalonID, client.ID)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return b.reply(ctx, msg.Chat.ID, "У вас нет предстоящих записей.")
	}
	var sb strings.Builder
	sb.WriteString("Ваши записи:\n")
	for i := range list {
		sb.WriteString("\n")
		sb.WriteString(formatBooking(&list[i], salon.Location()))
		fmt.Fprintf(&sb, "\nОтменить: /cancel %s\nПеренести: /move %s ДД.ММ.ГГГГ ЧЧ:ММ\n", list[i].ID, list[i].ID)
	}
	return b.reply(ctx, msg.Chat.ID, sb.String())
}

func (b *Bot) cmdCancel(ctx context.Context, msg *tgbotapi.Message) error {
	id, err := uuid.Parse(strings.TrimSpace(msg.CommandArguments()))
	if err != nil {
		return b.reply(ctx, msg.Chat.ID, "Укажите номер записи: /cancel <номер>. Номера есть в /mybookings.")
	}
	if _, err := b.ownBooking(ctx, msg.From, id); err != nil {
		return err
	}
	if _, err := b.deps.Bookings.Cancel(ctx, b.cfg.SalonID, id, "отменено клиентом в Telegram", false); err != nil {
		return err
	}
	return b.reply(ctx, msg.Chat.ID, "Запись отменена.")
}

const moveUsage = "Формат: /move <номер> ДД.ММ.ГГГГ ЧЧ:ММ. Номера есть в /mybookings."

// cmdMove переносит свою запись: /move <id> 25.01.2030 15:30.
func (b *Bot) cmdMove(ctx context.Context, msg *tgbotapi.Message) error {
	args := strings.Fields(msg.CommandArguments())
	if len(args) != 3 {
		return b.reply(ctx, msg.Chat.ID, moveUsage)
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return b.reply(ctx, msg.Chat.ID, moveUsage)
	}
	salon, err := b.deps.Catalog.GetSalon(ctx, b.cfg.SalonID)
	if err != nil {
		return err
	}
	start, err := time.ParseInLocation("02.01.2006 15:04", args[1]+" "+args[2], salon.Location())
	if err != nil {
		return b.reply(ctx, msg.Chat.ID, moveUsage)
	}
	if _, err := b.ownBooking(ctx, msg.From, id); err != nil {
		return err
	}
	moved, err := b.deps.Bookings.Reschedule(ctx, b.cfg.SalonID, id, start, false)
	if err != nil {
		return err
	}
	return b.reply(ctx, msg.Chat.ID, "Запись перенесена:\n"+formatBooking(moved, salon.Location()))
}

// ownBooking — запись клиента-отправителя; чужая выглядит как несуществующая.
func (b *Bot) ownBooking(ctx context.Context, from *tgbotapi.User, id uuid.UUID) (*model.Booking, error) {
	client, err := b.client(ctx, from)
	if err != nil {
		return nil, err
	}
	booking, err := b.deps.Bookings.Get(ctx, b.cfg.SalonID, id)
	if err != nil {
		return nil, err
	}
	if booking.ClientID != client.ID {
		return nil, apperr.NotFound("booking not found", nil)
	}
	return booking, nil
}

func (b *Bot) sendCard(ctx context.Context, chatID int64, client *model.Client) error {
	balance, err := b.deps.Loyalty.Balance(ctx, b.cfg.SalonID, client.ID)
	if err != nil {
		return err
	}
	caption := fmt.Sprintf("Карта лояльности: %s\nБаланс: %d баллов", client.Name, balance)
	if b.cfg.BotUsername == "" {
		return b.reply(ctx, chatID, caption)
	}
	png, err := export.LoyaltyQR(export.LoyaltyLink(b.cfg.BotUsername, client.ID))
	if err != nil {
		return apperr.Internal("loyalty qr", err)
	}
	return b.sender.sendPhoto(ctx, chatID, "card.png", png, caption)
}

// cmdToday — записи на сегодня для сотрудника: мастер видит свои, администратор все.
func (b *Bot) cmdToday(ctx context.Context, msg *tgbotapi.Message) error {
	staff, err := b.deps.Identity.ValidateTelegramUser(ctx, msg.From.ID)
	if err != nil || staff.SalonID != b.cfg.SalonID {
		return b.reply(ctx, msg.Chat.ID, staffOnly)
	}
	salon, err := b.deps.Catalog.GetSalon(ctx, b.cfg.SalonID)
	if err != nil {
		return err
	}
	loc := salon.Location()
	now := time.Now().In(loc)
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	to := from.AddDate(0, 0, 1)

	filter := repository.BookingFilter{
		SalonID:  b.cfg.SalonID,
		Statuses: model.ActiveBookingStatuses,
		From:     &from,
		To:       &to,
		Page:     calendar.PageRequest{Page: 1, PageSize: calendar.MaxPageSize},
	}
	if !model.IsRoleOrHigher(staff.Role, model.RoleAdmin) {
		e, err := b.deps.Catalog.EmployeeByUser(ctx, b.cfg.SalonID, staff.ID)
		if err != nil {
			return b.reply(ctx, msg.Chat.ID, staffOnly)
		}
		filter.EmployeeID = &e.ID
	}
	page, err := b.deps.Bookings.List(ctx, filter)
	if err != nil {
		return err
	}
	if len(page.Items) == 0 {
		return b.reply(ctx, msg.Chat.ID, "На сегодня записей нет.")
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Записи на %s:\n", from.Format("02.01"))
	for i := range page.Items {
		sb.WriteString("\n")
		sb.WriteString(formatBooking(&page.Items[i], loc))
		if c := page.Items[i].Client; c != nil {
			fmt.Fprintf(&sb, "\nКлиент: %s", c.Name)
			if c.Phone != "" {
				fmt.Fprintf(&sb, ", +%s", c.Phone)
			}
		}
		sb.WriteString("\n")
	}
	return b.reply(ctx, msg.Chat.ID, sb.String())
}

func (b *Bot) handleText(ctx context.Context, msg *tgbotapi.Message) error {
	reply, err := b.deps.Assistant.HandleInbound(ctx, service.InboundMessage{
		SalonID:     b.cfg.SalonID,
		Channel:     model.ChannelTelegram,
		ExternalID:  strconv.FormatInt(msg.From.ID, 10),
		DisplayName: displayName(msg.From),
		Text:        msg.Text,
	})
	if err != nil {
		return err
	}
	if reply.Blocked || reply.Text == "" {
		return nil
	}
	return b.reply(ctx, msg.Chat.ID, reply.Text)
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) error {
	return b.sender.SendText(ctx, chatID, text)
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}

func formatBooking(bk *model.Booking, loc *time.Location) string {
	line := calendar.FormatSlotForUser(calendar.TimeRange{Start: bk.StartsAt, End: bk.EndsAt}, loc, false, "")
	if bk.Service != nil {
		line += " " + bk.Service.Name
	}
	if bk.Employee != nil {
		line += ", мастер " + bk.Employee.DisplayName
	}
	return line
}

func userMessage(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return "Не нашли такую запись."
	case apperr.KindConflict:
		return "Не получилось: " + apperr.PublicMessage(err)
	case apperr.KindValidation:
		return "Проверьте данные: " + apperr.PublicMessage(err)
	default:
		return genericFailure
	}
}
