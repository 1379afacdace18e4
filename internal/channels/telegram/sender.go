package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// BotAPI — то, что нужно от *tgbotapi.BotAPI; в тестах подменяется.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Telegram пропускает около 30 сообщений в секунду на бота.
const defaultRPS = 25

// Sender отправляет уведомления клиентам в личные чаты.
type Sender struct {
	bot     BotAPI
	limiter *rate.Limiter
}

func NewSender(bot BotAPI) *Sender {
	return &Sender{bot: bot, limiter: rate.NewLimiter(rate.Limit(defaultRPS), 1)}
}

func (s *Sender) SendText(ctx context.Context, chatID int64, text string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := s.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("telegram send to %d: %w", chatID, err)
	}
	return nil
}

func (s *Sender) sendPhoto(ctx context.Context, chatID int64, name string, png []byte, caption string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: name, Bytes: png})
	photo.Caption = caption
	if _, err := s.bot.Send(photo); err != nil {
		return fmt.Errorf("telegram photo to %d: %w", chatID, err)
	}
	return nil
}

func (s *Sender) send(ctx context.Context, msg tgbotapi.MessageConfig) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send to %d: %w", msg.ChatID, err)
	}
	return nil
}
