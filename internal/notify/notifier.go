package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Leganyst/salon-crm/internal/model"
)

var ErrNoChannel = errors.New("client has no reachable channel")

type TelegramSender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

type WhatsAppSender interface {
	SendText(ctx context.Context, to, text string) error
}

type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

const emailSubject = "Салон: уведомление о записи"

// MultiNotifier выбирает канал по доступным контактам клиента:
// Telegram, затем WhatsApp, затем e-mail. Ошибка канала — пробуем следующий.
type MultiNotifier struct {
	telegram TelegramSender
	whatsapp WhatsAppSender
	email    EmailSender
	log      logrus.FieldLogger
}

// NewMultiNotifier: любой из отправителей может быть nil.
func NewMultiNotifier(tg TelegramSender, wa WhatsAppSender, email EmailSender, log logrus.FieldLogger) *MultiNotifier {
	return &MultiNotifier{telegram: tg, whatsapp: wa, email: email, log: log.WithField("component", "notifier")}
}

func (n *MultiNotifier) Notify(ctx context.Context, client *model.Client, text string) error {
	if client == nil {
		return ErrNoChannel
	}
	var errs []error
	tried := false

	if n.telegram != nil && client.TelegramID != nil {
		tried = true
		err := n.telegram.SendText(ctx, *client.TelegramID, text)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("telegram: %w", err))
	}
	if n.whatsapp != nil && client.WhatsAppID != "" {
		tried = true
		err := n.whatsapp.SendText(ctx, client.WhatsAppID, text)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("whatsapp: %w", err))
	}
	if n.email != nil && client.Email != "" {
		tried = true
		err := n.email.Send(ctx, client.Email, emailSubject, text)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("email: %w", err))
	}

	if !tried {
		return ErrNoChannel
	}
	err := errors.Join(errs...)
	n.log.WithFields(logrus.Fields{"client_id": client.ID, "error": err}).Warn("all notification channels failed")
	return err
}
