package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Leganyst/salon-crm/internal/ai"
	"github.com/Leganyst/salon-crm/internal/apperr"
	"github.com/Leganyst/salon-crm/internal/model"
	"github.com/Leganyst/salon-crm/internal/repository"
)

const (
	FallbackReply = "Спасибо за сообщение! Администратор салона скоро ответит вам."

	maxInboundRunes = 2000
	historyForModel = 20
)

type InboundMessage struct {
	SalonID     uuid.UUID
	Channel     model.Channel
	ExternalID  string
	DisplayName string
	Text        string
}

type AssistantReply struct {
	Client *model.Client
	Text   string
	// Blocked — клиент заблокирован, отвечать не нужно.
	Blocked bool
	// Fallback — ответ шаблонный, модель недоступна.
	Fallback bool
}

// AssistantService отвечает клиентам в мессенджерах через генеративную модель.
type AssistantService struct {
	db            *gorm.DB
	clients       *ClientService
	conversations *ConversationService
	chat          ChatModel
	log           logrus.FieldLogger
}

// NewAssistantService: chat может быть nil, тогда клиенты получают шаблонный ответ.
func NewAssistantService(db *gorm.DB, clients *ClientService, conversations *ConversationService, chat ChatModel, log logrus.FieldLogger) *AssistantService {
	return &AssistantService{db: db, clients: clients, conversations: conversations, chat: chat, log: log}
}

func (s *AssistantService) HandleInbound(ctx context.Context, in InboundMessage) (*AssistantReply, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, apperr.Validation("message text is required", nil)
	}
	if utf8.RuneCountInString(text) > maxInboundRunes {
		text = string([]rune(text)[:maxInboundRunes])
	}
	log := s.log.WithFields(logrus.Fields{"salon_id": in.SalonID, "channel": in.Channel})

	salon, err := loadSalon(ctx, s.db, in.SalonID)
	if err != nil {
		return nil, err
	}
	client, _, err := s.clients.FindOrCreateByChannel(ctx, in.SalonID, in.Channel, in.ExternalID, in.DisplayName)
	if err != nil {
		return nil, err
	}
	log = log.WithField("client_id", client.ID)

	if client.IsBlocked() {
		if err := s.conversations.AppendMessage(ctx, in.SalonID, client.ID, in.Channel, model.DirectionIn, text); err != nil {
			return nil, err
		}
		log.Info("message from blocked client ignored")
		return &AssistantReply{Client: client, Blocked: true}, nil
	}

	if _, err := s.conversations.Touch(ctx, in.SalonID, client.ID, in.Channel); err != nil {
		return nil, err
	}
	history, err := s.conversations.History(ctx, in.SalonID, client.ID, in.Channel, historyForModel)
	if err != nil {
		return nil, err
	}
	if err := s.conversations.AppendMessage(ctx, in.SalonID, client.ID, in.Channel, model.DirectionIn, text); err != nil {
		return nil, err
	}

	reply := &AssistantReply{Client: client}
	reply.Text, reply.Fallback = s.generate(ctx, log, salon, client, history, text)

	if err := s.conversations.AppendMessage(ctx, in.SalonID, client.ID, in.Channel, model.DirectionOut, reply.Text); err != nil {
		return nil, err
	}
	return reply, nil
}

func (s *AssistantService) generate(ctx context.Context, log logrus.FieldLogger, salon *model.Salon, client *model.Client, history []model.ChatMessage, text string) (string, bool) {
	if s.chat == nil {
		return FallbackReply, true
	}
	system, err := s.systemMessage(ctx, salon, client)
	if err != nil {
		log.WithError(err).Warn("build assistant context")
		return FallbackReply, true
	}
	messages := make([]ai.Message, 0, len(history)+2)
	messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: system})
	for _, m := range history {
		role := ai.RoleUser
		if m.Direction == model.DirectionOut {
			role = ai.RoleAssistant
		}
		messages = append(messages, ai.Message{Role: role, Content: m.Text})
	}
	messages = append(messages, ai.Message{Role: ai.RoleUser, Content: text})

	out, err := s.chat.Chat(ctx, messages)
	if err != nil {
		log.WithError(err).Warn("ai chat failed, sending fallback")
		return FallbackReply, true
	}
	if out = strings.TrimSpace(out); out == "" {
		return FallbackReply, true
	}
	return out, false
}

// systemMessage — короткая справка о салоне для модели.
func (s *AssistantService) systemMessage(ctx context.Context, salon *model.Salon, client *model.Client) (string, error) {
	services, err := repository.NewGormServiceRepository(s.db).List(ctx, salon.ID, true, "")
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Ты вежливый администратор салона красоты «%s». Отвечай кратко, на языке клиента. ", salon.Name)
	b.WriteString("Не придумывай услуги и цены, которых нет в списке. Для записи предложи выбрать услугу и удобное время.\n")
	fmt.Fprintf(&b, "Клиента зовут %s.\n", client.Name)
	b.WriteString("Услуги:\n")
	for _, svc := range services {
		fmt.Fprintf(&b, "- %s: %d мин, %s %s\n", svc.Name, svc.DurationMin, svc.Price.StringFixed(0), salon.Currency)
	}
	return b.String(), nil
}
