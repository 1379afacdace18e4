package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Leganyst/salon-crm/internal/ai"
	"github.com/Leganyst/salon-crm/internal/apperr"
	"github.com/Leganyst/salon-crm/internal/logger"
	"github.com/Leganyst/salon-crm/internal/model"
	"github.com/Leganyst/salon-crm/internal/repository"
)

type fakeChat struct {
	reply string
	err   error
	calls [][]ai.Message
}

func (c *fakeChat) Chat(_ context.Context, messages []ai.Message) (string, error) {
	c.calls = append(c.calls, messages)
	return c.reply, c.err
}

func (f *fixture) assistant(chat ChatModel) *AssistantService {
	clock := &tickingClock{cur: f.now.UTC(), step: time.Second}
	return NewAssistantService(f.db, f.clients(), f.conversations(clock.now), chat, logger.Discard())
}

func TestAssistant_RepliesWithHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat := &fakeChat{reply: "  Есть свободное время завтра в 10:00.  "}
	svc := f.assistant(chat)

	in := InboundMessage{SalonID: f.salon.ID, Channel: model.ChannelTelegram, ExternalID: "555", Text: "Хочу на стрижку"}
	reply, err := svc.HandleInbound(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, f.client.ID, reply.Client.ID)
	assert.Equal(t, "Есть свободное время завтра в 10:00.", reply.Text)
	assert.False(t, reply.Fallback)

	in.Text = "А сколько стоит?"
	_, err = svc.HandleInbound(ctx, in)
	require.NoError(t, err)

	require.Len(t, chat.calls, 2)
	second := chat.calls[1]
	// system + два сообщения прошлого обмена + текущее
	require.Len(t, second, 4)
	assert.Equal(t, ai.RoleSystem, second[0].Role)
	assert.Contains(t, second[0].Content, "Стрижка")
	assert.Contains(t, second[0].Content, "Ирина")
	assert.Equal(t, ai.RoleUser, second[1].Role)
	assert.Equal(t, "Хочу на стрижку", second[1].Content)
	assert.Equal(t, ai.RoleAssistant, second[2].Role)
	assert.Equal(t, ai.RoleUser, second[3].Role)
	assert.Equal(t, "А сколько стоит?", second[3].Content)

	msgs, err := repository.NewGormConversationRepository(f.db).ListMessages(ctx, f.salon.ID, f.client.ID, model.ChannelTelegram, f.now.Add(-time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
}

func TestAssistant_NewClientFromInstagram(t *testing.T) {
	f := newFixture(t)
	chat := &fakeChat{reply: "Здравствуйте!"}
	reply, err := f.assistant(chat).HandleInbound(context.Background(), InboundMessage{
		SalonID:     f.salon.ID,
		Channel:     model.ChannelInstagram,
		ExternalID:  "17841400000000",
		DisplayName: "katya",
		Text:        "Добрый день",
	})
	require.NoError(t, err)
	assert.Equal(t, "Katya", reply.Client.Name)
	assert.Equal(t, "17841400000000", reply.Client.InstagramID)
	assert.Equal(t, "Здравствуйте!", reply.Text)
}

func TestAssistant_Fallbacks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := InboundMessage{SalonID: f.salon.ID, Channel: model.ChannelTelegram, ExternalID: "555", Text: "Привет"}

	reply, err := f.assistant(&fakeChat{err: errors.New("quota exceeded")}).HandleInbound(ctx, in)
	require.NoError(t, err)
	assert.True(t, reply.Fallback)
	assert.Equal(t, FallbackReply, reply.Text)

	reply, err = f.assistant(nil).HandleInbound(ctx, in)
	require.NoError(t, err)
	assert.True(t, reply.Fallback)

	reply, err = f.assistant(&fakeChat{reply: "   "}).HandleInbound(ctx, in)
	require.NoError(t, err)
	assert.True(t, reply.Fallback)
}

func TestAssistant_BlockedClientGetsNoReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.clients().Block(ctx, f.salon.ID, f.client.ID))
	chat := &fakeChat{reply: "ответ"}

	reply, err := f.assistant(chat).HandleInbound(ctx, InboundMessage{
		SalonID: f.salon.ID, Channel: model.ChannelTelegram, ExternalID: "555", Text: "Запишите меня",
	})
	require.NoError(t, err)
	assert.True(t, reply.Blocked)
	assert.Empty(t, reply.Text)
	assert.Empty(t, chat.calls)

	msgs, err := repository.NewGormConversationRepository(f.db).ListMessages(ctx, f.salon.ID, f.client.ID, model.ChannelTelegram, f.now.Add(-time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.DirectionIn, msgs[0].Direction)
}

func TestAssistant_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.assistant(nil).HandleInbound(ctx, InboundMessage{SalonID: f.salon.ID, Channel: model.ChannelTelegram, ExternalID: "555", Text: "   "})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	chat := &fakeChat{reply: "ок"}
	_, err = f.assistant(chat).HandleInbound(ctx, InboundMessage{
		SalonID: f.salon.ID, Channel: model.ChannelTelegram, ExternalID: "555", Text: strings.Repeat("я", 2500),
	})
	require.NoError(t, err)
	require.Len(t, chat.calls, 1)
	last := chat.calls[0][len(chat.calls[0])-1]
	assert.Equal(t, 2000, len([]rune(last.Content)))
}
