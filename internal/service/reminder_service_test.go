package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Leganyst/salon-crm/internal/logger"
	"github.com/Leganyst/salon-crm/internal/model"
	"github.com/Leganyst/salon-crm/internal/notify"
	"github.com/Leganyst/salon-crm/internal/repository"
)

func (f *fixture) reminders(n Notifier) *ReminderService {
	s := NewReminderService(f.db, n, f.conversations(f.clock()), ReminderConfig{Lead: 24 * time.Hour, Workers: 2}, logger.Discard())
	s.now = f.clock()
	return s
}

func TestReminderService_SendsDueRemindersOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	notifier := &fakeNotifier{}
	svc := f.reminders(notifier)

	due := f.book(f.employee, f.client, f.at(0, 11, 0), model.BookingStatusConfirmed)
	f.book(f.employee, f.client, f.at(0, 15, 0), model.BookingStatusPending)
	f.book(f.employee, f.client, f.at(2, 11, 0), model.BookingStatusConfirmed)

	// истёкший контекст диалога чистится на том же проходе
	require.NoError(t, f.conversations(f.clock()).Set(ctx, repository.ConversationKey{
		SalonID: f.salon.ID, ClientID: f.client.ID, Channel: model.ChannelTelegram, Key: "draft",
	}, 1, time.Minute))

	stats, err := svc.RunOnce(ctx, f.now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, ReminderStats{Due: 1, Sent: 1, Purged: 1}, stats)

	sent := notifier.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, f.client.ID, sent[0].ClientID)
	assert.Contains(t, sent[0].Text, "Понедельник, 07.01.2030, 11:00–12:00")
	assert.Contains(t, sent[0].Text, "Стрижка")
	assert.Contains(t, sent[0].Text, "мастер Анна")
	assert.NotNil(t, f.loadBooking(due.ID).ReminderSentAt)

	stats, err = svc.RunOnce(ctx, f.now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, stats.Due)
	assert.Len(t, notifier.messages(), 1)
}

func TestReminderService_FailedSendIsRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	notifier := &fakeNotifier{err: errors.New("telegram: bad gateway")}
	svc := f.reminders(notifier)
	b := f.book(f.employee, f.client, f.at(0, 11, 0), model.BookingStatusConfirmed)

	stats, err := svc.RunOnce(ctx, f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Nil(t, f.loadBooking(b.ID).ReminderSentAt)

	// клиенту писать некуда: отмечаем, чтобы не повторять
	notifier.err = notify.ErrNoChannel
	stats, err = svc.RunOnce(ctx, f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)
	assert.NotNil(t, f.loadBooking(b.ID).ReminderSentAt)
}

func TestReminderService_NoNotifier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.book(f.employee, f.client, f.at(0, 11, 0), model.BookingStatusConfirmed)
	require.NoError(t, f.conversations(f.clock()).Set(ctx, repository.ConversationKey{
		SalonID: f.salon.ID, ClientID: f.client.ID, Channel: model.ChannelTelegram, Key: "draft",
	}, 1, time.Minute))

	stats, err := f.reminders(nil).RunOnce(ctx, f.now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, ReminderStats{Purged: 1}, stats)
	assert.Nil(t, f.loadBooking(b.ID).ReminderSentAt)
}

func TestReminderService_RunStopsWithContext(t *testing.T) {
	f := newFixture(t)
	notifier := &fakeNotifier{}
	f.book(f.employee, f.client, f.at(0, 11, 0), model.BookingStatusConfirmed)
	svc := f.reminders(notifier)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool { return len(notifier.messages()) == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reminder loop did not stop")
	}
}
