package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/Leganyst/salon-crm/internal/channels/meta"
	"github.com/Leganyst/salon-crm/internal/model"
	"github.com/Leganyst/salon-crm/internal/service"
	"github.com/Leganyst/salon-crm/internal/worker"
)

func (a *API) metaEnabled() bool {
	return a.meta != nil && a.assistant != nil
}

// metaVerify — рукопожатие подписки: Meta ждёт hub.challenge обратно текстом.
func (a *API) metaVerify(w http.ResponseWriter, r *http.Request) {
	if !a.metaEnabled() {
		http.NotFound(w, r)
		return
	}
	challenge, ok := meta.VerifySubscription(r.URL.Query(), a.metaVerifyToken)
	if !ok {
		writeJSONError(w, http.StatusForbidden, "verification failed")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

// metaInbound отвечает 200 на любое корректно подписанное уведомление, иначе Meta
// будет повторять доставку. Ошибки отдельных сообщений только логируются.
func (a *API) metaInbound(w http.ResponseWriter, r *http.Request) {
	if !a.metaEnabled() {
		http.NotFound(w, r)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "cannot read body")
		return
	}
	if !meta.VerifySignature(body, r.Header.Get("X-Hub-Signature-256"), a.metaAppSecret) {
		writeJSONError(w, http.StatusUnauthorized, "invalid signature")
		return
	}
	messages, err := meta.ParseWebhook(body)
	if err != nil {
		a.log.WithError(err).Warn("meta webhook: unparsable payload")
		writeSuccess(w, "ignored", nil)
		return
	}

	tasks := make([]worker.Task, 0, len(messages))
	for _, m := range messages {
		m := m
		tasks = append(tasks, func(ctx context.Context) error {
			return a.replyMeta(ctx, m)
		})
	}
	for _, err := range worker.Run(r.Context(), a.metaWorkers, tasks) {
		a.log.WithError(err).Error("meta webhook: message failed")
	}
	writeSuccess(w, "ok", map[string]int{"messages": len(messages)})
}

func (a *API) replyMeta(ctx context.Context, m meta.Inbound) error {
	log := a.log.WithFields(logrus.Fields{"channel": m.Channel, "external_id": m.ExternalID})
	reply, err := a.assistant.HandleInbound(ctx, service.InboundMessage{
		SalonID:     a.metaSalonID,
		Channel:     m.Channel,
		ExternalID:  m.ExternalID,
		DisplayName: m.DisplayName,
		Text:        m.Text,
	})
	if err != nil {
		return fmt.Errorf("%s %s: %w", m.Channel, m.ExternalID, err)
	}
	if reply.Blocked || reply.Text == "" {
		return nil
	}
	switch m.Channel {
	case model.ChannelWhatsApp:
		err = a.meta.SendText(ctx, m.ExternalID, reply.Text)
	case model.ChannelInstagram:
		err = a.meta.SendInstagram(ctx, m.ExternalID, reply.Text)
	default:
		return fmt.Errorf("unsupported channel %q", m.Channel)
	}
	if err != nil {
		return fmt.Errorf("send reply to %s: %w", m.ExternalID, err)
	}
	log.WithField("fallback", reply.Fallback).Debug("reply sent")
	return nil
}
