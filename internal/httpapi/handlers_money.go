package httpapi

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Leganyst/salon-crm/internal/apperr"
	"github.com/Leganyst/salon-crm/internal/export"
	"github.com/Leganyst/salon-crm/internal/model"
	"github.com/Leganyst/salon-crm/internal/service"
)

// ---- платежи

type paymentRequest struct {
	ClientID  uuid.UUID           `json:"client_id"`
	BookingID *uuid.UUID          `json:"booking_id"`
	Amount    decimal.Decimal     `json:"amount"`
	Method    model.PaymentMethod `json:"method"`
}

func (a *API) listPayments(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	salon, err := a.catalog.GetSalon(r.Context(), p.SalonID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	from, to, err := requiredPeriod(r, salon.Location())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	list, err := a.payments.ListByPeriod(r.Context(), p.SalonID, from, to)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "", mapSlice(list, toPaymentView))
}

func (a *API) recordPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	pay, err := a.payments.Record(r.Context(), service.PaymentInput{
		SalonID:   mustPrincipal(r).SalonID,
		ClientID:  req.ClientID,
		BookingID: req.BookingID,
		Amount:    req.Amount,
		Method:    req.Method,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeCreated(w, "payment recorded", toPaymentView(pay))
}

func (a *API) refundPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	pay, err := a.payments.Refund(r.Context(), mustPrincipal(r).SalonID, id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "payment refunded", toPaymentView(pay))
}

func (a *API) bookingPayments(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	list, err := a.payments.ListByBooking(r.Context(), mustPrincipal(r).SalonID, id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "", mapSlice(list, toPaymentView))
}

// ---- баллы

type ledgerResponse struct {
	Balance int64 `json:"balance"`
	Page    any   `json:"page"`
}

func toLedgerView(t *model.LoyaltyTransaction) ledgerView {
	return ledgerView{
		ID:        t.ID,
		BookingID: t.BookingID,
		Points:    t.Points,
		Kind:      string(t.Kind),
		Comment:   t.Comment,
		CreatedAt: t.CreatedAt,
	}
}

func (a *API) loyaltyLedger(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	balance, err := a.loyalty.Balance(r.Context(), p.SalonID, id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	page, err := a.loyalty.Ledger(r.Context(), p.SalonID, id, pageRequest(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "", ledgerResponse{Balance: balance, Page: mapPage(page, toLedgerView)})
}

// adjustRequest: kind=earn|redeem принимает положительные points,
// без kind points — знаковая ручная корректировка.
type adjustRequest struct {
	Kind    string `json:"kind"`
	Points  int64  `json:"points"`
	Comment string `json:"comment"`
}

func (a *API) loyaltyAdjust(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req adjustRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	salonID := mustPrincipal(r).SalonID
	var balance int64
	switch model.LoyaltyKind(req.Kind) {
	case model.LoyaltyKindEarn:
		balance, err = a.loyalty.Earn(r.Context(), salonID, id, req.Points, nil, req.Comment)
	case model.LoyaltyKindRedeem:
		balance, err = a.loyalty.Redeem(r.Context(), salonID, id, req.Points, nil, req.Comment)
	case "", model.LoyaltyKindAdjust:
		balance, err = a.loyalty.Adjust(r.Context(), salonID, id, req.Points, req.Comment)
	default:
		err = apperr.Validation("unknown loyalty operation", nil)
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "balance adjusted", map[string]int64{"balance": balance})
}

// loyaltyQR отдаёт PNG со ссылкой на бота: /start card_<client id> открывает карту.
func (a *API) loyaltyQR(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if a.botUsername == "" {
		a.writeError(w, r, apperr.NotFound("telegram bot is not configured", nil))
		return
	}
	c, err := a.clients.Get(r.Context(), mustPrincipal(r).SalonID, id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	png, err := export.LoyaltyQR(export.LoyaltyLink(a.botUsername, c.ID))
	if err != nil {
		a.writeError(w, r, apperr.Internal("loyalty qr", err))
		return
	}
	writeFile(w, "image/png", "", png)
}

// ---- аналитика

func (a *API) analyticsSummary(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	salon, err := a.catalog.GetSalon(r.Context(), p.SalonID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	from, to, err := requiredPeriod(r, salon.Location())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	summary, err := a.analytics.Summary(r.Context(), p.SalonID, from, to)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "", summary)
}
