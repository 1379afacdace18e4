package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Leganyst/salon-crm/internal/apperr"
	"github.com/Leganyst/salon-crm/internal/calendar"
	"github.com/Leganyst/salon-crm/internal/export"
	"github.com/Leganyst/salon-crm/internal/model"
	"github.com/Leganyst/salon-crm/internal/repository"
	"github.com/Leganyst/salon-crm/internal/service"
)

func (a *API) findSlots(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	serviceID, err := queryID(r, "service_id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if serviceID == nil {
		a.writeError(w, r, apperr.Validation("service_id is required", nil))
		return
	}
	employeeID, err := queryID(r, "employee_id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
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
	slots, err := a.availability.FindSlots(r.Context(), service.AvailabilityQuery{
		SalonID:    p.SalonID,
		ServiceID:  *serviceID,
		EmployeeID: employeeID,
		From:       from,
		To:         to,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "", slots)
}

// ownEmployee — для мастера возвращает его карточку: мастер видит только свои записи.
func (a *API) ownEmployee(r *http.Request, p Principal) (*uuid.UUID, error) {
	if model.IsRoleOrHigher(p.Role, model.RoleAdmin) {
		return nil, nil
	}
	e, err := a.catalog.EmployeeByUser(r.Context(), p.SalonID, p.UserID)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, apperr.Forbidden("user is not linked to an employee", err)
	}
	if err != nil {
		return nil, err
	}
	return &e.ID, nil
}

func (a *API) bookingFilter(r *http.Request, p Principal) (repository.BookingFilter, error) {
	f := repository.BookingFilter{SalonID: p.SalonID, Page: pageRequest(r)}
	var err error
	if f.ClientID, err = queryID(r, "client_id"); err != nil {
		return f, err
	}
	if f.EmployeeID, err = queryID(r, "employee_id"); err != nil {
		return f, err
	}
	if f.ServiceID, err = queryID(r, "service_id"); err != nil {
		return f, err
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			f.Statuses = append(f.Statuses, model.BookingStatus(strings.TrimSpace(s)))
		}
	}
	if f.From, err = queryTime(r, "from", time.UTC); err != nil {
		return f, err
	}
	if f.To, err = queryTime(r, "to", time.UTC); err != nil {
		return f, err
	}
	own, err := a.ownEmployee(r, p)
	if err != nil {
		return f, err
	}
	if own != nil {
		f.EmployeeID = own
	}
	return f, nil
}

func (a *API) listBookings(w http.ResponseWriter, r *http.Request) {
	f, err := a.bookingFilter(r, mustPrincipal(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	page, err := a.bookings.List(r.Context(), f)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "", mapPage(page, toBookingView))
}

func (a *API) getBooking(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	b, err := a.bookings.Get(r.Context(), p.SalonID, id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	own, err := a.ownEmployee(r, p)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if own != nil && *own != b.EmployeeID {
		a.writeError(w, r, apperr.NotFound("booking not found", nil))
		return
	}
	writeSuccess(w, "", toBookingView(b))
}

type createBookingRequest struct {
	ClientID   uuid.UUID `json:"client_id"`
	ServiceID  uuid.UUID `json:"service_id"`
	EmployeeID uuid.UUID `json:"employee_id"`
	StartsAt   time.Time `json:"starts_at"`
	Comment    string    `json:"comment"`
}

func (a *API) createBooking(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	var req createBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	b, err := a.bookings.Create(r.Context(), service.CreateBookingInput{
		SalonID:    p.SalonID,
		ClientID:   req.ClientID,
		ServiceID:  req.ServiceID,
		EmployeeID: req.EmployeeID,
		StartsAt:   req.StartsAt,
		Source:     model.ChannelAdmin,
		Comment:    req.Comment,
		UserID:     &p.UserID,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeCreated(w, "booking created", toBookingView(b))
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (a *API) cancelBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req cancelRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	b, err := a.bookings.Cancel(r.Context(), mustPrincipal(r).SalonID, id, req.Reason, true)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "booking cancelled", toBookingView(b))
}

type rescheduleRequest struct {
	StartsAt time.Time `json:"starts_at"`
}

func (a *API) rescheduleBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req rescheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	b, err := a.bookings.Reschedule(r.Context(), mustPrincipal(r).SalonID, id, req.StartsAt, true)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "booking rescheduled", toBookingView(b))
}

func (a *API) confirmBooking(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	b, err := a.bookings.Confirm(r.Context(), p.SalonID, id, &p.UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "booking confirmed", toBookingView(b))
}

func (a *API) noShowBooking(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	b, err := a.bookings.MarkNoShow(r.Context(), p.SalonID, id, &p.UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "booking marked as no-show", toBookingView(b))
}

type completeRequest struct {
	Method         model.PaymentMethod `json:"method"`
	PointsToRedeem int64               `json:"points_to_redeem"`
}

func (a *API) completeBooking(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req completeRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	b, err := a.bookings.Complete(r.Context(), service.CompleteBookingInput{
		SalonID:        p.SalonID,
		BookingID:      id,
		Method:         req.Method,
		PointsToRedeem: req.PointsToRedeem,
		UserID:         &p.UserID,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "booking completed", toBookingView(b))
}

type bulkCancelRequest struct {
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
	Reason string    `json:"reason"`
}

// bulkCancel отменяет все записи мастера в окне и уведомляет клиентов.
func (a *API) bulkCancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req bulkCancelRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	window, err := calendar.NewTimeRange(req.From, req.To)
	if err != nil {
		a.writeError(w, r, apperr.Validation("to must be after from", err))
		return
	}
	res, err := a.bookings.BulkCancelEmployee(r.Context(), mustPrincipal(r).SalonID, id, window, req.Reason)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, fmt.Sprintf("%d bookings cancelled", res.Cancelled), res)
}

func (a *API) exportBookings(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	salon, err := a.catalog.GetSalon(r.Context(), p.SalonID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	f, err := a.bookingFilter(r, p)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	f.Page = exportPage(1)
	var all []model.Booking
	for {
		page, err := a.bookings.List(r.Context(), f)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		all = append(all, page.Items...)
		if !page.HasNext {
			break
		}
		f.Page.Page++
	}
	body, err := export.BookingsXLSX(all, salon.Location())
	if err != nil {
		a.writeError(w, r, apperr.Internal("export bookings", err))
		return
	}
	writeFile(w, xlsxContentType, fmt.Sprintf("bookings-%s.xlsx", time.Now().In(salon.Location()).Format("2006-01-02")), body)
}

func (a *API) bookingHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	events, err := a.bookings.History(r.Context(), mustPrincipal(r).SalonID, id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "", mapSlice(events, toEventView))
}
