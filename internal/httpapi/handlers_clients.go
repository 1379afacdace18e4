package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Leganyst/salon-crm/internal/apperr"
	"github.com/Leganyst/salon-crm/internal/export"
	"github.com/Leganyst/salon-crm/internal/model"
	"github.com/Leganyst/salon-crm/internal/repository"
	"github.com/Leganyst/salon-crm/internal/service"
)

const maxImportBytes = 10 << 20

type clientRequest struct {
	Name     string   `json:"name"`
	Phone    string   `json:"phone"`
	Email    string   `json:"email"`
	Birthday string   `json:"birthday"` // YYYY-MM-DD
	Tags     []string `json:"tags"`
	Notes    string   `json:"notes"`
}

func (req clientRequest) input() (service.ClientInput, error) {
	in := service.ClientInput{
		Name:   req.Name,
		Phone:  req.Phone,
		Email:  req.Email,
		Tags:   req.Tags,
		Notes:  req.Notes,
		Source: model.ChannelAdmin,
	}
	if req.Birthday != "" {
		d, err := time.Parse(time.DateOnly, req.Birthday)
		if err != nil {
			return in, apperr.Validation("birthday must be YYYY-MM-DD", err)
		}
		in.Birthday = &d
	}
	return in, nil
}

func (a *API) listClients(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := a.clients.List(r.Context(), repository.ClientFilter{
		SalonID: mustPrincipal(r).SalonID,
		Search:  q.Get("search"),
		Tag:     q.Get("tag"),
		Status:  model.ClientStatus(q.Get("status")),
		Page:    pageRequest(r),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "", mapPage(page, toClientView))
}

func (a *API) createClient(w http.ResponseWriter, r *http.Request) {
	var req clientRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	c, err := a.clients.Create(r.Context(), mustPrincipal(r).SalonID, in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeCreated(w, "client created", toClientView(c))
}

func (a *API) getClient(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	c, err := a.clients.Get(r.Context(), mustPrincipal(r).SalonID, id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "", toClientView(c))
}

func (a *API) updateClient(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req clientRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	c, err := a.clients.Update(r.Context(), mustPrincipal(r).SalonID, id, in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "client updated", toClientView(c))
}

func (a *API) deleteClient(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.clients.Delete(r.Context(), mustPrincipal(r).SalonID, id); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "client deleted", nil)
}

func (a *API) blockClient(w http.ResponseWriter, r *http.Request) {
	a.setClientBlocked(w, r, true)
}

func (a *API) unblockClient(w http.ResponseWriter, r *http.Request) {
	a.setClientBlocked(w, r, false)
}

func (a *API) setClientBlocked(w http.ResponseWriter, r *http.Request, blocked bool) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	salonID := mustPrincipal(r).SalonID
	if blocked {
		err = a.clients.Block(r.Context(), salonID, id)
	} else {
		err = a.clients.Unblock(r.Context(), salonID, id)
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	c, err := a.clients.Get(r.Context(), salonID, id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "client status updated", toClientView(c))
}

type mergeRequest struct {
	DuplicateID uuid.UUID `json:"duplicate_id"`
}

func (a *API) mergeClient(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req mergeRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	c, err := a.clients.Merge(r.Context(), mustPrincipal(r).SalonID, id, req.DuplicateID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "clients merged", toClientView(c))
}

type historyResponse struct {
	Client         clientView    `json:"client"`
	Bookings       []bookingView `json:"bookings"`
	LoyaltyBalance int64         `json:"loyalty_balance"`
	TotalSpent     string        `json:"total_spent"`
}

func (a *API) clientHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	h, err := a.clients.History(r.Context(), mustPrincipal(r).SalonID, id, limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "", historyResponse{
		Client:         toClientView(h.Client),
		Bookings:       mapSlice(h.Bookings, toBookingView),
		LoyaltyBalance: h.LoyaltyBalance,
		TotalSpent:     h.TotalSpent.StringFixed(2),
	})
}

func (a *API) exportClients(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	salon, err := a.catalog.GetSalon(r.Context(), p.SalonID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var all []model.Client
	req := exportPage(1)
	for {
		page, err := a.clients.List(r.Context(), repository.ClientFilter{SalonID: p.SalonID, Page: req})
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		all = append(all, page.Items...)
		if !page.HasNext {
			break
		}
		req.Page++
	}
	body, err := export.ClientsXLSX(all, salon.Location())
	if err != nil {
		a.writeError(w, r, apperr.Internal("export clients", err))
		return
	}
	writeFile(w, xlsxContentType, fmt.Sprintf("clients-%s.xlsx", time.Now().In(salon.Location()).Format("2006-01-02")), body)
}

// importClients принимает multipart-форму с файлом в поле "file".
func (a *API) importClients(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		a.writeError(w, r, apperr.Validation("file is required", err))
		return
	}
	defer file.Close()

	rows, rowErrs, err := export.ParseClientsXLSX(file)
	if err != nil {
		a.writeError(w, r, apperr.Validation("invalid spreadsheet", err))
		return
	}
	res, err := a.clients.Import(r.Context(), mustPrincipal(r).SalonID, rows)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	res.Errors = append(rowErrs, res.Errors...)
	writeSuccess(w, "clients imported", res)
}
