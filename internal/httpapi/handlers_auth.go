package httpapi

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/Leganyst/salon-crm/internal/service"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token   string           `json:"token"`
	Profile *service.Profile `json:"profile"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	token, profile, err := a.identity.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "logged in", loginResponse{Token: token, Profile: profile})
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	profile, err := a.identity.GetProfile(r.Context(), mustPrincipal(r).UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "", profile)
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.identity.ListUsers(r.Context(), mustPrincipal(r).SalonID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "", users)
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	TelegramID  *int64 `json:"telegram_id"`
}

func (a *API) registerUser(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	profile, err := a.identity.Register(r.Context(), service.RegisterInput{
		SalonID:     mustPrincipal(r).SalonID,
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Role:        req.Role,
		TelegramID:  req.TelegramID,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeCreated(w, "user registered", profile)
}

type roleRequest struct {
	Role string `json:"role"`
}

func (a *API) setUserRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req roleRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	profile, err := a.identity.SetRole(r.Context(), mustPrincipal(r).SalonID, id, req.Role)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "role updated", profile)
}

func (a *API) getSalon(w http.ResponseWriter, r *http.Request) {
	salon, err := a.catalog.GetSalon(r.Context(), mustPrincipal(r).SalonID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "", toSalonView(salon))
}

type salonRequest struct {
	Name            string           `json:"name"`
	TimeZone        string           `json:"time_zone"`
	Currency        string           `json:"currency"`
	SlotStepMin     int              `json:"slot_step_min"`
	BookingLeadMin  int              `json:"booking_lead_min"`
	CancelWindowMin int              `json:"cancel_window_min"`
	LoyaltyRate     *decimal.Decimal `json:"loyalty_rate"`
	IsActive        *bool            `json:"is_active"`
}

func (a *API) updateSalon(w http.ResponseWriter, r *http.Request) {
	var req salonRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	salon, err := a.catalog.UpdateSalon(r.Context(), mustPrincipal(r).SalonID, service.SalonInput(req))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "salon updated", toSalonView(salon))
}
