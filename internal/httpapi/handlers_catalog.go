package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Leganyst/salon-crm/internal/apperr"
	"github.com/Leganyst/salon-crm/internal/calendar"
	"github.com/Leganyst/salon-crm/internal/model"
	"github.com/Leganyst/salon-crm/internal/service"
)

// ---- услуги

type serviceRequest struct {
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	DurationMin int             `json:"duration_min"`
	Price       decimal.Decimal `json:"price"`
	IsActive    *bool           `json:"is_active"`
}

func (a *API) listServices(w http.ResponseWriter, r *http.Request) {
	list, err := a.catalog.ListServices(r.Context(), mustPrincipal(r).SalonID, queryBool(r, "active"), r.URL.Query().Get("category"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "", mapSlice(list, toServiceView))
}

func (a *API) createService(w http.ResponseWriter, r *http.Request) {
	var req serviceRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	svc, err := a.catalog.CreateService(r.Context(), mustPrincipal(r).SalonID, service.ServiceInput(req))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeCreated(w, "service created", toServiceView(svc))
}

func (a *API) getService(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	svc, err := a.catalog.GetService(r.Context(), mustPrincipal(r).SalonID, id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "", toServiceView(svc))
}

func (a *API) updateService(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req serviceRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	svc, err := a.catalog.UpdateService(r.Context(), mustPrincipal(r).SalonID, id, service.ServiceInput(req))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "service updated", toServiceView(svc))
}

func (a *API) deleteService(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.catalog.DeleteService(r.Context(), mustPrincipal(r).SalonID, id); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "service deleted", nil)
}

// ---- мастера

type employeeRequest struct {
	DisplayName string      `json:"display_name"`
	Position    string      `json:"position"`
	Description string      `json:"description"`
	UserID      *uuid.UUID  `json:"user_id"`
	IsActive    *bool       `json:"is_active"`
	ServiceIDs  []uuid.UUID `json:"service_ids"`
}

func (a *API) listEmployees(w http.ResponseWriter, r *http.Request) {
	list, err := a.catalog.ListEmployees(r.Context(), mustPrincipal(r).SalonID, queryBool(r, "active"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "", mapSlice(list, toEmployeeView))
}

func (a *API) createEmployee(w http.ResponseWriter, r *http.Request) {
	var req employeeRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	e, err := a.catalog.CreateEmployee(r.Context(), mustPrincipal(r).SalonID, service.EmployeeInput(req))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeCreated(w, "employee created", toEmployeeView(e))
}

func (a *API) getEmployee(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	e, err := a.catalog.GetEmployee(r.Context(), mustPrincipal(r).SalonID, id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "", toEmployeeView(e))
}

func (a *API) updateEmployee(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req employeeRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	e, err := a.catalog.UpdateEmployee(r.Context(), mustPrincipal(r).SalonID, id, service.EmployeeInput(req))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "employee updated", toEmployeeView(e))
}

func (a *API) deleteEmployee(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.catalog.DeleteEmployee(r.Context(), mustPrincipal(r).SalonID, id); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "employee deleted", nil)
}

type assignServicesRequest struct {
	ServiceIDs []uuid.UUID `json:"service_ids"`
}

func (a *API) assignServices(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req assignServicesRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	salonID := mustPrincipal(r).SalonID
	if err := a.catalog.AssignServices(r.Context(), salonID, id, req.ServiceIDs); err != nil {
		a.writeError(w, r, err)
		return
	}
	e, err := a.catalog.GetEmployee(r.Context(), salonID, id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "services assigned", toEmployeeView(e))
}

// ---- расписания

type scheduleRequest struct {
	StartDate string                    `json:"start_date"`
	EndDate   string                    `json:"end_date"`
	Rules     []calendar.WorkingDayRule `json:"rules"`
}

func parseOptionalDate(field, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, apperr.Validation(field+" must be YYYY-MM-DD", err)
	}
	return &d, nil
}

func (a *API) listSchedules(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	list, err := a.catalog.ListSchedules(r.Context(), mustPrincipal(r).SalonID, id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "", mapSlice(list, toScheduleView))
}

// setSchedules заменяет все расписания мастера.
func (a *API) setSchedules(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req []scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	in := make([]service.ScheduleInput, 0, len(req))
	for _, item := range req {
		start, err := parseOptionalDate("start_date", item.StartDate)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		end, err := parseOptionalDate("end_date", item.EndDate)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		in = append(in, service.ScheduleInput{StartDate: start, EndDate: end, Rules: item.Rules})
	}
	list, err := a.catalog.SetSchedules(r.Context(), mustPrincipal(r).SalonID, id, in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "schedules saved", mapSlice(list, toScheduleView))
}

// ---- отгулы

type repeatRequest struct {
	Freq     string `json:"freq"` // daily | weekly
	Interval int    `json:"interval"`
	// ISO-дни недели: 1 — понедельник ... 7 — воскресенье.
	Weekdays []int     `json:"weekdays"`
	Until    time.Time `json:"until"`
}

type timeOffRequest struct {
	StartsAt time.Time      `json:"starts_at"`
	EndsAt   time.Time      `json:"ends_at"`
	Reason   string         `json:"reason"`
	Repeat   *repeatRequest `json:"repeat"`
}

func (req *repeatRequest) rule(start time.Time, duration time.Duration) (calendar.RecurringRule, error) {
	rule := calendar.RecurringRule{Interval: req.Interval, StartTime: start, Duration: duration}
	switch req.Freq {
	case "daily":
		rule.Freq = calendar.FreqDaily
	case "weekly":
		rule.Freq = calendar.FreqWeekly
	default:
		return rule, apperr.Validation("repeat.freq must be daily or weekly", nil)
	}
	for _, d := range req.Weekdays {
		if d < 1 || d > 7 {
			return rule, apperr.Validation("repeat.weekdays must be between 1 and 7", nil)
		}
		rule.Weekdays = append(rule.Weekdays, time.Weekday(d%7))
	}
	if req.Until.IsZero() {
		return rule, apperr.Validation("repeat.until is required", nil)
	}
	until := req.Until
	rule.Until = &until
	return rule, nil
}

func toTimeOffView(t *model.TimeOff) timeOffView {
	return timeOffView{ID: t.ID, StartsAt: t.StartsAt, EndsAt: t.EndsAt, Reason: t.Reason}
}

func (a *API) listTimeOff(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	from, to, err := requiredPeriod(r, time.UTC)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	list, err := a.catalog.ListTimeOff(r.Context(), mustPrincipal(r).SalonID, id, from, to)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "", mapSlice(list, toTimeOffView))
}

func (a *API) addTimeOff(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req timeOffRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	first, err := calendar.NewTimeRange(req.StartsAt, req.EndsAt)
	if err != nil {
		a.writeError(w, r, apperr.Validation("ends_at must be after starts_at", err))
		return
	}
	salonID := mustPrincipal(r).SalonID

	if req.Repeat == nil {
		t, err := a.catalog.AddTimeOff(r.Context(), salonID, id, first, req.Reason)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writeCreated(w, "time off added", []timeOffView{toTimeOffView(t)})
		return
	}

	rule, err := req.Repeat.rule(req.StartsAt, first.Duration())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	window := calendar.TimeRange{Start: req.StartsAt, End: req.Repeat.Until}
	list, err := a.catalog.AddRecurringTimeOff(r.Context(), salonID, id, rule, window, req.Reason)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeCreated(w, "time off added", mapSlice(list, toTimeOffView))
}

func (a *API) deleteTimeOff(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	timeOffID, err := pathID(r, "timeOffID")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.catalog.DeleteTimeOff(r.Context(), mustPrincipal(r).SalonID, id, timeOffID); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "time off deleted", nil)
}

// ---- праздники

type holidayRequest struct {
	Date string `json:"date"` // YYYY-MM-DD
	Name string `json:"name"`
}

func toHolidayView(h *model.Holiday) holidayView {
	return holidayView{ID: h.ID, Date: time.Time(h.Date).Format(time.DateOnly), Name: h.Name}
}

func (a *API) listHolidays(w http.ResponseWriter, r *http.Request) {
	from, to, err := requiredPeriod(r, time.UTC)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	list, err := a.catalog.ListHolidays(r.Context(), mustPrincipal(r).SalonID, from, to)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "", mapSlice(list, toHolidayView))
}

func (a *API) addHoliday(w http.ResponseWriter, r *http.Request) {
	var req holidayRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	date, err := time.Parse(time.DateOnly, req.Date)
	if err != nil {
		a.writeError(w, r, apperr.Validation("date must be YYYY-MM-DD", err))
		return
	}
	h, err := a.catalog.AddHoliday(r.Context(), mustPrincipal(r).SalonID, date, req.Name)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeCreated(w, "holiday added", toHolidayView(h))
}

func (a *API) deleteHoliday(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.catalog.DeleteHoliday(r.Context(), mustPrincipal(r).SalonID, id); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeSuccess(w, "holiday deleted", nil)
}
