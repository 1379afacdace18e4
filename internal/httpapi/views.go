package httpapi

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Leganyst/salon-crm/internal/calendar"
	"github.com/Leganyst/salon-crm/internal/model"
)

type salonView struct {
	ID              uuid.UUID       `json:"id"`
	Name            string          `json:"name"`
	TimeZone        string          `json:"time_zone"`
	Currency        string          `json:"currency"`
	SlotStepMin     int             `json:"slot_step_min"`
	BookingLeadMin  int             `json:"booking_lead_min"`
	CancelWindowMin int             `json:"cancel_window_min"`
	LoyaltyRate     decimal.Decimal `json:"loyalty_rate"`
	IsActive        bool            `json:"is_active"`
}

func toSalonView(s *model.Salon) salonView {
	return salonView{
		ID:              s.ID,
		Name:            s.Name,
		TimeZone:        s.TimeZone,
		Currency:        s.Currency,
		SlotStepMin:     s.SlotStepMin,
		BookingLeadMin:  s.BookingLeadMin,
		CancelWindowMin: s.CancelWindowMin,
		LoyaltyRate:     s.LoyaltyRate,
		IsActive:        s.IsActive,
	}
}

type clientView struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Phone       string     `json:"phone,omitempty"`
	Email       string     `json:"email,omitempty"`
	TelegramID  *int64     `json:"telegram_id,omitempty"`
	InstagramID string     `json:"instagram_id,omitempty"`
	WhatsAppID  string     `json:"whatsapp_id,omitempty"`
	Birthday    string     `json:"birthday,omitempty"`
	Tags        []string   `json:"tags"`
	Notes       string     `json:"notes,omitempty"`
	Source      string     `json:"source"`
	Status      string     `json:"status"`
	LastVisitAt *time.Time `json:"last_visit_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toClientView(c *model.Client) clientView {
	v := clientView{
		ID:          c.ID,
		Name:        c.Name,
		Phone:       c.Phone,
		Email:       c.Email,
		TelegramID:  c.TelegramID,
		InstagramID: c.InstagramID,
		WhatsAppID:  c.WhatsAppID,
		Tags:        []string(c.Tags),
		Notes:       c.Notes,
		Source:      string(c.Source),
		Status:      string(c.Status),
		LastVisitAt: c.LastVisitAt,
		CreatedAt:   c.CreatedAt,
	}
	if v.Tags == nil {
		v.Tags = []string{}
	}
	if c.Birthday != nil {
		v.Birthday = time.Time(*c.Birthday).Format(time.DateOnly)
	}
	return v
}

type serviceView struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Category    string          `json:"category,omitempty"`
	Description string          `json:"description,omitempty"`
	DurationMin int             `json:"duration_min"`
	Price       decimal.Decimal `json:"price"`
	IsActive    bool            `json:"is_active"`
}

func toServiceView(s *model.Service) serviceView {
	return serviceView{
		ID:          s.ID,
		Name:        s.Name,
		Category:    s.Category,
		Description: s.Description,
		DurationMin: s.DurationMin,
		Price:       s.Price,
		IsActive:    s.IsActive,
	}
}

type employeeView struct {
	ID          uuid.UUID   `json:"id"`
	UserID      *uuid.UUID  `json:"user_id,omitempty"`
	DisplayName string      `json:"display_name"`
	Position    string      `json:"position,omitempty"`
	Description string      `json:"description,omitempty"`
	IsActive    bool        `json:"is_active"`
	ServiceIDs  []uuid.UUID `json:"service_ids"`
}

func toEmployeeView(e *model.Employee) employeeView {
	v := employeeView{
		ID:          e.ID,
		UserID:      e.UserID,
		DisplayName: e.DisplayName,
		Position:    e.Position,
		Description: e.Description,
		IsActive:    e.IsActive,
		ServiceIDs:  make([]uuid.UUID, 0, len(e.Services)),
	}
	for _, s := range e.Services {
		v.ServiceIDs = append(v.ServiceIDs, s.ID)
	}
	return v
}

type bookingView struct {
	ID           uuid.UUID       `json:"id"`
	ClientID     uuid.UUID       `json:"client_id"`
	ClientName   string          `json:"client_name,omitempty"`
	EmployeeID   uuid.UUID       `json:"employee_id"`
	EmployeeName string          `json:"employee_name,omitempty"`
	ServiceID    uuid.UUID       `json:"service_id"`
	ServiceName  string          `json:"service_name,omitempty"`
	StartsAt     time.Time       `json:"starts_at"`
	EndsAt       time.Time       `json:"ends_at"`
	Status       string          `json:"status"`
	Price        decimal.Decimal `json:"price"`
	Source       string          `json:"source"`
	Comment      string          `json:"comment,omitempty"`
	CancelledAt  *time.Time      `json:"cancelled_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

func toBookingView(b *model.Booking) bookingView {
	v := bookingView{
		ID:          b.ID,
		ClientID:    b.ClientID,
		EmployeeID:  b.EmployeeID,
		ServiceID:   b.ServiceID,
		StartsAt:    b.StartsAt,
		EndsAt:      b.EndsAt,
		Status:      string(b.Status),
		Price:       b.Price,
		Source:      string(b.Source),
		Comment:     b.Comment,
		CancelledAt: b.CancelledAt,
		CompletedAt: b.CompletedAt,
	}
	if b.Client != nil {
		v.ClientName = b.Client.Name
	}
	if b.Employee != nil {
		v.EmployeeName = b.Employee.DisplayName
	}
	if b.Service != nil {
		v.ServiceName = b.Service.Name
	}
	return v
}

type paymentView struct {
	ID         uuid.UUID       `json:"id"`
	BookingID  *uuid.UUID      `json:"booking_id,omitempty"`
	ClientID   uuid.UUID       `json:"client_id"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
	Status     string          `json:"status"`
	PaidAt     time.Time       `json:"paid_at"`
	RefundedAt *time.Time      `json:"refunded_at,omitempty"`
}

func toPaymentView(p *model.Payment) paymentView {
	return paymentView{
		ID:         p.ID,
		BookingID:  p.BookingID,
		ClientID:   p.ClientID,
		Amount:     p.Amount,
		Method:     string(p.Method),
		Status:     string(p.Status),
		PaidAt:     p.PaidAt,
		RefundedAt: p.RefundedAt,
	}
}

type ledgerView struct {
	ID        uuid.UUID  `json:"id"`
	BookingID *uuid.UUID `json:"booking_id,omitempty"`
	Points    int64      `json:"points"`
	Kind      string     `json:"kind"`
	Comment   string     `json:"comment,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type scheduleView struct {
	ID        uuid.UUID                 `json:"id"`
	StartDate string                    `json:"start_date,omitempty"`
	EndDate   string                    `json:"end_date,omitempty"`
	Rules     []calendar.WorkingDayRule `json:"rules"`
}

func toScheduleView(s *model.Schedule) scheduleView {
	v := scheduleView{ID: s.ID, Rules: []calendar.WorkingDayRule{}}
	if s.StartDate != nil {
		v.StartDate = time.Time(*s.StartDate).Format(time.DateOnly)
	}
	if s.EndDate != nil {
		v.EndDate = time.Time(*s.EndDate).Format(time.DateOnly)
	}
	if len(s.Rules) > 0 {
		_ = json.Unmarshal(s.Rules, &v.Rules)
	}
	return v
}

type timeOffView struct {
	ID       uuid.UUID `json:"id"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
	Reason   string    `json:"reason,omitempty"`
}

type holidayView struct {
	ID   uuid.UUID `json:"id"`
	Date string    `json:"date"`
	Name string    `json:"name,omitempty"`
}

// mapSlice применяет f к каждому элементу; nil превращается в пустой срез.
type eventView struct {
	ID        uuid.UUID  `json:"id"`
	Type      string     `json:"type"`
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	Details   string     `json:"details,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func toEventView(e *model.Event) eventView {
	return eventView{
		ID:        e.ID,
		Type:      string(e.EventType),
		UserID:    e.UserID,
		Details:   e.Details,
		CreatedAt: e.CreatedAt,
	}
}

func mapSlice[T any, V any](items []T, f func(*T) V) []V {
	out := make([]V, 0, len(items))
	for i := range items {
		out = append(out, f(&items[i]))
	}
	return out
}

// mapPage переносит метаданные страницы на срез представлений.
func mapPage[T any, V any](p calendar.Page[T], f func(*T) V) calendar.Page[V] {
	return calendar.Page[V]{
		Items:    mapSlice(p.Items, f),
		Page:     p.Page,
		PageSize: p.PageSize,
		Total:    p.Total,
		HasNext:  p.HasNext,
		HasPrev:  p.HasPrev,
	}
}
