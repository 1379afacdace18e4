package service

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/Leganyst/salon-crm/internal/apperr"
	"github.com/Leganyst/salon-crm/internal/cache"
	"github.com/Leganyst/salon-crm/internal/model"
	"github.com/Leganyst/salon-crm/internal/repository"
)

const analyticsTTL = 5 * time.Minute

type EmployeeLoad struct {
	EmployeeID    uuid.UUID       `json:"employee_id"`
	Name          string          `json:"name"`
	Bookings      int64           `json:"bookings"`
	BookedMinutes int64           `json:"booked_minutes"`
	Revenue       decimal.Decimal `json:"revenue"`
}

type Summary struct {
	From             time.Time                `json:"from"`
	To               time.Time                `json:"to"`
	Paid             decimal.Decimal          `json:"paid"`
	Refunded         decimal.Decimal          `json:"refunded"`
	Revenue          decimal.Decimal          `json:"revenue"`
	AverageCheck     decimal.Decimal          `json:"average_check"`
	TotalBookings    int64                    `json:"total_bookings"`
	BookingsByStatus map[string]int64         `json:"bookings_by_status"`
	NewClients       int64                    `json:"new_clients"`
	ReturningClients int64                    `json:"returning_clients"`
	TopServices      []repository.ServiceStat `json:"top_services"`
	EmployeeLoad     []EmployeeLoad           `json:"employee_load"`
}

type AnalyticsService struct {
	db    *gorm.DB
	cache cache.Cache
	log   logrus.FieldLogger
}

func NewAnalyticsService(db *gorm.DB, c cache.Cache, log logrus.FieldLogger) *AnalyticsService {
	return &AnalyticsService{db: db, cache: c, log: log}
}

// Summary собирает отчёт за период [from, to). Запросы идут параллельно,
// результат кэшируется на 5 минут.
func (s *AnalyticsService) Summary(ctx context.Context, salonID uuid.UUID, from, to time.Time) (*Summary, error) {
	if !to.After(from) {
		return nil, apperr.Validation("end must be after start", nil)
	}
	from, to = from.UTC(), to.UTC()
	key := cache.Key("analytics", salonID.String(), from.Format(time.RFC3339), to.Format(time.RFC3339))
	if cached, ok := cache.GetJSON[Summary](ctx, s.cache, key); ok {
		return &cached, nil
	}

	repo := repository.NewGormAnalyticsRepository(s.db)
	clients := repository.NewGormClientRepository(s.db)
	out := &Summary{From: from, To: to, BookingsByStatus: map[string]int64{}}

	var (
		statuses []repository.StatusCount
		slices   []repository.BookingSlice
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := repo.PaidTotal(gctx, salonID, from, to)
		out.Paid = v
		return err
	})
	g.Go(func() error {
		v, err := repo.RefundedTotal(gctx, salonID, from, to)
		out.Refunded = v
		return err
	})
	g.Go(func() error {
		v, err := repo.BookingsByStatus(gctx, salonID, from, to)
		statuses = v
		return err
	})
	g.Go(func() error {
		v, err := clients.CountCreatedBetween(gctx, salonID, from, to)
		out.NewClients = v
		return err
	})
	g.Go(func() error {
		v, err := repo.ReturningClients(gctx, salonID, from, to)
		out.ReturningClients = v
		return err
	})
	g.Go(func() error {
		v, err := repo.TopServices(gctx, salonID, from, to, 5)
		out.TopServices = v
		return err
	})
	g.Go(func() error {
		v, err := repo.BookingSlices(gctx, salonID, from, to)
		slices = v
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, apperr.Internal("analytics", err)
	}

	out.Revenue = out.Paid.Sub(out.Refunded)
	var completed int64
	for _, sc := range statuses {
		out.BookingsByStatus[string(sc.Status)] = sc.Count
		out.TotalBookings += sc.Count
		if sc.Status == model.BookingStatusCompleted {
			completed = sc.Count
		}
	}
	if completed > 0 {
		out.AverageCheck = out.Revenue.Div(decimal.NewFromInt(completed)).Round(2)
	}
	if out.TopServices == nil {
		out.TopServices = []repository.ServiceStat{}
	}
	out.EmployeeLoad = employeeLoad(slices)

	if err := cache.SetJSON(ctx, s.cache, key, out, analyticsTTL); err != nil {
		s.log.WithFields(logrus.Fields{"salon_id": salonID, "error": err}).Warn("analytics cache set failed")
	}
	return out, nil
}

// employeeLoad: занятые минуты считаются по всем неотменённым записям, выручка —
// только по завершённым.
func employeeLoad(slices []repository.BookingSlice) []EmployeeLoad {
	byID := make(map[uuid.UUID]*EmployeeLoad)
	for _, b := range slices {
		l, ok := byID[b.EmployeeID]
		if !ok {
			l = &EmployeeLoad{EmployeeID: b.EmployeeID, Name: b.DisplayName}
			byID[b.EmployeeID] = l
		}
		l.Bookings++
		l.BookedMinutes += int64(b.EndsAt.Sub(b.StartsAt) / time.Minute)
		if b.Status == model.BookingStatusCompleted {
			l.Revenue = l.Revenue.Add(b.Price)
		}
	}
	out := make([]EmployeeLoad, 0, len(byID))
	for _, l := range byID {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BookedMinutes != out[j].BookedMinutes {
			return out[i].BookedMinutes > out[j].BookedMinutes
		}
		return out[i].Name < out[j].Name
	})
	return out
}
