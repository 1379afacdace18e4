// Package seed наполняет базу демонстрационными салонами для локальной разработки.
package seed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Leganyst/salon-crm/internal/apperr"
	"github.com/Leganyst/salon-crm/internal/calendar"
	"github.com/Leganyst/salon-crm/internal/model"
	"github.com/Leganyst/salon-crm/internal/service"
)

const DefaultPassword = "changeme123"

type Options struct {
	Salons  int
	Clients int // на каждый салон
	// Seed фиксирует генератор; 0 — случайные данные.
	Seed     int64
	Password string
}

type SalonResult struct {
	SalonID    uuid.UUID
	Name       string
	OwnerEmail string
	Clients    int
}

type Deps struct {
	Identity *service.IdentityService
	Catalog  *service.CatalogService
	Clients  *service.ClientService
}

var services = []service.ServiceInput{
	{Name: "Женская стрижка", Category: "hair", DurationMin: 60, Price: decimal.NewFromInt(2500)},
	{Name: "Окрашивание", Category: "hair", DurationMin: 150, Price: decimal.NewFromInt(6500)},
	{Name: "Маникюр с покрытием", Category: "nails", DurationMin: 90, Price: decimal.NewFromInt(2200)},
	{Name: "Педикюр", Category: "nails", DurationMin: 90, Price: decimal.NewFromInt(2800)},
}

var masterPositions = []string{"Парикмахер-стилист", "Мастер маникюра"}

func Run(ctx context.Context, d Deps, opts Options, log logrus.FieldLogger) ([]SalonResult, error) {
	if opts.Salons <= 0 {
		return nil, fmt.Errorf("salons must be positive")
	}
	if opts.Clients < 0 {
		return nil, fmt.Errorf("clients must not be negative")
	}
	if opts.Password == "" {
		opts.Password = DefaultPassword
	}
	faker := gofakeit.New(opts.Seed)

	out := make([]SalonResult, 0, opts.Salons)
	for i := 0; i < opts.Salons; i++ {
		res, err := seedSalon(ctx, d, faker, opts)
		if err != nil {
			return out, fmt.Errorf("salon %d: %w", i+1, err)
		}
		log.WithFields(logrus.Fields{"salon_id": res.SalonID, "owner": res.OwnerEmail, "clients": res.Clients}).Info("salon seeded")
		out = append(out, res)
	}
	return out, nil
}

func seedSalon(ctx context.Context, d Deps, faker *gofakeit.Faker, opts Options) (SalonResult, error) {
	salon, err := d.Catalog.CreateSalon(ctx, service.SalonInput{
		Name:            "Салон " + faker.Company(),
		TimeZone:        model.DefaultTimeZone,
		SlotStepMin:     30,
		BookingLeadMin:  60,
		CancelWindowMin: 120,
	})
	if err != nil {
		return SalonResult{}, err
	}
	res := SalonResult{SalonID: salon.ID, Name: salon.Name}

	res.OwnerEmail = fmt.Sprintf("owner-%s@salon.local", strings.ToLower(salon.ID.String()[:8]))
	if _, err := d.Identity.Register(ctx, service.RegisterInput{
		SalonID:     salon.ID,
		Email:       res.OwnerEmail,
		Password:    opts.Password,
		DisplayName: faker.Name(),
		Role:        model.RoleOwner,
	}); err != nil {
		return res, err
	}

	serviceIDs := make(map[string][]uuid.UUID)
	for _, in := range services {
		s, err := d.Catalog.CreateService(ctx, salon.ID, in)
		if err != nil {
			return res, err
		}
		serviceIDs[in.Category] = append(serviceIDs[in.Category], s.ID)
	}

	for i, category := range []string{"hair", "nails"} {
		e, err := d.Catalog.CreateEmployee(ctx, salon.ID, service.EmployeeInput{
			DisplayName: faker.FirstName(),
			Position:    masterPositions[i],
			ServiceIDs:  serviceIDs[category],
		})
		if err != nil {
			return res, err
		}
		if _, err := d.Catalog.SetSchedules(ctx, salon.ID, e.ID, []service.ScheduleInput{{
			Rules: []calendar.WorkingDayRule{{
				Weekdays: []int{1, 2, 3, 4, 5, 6},
				Start:    "10:00",
				End:      "20:00",
				Breaks:   []calendar.Break{{Start: "14:00", End: "15:00"}},
			}},
		}}); err != nil {
			return res, err
		}
	}

	for i := 0; i < opts.Clients; i++ {
		birthday := time.Date(faker.Number(1965, 2005), time.Month(faker.Number(1, 12)), faker.Number(1, 28), 0, 0, 0, 0, time.UTC)
		_, err := d.Clients.Create(ctx, salon.ID, service.ClientInput{
			Name:     faker.Name(),
			Phone:    "79" + faker.Numerify("#########"),
			Email:    faker.Email(),
			Birthday: &birthday,
			Tags:     []string{faker.RandomString([]string{"vip", "новый", "постоянный"})},
			Source:   model.ChannelAdmin,
		})
		// случайный телефон мог совпасть
		if apperr.Is(err, apperr.KindConflict) {
			continue
		}
		if err != nil {
			return res, err
		}
		res.Clients++
	}
	return res, nil
}
