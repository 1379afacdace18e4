package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/Leganyst/salon-crm/internal/cache"
	"github.com/Leganyst/salon-crm/internal/calendar"
	"github.com/Leganyst/salon-crm/internal/db"
	"github.com/Leganyst/salon-crm/internal/logger"
	"github.com/Leganyst/salon-crm/internal/model"
	"github.com/Leganyst/salon-crm/internal/repository"
)

// fixture: салон в Москве, мастер работает каждый день 10:00–19:00 с обедом 13:00–14:00,
// услуга на час, сетка 30 минут. "Сейчас" — понедельник 07.01.2030 09:00 по Москве.
type fixture struct {
	t        *testing.T
	db       *gorm.DB
	loc      *time.Location
	now      time.Time
	salon    *model.Salon
	service  *model.Service
	employee *model.Employee
	client   *model.Client
	cache    *cache.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb, err := db.NewInMemory()
	require.NoError(t, err)
	require.NoError(t, model.AutoMigrate(gdb))

	loc, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)

	f := &fixture{
		t:     t,
		db:    gdb,
		loc:   loc,
		now:   time.Date(2030, 1, 7, 9, 0, 0, 0, loc),
		cache: cache.NewMemory(0),
	}
	ctx := context.Background()

	f.salon = &model.Salon{
		Name:            "Лаванда",
		TimeZone:        "Europe/Moscow",
		SlotStepMin:     30,
		BookingLeadMin:  60,
		CancelWindowMin: 120,
		LoyaltyRate:     decimal.NewFromFloat(0.05),
		IsActive:        true,
	}
	require.NoError(t, repository.NewGormSalonRepository(gdb).Create(ctx, f.salon))

	f.service = &model.Service{
		SalonID:     f.salon.ID,
		Name:        "Стрижка",
		Category:    "hair",
		DurationMin: 60,
		Price:       decimal.NewFromInt(2000),
		IsActive:    true,
	}
	require.NoError(t, repository.NewGormServiceRepository(gdb).Create(ctx, f.service))

	f.employee = f.addEmployee("Анна")
	f.client = f.addClient("Ирина", "79991234567", 555)
	return f
}

func (f *fixture) addEmployee(name string) *model.Employee {
	ctx := context.Background()
	employees := repository.NewGormEmployeeRepository(f.db)
	e := &model.Employee{SalonID: f.salon.ID, DisplayName: name, IsActive: true}
	require.NoError(f.t, employees.Create(ctx, e))
	require.NoError(f.t, employees.SetServices(ctx, e.ID, []uuid.UUID{f.service.ID}))

	rules, err := json.Marshal([]calendar.WorkingDayRule{{
		Weekdays: []int{1, 2, 3, 4, 5, 6, 7},
		Start:    "10:00",
		End:      "19:00",
		Breaks:   []calendar.Break{{Start: "13:00", End: "14:00"}},
	}})
	require.NoError(f.t, err)
	require.NoError(f.t, repository.NewGormScheduleRepository(f.db).ReplaceForEmployee(ctx, e.ID, []model.Schedule{{Rules: datatypes.JSON(rules)}}))
	return e
}

func (f *fixture) addClient(name, phone string, telegramID int64) *model.Client {
	c := &model.Client{SalonID: f.salon.ID, Name: name, Phone: phone}
	if telegramID != 0 {
		c.TelegramID = &telegramID
	}
	require.NoError(f.t, repository.NewGormClientRepository(f.db).Create(context.Background(), c))
	return c
}

// at — время понедельника 07.01.2030 (плюс dayOffset дней) по Москве.
func (f *fixture) at(dayOffset, hour, min int) time.Time {
	return time.Date(2030, 1, 7+dayOffset, hour, min, 0, 0, f.loc)
}

func (f *fixture) clock() Clock {
	return func() time.Time { return f.now.UTC() }
}

func (f *fixture) availability() *AvailabilityService {
	s := NewAvailabilityService(f.db, f.cache, logger.Discard())
	s.now = f.clock()
	return s
}

func (f *fixture) bookings(n Notifier) *BookingService {
	s := NewBookingService(f.db, f.availability(), f.cache, n, logger.Discard())
	s.now = f.clock()
	return s
}

// book создаёт подтверждённую запись напрямую, минуя проверки.
func (f *fixture) book(employee *model.Employee, client *model.Client, start time.Time, status model.BookingStatus) *model.Booking {
	b := &model.Booking{
		SalonID:    f.salon.ID,
		ClientID:   client.ID,
		EmployeeID: employee.ID,
		ServiceID:  f.service.ID,
		StartsAt:   start.UTC(),
		EndsAt:     start.Add(f.service.Duration()).UTC(),
		Status:     status,
		Price:      f.service.Price,
		Source:     model.ChannelAdmin,
	}
	require.NoError(f.t, repository.NewGormBookingRepository(f.db).Create(context.Background(), b))
	return b
}

func (f *fixture) loadBooking(id uuid.UUID) *model.Booking {
	var b model.Booking
	require.NoError(f.t, f.db.First(&b, "id = ?", id).Error)
	return &b
}

type sentMessage struct {
	ClientID uuid.UUID
	Text     string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, c *model.Client, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentMessage{ClientID: c.ID, Text: text})
	return nil
}

func (n *fakeNotifier) messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.sent...)
}
