package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Leganyst/salon-crm/internal/cache"
	"github.com/Leganyst/salon-crm/internal/calendar"
	"github.com/Leganyst/salon-crm/internal/db"
	"github.com/Leganyst/salon-crm/internal/export"
	"github.com/Leganyst/salon-crm/internal/logger"
	"github.com/Leganyst/salon-crm/internal/model"
	"github.com/Leganyst/salon-crm/internal/service"
)

type sentMessage struct {
	Channel string
	To      string
	Text    string
}

type fakeMeta struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (m *fakeMeta) SendText(_ context.Context, to, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{Channel: "whatsapp", To: to, Text: text})
	return nil
}

func (m *fakeMeta) SendInstagram(_ context.Context, to, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{Channel: "instagram", To: to, Text: text})
	return nil
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type apiEnv struct {
	t           *testing.T
	db          *gorm.DB
	handler     http.Handler
	meta        *fakeMeta
	salon       *model.Salon
	service     *model.Service
	employee    *model.Employee
	ownerToken  string
	masterToken string
	masterID    uuid.UUID
	// day — полночь послезавтра в часовом поясе салона.
	day time.Time
}

const testPassword = "secret-password"

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	ctx := context.Background()
	gdb, err := db.NewInMemory()
	require.NoError(t, err)
	require.NoError(t, model.AutoMigrate(gdb))

	log := logger.Discard()
	mem := cache.NewMemory(0)
	identity := service.NewIdentityService(gdb, "test-secret", time.Hour, log)
	catalog := service.NewCatalogService(gdb, mem, log)
	clients := service.NewClientService(gdb, log)
	availability := service.NewAvailabilityService(gdb, mem, log)
	conversations := service.NewConversationService(gdb, log)

	env := &apiEnv{t: t, db: gdb, meta: &fakeMeta{}}
	env.salon, err = catalog.CreateSalon(ctx, service.SalonInput{
		Name:            "Лаванда",
		TimeZone:        "Europe/Moscow",
		SlotStepMin:     30,
		CancelWindowMin: 120,
	})
	require.NoError(t, err)

	_, err = identity.Register(ctx, service.RegisterInput{SalonID: env.salon.ID, Email: "owner@lavanda.test", Password: testPassword, DisplayName: "Ольга", Role: model.RoleOwner})
	require.NoError(t, err)
	master, err := identity.Register(ctx, service.RegisterInput{SalonID: env.salon.ID, Email: "anna@lavanda.test", Password: testPassword, DisplayName: "Анна"})
	require.NoError(t, err)

	env.service, err = catalog.CreateService(ctx, env.salon.ID, service.ServiceInput{Name: "Стрижка", Category: "hair", DurationMin: 60, Price: decimal.NewFromInt(2000)})
	require.NoError(t, err)
	env.employee, err = catalog.CreateEmployee(ctx, env.salon.ID, service.EmployeeInput{
		DisplayName: "Анна",
		UserID:      &master.ID,
		ServiceIDs:  []uuid.UUID{env.service.ID},
	})
	require.NoError(t, err)
	_, err = catalog.SetSchedules(ctx, env.salon.ID, env.employee.ID, []service.ScheduleInput{{
		Rules: []calendar.WorkingDayRule{{
			Weekdays: []int{1, 2, 3, 4, 5, 6, 7},
			Start:    "10:00",
			End:      "19:00",
			Breaks:   []calendar.Break{{Start: "13:00", End: "14:00"}},
		}},
	}})
	require.NoError(t, err)

	api := New(Deps{
		Identity:            identity,
		Catalog:             catalog,
		Clients:             clients,
		Availability:        availability,
		Bookings:            service.NewBookingService(gdb, availability, mem, nil, log),
		Loyalty:             service.NewLoyaltyService(gdb, log),
		Payments:            service.NewPaymentService(gdb, log),
		Analytics:           service.NewAnalyticsService(gdb, mem, log),
		Assistant:           service.NewAssistantService(gdb, clients, conversations, nil, log),
		Meta:                env.meta,
		MetaVerifyToken:     "verify-me",
		MetaSalonID:         env.salon.ID,
		TelegramBotUsername: "lavanda_bot",
		Log:                 log,
	})
	env.handler = api.Router()

	env.ownerToken = env.login("owner@lavanda.test")
	env.masterToken = env.login("anna@lavanda.test")
	env.masterID = master.ID

	loc := env.salon.Location()
	local := time.Now().In(loc)
	env.day = time.Date(local.Year(), local.Month(), local.Day()+2, 0, 0, 0, 0, loc)
	return env
}

func (e *apiEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(e.t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *apiEnv) decode(rec *httptest.ResponseRecorder, data any) envelope {
	e.t.Helper()
	var env envelope
	require.NoError(e.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	if data != nil {
		require.NoError(e.t, json.Unmarshal(env.Data, data), string(env.Data))
	}
	return env
}

func (e *apiEnv) login(email string) string {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/auth/login", "", loginRequest{Email: email, Password: testPassword})
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	e.decode(rec, &resp)
	require.NotEmpty(e.t, resp.Token)
	return resp.Token
}

func (e *apiEnv) createClient(name, phone string) clientView {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/clients", e.ownerToken, clientRequest{Name: name, Phone: phone, Tags: []string{"vip"}})
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	var c clientView
	e.decode(rec, &c)
	return c
}

func (e *apiEnv) createBooking(clientID uuid.UUID, hour int) bookingView {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/bookings", e.ownerToken, createBookingRequest{
		ClientID:   clientID,
		ServiceID:  e.service.ID,
		EmployeeID: e.employee.ID,
		StartsAt:   e.day.Add(time.Duration(hour) * time.Hour),
	})
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	var b bookingView
	e.decode(rec, &b)
	return b
}

func TestHealth(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", env.decode(rec, nil).Status)
}

func TestAuth(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(http.MethodPost, "/api/auth/login", "", loginRequest{Email: "owner@lavanda.test", Password: "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	resp := env.decode(rec, nil)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "invalid email or password", resp.Message)

	rec = env.do(http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodGet, "/api/me", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodGet, "/api/me", env.masterToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var profile service.Profile
	env.decode(rec, &profile)
	assert.Equal(t, "anna@lavanda.test", profile.Email)
}

func TestRoles(t *testing.T) {
	env := newAPIEnv(t)

	assert.Equal(t, http.StatusForbidden, env.do(http.MethodGet, "/api/clients", env.masterToken, nil).Code)
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodGet, "/api/users", env.masterToken, nil).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/services", env.masterToken, nil).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/users", env.ownerToken, nil).Code)
}

func TestAuth_TokenFollowsAccountState(t *testing.T) {
	env := newAPIEnv(t)
	path := fmt.Sprintf("/api/users/%s/role", env.masterID)

	rec := env.do(http.MethodPut, path, env.ownerToken, roleRequest{Role: model.RoleAdmin})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	// токен выдан с ролью master, но права уже админские
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/clients", env.masterToken, nil).Code)

	rec = env.do(http.MethodPut, path, env.ownerToken, roleRequest{Role: model.RoleMaster})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodGet, "/api/clients", env.masterToken, nil).Code)

	require.NoError(t, env.db.Model(&model.User{}).Where("id = ?", env.masterID).Update("is_active", false).Error)
	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/api/me", env.masterToken, nil).Code)
}

func TestCORS(t *testing.T) {
	env := newAPIEnv(t)
	preflight := func(h http.Handler, origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/me", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	// без CORS_ORIGINS чужие сайты не получают доступа
	rec := preflight(env.handler, "https://evil.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))

	h := New(Deps{CORSOrigins: []string{"https://admin.lavanda.test"}, Log: logger.Discard()}).Router()
	rec = preflight(h, "https://admin.lavanda.test")
	assert.Equal(t, "https://admin.lavanda.test", rec.Header().Get("Access-Control-Allow-Origin"))
	rec = preflight(h, "https://evil.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestClients_CreateAndList(t *testing.T) {
	env := newAPIEnv(t)
	created := env.createClient("Ирина", "+7 (999) 123-45-67")
	assert.Equal(t, "79991234567", created.Phone)
	assert.Equal(t, []string{"vip"}, created.Tags)

	rec := env.do(http.MethodGet, "/api/clients?search=79991234567", env.ownerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page calendar.Page[clientView]
	env.decode(rec, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, created.ID, page.Items[0].ID)
	assert.EqualValues(t, 1, page.Total)

	rec = env.do(http.MethodPost, "/api/clients", env.ownerToken, map[string]string{"name": "Ирина", "unknown": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/api/clients/not-a-uuid", env.ownerToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/api/clients/"+uuid.NewString(), env.ownerToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAvailability(t *testing.T) {
	env := newAPIEnv(t)
	date := env.day.Format(time.DateOnly)
	next := env.day.AddDate(0, 0, 1).Format(time.DateOnly)

	rec := env.do(http.MethodGet, fmt.Sprintf("/api/availability?service_id=%s&from=%s&to=%s", env.service.ID, date, next), env.masterToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var slots []service.Slot
	env.decode(rec, &slots)
	// 10:00–13:00 и 14:00–19:00 с шагом 30 минут для часовой услуги.
	require.Len(t, slots, 14)
	assert.True(t, slots[0].StartsAt.Equal(env.day.Add(10*time.Hour)))

	rec = env.do(http.MethodGet, "/api/availability?from="+date+"&to="+next, env.masterToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBookings_Lifecycle(t *testing.T) {
	env := newAPIEnv(t)
	c := env.createClient("Ирина", "79991234567")
	b := env.createBooking(c.ID, 10)
	assert.Equal(t, string(model.BookingStatusConfirmed), b.Status)
	assert.True(t, b.Price.Equal(decimal.NewFromInt(2000)))

	rec := env.do(http.MethodPost, "/api/bookings", env.ownerToken, createBookingRequest{
		ClientID:   c.ID,
		ServiceID:  env.service.ID,
		EmployeeID: env.employee.ID,
		StartsAt:   env.day.Add(10*time.Hour + 30*time.Minute),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// мастер видит свои записи
	rec = env.do(http.MethodGet, "/api/bookings", env.masterToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page calendar.Page[bookingView]
	env.decode(rec, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Ирина", page.Items[0].ClientName)

	rec = env.do(http.MethodPost, "/api/bookings/"+b.ID.String()+"/cancel", env.ownerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var cancelled bookingView
	env.decode(rec, &cancelled)
	assert.Equal(t, string(model.BookingStatusCancelled), cancelled.Status)

	rec = env.do(http.MethodGet, "/api/bookings/"+b.ID.String()+"/history", env.ownerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var history []eventView
	env.decode(rec, &history)
	require.Len(t, history, 2)
	assert.Equal(t, string(model.EventTypeBookingCreated), history[0].Type)
	assert.Equal(t, string(model.EventTypeBookingCancelled), history[1].Type)

	rec = env.do(http.MethodGet, "/api/bookings?status=confirmed", env.ownerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	env.decode(rec, &page)
	assert.Empty(t, page.Items)
}

func TestBookings_Export(t *testing.T) {
	env := newAPIEnv(t)
	c := env.createClient("Ирина", "79991234567")
	env.createBooking(c.ID, 10)

	rec := env.do(http.MethodGet, "/api/bookings/export", env.ownerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "bookings-")
	assert.NotEmpty(t, rec.Body.Bytes())
}

func TestClients_Import(t *testing.T) {
	env := newAPIEnv(t)
	env.createClient("Ирина", "79991234567")

	file, err := export.ClientsXLSX([]model.Client{
		{Name: "Ирина Петрова", Phone: "79991234567"},
		{Name: "Мария", Phone: "79995550000"},
		{Name: "Без контактов"},
	}, time.UTC)
	require.NoError(t, err)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "clients.xlsx")
	require.NoError(t, err)
	_, err = part.Write(file)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/clients/import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+env.ownerToken)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res service.ImportResult
	env.decode(rec, &res)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Updated)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 4, res.Errors[0].Row)
}

func TestLoyaltyQR(t *testing.T) {
	env := newAPIEnv(t)
	c := env.createClient("Ирина", "79991234567")

	rec := env.do(http.MethodGet, "/api/clients/"+c.ID.String()+"/loyalty/qr", env.ownerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec = env.do(http.MethodGet, "/api/clients/"+c.ID.String()+"/loyalty", env.ownerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ledger struct {
		Balance int64 `json:"balance"`
	}
	env.decode(rec, &ledger)
	assert.Zero(t, ledger.Balance)
}

func TestLoyaltyAdjust(t *testing.T) {
	env := newAPIEnv(t)
	c := env.createClient("Ирина", "79991234567")
	path := "/api/clients/" + c.ID.String() + "/loyalty/adjust"
	var res struct {
		Balance int64 `json:"balance"`
	}

	rec := env.do(http.MethodPost, path, env.ownerToken, map[string]any{"kind": "earn", "points": 300})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	env.decode(rec, &res)
	assert.EqualValues(t, 300, res.Balance)

	rec = env.do(http.MethodPost, path, env.ownerToken, map[string]any{"kind": "redeem", "points": 100})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	env.decode(rec, &res)
	assert.EqualValues(t, 200, res.Balance)

	rec = env.do(http.MethodPost, path, env.ownerToken, map[string]any{"points": -50, "comment": "списание"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	env.decode(rec, &res)
	assert.EqualValues(t, 150, res.Balance)

	rec = env.do(http.MethodPost, path, env.ownerToken, map[string]any{"kind": "redeem", "points": 1000})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, path, env.ownerToken, map[string]any{"kind": "gift", "points": 10})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, path, env.masterToken, map[string]any{"kind": "earn", "points": 10})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMetaWebhook_Verify(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(http.MethodGet, "/webhooks/meta?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=42", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "42", rec.Body.String())

	rec = env.do(http.MethodGet, "/webhooks/meta?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=42", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMetaWebhook_Inbound(t *testing.T) {
	env := newAPIEnv(t)
	payload := `{
	  "object": "whatsapp_business_account",
	  "entry": [{"id": "1", "changes": [{"field": "messages", "value": {
	    "contacts": [{"wa_id": "79990001122", "profile": {"name": "Вера"}}],
	    "messages": [{"from": "79990001122", "type": "text", "text": {"body": "Здравствуйте, есть запись на завтра?"}}]
	  }}]}]
	}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/meta", bytes.NewBufferString(payload))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, env.meta.sent, 1)
	assert.Equal(t, sentMessage{Channel: "whatsapp", To: "79990001122", Text: service.FallbackReply}, env.meta.sent[0])

	// клиент заведён из WhatsApp
	rec = env.do(http.MethodGet, "/api/clients?search=79990001122", env.ownerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page calendar.Page[clientView]
	env.decode(rec, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "79990001122", page.Items[0].WhatsAppID)
	assert.Equal(t, string(model.ChannelWhatsApp), page.Items[0].Source)
}
