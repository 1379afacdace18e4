package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Leganyst/salon-crm/internal/model"
	"github.com/Leganyst/salon-crm/internal/service"
)

// MetaSender отправляет ответы в WhatsApp и Instagram.
type MetaSender interface {
	SendText(ctx context.Context, to, text string) error
	SendInstagram(ctx context.Context, recipientID, text string) error
}

// Deps — зависимости API. Meta и Assistant могут быть nil: тогда вебхук отвечает 404.
type Deps struct {
	Identity     *service.IdentityService
	Catalog      *service.CatalogService
	Clients      *service.ClientService
	Availability *service.AvailabilityService
	Bookings     *service.BookingService
	Loyalty      *service.LoyaltyService
	Payments     *service.PaymentService
	Analytics    *service.AnalyticsService
	Assistant    *service.AssistantService

	Meta            MetaSender
	MetaVerifyToken string
	MetaAppSecret   string
	MetaSalonID     uuid.UUID
	MetaWorkers     int

	// Имя бота для ссылки на карту лояльности в QR.
	TelegramBotUsername string
	CORSOrigins         []string

	Log logrus.FieldLogger
}

// API — REST для админки салона и вебхуки мессенджеров.
type API struct {
	identity     *service.IdentityService
	catalog      *service.CatalogService
	clients      *service.ClientService
	availability *service.AvailabilityService
	bookings     *service.BookingService
	loyalty      *service.LoyaltyService
	payments     *service.PaymentService
	analytics    *service.AnalyticsService
	assistant    *service.AssistantService

	meta            MetaSender
	metaVerifyToken string
	metaAppSecret   string
	metaSalonID     uuid.UUID
	metaWorkers     int

	botUsername string
	corsOrigins []string
	log         logrus.FieldLogger
}

func New(d Deps) *API {
	if d.MetaWorkers <= 0 {
		d.MetaWorkers = 4
	}
	return &API{
		identity:        d.Identity,
		catalog:         d.Catalog,
		clients:         d.Clients,
		availability:    d.Availability,
		bookings:        d.Bookings,
		loyalty:         d.Loyalty,
		payments:        d.Payments,
		analytics:       d.Analytics,
		assistant:       d.Assistant,
		meta:            d.Meta,
		metaVerifyToken: d.MetaVerifyToken,
		metaAppSecret:   d.MetaAppSecret,
		metaSalonID:     d.MetaSalonID,
		metaWorkers:     d.MetaWorkers,
		botUsername:     d.TelegramBotUsername,
		corsOrigins:     d.CORSOrigins,
		log:             d.Log.WithField("component", "http"),
	}
}

// Router собирает все маршруты.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(a.log))
	r.Use(middleware.Recoverer)
	// cors с пустым списком пропускает любой origin, поэтому без настройки не подключаем вовсе
	if len(a.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   a.corsOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Content-Disposition"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", a.health)

	r.Get("/webhooks/meta", a.metaVerify)
	r.Post("/webhooks/meta", a.metaInbound)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Post("/auth/login", a.login)

		r.Group(func(r chi.Router) {
			r.Use(a.authMiddleware)

			// --- доступно любому сотруднику, включая мастеров ---
			r.Group(func(r chi.Router) {
				r.Use(roleMiddleware(model.RoleMaster))
				r.Get("/me", a.me)
				r.Get("/salon", a.getSalon)
				r.Get("/services", a.listServices)
				r.Get("/employees", a.listEmployees)
				r.Get("/availability", a.findSlots)
				r.Get("/bookings", a.listBookings)
				r.Get("/bookings/{id}", a.getBooking)
			})

			// --- управление салоном: администраторы и владелец ---
			r.Group(func(r chi.Router) {
				r.Use(roleMiddleware(model.RoleAdmin))

				r.Get("/clients", a.listClients)
				r.Post("/clients", a.createClient)
				r.Get("/clients/export", a.exportClients)
				r.Post("/clients/import", a.importClients)
				r.Get("/clients/{id}", a.getClient)
				r.Put("/clients/{id}", a.updateClient)
				r.Delete("/clients/{id}", a.deleteClient)
				r.Post("/clients/{id}/block", a.blockClient)
				r.Post("/clients/{id}/unblock", a.unblockClient)
				r.Post("/clients/{id}/merge", a.mergeClient)
				r.Get("/clients/{id}/history", a.clientHistory)
				r.Get("/clients/{id}/loyalty", a.loyaltyLedger)
				r.Post("/clients/{id}/loyalty/adjust", a.loyaltyAdjust)
				r.Get("/clients/{id}/loyalty/qr", a.loyaltyQR)

				r.Post("/services", a.createService)
				r.Get("/services/{id}", a.getService)
				r.Put("/services/{id}", a.updateService)
				r.Delete("/services/{id}", a.deleteService)

				r.Post("/employees", a.createEmployee)
				r.Get("/employees/{id}", a.getEmployee)
				r.Put("/employees/{id}", a.updateEmployee)
				r.Delete("/employees/{id}", a.deleteEmployee)
				r.Put("/employees/{id}/services", a.assignServices)
				r.Get("/employees/{id}/schedules", a.listSchedules)
				r.Put("/employees/{id}/schedules", a.setSchedules)
				r.Get("/employees/{id}/time-off", a.listTimeOff)
				r.Post("/employees/{id}/time-off", a.addTimeOff)
				r.Delete("/employees/{id}/time-off/{timeOffID}", a.deleteTimeOff)
				r.Post("/employees/{id}/cancel-bookings", a.bulkCancel)

				r.Get("/holidays", a.listHolidays)
				r.Post("/holidays", a.addHoliday)
				r.Delete("/holidays/{id}", a.deleteHoliday)

				r.Post("/bookings", a.createBooking)
				r.Get("/bookings/export", a.exportBookings)
				r.Post("/bookings/{id}/cancel", a.cancelBooking)
				r.Post("/bookings/{id}/reschedule", a.rescheduleBooking)
				r.Post("/bookings/{id}/confirm", a.confirmBooking)
				r.Post("/bookings/{id}/no-show", a.noShowBooking)
				r.Post("/bookings/{id}/complete", a.completeBooking)
				r.Get("/bookings/{id}/payments", a.bookingPayments)
				r.Get("/bookings/{id}/history", a.bookingHistory)

				r.Get("/payments", a.listPayments)
				r.Post("/payments", a.recordPayment)
				r.Post("/payments/{id}/refund", a.refundPayment)

				r.Get("/analytics/summary", a.analyticsSummary)
			})

			// --- владелец: настройки салона и сотрудники ---
			r.Group(func(r chi.Router) {
				r.Use(roleMiddleware(model.RoleOwner))
				r.Put("/salon", a.updateSalon)
				r.Get("/users", a.listUsers)
				r.Post("/users", a.registerUser)
				r.Put("/users/{id}/role", a.setUserRole)
			})
		})
	})
	return r
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, "ok", map[string]string{"time": time.Now().UTC().Format(time.RFC3339)})
}
