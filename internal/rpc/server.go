package rpc

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/Leganyst/salon-crm/internal/apperr"
	"github.com/Leganyst/salon-crm/internal/calendar"
	"github.com/Leganyst/salon-crm/internal/model"
	"github.com/Leganyst/salon-crm/internal/service"
)

// CalendarService — реализация RPC поверх сервисов записи.
type CalendarService struct {
	availability *service.AvailabilityService
	bookings     *service.BookingService
	log          logrus.FieldLogger
}

func NewCalendarService(availability *service.AvailabilityService, bookings *service.BookingService, log logrus.FieldLogger) *CalendarService {
	return &CalendarService{availability: availability, bookings: bookings, log: log}
}

// NewServer собирает gRPC-сервер: календарь, health и reflection.
func NewServer(calendarSvc CalendarServer, log logrus.FieldLogger) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		recoverInterceptor(log),
		loggingInterceptor(log),
	))
	RegisterCalendarServer(srv, calendarSvc)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(calendarServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	reflection.Register(srv)
	return srv, hs
}

func (s *CalendarService) ListFreeSlots(ctx context.Context, req *ListFreeSlotsRequest) (*ListFreeSlotsResponse, error) {
	salonID, err := parseID("salon_id", req.SalonID)
	if err != nil {
		return nil, err
	}
	serviceID, err := parseID("service_id", req.ServiceID)
	if err != nil {
		return nil, err
	}
	// перепутанные границы меняем местами, слишком широкое окно обрезаем
	window, err := calendar.NormalizeTimeRange(req.Start, req.End, nil, service.MaxAvailabilityWindow)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "end must be after start")
	}
	q := service.AvailabilityQuery{SalonID: salonID, ServiceID: serviceID, From: window.Start, To: window.End}
	if req.EmployeeID != "" {
		employeeID, err := parseID("employee_id", req.EmployeeID)
		if err != nil {
			return nil, err
		}
		q.EmployeeID = &employeeID
	}

	slots, err := s.availability.FindSlots(ctx, q)
	if err != nil {
		return nil, toStatus(err)
	}
	page := calendar.Paginate(slots, int(req.Page), int(req.PageSize))

	resp := &ListFreeSlotsResponse{
		Slots:      make([]Slot, 0, len(page.Items)),
		TotalCount: int32(page.Total),
		HasNext:    page.HasNext,
	}
	for _, sl := range page.Items {
		resp.Slots = append(resp.Slots, Slot{
			EmployeeID:   sl.EmployeeID.String(),
			EmployeeName: sl.EmployeeName,
			ServiceID:    sl.ServiceID.String(),
			StartsAt:     sl.StartsAt,
			EndsAt:       sl.EndsAt,
		})
	}
	return resp, nil
}

func (s *CalendarService) CreateBooking(ctx context.Context, req *CreateBookingRequest) (*CreateBookingResponse, error) {
	in := service.CreateBookingInput{StartsAt: req.StartsAt, Comment: req.Comment, Source: model.ChannelTelegram}
	var err error
	if in.SalonID, err = parseID("salon_id", req.SalonID); err != nil {
		return nil, err
	}
	if in.ClientID, err = parseID("client_id", req.ClientID); err != nil {
		return nil, err
	}
	if in.ServiceID, err = parseID("service_id", req.ServiceID); err != nil {
		return nil, err
	}
	if in.EmployeeID, err = parseID("employee_id", req.EmployeeID); err != nil {
		return nil, err
	}
	if req.StaffUserID != "" {
		userID, err := parseID("staff_user_id", req.StaffUserID)
		if err != nil {
			return nil, err
		}
		in.UserID = &userID
		in.Source = model.ChannelAdmin
	}

	b, err := s.bookings.Create(ctx, in)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CreateBookingResponse{Booking: toBooking(b)}, nil
}

func (s *CalendarService) CancelBooking(ctx context.Context, req *CancelBookingRequest) (*CancelBookingResponse, error) {
	salonID, err := parseID("salon_id", req.SalonID)
	if err != nil {
		return nil, err
	}
	bookingID, err := parseID("booking_id", req.BookingID)
	if err != nil {
		return nil, err
	}
	b, err := s.bookings.Cancel(ctx, salonID, bookingID, req.Reason, req.ByStaff)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CancelBookingResponse{Booking: toBooking(b)}, nil
}

// BulkCancelEmployeeBookings отменяет все активные записи мастера в окне,
// например когда мастер заболел.
func (s *CalendarService) BulkCancelEmployeeBookings(ctx context.Context, req *BulkCancelEmployeeBookingsRequest) (*BulkCancelEmployeeBookingsResponse, error) {
	salonID, err := parseID("salon_id", req.SalonID)
	if err != nil {
		return nil, err
	}
	employeeID, err := parseID("employee_id", req.EmployeeID)
	if err != nil {
		return nil, err
	}
	window, err := calendar.NewTimeRange(req.Start, req.End)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	res, err := s.bookings.BulkCancelEmployee(ctx, salonID, employeeID, window, req.Reason)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &BulkCancelEmployeeBookingsResponse{
		CancelledCount: int32(res.Cancelled),
		Affected:       make([]AffectedBooking, 0, len(res.Affected)),
	}
	for _, a := range res.Affected {
		ab := AffectedBooking{
			BookingID:  a.BookingID.String(),
			ClientID:   a.ClientID.String(),
			ClientName: a.ClientName,
			StartsAt:   a.StartsAt,
		}
		if a.ClientTelegramID != nil {
			ab.ClientTelegramID = *a.ClientTelegramID
		}
		resp.Affected = append(resp.Affected, ab)
	}
	s.log.WithFields(logrus.Fields{"salon_id": salonID, "employee_id": employeeID, "cancelled": res.Cancelled}).Info("employee bookings cancelled via rpc")
	return resp, nil
}

func parseID(field, raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "%s is required", field)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "%s is not a valid uuid", field)
	}
	return id, nil
}

// toStatus переводит ошибку приложения в gRPC-статус.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(apperr.GRPCCode(err), apperr.PublicMessage(err))
}

func toBooking(b *model.Booking) Booking {
	return Booking{
		ID:         b.ID.String(),
		SalonID:    b.SalonID.String(),
		ClientID:   b.ClientID.String(),
		EmployeeID: b.EmployeeID.String(),
		ServiceID:  b.ServiceID.String(),
		StartsAt:   b.StartsAt,
		EndsAt:     b.EndsAt,
		Status:     string(b.Status),
		Price:      b.Price.StringFixed(2),
		Comment:    b.Comment,
	}
}

func loggingInterceptor(log logrus.FieldLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		entry := log.WithFields(logrus.Fields{
			"method":   info.FullMethod,
			"code":     status.Code(err).String(),
			"duration": time.Since(start).String(),
		})
		if err != nil && status.Code(err) == codes.Internal {
			entry.WithError(err).Error("rpc failed")
		} else {
			entry.Debug("rpc handled")
		}
		return resp, err
	}
}

func recoverInterceptor(log logrus.FieldLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(logrus.Fields{"method": info.FullMethod, "panic": r}).Error("rpc panic")
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}
