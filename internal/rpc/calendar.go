package rpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
)

const calendarServiceName = "salon.calendar.v1.CalendarService"

type Slot struct {
	EmployeeID   string    `json:"employee_id"`
	EmployeeName string    `json:"employee_name"`
	ServiceID    string    `json:"service_id"`
	StartsAt     time.Time `json:"starts_at"`
	EndsAt       time.Time `json:"ends_at"`
}

type Booking struct {
	ID         string    `json:"id"`
	SalonID    string    `json:"salon_id"`
	ClientID   string    `json:"client_id"`
	EmployeeID string    `json:"employee_id"`
	ServiceID  string    `json:"service_id"`
	StartsAt   time.Time `json:"starts_at"`
	EndsAt     time.Time `json:"ends_at"`
	Status     string    `json:"status"`
	Price      string    `json:"price"`
	Comment    string    `json:"comment,omitempty"`
}

type ListFreeSlotsRequest struct {
	SalonID    string    `json:"salon_id"`
	ServiceID  string    `json:"service_id"`
	EmployeeID string    `json:"employee_id,omitempty"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Page       int32     `json:"page,omitempty"`
	PageSize   int32     `json:"page_size,omitempty"`
}

type ListFreeSlotsResponse struct {
	Slots      []Slot `json:"slots"`
	TotalCount int32  `json:"total_count"`
	HasNext    bool   `json:"has_next"`
}

type CreateBookingRequest struct {
	SalonID    string    `json:"salon_id"`
	ClientID   string    `json:"client_id"`
	ServiceID  string    `json:"service_id"`
	EmployeeID string    `json:"employee_id"`
	StartsAt   time.Time `json:"starts_at"`
	Comment    string    `json:"comment,omitempty"`
	// Пусто — запись создаёт сам клиент через бота.
	StaffUserID string `json:"staff_user_id,omitempty"`
}

type CreateBookingResponse struct {
	Booking Booking `json:"booking"`
}

type CancelBookingRequest struct {
	SalonID   string `json:"salon_id"`
	BookingID string `json:"booking_id"`
	Reason    string `json:"reason,omitempty"`
	ByStaff   bool   `json:"by_staff,omitempty"`
}

type CancelBookingResponse struct {
	Booking Booking `json:"booking"`
}

type BulkCancelEmployeeBookingsRequest struct {
	SalonID    string    `json:"salon_id"`
	EmployeeID string    `json:"employee_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Reason     string    `json:"reason,omitempty"`
}

type AffectedBooking struct {
	BookingID        string    `json:"booking_id"`
	ClientID         string    `json:"client_id"`
	ClientName       string    `json:"client_name"`
	ClientTelegramID int64     `json:"client_telegram_id,omitempty"`
	StartsAt         time.Time `json:"starts_at"`
}

type BulkCancelEmployeeBookingsResponse struct {
	CancelledCount int32             `json:"cancelled_count"`
	Affected       []AffectedBooking `json:"affected"`
}

// CalendarServer — серверная сторона salon.calendar.v1.CalendarService.
type CalendarServer interface {
	ListFreeSlots(context.Context, *ListFreeSlotsRequest) (*ListFreeSlotsResponse, error)
	CreateBooking(context.Context, *CreateBookingRequest) (*CreateBookingResponse, error)
	CancelBooking(context.Context, *CancelBookingRequest) (*CancelBookingResponse, error)
	BulkCancelEmployeeBookings(context.Context, *BulkCancelEmployeeBookingsRequest) (*BulkCancelEmployeeBookingsResponse, error)
}

func RegisterCalendarServer(s grpc.ServiceRegistrar, srv CalendarServer) {
	s.RegisterService(&CalendarServiceDesc, srv)
}

// unaryHandler собирает grpc.MethodHandler для метода с запросом Req.
func unaryHandler[Req any, Resp any](method string, call func(CalendarServer, context.Context, *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + calendarServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CalendarServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CalendarServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var CalendarServiceDesc = grpc.ServiceDesc{
	ServiceName: calendarServiceName,
	HandlerType: (*CalendarServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ListFreeSlots",
			Handler:    unaryHandler("ListFreeSlots", CalendarServer.ListFreeSlots),
		},
		{
			MethodName: "CreateBooking",
			Handler:    unaryHandler("CreateBooking", CalendarServer.CreateBooking),
		},
		{
			MethodName: "CancelBooking",
			Handler:    unaryHandler("CancelBooking", CalendarServer.CancelBooking),
		},
		{
			MethodName: "BulkCancelEmployeeBookings",
			Handler:    unaryHandler("BulkCancelEmployeeBookings", CalendarServer.BulkCancelEmployeeBookings),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "salon/calendar/v1/calendar.proto",
}

// CalendarClient — клиент для бот-шлюза и тестов.
type CalendarClient struct {
	cc grpc.ClientConnInterface
}

func NewCalendarClient(cc grpc.ClientConnInterface) *CalendarClient {
	return &CalendarClient{cc: cc}
}

func (c *CalendarClient) invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+calendarServiceName+"/"+method, in, out, opts...)
}

func (c *CalendarClient) ListFreeSlots(ctx context.Context, in *ListFreeSlotsRequest, opts ...grpc.CallOption) (*ListFreeSlotsResponse, error) {
	out := new(ListFreeSlotsResponse)
	if err := c.invoke(ctx, "ListFreeSlots", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CalendarClient) CreateBooking(ctx context.Context, in *CreateBookingRequest, opts ...grpc.CallOption) (*CreateBookingResponse, error) {
	out := new(CreateBookingResponse)
	if err := c.invoke(ctx, "CreateBooking", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CalendarClient) CancelBooking(ctx context.Context, in *CancelBookingRequest, opts ...grpc.CallOption) (*CancelBookingResponse, error) {
	out := new(CancelBookingResponse)
	if err := c.invoke(ctx, "CancelBooking", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CalendarClient) BulkCancelEmployeeBookings(ctx context.Context, in *BulkCancelEmployeeBookingsRequest, opts ...grpc.CallOption) (*BulkCancelEmployeeBookingsResponse, error) {
	out := new(BulkCancelEmployeeBookingsResponse)
	if err := c.invoke(ctx, "BulkCancelEmployeeBookings", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
