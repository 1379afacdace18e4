package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Leganyst/salon-crm/internal/apperr"
	"github.com/Leganyst/salon-crm/internal/model"
	"github.com/Leganyst/salon-crm/internal/repository"
)

type PaymentInput struct {
	SalonID   uuid.UUID
	ClientID  uuid.UUID
	BookingID *uuid.UUID
	Amount    decimal.Decimal
	Method    model.PaymentMethod
}

type PaymentService struct {
	db  *gorm.DB
	now Clock
	log logrus.FieldLogger
}

func NewPaymentService(db *gorm.DB, log logrus.FieldLogger) *PaymentService {
	return &PaymentService{db: db, now: systemClock, log: log}
}

// Record принимает оплату вне визита (предоплата, сертификат). Баллами так платить нельзя.
func (s *PaymentService) Record(ctx context.Context, in PaymentInput) (*model.Payment, error) {
	if !in.Amount.IsPositive() {
		return nil, apperr.Validation("amount must be positive", nil)
	}
	if !in.Method.Valid() || in.Method == model.PaymentMethodPoints {
		return nil, apperr.Validation("invalid payment method", nil)
	}
	if _, err := repository.NewGormClientRepository(s.db).GetByID(ctx, in.SalonID, in.ClientID); err != nil {
		return nil, dbErr("client", err)
	}
	if in.BookingID != nil {
		b, err := repository.NewGormBookingRepository(s.db).GetByID(ctx, in.SalonID, *in.BookingID)
		if err != nil {
			return nil, dbErr("booking", err)
		}
		if b.ClientID != in.ClientID {
			return nil, apperr.Validation("booking belongs to another client", nil)
		}
	}
	p := &model.Payment{
		SalonID:   in.SalonID,
		BookingID: in.BookingID,
		ClientID:  in.ClientID,
		Amount:    in.Amount.Round(2),
		Method:    in.Method,
		Status:    model.PaymentStatusPaid,
		PaidAt:    s.now(),
	}
	if err := repository.NewGormPaymentRepository(s.db).Create(ctx, p); err != nil {
		return nil, dbErr("create payment", err)
	}
	return p, nil
}

// Refund возвращает платёж один раз. Для оплаты баллами баллы возвращаются в журнал.
func (s *PaymentService) Refund(ctx context.Context, salonID, paymentID uuid.UUID) (*model.Payment, error) {
	now := s.now()
	var out *model.Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payments := repository.NewGormPaymentRepository(tx)
		p, err := payments.GetByID(ctx, salonID, paymentID)
		if err != nil {
			return dbErr("payment", err)
		}
		ok, err := payments.MarkRefunded(ctx, p.ID, now)
		if err != nil {
			return dbErr("refund payment", err)
		}
		if !ok {
			return apperr.Conflict("payment is already refunded", nil)
		}
		if p.Method == model.PaymentMethodPoints {
			if err := repository.NewGormLoyaltyRepository(tx).Append(ctx, &model.LoyaltyTransaction{
				SalonID:   salonID,
				ClientID:  p.ClientID,
				BookingID: p.BookingID,
				Points:    p.Amount.IntPart(),
				Kind:      model.LoyaltyKindAdjust,
				Comment:   "возврат оплаты баллами",
			}); err != nil {
				return dbErr("loyalty refund", err)
			}
		}
		p.Status = model.PaymentStatusRefunded
		p.RefundedAt = &now
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"salon_id": salonID, "payment_id": paymentID}).Info("payment refunded")
	return out, nil
}

func (s *PaymentService) ListByBooking(ctx context.Context, salonID, bookingID uuid.UUID) ([]model.Payment, error) {
	list, err := repository.NewGormPaymentRepository(s.db).ListByBooking(ctx, salonID, bookingID)
	if err != nil {
		return nil, dbErr("payments", err)
	}
	return list, nil
}

func (s *PaymentService) ListByPeriod(ctx context.Context, salonID uuid.UUID, from, to time.Time) ([]model.Payment, error) {
	if !to.After(from) {
		return nil, apperr.Validation("end must be after start", nil)
	}
	list, err := repository.NewGormPaymentRepository(s.db).ListByPeriod(ctx, salonID, from, to)
	if err != nil {
		return nil, dbErr("payments", err)
	}
	return list, nil
}
