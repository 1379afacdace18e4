package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Leganyst/salon-crm/internal/apperr"
	"github.com/Leganyst/salon-crm/internal/calendar"
	"github.com/Leganyst/salon-crm/internal/model"
	"github.com/Leganyst/salon-crm/internal/repository"
)

// LoyaltyService ведёт журнал баллов. Баланс всегда считается как сумма журнала.
type LoyaltyService struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

func NewLoyaltyService(db *gorm.DB, log logrus.FieldLogger) *LoyaltyService {
	return &LoyaltyService{db: db, log: log}
}

func (s *LoyaltyService) Balance(ctx context.Context, salonID, clientID uuid.UUID) (int64, error) {
	if _, err := repository.NewGormClientRepository(s.db).GetByID(ctx, salonID, clientID); err != nil {
		return 0, dbErr("client", err)
	}
	balance, err := repository.NewGormLoyaltyRepository(s.db).Balance(ctx, salonID, clientID)
	if err != nil {
		return 0, dbErr("loyalty balance", err)
	}
	return balance, nil
}

func (s *LoyaltyService) Earn(ctx context.Context, salonID, clientID uuid.UUID, points int64, bookingID *uuid.UUID, comment string) (int64, error) {
	if points <= 0 {
		return 0, apperr.Validation("points must be positive", nil)
	}
	return s.apply(ctx, salonID, clientID, points, model.LoyaltyKindEarn, bookingID, comment)
}

// Redeem списывает баллы. Баланс не может уйти в минус.
func (s *LoyaltyService) Redeem(ctx context.Context, salonID, clientID uuid.UUID, points int64, bookingID *uuid.UUID, comment string) (int64, error) {
	if points <= 0 {
		return 0, apperr.Validation("points must be positive", nil)
	}
	return s.apply(ctx, salonID, clientID, -points, model.LoyaltyKindRedeem, bookingID, comment)
}

// Adjust — ручная корректировка администратором, знак задаёт направление.
func (s *LoyaltyService) Adjust(ctx context.Context, salonID, clientID uuid.UUID, delta int64, comment string) (int64, error) {
	if delta == 0 {
		return 0, apperr.Validation("adjustment must not be zero", nil)
	}
	return s.apply(ctx, salonID, clientID, delta, model.LoyaltyKindAdjust, nil, comment)
}

func (s *LoyaltyService) apply(ctx context.Context, salonID, clientID uuid.UUID, delta int64, kind model.LoyaltyKind, bookingID *uuid.UUID, comment string) (int64, error) {
	var balance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repository.NewGormClientRepository(tx).GetByID(ctx, salonID, clientID); err != nil {
			return dbErr("client", err)
		}
		if err := lockClient(ctx, tx, clientID); err != nil {
			return dbErr("client lock", err)
		}
		ledger := repository.NewGormLoyaltyRepository(tx)
		current, err := ledger.Balance(ctx, salonID, clientID)
		if err != nil {
			return dbErr("loyalty balance", err)
		}
		if current+delta < 0 {
			return apperr.Validation(fmt.Sprintf("insufficient loyalty points: balance %d", current), nil)
		}
		if err := ledger.Append(ctx, &model.LoyaltyTransaction{
			SalonID:   salonID,
			ClientID:  clientID,
			BookingID: bookingID,
			Points:    delta,
			Kind:      kind,
			Comment:   comment,
		}); err != nil {
			return dbErr("loyalty append", err)
		}
		if kind == model.LoyaltyKindRedeem {
			if err := recordEvent(ctx, tx, salonID, model.EventTypeLoyaltyRedeemed, bookingID, nil,
				fmt.Sprintf("client=%s points=%d", clientID, -delta)); err != nil {
				return err
			}
		}
		balance = current + delta
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.log.WithFields(logrus.Fields{"salon_id": salonID, "client_id": clientID, "kind": kind, "points": delta}).Debug("loyalty updated")
	return balance, nil
}

func (s *LoyaltyService) Ledger(ctx context.Context, salonID, clientID uuid.UUID, page calendar.PageRequest) (calendar.Page[model.LoyaltyTransaction], error) {
	items, total, err := repository.NewGormLoyaltyRepository(s.db).List(ctx, salonID, clientID, page)
	if err != nil {
		return calendar.Page[model.LoyaltyTransaction]{}, dbErr("loyalty ledger", err)
	}
	return calendar.NewPage(items, page, total), nil
}
