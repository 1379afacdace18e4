package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/Leganyst/salon-crm/internal/apperr"
	"github.com/Leganyst/salon-crm/internal/calendar"
	"github.com/Leganyst/salon-crm/internal/export"
	"github.com/Leganyst/salon-crm/internal/model"
	"github.com/Leganyst/salon-crm/internal/repository"
)

type ClientInput struct {
	Name     string
	Phone    string
	Email    string
	Birthday *time.Time
	Tags     []string
	Notes    string
	Source   model.Channel
}

// ClientHistory — карточка клиента для админки.
type ClientHistory struct {
	Client         *model.Client   `json:"client"`
	Bookings       []model.Booking `json:"bookings"`
	LoyaltyBalance int64           `json:"loyalty_balance"`
	TotalSpent     decimal.Decimal `json:"total_spent"`
}

type ImportResult struct {
	Created int                  `json:"created"`
	Updated int                  `json:"updated"`
	Errors  []export.ImportError `json:"errors"`
}

type ClientService struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

func NewClientService(db *gorm.DB, log logrus.FieldLogger) *ClientService {
	return &ClientService{db: db, log: log}
}

func validateClient(in *ClientInput) error {
	in.Name = normalizeName(in.Name)
	if in.Name == "" {
		return apperr.Validation("name is required", nil)
	}
	in.Phone = repository.NormalizePhone(in.Phone)
	if in.Phone != "" && (len(in.Phone) < 10 || len(in.Phone) > 15) {
		return apperr.Validation("phone must contain 10 to 15 digits", nil)
	}
	in.Email = strings.TrimSpace(in.Email)
	if in.Email != "" {
		addr, err := mail.ParseAddress(in.Email)
		if err != nil {
			return apperr.Validation("invalid email", err)
		}
		in.Email = strings.ToLower(addr.Address)
	}
	in.Tags = uniqueTags(in.Tags)
	return nil
}

func uniqueTags(tags ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range tags {
		for _, t := range list {
			t = strings.ToLower(strings.TrimSpace(t))
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func birthdayOf(t *time.Time) *datatypes.Date {
	if t == nil {
		return nil
	}
	d := repository.DateOf(*t)
	return &d
}

func (s *ClientService) ensurePhoneFree(ctx context.Context, salonID uuid.UUID, phone string, self uuid.UUID) error {
	if phone == "" {
		return nil
	}
	existing, err := repository.NewGormClientRepository(s.db).FindByPhone(ctx, salonID, phone)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return dbErr("client", err)
	}
	if existing.ID != self {
		return apperr.Conflict("client with this phone already exists", nil)
	}
	return nil
}

func (s *ClientService) Create(ctx context.Context, salonID uuid.UUID, in ClientInput) (*model.Client, error) {
	if err := validateClient(&in); err != nil {
		return nil, err
	}
	if err := s.ensurePhoneFree(ctx, salonID, in.Phone, uuid.Nil); err != nil {
		return nil, err
	}
	c := &model.Client{
		SalonID:  salonID,
		Name:     in.Name,
		Phone:    in.Phone,
		Email:    in.Email,
		Birthday: birthdayOf(in.Birthday),
		Tags:     pq.StringArray(in.Tags),
		Notes:    in.Notes,
		Source:   in.Source,
	}
	if in.Source == model.ChannelWhatsApp {
		c.WhatsAppID = in.Phone
	}
	if err := repository.NewGormClientRepository(s.db).Create(ctx, c); err != nil {
		return nil, dbErr("create client", err)
	}
	return c, nil
}

func (s *ClientService) Update(ctx context.Context, salonID, id uuid.UUID, in ClientInput) (*model.Client, error) {
	if err := validateClient(&in); err != nil {
		return nil, err
	}
	repo := repository.NewGormClientRepository(s.db)
	c, err := repo.GetByID(ctx, salonID, id)
	if err != nil {
		return nil, dbErr("client", err)
	}
	if err := s.ensurePhoneFree(ctx, salonID, in.Phone, c.ID); err != nil {
		return nil, err
	}
	c.Name = in.Name
	c.Phone = in.Phone
	c.Email = in.Email
	c.Birthday = birthdayOf(in.Birthday)
	c.Tags = pq.StringArray(in.Tags)
	c.Notes = in.Notes
	if err := repo.Save(ctx, c); err != nil {
		return nil, dbErr("update client", err)
	}
	return c, nil
}

func (s *ClientService) Get(ctx context.Context, salonID, id uuid.UUID) (*model.Client, error) {
	c, err := repository.NewGormClientRepository(s.db).GetByID(ctx, salonID, id)
	if err != nil {
		return nil, dbErr("client", err)
	}
	return c, nil
}

func (s *ClientService) List(ctx context.Context, f repository.ClientFilter) (calendar.Page[model.Client], error) {
	items, total, err := repository.NewGormClientRepository(s.db).List(ctx, f)
	if err != nil {
		return calendar.Page[model.Client]{}, dbErr("clients", err)
	}
	return calendar.NewPage(items, f.Page, total), nil
}

func (s *ClientService) Block(ctx context.Context, salonID, id uuid.UUID) error {
	return dbErr("client", repository.NewGormClientRepository(s.db).SetStatus(ctx, salonID, id, model.ClientStatusBlocked))
}

func (s *ClientService) Unblock(ctx context.Context, salonID, id uuid.UUID) error {
	return dbErr("client", repository.NewGormClientRepository(s.db).SetStatus(ctx, salonID, id, model.ClientStatusActive))
}

// Delete удаляет клиента без истории. Клиентов с записями можно только заблокировать.
func (s *ClientService) Delete(ctx context.Context, salonID, id uuid.UUID) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.Booking{}).Where("client_id = ?", id).Count(&n).Error; err != nil {
		return dbErr("bookings", err)
	}
	if n > 0 {
		return apperr.Conflict("client has bookings, block instead of deleting", nil)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("client_id = ?", id).Delete(&model.ChatMessage{}).Error; err != nil {
			return dbErr("chat messages", err)
		}
		if err := tx.Where("client_id = ?", id).Delete(&model.ConversationContext{}).Error; err != nil {
			return dbErr("conversation context", err)
		}
		if err := tx.Where("client_id = ?", id).Delete(&model.LoyaltyTransaction{}).Error; err != nil {
			return dbErr("loyalty", err)
		}
		return dbErr("client", repository.NewGormClientRepository(tx).Delete(ctx, salonID, id))
	})
}

// FindOrCreateByChannel находит клиента по идентификатору в мессенджере или
// заводит нового. Второй результат — клиент только что создан.
func (s *ClientService) FindOrCreateByChannel(ctx context.Context, salonID uuid.UUID, channel model.Channel, externalID, displayName string) (*model.Client, bool, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, false, apperr.Validation("external id is required", nil)
	}
	repo := repository.NewGormClientRepository(s.db)
	c, err := repo.FindByChannel(ctx, salonID, channel, externalID)
	if err == nil {
		return c, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, dbErr("client", err)
	}

	name := normalizeName(displayName)
	if name == "" {
		name = "Гость"
	}
	c = &model.Client{SalonID: salonID, Name: name, Source: channel}
	switch channel {
	case model.ChannelTelegram:
		id, err := strconv.ParseInt(externalID, 10, 64)
		if err != nil {
			return nil, false, apperr.Validation("invalid telegram id", err)
		}
		c.TelegramID = &id
	case model.ChannelInstagram:
		c.InstagramID = externalID
	case model.ChannelWhatsApp:
		c.WhatsAppID = repository.NormalizePhone(externalID)
		// номер WhatsApp — это телефон; если такой клиент уже есть, привязываем канал к нему
		if existing, err := repo.FindByPhone(ctx, salonID, c.WhatsAppID); err == nil {
			existing.WhatsAppID = c.WhatsAppID
			if err := repo.Save(ctx, existing); err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return s.findByChannel(ctx, repo, salonID, channel, externalID)
				}
				return nil, false, dbErr("client", err)
			}
			return existing, false, nil
		}
		c.Phone = c.WhatsAppID
	default:
		return nil, false, apperr.Validation(fmt.Sprintf("unsupported channel %q", channel), nil)
	}
	if err := repo.Create(ctx, c); err != nil {
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, false, dbErr("create client", err)
		}
		// параллельный апдейт из того же чата успел создать клиента раньше
		return s.findByChannel(ctx, repo, salonID, channel, externalID)
	}
	s.log.WithFields(logrus.Fields{"salon_id": salonID, "client_id": c.ID, "channel": channel}).Info("client registered from messenger")
	return c, true, nil
}

func (s *ClientService) findByChannel(ctx context.Context, repo repository.ClientRepository, salonID uuid.UUID, channel model.Channel, externalID string) (*model.Client, bool, error) {
	c, err := repo.FindByChannel(ctx, salonID, channel, externalID)
	if err != nil {
		return nil, false, dbErr("client", err)
	}
	return c, false, nil
}

// AttachPhone сохраняет телефон, которым клиент поделился в мессенджере. Если в
// салоне уже есть клиент с этим номером, дубликат вливается в него.
func (s *ClientService) AttachPhone(ctx context.Context, salonID, clientID uuid.UUID, phone string) (*model.Client, error) {
	phone = repository.NormalizePhone(phone)
	if len(phone) < 10 || len(phone) > 15 {
		return nil, apperr.Validation("phone must contain 10 to 15 digits", nil)
	}
	repo := repository.NewGormClientRepository(s.db)
	existing, err := repo.FindByPhone(ctx, salonID, phone)
	switch {
	case err == nil && existing.ID != clientID:
		return s.Merge(ctx, salonID, existing.ID, clientID)
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, dbErr("client", err)
	}
	c, err := repo.GetByID(ctx, salonID, clientID)
	if err != nil {
		return nil, dbErr("client", err)
	}
	c.Phone = phone
	if err := repo.Save(ctx, c); err != nil {
		return nil, dbErr("client", err)
	}
	return c, nil
}

// Merge переносит всё, что связано с dropID, на keepID и удаляет дубликат.
func (s *ClientService) Merge(ctx context.Context, salonID, keepID, dropID uuid.UUID) (*model.Client, error) {
	if keepID == dropID {
		return nil, apperr.Validation("cannot merge client with itself", nil)
	}
	var kept *model.Client
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		clients := repository.NewGormClientRepository(tx)
		keep, err := clients.GetByID(ctx, salonID, keepID)
		if err != nil {
			return dbErr("client", err)
		}
		drop, err := clients.GetByID(ctx, salonID, dropID)
		if err != nil {
			return dbErr("client", err)
		}

		if err := repository.NewGormBookingRepository(tx).ReassignClient(ctx, dropID, keepID); err != nil {
			return dbErr("reassign bookings", err)
		}
		if err := repository.NewGormPaymentRepository(tx).ReassignClient(ctx, dropID, keepID); err != nil {
			return dbErr("reassign payments", err)
		}
		if err := repository.NewGormLoyaltyRepository(tx).ReassignClient(ctx, dropID, keepID); err != nil {
			return dbErr("reassign loyalty", err)
		}
		if err := repository.NewGormConversationRepository(tx).ReassignClient(ctx, dropID, keepID); err != nil {
			return dbErr("reassign conversations", err)
		}

		mergeClientFields(keep, drop)
		if err := clients.Delete(ctx, salonID, dropID); err != nil {
			return dbErr("delete duplicate", err)
		}
		if err := clients.Save(ctx, keep); err != nil {
			return dbErr("save client", err)
		}
		kept = keep
		return recordEvent(ctx, tx, salonID, model.EventTypeClientMerged, nil, nil,
			fmt.Sprintf("keep=%s drop=%s", keepID, dropID))
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"salon_id": salonID, "keep_id": keepID, "drop_id": dropID}).Info("clients merged")
	return kept, nil
}

// mergeClientFields дополняет пустые поля keep данными из drop.
func mergeClientFields(keep, drop *model.Client) {
	if keep.Phone == "" {
		keep.Phone = drop.Phone
	}
	if keep.Email == "" {
		keep.Email = drop.Email
	}
	if keep.TelegramID == nil {
		keep.TelegramID = drop.TelegramID
	}
	if keep.InstagramID == "" {
		keep.InstagramID = drop.InstagramID
	}
	if keep.WhatsAppID == "" {
		keep.WhatsAppID = drop.WhatsAppID
	}
	if keep.Birthday == nil {
		keep.Birthday = drop.Birthday
	}
	if drop.Notes != "" && drop.Notes != keep.Notes {
		keep.Notes = strings.TrimSpace(keep.Notes + "\n" + drop.Notes)
	}
	keep.Tags = pq.StringArray(uniqueTags(keep.Tags, drop.Tags))
	if drop.LastVisitAt != nil && (keep.LastVisitAt == nil || drop.LastVisitAt.After(*keep.LastVisitAt)) {
		keep.LastVisitAt = drop.LastVisitAt
	}
}

func (s *ClientService) History(ctx context.Context, salonID, clientID uuid.UUID, limit int) (*ClientHistory, error) {
	c, err := s.Get(ctx, salonID, clientID)
	if err != nil {
		return nil, err
	}
	bookings, _, err := repository.NewGormBookingRepository(s.db).List(ctx, repository.BookingFilter{
		SalonID:  salonID,
		ClientID: &clientID,
		Page:     calendar.PageRequest{Page: 1, PageSize: limit},
	})
	if err != nil {
		return nil, dbErr("bookings", err)
	}
	balance, err := repository.NewGormLoyaltyRepository(s.db).Balance(ctx, salonID, clientID)
	if err != nil {
		return nil, dbErr("loyalty balance", err)
	}
	spent, err := repository.NewGormPaymentRepository(s.db).TotalPaidByClient(ctx, clientID)
	if err != nil {
		return nil, dbErr("payments", err)
	}
	return &ClientHistory{Client: c, Bookings: bookings, LoyaltyBalance: balance, TotalSpent: spent}, nil
}

// Import заводит клиентов из разобранного файла. Совпадение по телефону обновляет
// существующего клиента.
func (s *ClientService) Import(ctx context.Context, salonID uuid.UUID, rows []export.ClientRow) (*ImportResult, error) {
	res := &ImportResult{Errors: []export.ImportError{}}
	repo := repository.NewGormClientRepository(s.db)
	for _, row := range rows {
		in := ClientInput{
			Name:     row.Name,
			Phone:    row.Phone,
			Email:    row.Email,
			Birthday: row.Birthday,
			Tags:     row.Tags,
			Notes:    row.Notes,
			Source:   model.ChannelImport,
		}
		if err := validateClient(&in); err != nil {
			res.Errors = append(res.Errors, export.ImportError{Row: row.Row, Field: "row", Message: apperr.PublicMessage(err)})
			continue
		}
		existing, err := repo.FindByPhone(ctx, salonID, in.Phone)
		switch {
		case err == nil:
			existing.Name = in.Name
			if in.Email != "" {
				existing.Email = in.Email
			}
			if in.Birthday != nil {
				existing.Birthday = birthdayOf(in.Birthday)
			}
			existing.Tags = pq.StringArray(uniqueTags(existing.Tags, in.Tags))
			if in.Notes != "" {
				existing.Notes = in.Notes
			}
			if err := repo.Save(ctx, existing); err != nil {
				return nil, dbErr("import client", err)
			}
			res.Updated++
		case errors.Is(err, gorm.ErrRecordNotFound):
			if _, err := s.Create(ctx, salonID, in); err != nil {
				res.Errors = append(res.Errors, export.ImportError{Row: row.Row, Field: "row", Message: apperr.PublicMessage(err)})
				continue
			}
			res.Created++
		default:
			return nil, dbErr("client", err)
		}
	}
	s.log.WithFields(logrus.Fields{"salon_id": salonID, "created": res.Created, "updated": res.Updated, "errors": len(res.Errors)}).Info("clients imported")
	return res, nil
}
