package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/Leganyst/salon-crm/internal/apperr"
	"github.com/Leganyst/salon-crm/internal/calendar"
	"github.com/Leganyst/salon-crm/internal/model"
	"github.com/Leganyst/salon-crm/internal/repository"
)

const minPasswordLen = 8

type RegisterInput struct {
	SalonID     uuid.UUID
	Email       string
	Password    string
	DisplayName string
	Role        string
	TelegramID  *int64
}

// Profile — сотрудник вместе с ролью.
type Profile struct {
	ID          uuid.UUID `json:"id"`
	SalonID     uuid.UUID `json:"salon_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	TelegramID  *int64    `json:"telegram_id,omitempty"`
	Role        string    `json:"role"`
}

// Claims — содержимое access-токена админки.
type Claims struct {
	Salon string `json:"salon"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

func (c *Claims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

func (c *Claims) SalonID() (uuid.UUID, error) {
	return uuid.Parse(c.Salon)
}

// IdentityService — учётки сотрудников: регистрация, вход, роли.
type IdentityService struct {
	db     *gorm.DB
	secret []byte
	ttl    time.Duration
	now    Clock
	log    logrus.FieldLogger
}

func NewIdentityService(db *gorm.DB, secret string, ttl time.Duration, log logrus.FieldLogger) *IdentityService {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &IdentityService{db: db, secret: []byte(secret), ttl: ttl, now: systemClock, log: log}
}

// Register создаёт сотрудника салона. Роль по умолчанию — master.
func (s *IdentityService) Register(ctx context.Context, in RegisterInput) (*Profile, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(in.Email))
	if err != nil {
		return nil, apperr.Validation("invalid email", err)
	}
	email := strings.ToLower(addr.Address)
	if len(in.Password) < minPasswordLen {
		return nil, apperr.Validation(fmt.Sprintf("password must be at least %d characters", minPasswordLen), nil)
	}
	if in.Role == "" {
		in.Role = model.RoleMaster
	}
	if model.RoleRank(in.Role) == 0 {
		return nil, apperr.Validation("unknown role", nil)
	}
	if _, err := loadSalon(ctx, s.db, in.SalonID); err != nil {
		return nil, err
	}

	users := repository.NewGormUserRepository(s.db)
	if _, err := users.FindByEmail(ctx, email); err == nil {
		return nil, apperr.Conflict("user with this email already exists", nil)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, dbErr("user", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperr.Internal("hash password", err)
	}
	u := &model.User{
		SalonID:      in.SalonID,
		Email:        email,
		PasswordHash: string(hash),
		DisplayName:  strings.TrimSpace(in.DisplayName),
		TelegramID:   in.TelegramID,
		IsActive:     true,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := repository.NewGormUserRepository(tx)
		if err := repo.Create(ctx, u); err != nil {
			return dbErr("create user", err)
		}
		return dbErr("set role", repo.SetRole(ctx, u.ID, in.Role))
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"salon_id": in.SalonID, "user_id": u.ID, "role": in.Role}).Info("user registered")
	return toProfile(u, in.Role), nil
}

// Login проверяет пароль и выдаёт подписанный токен.
func (s *IdentityService) Login(ctx context.Context, email, password string) (string, *Profile, error) {
	u, err := repository.NewGormUserRepository(s.db).FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil, apperr.Unauthorized("invalid email or password", nil)
	}
	if err != nil {
		return "", nil, dbErr("user", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", nil, apperr.Unauthorized("invalid email or password", nil)
	}
	if !u.IsActive {
		return "", nil, apperr.Forbidden("user is disabled", nil)
	}
	role, err := repository.NewGormUserRepository(s.db).GetRole(ctx, u.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil, dbErr("role", err)
	}

	now := s.now()
	claims := Claims{
		Salon: u.SalonID.String(),
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, apperr.Internal("sign token", err)
	}
	return token, toProfile(u, role), nil
}

// ParseToken проверяет подпись и срок действия токена.
func (s *IdentityService) ParseToken(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, apperr.Unauthorized("invalid token", err)
	}
	if _, err := claims.UserID(); err != nil {
		return nil, apperr.Unauthorized("invalid token subject", err)
	}
	if _, err := claims.SalonID(); err != nil {
		return nil, apperr.Unauthorized("invalid token salon", err)
	}
	return claims, nil
}

// Authenticate проверяет токен и сверяет его с текущим состоянием учётки:
// отключённый сотрудник теряет доступ сразу, роль берётся из базы, а не из токена.
func (s *IdentityService) Authenticate(ctx context.Context, raw string) (*Claims, error) {
	claims, err := s.ParseToken(raw)
	if err != nil {
		return nil, err
	}
	userID, _ := claims.UserID()
	users := repository.NewGormUserRepository(s.db)
	u, err := users.GetByID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Unauthorized("user not found", nil)
	}
	if err != nil {
		return nil, dbErr("user", err)
	}
	if !u.IsActive || u.SalonID.String() != claims.Salon {
		return nil, apperr.Unauthorized("user is disabled", nil)
	}
	role, err := users.GetRole(ctx, u.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, dbErr("role", err)
	}
	claims.Role = role
	return claims, nil
}

// SetRole меняет роль сотрудника своего салона.
func (s *IdentityService) SetRole(ctx context.Context, salonID, userID uuid.UUID, role string) (*Profile, error) {
	if model.RoleRank(role) == 0 {
		return nil, apperr.Validation("unknown role", nil)
	}
	users := repository.NewGormUserRepository(s.db)
	u, err := users.GetByID(ctx, userID)
	if err != nil {
		return nil, dbErr("user", err)
	}
	if u.SalonID != salonID {
		return nil, apperr.NotFound("user not found", nil)
	}
	if err := users.SetRole(ctx, u.ID, role); err != nil {
		return nil, dbErr("set role", err)
	}
	return toProfile(u, role), nil
}

func (s *IdentityService) GetProfile(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	users := repository.NewGormUserRepository(s.db)
	u, err := users.GetByID(ctx, userID)
	if err != nil {
		return nil, dbErr("user", err)
	}
	role, err := users.GetRole(ctx, u.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, dbErr("role", err)
	}
	return toProfile(u, role), nil
}

func (s *IdentityService) ListUsers(ctx context.Context, salonID uuid.UUID) ([]Profile, error) {
	users := repository.NewGormUserRepository(s.db)
	list, err := users.ListBySalon(ctx, salonID)
	if err != nil {
		return nil, dbErr("users", err)
	}
	out := make([]Profile, 0, len(list))
	for i := range list {
		role, err := users.GetRole(ctx, list[i].ID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, dbErr("role", err)
		}
		out = append(out, *toProfile(&list[i], role))
	}
	return out, nil
}

// ValidateTelegramUser распознаёт сотрудника, пишущего боту.
func (s *IdentityService) ValidateTelegramUser(ctx context.Context, telegramID int64) (*calendar.TelegramUser, error) {
	return calendar.ValidateTelegramUser(ctx, staffStore{db: s.db}, telegramID)
}

// staffStore — сотрудники с привязанным Telegram.
type staffStore struct {
	db *gorm.DB
}

func (st staffStore) FindByTelegramID(ctx context.Context, telegramID int64) (*calendar.TelegramUser, error) {
	users := repository.NewGormUserRepository(st.db)
	u, err := users.FindByTelegramID(ctx, telegramID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	role, err := users.GetRole(ctx, u.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	status := calendar.UserStatusActive
	if !u.IsActive {
		status = calendar.UserStatusInactive
	}
	return &calendar.TelegramUser{
		ID:         u.ID,
		SalonID:    u.SalonID,
		TelegramID: telegramID,
		Role:       role,
		Status:     status,
	}, nil
}

func toProfile(u *model.User, role string) *Profile {
	return &Profile{
		ID:          u.ID,
		SalonID:     u.SalonID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		TelegramID:  u.TelegramID,
		Role:        role,
	}
}
