package auth

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	initdata "github.com/telegram-mini-apps/init-data-golang"

	"github.com/reborn-market/reborn-api/internal/apperr"
	"github.com/reborn-market/reborn-api/internal/config"
	"github.com/reborn-market/reborn-api/internal/db"
	"github.com/reborn-market/reborn-api/internal/middleware"
	"github.com/reborn-market/reborn-api/internal/models"
	"github.com/reborn-market/reborn-api/internal/store"
	"github.com/reborn-market/reborn-api/internal/utils"
)

// Срок жизни initData Telegram
const initDataTTL = 24 * time.Hour

// UserLookup находит зарегистрированного пользователя по ID Telegram
type UserLookup interface {
	IdentityByTelegramID(ctx context.Context, telegramID int64) (models.Identity, error)
}

// AuthService – определяет пользователя запроса
type AuthService struct {
	cfg        *config.Config
	jwtService *utils.JWTService
	users      UserLookup
}

// NewAuthService – конструктор AuthService
func NewAuthService(cfg *config.Config, users UserLookup) *AuthService {
	return &AuthService{
		cfg:        cfg,
		jwtService: utils.NewJWTService(cfg.JWTSecret),
		users:      users,
	}
}

// Resolve определяет пользователя по заголовку Authorization
// ("Bearer <jwt>" или "tma <initData>") либо по токену из query.
func (s *AuthService) Resolve(ctx context.Context, authorization, queryToken string) (models.Identity, error) {
	scheme, value, _ := strings.Cut(strings.TrimSpace(authorization), " ")
	value = strings.TrimSpace(value)

	switch {
	case strings.EqualFold(scheme, "Bearer") && value != "":
		return s.fromJWT(value)
	case strings.EqualFold(scheme, "tma") && value != "":
		return s.fromInitData(ctx, value)
	case queryToken != "":
		return s.fromJWT(queryToken)
	}
	return models.Identity{}, apperr.ErrUnauthorized
}

func (s *AuthService) fromJWT(token string) (models.Identity, error) {
	identity, err := s.jwtService.ExtractIdentity(token)
	if err != nil {
		return models.Identity{}, apperr.ErrUnauthorized
	}
	return identity, nil
}

func (s *AuthService) fromInitData(ctx context.Context, raw string) (models.Identity, error) {
	if s.cfg.TelegramBotToken == "" || s.users == nil {
		return models.Identity{}, apperr.ErrUnauthorized
	}
	if err := initdata.Validate(raw, s.cfg.TelegramBotToken, initDataTTL); err != nil {
		return models.Identity{}, apperr.ErrUnauthorized
	}
	data, err := initdata.Parse(raw)
	if err != nil || data.User.ID == 0 {
		return models.Identity{}, apperr.ErrUnauthorized
	}

	identity, err := s.users.IdentityByTelegramID(ctx, data.User.ID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Identity{}, apperr.ErrUnauthorized
	}
	if err != nil {
		return models.Identity{}, err
	}
	return identity, nil
}

// TelegramAuthHandler проверяет initData и выдает JWT уже зарегистрированному пользователю
func (s *AuthService) TelegramAuthHandler(c fiber.Ctx) error {
	var payload struct {
		InitData string `json:"init_data"`
	}
	if err := c.Bind().Body(&payload); err != nil || payload.InitData == "" {
		return apperr.ErrMissingFields
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	identity, err := s.fromInitData(ctx, payload.InitData)
	if err != nil {
		return err
	}

	jwtToken, err := s.jwtService.GenerateToken(identity.ID, identity.Role)
	if err != nil {
		log.Printf("Ошибка генерации JWT: %v", err)
		return err
	}

	return c.JSON(fiber.Map{
		"token": jwtToken,
		"user":  identity,
	})
}

// MeHandler возвращает пользователя текущего запроса
func (s *AuthService) MeHandler(c fiber.Ctx) error {
	identity, err := middleware.MustIdentity(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"user":      identity,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
