package middleware

import (
	"context"

	"github.com/gofiber/fiber/v3"

	"github.com/reborn-market/reborn-api/internal/apperr"
	"github.com/reborn-market/reborn-api/internal/db"
	"github.com/reborn-market/reborn-api/internal/models"
)

const identityKey = "identity"

// Resolver определяет пользователя по заголовку Authorization и токену из query
type Resolver interface {
	Resolve(ctx context.Context, authorization, queryToken string) (models.Identity, error)
}

// AuthMiddleware требует аутентифицированного пользователя.
// Учитывается только заголовок Authorization.
func AuthMiddleware(resolver Resolver) fiber.Handler {
	return authenticate(resolver, false)
}

// StreamAuth как AuthMiddleware, но принимает и ?token=: EventSource не умеет
// передавать заголовки. Используется только для потока уведомлений.
func StreamAuth(resolver Resolver) fiber.Handler {
	return authenticate(resolver, true)
}

func authenticate(resolver Resolver, allowQuery bool) fiber.Handler {
	return func(c fiber.Ctx) error {
		// пользователь уже определен внешней группой
		if _, ok := Identity(c); ok {
			return c.Next()
		}

		var queryToken string
		if allowQuery {
			queryToken = c.Query("token")
		}

		ctx, cancel := db.GetContext()
		defer cancel()

		identity, err := resolver.Resolve(ctx, c.Get(fiber.HeaderAuthorization), queryToken)
		if err != nil {
			return err
		}

		// Добавляем пользователя в контекст
		c.Locals(identityKey, identity)
		return c.Next()
	}
}

// OptionalAuth определяет пользователя, если передан заголовок, но не требует его
func OptionalAuth(resolver Resolver) fiber.Handler {
	return func(c fiber.Ctx) error {
		ctx, cancel := db.GetContext()
		defer cancel()

		if identity, err := resolver.Resolve(ctx, c.Get(fiber.HeaderAuthorization), ""); err == nil {
			c.Locals(identityKey, identity)
		}
		return c.Next()
	}
}

// Identity возвращает пользователя запроса
func Identity(c fiber.Ctx) (models.Identity, bool) {
	identity, ok := c.Locals(identityKey).(models.Identity)
	return identity, ok
}

// MustIdentity как Identity, но возвращает UNAUTHORIZED при отсутствии пользователя
func MustIdentity(c fiber.Ctx) (models.Identity, error) {
	identity, ok := Identity(c)
	if !ok {
		return models.Identity{}, apperr.ErrUnauthorized
	}
	return identity, nil
}
