package middleware

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v3"

	"github.com/reborn-market/reborn-api/internal/apperr"
)

// ErrorHandler переводит ошибки в ответ {message: CODE}.
// Неожиданные ошибки логируются и отдаются как INTERNAL_ERROR.
func ErrorHandler(c fiber.Ctx, err error) error {
	if e, ok := apperr.As(err); ok {
		return c.Status(e.Status).JSON(e.Body())
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"message": fe.Message})
	}

	log.Printf("❌ %s %s: %v", c.Method(), c.Path(), err)
	return c.Status(apperr.ErrInternal.Status).JSON(apperr.ErrInternal.Body())
}
