package listing

import (
	"github.com/gofiber/fiber/v3"
)

// SetupRoutes настраивает маршруты модерации объявлений
func (s *ListingService) SetupRoutes(app *fiber.App, authMiddleware fiber.Handler) {
	// Только для администраторов, роль проверяется в сервисе
	admin := app.Group("/api/admin/listings")
	admin.Use(authMiddleware)

	admin.Patch("/:id/status", s.UpdateStatus)
}
