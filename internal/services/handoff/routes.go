package handoff

import (
	"github.com/gofiber/fiber/v3"
)

// SetupRoutes настраивает маршруты для QR-кодов
func (s *HandoffService) SetupRoutes(app *fiber.App, authMiddleware, optionalAuth fiber.Handler) {
	qr := app.Group("/api/qr")
	qr.Use(optionalAuth)
	qr.Post("/", s.ScanQR)

	complete := app.Group("/api/offers/complete")
	complete.Use(authMiddleware)
	complete.Post("/", s.CompleteOffer)
}
