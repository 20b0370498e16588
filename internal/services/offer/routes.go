package offer

import (
	"github.com/gofiber/fiber/v3"
)

// SetupRoutes настраивает маршруты для API предложений
func (s *OfferService) SetupRoutes(app *fiber.App, authMiddleware fiber.Handler) {
	// Группа для API предложений
	api := app.Group("/api/offers")

	// Защищенные маршруты (требуют авторизации)
	api.Use(authMiddleware)

	api.Post("/", s.CreateOffer)

	// mine регистрируется раньше /:id
	api.Get("/mine", s.GetMyOffers)

	api.Get("/:id", s.GetOffer)
	api.Patch("/:id", s.UpdateOffer)
	api.Post("/:id/confirm", s.ConfirmOffer)

	// Предложения по объявлению для продавца
	listings := app.Group("/api/listings")
	listings.Use(authMiddleware)
	listings.Get("/:id/offers", s.GetListingOffers)

	// История покупок
	history := app.Group("/api/history")
	history.Use(authMiddleware)
	history.Get("/purchases", s.GetPurchases)
}
