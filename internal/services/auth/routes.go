package auth

import (
	"github.com/gofiber/fiber/v3"

	"github.com/reborn-market/reborn-api/internal/middleware"
)

// SetupRoutes регистрирует маршруты в Fiber
func (s *AuthService) SetupRoutes(app *fiber.App) {
	app.Post("/api/auth/telegram", s.TelegramAuthHandler)

	// Защищенные маршруты
	protected := app.Group("/api/me")
	protected.Use(middleware.AuthMiddleware(s))

	// Профиль текущего пользователя
	protected.Get("/", s.MeHandler)
}
