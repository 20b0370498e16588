package notification

import (
	"github.com/gofiber/fiber/v3"
)

// SetupRoutes настраивает маршруты для уведомлений.
// Группа потока регистрируется первой: ее streamAuth определяет пользователя
// до общего authMiddleware группы /api/notifications.
func (s *NotificationService) SetupRoutes(app *fiber.App, authMiddleware, streamAuth fiber.Handler) {
	// Поток событий; токен можно передать в ?token= для EventSource
	stream := app.Group("/api/notifications/stream")
	stream.Use(streamAuth)
	stream.Get("/", s.Stream)

	api := app.Group("/api/notifications")
	api.Use(authMiddleware)

	api.Get("/", s.GetNotifications)
	api.Patch("/", s.MarkReadHandler)
	api.Patch("/mark-read", s.MarkReadHandler)
}
