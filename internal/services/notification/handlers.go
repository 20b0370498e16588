package notification

import (
	"bufio"
	"context"
	"log"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/reborn-market/reborn-api/internal/db"
	"github.com/reborn-market/reborn-api/internal/middleware"
)

// GetNotifications GET /api/notifications?limit=&side=buyer|seller|all
func (s *NotificationService) GetNotifications(c fiber.Ctx) error {
	me, err := middleware.MustIdentity(c)
	if err != nil {
		return err
	}

	limit := listLimitDef
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	inbox, err := s.List(ctx, me, c.Query("side", "all"), limit)
	if err != nil {
		return err
	}
	return c.JSON(inbox)
}

// MarkReadHandler PATCH /api/notifications и /api/notifications/mark-read, тело {ids: [...]}
func (s *NotificationService) MarkReadHandler(c fiber.Ctx) error {
	me, err := middleware.MustIdentity(c)
	if err != nil {
		return err
	}

	var body struct {
		IDs []string `json:"ids"`
	}
	// нечитаемое тело равносильно пустому списку
	if len(c.Body()) > 0 {
		_ = c.Bind().JSON(&body)
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	if _, err := s.MarkRead(ctx, me, body.IDs); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true})
}

// Stream GET /api/notifications/stream, SSE-поток событий пользователя
func (s *NotificationService) Stream(c fiber.Ctx) error {
	me, err := middleware.MustIdentity(c)
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache, no-transform")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	session := NewSession(s.hub.Subscribe(me.ID), s.heartbeat)
	log.Printf("Пользователь %s открыл поток уведомлений, открытых потоков: %d", me.ID, s.hub.Count(me.ID))
	c.Response().SetBodyStreamWriter(func(w *bufio.Writer) {
		// fasthttp не сообщает об отключении клиента: оно обнаруживается по ошибке
		// записи, то есть не позже следующего heartbeat
		_ = session.Run(context.Background(), w)
	})
	return nil
}
