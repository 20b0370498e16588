package handoff

import (
	"github.com/gofiber/fiber/v3"

	"github.com/reborn-market/reborn-api/internal/apperr"
	"github.com/reborn-market/reborn-api/internal/db"
	"github.com/reborn-market/reborn-api/internal/middleware"
	"github.com/reborn-market/reborn-api/internal/models"
)

// ScanQR POST /api/qr, тело {code|qr|q}; авторизация необязательна
func (s *HandoffService) ScanQR(c fiber.Ctx) error {
	var body struct {
		Code string `json:"code"`
		QR   string `json:"qr"`
		Q    string `json:"q"`
	}
	// нечитаемое тело равносильно пустому коду
	if len(c.Body()) > 0 {
		_ = c.Bind().JSON(&body)
	}
	raw := body.Code
	if raw == "" {
		raw = body.QR
	}
	if raw == "" {
		raw = body.Q
	}

	var me *models.Identity
	if identity, ok := middleware.Identity(c); ok {
		me = &identity
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	route, err := s.Scan(ctx, me, raw)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.JSON(route)
}

// CompleteOffer POST /api/offers/complete, тело {token} или {url}
func (s *HandoffService) CompleteOffer(c fiber.Ctx) error {
	me, err := middleware.MustIdentity(c)
	if err != nil {
		return err
	}

	var body struct {
		Token string `json:"token"`
		URL   string `json:"url"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return apperr.ErrBadJSON
	}
	raw := body.Token
	if raw == "" {
		raw = body.URL
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	res, err := s.CompleteByToken(ctx, me, raw)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "offer": res.Offer, "listing": res.Listing})
}
