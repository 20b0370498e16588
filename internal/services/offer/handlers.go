package offer

import (
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/reborn-market/reborn-api/internal/apperr"
	"github.com/reborn-market/reborn-api/internal/db"
	"github.com/reborn-market/reborn-api/internal/middleware"
)

// CreateOffer POST /api/offers
func (s *OfferService) CreateOffer(c fiber.Ctx) error {
	me, err := middleware.MustIdentity(c)
	if err != nil {
		return err
	}

	var in CreateInput
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&in); err != nil {
			return apperr.ErrBadJSON
		}
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	offerID, err := s.Create(ctx, me, in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"offerId": offerID})
}

// GetOffer GET /api/offers/:id
func (s *OfferService) GetOffer(c fiber.Ctx) error {
	me, err := middleware.MustIdentity(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return apperr.ErrOfferNotFound
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	details, err := s.Get(ctx, me, id)
	if err != nil {
		return err
	}
	return c.JSON(details)
}

// UpdateOffer PATCH /api/offers/:id, тело {action, ...поля действия}
func (s *OfferService) UpdateOffer(c fiber.Ctx) error {
	me, err := middleware.MustIdentity(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return apperr.ErrOfferNotFound
	}
	cmd, err := ParseCommand(c.Body())
	if err != nil {
		return err
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	result, err := s.Apply(ctx, me, id, cmd)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "offer": result.Offer, "listing": result.Listing})
}

// ConfirmOffer POST /api/offers/:id/confirm, тело {token}; то же, что SCAN
func (s *OfferService) ConfirmOffer(c fiber.Ctx) error {
	me, err := middleware.MustIdentity(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return apperr.ErrOfferNotFound
	}

	var body struct {
		Token string `json:"token"`
	}
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&body); err != nil {
			return apperr.ErrBadJSON
		}
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	result, err := s.Apply(ctx, me, id, Scan{Token: body.Token})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "offer": result.Offer, "listing": result.Listing})
}

// GetMyOffers GET /api/offers/mine?role=buyer|seller|all&status=&q=
func (s *OfferService) GetMyOffers(c fiber.Ctx) error {
	me, err := middleware.MustIdentity(c)
	if err != nil {
		return err
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	items, err := s.Mine(ctx, me, MineFilter{
		Role:   c.Query("role", "buyer"),
		Status: c.Query("status"),
		Q:      c.Query("q"),
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"items": items})
}

// GetListingOffers GET /api/listings/:id/offers?status=&cursor=&limit=
func (s *OfferService) GetListingOffers(c fiber.Ctx) error {
	me, err := middleware.MustIdentity(c)
	if err != nil {
		return err
	}
	listingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return apperr.ErrNotFound
	}

	var cursor *uuid.UUID
	if raw := c.Query("cursor"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return apperr.BadRequest("INVALID_CURSOR")
		}
		cursor = &id
	}

	limit := listingLimitDef
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = max(n, 1)
		}
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	page, err := s.ListForListing(ctx, me, listingID, c.Query("status"), cursor, limit)
	if err != nil {
		return err
	}
	return c.JSON(page)
}

// GetPurchases GET /api/history/purchases
func (s *OfferService) GetPurchases(c fiber.Ctx) error {
	me, err := middleware.MustIdentity(c)
	if err != nil {
		return err
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	items, err := s.Purchases(ctx, me)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"items": items})
}
