package listing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/reborn-market/reborn-api/internal/apperr"
	"github.com/reborn-market/reborn-api/internal/db"
	"github.com/reborn-market/reborn-api/internal/middleware"
	"github.com/reborn-market/reborn-api/internal/models"
	"github.com/reborn-market/reborn-api/internal/services/notification"
	"github.com/reborn-market/reborn-api/internal/store"
)

// ListingService модерация объявлений администратором
type ListingService struct {
	store    store.Store
	notifier *notification.Dispatcher
}

// NewListingService создает новый экземпляр ListingService
func NewListingService(st store.Store, notifier *notification.Dispatcher) *ListingService {
	return &ListingService{store: st, notifier: notifier}
}

// SetStatus меняет статус объявления и уведомляет продавца
func (s *ListingService) SetStatus(ctx context.Context, me models.Identity, id uuid.UUID, raw string) (*models.ListingSummary, error) {
	if !me.IsAdmin() {
		return nil, apperr.ErrForbidden
	}
	status := models.ListingStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !status.Valid() {
		return nil, apperr.ErrInvalidStatus
	}

	var (
		summary *models.ListingSummary
		ev      models.BroadcastEvent
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		l, err := tx.GetListingForUpdate(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.ErrNotFound
		}
		if err != nil {
			return err
		}
		if l.Status != status {
			if err := tx.SetListingStatus(ctx, id, status); err != nil {
				return err
			}
			l.Status = status
		}
		summary = l.Summary()

		msg := fmt.Sprintf("%q is now %s", l.Title, status)
		ev, err = s.notifier.Record(ctx, tx, notification.Notice{
			Recipient: l.SellerID,
			Type:      models.NotifListingStatus,
			ListingID: &l.ID,
			Title:     "Listing status changed",
			Message:   &msg,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Администратор %s установил статус %s объявлению %s", me.ID, status, id)
	s.notifier.Publish(ctx, ev)
	return summary, nil
}

// UpdateStatus PATCH /api/admin/listings/:id/status, тело {status}
func (s *ListingService) UpdateStatus(c fiber.Ctx) error {
	me, err := middleware.MustIdentity(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return apperr.ErrNotFound
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return apperr.ErrBadJSON
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	listing, err := s.SetStatus(ctx, me, id, body.Status)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "listing": listing})
}
