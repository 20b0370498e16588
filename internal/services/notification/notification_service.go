package notification

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reborn-market/reborn-api/internal/broadcast"
	"github.com/reborn-market/reborn-api/internal/models"
	"github.com/reborn-market/reborn-api/internal/store"
)

const (
	listLimitDef = 10
	listLimitMax = 50
)

// NotificationService чтение уведомлений и поток событий пользователя
type NotificationService struct {
	store     store.Store
	hub       *broadcast.Hub
	heartbeat time.Duration
}

// NewNotificationService создает новый экземпляр NotificationService
func NewNotificationService(st store.Store, hub *broadcast.Hub, heartbeat time.Duration) *NotificationService {
	return &NotificationService{store: st, hub: hub, heartbeat: heartbeat}
}

// Inbox ответ списка уведомлений
type Inbox struct {
	Items  []models.Notification `json:"items"`
	Unread int                   `json:"unread"`
}

// ClampLimit ограничивает размер страницы диапазоном 1..50
func ClampLimit(n int) int {
	return min(max(n, 1), listLimitMax)
}

// List последние уведомления пользователя с вычисленной стороной сделки.
// side: buyer, seller или all; фильтр применяется после выборки limit записей.
func (s *NotificationService) List(ctx context.Context, me models.Identity, side string, limit int) (*Inbox, error) {
	items, err := s.store.ListNotifications(ctx, me.ID, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	unread, err := s.store.CountUnread(ctx, me.ID)
	if err != nil {
		return nil, err
	}

	var offerIDs []uuid.UUID
	for _, n := range items {
		if n.OfferID != nil {
			offerIDs = append(offerIDs, *n.OfferID)
		}
	}
	parties := map[uuid.UUID]models.OfferParties{}
	if len(offerIDs) > 0 {
		if parties, err = s.store.OfferParties(ctx, offerIDs); err != nil {
			return nil, err
		}
	}

	// listingId берется из уведомления или из его предложения
	seen := map[uuid.UUID]bool{}
	var listingIDs []uuid.UUID
	for i := range items {
		n := &items[i]
		if n.ListingID == nil && n.OfferID != nil {
			if p, ok := parties[*n.OfferID]; ok {
				id := p.ListingID
				n.ListingID = &id
			}
		}
		if n.ListingID != nil && !seen[*n.ListingID] {
			seen[*n.ListingID] = true
			listingIDs = append(listingIDs, *n.ListingID)
		}
	}
	sellers := map[uuid.UUID]uuid.UUID{}
	if len(listingIDs) > 0 {
		if sellers, err = s.store.ListingSellers(ctx, listingIDs); err != nil {
			return nil, err
		}
	}

	for i := range items {
		items[i].Audience = audience(items[i], me.ID, parties, sellers)
	}

	want := filterSide(side)
	out := make([]models.Notification, 0, len(items))
	for _, n := range items {
		if want == "" || n.Audience == want {
			out = append(out, n)
		}
	}
	return &Inbox{Items: out, Unread: unread}, nil
}

func audience(n models.Notification, me uuid.UUID, parties map[uuid.UUID]models.OfferParties, sellers map[uuid.UUID]uuid.UUID) models.Actor {
	if n.OfferID != nil {
		if p, ok := parties[*n.OfferID]; ok {
			if p.BuyerID == me {
				return models.ActorBuyer
			}
			return models.ActorSeller
		}
	}
	if n.ListingID != nil {
		if seller, ok := sellers[*n.ListingID]; ok && seller == me {
			return models.ActorSeller
		}
	}
	return ""
}

func filterSide(side string) models.Actor {
	switch strings.ToLower(side) {
	case "buyer":
		return models.ActorBuyer
	case "seller":
		return models.ActorSeller
	}
	return ""
}

// MarkRead отмечает уведомления пользователя прочитанными.
// Некорректные идентификаторы пропускаются, чужие уведомления не меняются.
func (s *NotificationService) MarkRead(ctx context.Context, me models.Identity, ids []string) (int64, error) {
	var parsed []uuid.UUID
	for _, raw := range ids {
		if id, err := uuid.Parse(strings.TrimSpace(raw)); err == nil {
			parsed = append(parsed, id)
		}
	}
	if len(parsed) == 0 {
		return 0, nil
	}
	return s.store.MarkRead(ctx, me.ID, parsed)
}
