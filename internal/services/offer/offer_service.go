package offer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reborn-market/reborn-api/internal/apperr"
	"github.com/reborn-market/reborn-api/internal/models"
	"github.com/reborn-market/reborn-api/internal/services/notification"
	"github.com/reborn-market/reborn-api/internal/store"
	"github.com/reborn-market/reborn-api/internal/token"
)

const (
	mineLimit        = 100
	listingLimitDef  = 20
	listingLimitMax  = 100
	tokenRetryBudget = 3
)

// OfferService машина состояний предложений
type OfferService struct {
	store    store.Store
	tokens   *token.Generator
	notifier *notification.Dispatcher
	now      func() time.Time
}

// NewOfferService создает новый экземпляр OfferService
func NewOfferService(st store.Store, tokens *token.Generator, notifier *notification.Dispatcher) *OfferService {
	return &OfferService{store: st, tokens: tokens, notifier: notifier, now: time.Now}
}

// CreateInput тело запроса на создание предложения
type CreateInput struct {
	ListingID string  `json:"listingId"`
	MeetPlace string  `json:"meetPlace"`
	MeetTime  string  `json:"meetTime"`
	Note      *string `json:"note"`
}

// Result состояние предложения и объявления после перехода
type Result struct {
	Offer   *models.Offer          `json:"offer"`
	Listing *models.ListingSummary `json:"listing"`
}

// Details предложение с флагами прав
type Details struct {
	Offer *models.Offer    `json:"offer"`
	Meta  models.OfferMeta `json:"meta"`
}

// MineFilter фильтр списка "мои предложения"
type MineFilter struct {
	Role   string
	Status string
	Q      string
}

// ListingPage страница предложений по объявлению
type ListingPage struct {
	Offers     []models.Offer `json:"offers"`
	NextCursor *uuid.UUID     `json:"nextCursor"`
}

// Create создает предложение покупателя в статусе REQUESTED
func (s *OfferService) Create(ctx context.Context, me models.Identity, in CreateInput) (uuid.UUID, error) {
	place := strings.TrimSpace(in.MeetPlace)
	if strings.TrimSpace(in.ListingID) == "" || place == "" || strings.TrimSpace(in.MeetTime) == "" {
		return uuid.Nil, apperr.ErrMissingFields
	}
	meetAt, err := ParseMeetTime(strings.TrimSpace(in.MeetTime))
	if err != nil {
		return uuid.Nil, apperr.ErrMeetTimeInvalid
	}
	listingID, err := uuid.Parse(strings.TrimSpace(in.ListingID))
	if err != nil {
		return uuid.Nil, apperr.ErrNotFound
	}

	now := s.now().UTC()
	o := &models.Offer{
		ID:        uuid.New(),
		ListingID: listingID,
		BuyerID:   me.ID,
		Status:    models.OfferRequested,
		MeetPlace: place,
		MeetTime:  meetAt,
		Note:      in.Note,
		LastActor: models.ActorBuyer,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var ev models.BroadcastEvent
	err = s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		l, err := tx.GetListingForUpdate(ctx, listingID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.ErrNotFound
		}
		if err != nil {
			return err
		}
		if l.SellerID == me.ID {
			return apperr.ErrCannotBuyOwn
		}
		if l.Status != models.ListingActive {
			return apperr.ErrListingNotAvailable
		}

		o.SellerID = l.SellerID
		if err := tx.InsertOffer(ctx, o); err != nil {
			return err
		}

		ev, err = s.notifier.Record(ctx, tx, notification.Notice{
			Recipient: l.SellerID,
			Type:      models.NotifOfferRequested,
			OfferID:   &o.ID,
			ListingID: &l.ID,
			Title:     "New purchase request",
			Message:   strPtr(fmt.Sprintf("%s meet: %s @ %s", l.Title, o.MeetPlace, o.MeetTime.Format(time.RFC3339))),
		})
		return err
	})
	if err != nil {
		return uuid.Nil, err
	}

	s.notifier.Publish(ctx, ev)
	return o.ID, nil
}

// Get возвращает предложение и флаги прав для участника или администратора
func (s *OfferService) Get(ctx context.Context, me models.Identity, id uuid.UUID) (*Details, error) {
	o, l, err := s.store.GetOffer(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrOfferNotFound
	}
	if err != nil {
		return nil, err
	}
	if !isParty(o, me) {
		return nil, apperr.ErrForbidden
	}

	o.Listing = l.Summary()
	meta := Meta(o, l, me)
	return &Details{Offer: visibleTo(o, me), Meta: meta}, nil
}

// Apply выполняет одну команду над предложением в одной транзакции.
// Событие публикуется после коммита; ошибка публикации переход не отменяет.
func (s *OfferService) Apply(ctx context.Context, me models.Identity, id uuid.UUID, cmd Command) (*Result, error) {
	var (
		result Result
		ev     models.BroadcastEvent
		err    error
	)
	for attempt := 0; attempt < tokenRetryBudget; attempt++ {
		err = s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
			o, l, err := tx.GetOfferForUpdate(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				return apperr.ErrOfferNotFound
			}
			if err != nil {
				return err
			}
			if !isParty(o, me) {
				return apperr.ErrForbidden
			}

			d, err := Decide(o, l, me, cmd, s.now().UTC())
			if err != nil {
				return err
			}

			current := o
			if d.Offer != nil {
				if d.IssueToken {
					tok, err := s.tokens.New(ctx, tx)
					if err != nil {
						return err
					}
					d.Offer.QRToken = &tok
				}
				if err := tx.UpdateOffer(ctx, d.Offer, store.GuardOf(o)); err != nil {
					if errors.Is(err, store.ErrConflict) {
						return apperr.ErrInvalidState
					}
					return err
				}
				current = d.Offer
			}
			if d.ListingStatus != nil && *d.ListingStatus != l.Status {
				if err := tx.SetListingStatus(ctx, l.ID, *d.ListingStatus); err != nil {
					return err
				}
				l.Status = *d.ListingStatus
			}

			ev, err = s.notifier.Record(ctx, tx, d.Notice)
			if err != nil {
				return err
			}

			result = Result{Offer: current, Listing: l.Summary()}
			return nil
		})
		if !errors.Is(err, store.ErrDuplicateToken) {
			break
		}
	}
	if errors.Is(err, store.ErrDuplicateToken) {
		log.Printf("❌ Не удалось выдать qr-токен для предложения %s за %d попытки", id, tokenRetryBudget)
		return nil, apperr.ErrInternal
	}
	if err != nil {
		return nil, err
	}

	s.notifier.Publish(ctx, ev)
	result.Offer = visibleTo(result.Offer, me)
	return &result, nil
}

// Mine список предложений пользователя, новые изменения сначала
func (s *OfferService) Mine(ctx context.Context, me models.Identity, f MineFilter) ([]models.MyOffer, error) {
	q := store.OfferQuery{PartyID: &me.ID, Q: strings.TrimSpace(f.Q), Limit: mineLimit}
	switch strings.ToLower(f.Role) {
	case "", "buyer":
		q.Role = models.ActorBuyer
	case "seller":
		q.Role = models.ActorSeller
	default:
		// all: покупатель или продавец
	}
	if f.Status != "" {
		st := models.OfferStatus(strings.ToUpper(f.Status))
		if !st.Valid() {
			return nil, apperr.ErrInvalidStatus
		}
		q.Status = st
	}

	offers, err := s.store.ListOffers(ctx, q)
	if err != nil {
		return nil, err
	}

	items := make([]models.MyOffer, 0, len(offers))
	for i := range offers {
		o := &offers[i]
		role := models.ActorSeller
		if o.BuyerID == me.ID {
			role = models.ActorBuyer
		}
		items = append(items, models.MyOffer{Offer: *visibleTo(o, me), MyRole: role})
	}
	return items, nil
}

// ListForListing предложения по объявлению для продавца или администратора
func (s *OfferService) ListForListing(ctx context.Context, me models.Identity, listingID uuid.UUID, status string, cursor *uuid.UUID, limit int) (*ListingPage, error) {
	l, err := s.store.GetListing(ctx, listingID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if l.SellerID != me.ID && !me.IsAdmin() {
		return nil, apperr.ErrForbidden
	}

	if limit <= 0 {
		limit = listingLimitDef
	}
	if limit > listingLimitMax {
		limit = listingLimitMax
	}

	q := store.OfferQuery{ListingID: &listingID, Cursor: cursor, Limit: limit + 1, Order: store.OrderCreatedDesc}
	// неизвестный статус игнорируется
	if st := models.OfferStatus(strings.ToUpper(status)); st.Valid() {
		q.Status = st
	}

	offers, err := s.store.ListOffers(ctx, q)
	if err != nil {
		return nil, err
	}

	page := &ListingPage{Offers: offers}
	if len(offers) > limit {
		page.Offers = offers[:limit]
		next := page.Offers[limit-1].ID
		page.NextCursor = &next
	}
	if page.Offers == nil {
		page.Offers = []models.Offer{}
	}
	return page, nil
}

// Purchases завершенные покупки пользователя
func (s *OfferService) Purchases(ctx context.Context, me models.Identity) ([]models.Offer, error) {
	offers, err := s.store.ListOffers(ctx, store.OfferQuery{
		PartyID: &me.ID,
		Role:    models.ActorBuyer,
		Status:  models.OfferCompleted,
	})
	if err != nil {
		return nil, err
	}
	if offers == nil {
		offers = []models.Offer{}
	}
	return offers, nil
}

func isParty(o *models.Offer, me models.Identity) bool {
	return me.ID == o.BuyerID || me.ID == o.SellerID || me.IsAdmin()
}

// visibleTo скрывает qrToken от всех, кроме продавца и администратора:
// покупатель получает токен только сканированием QR на встрече
func visibleTo(o *models.Offer, me models.Identity) *models.Offer {
	if o == nil || o.QRToken == nil || me.ID == o.SellerID || me.IsAdmin() {
		return o
	}
	cp := *o
	cp.QRToken = nil
	return &cp
}
