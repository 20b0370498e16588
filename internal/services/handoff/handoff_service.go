package handoff

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reborn-market/reborn-api/internal/apperr"
	"github.com/reborn-market/reborn-api/internal/config"
	"github.com/reborn-market/reborn-api/internal/models"
	"github.com/reborn-market/reborn-api/internal/services/offer"
	"github.com/reborn-market/reborn-api/internal/store"
)

// TokenFinder ищет предложение по qr-токену
type TokenFinder interface {
	FindOfferIDByToken(ctx context.Context, token string) (uuid.UUID, error)
}

// HandoffService разбор QR-кодов и подтверждение передачи товара
type HandoffService struct {
	finder TokenFinder
	offers *offer.OfferService
	secret string
	debug  bool
	now    func() time.Time
}

// NewHandoffService создает новый экземпляр HandoffService
func NewHandoffService(cfg *config.Config, finder TokenFinder, offers *offer.OfferService) *HandoffService {
	return &HandoffService{
		finder: finder,
		offers: offers,
		secret: cfg.QR.Secret,
		debug:  cfg.QR.Debug,
		now:    time.Now,
	}
}

// Scan обрабатывает отсканированный код: навигация или подтверждение передачи
func (s *HandoffService) Scan(ctx context.Context, me *models.Identity, raw string) (*Route, error) {
	p, err := ParsePayload(raw)
	if s.debug {
		log.Printf("[QR] исходная строка=%q разбор=%v ошибка=%v", raw, p, err)
	}
	if err != nil {
		return nil, err
	}

	n := Normalize(p)
	if s.debug {
		log.Printf("[QR] действие=%s id=%s", n.Action, n.ID)
	}
	if err := Verify(n, s.secret, s.now()); err != nil {
		return nil, err
	}

	if !n.Completes() {
		return Resolve(me, n)
	}
	if me == nil {
		return nil, apperr.ErrUnauthorized
	}
	token := n.Token
	if token == "" {
		token = n.URL
	}
	res, err := s.CompleteByToken(ctx, *me, token)
	if err != nil {
		return nil, err
	}
	return &Route{OK: true, Action: ActionOfferComplete, Offer: res.Offer, Listing: res.Listing}, nil
}

// CompleteByToken находит предложение по токену и выполняет SCAN
func (s *HandoffService) CompleteByToken(ctx context.Context, me models.Identity, raw string) (*offer.Result, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, apperr.ErrTokenRequired
	}
	token := offer.ExtractToken(raw)
	if token == "" {
		return nil, apperr.ErrTokenInvalid
	}

	id, err := s.finder.FindOfferIDByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrTokenUnknown
	}
	if err != nil {
		return nil, err
	}
	return s.offers.Apply(ctx, me, id, offer.Scan{Token: token})
}
