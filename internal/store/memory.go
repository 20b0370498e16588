package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/reborn-market/reborn-api/internal/models"
)

// Memory хранилище в памяти процесса. Транзакции сериализуются одним мьютексом
// и работают над копией состояния, которая подменяет исходное только при успехе.
type Memory struct {
	mu    sync.Mutex
	state memState
}

var _ Store = (*Memory)(nil)

type memState struct {
	listings      map[uuid.UUID]models.Listing
	offers        map[uuid.UUID]models.Offer
	notifications []models.Notification
}

// NewMemory создает пустое хранилище
func NewMemory() *Memory {
	return &Memory{state: memState{
		listings: make(map[uuid.UUID]models.Listing),
		offers:   make(map[uuid.UUID]models.Offer),
	}}
}

func (s memState) clone() memState {
	c := memState{
		listings:      make(map[uuid.UUID]models.Listing, len(s.listings)),
		offers:        make(map[uuid.UUID]models.Offer, len(s.offers)),
		notifications: append([]models.Notification(nil), s.notifications...),
	}
	for k, v := range s.listings {
		c.listings[k] = v
	}
	for k, v := range s.offers {
		c.offers[k] = v
	}
	return c
}

// PutListing добавляет или заменяет объявление
func (m *Memory) PutListing(l models.Listing) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.listings[l.ID] = l
}

// PutOffer добавляет или заменяет предложение
func (m *Memory) PutOffer(o models.Offer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.Listing = nil
	m.state.offers[o.ID] = o
}

// PutNotification добавляет уведомление как есть
func (m *Memory) PutNotification(n models.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.notifications = append(m.state.notifications, n)
}

// Notifications возвращает копию всех уведомлений в порядке создания
func (m *Memory) Notifications() []models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Notification(nil), m.state.notifications...)
}

func (m *Memory) GetListing(_ context.Context, id uuid.UUID) (*models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.getListing(id)
}

func (m *Memory) GetOffer(_ context.Context, id uuid.UUID) (*models.Offer, *models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.getOffer(id)
}

func (m *Memory) FindOfferIDByToken(_ context.Context, token string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, o := range m.state.offers {
		if o.QRToken != nil && *o.QRToken == token {
			return id, nil
		}
	}
	return uuid.Nil, ErrNotFound
}

func (m *Memory) QRTokenExists(_ context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.tokenExists(token, uuid.Nil), nil
}

func (m *Memory) ListOffers(_ context.Context, q OfferQuery) ([]models.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Offer
	for _, o := range m.state.offers {
		if !m.state.matches(o, q) {
			continue
		}
		l := m.state.listings[o.ListingID]
		o.Listing = l.Summary()
		out = append(out, o)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if q.Order == OrderCreatedDesc {
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
		} else if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID.String() > b.ID.String()
	})

	if q.Cursor != nil {
		for i, o := range out {
			if o.ID == *q.Cursor {
				out = out[i+1:]
				break
			}
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s memState) matches(o models.Offer, q OfferQuery) bool {
	if q.PartyID != nil {
		switch q.Role {
		case models.ActorBuyer:
			if o.BuyerID != *q.PartyID {
				return false
			}
		case models.ActorSeller:
			if o.SellerID != *q.PartyID {
				return false
			}
		default:
			if o.BuyerID != *q.PartyID && o.SellerID != *q.PartyID {
				return false
			}
		}
	}
	if q.ListingID != nil && o.ListingID != *q.ListingID {
		return false
	}
	if q.Status != "" && o.Status != q.Status {
		return false
	}
	if q.Q != "" {
		needle := strings.ToLower(q.Q)
		title := strings.ToLower(s.listings[o.ListingID].Title)
		if !strings.Contains(title, needle) && !strings.Contains(strings.ToLower(o.MeetPlace), needle) {
			return false
		}
	}
	return true
}

func (m *Memory) ListNotifications(_ context.Context, userID uuid.UUID, limit int) ([]models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Notification
	// в обратном порядке вставки, чтобы при равном времени новые шли первыми
	for i := len(m.state.notifications) - 1; i >= 0; i-- {
		if n := m.state.notifications[i]; n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CountUnread(_ context.Context, userID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.state.notifications {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (m *Memory) OfferParties(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]models.OfferParties, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]models.OfferParties, len(ids))
	for _, id := range ids {
		if o, ok := m.state.offers[id]; ok {
			out[id] = models.OfferParties{ID: o.ID, BuyerID: o.BuyerID, SellerID: o.SellerID, ListingID: o.ListingID}
		}
	}
	return out, nil
}

func (m *Memory) ListingSellers(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]uuid.UUID, len(ids))
	for _, id := range ids {
		if l, ok := m.state.listings[id]; ok {
			out[id] = l.SellerID
		}
	}
	return out, nil
}

func (m *Memory) MarkRead(_ context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var n int64
	for i := range m.state.notifications {
		item := &m.state.notifications[i]
		if want[item.ID] && item.UserID == userID && !item.IsRead {
			item.IsRead = true
			n++
		}
	}
	return n, nil
}

func (m *Memory) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := &memTx{state: m.state.clone()}
	if err := fn(ctx, work); err != nil {
		return err
	}
	m.state = work.state
	return nil
}

type memTx struct {
	state memState
}

func (t *memTx) GetListingForUpdate(_ context.Context, id uuid.UUID) (*models.Listing, error) {
	return t.state.getListing(id)
}

func (t *memTx) GetOfferForUpdate(_ context.Context, id uuid.UUID) (*models.Offer, *models.Listing, error) {
	return t.state.getOffer(id)
}

func (t *memTx) QRTokenExists(_ context.Context, token string) (bool, error) {
	return t.state.tokenExists(token, uuid.Nil), nil
}

func (t *memTx) InsertOffer(_ context.Context, o *models.Offer) error {
	if _, ok := t.state.listings[o.ListingID]; !ok {
		return ErrNotFound
	}
	cp := *o
	cp.Listing = nil
	t.state.offers[o.ID] = cp
	return nil
}

func (t *memTx) UpdateOffer(_ context.Context, o *models.Offer, guard Guard) error {
	cur, ok := t.state.offers[o.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != guard.Status || cur.LastActor != guard.LastActor {
		return ErrConflict
	}
	if o.QRToken != nil && t.state.tokenExists(*o.QRToken, o.ID) {
		return ErrDuplicateToken
	}
	cp := *o
	cp.Listing = nil
	t.state.offers[o.ID] = cp
	return nil
}

func (t *memTx) SetListingStatus(_ context.Context, id uuid.UUID, status models.ListingStatus) error {
	l, ok := t.state.listings[id]
	if !ok {
		return ErrNotFound
	}
	l.Status = status
	t.state.listings[id] = l
	return nil
}

func (t *memTx) InsertNotification(_ context.Context, n *models.Notification) error {
	cp := *n
	cp.Audience = ""
	t.state.notifications = append(t.state.notifications, cp)
	return nil
}

func (s memState) getListing(id uuid.UUID) (*models.Listing, error) {
	l, ok := s.listings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &l, nil
}

func (s memState) getOffer(id uuid.UUID) (*models.Offer, *models.Listing, error) {
	o, ok := s.offers[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	l, ok := s.listings[o.ListingID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	return &o, &l, nil
}

func (s memState) tokenExists(token string, except uuid.UUID) bool {
	for id, o := range s.offers {
		if id != except && o.QRToken != nil && *o.QRToken == token {
			return true
		}
	}
	return false
}
