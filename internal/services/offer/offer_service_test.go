package offer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reborn-market/reborn-api/internal/apperr"
	"github.com/reborn-market/reborn-api/internal/broadcast"
	"github.com/reborn-market/reborn-api/internal/models"
	"github.com/reborn-market/reborn-api/internal/services/notification"
	"github.com/reborn-market/reborn-api/internal/store"
	"github.com/reborn-market/reborn-api/internal/token"
)

type harness struct {
	svc     *OfferService
	mem     *store.Memory
	hub     *broadcast.Hub
	p       parties
	listing models.Listing
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := store.NewMemory()
	hub := broadcast.NewHub()
	t.Cleanup(hub.Shutdown)

	svc := NewOfferService(mem, token.NewGenerator(), notification.NewDispatcher(mem, hub))
	svc.now = func() time.Time { return clock }

	p := newParties()
	l := models.Listing{ID: uuid.New(), SellerID: p.seller.ID, Status: models.ListingActive, Title: "Bike", Price: 1500, CreatedAt: clock, UpdatedAt: clock}
	mem.PutListing(l)
	return &harness{svc: svc, mem: mem, hub: hub, p: p, listing: l}
}

func (h *harness) create(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := h.svc.Create(context.Background(), h.p.buyer, CreateInput{
		ListingID: h.listing.ID.String(),
		MeetPlace: "Main gate",
		MeetTime:  clock.Add(time.Hour).Format(time.RFC3339),
	})
	require.NoError(t, err)
	return id
}

func (h *harness) listingStatus(t *testing.T) models.ListingStatus {
	t.Helper()
	l, err := h.mem.GetListing(context.Background(), h.listing.ID)
	require.NoError(t, err)
	return l.Status
}

func (h *harness) notificationsFor(userID uuid.UUID, typ models.NotificationType) []models.Notification {
	var out []models.Notification
	for _, n := range h.mem.Notifications() {
		if n.UserID == userID && n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

func TestCreateOffer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub := h.hub.Subscribe(h.p.seller.ID)
	defer sub.Close()

	id := h.create(t)

	o, _, err := h.mem.GetOffer(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.OfferRequested, o.Status)
	assert.Equal(t, models.ActorBuyer, o.LastActor)
	assert.Equal(t, h.p.seller.ID, o.SellerID)
	assert.Nil(t, o.QRToken)

	require.Len(t, h.notificationsFor(h.p.seller.ID, models.NotifOfferRequested), 1)

	select {
	case payload := <-sub.Events():
		assert.Contains(t, string(payload), string(models.NotifOfferRequested))
	case <-time.After(time.Second):
		t.Fatal("event was not published")
	}
}

func TestCreateOfferValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	meet := clock.Add(time.Hour).Format(time.RFC3339)

	_, err := h.svc.Create(ctx, h.p.buyer, CreateInput{ListingID: h.listing.ID.String(), MeetTime: meet})
	assertCode(t, err, "MISSING_FIELDS")

	_, err = h.svc.Create(ctx, h.p.buyer, CreateInput{ListingID: h.listing.ID.String(), MeetPlace: "Gate", MeetTime: "soon"})
	assertCode(t, err, "MEET_TIME_INVALID")

	_, err = h.svc.Create(ctx, h.p.buyer, CreateInput{ListingID: uuid.NewString(), MeetPlace: "Gate", MeetTime: meet})
	assertCode(t, err, "NOT_FOUND")

	_, err = h.svc.Create(ctx, h.p.seller, CreateInput{ListingID: h.listing.ID.String(), MeetPlace: "Gate", MeetTime: meet})
	assertCode(t, err, "CANNOT_BUY_OWN")

	sold := h.listing
	sold.Status = models.ListingSold
	h.mem.PutListing(sold)
	_, err = h.svc.Create(ctx, h.p.buyer, CreateInput{ListingID: h.listing.ID.String(), MeetPlace: "Gate", MeetTime: meet})
	assertCode(t, err, "LISTING_NOT_AVAILABLE")

	assert.Empty(t, h.mem.Notifications())
}

func TestFullHandoff(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t)

	_, err := h.svc.Apply(ctx, h.p.seller, id, Reoffer{MeetPlace: "Library", MeetTime: clock.Add(2 * time.Hour).Format(time.RFC3339)})
	require.NoError(t, err)

	res, err := h.svc.Apply(ctx, h.p.buyer, id, Accept{})
	require.NoError(t, err)
	assert.Equal(t, models.OfferAccepted, res.Offer.Status)
	assert.Nil(t, res.Offer.QRToken, "buyer must not see the token")
	assert.Equal(t, models.ListingPending, res.Listing.Status)

	details, err := h.svc.Get(ctx, h.p.seller, id)
	require.NoError(t, err)
	require.NotNil(t, details.Offer.QRToken)
	qr := *details.Offer.QRToken
	assert.Len(t, qr, 12)
	assert.True(t, details.Meta.CanClose)

	buyerView, err := h.svc.Get(ctx, h.p.buyer, id)
	require.NoError(t, err)
	assert.Nil(t, buyerView.Offer.QRToken)
	assert.True(t, buyerView.Meta.CanScan)

	res, err = h.svc.Apply(ctx, h.p.buyer, id, Scan{Token: "https://app.example/qr?t=" + qr})
	require.NoError(t, err)
	assert.Equal(t, models.OfferCompleted, res.Offer.Status)
	assert.Nil(t, res.Offer.QRToken)
	assert.NotNil(t, res.Offer.QRScannedAt)
	assert.Equal(t, models.ListingSold, h.listingStatus(t))

	assert.Len(t, h.notificationsFor(h.p.seller.ID, models.NotifOfferCompleted), 1)
	assert.Len(t, h.notificationsFor(h.p.buyer.ID, models.NotifOfferReoffer), 1)
	assert.Len(t, h.notificationsFor(h.p.seller.ID, models.NotifOfferAccepted), 1)

	purchases, err := h.svc.Purchases(ctx, h.p.buyer)
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	assert.Equal(t, id, purchases[0].ID)
}

func TestRejectWithReason(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t)

	res, err := h.svc.Apply(ctx, h.p.seller, id, Reject{Reason: "too low"})
	require.NoError(t, err)
	assert.Equal(t, models.OfferRejected, res.Offer.Status)
	require.NotNil(t, res.Offer.RejectReason)
	assert.Equal(t, "too low", *res.Offer.RejectReason)
	assert.Equal(t, models.ListingActive, h.listingStatus(t))

	notes := h.notificationsFor(h.p.buyer.ID, models.NotifOfferRejected)
	require.Len(t, notes, 1)
	require.NotNil(t, notes[0].Message)
	assert.Contains(t, *notes[0].Message, "too low")
}

func TestCloseOnSoldListingChangesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t)
	_, err := h.svc.Apply(ctx, h.p.seller, id, Accept{})
	require.NoError(t, err)

	sold := h.listing
	sold.Status = models.ListingSold
	h.mem.PutListing(sold)
	before, _, err := h.mem.GetOffer(ctx, id)
	require.NoError(t, err)
	notes := len(h.mem.Notifications())

	_, err = h.svc.Apply(ctx, h.p.seller, id, Close{})
	assertCode(t, err, "ALREADY_SOLD")

	after, _, err := h.mem.GetOffer(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Len(t, h.mem.Notifications(), notes)
}

func TestCloseAcceptedOffer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t)
	_, err := h.svc.Apply(ctx, h.p.seller, id, Accept{})
	require.NoError(t, err)

	res, err := h.svc.Apply(ctx, h.p.seller, id, Close{})
	require.NoError(t, err)
	assert.Equal(t, models.OfferAccepted, res.Offer.Status)
	assert.Equal(t, models.ListingSold, res.Listing.Status)
	assert.Len(t, h.notificationsFor(h.p.buyer.ID, models.NotifOfferClosed), 1)
}

func TestScanMismatchLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t)
	_, err := h.svc.Apply(ctx, h.p.seller, id, Accept{})
	require.NoError(t, err)
	before, _, err := h.mem.GetOffer(ctx, id)
	require.NoError(t, err)

	_, err = h.svc.Apply(ctx, h.p.buyer, id, Scan{Token: "notthetoken0"})
	assertCode(t, err, "TOKEN_MISMATCH")

	after, _, err := h.mem.GetOffer(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, models.ListingPending, h.listingStatus(t))
	assert.Empty(t, h.notificationsFor(h.p.seller.ID, models.NotifOfferCompleted))
}

func TestCancelReleasesListing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t)
	_, err := h.svc.Apply(ctx, h.p.seller, id, Accept{})
	require.NoError(t, err)

	_, err = h.svc.Apply(ctx, h.p.buyer, id, Cancel{})
	assertCode(t, err, "ONLY_SELLER_OR_ADMIN")

	res, err := h.svc.Apply(ctx, h.p.seller, id, Cancel{})
	require.NoError(t, err)
	assert.Equal(t, models.OfferCancelled, res.Offer.Status)
	assert.Nil(t, res.Offer.QRToken)
	assert.Equal(t, models.ListingActive, h.listingStatus(t))
	assert.Len(t, h.notificationsFor(h.p.buyer.ID, models.NotifOfferCancelled), 1)
}

func TestApplyAccessChecks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t)

	_, err := h.svc.Apply(ctx, h.p.seller, uuid.New(), Accept{})
	assertCode(t, err, "OFFER_NOT_FOUND")

	_, err = h.svc.Apply(ctx, h.p.stranger, id, Accept{})
	assertCode(t, err, "FORBIDDEN")

	_, err = h.svc.Get(ctx, h.p.stranger, id)
	assertCode(t, err, "FORBIDDEN")

	_, err = h.svc.Apply(ctx, h.p.buyer, id, Accept{})
	assertCode(t, err, "NOT_YOUR_TURN")
}

func TestConcurrentAcceptSingleWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t)

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
		errs []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Apply(ctx, h.p.seller, id, Accept{})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			errs = append(errs, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	for _, err := range errs {
		assert.True(t, apperr.Is(err, "INVALID_STATE") || apperr.Is(err, "NOT_YOUR_TURN"), "unexpected %v", err)
	}
	assert.Len(t, h.notificationsFor(h.p.buyer.ID, models.NotifOfferAccepted), 1)
}

func TestMine(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t)

	items, err := h.svc.Mine(ctx, h.p.buyer, MineFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].ID)
	assert.Equal(t, models.ActorBuyer, items[0].MyRole)
	require.NotNil(t, items[0].Listing)
	assert.Equal(t, "Bike", items[0].Listing.Title)

	items, err = h.svc.Mine(ctx, h.p.buyer, MineFilter{Role: "seller"})
	require.NoError(t, err)
	assert.Empty(t, items)

	items, err = h.svc.Mine(ctx, h.p.seller, MineFilter{Role: "all", Status: "requested"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.ActorSeller, items[0].MyRole)

	items, err = h.svc.Mine(ctx, h.p.seller, MineFilter{Role: "seller", Q: "gate"})
	require.NoError(t, err)
	assert.Len(t, items, 1)

	_, err = h.svc.Mine(ctx, h.p.buyer, MineFilter{Status: "LOST"})
	assertCode(t, err, "INVALID_STATUS")
}

func TestListForListingPaging(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		h.mem.PutOffer(models.Offer{
			ID: uuid.New(), ListingID: h.listing.ID, BuyerID: uuid.New(), SellerID: h.p.seller.ID,
			Status: models.OfferRequested, MeetPlace: "Gate", MeetTime: clock.Add(time.Hour),
			LastActor: models.ActorBuyer, CreatedAt: clock.Add(time.Duration(i) * time.Minute), UpdatedAt: clock,
		})
	}

	_, err := h.svc.ListForListing(ctx, h.p.buyer, h.listing.ID, "", nil, 10)
	assertCode(t, err, "FORBIDDEN")
	_, err = h.svc.ListForListing(ctx, h.p.seller, uuid.New(), "", nil, 10)
	assertCode(t, err, "NOT_FOUND")

	page, err := h.svc.ListForListing(ctx, h.p.seller, h.listing.ID, "", nil, 2)
	require.NoError(t, err)
	require.Len(t, page.Offers, 2)
	require.NotNil(t, page.NextCursor)
	assert.True(t, page.Offers[0].CreatedAt.After(page.Offers[1].CreatedAt))

	page, err = h.svc.ListForListing(ctx, h.p.admin, h.listing.ID, "bogus", page.NextCursor, 2)
	require.NoError(t, err)
	assert.Len(t, page.Offers, 1)
	assert.Nil(t, page.NextCursor)
}

func TestCancelSiblingKeepsListingPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	accepted := h.create(t)
	sibling, err := h.svc.Create(ctx, h.p.stranger, CreateInput{
		ListingID: h.listing.ID.String(),
		MeetPlace: "Library",
		MeetTime:  clock.Add(2 * time.Hour).Format(time.RFC3339),
	})
	require.NoError(t, err)

	_, err = h.svc.Apply(ctx, h.p.seller, accepted, Accept{})
	require.NoError(t, err)
	require.Equal(t, models.ListingPending, h.listingStatus(t))

	res, err := h.svc.Apply(ctx, h.p.seller, sibling, Cancel{})
	require.NoError(t, err)
	assert.Equal(t, models.OfferCancelled, res.Offer.Status)
	assert.Equal(t, models.ListingPending, h.listingStatus(t))

	o, _, err := h.mem.GetOffer(ctx, accepted)
	require.NoError(t, err)
	assert.Equal(t, models.OfferAccepted, o.Status)
}

// collidingStore отвечает ErrDuplicateToken на первые collisions записей с токеном
type collidingStore struct {
	store.Store
	collisions int
}

func (s *collidingStore) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, &collidingTx{Tx: tx, s: s})
	})
}

type collidingTx struct {
	store.Tx
	s *collidingStore
}

func (t *collidingTx) UpdateOffer(ctx context.Context, o *models.Offer, guard store.Guard) error {
	if o.QRToken != nil && t.s.collisions > 0 {
		t.s.collisions--
		return store.ErrDuplicateToken
	}
	return t.Tx.UpdateOffer(ctx, o, guard)
}

func TestAcceptRegeneratesTokenOnConflict(t *testing.T) {
	tests := []struct {
		name       string
		collisions int
		ok         bool
	}{
		{"no conflict", 0, true},
		{"two conflicts", 2, true},
		{"budget exhausted", 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			id := h.create(t)

			h.svc.store = &collidingStore{Store: h.mem, collisions: tt.collisions}
			res, err := h.svc.Apply(ctx, h.p.seller, id, Accept{})

			accepted := h.notificationsFor(h.p.buyer.ID, models.NotifOfferAccepted)
			o, _, gerr := h.mem.GetOffer(ctx, id)
			require.NoError(t, gerr)

			if tt.ok {
				require.NoError(t, err)
				require.NotNil(t, res.Offer.QRToken)
				assert.Equal(t, models.OfferAccepted, o.Status)
				assert.Equal(t, models.ListingPending, h.listingStatus(t))
				assert.Len(t, accepted, 1)
				return
			}
			assertCode(t, err, "INTERNAL_ERROR")
			assert.Equal(t, models.OfferRequested, o.Status)
			assert.Nil(t, o.QRToken)
			assert.Equal(t, models.ListingActive, h.listingStatus(t))
			assert.Empty(t, accepted)
		})
	}
}
