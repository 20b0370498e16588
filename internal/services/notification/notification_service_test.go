package notification

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reborn-market/reborn-api/internal/apperr"
	"github.com/reborn-market/reborn-api/internal/broadcast"
	"github.com/reborn-market/reborn-api/internal/middleware"
	"github.com/reborn-market/reborn-api/internal/models"
	"github.com/reborn-market/reborn-api/internal/store"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type inboxFixture struct {
	svc     *NotificationService
	mem     *store.Memory
	hub     *broadcast.Hub
	me      models.Identity
	other   models.Identity
	listing models.Listing
	bought  models.Offer
}

// newInbox: me покупает у other и продает собственное объявление
func newInbox(t *testing.T) *inboxFixture {
	t.Helper()
	mem := store.NewMemory()
	hub := broadcast.NewHub()
	t.Cleanup(hub.Shutdown)

	me := models.Identity{ID: uuid.New(), Role: models.RoleUser}
	other := models.Identity{ID: uuid.New(), Role: models.RoleUser}

	theirs := models.Listing{ID: uuid.New(), SellerID: other.ID, Status: models.ListingActive, Title: "Chair"}
	mine := models.Listing{ID: uuid.New(), SellerID: me.ID, Status: models.ListingActive, Title: "Lamp"}
	mem.PutListing(theirs)
	mem.PutListing(mine)

	bought := models.Offer{
		ID: uuid.New(), ListingID: theirs.ID, BuyerID: me.ID, SellerID: other.ID,
		Status: models.OfferAccepted, LastActor: models.ActorSeller, CreatedAt: base, UpdatedAt: base,
	}
	sold := models.Offer{
		ID: uuid.New(), ListingID: mine.ID, BuyerID: other.ID, SellerID: me.ID,
		Status: models.OfferRequested, LastActor: models.ActorBuyer, CreatedAt: base, UpdatedAt: base,
	}
	mem.PutOffer(bought)
	mem.PutOffer(sold)

	// уведомление покупателю без listingId, продавцу по предложению и о статусе объявления
	mem.PutNotification(models.Notification{ID: uuid.New(), UserID: me.ID, Type: models.NotifOfferAccepted, OfferID: &bought.ID, Title: "accepted", CreatedAt: base})
	mem.PutNotification(models.Notification{ID: uuid.New(), UserID: me.ID, Type: models.NotifOfferRequested, OfferID: &sold.ID, ListingID: &mine.ID, Title: "request", CreatedAt: base.Add(time.Minute)})
	mem.PutNotification(models.Notification{ID: uuid.New(), UserID: me.ID, Type: models.NotifListingStatus, ListingID: &mine.ID, Title: "hidden", IsRead: true, CreatedAt: base.Add(2 * time.Minute)})
	mem.PutNotification(models.Notification{ID: uuid.New(), UserID: other.ID, Type: models.NotifOfferRequested, OfferID: &sold.ID, Title: "not mine", CreatedAt: base})

	return &inboxFixture{
		svc:     NewNotificationService(mem, hub, time.Hour),
		mem:     mem,
		hub:     hub,
		me:      me,
		other:   other,
		listing: mine,
		bought:  bought,
	}
}

func TestListAudienceAndBackfill(t *testing.T) {
	f := newInbox(t)
	ctx := context.Background()

	inbox, err := f.svc.List(ctx, f.me, "all", 10)
	require.NoError(t, err)
	require.Len(t, inbox.Items, 3)
	assert.Equal(t, 2, inbox.Unread)

	// новые сначала
	assert.Equal(t, "hidden", inbox.Items[0].Title)
	assert.Equal(t, models.ActorSeller, inbox.Items[0].Audience)
	assert.Equal(t, models.ActorSeller, inbox.Items[1].Audience)

	accepted := inbox.Items[2]
	assert.Equal(t, models.ActorBuyer, accepted.Audience)
	require.NotNil(t, accepted.ListingID)
	assert.Equal(t, f.bought.ListingID, *accepted.ListingID)

	inbox, err = f.svc.List(ctx, f.me, "BUYER", 10)
	require.NoError(t, err)
	require.Len(t, inbox.Items, 1)
	assert.Equal(t, "accepted", inbox.Items[0].Title)

	inbox, err = f.svc.List(ctx, f.me, "seller", 1)
	require.NoError(t, err)
	assert.Len(t, inbox.Items, 1)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 1, ClampLimit(0))
	assert.Equal(t, 1, ClampLimit(-5))
	assert.Equal(t, 10, ClampLimit(10))
	assert.Equal(t, 50, ClampLimit(500))
}

func TestMarkReadIsolation(t *testing.T) {
	f := newInbox(t)
	ctx := context.Background()

	var mine, theirs []string
	for _, n := range f.mem.Notifications() {
		if n.UserID == f.me.ID {
			mine = append(mine, n.ID.String())
		} else {
			theirs = append(theirs, n.ID.String())
		}
	}

	n, err := f.svc.MarkRead(ctx, f.other, mine)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = f.svc.MarkRead(ctx, f.me, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = f.svc.MarkRead(ctx, f.me, append([]string{"not-a-uuid"}, append(mine, theirs...)...))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	inbox, err := f.svc.List(ctx, f.me, "all", 10)
	require.NoError(t, err)
	assert.Zero(t, inbox.Unread)

	inbox, err = f.svc.List(ctx, f.other, "all", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, inbox.Unread)
}

func TestDispatcherNotify(t *testing.T) {
	f := newInbox(t)
	ctx := context.Background()
	sub := f.hub.Subscribe(f.other.ID)
	defer sub.Close()

	d := NewDispatcher(f.mem, f.hub)
	msg := "hello"
	require.NoError(t, d.Notify(ctx, Notice{
		Recipient: f.other.ID,
		Type:      models.NotifListingStatus,
		ListingID: &f.listing.ID,
		Title:     "status",
		Message:   &msg,
	}))

	var ev models.BroadcastEvent
	select {
	case payload := <-sub.Events():
		require.NoError(t, json.Unmarshal(payload, &ev))
	case <-time.After(time.Second):
		t.Fatal("event was not published")
	}
	assert.Equal(t, f.other.ID, ev.UserID)
	assert.Equal(t, models.NotifListingStatus, ev.Event)
	assert.Nil(t, ev.OfferID)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, models.BroadcastEvent) error {
	return errors.New("bus down")
}

func TestDispatcherPublishFailureKeepsRow(t *testing.T) {
	f := newInbox(t)
	before := len(f.mem.Notifications())

	d := NewDispatcher(f.mem, failingPublisher{})
	require.NoError(t, d.Notify(context.Background(), Notice{Recipient: f.me.ID, Type: models.NotifListingStatus, Title: "x"}))
	assert.Len(t, f.mem.Notifications(), before+1)
}

// lockedBuffer собирает вывод потока из другой горутины
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSessionRun(t *testing.T) {
	hub := broadcast.NewHub()
	userID := uuid.New()
	sub := hub.Subscribe(userID)
	session := NewSession(sub, 20*time.Millisecond)

	out := &lockedBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- session.Run(ctx, bufio.NewWriter(out)) }()

	require.NoError(t, hub.Publish(ctx, models.BroadcastEvent{UserID: userID, Event: models.NotifOfferAccepted}))
	require.NoError(t, hub.Publish(ctx, models.BroadcastEvent{UserID: uuid.New(), Event: models.NotifOfferRejected}))

	require.Eventually(t, func() bool {
		s := out.String()
		return strings.Contains(s, "OFFER_ACCEPTED") && strings.Contains(s, "event: ping\ndata: {}\n\n")
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	s := out.String()
	assert.True(t, strings.HasPrefix(s, ": connected\n\n"))
	assert.Contains(t, s, `data: {"userId":"`+userID.String()+`","event":"OFFER_ACCEPTED"}`+"\n\n")
	assert.NotContains(t, s, "OFFER_REJECTED")
	assert.Zero(t, hub.Count(userID))
}

func TestSessionStopsOnShutdown(t *testing.T) {
	hub := broadcast.NewHub()
	sub := hub.Subscribe(uuid.New())
	done := make(chan error, 1)
	go func() { done <- NewSession(sub, time.Hour).Run(context.Background(), bufio.NewWriter(&bytes.Buffer{})) }()

	hub.Shutdown()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("session did not stop")
	}
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("client gone") }

func TestSessionStopsOnWriteError(t *testing.T) {
	hub := broadcast.NewHub()
	userID := uuid.New()
	sub := hub.Subscribe(userID)

	err := NewSession(sub, time.Hour).Run(context.Background(), bufio.NewWriter(brokenWriter{}))
	assert.Error(t, err)
	assert.Zero(t, hub.Count(userID))
}

type idResolver struct{}

func (idResolver) Resolve(_ context.Context, authorization, queryToken string) (models.Identity, error) {
	raw := strings.TrimPrefix(authorization, "Bearer ")
	if raw == "" {
		raw = queryToken
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return models.Identity{}, apperr.ErrUnauthorized
	}
	return models.Identity{ID: id, Role: models.RoleUser}, nil
}

func TestHandlers(t *testing.T) {
	f := newInbox(t)
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler})
	f.svc.SetupRoutes(app, middleware.AuthMiddleware(idResolver{}), middleware.StreamAuth(idResolver{}))

	req := httptest.NewRequest(http.MethodGet, "/api/notifications?limit=2&side=seller", nil)
	req.Header.Set("Authorization", "Bearer "+f.me.ID.String())
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var inbox struct {
		Items  []map[string]any `json:"items"`
		Unread int              `json:"unread"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&inbox))
	assert.Len(t, inbox.Items, 2)
	assert.Equal(t, 2, inbox.Unread)
	assert.Equal(t, "SELLER", inbox.Items[0]["audience"])

	req = httptest.NewRequest(http.MethodPatch, "/api/notifications/mark-read", strings.NewReader(`{"ids":"oops"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.me.ID.String())
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/notifications/stream", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// ?token= принимается только потоком
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/notifications?token="+f.me.ID.String(), nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
