package notification

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/reborn-market/reborn-api/internal/broadcast"
	"github.com/reborn-market/reborn-api/internal/models"
	"github.com/reborn-market/reborn-api/internal/store"
)

// Notice уведомление, которое нужно создать для получателя
type Notice struct {
	Recipient uuid.UUID
	Type      models.NotificationType
	OfferID   *uuid.UUID
	ListingID *uuid.UUID
	Title     string
	Message   *string
}

// Dispatcher сохраняет уведомления и публикует события для потоков
type Dispatcher struct {
	store     store.Store
	publisher broadcast.Publisher
	now       func() time.Time
}

// NewDispatcher создает диспетчер уведомлений
func NewDispatcher(st store.Store, publisher broadcast.Publisher) *Dispatcher {
	return &Dispatcher{store: st, publisher: publisher, now: time.Now}
}

// Record вставляет одно уведомление в транзакции вызывающего
// и возвращает событие, которое нужно опубликовать после коммита
func (d *Dispatcher) Record(ctx context.Context, tx store.Tx, n Notice) (models.BroadcastEvent, error) {
	row := &models.Notification{
		ID:        uuid.New(),
		UserID:    n.Recipient,
		Type:      n.Type,
		OfferID:   n.OfferID,
		ListingID: n.ListingID,
		Title:     n.Title,
		Message:   n.Message,
		CreatedAt: d.now().UTC(),
	}
	if err := tx.InsertNotification(ctx, row); err != nil {
		return models.BroadcastEvent{}, err
	}
	return models.BroadcastEvent{
		UserID:    n.Recipient,
		Event:     n.Type,
		OfferID:   n.OfferID,
		ListingID: n.ListingID,
	}, nil
}

// Publish отправляет события; ошибка публикации только логируется
func (d *Dispatcher) Publish(ctx context.Context, events ...models.BroadcastEvent) {
	if d.publisher == nil {
		return
	}
	for _, ev := range events {
		if err := d.publisher.Publish(ctx, ev); err != nil {
			log.Printf("Ошибка публикации события %s для %s: %v", ev.Event, ev.UserID, err)
		}
	}
}

// Notify создает уведомление в отдельной транзакции и публикует событие
func (d *Dispatcher) Notify(ctx context.Context, n Notice) error {
	var ev models.BroadcastEvent
	err := d.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		ev, err = d.Record(ctx, tx, n)
		return err
	})
	if err != nil {
		return err
	}
	d.Publish(ctx, ev)
	return nil
}
