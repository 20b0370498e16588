// Package store описывает контракт хранилища предложений, объявлений и уведомлений.
// Реализация на Postgres находится в internal/db, in-memory реализация здесь же (Memory).
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/reborn-market/reborn-api/internal/models"
)

var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("store: not found")
	// ErrConflict условие оптимистичного обновления не выполнено
	ErrConflict = errors.New("store: concurrent modification")
	// ErrDuplicateToken qr_token уже принадлежит другому предложению
	ErrDuplicateToken = errors.New("store: qr token already in use")
)

// Guard ожидаемое состояние предложения на момент обновления
type Guard struct {
	Status    models.OfferStatus
	LastActor models.Actor
}

// GuardOf снимает guard с текущего состояния предложения
func GuardOf(o *models.Offer) Guard {
	return Guard{Status: o.Status, LastActor: o.LastActor}
}

// OfferOrder порядок выдачи предложений
type OfferOrder int

const (
	OrderUpdatedDesc OfferOrder = iota
	OrderCreatedDesc
)

// OfferQuery фильтр для списков предложений
type OfferQuery struct {
	// PartyID и Role: Role == "" означает покупателя или продавца
	PartyID   *uuid.UUID
	Role      models.Actor
	ListingID *uuid.UUID
	Status    models.OfferStatus
	// Q ищет без учета регистра по названию объявления и месту встречи
	Q      string
	Cursor *uuid.UUID
	Limit  int
	Order  OfferOrder
}

// Reader операции чтения вне транзакции
type Reader interface {
	GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	GetOffer(ctx context.Context, id uuid.UUID) (*models.Offer, *models.Listing, error)
	FindOfferIDByToken(ctx context.Context, token string) (uuid.UUID, error)
	QRTokenExists(ctx context.Context, token string) (bool, error)
	ListOffers(ctx context.Context, q OfferQuery) ([]models.Offer, error)

	ListNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]models.Notification, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
	OfferParties(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.OfferParties, error)
	ListingSellers(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]uuid.UUID, error)
}

// Tx операции внутри одной атомарной транзакции
type Tx interface {
	GetListingForUpdate(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	GetOfferForUpdate(ctx context.Context, id uuid.UUID) (*models.Offer, *models.Listing, error)
	QRTokenExists(ctx context.Context, token string) (bool, error)
	InsertOffer(ctx context.Context, o *models.Offer) error
	// UpdateOffer сохраняет предложение, если его состояние все еще совпадает с guard,
	// иначе возвращает ErrConflict
	UpdateOffer(ctx context.Context, o *models.Offer, guard Guard) error
	SetListingStatus(ctx context.Context, id uuid.UUID, status models.ListingStatus) error
	InsertNotification(ctx context.Context, n *models.Notification) error
}

// Store полный контракт хранилища
type Store interface {
	Reader
	// InTx выполняет fn в транзакции; ошибка fn откатывает все изменения
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// MarkRead отмечает прочитанными только уведомления userID
	MarkRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error)
}
