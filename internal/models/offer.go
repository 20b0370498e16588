package models

import (
	"time"

	"github.com/google/uuid"
)

// OfferStatus статус переговоров по объявлению
type OfferStatus string

const (
	OfferRequested OfferStatus = "REQUESTED"
	OfferReoffer   OfferStatus = "REOFFER"
	OfferAccepted  OfferStatus = "ACCEPTED"
	OfferRejected  OfferStatus = "REJECTED"
	OfferCompleted OfferStatus = "COMPLETED"
	OfferCancelled OfferStatus = "CANCELLED"
)

// Negotiating возвращает true для REQUESTED и REOFFER
func (s OfferStatus) Negotiating() bool {
	return s == OfferRequested || s == OfferReoffer
}

// Valid сообщает, является ли статус одним из известных
func (s OfferStatus) Valid() bool {
	switch s {
	case OfferRequested, OfferReoffer, OfferAccepted, OfferRejected, OfferCompleted, OfferCancelled:
		return true
	}
	return false
}

// Actor сторона сделки, сделавшая последний ход
type Actor string

const (
	ActorBuyer  Actor = "BUYER"
	ActorSeller Actor = "SELLER"
)

// Opposite возвращает другую сторону
func (a Actor) Opposite() Actor {
	if a == ActorBuyer {
		return ActorSeller
	}
	return ActorBuyer
}

// Offer представляет переговоры покупателя и продавца по одному объявлению.
// QRToken заполнен только пока Status == ACCEPTED.
type Offer struct {
	ID           uuid.UUID   `json:"id"`
	ListingID    uuid.UUID   `json:"listingId"`
	BuyerID      uuid.UUID   `json:"buyerId"`
	SellerID     uuid.UUID   `json:"sellerId"`
	Status       OfferStatus `json:"status"`
	MeetPlace    string      `json:"meetPlace"`
	MeetTime     time.Time   `json:"meetTime"`
	Note         *string     `json:"note"`
	RejectReason *string     `json:"rejectReason"`
	LastActor    Actor       `json:"lastActor"`
	QRToken      *string     `json:"qrToken"`
	QRScannedAt  *time.Time  `json:"qrScannedAt"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`

	// Дополнительные поля для API
	Listing *ListingSummary `json:"listing,omitempty"`
}

// ListingSummary краткая информация об объявлении внутри предложения
type ListingSummary struct {
	ID       uuid.UUID     `json:"id"`
	Title    string        `json:"title"`
	Price    int64         `json:"price"`
	SellerID uuid.UUID     `json:"sellerId"`
	Status   ListingStatus `json:"status"`
}

// Summary возвращает краткое представление объявления
func (l *Listing) Summary() *ListingSummary {
	if l == nil {
		return nil
	}
	return &ListingSummary{ID: l.ID, Title: l.Title, Price: l.Price, SellerID: l.SellerID, Status: l.Status}
}

// OfferMeta флаги хода и прав для текущего пользователя
type OfferMeta struct {
	IsBuyer    bool `json:"isBuyer"`
	IsSeller   bool `json:"isSeller"`
	IsAdmin    bool `json:"isAdmin"`
	YourTurn   bool `json:"yourTurn"`
	CanAccept  bool `json:"canAccept"`
	CanReject  bool `json:"canReject"`
	CanReoffer bool `json:"canReoffer"`
	CanScan    bool `json:"canScan"`
	CanClose   bool `json:"canClose"`
	CanCancel  bool `json:"canCancel"`
}

// MyOffer элемент списка "мои предложения"
type MyOffer struct {
	Offer
	MyRole Actor `json:"myRole"`
}
