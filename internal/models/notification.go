package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType тип уведомления
type NotificationType string

const (
	NotifOfferRequested NotificationType = "OFFER_REQUESTED"
	NotifOfferReoffer   NotificationType = "OFFER_REOFFER"
	NotifOfferAccepted  NotificationType = "OFFER_ACCEPTED"
	NotifOfferRejected  NotificationType = "OFFER_REJECTED"
	NotifOfferCompleted NotificationType = "OFFER_COMPLETED"
	NotifOfferClosed    NotificationType = "OFFER_CLOSED"
	NotifOfferCancelled NotificationType = "OFFER_CANCELLED"
	NotifListingStatus  NotificationType = "LISTING_STATUS"
)

// Notification уведомление получателя. После создания меняется только IsRead.
type Notification struct {
	ID        uuid.UUID        `json:"id"`
	UserID    uuid.UUID        `json:"userId"`
	Type      NotificationType `json:"type"`
	OfferID   *uuid.UUID       `json:"offerId"`
	ListingID *uuid.UUID       `json:"listingId"`
	Title     string           `json:"title"`
	Message   *string          `json:"message"`
	IsRead    bool             `json:"isRead"`
	CreatedAt time.Time        `json:"createdAt"`

	// Вычисляется при чтении, не хранится
	Audience Actor `json:"audience,omitempty"`
}

// BroadcastEvent эфемерное событие для потока уведомлений, не сохраняется
type BroadcastEvent struct {
	UserID    uuid.UUID        `json:"userId"`
	Event     NotificationType `json:"event"`
	OfferID   *uuid.UUID       `json:"offerId,omitempty"`
	ListingID *uuid.UUID       `json:"listingId,omitempty"`
}

// OfferParties участники предложения, нужны для вычисления audience
type OfferParties struct {
	ID        uuid.UUID
	BuyerID   uuid.UUID
	SellerID  uuid.UUID
	ListingID uuid.UUID
}
