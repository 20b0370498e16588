package models

import (
	"time"

	"github.com/google/uuid"
)

// ListingStatus статус объявления
type ListingStatus string

const (
	ListingActive  ListingStatus = "ACTIVE"
	ListingPending ListingStatus = "PENDING"
	ListingSold    ListingStatus = "SOLD"
	ListingHidden  ListingStatus = "HIDDEN"
)

// Valid сообщает, является ли статус одним из известных
func (s ListingStatus) Valid() bool {
	switch s {
	case ListingActive, ListingPending, ListingSold, ListingHidden:
		return true
	}
	return false
}

// Listing представляет объявление в системе.
// Статус меняется только машиной состояний предложений и администратором.
type Listing struct {
	ID        uuid.UUID     `json:"id"`
	SellerID  uuid.UUID     `json:"sellerId"`
	Status    ListingStatus `json:"status"`
	Title     string        `json:"title"`
	Price     int64         `json:"price"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}
