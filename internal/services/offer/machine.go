package offer

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/reborn-market/reborn-api/internal/apperr"
	"github.com/reborn-market/reborn-api/internal/models"
	"github.com/reborn-market/reborn-api/internal/services/notification"
)

const (
	// Минимальный запас времени до встречи при переносе
	minMeetLead = 5 * time.Minute
	// Максимальная длина причины отказа, в символах
	maxReasonLen = 300
)

// Decision результат перехода: новое состояние предложения, статус объявления
// и уведомление для второй стороны. Offer == nil означает, что предложение не меняется.
type Decision struct {
	Offer         *models.Offer
	ListingStatus *models.ListingStatus
	IssueToken    bool
	Notice        notification.Notice
}

// actingRole роль, от имени которой действует пользователь. Администратор,
// не участвующий в сделке, действует за сторону, чей сейчас ход.
func actingRole(o *models.Offer, me models.Identity) (models.Actor, bool) {
	switch {
	case me.ID == o.BuyerID:
		return models.ActorBuyer, true
	case me.ID == o.SellerID:
		return models.ActorSeller, true
	case me.IsAdmin():
		return o.LastActor.Opposite(), true
	}
	return "", false
}

func yourTurn(o *models.Offer, me models.Identity) bool {
	if me.IsAdmin() {
		return true
	}
	role, ok := actingRole(o, me)
	return ok && role != o.LastActor
}

func isSellerOrAdmin(o *models.Offer, me models.Identity) bool {
	return me.ID == o.SellerID || me.IsAdmin()
}

func isBuyerOrAdmin(o *models.Offer, me models.Identity) bool {
	return me.ID == o.BuyerID || me.IsAdmin()
}

// recipient вторая сторона сделки относительно role
func recipient(o *models.Offer, role models.Actor) uuid.UUID {
	if role == models.ActorBuyer {
		return o.SellerID
	}
	return o.BuyerID
}

// Decide вычисляет переход без побочных эффектов. Вызывающий уже проверил,
// что пользователь является стороной сделки или администратором.
func Decide(o *models.Offer, l *models.Listing, me models.Identity, cmd Command, now time.Time) (*Decision, error) {
	role, ok := actingRole(o, me)
	if !ok {
		return nil, apperr.ErrForbidden
	}

	next := *o
	next.Listing = nil
	next.UpdatedAt = now

	notice := notification.Notice{
		Recipient: recipient(o, role),
		OfferID:   &next.ID,
		ListingID: &next.ListingID,
	}

	switch c := cmd.(type) {
	case Reoffer:
		if err := negotiable(o, me); err != nil {
			return nil, err
		}
		if c.MeetPlace == "" || c.MeetTime == "" {
			return nil, apperr.ErrMeetInfoRequired
		}
		meetAt, err := ParseMeetTime(c.MeetTime)
		if err != nil {
			return nil, apperr.ErrMeetTimeInvalid
		}
		if meetAt.Before(now.Add(minMeetLead)) {
			return nil, apperr.ErrMeetTimeInPast.With("hint", "choose a time at least 5 minutes from now")
		}
		next.Status = models.OfferReoffer
		next.MeetPlace = c.MeetPlace
		next.MeetTime = meetAt
		next.LastActor = role
		next.QRToken = nil
		next.QRScannedAt = nil

		notice.Type = models.NotifOfferReoffer
		notice.Title = "New meeting time and place proposed"
		notice.Message = strPtr(fmt.Sprintf("%s proposed: %s @ %s", roleName(role), c.MeetPlace, meetAt.Format(time.RFC3339)))
		return &Decision{Offer: &next, Notice: notice}, nil

	case Accept:
		if err := negotiable(o, me); err != nil {
			return nil, err
		}
		if l.Status == models.ListingSold || l.Status == models.ListingHidden {
			return nil, apperr.ErrListingNotAvailable
		}
		next.Status = models.OfferAccepted
		next.LastActor = role
		next.QRScannedAt = nil

		notice.Type = models.NotifOfferAccepted
		if role == models.ActorSeller {
			notice.Title = "Seller accepted your request"
			notice.Message = strPtr("The deal is accepted, scan the QR code at the meeting")
		} else {
			notice.Title = "Buyer accepted your offer"
			notice.Message = strPtr("The deal is accepted, show the QR code at the meeting")
		}
		return &Decision{Offer: &next, ListingStatus: listingStatus(models.ListingPending), IssueToken: true, Notice: notice}, nil

	case Reject:
		if err := negotiable(o, me); err != nil {
			return nil, err
		}
		reason := truncateRunes(c.Reason, maxReasonLen)
		next.Status = models.OfferRejected
		next.LastActor = role
		next.RejectReason = nil
		next.QRToken = nil
		next.QRScannedAt = nil

		notice.Type = models.NotifOfferRejected
		notice.Title = "Offer rejected"
		if reason != "" {
			next.RejectReason = &reason
			notice.Message = strPtr("Reason: " + reason)
		}
		d := &Decision{Offer: &next, Notice: notice}
		if l.Status == models.ListingPending || l.Status == models.ListingActive {
			d.ListingStatus = listingStatus(models.ListingActive)
		}
		return d, nil

	case Scan:
		if !isBuyerOrAdmin(o, me) {
			return nil, apperr.ErrForbidden
		}
		if c.Token == "" {
			return nil, apperr.ErrTokenRequired
		}
		token := ExtractToken(c.Token)
		if token == "" {
			return nil, apperr.ErrTokenInvalid
		}
		if o.Status != models.OfferAccepted {
			return nil, apperr.ErrInvalidState
		}
		if o.QRToken == nil {
			return nil, apperr.ErrQRNotIssued
		}
		if token != *o.QRToken {
			return nil, apperr.ErrTokenMismatch
		}
		scannedAt := now
		next.Status = models.OfferCompleted
		next.QRScannedAt = &scannedAt
		next.QRToken = nil

		notice.Recipient = o.SellerID
		notice.Type = models.NotifOfferCompleted
		notice.Title = "Handoff confirmed"
		notice.Message = strPtr(fmt.Sprintf("The buyer scanned the QR code, %q is marked as sold", l.Title))
		return &Decision{Offer: &next, ListingStatus: listingStatus(models.ListingSold), Notice: notice}, nil

	case Close:
		if !isSellerOrAdmin(o, me) {
			return nil, apperr.ErrOnlySellerOrAdmin
		}
		if o.Status != models.OfferAccepted && o.Status != models.OfferCompleted {
			return nil, apperr.ErrInvalidState
		}
		if l.Status == models.ListingSold {
			return nil, apperr.ErrAlreadySold
		}
		notice.Recipient = o.BuyerID
		notice.Type = models.NotifOfferClosed
		notice.Title = "Deal closed"
		notice.Message = strPtr(fmt.Sprintf("%q was marked as sold by the seller", l.Title))
		return &Decision{ListingStatus: listingStatus(models.ListingSold), Notice: notice}, nil

	case Cancel:
		if !isSellerOrAdmin(o, me) {
			return nil, apperr.ErrOnlySellerOrAdmin
		}
		if !o.Status.Negotiating() && o.Status != models.OfferAccepted {
			return nil, apperr.ErrInvalidState
		}
		next.Status = models.OfferCancelled
		next.QRToken = nil
		next.QRScannedAt = nil

		notice.Recipient = o.BuyerID
		notice.Type = models.NotifOfferCancelled
		notice.Title = "Offer cancelled"
		notice.Message = strPtr(fmt.Sprintf("The seller withdrew the offer for %q", l.Title))
		d := &Decision{Offer: &next, Notice: notice}
		// объявление удерживает только принятое предложение
		if o.Status == models.OfferAccepted && l.Status == models.ListingPending {
			d.ListingStatus = listingStatus(models.ListingActive)
		}
		return d, nil
	}

	return nil, apperr.ErrUnknownAction.With("supported", supportedActions)
}

// negotiable проверяет состояние и очередность для REOFFER, ACCEPT, REJECT
func negotiable(o *models.Offer, me models.Identity) error {
	if !o.Status.Negotiating() {
		return apperr.ErrInvalidState
	}
	if !yourTurn(o, me) {
		return apperr.ErrNotYourTurn
	}
	return nil
}

// Meta флаги прав текущего пользователя, согласованные с Decide
func Meta(o *models.Offer, l *models.Listing, me models.Identity) models.OfferMeta {
	isBuyer := me.ID == o.BuyerID
	isSeller := me.ID == o.SellerID
	isAdmin := me.IsAdmin()
	turn := (isBuyer || isSeller || isAdmin) && yourTurn(o, me)
	negotiating := o.Status.Negotiating() && turn
	listingOpen := l == nil || (l.Status != models.ListingSold && l.Status != models.ListingHidden)

	return models.OfferMeta{
		IsBuyer:    isBuyer,
		IsSeller:   isSeller,
		IsAdmin:    isAdmin,
		YourTurn:   turn,
		CanAccept:  negotiating && listingOpen,
		CanReject:  negotiating,
		CanReoffer: negotiating,
		CanScan:    (isBuyer || isAdmin) && o.Status == models.OfferAccepted,
		CanClose: (isSeller || isAdmin) &&
			(o.Status == models.OfferAccepted || o.Status == models.OfferCompleted) &&
			(l == nil || l.Status != models.ListingSold),
		CanCancel: (isSeller || isAdmin) && (o.Status.Negotiating() || o.Status == models.OfferAccepted),
	}
}

// ParseMeetTime принимает RFC 3339 и вариант без часового пояса (считается UTC)
func ParseMeetTime(s string) (time.Time, error) {
	layouts := []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04"}
	var err error
	for _, layout := range layouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, err
}

func roleName(a models.Actor) string {
	if a == models.ActorSeller {
		return "Seller"
	}
	return "Buyer"
}

func listingStatus(s models.ListingStatus) *models.ListingStatus { return &s }

func strPtr(s string) *string { return &s }

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s
}
