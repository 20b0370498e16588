// Package apperr описывает доменные ошибки API: HTTP-статус и машинный код,
// который клиент получает в поле message.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error доменная ошибка с кодом ответа
type Error struct {
	Status int
	Code   string
	Extra  map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s", e.Status, e.Code)
}

// With возвращает копию ошибки с дополнительным полем в теле ответа
func (e *Error) With(key string, value any) *Error {
	extra := make(map[string]any, len(e.Extra)+1)
	for k, v := range e.Extra {
		extra[k] = v
	}
	extra[key] = value
	return &Error{Status: e.Status, Code: e.Code, Extra: extra}
}

// Body формирует JSON-тело ответа вида {message: CODE, ...}
func (e *Error) Body() map[string]any {
	body := make(map[string]any, len(e.Extra)+1)
	for k, v := range e.Extra {
		body[k] = v
	}
	body["message"] = e.Code
	return body
}

// New создает доменную ошибку
func New(status int, code string) *Error {
	return &Error{Status: status, Code: code}
}

// As извлекает доменную ошибку из цепочки
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is сравнивает код доменной ошибки
func Is(err error, code string) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// Валидация
func BadRequest(code string) *Error { return New(http.StatusBadRequest, code) }

// Конфликты состояния и очередности ходов
func Conflict(code string) *Error { return New(http.StatusConflict, code) }

var (
	ErrUnauthorized        = New(http.StatusUnauthorized, "UNAUTHORIZED")
	ErrForbidden           = New(http.StatusForbidden, "FORBIDDEN")
	ErrOnlySellerOrAdmin   = New(http.StatusForbidden, "ONLY_SELLER_OR_ADMIN")
	ErrNotFound            = New(http.StatusNotFound, "NOT_FOUND")
	ErrOfferNotFound       = New(http.StatusNotFound, "OFFER_NOT_FOUND")
	ErrMissingFields       = BadRequest("MISSING_FIELDS")
	ErrBadJSON             = BadRequest("BAD_JSON")
	ErrCannotBuyOwn        = BadRequest("CANNOT_BUY_OWN")
	ErrListingNotAvailable = Conflict("LISTING_NOT_AVAILABLE")
	ErrNotYourTurn         = Conflict("NOT_YOUR_TURN")
	ErrInvalidState        = Conflict("INVALID_STATE")
	ErrAlreadySold         = Conflict("ALREADY_SOLD")
	ErrUnknownAction       = BadRequest("UNKNOWN_ACTION")
	ErrMeetInfoRequired    = BadRequest("MEET_INFO_REQUIRED")
	ErrMeetTimeInvalid     = BadRequest("MEET_TIME_INVALID")
	ErrMeetTimeInPast      = BadRequest("MEET_TIME_IN_PAST")
	ErrInvalidStatus       = BadRequest("INVALID_STATUS")

	ErrTokenRequired    = BadRequest("TOKEN_REQUIRED")
	ErrTokenInvalid     = BadRequest("TOKEN_INVALID")
	ErrTokenUnknown     = New(http.StatusNotFound, "TOKEN_INVALID")
	ErrTokenMismatch    = BadRequest("TOKEN_MISMATCH")
	ErrQRNotIssued      = BadRequest("QR_NOT_ISSUED")
	ErrCodeRequired     = BadRequest("CODE_REQUIRED")
	ErrInvalidQR        = BadRequest("INVALID_QR")
	ErrQRExpired        = New(http.StatusGone, "QR_EXPIRED")
	ErrInvalidSignature = New(http.StatusUnauthorized, "INVALID_SIGNATURE")
	ErrMissingID        = BadRequest("MISSING_ID")

	ErrInternal = New(http.StatusInternalServerError, "INTERNAL_ERROR")
)
