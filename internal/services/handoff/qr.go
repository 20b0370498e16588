package handoff

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/reborn-market/reborn-api/internal/apperr"
	"github.com/reborn-market/reborn-api/internal/models"
)

// Действия QR-кода
const (
	ActionBuyRequest    = "BUY_REQUEST"
	ActionOfferAccept   = "OFFER_ACCEPT"
	ActionMeetCheckin   = "MEET_CHECKIN"
	ActionMeetConfirm   = "MEET_CONFIRM"
	ActionPayConfirm    = "PAY_CONFIRM"
	ActionOpenURL       = "OPEN_URL"
	ActionOfferComplete = "OFFER_COMPLETE"
)

var supportedActions = []string{
	ActionBuyRequest, ActionOfferAccept, ActionMeetCheckin, ActionMeetConfirm,
	ActionPayConfirm, ActionOpenURL, ActionOfferComplete,
}

var actionAliases = map[string]string{
	"BUY":            ActionBuyRequest,
	"BUYREQUEST":     ActionBuyRequest,
	"OFFER":          ActionOfferAccept,
	"OFFER_ACCEPTED": ActionOfferAccept,
	"MEET":           ActionMeetCheckin,
	"PAY":            ActionPayConfirm,
	"OPEN":           ActionOpenURL,
	"COMPLETE":       ActionOfferComplete,
	"HANDOFF":        ActionOfferComplete,
	"SCAN":           ActionOfferComplete,
}

// Ключи, которые забираются из query-строки URL
var urlKeys = []string{
	"action", "type", "act", "a", "actionType", "id", "ref", "userId",
	"listingId", "offerId", "exp", "sig", "t", "token",
}

var (
	separators = regexp.MustCompile(`[\s_-]+`)
	pathID     = regexp.MustCompile(`(?i)^[a-z0-9-]{8,}$`)
	httpURL    = regexp.MustCompile(`(?i)^https?://`)
)

// Payload сырые поля QR-кода
type Payload map[string]string

func (p Payload) first(keys ...string) string {
	for _, k := range keys {
		if v := p[k]; v != "" {
			return v
		}
	}
	return ""
}

// Normalized QR-код после приведения старых форматов к одному виду
type Normalized struct {
	Raw       Payload
	Action    string
	ID        string
	ListingID string
	OfferID   string
	URL       string
	Token     string
}

// Route результат маршрутизации QR-кода
type Route struct {
	OK      bool                   `json:"ok"`
	Action  string                 `json:"action"`
	NextURL string                 `json:"nextUrl,omitempty"`
	URL     string                 `json:"url,omitempty"`
	Offer   *models.Offer          `json:"offer,omitempty"`
	Listing *models.ListingSummary `json:"listing,omitempty"`
}

// ParsePayload разбирает QR-код: JSON, base64(JSON), http(s) URL или пары k=v.
// Побеждает первый успешный формат.
func ParsePayload(raw string) (Payload, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, apperr.ErrCodeRequired
	}

	if p, ok := parseJSON([]byte(s)); ok {
		return p, nil
	}
	if b, err := decodeBase64(s); err == nil {
		if p, ok := parseJSON(b); ok {
			return p, nil
		}
	}
	if httpURL.MatchString(s) {
		if p, ok := parseURL(s); ok {
			return p, nil
		}
	}
	if strings.Contains(s, "=") {
		return parsePairs(s), nil
	}
	return nil, apperr.ErrInvalidQR
}

func parseJSON(b []byte) (Payload, bool) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, false
	}
	p := make(Payload, len(obj))
	for k, v := range obj {
		switch t := v.(type) {
		case string:
			p[k] = t
		case json.Number:
			p[k] = t.String()
		case bool:
			p[k] = strconv.FormatBool(t)
		}
	}
	return p, true
}

// decodeBase64 принимает base64 и base64url, с паддингом и без
func decodeBase64(s string) ([]byte, error) {
	norm := strings.NewReplacer("-", "+", "_", "/").Replace(strings.TrimRight(s, "="))
	return base64.RawStdEncoding.DecodeString(norm)
}

func parseURL(s string) (Payload, bool) {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return nil, false
	}
	p := Payload{"url": s}
	q := u.Query()
	for _, k := range urlKeys {
		if v := q.Get(k); v != "" {
			p[k] = v
		}
	}

	var segs []string
	for _, seg := range strings.Split(u.Path, "/") {
		if seg != "" {
			segs = append(segs, seg)
		}
	}
	// /qr/buy-request/<id> или /buy-request/<id>
	if p["action"] == "" && len(segs) > 0 {
		if len(segs) > 1 {
			p["action"] = segs[1]
		} else {
			p["action"] = segs[0]
		}
	}
	if p["id"] == "" && len(segs) > 0 {
		if last := segs[len(segs)-1]; pathID.MatchString(last) {
			p["id"] = last
		}
	}
	return p, true
}

func parsePairs(s string) Payload {
	p := Payload{}
	for _, part := range strings.Split(s, "&") {
		k, v, _ := strings.Cut(part, "=")
		if dk, err := url.QueryUnescape(k); err == nil {
			k = dk
		}
		if dv, err := url.QueryUnescape(v); err == nil {
			v = dv
		}
		p[k] = v
	}
	return p
}

// NormalizeAction приводит имя действия QR к каноническому виду
func NormalizeAction(s string) string {
	t := strings.ToUpper(separators.ReplaceAllString(strings.TrimSpace(s), "_"))
	if a, ok := actionAliases[t]; ok {
		return a
	}
	return t
}

// Normalize сводит старые ключи действия и идентификатора к action и id
func Normalize(p Payload) Normalized {
	n := Normalized{
		Raw:       p,
		Action:    NormalizeAction(p.first("action", "type", "act", "a", "actionType")),
		ID:        p.first("id", "targetId", "listingId", "offerId"),
		ListingID: p["listingId"],
		OfferID:   p["offerId"],
		URL:       p["url"],
		Token:     p.first("t", "token"),
	}

	// действие может прятаться в query вложенного url
	if n.Action == "" && n.URL != "" {
		if u, err := url.Parse(n.URL); err == nil {
			q := u.Query()
			n.Action = NormalizeAction(q.Get("action"))
			if n.ID == "" {
				n.ID = q.Get("id")
			}
			if n.Token == "" {
				n.Token = q.Get("t")
			}
		}
	}
	return n
}

// Sign подписывает поля QR-кода: hex HMAC-SHA256 над v|action|id|ref|userId|exp
func Sign(p Payload, secret string) string {
	v := p["v"]
	if v == "" {
		v = "1"
	}
	base := strings.Join([]string{
		v,
		NormalizeAction(p.first("action", "type", "act", "a", "actionType")),
		p.first("id", "targetId", "listingId", "offerId"),
		p["ref"],
		p["userId"],
		p["exp"],
	}, "|")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify проверяет срок действия и, если задан секрет, подпись
func Verify(n Normalized, secret string, now time.Time) error {
	if raw := n.Raw["exp"]; raw != "" {
		if exp, err := strconv.ParseInt(raw, 10, 64); err == nil && exp > 0 && now.Unix() > exp {
			return apperr.ErrQRExpired
		}
	}
	if secret == "" {
		return nil
	}
	sig := n.Raw["sig"]
	if sig == "" || !hmac.Equal([]byte(strings.ToLower(sig)), []byte(Sign(n.Raw, secret))) {
		return apperr.ErrInvalidSignature
	}
	return nil
}

// Completes сообщает, что код подтверждает передачу товара
func (n Normalized) Completes() bool {
	if n.Action == ActionOfferComplete {
		return true
	}
	return n.Token != "" && !known(n.Action)
}

func known(action string) bool {
	for _, a := range supportedActions {
		if a == action {
			return true
		}
	}
	return false
}

// Resolve определяет следующий шаг клиента для навигационных QR-кодов
func Resolve(me *models.Identity, n Normalized) (*Route, error) {
	if n.Action == ActionOpenURL && n.URL != "" {
		return &Route{OK: true, Action: ActionOpenURL, URL: n.URL}, nil
	}

	var next string
	switch n.Action {
	case ActionBuyRequest:
		next = "/offers/new?listing="
	case ActionOfferAccept:
		next = "/offers/"
	case ActionMeetCheckin, ActionMeetConfirm, ActionPayConfirm:
	default:
		return guess(n)
	}

	if me == nil {
		return nil, apperr.ErrUnauthorized
	}
	if n.ID == "" {
		return nil, apperr.ErrMissingID
	}

	switch n.Action {
	case ActionMeetCheckin:
		next = "/meet/" + n.ID + "/checkin"
	case ActionMeetConfirm:
		next = "/meet/" + n.ID + "/confirm"
	case ActionPayConfirm:
		next = "/pay/" + n.ID + "/confirm"
	default:
		next += n.ID
	}
	return &Route{OK: true, Action: n.Action, NextURL: next}, nil
}

// guess угадывает намерение старых QR-кодов без действия
func guess(n Normalized) (*Route, error) {
	switch {
	case n.ListingID != "":
		return &Route{OK: true, Action: ActionBuyRequest, NextURL: "/offers/new?listing=" + n.ListingID}, nil
	case n.OfferID != "":
		return &Route{OK: true, Action: ActionOfferAccept, NextURL: "/offers/" + n.OfferID}, nil
	case n.URL != "":
		return &Route{OK: true, Action: ActionOpenURL, URL: n.URL}, nil
	}
	return nil, apperr.ErrUnknownAction.
		With("received", n.Raw.first("action", "type", "act", "a")).
		With("normalized", n.Action).
		With("supported", supportedActions).
		With("hint", "use one of the keys action/type/act/a/actionType or a URL with ?action=...")
}
