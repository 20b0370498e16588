package offer

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"github.com/reborn-market/reborn-api/internal/apperr"
)

// Action действие над предложением
type Action string

const (
	ActionReoffer Action = "REOFFER"
	ActionAccept  Action = "ACCEPT"
	ActionReject  Action = "REJECT"
	ActionScan    Action = "SCAN"
	ActionClose   Action = "CLOSE"
	ActionCancel  Action = "CANCEL"
)

var supportedActions = []Action{ActionReoffer, ActionAccept, ActionReject, ActionScan, ActionClose, ActionCancel}

var actionAliases = map[string]Action{
	"REOFFER":   ActionReoffer,
	"ACCEPT":    ActionAccept,
	"REJECT":    ActionReject,
	"SCAN":      ActionScan,
	"SCAN_QR":   ActionScan,
	"VERIFY":    ActionScan,
	"CONFIRM":   ActionScan,
	"CLOSE":     ActionClose,
	"CANCEL":    ActionCancel,
	"CANCELLED": ActionCancel,
	"WITHDRAW":  ActionCancel,
}

var separators = regexp.MustCompile(`[\s-]+`)

// Command одна из команд Reoffer, Accept, Reject, Scan, Close, Cancel
type Command interface {
	Action() Action
}

type Reoffer struct {
	MeetPlace string
	MeetTime  string
}

type Accept struct{}

type Reject struct {
	Reason string
}

// Scan Token содержит сырой ввод: код или URL с параметром t/token
type Scan struct {
	Token string
}

type Close struct{}

type Cancel struct{}

func (Reoffer) Action() Action { return ActionReoffer }
func (Accept) Action() Action  { return ActionAccept }
func (Reject) Action() Action  { return ActionReject }
func (Scan) Action() Action    { return ActionScan }
func (Close) Action() Action   { return ActionClose }
func (Cancel) Action() Action  { return ActionCancel }

// normalizeAction приводит имя действия к каноническому виду, "" если неизвестно
func normalizeAction(raw string) (string, Action) {
	normalized := strings.ToUpper(separators.ReplaceAllString(strings.TrimSpace(raw), "_"))
	return normalized, actionAliases[normalized]
}

// ParseCommand разбирает тело PATCH-запроса в команду
func ParseCommand(body []byte) (Command, error) {
	var req struct {
		Action    string  `json:"action"`
		MeetPlace string  `json:"meetPlace"`
		MeetTime  string  `json:"meetTime"`
		Reason    string  `json:"reason"`
		Token     *string `json:"token"`
		Code      *string `json:"code"`
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, apperr.ErrBadJSON
		}
	}

	normalized, action := normalizeAction(req.Action)
	switch action {
	case ActionReoffer:
		return Reoffer{MeetPlace: strings.TrimSpace(req.MeetPlace), MeetTime: strings.TrimSpace(req.MeetTime)}, nil
	case ActionAccept:
		return Accept{}, nil
	case ActionReject:
		return Reject{Reason: req.Reason}, nil
	case ActionScan:
		raw := req.Token
		if raw == nil {
			raw = req.Code
		}
		if raw == nil {
			return Scan{}, nil
		}
		return Scan{Token: strings.TrimSpace(*raw)}, nil
	case ActionClose:
		return Close{}, nil
	case ActionCancel:
		return Cancel{}, nil
	}

	return nil, apperr.ErrUnknownAction.
		With("received", req.Action).
		With("normalized", normalized).
		With("supported", supportedActions)
}

// ExtractToken достает токен из кода или из URL (?t= или ?token=).
// Пустая строка означает, что токен извлечь не удалось.
func ExtractToken(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.Contains(s, "://") {
		return s
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return ""
	}
	q := u.Query()
	if t := q.Get("t"); t != "" {
		return t
	}
	return q.Get("token")
}
