// Package broadcast доставляет эфемерные события уведомлений открытым потокам.
// Hub раздает события подписчикам внутри процесса; источником событий служит
// либо локальная публикация, либо канал Postgres LISTEN/NOTIFY.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/reborn-market/reborn-api/internal/models"
)

// Размер буфера событий одного подписчика
const subscriberBuffer = 32

// Publisher отправляет событие всем заинтересованным потокам
type Publisher interface {
	Publish(ctx context.Context, ev models.BroadcastEvent) error
}

// Hub центральный распределитель событий по подпискам пользователей
type Hub struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]map[*Subscription]struct{}
	closed bool
}

// Subscription подписка одного потока на события одного пользователя
type Subscription struct {
	UserID uuid.UUID
	events chan []byte
	done   chan struct{}
	once   sync.Once
	hub    *Hub
}

// NewHub создает новый экземпляр Hub
func NewHub() *Hub {
	return &Hub{subs: make(map[uuid.UUID]map[*Subscription]struct{})}
}

// Subscribe регистрирует подписку. После Shutdown подписка сразу закрыта.
func (h *Hub) Subscribe(userID uuid.UUID) *Subscription {
	s := &Subscription{
		UserID: userID,
		events: make(chan []byte, subscriberBuffer),
		done:   make(chan struct{}),
		hub:    h,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.once.Do(func() { close(s.done) })
		return s
	}
	if _, ok := h.subs[userID]; !ok {
		h.subs[userID] = make(map[*Subscription]struct{})
	}
	h.subs[userID][s] = struct{}{}
	return s
}

// Events канал событий подписки
func (s *Subscription) Events() <-chan []byte { return s.events }

// Done закрывается, когда подписка снята
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close снимает подписку. Повторные вызовы ничего не делают.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
		close(s.done)
	})
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[s.UserID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.UserID)
		}
	}
}

// Count число активных подписок пользователя
func (h *Hub) Count(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// Dispatch доставляет сырой JSON события подпискам его получателя.
// Полный буфер подписчика означает потерю события для этого подписчика.
func (h *Hub) Dispatch(payload []byte) {
	var head struct {
		UserID uuid.UUID `json:"userId"`
	}
	if err := json.Unmarshal(payload, &head); err != nil || head.UserID == uuid.Nil {
		log.Printf("❌ Некорректное событие отброшено: %s", payload)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[head.UserID] {
		select {
		case s.events <- payload:
		default:
			log.Printf("Буфер пользователя %s заполнен, событие отброшено", head.UserID)
		}
	}
}

// Publish реализует Publisher для режима одного процесса
func (h *Hub) Publish(_ context.Context, ev models.BroadcastEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("broadcast: marshal event: %w", err)
	}
	h.Dispatch(payload)
	return nil
}

// Run раздает события из source, пока не отменен ctx или не закрыт source
func (h *Hub) Run(ctx context.Context, source <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-source:
			if !ok {
				return
			}
			h.Dispatch(payload)
		}
	}
}

// Shutdown снимает все подписки; открытые потоки завершаются
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	var all []*Subscription
	for _, set := range h.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	h.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}
