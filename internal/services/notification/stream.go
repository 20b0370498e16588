package notification

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/reborn-market/reborn-api/internal/broadcast"
)

const defaultHeartbeat = 25 * time.Second

// Session один открытый SSE-поток пользователя
type Session struct {
	sub       *broadcast.Subscription
	heartbeat time.Duration
}

// NewSession создает поток поверх подписки
func NewSession(sub *broadcast.Subscription, heartbeat time.Duration) *Session {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &Session{sub: sub, heartbeat: heartbeat}
}

// Run пишет события подписки в w до отмены ctx, закрытия подписки
// или ошибки записи. Подписка снимается при выходе.
func (s *Session) Run(ctx context.Context, w *bufio.Writer) error {
	defer s.sub.Close()

	if err := s.send(w, ": connected\n\n"); err != nil {
		return err
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.sub.Done():
			return nil
		case payload := <-s.sub.Events():
			if err := s.send(w, fmt.Sprintf("data: %s\n\n", payload)); err != nil {
				return err
			}
		case <-ticker.C:
			if err := s.send(w, "event: ping\ndata: {}\n\n"); err != nil {
				return err
			}
		}
	}
}

func (s *Session) send(w *bufio.Writer, frame string) error {
	if _, err := w.WriteString(frame); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		log.Printf("Поток уведомлений пользователя %s закрыт: %v", s.sub.UserID, err)
		return err
	}
	return nil
}
