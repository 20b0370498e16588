package broadcast

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
)

const (
	minReconnect = 10 * time.Second
	maxReconnect = time.Minute
	pingInterval = 90 * time.Second
)

// Listen подписывается на канал Postgres и отдает payload уведомлений.
// Канал результата закрывается после отмены ctx.
func Listen(ctx context.Context, dsn, channel string) (<-chan []byte, error) {
	listener := pq.NewListener(dsn, minReconnect, maxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Printf("❌ Ошибка слушателя уведомлений (событие %d): %v", ev, err)
		}
	})
	if err := listener.Listen(channel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("broadcast: listen %q: %w", channel, err)
	}
	log.Printf("✅ Подписка на канал уведомлений %q", channel)

	out := make(chan []byte, subscriberBuffer)
	go func() {
		defer close(out)
		defer listener.Close()

		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case n := <-listener.Notify:
				// nil приходит после переподключения, события за время разрыва потеряны
				if n == nil {
					log.Printf("✅ Слушатель переподключен к каналу %q", channel)
					continue
				}
				select {
				case out <- []byte(n.Extra):
				case <-ctx.Done():
					return
				}
			case <-ticker.C:
				go func() {
					if err := listener.Ping(); err != nil {
						log.Printf("❌ Ошибка ping слушателя уведомлений: %v", err)
					}
				}()
			}
		}
	}()
	return out, nil
}
