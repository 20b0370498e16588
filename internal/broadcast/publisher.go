package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/reborn-market/reborn-api/internal/models"
)

// Execer часть pgxpool.Pool, нужная для pg_notify
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGPublisher публикует события через pg_notify, их получают все экземпляры сервиса
type PGPublisher struct {
	db      Execer
	channel string
}

// NewPGPublisher создает публикатора для канала channel
func NewPGPublisher(db Execer, channel string) *PGPublisher {
	return &PGPublisher{db: db, channel: channel}
}

// Publish отправляет событие; payload передается параметром, а не подстановкой в SQL
func (p *PGPublisher) Publish(ctx context.Context, ev models.BroadcastEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("broadcast: marshal event: %w", err)
	}
	if _, err := p.db.Exec(ctx, "SELECT pg_notify($1, $2)", p.channel, string(payload)); err != nil {
		return fmt.Errorf("broadcast: pg_notify: %w", err)
	}
	return nil
}
