package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer выполняет DDL; подходит и pgxpool.Pool, и pgx.Tx
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS pgcrypto`,
	`CREATE TABLE IF NOT EXISTS users (
		id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		telegram_id BIGINT UNIQUE,
		username    TEXT,
		role        TEXT NOT NULL DEFAULT 'USER',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS listings (
		id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		seller_id  UUID NOT NULL REFERENCES users(id),
		status     TEXT NOT NULL DEFAULT 'ACTIVE',
		title      TEXT NOT NULL,
		price      BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS offers (
		id            UUID PRIMARY KEY,
		listing_id    UUID NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
		buyer_id      UUID NOT NULL REFERENCES users(id),
		seller_id     UUID NOT NULL REFERENCES users(id),
		status        TEXT NOT NULL,
		meet_place    TEXT NOT NULL,
		meet_time     TIMESTAMPTZ NOT NULL,
		note          TEXT,
		reject_reason TEXT,
		last_actor    TEXT NOT NULL,
		qr_token      TEXT UNIQUE,
		qr_scanned_at TIMESTAMPTZ,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS offers_buyer_idx ON offers (buyer_id, updated_at DESC)`,
	`CREATE INDEX IF NOT EXISTS offers_seller_idx ON offers (seller_id, updated_at DESC)`,
	`CREATE INDEX IF NOT EXISTS offers_listing_idx ON offers (listing_id, updated_at DESC)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id         UUID PRIMARY KEY,
		user_id    UUID NOT NULL REFERENCES users(id),
		type       TEXT NOT NULL,
		offer_id   UUID REFERENCES offers(id) ON DELETE SET NULL,
		listing_id UUID REFERENCES listings(id) ON DELETE SET NULL,
		title      TEXT NOT NULL,
		message    TEXT,
		is_read    BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS notifications_user_idx ON notifications (user_id, created_at DESC)`,
}

// Migrate создает таблицы, если их еще нет
func Migrate(ctx context.Context, db Execer) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ошибка при применении схемы: %w", err)
		}
	}
	return nil
}
