package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/reborn-market/reborn-api/internal/models"
	"github.com/reborn-market/reborn-api/internal/store"
)

// IdentityByTelegramID находит пользователя по ID Telegram
func (s *PGStore) IdentityByTelegramID(ctx context.Context, telegramID int64) (models.Identity, error) {
	var (
		id   uuid.UUID
		role pgtype.Text
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, role FROM users WHERE telegram_id = $1
	`, telegramID).Scan(&id, &role)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Identity{}, store.ErrNotFound
	}
	if err != nil {
		return models.Identity{}, fmt.Errorf("ошибка при получении пользователя Telegram: %w", err)
	}

	identity := models.Identity{ID: id, Role: models.RoleUser}
	if role.Valid && models.Role(role.String) == models.RoleAdmin {
		identity.Role = models.RoleAdmin
	}
	return identity, nil
}
