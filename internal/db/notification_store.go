package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/reborn-market/reborn-api/internal/models"
)

func (s *PGStore) ListNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]models.Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, type, offer_id, listing_id, title, message, is_read, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении уведомлений: %w", err)
	}
	defer rows.Close()

	var items []models.Notification
	for rows.Next() {
		var (
			n                models.Notification
			offerID, listing pgtype.UUID
			message          pgtype.Text
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &offerID, &listing, &n.Title, &message, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка при сканировании уведомления: %w", err)
		}
		n.OfferID = uuidPtr(offerID)
		n.ListingID = uuidPtr(listing)
		n.Message = textPtr(message)
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка при итерации уведомлений: %w", err)
	}
	return items, nil
}

func (s *PGStore) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM notifications WHERE user_id = $1 AND is_read = false
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка при подсчете непрочитанных: %w", err)
	}
	return count, nil
}

// MarkRead обновляет только строки владельца; чужие id молча пропускаются
func (s *PGStore) MarkRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications SET is_read = true
		WHERE user_id = $1 AND id = ANY($2) AND is_read = false
	`, userID, ids)
	if err != nil {
		return 0, fmt.Errorf("ошибка при отметке уведомлений: %w", err)
	}
	return tag.RowsAffected(), nil
}

func uuidPtr(v pgtype.UUID) *uuid.UUID {
	if !v.Valid {
		return nil
	}
	id := uuid.UUID(v.Bytes)
	return &id
}
