package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reborn-market/reborn-api/internal/models"
	"github.com/reborn-market/reborn-api/internal/store"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// querier общий набор методов pgxpool.Pool и pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore реализация store.Store поверх пула pgx
type PGStore struct {
	pool *pgxpool.Pool
}

// NewStore создает хранилище на пуле соединений
func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

var _ store.Store = (*PGStore)(nil)

const offerColumns = `o.id, o.listing_id, o.buyer_id, o.seller_id, o.status, o.meet_place, o.meet_time,
	o.note, o.reject_reason, o.last_actor, o.qr_token, o.qr_scanned_at, o.created_at, o.updated_at`

const listingColumns = `l.id, l.seller_id, l.status, l.title, l.price, l.created_at, l.updated_at`

// offerRow nullable-поля предложения при чтении
type offerRow struct {
	note, rejectReason, qrToken pgtype.Text
	qrScannedAt                 pgtype.Timestamptz
}

func (r *offerRow) targets(o *models.Offer) []any {
	return []any{
		&o.ID, &o.ListingID, &o.BuyerID, &o.SellerID, &o.Status, &o.MeetPlace, &o.MeetTime,
		&r.note, &r.rejectReason, &o.LastActor, &r.qrToken, &r.qrScannedAt, &o.CreatedAt, &o.UpdatedAt,
	}
}

func (r *offerRow) apply(o *models.Offer) {
	o.Note = textPtr(r.note)
	o.RejectReason = textPtr(r.rejectReason)
	o.QRToken = textPtr(r.qrToken)
	if r.qrScannedAt.Valid {
		t := r.qrScannedAt.Time
		o.QRScannedAt = &t
	}
}

func listingTargets(l *models.Listing) []any {
	return []any{&l.ID, &l.SellerID, &l.Status, &l.Title, &l.Price, &l.CreatedAt, &l.UpdatedAt}
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}

func getListing(ctx context.Context, q querier, id uuid.UUID, lock bool) (*models.Listing, error) {
	sql := `SELECT ` + listingColumns + ` FROM listings l WHERE l.id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	var l models.Listing
	if err := q.QueryRow(ctx, sql, id).Scan(listingTargets(&l)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка при получении объявления: %w", err)
	}
	return &l, nil
}

func getOffer(ctx context.Context, q querier, id uuid.UUID, lock bool) (*models.Offer, *models.Listing, error) {
	sql := `SELECT ` + offerColumns + `, ` + listingColumns + `
		FROM offers o JOIN listings l ON l.id = o.listing_id
		WHERE o.id = $1`
	if lock {
		sql += ` FOR UPDATE OF o, l`
	}

	var (
		o   models.Offer
		l   models.Listing
		row offerRow
	)
	dest := append(row.targets(&o), listingTargets(&l)...)
	if err := q.QueryRow(ctx, sql, id).Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, fmt.Errorf("ошибка при получении предложения: %w", err)
	}
	row.apply(&o)
	return &o, &l, nil
}

func tokenExists(ctx context.Context, q querier, token string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM offers WHERE qr_token = $1)`, token).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка при проверке qr_token: %w", err)
	}
	return exists, nil
}

func (s *PGStore) GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	return getListing(ctx, s.pool, id, false)
}

func (s *PGStore) GetOffer(ctx context.Context, id uuid.UUID) (*models.Offer, *models.Listing, error) {
	return getOffer(ctx, s.pool, id, false)
}

func (s *PGStore) QRTokenExists(ctx context.Context, token string) (bool, error) {
	return tokenExists(ctx, s.pool, token)
}

func (s *PGStore) FindOfferIDByToken(ctx context.Context, token string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `SELECT id FROM offers WHERE qr_token = $1`, token).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, store.ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("ошибка при поиске предложения по токену: %w", err)
	}
	return id, nil
}

// ListOffers строит запрос по фильтру; курсор работает по ключу (updated_at|created_at, id)
func (s *PGStore) ListOffers(ctx context.Context, q store.OfferQuery) ([]models.Offer, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.PartyID != nil {
		p := arg(*q.PartyID)
		switch q.Role {
		case models.ActorBuyer:
			where = append(where, "o.buyer_id = "+p)
		case models.ActorSeller:
			where = append(where, "o.seller_id = "+p)
		default:
			where = append(where, "(o.buyer_id = "+p+" OR o.seller_id = "+p+")")
		}
	}
	if q.ListingID != nil {
		where = append(where, "o.listing_id = "+arg(*q.ListingID))
	}
	if q.Status != "" {
		where = append(where, "o.status = "+arg(string(q.Status)))
	}
	if q.Q != "" {
		p := arg("%" + q.Q + "%")
		where = append(where, "(l.title ILIKE "+p+" OR o.meet_place ILIKE "+p+")")
	}

	orderCol := "o.updated_at"
	if q.Order == store.OrderCreatedDesc {
		orderCol = "o.created_at"
	}
	if q.Cursor != nil {
		p := arg(*q.Cursor)
		where = append(where, fmt.Sprintf("(%s, o.id) < (SELECT %s, c.id FROM offers c WHERE c.id = %s)",
			orderCol, strings.Replace(orderCol, "o.", "c.", 1), p))
	}

	sql := `SELECT ` + offerColumns + `, ` + listingColumns + `
		FROM offers o JOIN listings l ON l.id = o.listing_id`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += fmt.Sprintf(" ORDER BY %s DESC, o.id DESC", orderCol)
	if q.Limit > 0 {
		sql += " LIMIT " + arg(q.Limit)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении списка предложений: %w", err)
	}
	defer rows.Close()

	var offers []models.Offer
	for rows.Next() {
		var (
			o   models.Offer
			l   models.Listing
			row offerRow
		)
		if err := rows.Scan(append(row.targets(&o), listingTargets(&l)...)...); err != nil {
			return nil, fmt.Errorf("ошибка при сканировании предложения: %w", err)
		}
		row.apply(&o)
		o.Listing = l.Summary()
		offers = append(offers, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка при итерации предложений: %w", err)
	}
	return offers, nil
}

func (s *PGStore) OfferParties(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.OfferParties, error) {
	out := make(map[uuid.UUID]models.OfferParties, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT id, buyer_id, seller_id, listing_id FROM offers WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении участников предложений: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p models.OfferParties
		if err := rows.Scan(&p.ID, &p.BuyerID, &p.SellerID, &p.ListingID); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (s *PGStore) ListingSellers(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]uuid.UUID, error) {
	out := make(map[uuid.UUID]uuid.UUID, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT id, seller_id FROM listings WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении продавцов объявлений: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, seller uuid.UUID
		if err := rows.Scan(&id, &seller); err != nil {
			return nil, err
		}
		out[id] = seller
	}
	return out, rows.Err()
}

// InTx выполняет fn в транзакции; коммит только если fn вернул nil
func (s *PGStore) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка при начале транзакции: %w", err)
	}
	defer tx.Rollback(ctx) // Откатываем транзакцию в случае ошибки

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка при фиксации транзакции: %w", err)
	}
	return nil
}

// pgTx реализация store.Tx
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetListingForUpdate(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	return getListing(ctx, t.tx, id, true)
}

func (t *pgTx) GetOfferForUpdate(ctx context.Context, id uuid.UUID) (*models.Offer, *models.Listing, error) {
	return getOffer(ctx, t.tx, id, true)
}

func (t *pgTx) QRTokenExists(ctx context.Context, token string) (bool, error) {
	return tokenExists(ctx, t.tx, token)
}

func (t *pgTx) InsertOffer(ctx context.Context, o *models.Offer) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO offers (id, listing_id, buyer_id, seller_id, status, meet_place, meet_time,
			note, reject_reason, last_actor, qr_token, qr_scanned_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, o.ID, o.ListingID, o.BuyerID, o.SellerID, string(o.Status), o.MeetPlace, o.MeetTime,
		o.Note, o.RejectReason, string(o.LastActor), o.QRToken, o.QRScannedAt, o.CreatedAt, o.UpdatedAt)
	return mapWriteError("ошибка при создании предложения", err)
}

func (t *pgTx) UpdateOffer(ctx context.Context, o *models.Offer, guard store.Guard) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE offers
		SET status = $2, meet_place = $3, meet_time = $4, note = $5, reject_reason = $6,
			last_actor = $7, qr_token = $8, qr_scanned_at = $9, updated_at = $10
		WHERE id = $1 AND status = $11 AND last_actor = $12
	`, o.ID, string(o.Status), o.MeetPlace, o.MeetTime, o.Note, o.RejectReason,
		string(o.LastActor), o.QRToken, o.QRScannedAt, o.UpdatedAt,
		string(guard.Status), string(guard.LastActor))
	if err != nil {
		return mapWriteError("ошибка при обновлении предложения", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConflict
	}
	return nil
}

func (t *pgTx) SetListingStatus(ctx context.Context, id uuid.UUID, status models.ListingStatus) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE listings SET status = $2, updated_at = $3 WHERE id = $1
	`, id, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("ошибка при обновлении статуса объявления: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertNotification(ctx context.Context, n *models.Notification) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO notifications (id, user_id, type, offer_id, listing_id, title, message, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, n.ID, n.UserID, string(n.Type), n.OfferID, n.ListingID, n.Title, n.Message, n.IsRead, n.CreatedAt)
	return mapWriteError("ошибка при создании уведомления", err)
}

func mapWriteError(msg string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgUniqueViolation && strings.Contains(pgErr.ConstraintName, "qr_token"):
			return store.ErrDuplicateToken
		case pgErr.Code == pgForeignKeyViolation:
			return store.ErrNotFound
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}
