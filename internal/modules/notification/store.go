// README: Notification store backed by PostgreSQL.
package notification

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wander/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const notificationColumns = `
	id, user_id, type, title, message, priority, data, related_id, related_model,
	is_read, read_at, delivery_status, failure_reason, sent_at, created_at, expires_at`

func (s *Store) Create(ctx context.Context, n *Notification) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		string(n.ID), string(n.UserID), string(n.Type), n.Title, n.Message, string(n.Priority),
		n.Data, n.RelatedID, n.RelatedModel,
		n.IsRead, n.ReadAt, string(n.DeliveryStatus), n.FailureReason, n.SentAt, n.CreatedAt, n.ExpiresAt,
	)
	return err
}

func (s *Store) SetDelivery(ctx context.Context, id types.ID, status DeliveryStatus, reason string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE notifications
		SET delivery_status = $2,
			failure_reason = $3,
			sent_at = CASE WHEN $2 = 'SENT' THEN $4 ELSE sent_at END
		WHERE id = $1`,
		string(id), string(status), reason, at,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Notification, error) {
	row := s.db.QueryRow(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, string(id))
	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return n, err
}

func (s *Store) ListByUser(ctx context.Context, userID types.ID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	var total int
	if err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE user_id = $1 AND ($2 = FALSE OR is_read = FALSE)`,
		string(userID), unreadOnly,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE user_id = $1 AND ($2 = FALSE OR is_read = FALSE)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`,
		string(userID), unreadOnly, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

func (s *Store) UnreadCount(ctx context.Context, userID types.ID) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = FALSE`,
		string(userID),
	).Scan(&n)
	return n, err
}

func (s *Store) MarkRead(ctx context.Context, id, userID types.ID, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE notifications
		SET is_read = TRUE, read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND user_id = $2`,
		string(id), string(userID), at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) MarkAllRead(ctx context.Context, userID types.ID, at time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE notifications
		SET is_read = TRUE, read_at = $2
		WHERE user_id = $1 AND is_read = FALSE`,
		string(userID), at,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) Delete(ctx context.Context, id, userID types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM notifications WHERE id = $1 AND user_id = $2`, string(id), string(userID))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) DeleteAll(ctx context.Context, userID types.ID) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM notifications WHERE user_id = $1`, string(userID))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM notifications WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(
		&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.Priority, &n.Data, &n.RelatedID, &n.RelatedModel,
		&n.IsRead, &n.ReadAt, &n.DeliveryStatus, &n.FailureReason, &n.SentAt, &n.CreatedAt, &n.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}
