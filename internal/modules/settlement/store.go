// README: Settlement store backed by PostgreSQL. Completion books every side effect in one transaction.
package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"wander/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const paymentColumns = `
	id, session_id, wanderer_id, walker_id,
	total_amount, platform_commission, walker_earnings, currency,
	payment_method, order_ref, payment_ref, signature, status, failure_reason,
	created_at, completed_at`

// Create inserts a PENDING payment. The partial unique index on session_id
// rejects a second open payment with ErrOrderExists.
func (s *Store) Create(ctx context.Context, p *Payment) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO payments (
			id, session_id, wanderer_id, walker_id,
			total_amount, platform_commission, walker_earnings, currency,
			payment_method, order_ref, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		string(p.ID), string(p.SessionID), string(p.WandererID), string(p.WalkerID),
		p.Total.Amount, p.Commission.Amount, p.Earnings.Amount, p.Total.Currency,
		p.PaymentMethod, p.OrderRef, string(p.Status), p.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrOrderExists
	}
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Payment, error) {
	return scanPayment(s.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, string(id)))
}

func (s *Store) GetByOrderRef(ctx context.Context, orderRef string) (*Payment, error) {
	return scanPayment(s.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_ref = $1`, orderRef))
}

// OpenBySession returns the PENDING or SUCCESS payment of a session.
func (s *Store) OpenBySession(ctx context.Context, sessionID types.ID) (*Payment, error) {
	return scanPayment(s.db.QueryRow(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE session_id = $1 AND status IN ('PENDING','SUCCESS')
		ORDER BY created_at DESC
		LIMIT 1`, string(sessionID)))
}

// Complete marks a PENDING payment SUCCESS and, in the same transaction,
// completes the session and its request and credits the walker. It reports
// false when the payment was no longer PENDING.
func (s *Store) Complete(ctx context.Context, c Completion) (*Payment, bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	p, err := scanPayment(tx.QueryRow(ctx, `
		UPDATE payments
		SET status = 'SUCCESS', payment_ref = $2, signature = $3, completed_at = $4
		WHERE id = $1 AND status = 'PENDING'
		RETURNING `+paymentColumns,
		string(c.PaymentID), c.PaymentRef, c.Signature, c.At,
	))
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE walk_sessions
		SET status = 'COMPLETED', end_time = COALESCE(end_time, $2), updated_at = $2
		WHERE id = $1 AND status = 'PAYMENT_PENDING'`,
		string(p.SessionID), c.At,
	)
	if err != nil {
		return nil, false, err
	}
	// The walker is credited only while the session still awaits payment.
	if tag.RowsAffected() != 1 {
		return nil, false, ErrInvalidState
	}

	var requestID string
	err = tx.QueryRow(ctx, `
		UPDATE walk_requests
		SET status = 'COMPLETED', status_version = status_version + 1, completed_at = $2
		WHERE id = (SELECT request_id FROM walk_sessions WHERE id = $1)
		  AND status = 'PAYMENT_PENDING'
		RETURNING id`,
		string(p.SessionID), c.At,
	).Scan(&requestID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, false, err
	default:
		if _, err := tx.Exec(ctx, `
			INSERT INTO walk_request_events (request_id, from_status, to_status, actor_type, created_at)
			VALUES ($1, 'PAYMENT_PENDING', 'COMPLETED', 'system', $2)`,
			requestID, c.At,
		); err != nil {
			return nil, false, err
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE profiles
		SET wallet_balance = wallet_balance + $2,
			total_earnings = total_earnings + $2,
			total_walks = total_walks + 1,
			is_available = TRUE,
			updated_at = $3
		WHERE user_id = $1`,
		string(p.WalkerID), p.Earnings.Amount, c.At,
	); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// MarkFailed moves a PENDING payment to FAILED.
func (s *Store) MarkFailed(ctx context.Context, orderRef, reason string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE payments SET status = 'FAILED', failure_reason = $2
		WHERE order_ref = $1 AND status = 'PENDING'`,
		orderRef, reason,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Successful lists SUCCESS payments where the user paid or earned, newest first.
func (s *Store) Successful(ctx context.Context, userID types.ID, limit, offset int) ([]*Payment, int, error) {
	var total int
	if err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM payments
		WHERE (wanderer_id = $1 OR walker_id = $1) AND status = 'SUCCESS'`,
		string(userID),
	).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE (wanderer_id = $1 OR walker_id = $1) AND status = 'SUCCESS'
		ORDER BY completed_at DESC
		LIMIT $2 OFFSET $3`,
		string(userID), limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (s *Store) CreateTopUp(ctx context.Context, t *TopUp) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO wallet_topups (order_ref, user_id, amount, currency, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.OrderRef, string(t.UserID), t.Amount.Amount, t.Amount.Currency, string(t.Status), t.CreatedAt,
	)
	return err
}

func (s *Store) GetTopUp(ctx context.Context, orderRef string) (*TopUp, error) {
	return scanTopUp(s.db.QueryRow(ctx, `
		SELECT order_ref, user_id, amount, currency, status, payment_ref, created_at, completed_at
		FROM wallet_topups WHERE order_ref = $1`, orderRef))
}

// CompleteTopUp credits the wallet once per order.
func (s *Store) CompleteTopUp(ctx context.Context, orderRef, paymentRef string, at time.Time) (*TopUp, bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	t, err := scanTopUp(tx.QueryRow(ctx, `
		UPDATE wallet_topups
		SET status = 'SUCCESS', payment_ref = $2, completed_at = $3
		WHERE order_ref = $1 AND status = 'PENDING'
		RETURNING order_ref, user_id, amount, currency, status, payment_ref, created_at, completed_at`,
		orderRef, paymentRef, at,
	))
	if errors.Is(err, ErrTopUpNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE profiles SET wallet_balance = wallet_balance + $2, updated_at = $3
		WHERE user_id = $1`,
		string(t.UserID), t.Amount.Amount, at,
	); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return t, true, nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var (
		p                          Payment
		id, sesID, wID, kID        string
		total, commission, earning int64
		currency, status           string
	)
	err := row.Scan(
		&id, &sesID, &wID, &kID,
		&total, &commission, &earning, &currency,
		&p.PaymentMethod, &p.OrderRef, &p.PaymentRef, &p.Signature, &status, &p.FailureReason,
		&p.CreatedAt, &p.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.ID, p.SessionID = types.ID(id), types.ID(sesID)
	p.WandererID, p.WalkerID = types.ID(wID), types.ID(kID)
	p.Total = types.Money{Amount: total, Currency: currency}
	p.Commission = types.Money{Amount: commission, Currency: currency}
	p.Earnings = types.Money{Amount: earning, Currency: currency}
	p.Status = Status(status)
	return &p, nil
}

func scanTopUp(row pgx.Row) (*TopUp, error) {
	var (
		out              TopUp
		userID, currency string
		amount           int64
		status           string
	)
	err := row.Scan(&out.OrderRef, &userID, &amount, &currency, &status, &out.PaymentRef, &out.CreatedAt, &out.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTopUpNotFound
	}
	if err != nil {
		return nil, err
	}
	out.UserID = types.ID(userID)
	out.Amount = types.Money{Amount: amount, Currency: currency}
	out.Status = Status(status)
	return &out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
