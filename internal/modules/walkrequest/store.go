// README: Walk request store backed by PostgreSQL with optimistic status versioning.
package walkrequest

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

const requestColumns = `
	id, wanderer_id, walker_id, status, status_version,
	pickup_lat, pickup_lng, address, duration_minutes, pace, conversation_level,
	languages, special_requirements, scheduled_for,
	otp, otp_expires_at, otp_verified, otp_attempts,
	walker_lat, walker_lng, walker_location_at,
	created_at, assigned_at, matched_at, started_at, completed_at, cancelled_at,
	cancellation_reason, cancelled_by`

func (s *Store) Create(ctx context.Context, r *Request) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO walk_requests (
			id, wanderer_id, status, status_version,
			pickup_lat, pickup_lng, address, duration_minutes, pace, conversation_level,
			languages, special_requirements, scheduled_for, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		string(r.ID), string(r.WandererID), string(r.Status), r.StatusVersion,
		r.Pickup.Lat, r.Pickup.Lng, r.Address, r.DurationMinutes, string(r.Pace), string(r.ConversationLevel),
		r.Languages, r.SpecialRequirements, r.ScheduledFor, r.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrActiveRequest
	}
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Request, error) {
	row := s.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM walk_requests WHERE id = $1`, string(id))
	r, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// Save writes every mutable column when the row still has the expected status
// and version. It reports false when another writer got there first.
func (s *Store) Save(ctx context.Context, r *Request, from Status, version int) (bool, error) {
	var walkerLat, walkerLng *float64
	if r.WalkerLocation != nil {
		walkerLat, walkerLng = &r.WalkerLocation.Lat, &r.WalkerLocation.Lng
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE walk_requests
		SET status = $1,
			status_version = status_version + 1,
			walker_id = $2,
			otp = $3,
			otp_expires_at = $4,
			otp_verified = $5,
			walker_lat = $6,
			walker_lng = $7,
			walker_location_at = $8,
			assigned_at = $9,
			matched_at = $10,
			started_at = $11,
			completed_at = $12,
			cancelled_at = $13,
			cancellation_reason = $14,
			cancelled_by = $15,
			otp_attempts = $19
		WHERE id = $16 AND status = $17 AND status_version = $18`,
		string(r.Status),
		idPtr(r.WalkerID),
		nullIfEmpty(r.OTP),
		r.OTPExpiresAt,
		r.OTPVerified,
		walkerLat, walkerLng, r.WalkerLocationAt,
		r.AssignedAt, r.MatchedAt, r.StartedAt, r.CompletedAt, r.CancelledAt,
		r.CancelReason,
		idPtr(r.CancelledBy),
		string(r.ID),
		string(from),
		version,
		r.OTPAttempts,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetWalkerLocation records the assigned walker's position without bumping the version.
func (s *Store) SetWalkerLocation(ctx context.Context, id, walkerID types.ID, p types.Point, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE walk_requests
		SET walker_lat = $3, walker_lng = $4, walker_location_at = $5
		WHERE id = $1 AND walker_id = $2 AND status IN ('MATCHED','IN_PROGRESS')`,
		string(id), string(walkerID), p.Lat, p.Lng, at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO walk_request_events (
			request_id, from_status, to_status, actor_type, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.RequestID),
		string(e.FromStatus),
		string(e.ToStatus),
		e.ActorType,
		idPtr(e.ActorID),
		e.CreatedAt,
	)
	return err
}

func (s *Store) HasActiveByWanderer(ctx context.Context, wandererID types.ID) (bool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM walk_requests
			WHERE wanderer_id = $1
			  AND status IN ('PENDING','MATCHED','IN_PROGRESS')
		)`, string(wandererID),
	)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// FindActive returns the newest request in which the user takes part and
// that has not reached a terminal state.
func (s *Store) FindActive(ctx context.Context, userID types.ID) (*Request, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+requestColumns+`
		FROM walk_requests
		WHERE (wanderer_id = $1 OR walker_id = $1)
		  AND status IN ('PENDING','MATCHED','IN_PROGRESS','PAYMENT_PENDING')
		ORDER BY created_at DESC
		LIMIT 1`, string(userID),
	)
	r, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *Store) History(ctx context.Context, userID types.ID, limit, offset int) ([]*Request, int, error) {
	var total int
	if err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM walk_requests
		WHERE (wanderer_id = $1 OR walker_id = $1) AND status IN ('COMPLETED','CANCELLED')`,
		string(userID),
	).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+requestColumns+`
		FROM walk_requests
		WHERE (wanderer_id = $1 OR walker_id = $1) AND status IN ('COMPLETED','CANCELLED')
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, string(userID), limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	out, err := collect(rows)
	return out, total, err
}

func (s *Store) PendingForWalker(ctx context.Context, walkerID types.ID, since time.Time, limit int) ([]*Request, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+requestColumns+`
		FROM walk_requests
		WHERE walker_id = $1 AND status = 'PENDING' AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3`, string(walkerID), since, limit,
	)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]*Request, error) {
	defer rows.Close()
	var out []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRequest(row pgx.Row) (*Request, error) {
	var r Request
	var walkerID, otp, cancelledBy *string
	var walkerLat, walkerLng *float64
	err := row.Scan(
		&r.ID, &r.WandererID, &walkerID, &r.Status, &r.StatusVersion,
		&r.Pickup.Lat, &r.Pickup.Lng, &r.Address, &r.DurationMinutes, &r.Pace, &r.ConversationLevel,
		&r.Languages, &r.SpecialRequirements, &r.ScheduledFor,
		&otp, &r.OTPExpiresAt, &r.OTPVerified, &r.OTPAttempts,
		&walkerLat, &walkerLng, &r.WalkerLocationAt,
		&r.CreatedAt, &r.AssignedAt, &r.MatchedAt, &r.StartedAt, &r.CompletedAt, &r.CancelledAt,
		&r.CancelReason, &cancelledBy,
	)
	if err != nil {
		return nil, err
	}
	r.WalkerID = toIDPtr(walkerID)
	r.CancelledBy = toIDPtr(cancelledBy)
	if otp != nil {
		r.OTP = *otp
	}
	if walkerLat != nil && walkerLng != nil {
		r.WalkerLocation = &types.Point{Lat: *walkerLat, Lng: *walkerLng}
	}
	return &r, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toIDPtr(v *string) *types.ID {
	if v == nil {
		return nil
	}
	id := types.ID(*v)
	return &id
}

func nullIfEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
