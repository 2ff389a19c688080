// README: Session store backed by PostgreSQL. Mutations run under a row lock.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"wander/internal/modules/location"
	"wander/internal/modules/pricing"
	"wander/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const sessionColumns = `
	id, request_id, wanderer_id, walker_id, status,
	start_time, end_time, route, total_distance_km, duration_minutes,
	wanderer_end_requested, wanderer_end_requested_at,
	walker_end_requested, walker_end_requested_at,
	wanderer_location, walker_location,
	sos_triggered, sos_at, sos_lat, sos_lng, sos_reason, sos_by,
	fare, cancel_reason, created_at, updated_at`

// Create inserts a new session. A second ACTIVE session for the same request
// violates the partial unique index and yields ErrAlreadyActive.
func (s *Store) Create(ctx context.Context, ses *Session) error {
	route, err := json.Marshal(ses.Route)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO walk_sessions (
			id, request_id, wanderer_id, walker_id, status,
			start_time, route, total_distance_km, duration_minutes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		string(ses.ID), string(ses.RequestID), string(ses.WandererID), string(ses.WalkerID), string(ses.Status),
		ses.StartTime, route, ses.TotalDistanceKm, ses.DurationMinutes, ses.CreatedAt, ses.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyActive
	}
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Session, error) {
	row := s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM walk_sessions WHERE id = $1`, string(id))
	return scanOne(row)
}

func (s *Store) ActiveByRequest(ctx context.Context, requestID types.ID) (*Session, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM walk_sessions
		WHERE request_id = $1 AND status = 'ACTIVE'`, string(requestID))
	return scanOne(row)
}

// LatestByRequest returns the most recent session of a request that was not cancelled.
func (s *Store) LatestByRequest(ctx context.Context, requestID types.ID) (*Session, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM walk_sessions
		WHERE request_id = $1 AND status <> 'CANCELLED'
		ORDER BY created_at DESC
		LIMIT 1`, string(requestID))
	return scanOne(row)
}

// Mutate loads the session with SELECT ... FOR UPDATE, applies fn and writes
// the result back in the same transaction. fn reports whether it changed
// anything; unchanged sessions are returned without a write. Errors from fn
// roll the transaction back.
func (s *Store) Mutate(ctx context.Context, id types.ID, fn func(*Session) (bool, error)) (*Session, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM walk_sessions WHERE id = $1 FOR UPDATE`, string(id))
	ses, err := scanOne(row)
	if err != nil {
		return nil, err
	}
	changed, err := fn(ses)
	if err != nil {
		return nil, err
	}
	if !changed {
		return ses, tx.Commit(ctx)
	}
	if err := update(ctx, tx, ses); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ses, nil
}

func update(ctx context.Context, tx pgx.Tx, ses *Session) error {
	route, err := json.Marshal(ses.Route)
	if err != nil {
		return err
	}
	wandererLoc, err := marshalOptional(ses.WandererLocation)
	if err != nil {
		return err
	}
	walkerLoc, err := marshalOptional(ses.WalkerLocation)
	if err != nil {
		return err
	}
	fare, err := marshalOptional(ses.Fare)
	if err != nil {
		return err
	}
	var sosLat, sosLng *float64
	if ses.SOSLocation != nil {
		sosLat, sosLng = &ses.SOSLocation.Lat, &ses.SOSLocation.Lng
	}
	var sosBy *string
	if ses.SOSBy != nil {
		v := string(*ses.SOSBy)
		sosBy = &v
	}
	tag, err := tx.Exec(ctx, `
		UPDATE walk_sessions
		SET status = $2,
			end_time = $3,
			route = $4,
			total_distance_km = $5,
			duration_minutes = $6,
			wanderer_end_requested = $7,
			wanderer_end_requested_at = $8,
			walker_end_requested = $9,
			walker_end_requested_at = $10,
			wanderer_location = $11,
			walker_location = $12,
			sos_triggered = $13,
			sos_at = $14,
			sos_lat = $15,
			sos_lng = $16,
			sos_reason = $17,
			sos_by = $18,
			fare = $19,
			cancel_reason = $20,
			updated_at = $21
		WHERE id = $1`,
		string(ses.ID), string(ses.Status), ses.EndTime, route, ses.TotalDistanceKm, ses.DurationMinutes,
		ses.WandererEndRequested, ses.WandererEndRequestedAt,
		ses.WalkerEndRequested, ses.WalkerEndRequestedAt,
		wandererLoc, walkerLoc,
		ses.SOSTriggered, ses.SOSAt, sosLat, sosLng, ses.SOSReason, sosBy,
		fare, ses.CancelReason, ses.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("update walk session %s: no row", ses.ID)
	}
	return nil
}

func marshalOptional[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func scanOne(row pgx.Row) (*Session, error) {
	var (
		ses                    Session
		id, reqID, wID, kID    string
		status                 string
		route                  []byte
		wandererLoc, walkerLoc []byte
		sosLat, sosLng         *float64
		sosBy                  *string
		fare                   []byte
	)
	err := row.Scan(
		&id, &reqID, &wID, &kID, &status,
		&ses.StartTime, &ses.EndTime, &route, &ses.TotalDistanceKm, &ses.DurationMinutes,
		&ses.WandererEndRequested, &ses.WandererEndRequestedAt,
		&ses.WalkerEndRequested, &ses.WalkerEndRequestedAt,
		&wandererLoc, &walkerLoc,
		&ses.SOSTriggered, &ses.SOSAt, &sosLat, &sosLng, &ses.SOSReason, &sosBy,
		&fare, &ses.CancelReason, &ses.CreatedAt, &ses.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ses.ID, ses.RequestID = types.ID(id), types.ID(reqID)
	ses.WandererID, ses.WalkerID = types.ID(wID), types.ID(kID)
	ses.Status = Status(status)
	if len(route) > 0 {
		if err := json.Unmarshal(route, &ses.Route); err != nil {
			return nil, fmt.Errorf("decode route: %w", err)
		}
	}
	if ses.WandererLocation, err = unmarshalOptional[location.Point](wandererLoc); err != nil {
		return nil, err
	}
	if ses.WalkerLocation, err = unmarshalOptional[location.Point](walkerLoc); err != nil {
		return nil, err
	}
	if ses.Fare, err = unmarshalOptional[pricing.Quote](fare); err != nil {
		return nil, err
	}
	if sosLat != nil && sosLng != nil {
		ses.SOSLocation = &types.Point{Lat: *sosLat, Lng: *sosLng}
	}
	if sosBy != nil {
		by := types.ID(*sosBy)
		ses.SOSBy = &by
	}
	return &ses, nil
}

func unmarshalOptional[T any](raw []byte) (*T, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
