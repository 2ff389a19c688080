// README: Profile store backed by PostgreSQL.
package profile

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

const profileColumns = `
	user_id, name, role, phone, bio, languages, is_available,
	lat, lng, location_at, rating, total_ratings, total_walks,
	wallet_balance, total_earnings, currency, device_token,
	verification_status, document_type, document_number, document_image,
	verification_submitted_at, verified_at, created_at, updated_at`

func (s *Store) Get(ctx context.Context, userID types.ID) (*Profile, error) {
	row := s.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE user_id = $1`, string(userID))
	p, err := scanProfile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *Store) GetMany(ctx context.Context, ids []types.ID) (map[types.ID]*Profile, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = string(id)
	}
	rows, err := s.db.Query(ctx, `SELECT `+profileColumns+` FROM profiles WHERE user_id = ANY($1)`, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[types.ID]*Profile, len(ids))
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out[p.UserID] = p
	}
	return out, rows.Err()
}

// Upsert creates the profile or updates its descriptive fields. Role is fixed at creation.
func (s *Store) Upsert(ctx context.Context, p *Profile) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO profiles (user_id, name, role, phone, bio, languages, currency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (user_id) DO UPDATE
		SET name = EXCLUDED.name,
			phone = COALESCE(NULLIF(EXCLUDED.phone, ''), profiles.phone),
			bio = EXCLUDED.bio,
			languages = EXCLUDED.languages,
			updated_at = EXCLUDED.updated_at`,
		string(p.UserID), p.Name, string(p.Role), p.Phone, p.Bio, p.Languages, p.WalletBalance.Currency, p.UpdatedAt,
	)
	return err
}

func (s *Store) SetAvailability(ctx context.Context, userID types.ID, available bool, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE profiles SET is_available = $2, updated_at = $3
		WHERE user_id = $1 AND role = 'WALKER'`,
		string(userID), available, at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) SetLocation(ctx context.Context, userID types.ID, p types.Point, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE profiles SET lat = $2, lng = $3, location_at = $4, updated_at = $4
		WHERE user_id = $1`,
		string(userID), p.Lat, p.Lng, at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) SetDeviceToken(ctx context.Context, userID types.ID, token string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE profiles SET device_token = $2, updated_at = $3 WHERE user_id = $1`,
		string(userID), token, at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) SetRating(ctx context.Context, userID types.ID, avg float64, count int, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE profiles SET rating = $2, total_ratings = $3, updated_at = $4 WHERE user_id = $1`,
		string(userID), avg, count, at,
	)
	return err
}

// SubmitVerification replaces the submitted documents unless the profile is
// already verified.
func (s *Store) SubmitVerification(ctx context.Context, userID types.ID, v Verification) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE profiles
		SET verification_status = $2, document_type = $3, document_number = $4, document_image = $5,
			verification_submitted_at = $6, verified_at = NULL, updated_at = $6
		WHERE user_id = $1 AND verification_status <> 'VERIFIED'`,
		string(userID), string(v.Status), v.DocumentType, v.DocumentNumber, v.DocumentImage, v.SubmittedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// DeviceToken implements the push token lookup.
func (s *Store) DeviceToken(ctx context.Context, userID types.ID) (string, error) {
	var token string
	err := s.db.QueryRow(ctx, `SELECT device_token FROM profiles WHERE user_id = $1`, string(userID)).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return token, err
}

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	var lat, lng *float64
	var balance, earnings int64
	var currency string
	err := row.Scan(
		&p.UserID, &p.Name, &p.Role, &p.Phone, &p.Bio, &p.Languages, &p.IsAvailable,
		&lat, &lng, &p.LocationAt, &p.Rating, &p.TotalRatings, &p.TotalWalks,
		&balance, &earnings, &currency, &p.DeviceToken,
		&p.Verification.Status, &p.Verification.DocumentType, &p.Verification.DocumentNumber, &p.Verification.DocumentImage,
		&p.Verification.SubmittedAt, &p.Verification.VerifiedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lat != nil && lng != nil {
		p.Location = &types.Point{Lat: *lat, Lng: *lng}
	}
	p.WalletBalance = types.Money{Amount: balance, Currency: currency}
	p.TotalEarnings = types.Money{Amount: earnings, Currency: currency}
	return &p, nil
}
