// README: Rating store backed by PostgreSQL; uniqueness per session and reviewer is enforced by the schema.
package rating

import (
	"context"
	"errors"

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

const ratingColumns = `id, session_id, reviewer_id, reviewed_id, value, review_text, tags, is_reported, report_reason, created_at`

func (s *Store) Create(ctx context.Context, r *Rating) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO ratings (id, session_id, reviewer_id, reviewed_id, value, review_text, tags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(r.ID), string(r.SessionID), string(r.ReviewerID), string(r.ReviewedID),
		r.Value, r.Text, r.Tags, r.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyRated
	}
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Rating, error) {
	return scanRating(s.db.QueryRow(ctx, `SELECT `+ratingColumns+` FROM ratings WHERE id = $1`, string(id)))
}

func (s *Store) Exists(ctx context.Context, sessionID, reviewerID types.ID) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM ratings WHERE session_id = $1 AND reviewer_id = $2)`,
		string(sessionID), string(reviewerID),
	).Scan(&ok)
	return ok, err
}

func (s *Store) ListForUser(ctx context.Context, userID types.ID, limit, offset int) ([]*Rating, int, error) {
	var total int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM ratings WHERE reviewed_id = $1`, string(userID)).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+ratingColumns+` FROM ratings
		WHERE reviewed_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		string(userID), limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*Rating
	for rows.Next() {
		r, err := scanRating(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// Stats aggregates from the full rating set of the user.
func (s *Store) Stats(ctx context.Context, userID types.ID) (Stats, error) {
	st := Stats{Distribution: map[int]int{}}
	rows, err := s.db.Query(ctx, `
		SELECT value, count(*) FROM ratings WHERE reviewed_id = $1 GROUP BY value`,
		string(userID),
	)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var value, n int
		if err := rows.Scan(&value, &n); err != nil {
			return st, err
		}
		st.Distribution[value] = n
		st.Count += n
		st.Sum += value * n
	}
	return st, rows.Err()
}

func (s *Store) Report(ctx context.Context, id types.ID, reason string) error {
	tag, err := s.db.Exec(ctx, `UPDATE ratings SET is_reported = TRUE, report_reason = $2 WHERE id = $1`, string(id), reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CreateFeedback(ctx context.Context, f *Feedback) error {
	var partner *string
	if f.PartnerID != nil {
		v := string(*f.PartnerID)
		partner = &v
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO feedback (id, session_id, user_id, user_role, partner_id, rating, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(f.ID), string(f.SessionID), string(f.UserID), string(f.UserRole), partner,
		f.Rating, f.Message, f.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateFeedback
	}
	return err
}

func scanRating(row pgx.Row) (*Rating, error) {
	var (
		r                  Rating
		id, ses, rev, revd string
	)
	err := row.Scan(&id, &ses, &rev, &revd, &r.Value, &r.Text, &r.Tags, &r.IsReported, &r.ReportReason, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.ID, r.SessionID = types.ID(id), types.ID(ses)
	r.ReviewerID, r.ReviewedID = types.ID(rev), types.ID(revd)
	if r.Tags == nil {
		r.Tags = []string{}
	}
	return &r, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
