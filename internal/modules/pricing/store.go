// README: Pricing store backed by PostgreSQL; holds operator overrides of the fare rate.
package pricing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var ErrNoRate = errors.New("no active fare rate")

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) GetActiveRate(ctx context.Context) (Rate, error) {
	row := s.db.QueryRow(ctx, `
		SELECT base_rate_per_half_hour::text, commission_rate::text, currency, effective_from
		FROM fare_rates
		WHERE effective_from <= NOW()
		ORDER BY effective_from DESC
		LIMIT 1`)
	var base, commission string
	var r Rate
	err := row.Scan(&base, &commission, &r.Currency, &r.EffectiveFrom)
	if errors.Is(err, pgx.ErrNoRows) {
		return Rate{}, ErrNoRate
	}
	if err != nil {
		return Rate{}, err
	}
	if r.BaseRatePerHalfHour, err = decimal.NewFromString(base); err != nil {
		return Rate{}, err
	}
	if r.CommissionRate, err = decimal.NewFromString(commission); err != nil {
		return Rate{}, err
	}
	return r, nil
}
