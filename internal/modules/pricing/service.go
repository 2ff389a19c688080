// README: Fare engine; converts walked minutes into total, platform commission and walker earnings.
package pricing

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"wander/internal/types"
)

var minutesPerHalfHour = decimal.NewFromInt(30)

type RateSource interface {
	GetActiveRate(ctx context.Context) (Rate, error)
}

type Service struct {
	store RateSource

	mu   sync.RWMutex
	rate Rate
}

// NewService starts from the configured default rate. store may be nil.
func NewService(store RateSource, defaults Rate) *Service {
	return &Service{store: store, rate: defaults}
}

// DefaultRate builds a Rate from plain config values.
func DefaultRate(basePerHalfHour, commission float64, currency string) Rate {
	return Rate{
		BaseRatePerHalfHour: decimal.NewFromFloat(basePerHalfHour),
		CommissionRate:      decimal.NewFromFloat(commission),
		Currency:            currency,
	}
}

// Refresh replaces the active rate with the operator-configured row, if any.
func (s *Service) Refresh(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	r, err := s.store.GetActiveRate(ctx)
	if errors.Is(err, ErrNoRate) {
		return nil
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.rate = r
	s.mu.Unlock()
	return nil
}

func (s *Service) Rate() Rate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rate
}

// Quote computes the fare for durationMinutes. Negative durations are treated as zero.
// The total is rounded to minor units first, the commission is rounded
// independently, and earnings are the remainder.
func (s *Service) Quote(durationMinutes int) Quote {
	return Compute(s.Rate(), durationMinutes)
}

func Compute(r Rate, durationMinutes int) Quote {
	if durationMinutes < 0 {
		durationMinutes = 0
	}
	perMinute := r.BaseRatePerHalfHour.Div(minutesPerHalfHour)
	total := perMinute.Mul(decimal.NewFromInt(int64(durationMinutes))).Round(2)
	commission := total.Mul(r.CommissionRate).Round(2)
	if commission.GreaterThan(total) {
		commission = total
	}
	if commission.IsNegative() {
		commission = decimal.Zero
	}
	totalMoney := types.MoneyFromDecimal(total, r.Currency)
	commissionMoney := types.MoneyFromDecimal(commission, r.Currency)
	return Quote{
		DurationMinutes: durationMinutes,
		Total:           totalMoney,
		Commission:      commissionMoney,
		Earnings:        types.Money{Amount: totalMoney.Amount - commissionMoney.Amount, Currency: r.Currency},
		RatePerMinute:   perMinute,
	}
}
