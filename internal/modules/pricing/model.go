// README: Fare rate and quote definitions.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"wander/internal/types"
)

// Rate prices walking time. The per-minute rate is BaseRatePerHalfHour / 30.
type Rate struct {
	BaseRatePerHalfHour decimal.Decimal
	CommissionRate      decimal.Decimal
	Currency            string
	EffectiveFrom       time.Time
}

// Quote is the fare for a given duration. Commission plus Earnings always
// equals Total exactly.
type Quote struct {
	DurationMinutes int             `json:"durationMinutes"`
	Total           types.Money     `json:"total"`
	Commission      types.Money     `json:"commission"`
	Earnings        types.Money     `json:"earnings"`
	RatePerMinute   decimal.Decimal `json:"ratePerMinute"`
}
