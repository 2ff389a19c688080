// README: Settlement records for walk payments and wallet top-ups.
package settlement

import (
	"time"

	"wander/internal/types"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusSuccess  Status = "SUCCESS"
	StatusFailed   Status = "FAILED"
	StatusRefunded Status = "REFUNDED"
)

// Payment settles one walk session. Commission plus Earnings equals Total.
type Payment struct {
	ID            types.ID    `json:"id"`
	SessionID     types.ID    `json:"sessionId"`
	WandererID    types.ID    `json:"wandererId"`
	WalkerID      types.ID    `json:"walkerId"`
	Total         types.Money `json:"total"`
	Commission    types.Money `json:"commission"`
	Earnings      types.Money `json:"earnings"`
	PaymentMethod string      `json:"paymentMethod"`
	OrderRef      string      `json:"orderRef"`
	PaymentRef    string      `json:"paymentRef,omitempty"`
	Signature     string      `json:"-"`
	Status        Status      `json:"status"`
	FailureReason string      `json:"failureReason,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	CompletedAt   *time.Time  `json:"completedAt,omitempty"`
}

func (p *Payment) IsParty(userID types.ID) bool {
	return userID != "" && (userID == p.WandererID || userID == p.WalkerID)
}

type OrderResult struct {
	Payment  *Payment `json:"payment"`
	KeyID    string   `json:"keyId,omitempty"`
	Existing bool     `json:"existing"`
}

type TransactionType string

const (
	TransactionPayment TransactionType = "PAYMENT"
	TransactionEarning TransactionType = "EARNING"
)

// Transaction is one settlement seen from a single user's side.
type Transaction struct {
	ID          types.ID        `json:"id"`
	UserID      types.ID        `json:"userId"`
	Type        TransactionType `json:"type"`
	Amount      types.Money     `json:"amount"`
	Description string          `json:"description"`
	Timestamp   *time.Time      `json:"timestamp"`
	ReferenceID types.ID        `json:"referenceId"`
	Status      Status          `json:"status"`
}

type TransactionPage struct {
	Items []Transaction `json:"transactions"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
	Total int           `json:"total"`
}

// TopUp credits a user's wallet once its gateway order is paid.
type TopUp struct {
	OrderRef    string      `json:"orderRef"`
	UserID      types.ID    `json:"userId"`
	Amount      types.Money `json:"amount"`
	Status      Status      `json:"status"`
	PaymentRef  string      `json:"paymentRef,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
}

// OrderRequest is what the gateway needs to open an order.
type OrderRequest struct {
	AmountMinor int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

const maxReceiptLen = 40

// Receipt builds a gateway receipt, cut to the gateway's length limit.
func Receipt(prefix string, id types.ID) string {
	r := prefix + string(id)
	if len(r) > maxReceiptLen {
		r = r[:maxReceiptLen]
	}
	return r
}
