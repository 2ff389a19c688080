// README: Walk request aggregate and status definitions.
package walkrequest

import (
	"time"

	"wander/internal/types"
)

type Status string

const (
	StatusNone           Status = "NONE"
	StatusPending        Status = "PENDING"
	StatusMatched        Status = "MATCHED"
	StatusInProgress     Status = "IN_PROGRESS"
	StatusPaymentPending Status = "PAYMENT_PENDING"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
)

// ActiveStatuses block a wanderer from opening another request.
var ActiveStatuses = []Status{StatusPending, StatusMatched, StatusInProgress}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Pace string

const (
	PaceSlow     Pace = "Slow"
	PaceModerate Pace = "Moderate"
	PaceFast     Pace = "Fast"
	PaceVeryFast Pace = "Very Fast"
)

type ConversationLevel string

const (
	ConversationSilent   ConversationLevel = "Silent"
	ConversationLight    ConversationLevel = "Light"
	ConversationModerate ConversationLevel = "Moderate"
	ConversationChatty   ConversationLevel = "Chatty"
)

type Request struct {
	ID                  types.ID          `json:"id"`
	WandererID          types.ID          `json:"wandererId"`
	WalkerID            *types.ID         `json:"walkerId,omitempty"`
	Status              Status            `json:"status"`
	StatusVersion       int               `json:"-"`
	Pickup              types.Point       `json:"pickup"`
	Address             string            `json:"address,omitempty"`
	DurationMinutes     int               `json:"durationMinutes"`
	Pace                Pace              `json:"pace"`
	ConversationLevel   ConversationLevel `json:"conversationLevel"`
	Languages           []string          `json:"languages"`
	SpecialRequirements string            `json:"specialRequirements,omitempty"`
	ScheduledFor        *time.Time        `json:"scheduledFor,omitempty"`

	OTP          string     `json:"-"`
	OTPExpiresAt *time.Time `json:"-"`
	OTPVerified  bool       `json:"otpVerified"`
	OTPAttempts  int        `json:"-"`

	WalkerLocation   *types.Point `json:"walkerLocation,omitempty"`
	WalkerLocationAt *time.Time   `json:"walkerLocationAt,omitempty"`

	CreatedAt    time.Time  `json:"createdAt"`
	AssignedAt   *time.Time `json:"assignedAt,omitempty"`
	MatchedAt    *time.Time `json:"matchedAt,omitempty"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	CancelledAt  *time.Time `json:"cancelledAt,omitempty"`
	CancelReason *string    `json:"cancellationReason,omitempty"`
	CancelledBy  *types.ID  `json:"cancelledBy,omitempty"`
}

// IsParticipant reports whether id is the wanderer or the bound walker.
func (r *Request) IsParticipant(id types.ID) bool {
	return id == r.WandererID || (r.WalkerID != nil && *r.WalkerID == id)
}

// Counterpart returns the other side of the request, if bound.
func (r *Request) Counterpart(id types.ID) (types.ID, bool) {
	if id == r.WandererID {
		if r.WalkerID == nil {
			return "", false
		}
		return *r.WalkerID, true
	}
	if r.WalkerID != nil && *r.WalkerID == id {
		return r.WandererID, true
	}
	return "", false
}

type Event struct {
	ID         int64
	RequestID  types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  string
	ActorID    *types.ID
	CreatedAt  time.Time
}

// AllowedTransitions represents the walk request state flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusPending:        {StatusMatched, StatusCancelled},
	StatusMatched:        {StatusInProgress, StatusCancelled},
	StatusInProgress:     {StatusPaymentPending, StatusCancelled},
	StatusPaymentPending: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}
