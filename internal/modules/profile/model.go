// README: Profile holds walker/wanderer attributes, availability and wallet balances.
package profile

import (
	"time"

	"wander/internal/types"
)

type Profile struct {
	UserID        types.ID     `json:"userId"`
	Name          string       `json:"name"`
	Role          types.Role   `json:"role"`
	Phone         string       `json:"phone,omitempty"`
	Bio           string       `json:"bio,omitempty"`
	Languages     []string     `json:"languages"`
	IsAvailable   bool         `json:"isAvailable"`
	Location      *types.Point `json:"location,omitempty"`
	LocationAt    *time.Time   `json:"locationUpdatedAt,omitempty"`
	Rating        float64      `json:"rating"`
	TotalRatings  int          `json:"totalRatings"`
	TotalWalks    int          `json:"totalWalks"`
	WalletBalance types.Money  `json:"-"`
	TotalEarnings types.Money  `json:"-"`
	DeviceToken   string       `json:"-"`
	Verification  Verification `json:"verification"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

type VerificationStatus string

const (
	VerificationNone     VerificationStatus = "NONE"
	VerificationPending  VerificationStatus = "PENDING"
	VerificationVerified VerificationStatus = "VERIFIED"
	VerificationRejected VerificationStatus = "REJECTED"
)

// Verification is the identity document a user submitted for review. The
// document number and image reference are never exposed on the profile.
type Verification struct {
	Status         VerificationStatus `json:"status"`
	DocumentType   string             `json:"documentType,omitempty"`
	DocumentNumber string             `json:"-"`
	DocumentImage  string             `json:"-"`
	SubmittedAt    *time.Time         `json:"submittedAt,omitempty"`
	VerifiedAt     *time.Time         `json:"verifiedAt,omitempty"`
}

type Wallet struct {
	Balance       types.Money `json:"balance"`
	TotalEarnings types.Money `json:"totalEarnings"`
	TotalWalks    int         `json:"totalWalks"`
}
