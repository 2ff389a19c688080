// README: Ratings and free-form feedback left after a completed walk.
package rating

import (
	"time"

	"wander/internal/types"
)

type Rating struct {
	ID           types.ID  `json:"id"`
	SessionID    types.ID  `json:"sessionId"`
	ReviewerID   types.ID  `json:"reviewerId"`
	ReviewedID   types.ID  `json:"reviewedUserId"`
	Value        int       `json:"rating"`
	Text         string    `json:"reviewText,omitempty"`
	Tags         []string  `json:"tags"`
	IsReported   bool      `json:"isReported"`
	ReportReason string    `json:"reportReason,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Review is a rating as shown on the reviewed user's page.
type Review struct {
	Rating
	ReviewerName string `json:"reviewerName"`
}

type Page struct {
	Items []Review `json:"ratings"`
	Page  int      `json:"page"`
	Limit int      `json:"limit"`
	Total int      `json:"total"`
}

// Stats aggregates every rating a user has received.
type Stats struct {
	Count        int
	Sum          int
	Distribution map[int]int
}

type Summary struct {
	Average      float64     `json:"averageRating"`
	Total        int         `json:"totalRatings"`
	Distribution map[int]int `json:"ratingDistribution"`
}

type FeedbackRole string

const (
	FeedbackWalker   FeedbackRole = "WALKER"
	FeedbackWanderer FeedbackRole = "WANDERER"
	FeedbackUnknown  FeedbackRole = "UNKNOWN"
)

type Feedback struct {
	ID        types.ID     `json:"feedbackId"`
	SessionID types.ID     `json:"sessionId"`
	UserID    types.ID     `json:"userId"`
	UserRole  FeedbackRole `json:"userRole"`
	PartnerID *types.ID    `json:"partnerId,omitempty"`
	Rating    int          `json:"rating"`
	Message   string       `json:"message,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

const (
	minValue   = 1
	maxValue   = 5
	maxTextLen = 500
	maxTags    = 10
)
