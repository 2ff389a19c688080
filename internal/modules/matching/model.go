// README: Matching candidates surfaced to a wanderer.
package matching

import (
	"time"

	"wander/internal/types"
)

// Nearby is a raw geo hit from the walker index.
type Nearby struct {
	WalkerID   types.ID
	DistanceKm float64
}

type Candidate struct {
	WalkerID   types.ID    `json:"walkerId"`
	Name       string      `json:"name"`
	Rating     float64     `json:"rating"`
	TotalWalks int         `json:"totalWalks"`
	Languages  []string    `json:"languages"`
	Bio        string      `json:"bio,omitempty"`
	Location   types.Point `json:"location"`
	DistanceKm float64     `json:"distanceKm"`
}

type FindResult struct {
	RequestID  types.ID    `json:"requestId"`
	RadiusKm   float64     `json:"radiusKm"`
	Candidates []Candidate `json:"walkers"`
	Notified   int         `json:"notified"`
}

const (
	// maxRadiusKm bounds client supplied search radii.
	maxRadiusKm = 50.0
	// notifiedTTL keeps the notified set for as long as a request may stay pending.
	notifiedTTL = 24 * time.Hour
)
