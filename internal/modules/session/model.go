// README: Walk session captures a live walk: route, accrued distance and duration, end handshake and SOS.
package session

import (
	"time"

	"wander/internal/modules/location"
	"wander/internal/modules/pricing"
	"wander/internal/types"
)

type Status string

const (
	StatusActive         Status = "ACTIVE"
	StatusPaymentPending Status = "PAYMENT_PENDING"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
)

type Session struct {
	ID         types.ID `json:"sessionId"`
	RequestID  types.ID `json:"requestId"`
	WandererID types.ID `json:"wandererId"`
	WalkerID   types.ID `json:"walkerId"`
	Status     Status   `json:"status"`

	StartTime       time.Time        `json:"startTime"`
	EndTime         *time.Time       `json:"endTime,omitempty"`
	Route           []location.Point `json:"route"`
	TotalDistanceKm float64          `json:"totalDistance"`
	DurationMinutes int              `json:"duration"`

	WandererEndRequested   bool       `json:"wandererEndRequested"`
	WandererEndRequestedAt *time.Time `json:"wandererEndRequestedAt,omitempty"`
	WalkerEndRequested     bool       `json:"walkerEndRequested"`
	WalkerEndRequestedAt   *time.Time `json:"walkerEndRequestedAt,omitempty"`

	WandererLocation *location.Point `json:"wandererLocation,omitempty"`
	WalkerLocation   *location.Point `json:"walkerLocation,omitempty"`

	SOSTriggered bool         `json:"sosTriggered"`
	SOSAt        *time.Time   `json:"sosTriggeredAt,omitempty"`
	SOSLocation  *types.Point `json:"sosLocation,omitempty"`
	SOSReason    string       `json:"sosReason,omitempty"`
	SOSBy        *types.ID    `json:"sosBy,omitempty"`

	// Fare is captured once when the session finalises.
	Fare         *pricing.Quote `json:"fare,omitempty"`
	CancelReason string         `json:"cancelReason,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

var AllowedTransitions = map[Status]map[Status]bool{
	StatusActive: {
		StatusPaymentPending: true,
		StatusCancelled:      true,
	},
	StatusPaymentPending: {
		StatusCompleted: true,
		StatusCancelled: true,
	},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

func (s *Session) IsParticipant(userID types.ID) bool {
	return userID != "" && (userID == s.WandererID || userID == s.WalkerID)
}

// Counterpart returns the other participant.
func (s *Session) Counterpart(userID types.ID) types.ID {
	if userID == s.WandererID {
		return s.WalkerID
	}
	return s.WandererID
}

func (s *Session) LastPoint() *location.Point {
	if len(s.Route) == 0 {
		return nil
	}
	return &s.Route[len(s.Route)-1]
}

func (s *Session) EndRequestedBy(userID types.ID) bool {
	if userID == s.WandererID {
		return s.WandererEndRequested
	}
	return s.WalkerEndRequested
}

func (s *Session) lastLocationOf(userID types.ID) *location.Point {
	if userID == s.WandererID {
		return s.WandererLocation
	}
	return s.WalkerLocation
}

func (s *Session) setLastLocation(userID types.ID, p location.Point) {
	if userID == s.WandererID {
		s.WandererLocation = &p
		return
	}
	s.WalkerLocation = &p
}

func (s *Session) markEnd(userID types.ID, at time.Time) {
	if userID == s.WandererID {
		s.WandererEndRequested = true
		s.WandererEndRequestedAt = &at
		return
	}
	s.WalkerEndRequested = true
	s.WalkerEndRequestedAt = &at
}

// appendPoint extends the route and recomputes the total from the full route,
// so rounding never accumulates across samples.
func (s *Session) appendPoint(p location.Point) float64 {
	var inc float64
	if last := s.LastPoint(); last != nil {
		inc = location.HaversineKm(last.Point, p.Point)
	}
	s.Route = append(s.Route, p)
	s.TotalDistanceKm = location.RoundKm(location.RouteDistanceKm(s.Route))
	return inc
}

// accrueDuration never lets the recorded duration go backwards.
func (s *Session) accrueDuration(now time.Time) {
	if m := elapsedMinutes(s.StartTime, now); m > s.DurationMinutes {
		s.DurationMinutes = m
	}
}

// PaymentSummary is the fare view shown once the walk has ended.
type PaymentSummary struct {
	SessionID       types.ID      `json:"sessionId"`
	Status          Status        `json:"status"`
	DurationMinutes int           `json:"duration"`
	TotalDistanceKm float64       `json:"totalDistance"`
	Fare            pricing.Quote `json:"fare"`
	WandererID      types.ID      `json:"wandererId"`
	WalkerID        types.ID      `json:"walkerId"`
}

// EndResult reports whether this end request finalised the session.
type EndResult struct {
	Session    *Session `json:"session"`
	Finalized  bool     `json:"finalized"`
	WaitingFor types.ID `json:"waitingFor,omitempty"`
}

type PartnerLocation struct {
	PartnerID types.ID        `json:"partnerId"`
	Location  *location.Point `json:"location"`
}
