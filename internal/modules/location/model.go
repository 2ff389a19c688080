// README: Location sample recorded on a walk route.
package location

import (
	"time"

	"wander/internal/apperr"
	"wander/internal/types"
)

var (
	ErrIncompleteSample = apperr.New(apperr.KindValidation, "latitude, longitude and timestamp are required")
	ErrOutOfBounds      = apperr.New(apperr.KindValidation, "coordinates out of range")
)

// Sample is one route point. Optional sensor fields are nil when the client
// did not report them.
type Sample struct {
	Lat       *float64   `json:"latitude"`
	Lng       *float64   `json:"longitude"`
	Timestamp *time.Time `json:"timestamp"`
	Accuracy  *float64   `json:"accuracy,omitempty"`
	Speed     *float64   `json:"speed,omitempty"`
	Heading   *float64   `json:"heading,omitempty"`
}

// Point is a stored, validated route point.
type Point struct {
	types.Point
	Timestamp time.Time `json:"timestamp"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
}

// Normalize checks the sample and converts it into a route point.
func (s Sample) Normalize() (Point, error) {
	if s.Lat == nil || s.Lng == nil || s.Timestamp == nil || s.Timestamp.IsZero() {
		return Point{}, ErrIncompleteSample
	}
	p := types.Point{Lat: *s.Lat, Lng: *s.Lng}
	if !p.Valid() {
		return Point{}, ErrOutOfBounds
	}
	return Point{
		Point:     p,
		Timestamp: s.Timestamp.UTC(),
		Accuracy:  s.Accuracy,
		Speed:     s.Speed,
		Heading:   s.Heading,
	}, nil
}

// NewSample builds a sample from plain values.
func NewSample(lat, lng float64, ts time.Time) Sample {
	return Sample{Lat: &lat, Lng: &lng, Timestamp: &ts}
}
