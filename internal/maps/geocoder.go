package maps

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"wander/internal/types"
)

// Geocoder turns coordinates into street addresses via the Google Maps API.
type Geocoder struct {
	client   *maps.Client
	language string
}

// NewGeocoder creates a Geocoder with the given API Key.
func NewGeocoder(apiKey string) (*Geocoder, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &Geocoder{client: client, language: "en"}, nil
}

// ReverseGeocode returns the best formatted address for p.
func (g *Geocoder) ReverseGeocode(ctx context.Context, p types.Point) (string, error) {
	results, err := g.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng:   &maps.LatLng{Lat: p.Lat, Lng: p.Lng},
		Language: g.language,
	})
	if err != nil {
		return "", fmt.Errorf("maps api error: %w", err)
	}
	if len(results) == 0 {
		return "", fmt.Errorf("no address found")
	}
	return results[0].FormattedAddress, nil
}
