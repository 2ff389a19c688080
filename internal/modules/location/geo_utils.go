// Package location — geo_utils contains pure geographic computation helpers.
package location

import (
	"math"

	"wander/internal/types"
)

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance in kilometres between two points.
func HaversineKm(a, b types.Point) float64 {
	return haversineKm(a.Lat, a.Lng, b.Lat, b.Lng)
}

func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := degreesToRadians(lat2 - lat1)
	dLng := degreesToRadians(lng2 - lng1)

	rLat1 := degreesToRadians(lat1)
	rLat2 := degreesToRadians(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// RouteDistanceKm sums the haversine distance over consecutive route points.
func RouteDistanceKm(route []Point) float64 {
	total := 0.0
	for i := 1; i < len(route); i++ {
		total += HaversineKm(route[i-1].Point, route[i].Point)
	}
	return total
}

// RoundKm rounds a distance to metre precision.
func RoundKm(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Round2 rounds to two decimals, the precision used for display distances.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// SortByDistance performs an insertion sort (fine for small N) on any slice
// where each element exposes a distance via the accessor function.
func SortByDistance[T any](items []T, dist func(T) float64) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && dist(items[j]) > dist(key) {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}
