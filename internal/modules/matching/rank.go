// README: Caller-selected ordering of search results and great-circle distance helpers.
package matching

import (
	"cmp"
	"math"
	"slices"

	"carpool/internal/types"
)

// SortOrder is how the caller wants candidates ordered. Find itself keeps pool order.
type SortOrder string

const (
	SortNone     SortOrder = ""
	SortDetour   SortOrder = "detour"
	SortDistance SortOrder = "distance"
)

func (o SortOrder) Valid() bool {
	return o == SortNone || o == SortDetour || o == SortDistance
}

const earthRadiusKm = 6371.0

// haversineKm returns the great-circle distance in kilometres between two points.
func haversineKm(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)
	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// Sort orders candidates in place; equal keys keep their relative order.
// SortDistance measures from pickup to each ride's start and is ignored when
// pickup has no coordinates.
func Sort(cs []Candidate, by SortOrder, pickup types.Location) {
	switch by {
	case SortDetour:
		slices.SortStableFunc(cs, func(a, b Candidate) int {
			return cmp.Compare(a.Evaluation.AddedDetourMinutes, b.Evaluation.AddedDetourMinutes)
		})
	case SortDistance:
		if !pickup.HasCoordinates() {
			return
		}
		slices.SortStableFunc(cs, func(a, b Candidate) int {
			return cmp.Compare(haversineKm(pickup.Point, a.Ride.Start.Point), haversineKm(pickup.Point, b.Ride.Start.Point))
		})
	}
}
