// Package geo provides great-circle distance for GPS proximity checks.
package geo

import (
	"math"

	"github.com/velocityfibre/polelink/internal/model"
)

// earthRadiusMeters is the mean Earth radius used by the Haversine formula.
const earthRadiusMeters = 6_371_000

// DistanceMeters returns the great-circle distance between two points.
// Symmetric, non-negative, zero for identical points. Callers guard
// against absent coordinates; this function assumes both are present.
func DistanceMeters(a, b model.LatLng) float64 {
	phi1 := a.Lat * math.Pi / 180
	phi2 := b.Lat * math.Pi / 180
	dPhi := (b.Lat - a.Lat) * math.Pi / 180
	dLambda := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusMeters * c
}
