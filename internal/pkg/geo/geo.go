// Package geo implements the great-circle distance check used by the
// admission pipeline's geofence gate. Pure functions, no state.
package geo

import "math"

// earthRadiusM is the spherical-earth approximation radius.
const earthRadiusM = 6371000.0

// DistanceMeters returns the great-circle distance between two points via the
// haversine formula.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// WithinRadius reports whether (lat, lng) lies within radiusM meters of the
// center. A point at exactly radiusM is inside.
func WithinRadius(lat, lng, centerLat, centerLng, radiusM float64) bool {
	return DistanceMeters(lat, lng, centerLat, centerLng) <= radiusM
}
