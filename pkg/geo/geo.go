// Package geo holds the pure coordinate math the collection engine depends
// on. Every collection decision goes through Distance, so this package stays
// free of side effects and external calls.
package geo

import (
	"math"

	"github.com/stashhunt/stashd/pkg"
)

// EarthRadiusM is the mean Earth radius used by the great-circle formula.
const EarthRadiusM = 6371000.0

const metersPerFoot = 0.3048

// Distance returns the great-circle distance between two coordinates in
// meters using the Haversine formula. Accuracy is sub-meter for points within
// tens of kilometers, which covers every spawn radius in the game.
func Distance(a, b pkg.Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	deltaLat := (b.Lat - a.Lat) * math.Pi / 180
	deltaLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(deltaLng/2)*math.Sin(deltaLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusM * c
}

// Offset returns the coordinate reached by travelling distanceM meters from
// origin along the given bearing (radians, 0 = north). It uses the small-
// distance planar approximation, which is what the spawner needs: placement
// error at game radii is centimeters.
func Offset(origin pkg.Coordinate, bearingRad, distanceM float64) pkg.Coordinate {
	latOffset := (distanceM / EarthRadiusM) * (180 / math.Pi)
	lngOffset := latOffset / math.Cos(origin.Lat*math.Pi/180)

	return pkg.Coordinate{
		Lat: origin.Lat + latOffset*math.Cos(bearingRad),
		Lng: origin.Lng + lngOffset*math.Sin(bearingRad),
	}
}

// MetersToFeet converts meters to feet. The client surfaces remaining
// distance to the player in feet.
func MetersToFeet(m float64) float64 {
	return m / metersPerFoot
}

// FeetToMeters converts feet to meters.
func FeetToMeters(ft float64) float64 {
	return ft * metersPerFoot
}
