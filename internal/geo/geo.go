// Package geo provides great-circle distance math and radius filtering for
// provider matching.
package geo

import "math"

// EarthRadiusKm is the mean Earth radius used for all distance math.
const EarthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two coordinates in
// kilometers.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLng := radians(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Point is a candidate location with a self-declared service radius.
type Point struct {
	ID              string
	Lat             float64
	Lng             float64
	ServiceRadiusKm float64
}

// WithinRadius is a Point annotated with its distance from the query
// location.
type WithinRadius struct {
	Point
	DistanceKm float64
}

// FilterByRadius returns the points whose distance from (lat, lng) is within
// both the query radius (when set) and the point's own service radius.
func FilterByRadius(points []Point, lat, lng float64, radiusKm *float64) []WithinRadius {
	var out []WithinRadius
	for _, p := range points {
		d := HaversineKm(lat, lng, p.Lat, p.Lng)

		limit := p.ServiceRadiusKm
		if radiusKm != nil && *radiusKm < limit {
			limit = *radiusKm
		}
		if d <= limit {
			out = append(out, WithinRadius{Point: p, DistanceKm: d})
		}
	}
	return out
}

// ValidCoordinates reports whether a latitude/longitude pair is in range.
func ValidCoordinates(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
