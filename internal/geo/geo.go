package geo

import "math"

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

const earthRadiusMeters = 6371000.0

// DistanceMeters returns the great-circle distance between two points
// using the haversine formula. It never panics: non-finite inputs
// produce a very large distance instead. Coordinate range validation
// is the caller's job.
func DistanceMeters(a, b Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	// Floating-point rounding can push h a hair past 1 for antipodal
	// points, which would make Asin return NaN.
	if h > 1 {
		h = 1
	}
	d := 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
	if math.IsNaN(d) {
		return math.MaxFloat64
	}
	return d
}

// WithinBoundary reports whether point lies within radiusMeters of
// center. A point exactly on the radius counts as inside.
func WithinBoundary(center Coordinate, radiusMeters float64, point Coordinate) bool {
	return DistanceMeters(center, point) <= radiusMeters
}
