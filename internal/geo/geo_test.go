package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceMeters(t *testing.T) {
	center := Coordinate{Lat: 24.436924752254967, Lon: 77.15831449580436}

	t.Run("zero self distance", func(t *testing.T) {
		assert.Equal(t, 0.0, DistanceMeters(center, center))
	})

	t.Run("non-negative and symmetric", func(t *testing.T) {
		points := []Coordinate{
			{Lat: 24.44, Lon: 77.16},
			{Lat: -33.86, Lon: 151.21},
			{Lat: 0, Lon: 0},
			{Lat: 89.9, Lon: -179.9},
		}
		for _, p := range points {
			d := DistanceMeters(center, p)
			assert.GreaterOrEqual(t, d, 0.0)
			assert.InDelta(t, d, DistanceMeters(p, center), 1e-6)
		}
	})

	t.Run("one degree of longitude at the equator", func(t *testing.T) {
		d := DistanceMeters(Coordinate{Lat: 0, Lon: 0}, Coordinate{Lat: 0, Lon: 1})
		// 2*pi*R/360 for R = 6371 km
		assert.InDelta(t, 111194.9, d, 1.0)
	})

	t.Run("antipodal points stay finite", func(t *testing.T) {
		d := DistanceMeters(Coordinate{Lat: 90, Lon: 0}, Coordinate{Lat: -90, Lon: 0})
		assert.False(t, math.IsNaN(d))
		assert.InDelta(t, math.Pi*6371000, d, 1.0)
	})

	t.Run("non-finite input yields very large distance, no panic", func(t *testing.T) {
		d := DistanceMeters(center, Coordinate{Lat: math.NaN(), Lon: 77.16})
		assert.Equal(t, math.MaxFloat64, d)
	})
}

func TestWithinBoundary(t *testing.T) {
	center := Coordinate{Lat: 0, Lon: 0}
	point := Coordinate{Lat: 0, Lon: 0.0009} // ~100m east

	dist := DistanceMeters(center, point)

	// A point exactly on the radius is inside; a hair past it is not.
	assert.True(t, WithinBoundary(center, dist, point))
	assert.False(t, WithinBoundary(center, dist-0.01, point))

	assert.True(t, WithinBoundary(center, 0, center))
}
