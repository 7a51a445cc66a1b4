package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeBoundingBoxContainsCenter(t *testing.T) {
	centers := []Coordinate{
		{Latitude: 0, Longitude: 0},
		{Latitude: 37.7749, Longitude: -122.4194},
		{Latitude: -33.8688, Longitude: 151.2093},
		{Latitude: 64.1466, Longitude: -21.9426},
		{Latitude: -89.5, Longitude: 10},
		{Latitude: 89.9, Longitude: 179.9},
	}

	for _, c := range centers {
		box := ComputeBoundingBox(c, DefaultRadiusMeters)
		assert.Less(t, box.LatStart, c.Latitude)
		assert.Greater(t, box.LatEnd, c.Latitude)
		assert.Less(t, box.LongStart, c.Longitude)
		assert.Greater(t, box.LongEnd, c.Longitude)
		assert.True(t, box.Contains(c))
		assert.True(t, box.Valid())
	}
}

func TestComputeBoundingBoxHalfWidths(t *testing.T) {
	c := Coordinate{Latitude: 45, Longitude: 7}
	box := ComputeBoundingBox(c, 20000)

	wantLat := 20000.0 / 111000.0
	wantLong := 20000.0 / (111000.0 * math.Cos(45*math.Pi/180))

	assert.InDelta(t, wantLat, c.Latitude-box.LatStart, 1e-9)
	assert.InDelta(t, wantLat, box.LatEnd-c.Latitude, 1e-9)
	assert.InDelta(t, wantLong, c.Longitude-box.LongStart, 1e-9)
	assert.InDelta(t, wantLong, box.LongEnd-c.Longitude, 1e-9)
}

func TestComputeBoundingBoxClampsNearPoles(t *testing.T) {
	atClamp := ComputeBoundingBox(Coordinate{Latitude: 89, Longitude: 0}, 20000)
	beyond := ComputeBoundingBox(Coordinate{Latitude: 90, Longitude: 0}, 20000)

	assert.InDelta(t, atClamp.LongEnd, beyond.LongEnd, 1e-9)
	assert.False(t, math.IsInf(beyond.LongEnd, 0))

	huge := LongitudeHalfWidth(89, 1e9)
	assert.Equal(t, 180.0, huge)
}

func TestBoundingBoxContainsExcludesOutside(t *testing.T) {
	box := ComputeBoundingBox(Coordinate{Latitude: 51.5, Longitude: -0.12}, DefaultRadiusMeters)

	assert.False(t, box.Contains(Coordinate{Latitude: 48.85, Longitude: 2.35}))
	assert.True(t, box.Contains(box.Center()))
}

func TestCoordinateValidate(t *testing.T) {
	require.NoError(t, Coordinate{Latitude: 10, Longitude: 20}.Validate())
	assert.Error(t, Coordinate{Latitude: 91, Longitude: 0}.Validate())
	assert.Error(t, Coordinate{Latitude: 0, Longitude: -181}.Validate())
	assert.Error(t, Coordinate{Latitude: math.NaN(), Longitude: 0}.Validate())
}
