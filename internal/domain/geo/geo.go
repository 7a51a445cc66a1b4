// internal/domain/geo/geo.go

package geo

import (
	"fmt"
	"math"
)

const (
	// DefaultRadiusMeters is the radius used for nearby discovery and geo-chat
	DefaultRadiusMeters = 20000.0

	// metersPerDegree approximates the length of one degree of latitude
	metersPerDegree = 111000.0

	// maxLatitude is the largest absolute latitude used for the longitude
	// correction; beyond it cos(lat) approaches zero
	maxLatitude = 89.0

	// maxLongitudeHalfWidth caps the longitude half-width of a box
	maxLongitudeHalfWidth = 180.0
)

// Coordinate is a point reported by the location provider
type Coordinate struct {
	Latitude  float64 `json:"latitude" firestore:"latitude"`
	Longitude float64 `json:"longitude" firestore:"longitude"`
}

// Validate checks the coordinate is within the valid ranges
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range [-90,90]", c.Latitude)
	}
	if math.IsNaN(c.Longitude) || c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range [-180,180]", c.Longitude)
	}
	return nil
}

// BoundingBox is an axis-aligned lat/long rectangle approximating a circle
type BoundingBox struct {
	LongStart float64 `json:"longStart" firestore:"longStart"`
	LongEnd   float64 `json:"longEnd" firestore:"longEnd"`
	LatStart  float64 `json:"latStart" firestore:"latStart"`
	LatEnd    float64 `json:"latEnd" firestore:"latEnd"`
}

// ComputeBoundingBox derives the query region around center.
//
// The latitude half-width is radius/111000 degrees. The longitude half-width
// is corrected by cos(lat); the latitude fed into the correction is clamped to
// ±89° so boxes near the poles stay bounded, and the half-width never exceeds
// 180°. Coordinates are not validated here.
func ComputeBoundingBox(center Coordinate, radiusMeters float64) BoundingBox {
	latHalf := LatitudeHalfWidth(radiusMeters)
	longHalf := LongitudeHalfWidth(center.Latitude, radiusMeters)

	return BoundingBox{
		LongStart: center.Longitude - longHalf,
		LongEnd:   center.Longitude + longHalf,
		LatStart:  center.Latitude - latHalf,
		LatEnd:    center.Latitude + latHalf,
	}
}

// LatitudeHalfWidth returns the latitude half-width in degrees for a radius
func LatitudeHalfWidth(radiusMeters float64) float64 {
	return radiusMeters / metersPerDegree
}

// LongitudeHalfWidth returns the latitude-corrected longitude half-width in degrees
func LongitudeHalfWidth(latitude, radiusMeters float64) float64 {
	lat := math.Max(-maxLatitude, math.Min(maxLatitude, latitude))
	half := radiusMeters / (metersPerDegree * math.Cos(lat*math.Pi/180))
	return math.Min(half, maxLongitudeHalfWidth)
}

// Contains reports whether the point lies inside the box, edges included
func (b BoundingBox) Contains(c Coordinate) bool {
	return b.LatStart <= c.Latitude && c.Latitude <= b.LatEnd &&
		b.LongStart <= c.Longitude && c.Longitude <= b.LongEnd
}

// Valid reports whether the box has positive extent on both axes
func (b BoundingBox) Valid() bool {
	return b.LatStart < b.LatEnd && b.LongStart < b.LongEnd
}

// Center returns the midpoint of the box
func (b BoundingBox) Center() Coordinate {
	return Coordinate{
		Latitude:  (b.LatStart + b.LatEnd) / 2,
		Longitude: (b.LongStart + b.LongEnd) / 2,
	}
}

// Fields returns the box as document fields
func (b BoundingBox) Fields() map[string]interface{} {
	return map[string]interface{}{
		"longStart": b.LongStart,
		"longEnd":   b.LongEnd,
		"latStart":  b.LatStart,
		"latEnd":    b.LatEnd,
	}
}
