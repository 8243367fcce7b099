// Package geom wraps the planar geometry operations the zone engine needs:
// reprojection between geographic and metric coordinates, inward polygon
// insetting, containment tests and point-to-geometry distances.
//
// All geographic coordinates are WGS84 lon/lat; the metric plane is Web
// Mercator (EPSG:3857), matching the projection the upstream data pipeline
// uses. A single fixed projection is enough for continental-scale zone
// sets; per-zone locally optimal projections are out of scope.
package geom

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// maxMercatorLat is the latitude beyond which Web Mercator diverges.
const maxMercatorLat = 85.05112878

// GeometryError marks an input geometry the engine refuses to process
// rather than silently mis-project.
type GeometryError struct {
	Reason string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("geometry error: %s", e.Reason)
}

// ToMetric reprojects a geographic geometry onto the metric plane.
// The input is cloned first; reprojection is pure with no side effects.
// Degenerate latitudes and antimeridian-crossing shapes are rejected.
func ToMetric(g orb.Geometry) (orb.Geometry, error) {
	if g == nil {
		return nil, &GeometryError{Reason: "nil geometry"}
	}
	if err := validateGeographic(g); err != nil {
		return nil, err
	}
	return project.Geometry(orb.Clone(g), project.WGS84.ToMercator), nil
}

// ToGeographic reprojects a metric geometry back to geographic coordinates.
func ToGeographic(g orb.Geometry) orb.Geometry {
	if g == nil {
		return nil
	}
	return project.Geometry(orb.Clone(g), project.Mercator.ToWGS84)
}

// validateGeographic rejects shapes Web Mercator cannot represent:
// out-of-range coordinates and rings spanning the antimeridian.
func validateGeographic(g orb.Geometry) error {
	b := g.Bound()
	if math.Abs(b.Min.Lat()) > maxMercatorLat || math.Abs(b.Max.Lat()) > maxMercatorLat {
		return &GeometryError{Reason: fmt.Sprintf("latitude beyond mercator range (%.4f)", maxMercatorLat)}
	}
	if b.Min.Lon() < -180 || b.Max.Lon() > 180 {
		return &GeometryError{Reason: "longitude out of range"}
	}
	if b.Max.Lon()-b.Min.Lon() > 180 {
		return &GeometryError{Reason: "geometry spans the antimeridian"}
	}
	return nil
}

// MetricScale returns the Web Mercator scale factor at the given latitude.
// Ground distances must be multiplied by it before being used as distances
// on the metric plane, and plane distances divided by it on the way back.
func MetricScale(lat float64) float64 {
	return project.MercatorScaleFactor(orb.Point{0, lat})
}
