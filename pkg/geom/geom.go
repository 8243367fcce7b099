package geom

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"
)

// Contains reports whether the geographic geometry contains the point.
// A point geometry is a zero-area zone: it only "contains" an exactly
// equal coordinate, which real-world queries essentially never produce.
func Contains(g orb.Geometry, pt orb.Point) bool {
	switch v := g.(type) {
	case orb.Point:
		return v == pt
	case orb.Polygon:
		return planar.PolygonContains(v, pt)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(v, pt)
	}
	return false
}

// DistanceKm returns the ground distance in kilometers from a geographic
// point to a geographic geometry, zero when the point lies inside it.
// The distance is computed on the metric plane and corrected by the
// Mercator scale factor at the query latitude.
func DistanceKm(g orb.Geometry, pt orb.Point) (float64, error) {
	if Contains(g, pt) {
		return 0, nil
	}
	mg, err := ToMetric(g)
	if err != nil {
		return 0, err
	}
	mp := project.WGS84.ToMercator(pt)
	meters := metricDistance(mg, mp) / MetricScale(pt.Lat())
	return meters / 1000, nil
}

// metricDistance is the plane distance from a point to the nearest part
// of a geometry's boundary.
func metricDistance(g orb.Geometry, pt orb.Point) float64 {
	switch v := g.(type) {
	case orb.Point:
		return planar.Distance(v, pt)
	case orb.Polygon:
		return polygonBoundaryDistance(v, pt)
	case orb.MultiPolygon:
		best := math.Inf(1)
		for _, p := range v {
			if d := polygonBoundaryDistance(p, pt); d < best {
				best = d
			}
		}
		return best
	}
	return math.Inf(1)
}
