// Package zone loads restricted-zone records from their sources and
// derives the safety-shrunk geometries containment queries run against.
// Everything here happens at load or reload time, never on the query path.
package zone

import (
	"fmt"

	"github.com/paulmach/orb"

	"github.com/kass/go-geofence/pkg/geom"
	"github.com/kass/go-geofence/pkg/logger"
	"github.com/kass/go-geofence/pkg/models"
)

// Prepare derives a safety geometry for every zone by eroding its raw
// boundary inward by marginMeters. Input records are not mutated.
//
// A zone whose geometry cannot be processed is skipped and logged; the
// whole prepare fails only when a majority of zones fail. The result is
// deterministic: the same input and margin always produce identical
// safety geometries.
func Prepare(raw []models.ZoneRecord, marginMeters float64) ([]models.ZoneRecord, error) {
	if marginMeters < 0 {
		return nil, fmt.Errorf("safety margin must be >= 0, got %v", marginMeters)
	}

	out := make([]models.ZoneRecord, 0, len(raw))
	failed := 0
	for _, z := range raw {
		prepared, err := prepareOne(z, marginMeters)
		if err != nil {
			failed++
			logger.L().Warn("zone_prepare_skip", "zone", z.ID, "err", err)
			continue
		}
		out = append(out, prepared)
	}
	if failed > 0 && failed*2 > len(raw) {
		return nil, fmt.Errorf("prepare failed for %d of %d zones", failed, len(raw))
	}
	return out, nil
}

func prepareOne(z models.ZoneRecord, margin float64) (models.ZoneRecord, error) {
	switch g := z.RawGeometry.(type) {
	case orb.Point:
		// A zone known only as a node has no boundary to erode; the
		// zero-area point stands in as its safety geometry.
		z.SafetyGeometry = g
		return z, nil
	case orb.Polygon:
		parts, err := insetGeographic(g, margin)
		if err != nil {
			return z, err
		}
		z.SafetyGeometry = safetyFromParts(parts)
		return z, nil
	case orb.MultiPolygon:
		var parts orb.MultiPolygon
		for _, p := range g {
			ps, err := insetGeographic(p, margin)
			if err != nil {
				return z, err
			}
			parts = append(parts, ps...)
		}
		z.SafetyGeometry = safetyFromParts(parts)
		return z, nil
	case nil:
		return z, &geom.GeometryError{Reason: "zone has no geometry"}
	default:
		return z, &geom.GeometryError{Reason: fmt.Sprintf("unsupported geometry type %T", g)}
	}
}

// insetGeographic erodes one geographic polygon by margin ground meters
// and returns the surviving parts; a section of the polygon thinner than
// twice the margin is consumed, which can split one polygon into several.
// The erosion runs on the metric plane with the distance scaled by the
// Mercator factor at the polygon's latitude, so the margin holds true on
// the ground. A margin of zero keeps the original boundary.
func insetGeographic(p orb.Polygon, margin float64) (orb.MultiPolygon, error) {
	if margin == 0 {
		return orb.MultiPolygon{p.Clone()}, nil
	}
	m, err := geom.ToMetric(p)
	if err != nil {
		return nil, err
	}
	scale := geom.MetricScale(p.Bound().Center().Lat())
	parts := geom.InsetPolygon(m.(orb.Polygon), margin*scale)
	if len(parts) == 0 {
		return nil, nil
	}
	return geom.ToGeographic(parts).(orb.MultiPolygon), nil
}

// safetyFromParts normalizes eroded parts into a safety geometry: nothing
// left means the margin consumed the zone (explicit empty marker) and a
// single part stays a plain polygon.
func safetyFromParts(parts orb.MultiPolygon) orb.Geometry {
	switch len(parts) {
	case 0:
		return orb.Polygon{}
	case 1:
		return parts[0]
	default:
		return parts
	}
}

// IsEmptySafety reports whether a prepared safety geometry is the
// explicit empty marker (margin consumed the whole shape).
func IsEmptySafety(g orb.Geometry) bool {
	p, ok := g.(orb.Polygon)
	return ok && len(p) == 0
}
