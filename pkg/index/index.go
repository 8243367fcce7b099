// Package index provides an R-Tree backed query structure over prepared
// restricted zones: point-in-zone containment and nearest-zone distance
// with a radius cutoff. The index is built once per load and read-only
// afterwards, so queries run fully in parallel without locking; reloads
// build a fresh index and swap it in at the service layer.
package index

import (
	"math"
	"time"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"

	"github.com/kass/go-geofence/pkg/geom"
	"github.com/kass/go-geofence/pkg/models"
)

const (
	minChildren = 25
	maxChildren = 50
	dimensions  = 2
	earthRadius = 6371.0 // km

	// Degenerate bounds (point zones) need a nonzero extent to index.
	pointTolerance = 1e-6
)

// zoneEntry wraps a zone for R-Tree indexing.
type zoneEntry struct {
	zone *models.ZoneRecord
	rect *rtreego.Rect
}

func (e *zoneEntry) Bounds() *rtreego.Rect {
	return e.rect
}

// ZoneIndex answers containment and proximity queries over one immutable
// zone set. Containment candidates come from an R-Tree over safety
// geometry bounds; proximity candidates from a second tree over the raw
// boundaries, because nearest-distance reporting intentionally uses the
// true boundary rather than the eroded one.
type ZoneIndex struct {
	containment *rtreego.Rtree
	proximity   *rtreego.Rtree
	zones       []models.ZoneRecord
	indexed     int
	margin      float64
	builtAt     time.Time
}

// Build constructs the index. Zones whose safety geometry is the empty
// marker are excluded from the containment tree (they can never match)
// but still participate in proximity queries through their raw boundary.
func Build(zones []models.ZoneRecord, marginMeters float64) *ZoneIndex {
	ix := &ZoneIndex{
		containment: rtreego.NewTree(dimensions, minChildren, maxChildren),
		proximity:   rtreego.NewTree(dimensions, minChildren, maxChildren),
		zones:       zones,
		margin:      marginMeters,
		builtAt:     time.Now(),
	}
	for i := range ix.zones {
		z := &ix.zones[i]
		if z.RawGeometry != nil {
			if rect := rectFor(z.RawGeometry.Bound()); rect != nil {
				ix.proximity.Insert(&zoneEntry{zone: z, rect: rect})
			}
		}
		if z.SafetyGeometry == nil || isEmptyPolygon(z.SafetyGeometry) {
			continue
		}
		if rect := rectFor(z.SafetyGeometry.Bound()); rect != nil {
			ix.containment.Insert(&zoneEntry{zone: z, rect: rect})
			ix.indexed++
		}
	}
	return ix
}

// Contains returns the zone whose safety geometry contains the point.
// When overlapping zones all contain it, the lowest zone ID wins, so
// repeated identical queries always get the same answer.
func (ix *ZoneIndex) Contains(lat, lon float64) (*models.ZoneRecord, bool) {
	pt := orb.Point{lon, lat}
	probe := rtreego.Point{lat, lon}.ToRect(pointTolerance)

	var best *models.ZoneRecord
	for _, r := range ix.containment.SearchIntersect(probe) {
		e := r.(*zoneEntry)
		if !geom.Contains(e.zone.SafetyGeometry, pt) {
			continue
		}
		if best == nil || e.zone.ID < best.ID {
			best = e.zone
		}
	}
	return best, best != nil
}

// Nearest returns the zone whose raw boundary is geometrically closest to
// the point, with its distance in kilometers, when within maxKm.
func (ix *ZoneIndex) Nearest(lat, lon, maxKm float64) (*models.ZoneRecord, float64, bool) {
	pt := orb.Point{lon, lat}

	// Candidate window in degrees, widened by the latitude scale on the
	// longitude axis and a small slack so window clipping can never hide
	// a zone the exact test would accept.
	degLat := (maxKm / earthRadius) * (180 / math.Pi) * 1.05
	cosLat := math.Cos(lat * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01
	}
	degLon := degLat / cosLat

	window, err := rtreego.NewRect(
		rtreego.Point{lat - degLat, lon - degLon},
		[]float64{2 * degLat, 2 * degLon},
	)
	if err != nil {
		return nil, 0, false
	}

	var (
		best     *models.ZoneRecord
		bestDist float64
	)
	for _, r := range ix.proximity.SearchIntersect(window) {
		e := r.(*zoneEntry)
		d, err := geom.DistanceKm(e.zone.RawGeometry, pt)
		if err != nil {
			continue
		}
		if best == nil || d < bestDist || (d == bestDist && e.zone.ID < best.ID) {
			best = e.zone
			bestDist = d
		}
	}
	if best == nil || bestDist > maxKm {
		return nil, 0, false
	}
	return best, bestDist, true
}

// Size returns the number of zones in the loaded set.
func (ix *ZoneIndex) Size() int {
	return len(ix.zones)
}

// IndexedZones returns how many zones entered the containment tree.
func (ix *ZoneIndex) IndexedZones() int {
	return ix.indexed
}

// Margin returns the safety margin, in meters, the set was prepared with.
func (ix *ZoneIndex) Margin() float64 {
	return ix.margin
}

// BuiltAt returns when the index was constructed.
func (ix *ZoneIndex) BuiltAt() time.Time {
	return ix.builtAt
}

// Zones exposes the underlying zone set for stats and export. Callers
// must treat it as read-only.
func (ix *ZoneIndex) Zones() []models.ZoneRecord {
	return ix.zones
}

func isEmptyPolygon(g orb.Geometry) bool {
	p, ok := g.(orb.Polygon)
	return ok && len(p) == 0
}

func rectFor(b orb.Bound) *rtreego.Rect {
	sizeLat := b.Max.Lat() - b.Min.Lat()
	sizeLon := b.Max.Lon() - b.Min.Lon()
	if sizeLat < pointTolerance {
		sizeLat = pointTolerance
	}
	if sizeLon < pointTolerance {
		sizeLon = pointTolerance
	}
	rect, err := rtreego.NewRect(rtreego.Point{b.Min.Lat(), b.Min.Lon()}, []float64{sizeLat, sizeLon})
	if err != nil {
		return nil
	}
	return rect
}
