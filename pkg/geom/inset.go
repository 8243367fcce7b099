package geom

import (
	"math"

	polyclip "github.com/ctessum/polyclip-go"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// diskSegments is the vertex count of the polygonized disk placed on each
// boundary vertex of the erosion collar. The disk is circumscribed so the
// collar never under-covers; corners over-erode by at most
// 1/cos(pi/diskSegments)-1, under one percent.
const diskSegments = 24

// InsetPolygon erodes a polygon inward by d, in the units of its coordinate
// plane: the result is the set of interior points at distance >= d from the
// boundary. Sections thinner than 2*d are consumed, which can split the
// shape into several parts; holes grow outward by d. A polygon fully
// consumed by the erosion returns an empty result.
//
// The erosion subtracts a collar from the polygon. The collar is the union
// of one rectangle per boundary edge and one circumscribed disk per
// boundary vertex, which together cover exactly the points within d of the
// boundary, up to the disk polygonization at corners.
func InsetPolygon(p orb.Polygon, d float64) orb.MultiPolygon {
	if len(p) == 0 || len(openRing(p[0])) < 3 {
		return nil
	}
	if d <= 0 {
		return orb.MultiPolygon{p.Clone()}
	}

	var collar polyclip.Polygon
	add := func(c polyclip.Contour) {
		if c == nil {
			return
		}
		if collar == nil {
			collar = polyclip.Polygon{c}
			return
		}
		collar = collar.Construct(polyclip.UNION, polyclip.Polygon{c})
	}
	for _, ring := range p {
		pts := openRing(ring)
		n := len(pts)
		if n < 3 {
			continue
		}
		for i := 0; i < n; i++ {
			add(edgeRect(pts[i], pts[(i+1)%n], d))
			add(vertexDisk(pts[i], d))
		}
	}
	if collar == nil {
		return nil
	}

	eroded := toClip(p).Construct(polyclip.DIFFERENCE, collar)
	return assemble(eroded)
}

// edgeRect covers the points within d of the edge's span. The long sides
// sit at exactly d so straight boundary sections erode by exactly d; the
// open ends are covered by the vertex disks.
func edgeRect(a, b orb.Point, d float64) polyclip.Contour {
	dx, dy := b[0]-a[0], b[1]-a[1]
	length := math.Hypot(dx, dy)
	if length == 0 {
		return nil
	}
	nx, ny := -dy/length*d, dx/length*d
	return polyclip.Contour{
		{X: a[0] + nx, Y: a[1] + ny},
		{X: b[0] + nx, Y: b[1] + ny},
		{X: b[0] - nx, Y: b[1] - ny},
		{X: a[0] - nx, Y: a[1] - ny},
	}
}

// vertexDisk covers the end caps of the two edges meeting at c.
func vertexDisk(c orb.Point, d float64) polyclip.Contour {
	r := d / math.Cos(math.Pi/diskSegments)
	disk := make(polyclip.Contour, diskSegments)
	for i := range disk {
		theta := 2 * math.Pi * float64(i) / diskSegments
		disk[i] = polyclip.Point{X: c[0] + r*math.Cos(theta), Y: c[1] + r*math.Sin(theta)}
	}
	return disk
}

func toClip(p orb.Polygon) polyclip.Polygon {
	out := make(polyclip.Polygon, 0, len(p))
	for _, ring := range p {
		pts := openRing(ring)
		if len(pts) < 3 {
			continue
		}
		c := make(polyclip.Contour, len(pts))
		for i, pt := range pts {
			c[i] = polyclip.Point{X: pt[0], Y: pt[1]}
		}
		out = append(out, c)
	}
	return out
}

// assemble sorts boolean-op result contours back into polygons: a contour
// nested inside an even number of others is an exterior, the rest are holes
// attached to their innermost enclosing exterior.
func assemble(clip polyclip.Polygon) orb.MultiPolygon {
	var rings []orb.Ring
	for _, c := range clip {
		if len(c) < 3 {
			continue
		}
		r := make(orb.Ring, 0, len(c)+1)
		for _, pt := range c {
			r = append(r, orb.Point{pt.X, pt.Y})
		}
		r = append(r, r[0])
		if math.Abs(shoelace(r)) < 1e-9 {
			continue
		}
		rings = append(rings, r)
	}

	depth := make([]int, len(rings))
	for i := range rings {
		pt := leftmostVertex(rings[i])
		for j := range rings {
			if j != i && planar.PolygonContains(orb.Polygon{rings[j]}, pt) {
				depth[i]++
			}
		}
	}

	var out orb.MultiPolygon
	owner := make([]int, len(rings))
	for i, r := range rings {
		if depth[i]%2 != 0 {
			continue
		}
		if r.Orientation() == orb.CW {
			r.Reverse()
		}
		owner[i] = len(out)
		out = append(out, orb.Polygon{r})
	}
	for i, r := range rings {
		if depth[i]%2 == 0 {
			continue
		}
		pt := leftmostVertex(r)
		parent, best := -1, math.Inf(1)
		for j := range rings {
			if depth[j]%2 != 0 || !planar.PolygonContains(orb.Polygon{rings[j]}, pt) {
				continue
			}
			if a := math.Abs(shoelace(rings[j])); a < best {
				parent, best = j, a
			}
		}
		if parent < 0 {
			continue
		}
		if r.Orientation() == orb.CCW {
			r.Reverse()
		}
		out[owner[parent]] = append(out[owner[parent]], r)
	}
	return out
}

// leftmostVertex is the nesting-test representative: result contours have
// disjoint interiors, so any vertex off a shared corner works, and the
// extremal one minimizes the chance of landing on another contour.
func leftmostVertex(r orb.Ring) orb.Point {
	best := r[0]
	for _, p := range r {
		if p[0] < best[0] || (p[0] == best[0] && p[1] < best[1]) {
			best = p
		}
	}
	return best
}

// openRing strips the duplicated closing point, if present.
func openRing(r orb.Ring) []orb.Point {
	if len(r) > 1 && r[0] == r[len(r)-1] {
		return r[:len(r)-1]
	}
	return r
}

// shoelace computes the signed area of an unclosed ring; positive for
// counter-clockwise winding.
func shoelace(r orb.Ring) float64 {
	pts := openRing(r)
	var sum float64
	for i := range pts {
		a, b := pts[i], pts[(i+1)%len(pts)]
		sum += a[0]*b[1] - b[0]*a[1]
	}
	return sum / 2
}

// polygonBoundaryDistance returns the minimum distance from a point to
// the boundary of the polygon, holes included.
func polygonBoundaryDistance(p orb.Polygon, pt orb.Point) float64 {
	best := math.Inf(1)
	for _, ring := range p {
		if d := ringDistance(ring, pt); d < best {
			best = d
		}
	}
	return best
}

func ringDistance(r orb.Ring, pt orb.Point) float64 {
	best := math.Inf(1)
	pts := openRing(r)
	for i := range pts {
		a, b := pts[i], pts[(i+1)%len(pts)]
		if d := pointSegmentDistance(pt, a, b); d < best {
			best = d
		}
	}
	return best
}

func pointSegmentDistance(p, a, b orb.Point) float64 {
	abx, aby := b[0]-a[0], b[1]-a[1]
	apx, apy := p[0]-a[0], p[1]-a[1]
	denom := abx*abx + aby*aby
	if denom == 0 {
		return math.Hypot(apx, apy)
	}
	t := (apx*abx + apy*aby) / denom
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return math.Hypot(p[0]-(a[0]+t*abx), p[1]-(a[1]+t*aby))
}
