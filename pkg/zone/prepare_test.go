package zone

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kass/go-geofence/pkg/geom"
	"github.com/kass/go-geofence/pkg/models"
)

func squareZone(id int64, lon, lat, side float64) models.ZoneRecord {
	return models.ZoneRecord{
		ID:   id,
		Kind: "way",
		RawGeometry: orb.Polygon{orb.Ring{
			{lon, lat}, {lon + side, lat}, {lon + side, lat + side}, {lon, lat + side}, {lon, lat},
		}},
	}
}

func TestPrepareShrinksPolygon(t *testing.T) {
	// ~1.1km square at the equator, eroded by 100m.
	z := squareZone(1, 0, 0, 0.01)

	out, err := Prepare([]models.ZoneRecord{z}, 100)
	require.NoError(t, err)
	require.Len(t, out, 1)

	safety := out[0].SafetyGeometry
	require.NotNil(t, safety)
	assert.False(t, IsEmptySafety(safety))

	// The centroid stays inside; a point 20m from the raw edge does not.
	assert.True(t, geom.Contains(safety, orb.Point{0.005, 0.005}))
	assert.True(t, geom.Contains(z.RawGeometry, orb.Point{0.0002, 0.005}))
	assert.False(t, geom.Contains(safety, orb.Point{0.0002, 0.005}))
}

func TestPrepareZeroMargin(t *testing.T) {
	z := squareZone(1, 0, 0, 0.01)

	out, err := Prepare([]models.ZoneRecord{z}, 0)
	require.NoError(t, err)
	assert.True(t, orb.Equal(out[0].RawGeometry, out[0].SafetyGeometry))
}

func TestPrepareNegativeMargin(t *testing.T) {
	_, err := Prepare([]models.ZoneRecord{squareZone(1, 0, 0, 0.01)}, -1)
	assert.Error(t, err)
}

func TestPrepareDoesNotMutateInput(t *testing.T) {
	z := squareZone(1, 0, 0, 0.01)
	raw := z.RawGeometry.(orb.Polygon).Clone()

	_, err := Prepare([]models.ZoneRecord{z}, 100)
	require.NoError(t, err)
	assert.True(t, orb.Equal(raw, z.RawGeometry))
	assert.Nil(t, z.SafetyGeometry)
}

func TestPreparePointZone(t *testing.T) {
	z := models.ZoneRecord{ID: 1, Kind: "node", RawGeometry: orb.Point{-46.6, -23.5}}

	out, err := Prepare([]models.ZoneRecord{z}, 100)
	require.NoError(t, err)
	assert.Equal(t, orb.Point{-46.6, -23.5}, out[0].SafetyGeometry)
}

func TestPrepareCollapsedZone(t *testing.T) {
	// ~11m square eroded by 50m vanishes, leaving the empty marker.
	z := squareZone(1, 0, 0, 0.0001)

	out, err := Prepare([]models.ZoneRecord{z}, 50)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, IsEmptySafety(out[0].SafetyGeometry))
}

func TestPrepareMultiPolygon(t *testing.T) {
	big := squareZone(0, 0, 0, 0.01).RawGeometry.(orb.Polygon)
	tiny := squareZone(0, 1, 1, 0.0001).RawGeometry.(orb.Polygon)
	z := models.ZoneRecord{ID: 1, Kind: "relation", RawGeometry: orb.MultiPolygon{big, tiny}}

	out, err := Prepare([]models.ZoneRecord{z}, 50)
	require.NoError(t, err)

	// Only the part that survives the erosion remains, as a plain polygon.
	_, ok := out[0].SafetyGeometry.(orb.Polygon)
	require.True(t, ok)
	assert.False(t, IsEmptySafety(out[0].SafetyGeometry))
	assert.True(t, geom.Contains(out[0].SafetyGeometry, orb.Point{0.005, 0.005}))
	assert.False(t, geom.Contains(out[0].SafetyGeometry, orb.Point{1.00005, 1.00005}))
}

func TestPrepareSplitsNarrowZone(t *testing.T) {
	// Two ~1.1km squares joined by a ~111m-wide corridor. A 100m margin
	// consumes the corridor, so one raw polygon yields a two-part safety
	// geometry.
	z := models.ZoneRecord{ID: 1, Kind: "way", RawGeometry: orb.Polygon{orb.Ring{
		{0, 0}, {0.01, 0}, {0.01, 0.0045}, {0.011, 0.0045}, {0.011, 0},
		{0.021, 0}, {0.021, 0.01}, {0.011, 0.01}, {0.011, 0.0055},
		{0.01, 0.0055}, {0.01, 0.01}, {0, 0.01}, {0, 0},
	}}}

	out, err := Prepare([]models.ZoneRecord{z}, 100)
	require.NoError(t, err)
	require.Len(t, out, 1)

	mp, ok := out[0].SafetyGeometry.(orb.MultiPolygon)
	require.True(t, ok)
	assert.Len(t, mp, 2)
	assert.True(t, geom.Contains(mp, orb.Point{0.005, 0.005}))
	assert.True(t, geom.Contains(mp, orb.Point{0.016, 0.005}))
	// Corridor center sits ~55m from either wall.
	assert.True(t, geom.Contains(out[0].RawGeometry, orb.Point{0.0105, 0.005}))
	assert.False(t, geom.Contains(mp, orb.Point{0.0105, 0.005}))
}

func TestPrepareSkipsBrokenZone(t *testing.T) {
	zones := []models.ZoneRecord{
		squareZone(1, 0, 0, 0.01),
		{ID: 2, Kind: "way"}, // no geometry
		squareZone(3, 1, 1, 0.01),
	}

	out, err := Prepare(zones, 50)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, int64(1), out[0].ID)
	assert.Equal(t, int64(3), out[1].ID)
}

func TestPrepareMajorityFailure(t *testing.T) {
	zones := []models.ZoneRecord{
		squareZone(1, 0, 0, 0.01),
		{ID: 2},
		{ID: 3},
	}

	_, err := Prepare(zones, 50)
	assert.Error(t, err)
}
