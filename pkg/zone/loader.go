package zone

import (
	"fmt"
	"os"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/kass/go-geofence/pkg/logger"
	"github.com/kass/go-geofence/pkg/models"
)

// LoadGeoJSON reads a GeoJSON FeatureCollection of zone features into
// zone records. Features without a usable identifier or with an
// unsupported geometry are skipped and logged; duplicate identifiers
// keep the first occurrence so a load never yields two zones with the
// same ID.
func LoadGeoJSON(path string) ([]models.ZoneRecord, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read zone file: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		return nil, fmt.Errorf("failed to parse zone file %s: %w", path, err)
	}

	zones := make([]models.ZoneRecord, 0, len(fc.Features))
	seen := make(map[int64]bool, len(fc.Features))
	for _, f := range fc.Features {
		z, err := zoneFromFeature(f)
		if err != nil {
			logger.L().Warn("zone_load_skip", "err", err)
			continue
		}
		if seen[z.ID] {
			logger.L().Warn("zone_load_duplicate", "zone", z.ID)
			continue
		}
		seen[z.ID] = true
		zones = append(zones, z)
	}
	if len(zones) == 0 {
		return nil, fmt.Errorf("no usable zones in %s", path)
	}
	return zones, nil
}

func zoneFromFeature(f *geojson.Feature) (models.ZoneRecord, error) {
	var z models.ZoneRecord

	switch g := f.Geometry.(type) {
	case orb.Point, orb.Polygon, orb.MultiPolygon:
		z.RawGeometry = g
	default:
		return z, fmt.Errorf("unsupported feature geometry %T", f.Geometry)
	}

	id, ok := featureID(f)
	if !ok {
		return z, fmt.Errorf("feature has no osm_id")
	}
	z.ID = id

	z.Attributes = make(map[string]string, len(f.Properties))
	for k, v := range f.Properties {
		if k == "osm_id" || k == "osm_type" {
			continue
		}
		if s := stringify(v); s != "" {
			z.Attributes[k] = s
		}
	}

	if t, ok := f.Properties["osm_type"].(string); ok && t != "" {
		z.Kind = t
	} else if _, isPoint := f.Geometry.(orb.Point); isPoint {
		z.Kind = "node"
	} else {
		z.Kind = "way"
	}
	return z, nil
}

// featureID resolves the stable zone identifier, preferring the osm_id
// property over the bare feature ID.
func featureID(f *geojson.Feature) (int64, bool) {
	if id, ok := asInt64(f.Properties["osm_id"]); ok {
		return id, true
	}
	return asInt64(f.ID)
}

func asInt64(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func stringify(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return ""
	}
	return fmt.Sprintf("%v", v)
}
