package zone

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/kass/go-geofence/pkg/models"
)

// WriteSafetyGeoJSON exports the prepared safety geometries as a GeoJSON
// FeatureCollection for consumption by other systems. Zones whose margin
// consumed the whole shape are left out.
func WriteSafetyGeoJSON(zones []models.ZoneRecord, path string) error {
	fc := geojson.NewFeatureCollection()
	for i := range zones {
		z := &zones[i]
		if z.SafetyGeometry == nil || IsEmptySafety(z.SafetyGeometry) {
			continue
		}
		f := geojson.NewFeature(z.SafetyGeometry)
		f.Properties["osm_id"] = z.ID
		f.Properties["osm_type"] = z.Kind
		f.Properties["name"] = z.Attr(models.AttrName, "N/A")
		f.Properties["operator"] = z.Attr(models.AttrOperator, "N/A")
		fc.Append(f)
	}
	b, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode safety zones: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// zoneListEntry is the flat per-zone record of the app-cache export.
type zoneListEntry struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Operator  string  `json:"operator"`
	State     string  `json:"state"`
	City      string  `json:"city"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	OSMLink   string  `json:"osm_link"`
}

// WriteZoneList exports a flat JSON list of zones (one centroid entry per
// zone) suitable for caching in downstream apps.
func WriteZoneList(zones []models.ZoneRecord, marginMeters float64, path string) error {
	entries := make([]zoneListEntry, 0, len(zones))
	for i := range zones {
		z := &zones[i]
		if z.RawGeometry == nil {
			continue
		}
		c := z.RawGeometry.Bound().Center()
		entries = append(entries, zoneListEntry{
			ID:        z.ID,
			Name:      z.Attr(models.AttrName, "N/A"),
			Operator:  z.Attr(models.AttrOperator, "N/A"),
			State:     z.Attr(models.AttrState, "N/A"),
			City:      z.Attr(models.AttrCity, "N/A"),
			Latitude:  c.Lat(),
			Longitude: c.Lon(),
			OSMLink:   fmt.Sprintf("https://www.openstreetmap.org/%s/%d", z.Kind, z.ID),
		})
	}
	doc := struct {
		Total        int             `json:"total"`
		MarginMeters float64         `json:"margin_meters"`
		GeneratedAt  string          `json:"generated_at"`
		Zones        []zoneListEntry `json:"zones"`
	}{
		Total:        len(entries),
		MarginMeters: marginMeters,
		GeneratedAt:  time.Now().UTC().Format(time.RFC3339),
		Zones:        entries,
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode zone list: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// WriteRawGeoJSON persists fetched raw zones so serve/export runs can load
// them without touching the upstream again.
func WriteRawGeoJSON(zones []models.ZoneRecord, path string) error {
	fc := geojson.NewFeatureCollection()
	for i := range zones {
		z := &zones[i]
		if z.RawGeometry == nil {
			continue
		}
		f := geojson.NewFeature(z.RawGeometry)
		f.Properties["osm_id"] = z.ID
		f.Properties["osm_type"] = z.Kind
		for k, v := range z.Attributes {
			f.Properties[k] = v
		}
		fc.Append(f)
	}
	b, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode zones: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
