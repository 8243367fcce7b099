package models

import "github.com/paulmach/orb"

// Risk levels and recommended actions returned to the transaction processor.
const (
	RiskHigh = "HIGH"
	RiskLow  = "LOW"

	ActionBlock = "BLOCK"
	ActionAllow = "ALLOW"
)

// Attribute keys surfaced in responses. Any other tag from the source data
// is retained in the attribute map but never typed or exposed.
const (
	AttrName     = "name"
	AttrOperator = "operator"
	AttrState    = "addr:state"
	AttrCity     = "addr:city"
)

// Location represents a geographic location with latitude and longitude
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ZoneRecord is one restricted zone as loaded from the source data.
// Records are immutable once loaded; the preparer returns new records
// rather than mutating in place.
type ZoneRecord struct {
	// ID is the stable source identifier (OSM element id), unique within a load.
	ID int64 `json:"id"`
	// Kind is the source element type ("node" or "way"), informational only.
	Kind string `json:"kind"`
	// Attributes is the open tag map from the source feature. Containment
	// logic never reads it; responses surface an allow-listed subset.
	Attributes map[string]string `json:"attributes,omitempty"`
	// RawGeometry is the zone boundary in geographic coordinates (lon, lat).
	RawGeometry orb.Geometry `json:"-"`
	// SafetyGeometry is the inward-buffered boundary containment queries
	// test against. nil means not yet computed; an empty orb.Polygon means
	// the margin consumed the whole shape.
	SafetyGeometry orb.Geometry `json:"-"`
}

// Attr returns the named attribute, or fallback when absent or blank.
func (z *ZoneRecord) Attr(key, fallback string) string {
	if v, ok := z.Attributes[key]; ok && v != "" {
		return v
	}
	return fallback
}

// ZoneInfo is the allow-listed zone metadata attached to query responses.
type ZoneInfo struct {
	ID       int64  `json:"osm_id"`
	Name     string `json:"name"`
	Operator string `json:"operator"`
	State    string `json:"state"`
	City     string `json:"city"`
}

// Info builds the response view of a zone. Missing attributes fall back to
// the same placeholders the upstream data feed uses.
func (z *ZoneRecord) Info() *ZoneInfo {
	return &ZoneInfo{
		ID:       z.ID,
		Name:     z.Attr(AttrName, "unidentified zone"),
		Operator: z.Attr(AttrOperator, "N/A"),
		State:    z.Attr(AttrState, "N/A"),
		City:     z.Attr(AttrCity, "N/A"),
	}
}

// QueryResult is the per-coordinate verdict. Returned to the caller,
// never persisted.
type QueryResult struct {
	InsideZone bool      `json:"inside_zone"`
	RiskLevel  string    `json:"risk_level"`
	Action     string    `json:"action"`
	ZoneInfo   *ZoneInfo `json:"zone_info"`
	// DistanceKm is set only by nearest-zone queries.
	DistanceKm *float64 `json:"distance_to_nearest_km,omitempty"`
	// Err carries a per-entry failure in batch results; an entry with a
	// non-empty Err is not a verdict.
	Err string `json:"error,omitempty"`
}
