package zone

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/kass/go-geofence/pkg/logger"
	"github.com/kass/go-geofence/pkg/models"
)

// DefaultOverpassURL is the public Overpass API endpoint.
const DefaultOverpassURL = "https://overpass-api.de/api/interpreter"

// BrazilBBox is the default extraction window (south, west, north, east).
var BrazilBBox = [4]float64{-33.75, -73.99, 5.27, -28.84}

// Fetcher pulls zone features from the Overpass API. This is the one-shot
// batch boundary of the system: it runs from the fetch command, never
// while serving queries.
type Fetcher struct {
	URL     string
	Client  *http.Client
	Retries int
	// wait returns the pause before retry n (0-based); overridable in tests.
	wait func(attempt int) time.Duration
}

// NewFetcher returns a fetcher with the upstream's documented limits:
// a 180s query timeout and three attempts with a linearly growing pause.
func NewFetcher() *Fetcher {
	return &Fetcher{
		URL:     DefaultOverpassURL,
		Client:  &http.Client{Timeout: 180 * time.Second},
		Retries: 3,
		wait:    func(attempt int) time.Duration { return time.Duration(attempt+1) * 10 * time.Second },
	}
}

// FetchZones queries all prison elements inside bbox and converts them to
// zone records. Nodes become point zones; ways with an outline become
// polygons; relations degrade to their center point when one is present.
func (f *Fetcher) FetchZones(ctx context.Context, bbox [4]float64) ([]models.ZoneRecord, error) {
	query := fmt.Sprintf(`[out:json][timeout:180][bbox:%.4f,%.4f,%.4f,%.4f];
(
  node["amenity"="prison"];
  way["amenity"="prison"];
  relation["amenity"="prison"];
);
out center tags geom;`, bbox[0], bbox[1], bbox[2], bbox[3])

	body, err := f.post(ctx, query)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Elements []overpassElement `json:"elements"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode overpass response: %w", err)
	}

	zones := make([]models.ZoneRecord, 0, len(resp.Elements))
	for _, el := range resp.Elements {
		z, ok := el.toZone()
		if !ok {
			logger.L().Warn("overpass_skip_element", "type", el.Type, "id", el.ID)
			continue
		}
		zones = append(zones, z)
	}
	logger.L().Info("overpass_fetch_done", "elements", len(resp.Elements), "zones", len(zones))
	return zones, nil
}

// post submits the query, retrying transient failures with backoff.
func (f *Fetcher) post(ctx context.Context, query string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < f.Retries; attempt++ {
		body, err := f.tryPost(ctx, query)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if attempt < f.Retries-1 {
			pause := f.wait(attempt)
			logger.L().Warn("overpass_retry", "attempt", attempt+1, "wait", pause, "err", err)
			select {
			case <-time.After(pause):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("overpass fetch failed after %d attempts: %w", f.Retries, lastErr)
}

func (f *Fetcher) tryPost(ctx context.Context, query string) ([]byte, error) {
	form := url.Values{"data": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("overpass returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

type overpassElement struct {
	Type   string  `json:"type"`
	ID     int64   `json:"id"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Center *struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"center"`
	Geometry []struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"geometry"`
	Tags map[string]string `json:"tags"`
}

func (el overpassElement) toZone() (models.ZoneRecord, bool) {
	z := models.ZoneRecord{ID: el.ID, Kind: el.Type, Attributes: el.Tags}
	switch el.Type {
	case "node":
		z.RawGeometry = orb.Point{el.Lon, el.Lat}
	case "way":
		if len(el.Geometry) < 3 {
			return z, false
		}
		ring := make(orb.Ring, 0, len(el.Geometry)+1)
		for _, p := range el.Geometry {
			ring = append(ring, orb.Point{p.Lon, p.Lat})
		}
		if ring[0] != ring[len(ring)-1] {
			ring = append(ring, ring[0])
		}
		z.RawGeometry = orb.Polygon{ring}
	case "relation":
		if el.Center == nil {
			return z, false
		}
		z.RawGeometry = orb.Point{el.Center.Lon, el.Center.Lat}
	default:
		return z, false
	}
	return z, true
}
