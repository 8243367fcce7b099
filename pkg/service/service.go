// Package service implements the stateless query layer: coordinate
// validation, risk classification and response enrichment on top of the
// zone index. The index reference is swapped atomically on reload, so
// in-flight queries always see either the fully-old or fully-new set.
package service

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/kass/go-geofence/pkg/index"
	"github.com/kass/go-geofence/pkg/models"
)

// Query-path errors. They are always returned to the caller; the engine
// never folds an error into a default "not contained" answer. Fail-open
// behavior on timeouts is the calling transaction processor's contract,
// not ours.
var (
	ErrInvalidCoordinate = errors.New("latitude or longitude out of range")
	ErrInvalidRadius     = errors.New("max distance must be greater than zero")
	ErrIndexNotReady     = errors.New("zone index not loaded yet")
	ErrBatchTooLarge     = errors.New("batch exceeds the configured limit")
)

// DefaultMaxBatch bounds batch length so one oversized request cannot
// monopolize CPU.
const DefaultMaxBatch = 1000

// Service answers containment and proximity queries. Safe for concurrent
// use; no query path mutates zone state.
type Service struct {
	idx      atomic.Pointer[index.ZoneIndex]
	maxBatch int
}

// New returns a service with no index loaded. Queries fail with
// ErrIndexNotReady until the first SetIndex.
func New(maxBatch int) *Service {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	return &Service{maxBatch: maxBatch}
}

// SetIndex atomically swaps in a freshly built index. Used for the
// initial load and for admin-triggered reloads.
func (s *Service) SetIndex(ix *index.ZoneIndex) {
	s.idx.Store(ix)
}

// Ready reports whether an index has been loaded.
func (s *Service) Ready() bool {
	return s.idx.Load() != nil
}

// Index returns the current index or ErrIndexNotReady.
func (s *Service) Index() (*index.ZoneIndex, error) {
	ix := s.idx.Load()
	if ix == nil {
		return nil, ErrIndexNotReady
	}
	return ix, nil
}

// MaxBatch returns the configured batch length limit.
func (s *Service) MaxBatch() int {
	return s.maxBatch
}

// Check classifies one coordinate: HIGH risk with zone metadata when it
// falls inside a zone's safety geometry, LOW risk otherwise.
func (s *Service) Check(lat, lon float64) (models.QueryResult, error) {
	if err := validateCoordinate(lat, lon); err != nil {
		return models.QueryResult{}, err
	}
	ix, err := s.Index()
	if err != nil {
		return models.QueryResult{}, err
	}

	if z, ok := ix.Contains(lat, lon); ok {
		return models.QueryResult{
			InsideZone: true,
			RiskLevel:  models.RiskHigh,
			Action:     models.ActionBlock,
			ZoneInfo:   z.Info(),
		}, nil
	}
	return models.QueryResult{
		InsideZone: false,
		RiskLevel:  models.RiskLow,
		Action:     models.ActionAllow,
	}, nil
}

// BatchCheck applies Check to every coordinate independently. An invalid
// entry produces an error entry at its position; the rest of the batch is
// still answered. Result order always matches input order.
func (s *Service) BatchCheck(points []models.Location) ([]models.QueryResult, error) {
	if len(points) > s.maxBatch {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(points), s.maxBatch)
	}
	if _, err := s.Index(); err != nil {
		return nil, err
	}

	results := make([]models.QueryResult, len(points))
	for i, p := range points {
		r, err := s.Check(p.Lat, p.Lon)
		if err != nil {
			results[i] = models.QueryResult{Err: err.Error()}
			continue
		}
		results[i] = r
	}
	return results, nil
}

// NearestResult is the proximity query response.
type NearestResult struct {
	DistanceKm     float64          `json:"distance_km"`
	DistanceMeters float64          `json:"distance_meters"`
	ZoneInfo       *models.ZoneInfo `json:"zone_info"`
}

// Nearest returns the closest zone within maxKm of the coordinate, or
// (nil, nil) when no zone lies in that radius.
func (s *Service) Nearest(lat, lon, maxKm float64) (*NearestResult, error) {
	if err := validateCoordinate(lat, lon); err != nil {
		return nil, err
	}
	if maxKm <= 0 {
		return nil, ErrInvalidRadius
	}
	ix, err := s.Index()
	if err != nil {
		return nil, err
	}

	z, dist, ok := ix.Nearest(lat, lon, maxKm)
	if !ok {
		return nil, nil
	}
	return &NearestResult{
		DistanceKm:     roundTo(dist, 3),
		DistanceMeters: roundTo(dist*1000, 1),
		ZoneInfo:       z.Info(),
	}, nil
}

// Stats summarizes the currently served zone set.
type Stats struct {
	TotalZones   int            `json:"total_zones"`
	IndexedZones int            `json:"indexed_zones"`
	ByState      map[string]int `json:"by_state"`
	WithName     int            `json:"with_name"`
	WithOperator int            `json:"with_operator"`
	MarginMeters float64        `json:"margin_meters"`
}

// Stats computes the served-set summary. Read-only over the immutable
// zone slice.
func (s *Service) Stats() (Stats, error) {
	ix, err := s.Index()
	if err != nil {
		return Stats{}, err
	}

	st := Stats{
		TotalZones:   ix.Size(),
		IndexedZones: ix.IndexedZones(),
		ByState:      make(map[string]int),
		MarginMeters: ix.Margin(),
	}
	zones := ix.Zones()
	for i := range zones {
		z := &zones[i]
		if z.Attr(models.AttrName, "") != "" {
			st.WithName++
		}
		if z.Attr(models.AttrOperator, "") != "" {
			st.WithOperator++
		}
		if state := z.Attr(models.AttrState, ""); state != "" {
			st.ByState[state]++
		}
	}
	return st, nil
}

func validateCoordinate(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return fmt.Errorf("%w: non-finite value", ErrInvalidCoordinate)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: lat=%v lon=%v", ErrInvalidCoordinate, lat, lon)
	}
	return nil
}

func roundTo(v float64, decimals int) float64 {
	pow := 1.0
	for i := 0; i < decimals; i++ {
		pow *= 10
	}
	return float64(int64(v*pow+0.5)) / pow
}
