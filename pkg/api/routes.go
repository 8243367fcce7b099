// Package api registers the HTTP routes and keeps the transport-layer
// concerns (decoding, status codes, body limits) out of the query core.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/kass/go-geofence/pkg/logger"
	"github.com/kass/go-geofence/pkg/metrics"
	"github.com/kass/go-geofence/pkg/models"
	"github.com/kass/go-geofence/pkg/service"
)

// maxBodyBytes caps request bodies so an oversized batch cannot exhaust
// memory before the batch-length check runs.
const maxBodyBytes = 1 << 20

// Reloader rebuilds the zone set and swaps it into the service.
type Reloader func() error

// BuildRoutes wires the query endpoints onto a fresh mux. reload may be
// nil when the deployment has no admin reload; the endpoint then returns
// 404. adminToken guards the reload endpoint.
func BuildRoutes(svc *service.Service, reload Reloader, adminToken string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth(svc))
	mux.HandleFunc("/api/v1/check", handleCheck(svc))
	mux.HandleFunc("/api/v1/batch-check", handleBatchCheck(svc))
	mux.HandleFunc("/api/v1/nearest", handleNearest(svc))
	mux.HandleFunc("/api/v1/stats", handleStats(svc))
	if reload != nil {
		mux.HandleFunc("/api/v1/reload", handleReload(reload, adminToken))
	}
	return mux
}

type checkRequest struct {
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
	CorrelationID string   `json:"correlation_id,omitempty"`
}

type checkResponse struct {
	models.QueryResult
	Coordinates   coordinates `json:"coordinates"`
	Timestamp     string      `json:"timestamp"`
	CorrelationID string      `json:"correlation_id,omitempty"`
}

type coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func handleCheck(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer observe("check", time.Now())
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "use POST")
			return
		}
		var req checkRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Latitude == nil || req.Longitude == nil {
			writeError(w, http.StatusBadRequest, "missing latitude or longitude")
			return
		}

		result, err := svc.Check(*req.Latitude, *req.Longitude)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if result.InsideZone {
			metrics.ContainedTotal.Inc()
		}
		writeJSON(w, http.StatusOK, checkResponse{
			QueryResult:   result,
			Coordinates:   coordinates{Latitude: *req.Latitude, Longitude: *req.Longitude},
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
			CorrelationID: req.CorrelationID,
		})
	}
}

type batchRequest struct {
	Locations []checkRequest `json:"locations"`
}

type batchResponse struct {
	Total   int                  `json:"total"`
	Results []models.QueryResult `json:"results"`
}

// handleBatchCheck answers every entry it can. Policy, deliberately
// different from the upstream system that aborted the whole batch on the
// first bad entry: a malformed or out-of-range location yields an error
// entry at its position and the remaining entries are still classified.
func handleBatchCheck(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer observe("batch_check", time.Now())
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "use POST")
			return
		}
		var req batchRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Locations == nil {
			writeError(w, http.StatusBadRequest, "missing locations array")
			return
		}
		if len(req.Locations) > svc.MaxBatch() {
			writeError(w, http.StatusBadRequest, "too many locations in one batch")
			return
		}
		if !svc.Ready() {
			writeServiceError(w, service.ErrIndexNotReady)
			return
		}

		results := make([]models.QueryResult, len(req.Locations))
		for i, loc := range req.Locations {
			if loc.Latitude == nil || loc.Longitude == nil {
				results[i] = models.QueryResult{Err: "missing latitude or longitude"}
				continue
			}
			res, err := svc.Check(*loc.Latitude, *loc.Longitude)
			if err != nil {
				results[i] = models.QueryResult{Err: err.Error()}
				continue
			}
			if res.InsideZone {
				metrics.ContainedTotal.Inc()
			}
			results[i] = res
		}
		writeJSON(w, http.StatusOK, batchResponse{Total: len(results), Results: results})
	}
}

type nearestRequest struct {
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
	MaxDistanceKm *float64 `json:"max_distance_km"`
}

func handleNearest(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer observe("nearest", time.Now())
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "use POST")
			return
		}
		var req nearestRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Latitude == nil || req.Longitude == nil {
			writeError(w, http.StatusBadRequest, "missing latitude or longitude")
			return
		}
		maxKm := 5.0
		if req.MaxDistanceKm != nil {
			maxKm = *req.MaxDistanceKm
		}

		result, err := svc.Nearest(*req.Latitude, *req.Longitude, maxKm)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if result == nil {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"distance_km": nil,
				"zone_info":   nil,
				"message":     "no zone found within the requested radius",
			})
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleHealth(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		zones := 0
		if ix, err := svc.Index(); err == nil {
			zones = ix.Size()
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":       "healthy",
			"zones_loaded": zones,
			"timestamp":    time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func handleStats(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer observe("stats", time.Now())
		st, err := svc.Stats()
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func handleReload(reload Reloader, adminToken string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "use POST")
			return
		}
		if t := r.Header.Get("x-admin-token"); adminToken == "" || t != adminToken {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if err := reload(); err != nil {
			metrics.ReloadsTotal.WithLabelValues("error").Inc()
			logger.L().Error("zone_reload_error", "err", err)
			writeError(w, http.StatusInternalServerError, "reload failed")
			return
		}
		metrics.ReloadsTotal.WithLabelValues("ok").Inc()
		logger.L().Info("zone_reload_ok")
		w.WriteHeader(http.StatusNoContent)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeServiceError maps query-path errors onto the documented status
// codes: 400 for caller mistakes, 500 when no index is loaded yet.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCoordinate), errors.Is(err, service.ErrInvalidRadius),
		errors.Is(err, service.ErrBatchTooLarge):
		metrics.InvalidCoordinatesTotal.Inc()
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrIndexNotReady):
		metrics.NotReadyTotal.Inc()
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func observe(endpoint string, start time.Time) {
	metrics.RequestsTotal.WithLabelValues(endpoint).Inc()
	metrics.RequestDurationMs.WithLabelValues(endpoint).Observe(float64(time.Since(start).Milliseconds()))
}
