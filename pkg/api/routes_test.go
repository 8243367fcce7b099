package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kass/go-geofence/pkg/index"
	"github.com/kass/go-geofence/pkg/models"
	"github.com/kass/go-geofence/pkg/service"
	"github.com/kass/go-geofence/pkg/zone"
)

func testMux(t *testing.T, reload Reloader, adminToken string) *http.ServeMux {
	t.Helper()
	zones := []models.ZoneRecord{{
		ID:   1,
		Kind: "way",
		RawGeometry: orb.Polygon{orb.Ring{
			{0, 0}, {0.01, 0}, {0.01, 0.01}, {0, 0.01}, {0, 0},
		}},
		Attributes: map[string]string{"name": "Penitenciária Estadual", "addr:state": "SP"},
	}}
	prepared, err := zone.Prepare(zones, 100)
	require.NoError(t, err)
	svc := service.New(0)
	svc.SetIndex(index.Build(prepared, 100))
	return BuildRoutes(svc, reload, adminToken)
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestCheckEndpoint(t *testing.T) {
	mux := testMux(t, nil, "")

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/check",
		`{"latitude": 0.005, "longitude": 0.005, "correlation_id": "tx-42"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		InsideZone    bool   `json:"inside_zone"`
		RiskLevel     string `json:"risk_level"`
		Action        string `json:"action"`
		CorrelationID string `json:"correlation_id"`
		ZoneInfo      *struct {
			ID   int64  `json:"osm_id"`
			Name string `json:"name"`
		} `json:"zone_info"`
		Coordinates struct {
			Latitude float64 `json:"latitude"`
		} `json:"coordinates"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.True(t, resp.InsideZone)
	assert.Equal(t, "HIGH", resp.RiskLevel)
	assert.Equal(t, "BLOCK", resp.Action)
	assert.Equal(t, "tx-42", resp.CorrelationID)
	require.NotNil(t, resp.ZoneInfo)
	assert.Equal(t, int64(1), resp.ZoneInfo.ID)
	assert.Equal(t, "Penitenciária Estadual", resp.ZoneInfo.Name)
	assert.Equal(t, 0.005, resp.Coordinates.Latitude)
}

func TestCheckEndpointOutside(t *testing.T) {
	mux := testMux(t, nil, "")

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/check", `{"latitude": 5, "longitude": 5}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.QueryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.InsideZone)
	assert.Equal(t, models.RiskLow, resp.RiskLevel)
	assert.Equal(t, models.ActionAllow, resp.Action)
	assert.Nil(t, resp.ZoneInfo)
}

func TestCheckEndpointBadRequests(t *testing.T) {
	mux := testMux(t, nil, "")

	cases := []struct {
		name string
		body string
	}{
		{"missing fields", `{}`},
		{"missing longitude", `{"latitude": 1}`},
		{"out of range", `{"latitude": 91, "longitude": 0}`},
		{"not json", `latitude=1`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, mux, http.MethodPost, "/api/v1/check", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/check", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCheckEndpointNotReady(t *testing.T) {
	mux := BuildRoutes(service.New(0), nil, "")

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/check", `{"latitude": 0, "longitude": 0}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestBatchCheckEndpoint(t *testing.T) {
	mux := testMux(t, nil, "")

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/batch-check", `{"locations": [
		{"latitude": 0.005, "longitude": 0.005},
		{"latitude": 200, "longitude": 0},
		{"latitude": 1},
		{"latitude": 5, "longitude": 5}
	]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Total   int                  `json:"total"`
		Results []models.QueryResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.Equal(t, 4, resp.Total)
	require.Len(t, resp.Results, 4)

	// Bad entries get error slots; the rest are still answered in order.
	assert.True(t, resp.Results[0].InsideZone)
	assert.NotEmpty(t, resp.Results[1].Err)
	assert.NotEmpty(t, resp.Results[2].Err)
	assert.Empty(t, resp.Results[3].Err)
	assert.False(t, resp.Results[3].InsideZone)
}

func TestBatchCheckEndpointMissingLocations(t *testing.T) {
	mux := testMux(t, nil, "")

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/batch-check", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNearestEndpoint(t *testing.T) {
	mux := testMux(t, nil, "")

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/nearest",
		`{"latitude": 0.005, "longitude": -0.0449, "max_distance_km": 10}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		DistanceKm float64 `json:"distance_km"`
		ZoneInfo   *struct {
			ID int64 `json:"osm_id"`
		} `json:"zone_info"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.InDelta(t, 5.0, resp.DistanceKm, 0.1)
	require.NotNil(t, resp.ZoneInfo)
	assert.Equal(t, int64(1), resp.ZoneInfo.ID)
}

func TestNearestEndpointNothingFound(t *testing.T) {
	mux := testMux(t, nil, "")

	// Default radius is 5km; nothing is near (10, 10).
	rec := doJSON(t, mux, http.MethodPost, "/api/v1/nearest", `{"latitude": 10, "longitude": 10}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		DistanceKm *float64 `json:"distance_km"`
		Message    string   `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.DistanceKm)
	assert.NotEmpty(t, resp.Message)
}

func TestNearestEndpointInvalidRadius(t *testing.T) {
	mux := testMux(t, nil, "")

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/nearest",
		`{"latitude": 0, "longitude": 0, "max_distance_km": -2}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	mux := testMux(t, nil, "")

	rec := doJSON(t, mux, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status      string `json:"status"`
		ZonesLoaded int    `json:"zones_loaded"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, 1, resp.ZonesLoaded)
}

func TestStatsEndpoint(t *testing.T) {
	mux := testMux(t, nil, "")

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		TotalZones   int            `json:"total_zones"`
		IndexedZones int            `json:"indexed_zones"`
		ByState      map[string]int `json:"by_state"`
		MarginMeters float64        `json:"margin_meters"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.TotalZones)
	assert.Equal(t, 1, resp.IndexedZones)
	assert.Equal(t, map[string]int{"SP": 1}, resp.ByState)
	assert.Equal(t, 100.0, resp.MarginMeters)
}

func TestReloadEndpoint(t *testing.T) {
	calls := 0
	mux := testMux(t, func() error { calls++; return nil }, "secret")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reload", nil)
	req.Header.Set("x-admin-token", "secret")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, calls)
}

func TestReloadEndpointAuth(t *testing.T) {
	mux := testMux(t, func() error { return nil }, "secret")

	// Wrong token.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reload", nil)
	req.Header.Set("x-admin-token", "wrong")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// No token.
	rec = doJSON(t, mux, http.MethodPost, "/api/v1/reload", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Reload disabled when no token is configured.
	open := testMux(t, func() error { return nil }, "")
	rec = doJSON(t, open, http.MethodPost, "/api/v1/reload", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReloadEndpointFailure(t *testing.T) {
	mux := testMux(t, func() error { return errors.New("source offline") }, "secret")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reload", nil)
	req.Header.Set("x-admin-token", "secret")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestReloadEndpointNotMounted(t *testing.T) {
	mux := testMux(t, nil, "")

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/reload", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
