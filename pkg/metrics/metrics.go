package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geofence_requests_total",
		Help: "Total number of query requests by endpoint",
	}, []string{"endpoint"})
	RequestDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geofence_request_duration_ms",
		Help:    "Request duration in milliseconds by endpoint",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	}, []string{"endpoint"})
	ContainedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geofence_contained_total",
		Help: "Total number of coordinates found inside a restricted zone",
	})
	InvalidCoordinatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geofence_invalid_coordinates_total",
		Help: "Total number of coordinates rejected as out of range",
	})
	NotReadyTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geofence_not_ready_total",
		Help: "Total number of queries rejected because no index was loaded",
	})
	ReloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geofence_reloads_total",
		Help: "Total number of zone set reloads by outcome",
	}, []string{"status"})
	ZonesLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geofence_zones_loaded",
		Help: "Number of zones in the currently served set",
	})
	ZonesIndexed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geofence_zones_indexed",
		Help: "Number of zones with a non-empty safety geometry in the containment index",
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDurationMs)
	prometheus.MustRegister(ContainedTotal)
	prometheus.MustRegister(InvalidCoordinatesTotal)
	prometheus.MustRegister(NotReadyTotal)
	prometheus.MustRegister(ReloadsTotal)
	prometheus.MustRegister(ZonesLoaded)
	prometheus.MustRegister(ZonesIndexed)
}

// Handler exposes the registered metrics for Prometheus scraping.
// Mounted on /metrics by the main entrypoint.
func Handler() http.Handler { return promhttp.Handler() }
