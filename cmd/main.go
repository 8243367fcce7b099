package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"github.com/paulmach/orb"
	"github.com/spf13/cobra"

	"github.com/kass/go-geofence/pkg/api"
	"github.com/kass/go-geofence/pkg/index"
	"github.com/kass/go-geofence/pkg/logger"
	"github.com/kass/go-geofence/pkg/metrics"
	"github.com/kass/go-geofence/pkg/models"
	"github.com/kass/go-geofence/pkg/service"
	"github.com/kass/go-geofence/pkg/zone"
)

var rootCmd = &cobra.Command{
	Use:   "go-geofence",
	Short: "Restricted-zone containment query service",
	Long:  `Serves point-in-zone risk queries over an R-Tree index of safety-buffered restricted zones.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load zones and serve the query API",
	Run:   runServe,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch raw zone geometries from the Overpass API",
	Run:   runFetch,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export prepared safety zones as GeoJSON and a flat JSON list",
	Run:   runExport,
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark containment queries over a synthetic zone set",
	Run:   runBench,
}

var (
	zoneFile     string
	marginMeters float64
	addr         string
	maxBatch     int

	fetchOut     string
	fetchBBox    string
	fetchPostGIS bool

	exportDir string

	benchZones   int
	benchQueries int
	benchWorkers int
)

func init() {
	serveCmd.Flags().StringVarP(&zoneFile, "file", "f", "data/zones.geojson", "Zone GeoJSON file")
	serveCmd.Flags().Float64VarP(&marginMeters, "margin", "m", 50, "Inward safety margin in meters")
	serveCmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "Listen address")
	serveCmd.Flags().IntVar(&maxBatch, "max-batch", service.DefaultMaxBatch, "Maximum locations per batch request")

	fetchCmd.Flags().StringVarP(&fetchOut, "out", "o", "data/zones.geojson", "Output GeoJSON file")
	fetchCmd.Flags().StringVar(&fetchBBox, "bbox", "", "Extraction window as south,west,north,east (default: Brazil)")
	fetchCmd.Flags().BoolVar(&fetchPostGIS, "postgis", false, "Also upsert fetched zones into PostGIS")

	exportCmd.Flags().StringVarP(&zoneFile, "file", "f", "data/zones.geojson", "Zone GeoJSON file")
	exportCmd.Flags().Float64VarP(&marginMeters, "margin", "m", 50, "Inward safety margin in meters")
	exportCmd.Flags().StringVarP(&exportDir, "out-dir", "o", "exports", "Export directory")

	benchCmd.Flags().IntVarP(&benchZones, "zones", "z", 10000, "Number of synthetic zones")
	benchCmd.Flags().IntVarP(&benchQueries, "queries", "q", 100000, "Number of queries to run")
	benchCmd.Flags().IntVarP(&benchWorkers, "workers", "w", runtime.NumCPU(), "Number of worker goroutines")
	benchCmd.Flags().Float64VarP(&marginMeters, "margin", "m", 50, "Inward safety margin in meters")

	rootCmd.AddCommand(serveCmd, fetchCmd, exportCmd, benchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadZones reads the zone set from PostGIS when PG_HOST is configured,
// otherwise from the GeoJSON file.
func loadZones() ([]models.ZoneRecord, error) {
	if host := os.Getenv("PG_HOST"); host != "" {
		port := 5432
		if p, err := strconv.Atoi(os.Getenv("PG_PORT")); err == nil && p > 0 {
			port = p
		}
		store, err := zone.NewZoneStore(host, os.Getenv("PG_USER"), os.Getenv("PG_PASSWORD"), os.Getenv("PG_DBNAME"), port)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		return store.LoadZones()
	}
	return zone.LoadGeoJSON(zoneFile)
}

func runServe(cmd *cobra.Command, args []string) {
	_ = godotenv.Load(".env")
	l := logger.Setup()

	svc := service.New(maxBatch)
	reload := func() error {
		zones, err := loadZones()
		if err != nil {
			return err
		}
		prepared, err := zone.Prepare(zones, marginMeters)
		if err != nil {
			return err
		}
		ix := index.Build(prepared, marginMeters)
		svc.SetIndex(ix)
		metrics.ZonesLoaded.Set(float64(ix.Size()))
		metrics.ZonesIndexed.Set(float64(ix.IndexedZones()))
		l.Info("zones_loaded", "zones", ix.Size(), "indexed", ix.IndexedZones(), "margin_m", marginMeters)
		return nil
	}
	if err := reload(); err != nil {
		l.Error("initial_load_error", "err", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/", api.BuildRoutes(svc, reload, os.Getenv("ADMIN_TOKEN")))
	mux.Handle("/metrics", metrics.Handler())

	s := &http.Server{
		Addr:              addr,
		Handler:           logger.AccessMiddleware(l)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	l.Info("listening", "addr", addr)
	if err := s.ListenAndServe(); err != nil {
		l.Error("server_error", "err", err)
		os.Exit(1)
	}
}

func runFetch(cmd *cobra.Command, args []string) {
	_ = godotenv.Load(".env")
	l := logger.Setup()

	bbox := zone.BrazilBBox
	if fetchBBox != "" {
		parts := strings.Split(fetchBBox, ",")
		if len(parts) != 4 {
			l.Error("bad_bbox", "bbox", fetchBBox)
			os.Exit(1)
		}
		for i, p := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				l.Error("bad_bbox", "bbox", fetchBBox, "err", err)
				os.Exit(1)
			}
			bbox[i] = v
		}
	}

	fetcher := zone.NewFetcher()
	if u := os.Getenv("OVERPASS_URL"); u != "" {
		fetcher.URL = u
	}
	zones, err := fetcher.FetchZones(context.Background(), bbox)
	if err != nil {
		l.Error("fetch_error", "err", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(fetchOut), 0o755); err != nil {
		l.Error("mkdir_error", "err", err)
		os.Exit(1)
	}
	if err := zone.WriteRawGeoJSON(zones, fetchOut); err != nil {
		l.Error("write_error", "err", err)
		os.Exit(1)
	}
	l.Info("fetch_done", "zones", len(zones), "out", fetchOut)

	if fetchPostGIS {
		port := 5432
		if p, err := strconv.Atoi(os.Getenv("PG_PORT")); err == nil && p > 0 {
			port = p
		}
		store, err := zone.NewZoneStore(os.Getenv("PG_HOST"), os.Getenv("PG_USER"), os.Getenv("PG_PASSWORD"), os.Getenv("PG_DBNAME"), port)
		if err != nil {
			l.Error("postgis_open_error", "err", err)
			os.Exit(1)
		}
		defer store.Close()
		if err := store.InitSchema(); err != nil {
			l.Error("postgis_schema_error", "err", err)
			os.Exit(1)
		}
		if err := store.BulkInsertZones(zones); err != nil {
			l.Error("postgis_insert_error", "err", err)
			os.Exit(1)
		}
		if err := store.CreateSpatialIndex(); err != nil {
			l.Error("postgis_index_error", "err", err)
			os.Exit(1)
		}
		l.Info("postgis_upsert_done", "zones", len(zones))
	}
}

func runExport(cmd *cobra.Command, args []string) {
	_ = godotenv.Load(".env")
	l := logger.Setup()

	zones, err := loadZones()
	if err != nil {
		l.Error("load_error", "err", err)
		os.Exit(1)
	}
	prepared, err := zone.Prepare(zones, marginMeters)
	if err != nil {
		l.Error("prepare_error", "err", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(exportDir, 0o755); err != nil {
		l.Error("mkdir_error", "err", err)
		os.Exit(1)
	}
	if err := zone.WriteSafetyGeoJSON(prepared, filepath.Join(exportDir, "zone_safety.geojson")); err != nil {
		l.Error("export_error", "err", err)
		os.Exit(1)
	}
	if err := zone.WriteZoneList(prepared, marginMeters, filepath.Join(exportDir, "zone_list.json")); err != nil {
		l.Error("export_error", "err", err)
		os.Exit(1)
	}
	l.Info("export_done", "zones", len(prepared), "dir", exportDir)
}

func runBench(cmd *cobra.Command, args []string) {
	fmt.Printf("Preparing %d synthetic zones (margin %.0fm)...\n", benchZones, marginMeters)

	zones := generateZones(benchZones)
	prepared, err := zone.Prepare(zones, marginMeters)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	start := time.Now()
	ix := index.Build(prepared, marginMeters)
	fmt.Printf("Built index over %d zones in %v\n", ix.Size(), time.Since(start))

	svc := service.New(0)
	svc.SetIndex(ix)

	queries := make([]models.Location, benchQueries)
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := range queries {
		queries[i] = models.Location{Lat: r.Float64()*160 - 80, Lon: r.Float64()*360 - 180}
	}

	fmt.Printf("Running %d containment queries using %d workers...\n", benchQueries, benchWorkers)
	var contained atomic.Int64
	var wg sync.WaitGroup

	start = time.Now()
	perWorker := benchQueries / benchWorkers
	for w := 0; w < benchWorkers; w++ {
		wg.Add(1)
		lo := w * perWorker
		hi := lo + perWorker
		if w == benchWorkers-1 {
			hi = benchQueries
		}
		go func(lo, hi int) {
			defer wg.Done()
			hits := int64(0)
			for i := lo; i < hi; i++ {
				res, err := svc.Check(queries[i].Lat, queries[i].Lon)
				if err == nil && res.InsideZone {
					hits++
				}
			}
			contained.Add(hits)
		}(lo, hi)
	}
	wg.Wait()
	elapsed := time.Since(start)

	fmt.Printf("\nBenchmark Results:\n")
	fmt.Printf("Total queries: %d\n", benchQueries)
	fmt.Printf("Total time: %v\n", elapsed)
	fmt.Printf("Queries per second: %.0f\n", float64(benchQueries)/elapsed.Seconds())
	fmt.Printf("Average query time: %v\n", elapsed/time.Duration(benchQueries))
	fmt.Printf("Contained: %d\n", contained.Load())
}

// generateZones builds random square zones roughly 1km on a side.
func generateZones(n int) []models.ZoneRecord {
	r := rand.New(rand.NewSource(42))
	zones := make([]models.ZoneRecord, n)
	for i := range zones {
		lat := r.Float64()*140 - 70
		lon := r.Float64()*359 - 180
		const side = 0.01
		ring := orb.Ring{
			{lon, lat}, {lon + side, lat}, {lon + side, lat + side}, {lon, lat + side}, {lon, lat},
		}
		zones[i] = models.ZoneRecord{
			ID:          int64(i + 1),
			Kind:        "way",
			RawGeometry: orb.Polygon{ring},
		}
	}
	return zones
}
