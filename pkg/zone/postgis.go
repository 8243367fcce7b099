package zone

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/kass/go-geofence/pkg/logger"
	"github.com/kass/go-geofence/pkg/models"
)

// ZoneStore is a PostGIS-backed zone source. It mirrors the GeoJSON file
// loader's output contract and exists for deployments that keep the zone
// inventory in a database rather than a flat file.
type ZoneStore struct {
	db *sql.DB
}

// NewZoneStore opens a PostGIS connection
func NewZoneStore(host, user, password, dbname string, port int) (*ZoneStore, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings for better performance
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &ZoneStore{db: db}, nil
}

// InitSchema creates the zone table
func (s *ZoneStore) InitSchema() error {
	queries := []string{
		`CREATE EXTENSION IF NOT EXISTS postgis;`,

		`CREATE TABLE IF NOT EXISTS geo_zones (
			id BIGINT PRIMARY KEY,
			kind TEXT NOT NULL,
			tags JSONB NOT NULL DEFAULT '{}'::jsonb,
			geom GEOMETRY(GEOMETRY, 4326) NOT NULL
		);`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}

	return nil
}

// CreateSpatialIndex creates a GIST index on the geometry column
func (s *ZoneStore) CreateSpatialIndex() error {
	query := `CREATE INDEX IF NOT EXISTS idx_geo_zones_geom ON geo_zones USING GIST(geom);`

	start := time.Now()
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create spatial index: %w", err)
	}

	if _, err := s.db.Exec("ANALYZE geo_zones;"); err != nil {
		return fmt.Errorf("failed to analyze table: %w", err)
	}

	logger.L().Info("postgis_index_created", "elapsed", time.Since(start))
	return nil
}

// BulkInsertZones upserts zones in batches inside a transaction
func (s *ZoneStore) BulkInsertZones(zones []models.ZoneRecord) error {
	const batchSize = 1000

	stmt, err := s.db.Prepare(`
		INSERT INTO geo_zones (id, kind, tags, geom)
		VALUES ($1, $2, $3, ST_SetSRID(ST_GeomFromGeoJSON($4), 4326))
		ON CONFLICT (id) DO UPDATE SET kind = $2, tags = $3, geom = ST_SetSRID(ST_GeomFromGeoJSON($4), 4326)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	txStmt := tx.Stmt(stmt)

	for i := range zones {
		z := &zones[i]
		if z.RawGeometry == nil {
			continue
		}
		tags, err := json.Marshal(z.Attributes)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to encode tags for zone %d: %w", z.ID, err)
		}
		g, err := geojson.NewGeometry(z.RawGeometry).MarshalJSON()
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to encode geometry for zone %d: %w", z.ID, err)
		}
		if _, err := txStmt.Exec(z.ID, z.Kind, tags, g); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert zone %d: %w", z.ID, err)
		}

		if (i+1)%batchSize == 0 {
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("failed to commit batch: %w", err)
			}
			tx, err = s.db.Begin()
			if err != nil {
				return fmt.Errorf("failed to begin new transaction: %w", err)
			}
			txStmt = tx.Stmt(stmt)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit final batch: %w", err)
	}

	return nil
}

// LoadZones reads every zone back out, same contract as LoadGeoJSON
func (s *ZoneStore) LoadZones() ([]models.ZoneRecord, error) {
	rows, err := s.db.Query(`SELECT id, kind, tags::text, ST_AsGeoJSON(geom) FROM geo_zones`)
	if err != nil {
		return nil, fmt.Errorf("failed to query zones: %w", err)
	}
	defer rows.Close()

	var zones []models.ZoneRecord
	for rows.Next() {
		var (
			z        models.ZoneRecord
			tagsJSON string
			geomJSON string
		)
		if err := rows.Scan(&z.ID, &z.Kind, &tagsJSON, &geomJSON); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(tagsJSON), &z.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode tags for zone %d: %w", z.ID, err)
		}
		g, err := geojson.UnmarshalGeometry([]byte(geomJSON))
		if err != nil {
			return nil, fmt.Errorf("failed to decode geometry for zone %d: %w", z.ID, err)
		}
		switch geo := g.Geometry().(type) {
		case orb.Point, orb.Polygon, orb.MultiPolygon:
			z.RawGeometry = geo
		default:
			logger.L().Warn("postgis_skip_geometry", "zone", z.ID)
			continue
		}
		zones = append(zones, z)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return zones, nil
}

// Count returns the number of zones in the database
func (s *ZoneStore) Count() (int64, error) {
	var count int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM geo_zones").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count zones: %w", err)
	}
	return count, nil
}

// Close closes the database connection
func (s *ZoneStore) Close() error {
	return s.db.Close()
}
