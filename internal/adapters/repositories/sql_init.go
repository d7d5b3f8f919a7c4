package repositories

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"trip-route-service/internal/domain"
	"trip-route-service/internal/platform/db"
)

// The DDL sticks to column types both SQLite and PostgreSQL accept.
// Timestamps are stored as RFC 3339 text.
var schemaStatements = []string{
	`
	CREATE TABLE IF NOT EXISTS trips (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`,
	`
	CREATE TABLE IF NOT EXISTS locations (
		id TEXT PRIMARY KEY,
		trip_id TEXT NOT NULL DEFAULT '',
		place_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		lat DOUBLE PRECISION NOT NULL,
		lng DOUBLE PRECISION NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		scheduled_date TEXT,
		stay_seconds BIGINT NOT NULL DEFAULT 0,
		skipped BOOLEAN NOT NULL DEFAULT FALSE,
		stop_position INTEGER NOT NULL DEFAULT 0,
		from_prev_seconds BIGINT,
		from_prev_meters BIGINT
	);
	`,
	`
	CREATE INDEX IF NOT EXISTS idx_locations_trip
	ON locations(trip_id, stop_position);
	`,
	`
	CREATE TABLE IF NOT EXISTS geocode_cache (
		cache_key TEXT PRIMARY KEY,
		place_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		formatted_address TEXT NOT NULL DEFAULT '',
		lat DOUBLE PRECISION NOT NULL,
		lng DOUBLE PRECISION NOT NULL,
		updated_at TEXT NOT NULL
	);
	`,
}

// Initialize the database schema.
func InitSchema(conn *sql.DB) error {
	if conn == nil {
		return errors.New("init schema: DB is nil")
	}

	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("init schema: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range schemaStatements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: exec statement #%d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("init schema: commit tx: %w", err)
	}

	return nil
}

type LocationSeed struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Address       string  `json:"address"`
	Lat           float64 `json:"lat"`
	Lng           float64 `json:"lng"`
	ScheduledDate string  `json:"scheduled_date,omitempty"`
	StayMinutes   *int    `json:"stay_minutes,omitempty"`
}

type TripSeed struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Locations []LocationSeed `json:"locations"`
}

type seedFile struct {
	Trips []TripSeed `json:"trips"`
}

// Populate the database with trips and their locations from a JSON file.
// Rows are upserted so seeding twice is harmless.
func SeedFromJSON(conn *sql.DB, dialect db.Dialect, jsonPath string, now time.Time) error {
	bytes, err := os.ReadFile(jsonPath)
	if err != nil {
		return fmt.Errorf("seed trips: read %q: %w", jsonPath, err)
	}

	var data seedFile
	if err := json.Unmarshal(bytes, &data); err != nil {
		return fmt.Errorf("seed trips: parse json: %w", err)
	}

	now = now.UTC()
	trips := make([]*domain.Trip, 0, len(data.Trips))
	locs := make([]*domain.Location, 0, 16)
	for i, t := range data.Trips {
		id := strings.TrimSpace(t.ID)
		if id == "" {
			return fmt.Errorf("seed trips: trip at index %d: %w", i+1, domain.ErrEmptyID)
		}
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return fmt.Errorf("seed trips: trip %q: %w", id, domain.ErrEmptyName)
		}
		trips = append(trips, &domain.Trip{ID: id, Name: name, CreatedAt: now})

		for j, ls := range t.Locations {
			loc, err := ls.toLocation(id, j, now)
			if err != nil {
				return fmt.Errorf("seed trips: trip %q location at index %d: %w", id, j+1, err)
			}
			locs = append(locs, loc)
		}
	}

	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("seed trips: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	tripStmt, err := tx.Prepare(dialect.Rebind(upsertTripQuery))
	if err != nil {
		return fmt.Errorf("seed trips: prepare trip insert: %w", err)
	}
	defer tripStmt.Close()

	for _, t := range trips {
		if _, err := tripStmt.Exec(tripArgs(t)...); err != nil {
			return fmt.Errorf("seed trips: insert trip id=%q: %w", t.ID, err)
		}
	}

	locStmt, err := tx.Prepare(dialect.Rebind(upsertLocationQuery))
	if err != nil {
		return fmt.Errorf("seed trips: prepare location insert: %w", err)
	}
	defer locStmt.Close()

	for _, l := range locs {
		if _, err := locStmt.Exec(locationArgs(l)...); err != nil {
			return fmt.Errorf("seed trips: insert location id=%q: %w", l.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("seed trips: commit tx: %w", err)
	}

	return nil
}

func (s LocationSeed) toLocation(tripID string, idx int, now time.Time) (*domain.Location, error) {
	loc := &domain.Location{
		ID:           strings.TrimSpace(s.ID),
		Name:         strings.TrimSpace(s.Name),
		Address:      strings.TrimSpace(s.Address),
		Coordinates:  domain.Coordinates{Lat: s.Lat, Lng: s.Lng},
		CreatedAt:    now,
		UpdatedAt:    now,
		StayDuration: domain.DefaultStayDuration,
		Position:     idx,
		TripID:       tripID,
	}
	if loc.Name == "" {
		loc.Name = loc.Address
	}
	if s.StayMinutes != nil {
		loc.StayDuration = time.Duration(*s.StayMinutes) * time.Minute
	}
	if s.ScheduledDate != "" {
		d, err := domain.ParseDate(s.ScheduledDate)
		if err != nil {
			return nil, err
		}
		loc.ScheduledDate = &d
	}
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	return loc, nil
}
