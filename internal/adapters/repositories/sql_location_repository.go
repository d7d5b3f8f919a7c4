package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"trip-route-service/internal/domain"
	"trip-route-service/internal/platform/db"
	"trip-route-service/internal/platform/obs"
)

const locationColumns = `
	id, trip_id, place_id, name, address, lat, lng,
	created_at, updated_at, scheduled_date, stay_seconds, skipped,
	stop_position, from_prev_seconds, from_prev_meters`

const insertLocationQuery = `
	INSERT INTO locations (` + locationColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`

const upsertLocationQuery = `
	INSERT INTO locations (` + locationColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE
	SET trip_id = EXCLUDED.trip_id,
		place_id = EXCLUDED.place_id,
		name = EXCLUDED.name,
		address = EXCLUDED.address,
		lat = EXCLUDED.lat,
		lng = EXCLUDED.lng,
		updated_at = EXCLUDED.updated_at,
		scheduled_date = EXCLUDED.scheduled_date,
		stay_seconds = EXCLUDED.stay_seconds,
		skipped = EXCLUDED.skipped,
		stop_position = EXCLUDED.stop_position,
		from_prev_seconds = EXCLUDED.from_prev_seconds,
		from_prev_meters = EXCLUDED.from_prev_meters;
	`

const upsertTripQuery = `
	INSERT INTO trips (id, name, created_at)
	VALUES (?, ?, ?)
	ON CONFLICT (id) DO UPDATE
	SET name = EXCLUDED.name;
	`

// SQL-backed implementation of the LocationRepository and TripRepository
// ports. Works against SQLite and PostgreSQL.
type SQLLocationRepository struct {
	DB      *sql.DB
	Dialect db.Dialect
}

func NewSQLLocationRepository(conn *sql.DB, dialect db.Dialect) *SQLLocationRepository {
	return &SQLLocationRepository{DB: conn, Dialect: dialect}
}

func (s *SQLLocationRepository) CreateLocation(ctx context.Context, loc *domain.Location) (err error) {
	defer obs.Time(ctx, "repo.CreateLocation")(&err)

	if s.DB == nil {
		return errors.New("sql location repository: DB is nil")
	}
	if err := loc.Validate(); err != nil {
		return fmt.Errorf("create location: %w", err)
	}

	exists, err := s.exists(ctx, loc.ID)
	if err != nil {
		return fmt.Errorf("create location id=%q: %w", loc.ID, err)
	}
	if exists {
		return fmt.Errorf("create location id=%q: %w", loc.ID, domain.ErrDuplicateLocation)
	}

	if _, err := s.DB.ExecContext(ctx, s.Dialect.Rebind(insertLocationQuery), locationArgs(loc)...); err != nil {
		return fmt.Errorf("create location id=%q: %w", loc.ID, err)
	}
	return nil
}

const updateLocationQuery = `
	UPDATE locations
	SET trip_id = ?, place_id = ?, name = ?, address = ?, lat = ?, lng = ?,
		updated_at = ?, scheduled_date = ?, stay_seconds = ?, skipped = ?,
		stop_position = ?, from_prev_seconds = ?, from_prev_meters = ?
	WHERE id = ?;
	`

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLLocationRepository) UpdateLocation(ctx context.Context, loc *domain.Location) (err error) {
	defer obs.Time(ctx, "repo.UpdateLocation")(&err)

	if s.DB == nil {
		return errors.New("sql location repository: DB is nil")
	}
	return s.updateLocation(ctx, s.DB, loc)
}

// UpdateLocations writes every location in one transaction. Any failure,
// including a missing row, rolls back the whole batch.
func (s *SQLLocationRepository) UpdateLocations(ctx context.Context, locs []*domain.Location) (err error) {
	defer obs.Time(ctx, "repo.UpdateLocations")(&err)

	if s.DB == nil {
		return errors.New("sql location repository: DB is nil")
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update locations: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, loc := range locs {
		if err := s.updateLocation(ctx, tx, loc); err != nil {
			return fmt.Errorf("update locations: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update locations: commit: %w", err)
	}
	return nil
}

func (s *SQLLocationRepository) updateLocation(ctx context.Context, ex execer, loc *domain.Location) error {
	args := locationArgs(loc)
	// Drop id and created_at, then append id for the WHERE clause.
	args = append(append([]any{args[1], args[2], args[3], args[4], args[5], args[6]}, args[8:]...), loc.ID)

	res, err := ex.ExecContext(ctx, s.Dialect.Rebind(updateLocationQuery), args...)
	if err != nil {
		return fmt.Errorf("update location id=%q: %w", loc.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update location id=%q: rows affected: %w", loc.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update location id=%q: %w", loc.ID, domain.ErrLocationNotFound)
	}
	return nil
}

func (s *SQLLocationRepository) DeleteLocation(ctx context.Context, id string) (err error) {
	defer obs.Time(ctx, "repo.DeleteLocation")(&err)

	if s.DB == nil {
		return errors.New("sql location repository: DB is nil")
	}

	res, err := s.DB.ExecContext(ctx, s.Dialect.Rebind(`DELETE FROM locations WHERE id = ?;`), id)
	if err != nil {
		return fmt.Errorf("delete location id=%q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete location id=%q: rows affected: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete location id=%q: %w", id, domain.ErrLocationNotFound)
	}
	return nil
}

// Return all locations of a trip ordered by stop position.
func (s *SQLLocationRepository) ListLocationsByTrip(ctx context.Context, tripID string) (_ []*domain.Location, err error) {
	defer obs.Time(ctx, "repo.ListLocationsByTrip")(&err)

	if s.DB == nil {
		return nil, errors.New("sql location repository: DB is nil")
	}

	q := s.Dialect.Rebind(`
	SELECT` + locationColumns + `
	FROM locations
	WHERE trip_id = ?
	ORDER BY stop_position, created_at, id;
	`)
	rows, err := s.DB.QueryContext(ctx, q, tripID)
	if err != nil {
		return nil, fmt.Errorf("list locations: query locations table: %w", err)
	}
	defer rows.Close()

	locs := make([]*domain.Location, 0, 32)
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("list locations: scan row: %w", err)
		}
		locs = append(locs, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list locations: row iteration: %w", err)
	}

	return locs, nil
}

func (s *SQLLocationRepository) CreateTrip(ctx context.Context, trip *domain.Trip) (err error) {
	defer obs.Time(ctx, "repo.CreateTrip")(&err)

	if s.DB == nil {
		return errors.New("sql location repository: DB is nil")
	}
	if _, err := s.DB.ExecContext(ctx, s.Dialect.Rebind(upsertTripQuery), tripArgs(trip)...); err != nil {
		return fmt.Errorf("create trip id=%q: %w", trip.ID, err)
	}
	return nil
}

func (s *SQLLocationRepository) GetTrip(ctx context.Context, id string) (_ *domain.Trip, err error) {
	defer obs.Time(ctx, "repo.GetTrip")(&err)

	if s.DB == nil {
		return nil, errors.New("sql location repository: DB is nil")
	}

	var (
		t       domain.Trip
		created string
	)
	err = s.DB.QueryRowContext(ctx, s.Dialect.Rebind(`SELECT id, name, created_at FROM trips WHERE id = ?;`), id).
		Scan(&t.ID, &t.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get trip id=%q: %w", id, domain.ErrTripNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get trip id=%q: %w", id, err)
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("get trip id=%q: %w", id, err)
	}
	return &t, nil
}

func (s *SQLLocationRepository) ListTrips(ctx context.Context) (_ []*domain.Trip, err error) {
	defer obs.Time(ctx, "repo.ListTrips")(&err)

	if s.DB == nil {
		return nil, errors.New("sql location repository: DB is nil")
	}

	rows, err := s.DB.QueryContext(ctx, `SELECT id, name, created_at FROM trips ORDER BY created_at, id;`)
	if err != nil {
		return nil, fmt.Errorf("list trips: query trips table: %w", err)
	}
	defer rows.Close()

	trips := make([]*domain.Trip, 0, 8)
	for rows.Next() {
		var (
			t       domain.Trip
			created string
		)
		if err := rows.Scan(&t.ID, &t.Name, &created); err != nil {
			return nil, fmt.Errorf("list trips: scan row: %w", err)
		}
		if t.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("list trips: %w", err)
		}
		trips = append(trips, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list trips: row iteration: %w", err)
	}
	return trips, nil
}

func (s *SQLLocationRepository) exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx, s.Dialect.Rebind(`SELECT 1 FROM locations WHERE id = ?;`), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func tripArgs(t *domain.Trip) []any {
	return []any{t.ID, t.Name, formatTime(t.CreatedAt)}
}

// locationArgs lists column values in locationColumns order.
func locationArgs(l *domain.Location) []any {
	var scheduled sql.NullString
	if l.ScheduledDate != nil {
		scheduled = sql.NullString{String: l.ScheduledDate.String(), Valid: true}
	}
	var prevSeconds, prevMeters sql.NullInt64
	if l.FromPrevious != nil {
		prevSeconds = sql.NullInt64{Int64: int64(l.FromPrevious.Duration / time.Second), Valid: true}
		prevMeters = sql.NullInt64{Int64: int64(l.FromPrevious.DistanceMeters), Valid: true}
	}
	return []any{
		l.ID, l.TripID, l.PlaceID, l.Name, l.Address,
		l.Coordinates.Lat, l.Coordinates.Lng,
		formatTime(l.CreatedAt), formatTime(l.UpdatedAt),
		scheduled, int64(l.StayDuration / time.Second), l.Skipped,
		l.Position, prevSeconds, prevMeters,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLocation(r rowScanner) (*domain.Location, error) {
	var (
		l                      domain.Location
		created, updated       string
		scheduled              sql.NullString
		staySeconds            int64
		prevSeconds, prevMeter sql.NullInt64
	)
	if err := r.Scan(
		&l.ID, &l.TripID, &l.PlaceID, &l.Name, &l.Address,
		&l.Coordinates.Lat, &l.Coordinates.Lng,
		&created, &updated, &scheduled, &staySeconds, &l.Skipped,
		&l.Position, &prevSeconds, &prevMeter,
	); err != nil {
		return nil, err
	}

	var err error
	if l.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if l.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if scheduled.Valid {
		d, err := domain.ParseDate(scheduled.String)
		if err != nil {
			return nil, err
		}
		l.ScheduledDate = &d
	}
	l.StayDuration = time.Duration(staySeconds) * time.Second
	if prevSeconds.Valid && prevMeter.Valid {
		l.FromPrevious = &domain.LegMetrics{
			Duration:       time.Duration(prevSeconds.Int64) * time.Second,
			DistanceMeters: int(prevMeter.Int64),
		}
	}
	return &l, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
