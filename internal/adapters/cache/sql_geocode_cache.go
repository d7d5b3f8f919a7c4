package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"trip-route-service/internal/domain"
	"trip-route-service/internal/platform/db"
	"trip-route-service/internal/platform/obs"
)

// SQLGeocodeCache is a SQL-backed cache of reverse geocoding results keyed
// by a normalized coordinate string.
type SQLGeocodeCache struct {
	DB      *sql.DB
	Dialect db.Dialect
	// TTL expires entries older than this; zero keeps them forever.
	TTL time.Duration
	Now func() time.Time
}

func NewSQLGeocodeCache(conn *sql.DB, dialect db.Dialect) *SQLGeocodeCache {
	return &SQLGeocodeCache{DB: conn, Dialect: dialect, Now: time.Now}
}

func (s *SQLGeocodeCache) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Fetch the cached place for key.
func (s *SQLGeocodeCache) GetPlace(ctx context.Context, key string) (_ domain.Place, _ bool, err error) {
	defer obs.Time(ctx, "geocode.cache.GetPlace")(&err)

	if s.DB == nil {
		return domain.Place{}, false, errors.New("geocode cache: db is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.Place{}, false, nil
	}

	q := s.Dialect.Rebind(`
	SELECT place_id, name, formatted_address, lat, lng, updated_at
	FROM geocode_cache
	WHERE cache_key = ?;
	`)

	var (
		p         domain.Place
		updatedAt string
	)
	err = s.DB.QueryRowContext(ctx, q, key).Scan(
		&p.PlaceID, &p.Name, &p.FormattedAddress,
		&p.Coordinates.Lat, &p.Coordinates.Lng, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Place{}, false, nil
	}
	if err != nil {
		return domain.Place{}, false, fmt.Errorf("get geocode cache key=%q: %w", key, err)
	}

	if s.TTL > 0 {
		ts, perr := time.Parse(time.RFC3339Nano, updatedAt)
		if perr != nil || s.now().Sub(ts) > s.TTL {
			return domain.Place{}, false, nil
		}
	}
	return p, true, nil
}

// Store place under key, replacing any previous entry.
func (s *SQLGeocodeCache) PutPlace(ctx context.Context, key string, p domain.Place) (err error) {
	defer obs.Time(ctx, "geocode.cache.PutPlace")(&err)

	if s.DB == nil {
		return errors.New("geocode cache: db is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("insert geocode cache: empty key")
	}

	q := s.Dialect.Rebind(`
	INSERT INTO geocode_cache (cache_key, place_id, name, formatted_address, lat, lng, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (cache_key) DO UPDATE
	SET place_id = EXCLUDED.place_id,
		name = EXCLUDED.name,
		formatted_address = EXCLUDED.formatted_address,
		lat = EXCLUDED.lat,
		lng = EXCLUDED.lng,
		updated_at = EXCLUDED.updated_at;
	`)
	if _, err := s.DB.ExecContext(ctx, q,
		key, p.PlaceID, p.Name, p.FormattedAddress,
		p.Coordinates.Lat, p.Coordinates.Lng,
		s.now().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("insert geocode cache key=%q: %w", key, err)
	}
	return nil
}
