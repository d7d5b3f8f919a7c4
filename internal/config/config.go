// Package config loads service configuration from defaults, an optional
// YAML file and TRIP_ prefixed environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"trip-route-service/internal/adapters/changefeed"
	"trip-route-service/internal/adapters/googlemaps"
	"trip-route-service/internal/domain"
	"trip-route-service/internal/markers"
	"trip-route-service/internal/platform/logging"
	"trip-route-service/internal/platform/obs"
)

const EnvPrefix = "TRIP_"

type ServerConfig struct {
	Addr              string        `koanf:"addr"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// Driver is sqlite or postgres.
	Driver   string `koanf:"driver"`
	Path     string `koanf:"path"`
	URL      string `koanf:"url"`
	SeedPath string `koanf:"seed_path"`

	// GeocodeTTL expires cached reverse geocoding results; zero keeps them.
	GeocodeTTL time.Duration `koanf:"geocode_ttl"`
}

type RouteConfig struct {
	// Provider is google or mock.
	Provider string        `koanf:"provider"`
	Timeout  time.Duration `koanf:"timeout"`
}

type ZonesConfig struct {
	DefaultThresholdMeters float64 `koanf:"default_threshold_meters"`
}

type TripConfig struct {
	ID   string `koanf:"id"`
	Name string `koanf:"name"`
}

type Config struct {
	Server   ServerConfig      `koanf:"server"`
	Database DatabaseConfig    `koanf:"database"`
	Google   googlemaps.Config `koanf:"google"`
	Route    RouteConfig       `koanf:"route"`
	Redis    changefeed.Config `koanf:"redis"`
	Markers  markers.Config    `koanf:"markers"`
	Zones    ZonesConfig       `koanf:"zones"`
	Log      logging.Config    `koanf:"log"`
	Tracing  obs.TracingConfig `koanf:"tracing"`
	Trip     TripConfig        `koanf:"trip"`
}

func defaults() map[string]any {
	return map[string]any{
		"server.addr":                    ":8080",
		"server.read_header_timeout":     "5s",
		"server.read_timeout":            "10s",
		"server.write_timeout":           "60s",
		"server.idle_timeout":            "60s",
		"server.shutdown_timeout":        "10s",
		"database.driver":                "sqlite",
		"database.path":                  "data/app.db",
		"database.seed_path":             "data/seeds/locations.json",
		"database.geocode_ttl":           "720h",
		"google.base_url":                googlemaps.DefaultBaseURL,
		"google.connect_timeout":         "5s",
		"google.receive_timeout":         "15s",
		"google.request_timeout":         "30s",
		"google.max_attempts":            3,
		"google.retry_backoff":           "200ms",
		"route.provider":                 "google",
		"route.timeout":                  "45s",
		"redis.buffer":                   64,
		"markers.capacity":               markers.DefaultCapacity,
		"markers.render_timeout":         "2s",
		"markers.prewarm":                true,
		"zones.default_threshold_meters": domain.DefaultZoneThresholdMeters,
		"log.level":                      "info",
		"log.format":                     "json",
		"tracing.enabled":                false,
		"tracing.service_name":           "trip-route-service",
		"tracing.exporter":               "stdout",
		"tracing.sample_ratio":           1.0,
		"trip.id":                        "default",
		"trip.name":                      "My trip",
	}
}

// Load builds the configuration. A .env file in the working directory is
// applied to the process environment first when present. The YAML file named
// by CONFIG_FILE is optional unless the variable is set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load config: read .env: %w", err)
	}
	return LoadFrom(os.Getenv("CONFIG_FILE"))
}

// LoadFrom builds the configuration from defaults, path (skipped when empty)
// and the environment.
func LoadFrom(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load config: defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config: file %q: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load config: env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

// envKey maps TRIP_GOOGLE__API_KEY to google.api_key.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "sqlite", "sqlite3", "":
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(c.Database.URL) == "" {
			return errors.New("database.url is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}

	switch c.Route.Provider {
	case "google":
		if strings.TrimSpace(c.Google.APIKey) == "" {
			return errors.New("google.api_key is required when route.provider=google")
		}
	case "mock":
	default:
		return fmt.Errorf("unsupported route.provider %q", c.Route.Provider)
	}

	th := c.Zones.DefaultThresholdMeters
	if th < domain.MinZoneThresholdMeters || th > domain.MaxZoneThresholdMeters {
		return fmt.Errorf("zones.default_threshold_meters: %w", domain.ErrInvalidThreshold)
	}
	if strings.TrimSpace(c.Trip.ID) == "" {
		return fmt.Errorf("trip.id: %w", domain.ErrEmptyID)
	}
	return nil
}

// Get returns the environment variable key, or fallback when it is unset
// or empty.
func Get(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
