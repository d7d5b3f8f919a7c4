package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"trip-route-service/internal/adapters/cache"
	"trip-route-service/internal/adapters/changefeed"
	"trip-route-service/internal/adapters/googlemaps"
	"trip-route-service/internal/adapters/repositories"
	"trip-route-service/internal/api"
	"trip-route-service/internal/config"
	"trip-route-service/internal/domain"
	"trip-route-service/internal/markers"
	"trip-route-service/internal/platform/db"
	"trip-route-service/internal/platform/logging"
	"trip-route-service/internal/platform/obs"
	"trip-route-service/internal/ports"
	"trip-route-service/internal/services"
	"trip-route-service/internal/store"
)

// main is the application composition root.
// It wires concrete adapters (SQL, Google Maps, Redis) behind ports and starts the HTTP server.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics, err := obs.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	obs.SetDefault(metrics)

	shutdownTracing, err := obs.InitTracing(ctx, cfg.Tracing, logger)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	dialect, err := db.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return err
	}
	conn, err := openDB(dialect, cfg.Database)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Initialize schema and seed demo data on first start for local runs.
	if err := initAndSeed(ctx, conn, dialect, cfg.Database.SeedPath, logger); err != nil {
		return err
	}

	repo := repositories.NewSQLLocationRepository(conn, dialect)
	if err := ensureTrip(ctx, repo, cfg.Trip); err != nil {
		return err
	}

	geocodeCache := cache.NewSQLGeocodeCache(conn, dialect)
	geocodeCache.TTL = cfg.Database.GeocodeTTL

	provider, geocoder, err := newProvider(cfg, geocodeCache, metrics, logger)
	if err != nil {
		return err
	}

	var feed ports.ChangeFeed
	if cfg.Redis.Addr != "" {
		redisFeed, err := changefeed.Dial(ctx, cfg.Redis, logger)
		if err != nil {
			return err
		}
		defer redisFeed.Close()
		feed = redisFeed
	}

	st := store.New(store.Options{Repo: repo, Feed: feed, Logger: logger})
	if err := st.Load(ctx, cfg.Trip.ID); err != nil {
		return err
	}
	if feed != nil {
		go func() {
			if err := st.Sync(ctx, feed); err != nil {
				logger.Error("change feed stopped", zap.Error(err))
			}
		}()
	}

	renderer, err := markers.NewGlyphRenderer()
	if err != nil {
		return err
	}
	markerCache, err := markers.NewCache(renderer, cfg.Markers, metrics, logger)
	if err != nil {
		return err
	}
	if cfg.Markers.Prewarm {
		markerCache.PrewarmAsync(ctx, false)
	}

	router := api.NewRouter(api.Deps{
		Store: st,
		Optimizer: &services.RouteOptimizer{
			Store:    st,
			Provider: provider,
			Metrics:  metrics,
			Logger:   logger,
			Timeout:  cfg.Route.Timeout,
		},
		Markers:          markerCache,
		Geocoder:         geocoder,
		Trips:            repo,
		Metrics:          metrics,
		Logger:           logger,
		DefaultThreshold: cfg.Zones.DefaultThresholdMeters,
	})

	// Timeouts are tuned for cold-cache route planning (external API latency).
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("addr", cfg.Server.Addr),
			zap.String("trip_id", cfg.Trip.ID),
			zap.String("provider", cfg.Route.Provider),
			zap.String("instance_id", st.InstanceID()),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openDB(dialect db.Dialect, cfg config.DatabaseConfig) (*sql.DB, error) {
	if dialect == db.Postgres {
		return db.Open(cfg.URL)
	}
	return db.OpenSqlite(cfg.Path)
}

// initAndSeed creates the schema and loads the seed file when the database
// holds no trips yet. A missing seed file is not an error.
func initAndSeed(ctx context.Context, conn *sql.DB, dialect db.Dialect, seedPath string, logger *zap.Logger) error {
	if err := repositories.InitSchema(conn); err != nil {
		return fmt.Errorf("init and seed: %w", err)
	}
	if seedPath == "" {
		return nil
	}
	if _, err := os.Stat(seedPath); errors.Is(err, os.ErrNotExist) {
		logger.Info("no seed file", zap.String("path", seedPath))
		return nil
	}

	trips, err := repositories.NewSQLLocationRepository(conn, dialect).ListTrips(ctx)
	if err != nil {
		return fmt.Errorf("init and seed: %w", err)
	}
	if len(trips) > 0 {
		return nil
	}
	if err := repositories.SeedFromJSON(conn, dialect, seedPath, time.Now()); err != nil {
		return fmt.Errorf("init and seed: %w", err)
	}
	logger.Info("database seeded", zap.String("path", seedPath))
	return nil
}

// ensureTrip creates the configured trip when it does not exist yet.
func ensureTrip(ctx context.Context, repo ports.TripRepository, cfg config.TripConfig) error {
	_, err := repo.GetTrip(ctx, cfg.ID)
	if err == nil {
		return nil
	}
	if !domain.IsNotFound(err) {
		return err
	}
	return repo.CreateTrip(ctx, &domain.Trip{ID: cfg.ID, Name: cfg.Name, CreatedAt: time.Now().UTC()})
}

// newProvider picks the directions provider. The mock provider has no
// geocoder, so pinning by coordinate is unavailable with it.
func newProvider(
	cfg *config.Config,
	geocodeCache ports.GeocodeCache,
	metrics *obs.Metrics,
	logger *zap.Logger,
) (ports.DirectionsProvider, ports.Geocoder, error) {
	if cfg.Route.Provider == "mock" {
		logger.Warn("using mock directions provider")
		return googlemaps.NewMockDirectionsProvider(), nil, nil
	}
	client, err := googlemaps.NewClient(cfg.Google, nil, geocodeCache, metrics, logger)
	if err != nil {
		return nil, nil, err
	}
	return client, client, nil
}
