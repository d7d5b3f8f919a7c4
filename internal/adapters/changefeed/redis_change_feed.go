// Package changefeed broadcasts location changes between service instances
// over Redis pub/sub.
package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"trip-route-service/internal/domain"
	"trip-route-service/internal/platform/logging"
	"trip-route-service/internal/platform/obs"
	"trip-route-service/internal/ports"
)

type Config struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	// Buffer is the per-watcher channel size.
	Buffer int `koanf:"buffer"`
}

// Channel is the pub/sub channel carrying changes for one trip.
func Channel(tripID string) string {
	return "trip:" + tripID + ":locations"
}

// RedisChangeFeed implements ports.ChangeFeed. Delivery is at most once;
// instances that miss a message reconcile on their next Load.
type RedisChangeFeed struct {
	client redis.UniversalClient
	buffer int
	log    *zap.Logger
}

func NewRedisChangeFeed(client redis.UniversalClient, buffer int, log *zap.Logger) *RedisChangeFeed {
	if buffer <= 0 {
		buffer = 64
	}
	return &RedisChangeFeed{client: client, buffer: buffer, log: logging.OrNop(log)}
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, cfg Config, log *zap.Logger) (*RedisChangeFeed, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("dial redis %q: %w", cfg.Addr, err)
	}
	return NewRedisChangeFeed(client, cfg.Buffer, log), nil
}

func (f *RedisChangeFeed) Close() error { return f.client.Close() }

func (f *RedisChangeFeed) Publish(ctx context.Context, change ports.LocationChange) (err error) {
	defer obs.Time(ctx, "changefeed.Publish")(&err)

	if change.TripID == "" {
		return errors.New("publish change: empty trip id")
	}
	payload, err := json.Marshal(toWire(change))
	if err != nil {
		return fmt.Errorf("publish change: encode: %w", err)
	}
	if err := f.client.Publish(ctx, Channel(change.TripID), payload).Err(); err != nil {
		return fmt.Errorf("publish change %q: %w", change.LocationID, err)
	}
	return nil
}

// Watch subscribes to tripID. The subscription is confirmed before Watch
// returns, so changes published afterwards are delivered. The returned
// channel closes when ctx is done.
func (f *RedisChangeFeed) Watch(ctx context.Context, tripID string) (<-chan ports.LocationChange, error) {
	sub := f.client.Subscribe(ctx, Channel(tripID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("watch trip %q: %w", tripID, err)
	}

	out := make(chan ports.LocationChange, f.buffer)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var w wireChange
				if err := json.Unmarshal([]byte(msg.Payload), &w); err != nil {
					f.log.Warn("dropping malformed change",
						zap.String("channel", msg.Channel),
						zap.Error(err),
					)
					continue
				}
				select {
				case out <- w.toChange():
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

type wireLegMetrics struct {
	DurationSeconds int64 `json:"duration_seconds"`
	DistanceMeters  int   `json:"distance_meters"`
}

type wireLocation struct {
	ID            string          `json:"id"`
	PlaceID       string          `json:"place_id,omitempty"`
	Name          string          `json:"name"`
	Address       string          `json:"address,omitempty"`
	Lat           float64         `json:"lat"`
	Lng           float64         `json:"lng"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	ScheduledDate *domain.Date    `json:"scheduled_date,omitempty"`
	StaySeconds   int64           `json:"stay_seconds"`
	Skipped       bool            `json:"skipped,omitempty"`
	Position      int             `json:"position"`
	FromPrevious  *wireLegMetrics `json:"from_previous,omitempty"`
	TripID        string          `json:"trip_id"`
}

type wireChange struct {
	Op         ports.ChangeOp `json:"op"`
	TripID     string         `json:"trip_id"`
	LocationID string         `json:"location_id"`
	Location   *wireLocation  `json:"location,omitempty"`
	Origin     string         `json:"origin"`
	At         time.Time      `json:"at"`
}

func toWire(c ports.LocationChange) wireChange {
	w := wireChange{
		Op:         c.Op,
		TripID:     c.TripID,
		LocationID: c.LocationID,
		Origin:     c.Origin,
		At:         c.At.UTC(),
	}
	if l := c.Location; l != nil {
		wl := &wireLocation{
			ID:            l.ID,
			PlaceID:       l.PlaceID,
			Name:          l.Name,
			Address:       l.Address,
			Lat:           l.Coordinates.Lat,
			Lng:           l.Coordinates.Lng,
			CreatedAt:     l.CreatedAt,
			UpdatedAt:     l.UpdatedAt,
			ScheduledDate: l.ScheduledDate,
			StaySeconds:   int64(l.StayDuration / time.Second),
			Skipped:       l.Skipped,
			Position:      l.Position,
			TripID:        l.TripID,
		}
		if l.FromPrevious != nil {
			wl.FromPrevious = &wireLegMetrics{
				DurationSeconds: int64(l.FromPrevious.Duration / time.Second),
				DistanceMeters:  l.FromPrevious.DistanceMeters,
			}
		}
		w.Location = wl
	}
	return w
}

func (w wireChange) toChange() ports.LocationChange {
	c := ports.LocationChange{
		Op:         w.Op,
		TripID:     w.TripID,
		LocationID: w.LocationID,
		Origin:     w.Origin,
		At:         w.At,
	}
	if wl := w.Location; wl != nil {
		l := &domain.Location{
			ID:            wl.ID,
			PlaceID:       wl.PlaceID,
			Name:          wl.Name,
			Address:       wl.Address,
			Coordinates:   domain.Coordinates{Lat: wl.Lat, Lng: wl.Lng},
			CreatedAt:     wl.CreatedAt,
			UpdatedAt:     wl.UpdatedAt,
			ScheduledDate: wl.ScheduledDate,
			StayDuration:  time.Duration(wl.StaySeconds) * time.Second,
			Skipped:       wl.Skipped,
			Position:      wl.Position,
			TripID:        wl.TripID,
		}
		if wl.FromPrevious != nil {
			l.FromPrevious = &domain.LegMetrics{
				Duration:       time.Duration(wl.FromPrevious.DurationSeconds) * time.Second,
				DistanceMeters: wl.FromPrevious.DistanceMeters,
			}
		}
		c.Location = l
	}
	return c
}
