package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"trip-route-service/internal/platform/obs"
	"trip-route-service/internal/ports"
)

// ApplyRemote merges a change published by another instance. Own echoes and
// changes for other trips are ignored; upserts older than the local copy
// lose (last write wins). Remote changes are not written through: the
// publishing instance already persisted them.
func (s *Store) ApplyRemote(change ports.LocationChange) error {
	if change.Origin == s.instanceID {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if change.TripID != s.tripID {
		return nil
	}

	cur, exists := s.locations[change.LocationID]

	switch change.Op {
	case ports.ChangeDelete:
		if !exists {
			return nil
		}
		delete(s.locations, change.LocationID)
		s.invalidateLocked(cur.EffectiveDate())

	case ports.ChangeUpsert:
		if change.Location == nil {
			return fmt.Errorf("apply remote %q: upsert without location", change.LocationID)
		}
		next := change.Location.Clone()
		if err := next.Validate(); err != nil {
			return fmt.Errorf("apply remote %q: %w", change.LocationID, err)
		}
		if exists && cur.UpdatedAt.After(next.UpdatedAt) {
			return nil
		}
		// Leg metrics belong to the route of the instance that computed them.
		next.ClearDerived()

		switch {
		case !exists:
			s.locations[next.ID] = next
			s.invalidateLocked(next.EffectiveDate())
		case cur.EffectiveDate() != next.EffectiveDate():
			s.locations[next.ID] = next
			s.invalidateLocked(cur.EffectiveDate())
			s.invalidateLocked(next.EffectiveDate())
		case cur.Skipped != next.Skipped, cur.Position != next.Position:
			s.locations[next.ID] = next
			s.invalidateLocked(next.EffectiveDate())
		default:
			// Same place in the same day: the local route still holds.
			if cur.FromPrevious != nil {
				m := *cur.FromPrevious
				next.FromPrevious = &m
			}
			s.locations[next.ID] = next
		}

	default:
		return fmt.Errorf("apply remote %q: unknown op %q", change.LocationID, change.Op)
	}
	return nil
}

// Sync applies changes from feed until ctx is done or the feed closes. It
// follows the loaded trip: after Load switches trips the old subscription is
// dropped and the new trip is watched.
func (s *Store) Sync(ctx context.Context, feed ports.ChangeFeed) error {
	tripID := s.TripID()
	changes, stop, err := s.watch(ctx, feed, tripID)
	if err != nil {
		return err
	}
	defer func() { stop() }() // stop is replaced on resubscribe

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-s.tripChanged:
			next := s.TripID()
			if next == tripID {
				continue
			}
			stop()
			nextChanges, nextStop, err := s.watch(ctx, feed, next)
			if err != nil {
				return err
			}
			changes, stop, tripID = nextChanges, nextStop, next
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			if err := s.ApplyRemote(change); err != nil {
				s.log.Warn("apply remote change failed",
					zap.String("location_id", change.LocationID),
					zap.String("origin", change.Origin),
					zap.Error(err),
				)
			}
		}
	}
}

// watch subscribes to tripID under a child context; stop cancels it.
func (s *Store) watch(
	ctx context.Context,
	feed ports.ChangeFeed,
	tripID string,
) (<-chan ports.LocationChange, context.CancelFunc, error) {
	wctx, cancel := context.WithCancel(ctx)
	changes, err := feed.Watch(wctx, tripID)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("sync trip %q: %w", tripID, err)
	}
	s.log.Info("change feed attached", zap.String("trip_id", tripID), zap.String("instance_id", s.instanceID))
	return changes, cancel, nil
}

func (s *Store) publish(ctx context.Context, change ports.LocationChange) {
	if s.feed == nil {
		return
	}
	s.mu.RLock()
	change.TripID = s.tripID
	s.mu.RUnlock()
	change.Origin = s.instanceID
	change.At = s.now().UTC()

	if err := s.feed.Publish(ctx, change); err != nil {
		s.log.Warn("publish location change failed",
			zap.String("req_id", obs.RequestID(ctx)),
			zap.String("location_id", change.LocationID),
			zap.Error(err),
		)
	}
}
