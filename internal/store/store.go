// Package store holds the authoritative in-memory state of a trip's pinned
// locations, grouped by effective date, together with each day's optimized
// route and generation counter.
//
// Every mutation is written through to the LocationRepository before it
// becomes visible in memory. All reads return deep copies taken under the
// read lock, so a caller never observes a route together with a location set
// it was not computed for.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trip-route-service/internal/domain"
	"trip-route-service/internal/platform/logging"
	"trip-route-service/internal/platform/obs"
	"trip-route-service/internal/ports"
)

// ErrStale is returned by ApplyRoute when the day's generation advanced after
// the route was requested.
var ErrStale = errors.New("route result is stale")

// DayGroup is a snapshot of one day. Stops are the non-skipped locations in
// visiting order; Skipped are kept for display only.
type DayGroup struct {
	Date       domain.Date
	Generation uint64
	Stops      []*domain.Location
	Skipped    []*domain.Location
	Route      *domain.OptimizedRoute
}

// StopIDs lists the ids of g.Stops in order.
func (g DayGroup) StopIDs() []string {
	ids := make([]string, 0, len(g.Stops))
	for _, l := range g.Stops {
		ids = append(ids, l.ID)
	}
	return ids
}

// All returns stops followed by skipped locations.
func (g DayGroup) All() []*domain.Location {
	out := make([]*domain.Location, 0, len(g.Stops)+len(g.Skipped))
	out = append(out, g.Stops...)
	return append(out, g.Skipped...)
}

type Options struct {
	Repo       ports.LocationRepository
	Feed       ports.ChangeFeed
	Logger     *zap.Logger
	InstanceID string
	Now        func() time.Time
}

// Store is safe for concurrent use.
type Store struct {
	repo       ports.LocationRepository
	feed       ports.ChangeFeed
	log        *zap.Logger
	now        func() time.Time
	instanceID string

	// tripChanged wakes Sync after Load switches trips.
	tripChanged chan struct{}

	// writeMu serializes mutations together with their repository writes.
	// It is always acquired before mu.
	writeMu sync.Mutex

	mu          sync.RWMutex
	tripID      string
	locations   map[string]*domain.Location
	generations map[domain.Date]uint64
	routes      map[domain.Date]*domain.OptimizedRoute
	selected    domain.Date
}

// New creates an empty store. A nil Repo keeps state in memory only.
func New(opts Options) *Store {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	id := opts.InstanceID
	if id == "" {
		id = uuid.NewString()
	}
	return &Store{
		repo:        opts.Repo,
		feed:        opts.Feed,
		log:         logging.OrNop(opts.Logger),
		now:         now,
		instanceID:  id,
		tripChanged: make(chan struct{}, 1),
		locations:   make(map[string]*domain.Location),
		generations: make(map[domain.Date]uint64),
		routes:      make(map[domain.Date]*domain.OptimizedRoute),
	}
}

func (s *Store) InstanceID() string { return s.instanceID }

func (s *Store) TripID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tripID
}

// Load replaces the in-memory state with the locations of tripID. Every
// known day is invalidated.
func (s *Store) Load(ctx context.Context, tripID string) (err error) {
	defer obs.Time(ctx, "store.Load")(&err)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var locs []*domain.Location
	if s.repo != nil {
		locs, err = s.repo.ListLocationsByTrip(ctx, tripID)
		if err != nil {
			return fmt.Errorf("load trip %q: %w", tripID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for d := range s.generations {
		s.generations[d]++
	}
	s.routes = make(map[domain.Date]*domain.OptimizedRoute)
	s.locations = make(map[string]*domain.Location, len(locs))
	for _, l := range locs {
		s.locations[l.ID] = l.Clone()
		s.generations[l.EffectiveDate()]++
	}
	s.tripID = tripID

	select {
	case s.tripChanged <- struct{}{}:
	default:
	}

	s.log.Info("trip loaded", zap.String("trip_id", tripID), zap.Int("locations", len(locs)))
	return nil
}

// Add inserts a new location at the end of its day.
func (s *Store) Add(ctx context.Context, loc *domain.Location) (_ *domain.Location, err error) {
	defer obs.Time(ctx, "store.Add")(&err)

	if loc == nil {
		return nil, errors.New("add location: nil location")
	}
	next := loc.Clone()
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("add location: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	_, exists := s.locations[next.ID]
	if next.TripID == "" {
		next.TripID = s.tripID
	}
	next.Position = s.nextPositionLocked(next.EffectiveDate())
	s.mu.RUnlock()

	if exists {
		return nil, fmt.Errorf("add location %q: %w", next.ID, domain.ErrDuplicateLocation)
	}

	next.ClearDerived()
	next.UpdatedAt = s.now().UTC()

	if s.repo != nil {
		if err := s.repo.CreateLocation(ctx, next.Clone()); err != nil {
			return nil, fmt.Errorf("add location %q: %w", next.ID, err)
		}
	}

	s.mu.Lock()
	s.locations[next.ID] = next
	cleared := s.invalidateLocked(next.EffectiveDate())
	s.mu.Unlock()

	s.persistDerived(ctx, cleared)
	s.publish(ctx, ports.LocationChange{Op: ports.ChangeUpsert, LocationID: next.ID, Location: next.Clone()})
	return next.Clone(), nil
}

// Remove deletes a location and invalidates its day's route.
func (s *Store) Remove(ctx context.Context, id string) (err error) {
	defer obs.Time(ctx, "store.Remove")(&err)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	cur, ok := s.locations[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("remove location %q: %w", id, domain.ErrLocationNotFound)
	}

	if s.repo != nil {
		if err := s.repo.DeleteLocation(ctx, id); err != nil {
			return fmt.Errorf("remove location %q: %w", id, err)
		}
	}

	s.mu.Lock()
	delete(s.locations, id)
	cleared := s.invalidateLocked(cur.EffectiveDate())
	s.mu.Unlock()

	s.persistDerived(ctx, cleared)
	s.publish(ctx, ports.LocationChange{Op: ports.ChangeDelete, LocationID: id})
	return nil
}

func (s *Store) Rename(ctx context.Context, id, name string) (*domain.Location, error) {
	return s.update(ctx, "rename location", id, func(l *domain.Location) error {
		name = strings.TrimSpace(name)
		if name == "" {
			return domain.ErrEmptyName
		}
		l.Name = name
		return nil
	})
}

// Reschedule moves a location to date; nil falls back to its creation date.
func (s *Store) Reschedule(ctx context.Context, id string, date *domain.Date) (*domain.Location, error) {
	return s.update(ctx, "reschedule location", id, func(l *domain.Location) error {
		if date == nil {
			l.ScheduledDate = nil
			return nil
		}
		if date.IsZero() {
			return domain.ErrInvalidDate
		}
		d := *date
		l.ScheduledDate = &d
		return nil
	})
}

// SetStayDuration edits the stay without touching the cached route: stays
// only feed read-time metrics.
func (s *Store) SetStayDuration(ctx context.Context, id string, stay time.Duration) (*domain.Location, error) {
	return s.update(ctx, "set stay duration", id, func(l *domain.Location) error {
		if stay < 0 {
			return domain.ErrNegativeStay
		}
		l.StayDuration = stay
		return nil
	})
}

func (s *Store) SetSkipped(ctx context.Context, id string, skipped bool) (*domain.Location, error) {
	return s.update(ctx, "set skipped", id, func(l *domain.Location) error {
		l.Skipped = skipped
		return nil
	})
}

// Reorder sets a custom visiting order for the day's stops. ids must be a
// permutation of the current non-skipped stop ids.
func (s *Store) Reorder(ctx context.Context, date domain.Date, ids []string) (err error) {
	defer obs.Time(ctx, "store.Reorder")(&err)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	stops, _ := s.dayLocked(date)
	s.mu.RUnlock()

	if !samePermutation(ids, stops) {
		return fmt.Errorf("reorder %s: %w", date, domain.ErrInvalidOrder)
	}

	byID := make(map[string]*domain.Location, len(stops))
	for _, l := range stops {
		byID[l.ID] = l
	}
	now := s.now().UTC()
	next := make([]*domain.Location, 0, len(ids))
	for i, id := range ids {
		l := byID[id].Clone()
		l.Position = i + 1
		l.UpdatedAt = now
		l.ClearDerived()
		next = append(next, l)
	}

	if s.repo != nil {
		batch := make([]*domain.Location, 0, len(next))
		for _, l := range next {
			batch = append(batch, l.Clone())
		}
		if err := s.repo.UpdateLocations(ctx, batch); err != nil {
			return fmt.Errorf("reorder %s: %w", date, err)
		}
	}

	s.mu.Lock()
	for _, l := range next {
		s.locations[l.ID] = l
	}
	cleared := s.invalidateLocked(date)
	s.mu.Unlock()

	s.persistDerived(ctx, cleared)
	for _, l := range next {
		s.publish(ctx, ports.LocationChange{Op: ports.ChangeUpsert, LocationID: l.ID, Location: l.Clone()})
	}
	return nil
}

// SelectDate switches the selected day, invalidating the previous day's route.
func (s *Store) SelectDate(ctx context.Context, date domain.Date) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.selected == date {
		s.mu.Unlock()
		return
	}
	var cleared []*domain.Location
	if !s.selected.IsZero() {
		cleared = s.invalidateLocked(s.selected)
	}
	s.selected = date
	s.mu.Unlock()

	s.persistDerived(ctx, cleared)
}

func (s *Store) Selected() domain.Date {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// Day returns an atomic snapshot of date.
func (s *Store) Day(date domain.Date) DayGroup {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stops, skipped := s.dayLocked(date)
	return DayGroup{
		Date:       date,
		Generation: s.generations[date],
		Stops:      domain.CloneAll(stops),
		Skipped:    domain.CloneAll(skipped),
		Route:      s.routes[date].Clone(),
	}
}

func (s *Store) Get(id string) (*domain.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.locations[id]
	if !ok {
		return nil, fmt.Errorf("get location %q: %w", id, domain.ErrLocationNotFound)
	}
	return l.Clone(), nil
}

// Locations returns every location ordered by effective date, then position.
func (s *Store) Locations() []*domain.Location {
	s.mu.RLock()
	out := make([]*domain.Location, 0, len(s.locations))
	for _, l := range s.locations {
		out = append(out, l.Clone())
	}
	s.mu.RUnlock()

	domain.SortByPosition(out)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EffectiveDate().Before(out[j].EffectiveDate())
	})
	return out
}

// Route returns the optimized route of date, or nil.
func (s *Store) Route(date domain.Date) *domain.OptimizedRoute {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.routes[date].Clone()
}

func (s *Store) Generation(date domain.Date) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generations[date]
}

// ApplyRoute installs route for its date in one atomic step: stop order,
// per-leg metrics and the route itself. It returns ErrStale, changing
// nothing, when the day's generation no longer matches route.Generation.
// Persisting the derived fields afterwards is best-effort.
func (s *Store) ApplyRoute(ctx context.Context, route *domain.OptimizedRoute) (err error) {
	defer obs.Time(ctx, "store.ApplyRoute")(&err)

	if route == nil {
		return errors.New("apply route: nil route")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	date := route.Date
	if s.generations[date] != route.Generation {
		s.mu.Unlock()
		return fmt.Errorf("apply route %s gen=%d: %w", date, route.Generation, ErrStale)
	}

	stops, _ := s.dayLocked(date)
	if !samePermutation(route.StopIDs, stops) {
		s.mu.Unlock()
		return fmt.Errorf("apply route %s: stop set changed: %w", date, ErrStale)
	}

	now := s.now().UTC()
	changed := make([]*domain.Location, 0, len(route.StopIDs))
	for i, id := range route.StopIDs {
		l := s.locations[id].Clone()
		l.Position = i + 1
		l.FromPrevious = nil
		if leg, ok := route.LegTo(id); ok {
			l.FromPrevious = &domain.LegMetrics{Duration: leg.Duration, DistanceMeters: leg.DistanceMeters}
		}
		l.UpdatedAt = now
		s.locations[id] = l
		changed = append(changed, l.Clone())
	}
	if route.IsEmpty() {
		delete(s.routes, date)
	} else {
		s.routes[date] = route.Clone()
	}
	s.mu.Unlock()

	s.persistDerived(ctx, changed)
	for _, l := range changed {
		s.publish(ctx, ports.LocationChange{Op: ports.ChangeUpsert, LocationID: l.ID, Location: l})
	}
	return nil
}

// InvalidateRoute clears date's route and derived fields and bumps its
// generation so in-flight results for it are discarded.
func (s *Store) InvalidateRoute(ctx context.Context, date domain.Date) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	cleared := s.invalidateLocked(date)
	s.mu.Unlock()

	s.persistDerived(ctx, cleared)
}

func (s *Store) update(
	ctx context.Context,
	op string,
	id string,
	mutate func(l *domain.Location) error,
) (_ *domain.Location, err error) {
	defer obs.Time(ctx, "store."+strings.ReplaceAll(op, " ", "_"))(&err)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	cur, ok := s.locations[id]
	var next *domain.Location
	if ok {
		next = cur.Clone()
	}
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s %q: %w", op, id, domain.ErrLocationNotFound)
	}

	if err := mutate(next); err != nil {
		return nil, fmt.Errorf("%s %q: %w", op, id, err)
	}

	oldDay, newDay := cur.EffectiveDate(), next.EffectiveDate()
	setChanged := oldDay != newDay || cur.Skipped != next.Skipped
	if setChanged {
		next.ClearDerived()
	}
	if oldDay != newDay {
		s.mu.RLock()
		next.Position = s.nextPositionLocked(newDay)
		s.mu.RUnlock()
	}
	next.UpdatedAt = s.now().UTC()

	if s.repo != nil {
		if err := s.repo.UpdateLocation(ctx, next.Clone()); err != nil {
			return nil, fmt.Errorf("%s %q: %w", op, id, err)
		}
	}

	s.mu.Lock()
	s.locations[id] = next
	var cleared []*domain.Location
	if setChanged {
		cleared = s.invalidateLocked(oldDay)
		if newDay != oldDay {
			cleared = append(cleared, s.invalidateLocked(newDay)...)
		}
	}
	s.mu.Unlock()

	s.persistDerived(ctx, cleared)
	s.publish(ctx, ports.LocationChange{Op: ports.ChangeUpsert, LocationID: id, Location: next.Clone()})
	return next.Clone(), nil
}

// invalidateLocked bumps date's generation, drops its route and clears the
// derived fields of its locations. It returns copies of the locations whose
// derived fields were cleared. Callers hold mu for writing.
func (s *Store) invalidateLocked(date domain.Date) []*domain.Location {
	s.generations[date]++
	delete(s.routes, date)

	var cleared []*domain.Location
	for id, l := range s.locations {
		if l.FromPrevious == nil || l.EffectiveDate() != date {
			continue
		}
		c := l.Clone()
		c.ClearDerived()
		s.locations[id] = c
		cleared = append(cleared, c.Clone())
	}
	return cleared
}

// dayLocked returns date's stops in visiting order and its skipped locations.
// The returned pointers are owned by the store.
func (s *Store) dayLocked(date domain.Date) (stops, skipped []*domain.Location) {
	for _, l := range s.locations {
		if l.EffectiveDate() != date {
			continue
		}
		if l.Skipped {
			skipped = append(skipped, l)
		} else {
			stops = append(stops, l)
		}
	}
	domain.SortByPosition(stops)
	domain.SortByPosition(skipped)
	return stops, skipped
}

func (s *Store) nextPositionLocked(date domain.Date) int {
	top := 0
	for _, l := range s.locations {
		if l.EffectiveDate() == date && l.Position > top {
			top = l.Position
		}
	}
	return top + 1
}

// persistDerived writes route-derived fields back to the repository. Failures
// are logged: memory stays authoritative and the next write of the same
// location carries the fields again.
func (s *Store) persistDerived(ctx context.Context, locs []*domain.Location) {
	if s.repo == nil {
		return
	}
	for _, l := range locs {
		if err := s.repo.UpdateLocation(ctx, l); err != nil {
			s.log.Warn("persist derived fields failed",
				zap.String("req_id", obs.RequestID(ctx)),
				zap.String("location_id", l.ID),
				zap.Error(err),
			)
		}
	}
}

func samePermutation(ids []string, locs []*domain.Location) bool {
	if len(ids) != len(locs) {
		return false
	}
	want := make(map[string]struct{}, len(locs))
	for _, l := range locs {
		want[l.ID] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := want[id]; !ok {
			return false
		}
		delete(want, id)
	}
	return len(want) == 0
}
