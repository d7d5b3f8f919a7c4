package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"trip-route-service/internal/domain"
	"trip-route-service/internal/ports"
)

var (
	day1 = domain.Date{Year: 2026, Month: time.March, Day: 10}
	day2 = domain.Date{Year: 2026, Month: time.March, Day: 11}
)

type memRepo struct {
	mu      sync.Mutex
	rows    map[string]*domain.Location
	failOn  string
	failID  string
	updates int
}

func newMemRepo() *memRepo { return &memRepo{rows: map[string]*domain.Location{}} }

func (r *memRepo) CreateLocation(_ context.Context, l *domain.Location) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn == "create" {
		return errors.New("disk full")
	}
	r.rows[l.ID] = l.Clone()
	return nil
}

func (r *memRepo) UpdateLocation(_ context.Context, l *domain.Location) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn == "update" {
		return errors.New("disk full")
	}
	r.updates++
	r.rows[l.ID] = l.Clone()
	return nil
}

func (r *memRepo) UpdateLocations(_ context.Context, locs []*domain.Location) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range locs {
		if r.failOn == "update" || l.ID == r.failID {
			return errors.New("disk full")
		}
	}
	for _, l := range locs {
		r.updates++
		r.rows[l.ID] = l.Clone()
	}
	return nil
}

func (r *memRepo) DeleteLocation(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn == "delete" {
		return errors.New("disk full")
	}
	delete(r.rows, id)
	return nil
}

func (r *memRepo) ListLocationsByTrip(_ context.Context, tripID string) ([]*domain.Location, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Location
	for _, l := range r.rows {
		if l.TripID == tripID {
			out = append(out, l.Clone())
		}
	}
	return out, nil
}

type recordingFeed struct {
	mu      sync.Mutex
	changes []ports.LocationChange
}

func (f *recordingFeed) Publish(_ context.Context, c ports.LocationChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, c)
	return nil
}

func (f *recordingFeed) Watch(ctx context.Context, _ string) (<-chan ports.LocationChange, error) {
	ch := make(chan ports.LocationChange)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func newLoc(id string, lat, lng float64, day domain.Date) *domain.Location {
	d := day
	return &domain.Location{
		ID:            id,
		Name:          "loc " + id,
		Coordinates:   domain.Coordinates{Lat: lat, Lng: lng},
		CreatedAt:     time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
		ScheduledDate: &d,
		StayDuration:  domain.DefaultStayDuration,
		TripID:        "trip-1",
	}
}

func newTestStore(t *testing.T, repo ports.LocationRepository, feed ports.ChangeFeed) *Store {
	t.Helper()
	s := New(Options{Repo: repo, Feed: feed, Logger: zaptest.NewLogger(t), InstanceID: "self"})
	require.NoError(t, s.Load(context.Background(), "trip-1"))
	return s
}

func seed(t *testing.T, s *Store, locs ...*domain.Location) {
	t.Helper()
	for _, l := range locs {
		_, err := s.Add(context.Background(), l)
		require.NoError(t, err)
	}
}

// routeFor builds a route from the current location visiting ids in order.
func routeFor(date domain.Date, gen uint64, ids ...string) *domain.OptimizedRoute {
	r := &domain.OptimizedRoute{Date: date, Generation: gen, StopIDs: ids}
	for i, id := range ids {
		r.Legs = append(r.Legs, domain.Leg{
			ToID:           id,
			Duration:       time.Duration(i+1) * time.Minute,
			DistanceMeters: (i + 1) * 1000,
		})
		r.TotalDuration += time.Duration(i+1) * time.Minute
		r.TotalDistanceMeters += (i + 1) * 1000
	}
	return r
}

func TestAddAndDayOrdering(t *testing.T) {
	s := newTestStore(t, newMemRepo(), nil)
	seed(t, s, newLoc("a", 0, 0, day1), newLoc("b", 0, 0.001, day1), newLoc("c", 1, 1, day2))

	g := s.Day(day1)
	assert.Equal(t, []string{"a", "b"}, g.StopIDs())
	assert.Empty(t, g.Skipped)
	assert.Nil(t, g.Route)

	_, err := s.Add(context.Background(), newLoc("a", 0, 0, day1))
	assert.ErrorIs(t, err, domain.ErrDuplicateLocation)

	bad := newLoc("z", 95, 0, day1)
	_, err = s.Add(context.Background(), bad)
	assert.ErrorIs(t, err, domain.ErrInvalidCoordinates)
}

func TestGenerationBumps(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newMemRepo(), nil)
	seed(t, s, newLoc("a", 0, 0, day1), newLoc("b", 0, 1, day1))

	gen := s.Generation(day1)

	_, err := s.Rename(ctx, "a", "Home")
	require.NoError(t, err)
	_, err = s.SetStayDuration(ctx, "a", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, gen, s.Generation(day1), "rename and stay edits keep the generation")

	_, err = s.SetSkipped(ctx, "a", true)
	require.NoError(t, err)
	assert.Greater(t, s.Generation(day1), gen)

	gen = s.Generation(day1)
	_, err = s.Reschedule(ctx, "b", &day2)
	require.NoError(t, err)
	assert.Greater(t, s.Generation(day1), gen)
	assert.Equal(t, []string{"b"}, s.Day(day2).StopIDs())

	_, err = s.SetStayDuration(ctx, "a", -time.Second)
	assert.ErrorIs(t, err, domain.ErrNegativeStay)
	_, err = s.Rename(ctx, "missing", "x")
	assert.ErrorIs(t, err, domain.ErrLocationNotFound)
}

func TestApplyRouteSetsOrderAndMetrics(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newMemRepo(), nil)
	seed(t, s, newLoc("a", 0, 0, day1), newLoc("b", 0, 1, day1), newLoc("c", 1, 1, day1))

	g := s.Day(day1)
	require.NoError(t, s.ApplyRoute(ctx, routeFor(day1, g.Generation, "c", "a", "b")))

	g = s.Day(day1)
	assert.Equal(t, []string{"c", "a", "b"}, g.StopIDs())
	require.NotNil(t, g.Route)
	require.NotNil(t, g.Stops[1].FromPrevious)
	assert.Equal(t, 2*time.Minute, g.Stops[1].FromPrevious.Duration)
	assert.Equal(t, 3000, g.Stops[2].FromPrevious.DistanceMeters)
	assert.Equal(t, g.Generation, g.Route.Generation)
}

func TestApplyRouteStaleAfterMutation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newMemRepo(), nil)
	seed(t, s, newLoc("a", 0, 0, day1), newLoc("b", 0, 1, day1))

	g := s.Day(day1)
	seed(t, s, newLoc("c", 1, 1, day1))

	err := s.ApplyRoute(ctx, routeFor(day1, g.Generation, "b", "a"))
	require.ErrorIs(t, err, ErrStale)

	after := s.Day(day1)
	assert.Equal(t, []string{"a", "b", "c"}, after.StopIDs())
	assert.Nil(t, after.Route)
	for _, l := range after.Stops {
		assert.Nil(t, l.FromPrevious)
	}
}

func TestRemoveInvalidatesRoute(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	s := newTestStore(t, repo, nil)
	seed(t, s, newLoc("a", 0, 0, day1), newLoc("b", 0, 1, day1), newLoc("c", 1, 1, day1))

	g := s.Day(day1)
	require.NoError(t, s.ApplyRoute(ctx, routeFor(day1, g.Generation, "b", "c", "a")))
	require.NoError(t, s.Remove(ctx, "c"))

	g = s.Day(day1)
	assert.Nil(t, g.Route)
	for _, l := range g.Stops {
		assert.Nil(t, l.FromPrevious, "location %s kept derived metrics", l.ID)
	}
	m := domain.ComputeMetrics(g.Stops, time.Now())
	assert.Zero(t, m.TotalTravel)
	assert.Zero(t, m.TotalDistanceMeters)

	persisted, err := repo.ListLocationsByTrip(ctx, "trip-1")
	require.NoError(t, err)
	for _, l := range persisted {
		assert.Nil(t, l.FromPrevious, "persisted %s kept derived metrics", l.ID)
	}
}

func TestWriteThroughFailureLeavesMemoryUntouched(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	s := newTestStore(t, repo, nil)
	seed(t, s, newLoc("a", 0, 0, day1))
	gen := s.Generation(day1)

	repo.failOn = "update"
	_, err := s.SetSkipped(ctx, "a", true)
	require.Error(t, err)

	l, err := s.Get("a")
	require.NoError(t, err)
	assert.False(t, l.Skipped)
	assert.Equal(t, gen, s.Generation(day1))

	repo.failOn = "delete"
	require.Error(t, s.Remove(ctx, "a"))
	_, err = s.Get("a")
	assert.NoError(t, err)
}

func TestReorder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newMemRepo(), nil)
	seed(t, s, newLoc("a", 0, 0, day1), newLoc("b", 0, 1, day1), newLoc("c", 1, 1, day1))

	require.NoError(t, s.Reorder(ctx, day1, []string{"c", "b", "a"}))
	assert.Equal(t, []string{"c", "b", "a"}, s.Day(day1).StopIDs())

	err := s.Reorder(ctx, day1, []string{"c", "b"})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	err = s.Reorder(ctx, day1, []string{"c", "b", "b"})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestReorderPersistsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	s := newTestStore(t, repo, nil)
	seed(t, s, newLoc("a", 0, 0, day1), newLoc("b", 0, 1, day1), newLoc("c", 1, 1, day1))

	repo.failID = "b"
	err := s.Reorder(ctx, day1, []string{"c", "b", "a"})
	require.Error(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, s.Day(day1).StopIDs())
	for id, want := range map[string]int{"a": 1, "b": 2, "c": 3} {
		assert.Equal(t, want, repo.rows[id].Position, id)
	}
}

func TestSelectDateInvalidatesPreviousDay(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newMemRepo(), nil)
	seed(t, s, newLoc("a", 0, 0, day1))

	s.SelectDate(ctx, day1)
	g := s.Day(day1)
	require.NoError(t, s.ApplyRoute(ctx, routeFor(day1, g.Generation, "a")))
	require.NotNil(t, s.Route(day1))

	s.SelectDate(ctx, day2)
	assert.Equal(t, day2, s.Selected())
	assert.Nil(t, s.Route(day1))
	assert.Greater(t, s.Generation(day1), g.Generation)
}

func TestSnapshotsAreCopies(t *testing.T) {
	s := newTestStore(t, newMemRepo(), nil)
	seed(t, s, newLoc("a", 0, 0, day1))

	g := s.Day(day1)
	g.Stops[0].Name = "mutated"

	l, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "loc a", l.Name)
}

func TestLoadFromRepository(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	require.NoError(t, repo.CreateLocation(ctx, newLoc("a", 0, 0, day1)))
	other := newLoc("x", 0, 0, day1)
	other.TripID = "trip-2"
	require.NoError(t, repo.CreateLocation(ctx, other))

	s := newTestStore(t, repo, nil)
	assert.Equal(t, "trip-1", s.TripID())
	assert.Equal(t, []string{"a"}, s.Day(day1).StopIDs())
}

func TestPublishAndApplyRemote(t *testing.T) {
	ctx := context.Background()
	feed := &recordingFeed{}
	s := newTestStore(t, newMemRepo(), feed)
	seed(t, s, newLoc("a", 0, 0, day1))

	require.Len(t, feed.changes, 1)
	echo := feed.changes[0]
	assert.Equal(t, "self", echo.Origin)
	assert.Equal(t, "trip-1", echo.TripID)
	assert.Equal(t, ports.ChangeUpsert, echo.Op)

	// Own echo is ignored even if it carries different data.
	echo.Location = echo.Location.Clone()
	echo.Location.Name = "echo"
	require.NoError(t, s.ApplyRemote(echo))
	l, _ := s.Get("a")
	assert.Equal(t, "loc a", l.Name)

	gen := s.Generation(day1)
	remote := newLoc("b", 0, 1, day1)
	remote.Position = 2
	remote.UpdatedAt = time.Now().Add(time.Hour)
	require.NoError(t, s.ApplyRemote(ports.LocationChange{
		Op: ports.ChangeUpsert, TripID: "trip-1", LocationID: "b", Location: remote, Origin: "peer",
	}))
	assert.Equal(t, []string{"a", "b"}, s.Day(day1).StopIDs())
	assert.Greater(t, s.Generation(day1), gen)

	older := remote.Clone()
	older.Name = "older"
	older.UpdatedAt = remote.UpdatedAt.Add(-time.Minute)
	require.NoError(t, s.ApplyRemote(ports.LocationChange{
		Op: ports.ChangeUpsert, TripID: "trip-1", LocationID: "b", Location: older, Origin: "peer",
	}))
	l, _ = s.Get("b")
	assert.Equal(t, "loc b", l.Name)

	require.NoError(t, s.ApplyRemote(ports.LocationChange{
		Op: ports.ChangeDelete, TripID: "trip-1", LocationID: "b", Origin: "peer",
	}))
	_, err := s.Get("b")
	assert.ErrorIs(t, err, domain.ErrLocationNotFound)

	require.NoError(t, s.ApplyRemote(ports.LocationChange{
		Op: ports.ChangeUpsert, TripID: "trip-2", LocationID: "q", Location: newLoc("q", 0, 0, day1), Origin: "peer",
	}))
	_, err = s.Get("q")
	assert.ErrorIs(t, err, domain.ErrLocationNotFound)

	ctx, cancel := context.WithCancel(ctx)
	cancel()
	assert.NoError(t, s.Sync(ctx, feed))
}

func TestApplyRemoteReorderInvalidatesRoute(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newMemRepo(), nil)
	seed(t, s, newLoc("a", 0, 0, day1), newLoc("b", 0, 1, day1))

	g := s.Day(day1)
	require.NoError(t, s.ApplyRoute(ctx, routeFor(day1, g.Generation, "a", "b")))
	before := s.Generation(day1)

	// A peer reordered the day to [b a] and computed its own leg metrics.
	at := time.Now().Add(time.Hour)
	for i, id := range []string{"b", "a"} {
		l, err := s.Get(id)
		require.NoError(t, err)
		l.Position = i + 1
		l.UpdatedAt = at
		l.FromPrevious = &domain.LegMetrics{Duration: time.Minute, DistanceMeters: 999}
		require.NoError(t, s.ApplyRemote(ports.LocationChange{
			Op: ports.ChangeUpsert, TripID: "trip-1", LocationID: id, Location: l, Origin: "peer",
		}))
	}

	assert.Equal(t, []string{"b", "a"}, s.Day(day1).StopIDs())
	assert.Nil(t, s.Route(day1))
	assert.Greater(t, s.Generation(day1), before)
	for _, l := range s.Day(day1).Stops {
		assert.Nil(t, l.FromPrevious, l.ID)
	}

	// A stale result computed before the peer's change is refused.
	assert.ErrorIs(t, s.ApplyRoute(ctx, routeFor(day1, before, "a", "b")), ErrStale)
}

func TestApplyRemoteRenameKeepsRoute(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newMemRepo(), nil)
	seed(t, s, newLoc("a", 0, 0, day1), newLoc("b", 0, 1, day1))

	g := s.Day(day1)
	require.NoError(t, s.ApplyRoute(ctx, routeFor(day1, g.Generation, "a", "b")))
	local, err := s.Get("b")
	require.NoError(t, err)
	require.NotNil(t, local.FromPrevious)
	gen := s.Generation(day1)

	renamed := local.Clone()
	renamed.Name = "renamed"
	renamed.UpdatedAt = time.Now().Add(time.Hour)
	renamed.FromPrevious = &domain.LegMetrics{Duration: time.Hour, DistanceMeters: 1}
	require.NoError(t, s.ApplyRemote(ports.LocationChange{
		Op: ports.ChangeUpsert, TripID: "trip-1", LocationID: "b", Location: renamed, Origin: "peer",
	}))

	got, err := s.Get("b")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, local.FromPrevious, got.FromPrevious)
	assert.NotNil(t, s.Route(day1))
	assert.Equal(t, gen, s.Generation(day1))
}

// tripFeed hands out one channel per watched trip.
type tripFeed struct {
	mu      sync.Mutex
	watched []string
	chans   map[string]chan ports.LocationChange
	ready   chan string
}

func newTripFeed() *tripFeed {
	return &tripFeed{chans: map[string]chan ports.LocationChange{}, ready: make(chan string, 8)}
}

func (f *tripFeed) Publish(context.Context, ports.LocationChange) error { return nil }

func (f *tripFeed) Watch(_ context.Context, tripID string) (<-chan ports.LocationChange, error) {
	f.mu.Lock()
	ch := make(chan ports.LocationChange, 1)
	f.watched = append(f.watched, tripID)
	f.chans[tripID] = ch
	f.mu.Unlock()
	f.ready <- tripID
	return ch, nil
}

func (f *tripFeed) send(tripID string, c ports.LocationChange) {
	f.mu.Lock()
	ch := f.chans[tripID]
	f.mu.Unlock()
	ch <- c
}

func TestSyncFollowsLoadedTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := newTripFeed()
	s := newTestStore(t, newMemRepo(), nil)

	done := make(chan error, 1)
	go func() { done <- s.Sync(ctx, feed) }()

	waitWatch := func(want string) {
		t.Helper()
		select {
		case got := <-feed.ready:
			require.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("no subscription to %s", want)
		}
	}
	waitWatch("trip-1")

	require.NoError(t, s.Load(ctx, "trip-2"))
	waitWatch("trip-2")

	remote := newLoc("z", 0, 0, day1)
	remote.TripID = "trip-2"
	remote.UpdatedAt = time.Now()
	feed.send("trip-2", ports.LocationChange{
		Op: ports.ChangeUpsert, TripID: "trip-2", LocationID: "z", Location: remote, Origin: "peer",
	})

	require.Eventually(t, func() bool {
		_, err := s.Get("z")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []string{"trip-1", "trip-2"}, feed.watched)
}
