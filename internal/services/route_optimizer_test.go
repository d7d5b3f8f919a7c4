package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"trip-route-service/internal/domain"
	"trip-route-service/internal/platform/geo"
	"trip-route-service/internal/platform/obs"
	"trip-route-service/internal/ports"
	"trip-route-service/internal/store"
)

var testDay = domain.Date{Year: 2026, Month: time.June, Day: 12}

// fakeProvider answers with straight legs along the visiting order it
// reports. Order forces the waypoint order of optimized requests.
type fakeProvider struct {
	mu    sync.Mutex
	reqs  []ports.DirectionsRequest
	Order []int
	Err   error
	// ExtraReturnLeg appends the leg back to the origin on round trips.
	ExtraReturnLeg bool

	started chan struct{}
	release chan struct{}
}

func (f *fakeProvider) Directions(ctx context.Context, req ports.DirectionsRequest) (*ports.DirectionsResult, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()

	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, &ports.ProviderError{Status: "TIMEOUT", Err: ctx.Err()}
		}
	}
	if f.Err != nil {
		return nil, f.Err
	}

	order := make([]int, len(req.Waypoints))
	for i := range order {
		order[i] = i
	}
	if req.OptimizeWaypoints && f.Order != nil {
		order = f.Order
	}

	path := []domain.Coordinates{req.Origin}
	for _, i := range order {
		path = append(path, req.Waypoints[i])
	}
	if !req.OptimizeWaypoints || f.ExtraReturnLeg {
		path = append(path, req.Destination)
	}

	res := &ports.DirectionsResult{}
	for i := 1; i < len(path); i++ {
		res.Legs = append(res.Legs, ports.DirectionsLeg{
			DurationSeconds: 60 * i,
			DistanceMeters:  1000 * i,
			Start:           path[i-1],
			End:             path[i],
			StepPolylines:   []string{geo.EncodePolyline(path[i-1 : i+1])},
		})
	}
	if req.OptimizeWaypoints {
		res.WaypointOrder = order
	}
	return res, nil
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func (f *fakeProvider) last() ports.DirectionsRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

func dayLoc(id string, lat, lng float64) *domain.Location {
	d := testDay
	return &domain.Location{
		ID:            id,
		Name:          "stop " + id,
		Coordinates:   domain.Coordinates{Lat: lat, Lng: lng},
		CreatedAt:     time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC),
		ScheduledDate: &d,
		StayDuration:  domain.DefaultStayDuration,
	}
}

func newOptimizer(t *testing.T, p ports.DirectionsProvider, locs ...*domain.Location) (*RouteOptimizer, *store.Store) {
	t.Helper()
	s := store.New(store.Options{Logger: zaptest.NewLogger(t), InstanceID: "test"})
	for _, l := range locs {
		_, err := s.Add(context.Background(), l)
		require.NoError(t, err)
	}
	return &RouteOptimizer{Store: s, Provider: p, Logger: zaptest.NewLogger(t)}, s
}

var here = &domain.Coordinates{Lat: 0, Lng: 0}

func TestOptimizeProviderOrderIsApplied(t *testing.T) {
	p := &fakeProvider{Order: []int{1, 0}, ExtraReturnLeg: true}
	o, s := newOptimizer(t, p, dayLoc("w1", 0.01, 0), dayLoc("w2", 0.02, 0))

	res, err := o.Optimize(context.Background(), OptimizeRequest{Date: testDay, Origin: here})
	require.NoError(t, err)
	require.False(t, res.Stale)
	require.NotNil(t, res.Route)

	assert.Equal(t, []int{1, 0}, res.Route.WaypointOrder)
	assert.Equal(t, []string{"w2", "w1"}, res.Route.StopIDs)
	require.Len(t, res.Route.Legs, 2)
	assert.Equal(t, "", res.Route.Legs[0].FromID)
	assert.Equal(t, "w2", res.Route.Legs[0].ToID)
	assert.Equal(t, "w2", res.Route.Legs[1].FromID)
	assert.Equal(t, "w1", res.Route.Legs[1].ToID)
	assert.Equal(t, 3*time.Minute, res.Route.TotalDuration)
	assert.Equal(t, 3000, res.Route.TotalDistanceMeters)

	req := p.last()
	assert.True(t, req.OptimizeWaypoints)
	assert.Equal(t, *here, req.Destination)
	assert.Len(t, req.Waypoints, 2)

	day := s.Day(testDay)
	assert.Equal(t, []string{"w2", "w1"}, day.StopIDs())
	require.NotNil(t, day.Stops[0].FromPrevious)
	assert.Equal(t, time.Minute, day.Stops[0].FromPrevious.Duration)
	assert.Equal(t, 2000, day.Stops[1].FromPrevious.DistanceMeters)
	assert.NotNil(t, s.Route(testDay))
}

func TestOptimizeSingleWaypoint(t *testing.T) {
	p := &fakeProvider{}
	o, _ := newOptimizer(t, p, dayLoc("only", 0.01, 0.01))

	res, err := o.Optimize(context.Background(), OptimizeRequest{Date: testDay, Origin: here})
	require.NoError(t, err)

	assert.Equal(t, []int{0}, res.Route.WaypointOrder)
	assert.Len(t, res.Route.Legs, 1)
	req := p.last()
	assert.False(t, req.OptimizeWaypoints)
	assert.Empty(t, req.Waypoints)
	assert.Equal(t, domain.Coordinates{Lat: 0.01, Lng: 0.01}, req.Destination)
}

func TestOptimizePreserveOrder(t *testing.T) {
	p := &fakeProvider{Order: []int{2, 1, 0}}
	o, _ := newOptimizer(t, p, dayLoc("a", 0.01, 0), dayLoc("b", 0.02, 0), dayLoc("c", 0.03, 0))

	res, err := o.Optimize(context.Background(), OptimizeRequest{Date: testDay, Origin: here, PreserveOrder: true})
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2}, res.Route.WaypointOrder)
	assert.Equal(t, []string{"a", "b", "c"}, res.Route.StopIDs)
	req := p.last()
	assert.False(t, req.OptimizeWaypoints)
	assert.Len(t, req.Waypoints, 2)
	assert.Equal(t, domain.Coordinates{Lat: 0.03}, req.Destination)
}

func TestOptimizeFromStartLocation(t *testing.T) {
	p := &fakeProvider{Order: []int{1, 0}}
	o, s := newOptimizer(t, p, dayLoc("a", 0.01, 0), dayLoc("b", 0.02, 0), dayLoc("c", 0.03, 0))

	res, err := o.Optimize(context.Background(), OptimizeRequest{Date: testDay, StartLocationID: "b"})
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "c", "a"}, res.Route.StopIDs)
	assert.Equal(t, "b", res.Route.Start.LocationID)
	assert.Equal(t, "b", res.Route.Legs[0].FromID)
	assert.Equal(t, domain.Coordinates{Lat: 0.02}, p.last().Origin)

	day := s.Day(testDay)
	assert.Equal(t, []string{"b", "c", "a"}, day.StopIDs())
	assert.Nil(t, day.Stops[0].FromPrevious)
}

func TestOptimizeEmptyDaySkipsProvider(t *testing.T) {
	p := &fakeProvider{}
	o, _ := newOptimizer(t, p)

	res, err := o.Optimize(context.Background(), OptimizeRequest{Date: testDay, Origin: here})
	require.NoError(t, err)
	require.NotNil(t, res.Route)
	assert.True(t, res.Route.IsEmpty())
	assert.Zero(t, p.calls())
}

func TestOptimizeRequiresOrigin(t *testing.T) {
	p := &fakeProvider{}
	o, _ := newOptimizer(t, p, dayLoc("a", 0.01, 0))

	_, err := o.Optimize(context.Background(), OptimizeRequest{Date: testDay})
	assert.True(t, domain.IsInvalidInput(err))
	assert.Zero(t, p.calls())
}

func TestOptimizeDiscardsStaleResult(t *testing.T) {
	p := &fakeProvider{started: make(chan struct{}), release: make(chan struct{})}
	o, s := newOptimizer(t, p, dayLoc("a", 0.01, 0), dayLoc("b", 0.02, 0))

	type outcome struct {
		res OptimizeResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := o.Optimize(context.Background(), OptimizeRequest{Date: testDay, Origin: here})
		done <- outcome{res, err}
	}()

	<-p.started
	_, err := s.Add(context.Background(), dayLoc("c", 0.03, 0))
	require.NoError(t, err)
	close(p.release)

	out := <-done
	require.NoError(t, out.err)
	assert.True(t, out.res.Stale)
	assert.Nil(t, out.res.Route)
	assert.Nil(t, s.Route(testDay))
	for _, l := range s.Day(testDay).Stops {
		assert.Nil(t, l.FromPrevious)
	}
}

func TestOptimizeProviderFailureKeepsLastRoute(t *testing.T) {
	p := &fakeProvider{Order: []int{0, 1}, ExtraReturnLeg: true}
	reg := prometheus.NewRegistry()
	m, err := obs.NewMetrics(reg)
	require.NoError(t, err)

	o, s := newOptimizer(t, p, dayLoc("a", 0.01, 0), dayLoc("b", 0.02, 0))
	o.Metrics = m

	_, err = o.Optimize(context.Background(), OptimizeRequest{Date: testDay, Origin: here})
	require.NoError(t, err)
	before := s.Route(testDay)
	require.NotNil(t, before)

	p.Err = &ports.ProviderError{Status: "OVER_QUERY_LIMIT"}
	_, err = o.Optimize(context.Background(), OptimizeRequest{Date: testDay, Origin: here})

	var pe *ports.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "OVER_QUERY_LIMIT", pe.Status)
	assert.Equal(t, before, s.Route(testDay))
	assert.Equal(t, 2, p.calls())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OptimizeRequests.WithLabelValues("applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OptimizeRequests.WithLabelValues("error")))
}

func TestOptimizeTimeoutBoundsProviderCall(t *testing.T) {
	p := &fakeProvider{started: make(chan struct{}), release: make(chan struct{})}
	o, s := newOptimizer(t, p, dayLoc("a", 0.01, 0))
	o.Timeout = 20 * time.Millisecond

	_, err := o.Optimize(context.Background(), OptimizeRequest{Date: testDay, Origin: here})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, s.Route(testDay))
}

func TestComputeRouteRejectsBadPermutation(t *testing.T) {
	p := &fakeProvider{Order: []int{0, 0}}
	_, err := ComputeRoute(context.Background(), p, RouteInput{
		Origin:    here,
		Waypoints: []*domain.Location{dayLoc("a", 0.01, 0), dayLoc("b", 0.02, 0)},
	})
	var pe *ports.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "INVALID_RESPONSE", pe.Status)
}

func TestComputeRouteUnknownStart(t *testing.T) {
	_, err := ComputeRoute(context.Background(), &fakeProvider{}, RouteInput{
		StartLocationID: "nope",
		Waypoints:       []*domain.Location{dayLoc("a", 0.01, 0)},
	})
	assert.ErrorIs(t, err, domain.ErrLocationNotFound)
}

func TestComputeRoutePolylineFollowsLegs(t *testing.T) {
	p := &fakeProvider{}
	route, err := ComputeRoute(context.Background(), p, RouteInput{
		Origin:        here,
		Waypoints:     []*domain.Location{dayLoc("a", 0.01, 0), dayLoc("b", 0.02, 0)},
		PreserveOrder: true,
	})
	require.NoError(t, err)
	require.Len(t, route.Polyline, 3)
	assert.InDelta(t, 0.02, route.Polyline[2].Lat, 1e-5)
}
