package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"trip-route-service/internal/domain"
	"trip-route-service/internal/platform/geo"
	"trip-route-service/internal/platform/logging"
	"trip-route-service/internal/platform/obs"
	"trip-route-service/internal/ports"
	"trip-route-service/internal/store"
)

// RouteInput describes one route computation.
//
// Waypoints are the day's stops in the caller's order. When StartLocationID
// names one of them, that stop becomes the origin and is not sent as a
// waypoint; otherwise Origin (the device's current location) is required.
type RouteInput struct {
	Origin          *domain.Coordinates
	StartLocationID string
	Waypoints       []*domain.Location
	PreserveOrder   bool
}

// ComputeRoute requests a route from provider and resolves it onto the input
// waypoints. It never touches shared state: the caller decides whether to
// apply the result. Every call reaches the provider; nothing is memoized.
func ComputeRoute(
	ctx context.Context,
	provider ports.DirectionsProvider,
	in RouteInput,
) (_ *domain.OptimizedRoute, err error) {
	defer obs.Time(ctx, "services.ComputeRoute")(&err)

	route := &domain.OptimizedRoute{
		Start:         domain.StartPoint{LocationID: in.StartLocationID},
		WaypointOrder: []int{},
		StopIDs:       []string{},
	}
	if len(in.Waypoints) == 0 {
		if in.Origin != nil {
			route.Origin = *in.Origin
		}
		return route, nil
	}

	for i, w := range in.Waypoints {
		if w == nil {
			return nil, fmt.Errorf("compute route: waypoint %d is nil", i)
		}
		if err := w.Coordinates.Validate(); err != nil {
			return nil, fmt.Errorf("compute route: waypoint %q: %w", w.ID, err)
		}
	}

	rest := in.Waypoints
	if in.StartLocationID != "" {
		idx := -1
		for i, w := range in.Waypoints {
			if w.ID == in.StartLocationID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("compute route: start %q: %w", in.StartLocationID, domain.ErrLocationNotFound)
		}
		start := in.Waypoints[idx]
		route.Origin = start.Coordinates
		route.StopIDs = append(route.StopIDs, start.ID)

		rest = make([]*domain.Location, 0, len(in.Waypoints)-1)
		rest = append(rest, in.Waypoints[:idx]...)
		rest = append(rest, in.Waypoints[idx+1:]...)
	} else {
		if in.Origin == nil {
			return nil, fmt.Errorf("compute route: %w: origin is required without a start location", domain.ErrInvalidCoordinates)
		}
		if err := in.Origin.Validate(); err != nil {
			return nil, fmt.Errorf("compute route: origin: %w", err)
		}
		route.Origin = *in.Origin
	}

	n := len(rest)
	if n == 0 {
		return route, nil
	}

	req, optimize := buildDirectionsRequest(route.Origin, rest, in.PreserveOrder)
	res, err := provider.Directions(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("compute route: %w", err)
	}
	if res == nil {
		return nil, fmt.Errorf("compute route: %w", invalidResponse("empty result"))
	}

	order, err := resolveOrder(res, n, optimize)
	if err != nil {
		return nil, fmt.Errorf("compute route: %w", err)
	}
	legs, err := selectLegs(res.Legs, n, optimize)
	if err != nil {
		return nil, fmt.Errorf("compute route: %w", err)
	}

	prevID := in.StartLocationID
	for i, wi := range order {
		stop := rest[wi]
		pl := legs[i]

		poly, err := legPolyline(pl)
		if err != nil {
			return nil, fmt.Errorf("compute route: leg %d: %w", i, err)
		}

		leg := domain.Leg{
			FromID:         prevID,
			ToID:           stop.ID,
			Start:          pl.Start,
			End:            pl.End,
			Duration:       time.Duration(pl.DurationSeconds) * time.Second,
			DistanceMeters: pl.DistanceMeters,
			Polyline:       poly,
		}
		route.Legs = append(route.Legs, leg)
		route.Polyline = geo.AppendPath(route.Polyline, poly...)
		route.TotalDuration += leg.Duration
		route.TotalDistanceMeters += leg.DistanceMeters
		route.StopIDs = append(route.StopIDs, stop.ID)
		prevID = stop.ID
	}
	route.WaypointOrder = order

	return route, nil
}

// buildDirectionsRequest shapes the provider request:
//   - one waypoint: a direct origin to destination route;
//   - preserveOrder: the last waypoint is the destination and the rest are
//     fixed intermediates;
//   - otherwise: a round trip back to the origin with every waypoint
//     optimizable, so the provider may choose any visiting order.
func buildDirectionsRequest(
	origin domain.Coordinates,
	stops []*domain.Location,
	preserveOrder bool,
) (ports.DirectionsRequest, bool) {
	n := len(stops)
	if n == 1 {
		return ports.DirectionsRequest{Origin: origin, Destination: stops[0].Coordinates}, false
	}

	if preserveOrder {
		mid := make([]domain.Coordinates, 0, n-1)
		for _, s := range stops[:n-1] {
			mid = append(mid, s.Coordinates)
		}
		return ports.DirectionsRequest{
			Origin:      origin,
			Destination: stops[n-1].Coordinates,
			Waypoints:   mid,
		}, false
	}

	all := make([]domain.Coordinates, 0, n)
	for _, s := range stops {
		all = append(all, s.Coordinates)
	}
	return ports.DirectionsRequest{
		Origin:            origin,
		Destination:       origin,
		Waypoints:         all,
		OptimizeWaypoints: true,
	}, true
}

// resolveOrder returns the visiting order as indices into the waypoints.
// Without optimization it is the identity, whatever the provider reports.
func resolveOrder(res *ports.DirectionsResult, n int, optimize bool) ([]int, error) {
	order := make([]int, n)
	if !optimize {
		for i := range order {
			order[i] = i
		}
		return order, nil
	}

	if len(res.WaypointOrder) != n {
		return nil, invalidResponse(fmt.Sprintf("waypoint_order has %d entries, want %d", len(res.WaypointOrder), n))
	}
	seen := make([]bool, n)
	for i, idx := range res.WaypointOrder {
		if idx < 0 || idx >= n || seen[idx] {
			return nil, invalidResponse(fmt.Sprintf("waypoint_order %v is not a permutation", res.WaypointOrder))
		}
		seen[idx] = true
		order[i] = idx
	}
	return order, nil
}

// selectLegs checks the leg count and drops the return leg of a round trip.
func selectLegs(legs []ports.DirectionsLeg, n int, optimize bool) ([]ports.DirectionsLeg, error) {
	if len(legs) == 0 {
		return nil, invalidResponse("route has no legs")
	}
	switch {
	case len(legs) == n:
	case optimize && len(legs) == n+1:
		legs = legs[:n]
	default:
		return nil, invalidResponse(fmt.Sprintf("route has %d legs, want %d", len(legs), n))
	}

	for i, l := range legs {
		if l.DurationSeconds < 0 || l.DistanceMeters < 0 {
			return nil, invalidResponse(fmt.Sprintf("leg %d has negative metrics", i))
		}
	}
	return legs, nil
}

// legPolyline decodes a leg's step polylines into one path, prefixed with
// the leg start since decoded steps do not always include it.
func legPolyline(l ports.DirectionsLeg) ([]domain.Coordinates, error) {
	path := []domain.Coordinates{l.Start}
	for i, enc := range l.StepPolylines {
		pts, err := geo.DecodePolyline(enc)
		if err != nil {
			return nil, &ports.ProviderError{Status: "INVALID_RESPONSE", Message: fmt.Sprintf("step %d polyline", i), Err: err}
		}
		path = geo.AppendPath(path, pts...)
	}
	return path, nil
}

func invalidResponse(msg string) error {
	return &ports.ProviderError{Status: "INVALID_RESPONSE", Message: msg}
}

// OptimizeRequest asks for the route of one day.
type OptimizeRequest struct {
	Date            domain.Date
	Origin          *domain.Coordinates
	StartLocationID string
	PreserveOrder   bool
}

// OptimizeResult is the outcome of Optimize. Stale reports that the day
// changed while the provider was working and the result was discarded.
type OptimizeResult struct {
	Route *domain.OptimizedRoute
	Stale bool
}

// RouteOptimizer computes routes for the store's days and applies them.
type RouteOptimizer struct {
	Store    *store.Store
	Provider ports.DirectionsProvider
	Metrics  *obs.Metrics
	Logger   *zap.Logger
	// Timeout bounds each provider exchange, retries included.
	Timeout time.Duration
	Now     func() time.Time
}

// Optimize snapshots the day, computes its route and applies it if the day
// is unchanged. Provider failures leave the last applied route in place.
func (o *RouteOptimizer) Optimize(ctx context.Context, req OptimizeRequest) (_ OptimizeResult, err error) {
	defer obs.Time(ctx, "services.Optimize")(&err)

	ctx, span := obs.Tracer("trip-route-service/services").Start(ctx, "RouteOptimizer.Optimize",
		trace.WithAttributes(
			attribute.String("route.date", req.Date.String()),
			attribute.Bool("route.preserve_order", req.PreserveOrder),
			attribute.Bool("route.from_current_location", req.StartLocationID == ""),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	log := logging.OrNop(o.Logger)
	day := o.Store.Day(req.Date)
	span.SetAttributes(
		attribute.Int("route.stops", len(day.Stops)),
		attribute.Int64("route.generation", int64(day.Generation)),
	)

	callCtx := ctx
	if o.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	route, err := ComputeRoute(callCtx, o.Provider, RouteInput{
		Origin:          req.Origin,
		StartLocationID: req.StartLocationID,
		Waypoints:       day.Stops,
		PreserveOrder:   req.PreserveOrder,
	})
	if err != nil {
		o.Metrics.Optimized("error")
		return OptimizeResult{}, fmt.Errorf("optimize %s: %w", req.Date, err)
	}

	now := time.Now
	if o.Now != nil {
		now = o.Now
	}
	route.Date = req.Date
	route.Generation = day.Generation
	route.ComputedAt = now().UTC()

	if err := o.Store.ApplyRoute(ctx, route); err != nil {
		if errors.Is(err, store.ErrStale) {
			o.Metrics.Optimized("stale")
			span.SetAttributes(attribute.Bool("route.stale", true))
			log.Info("discarded stale route",
				zap.String("req_id", obs.RequestID(ctx)),
				zap.String("date", req.Date.String()),
				zap.Uint64("generation", day.Generation),
			)
			return OptimizeResult{Stale: true}, nil
		}
		o.Metrics.Optimized("error")
		return OptimizeResult{}, fmt.Errorf("optimize %s: %w", req.Date, err)
	}

	outcome := "applied"
	if route.IsEmpty() {
		outcome = "empty"
	}
	o.Metrics.Optimized(outcome)
	log.Info("route applied",
		zap.String("req_id", obs.RequestID(ctx)),
		zap.String("date", req.Date.String()),
		zap.Int("stops", len(route.StopIDs)),
		zap.Int("legs", len(route.Legs)),
		zap.Int("distance_m", route.TotalDistanceMeters),
		zap.Duration("duration", route.TotalDuration),
	)
	return OptimizeResult{Route: route}, nil
}
