package googlemaps

import (
	"context"
	"math"
	"sync/atomic"

	"trip-route-service/internal/domain"
	"trip-route-service/internal/platform/geo"
	"trip-route-service/internal/ports"
)

// MockDirectionsProvider answers directions requests offline with straight
// legs at a constant speed. Optimized requests are ordered nearest neighbor
// first unless Order forces a waypoint order.
type MockDirectionsProvider struct {
	SpeedMetersPerSecond float64
	Order                []int

	calls atomic.Int64
}

func NewMockDirectionsProvider() *MockDirectionsProvider {
	return &MockDirectionsProvider{SpeedMetersPerSecond: 10}
}

func (m *MockDirectionsProvider) Calls() int { return int(m.calls.Load()) }

func (m *MockDirectionsProvider) Directions(ctx context.Context, req ports.DirectionsRequest) (*ports.DirectionsResult, error) {
	m.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, &ports.ProviderError{Status: "TIMEOUT", Err: err}
	}

	order := make([]int, len(req.Waypoints))
	for i := range order {
		order[i] = i
	}
	if req.OptimizeWaypoints {
		if m.Order != nil {
			order = append([]int(nil), m.Order...)
		} else {
			order = nearestNeighbor(req.Origin, req.Waypoints)
		}
	}

	path := []domain.Coordinates{req.Origin}
	for _, idx := range order {
		path = append(path, req.Waypoints[idx])
	}
	path = append(path, req.Destination)

	speed := m.SpeedMetersPerSecond
	if speed <= 0 {
		speed = 10
	}

	res := &ports.DirectionsResult{Legs: make([]ports.DirectionsLeg, 0, len(path)-1)}
	for i := 1; i < len(path); i++ {
		from, to := path[i-1], path[i]
		meters := geo.DistanceMeters(from, to)
		res.Legs = append(res.Legs, ports.DirectionsLeg{
			DurationSeconds: int(math.Round(meters / speed)),
			DistanceMeters:  int(math.Round(meters)),
			Start:           from,
			End:             to,
			StepPolylines:   []string{geo.EncodePolyline([]domain.Coordinates{from, to})},
		})
	}
	if req.OptimizeWaypoints {
		res.WaypointOrder = order
	}
	return res, nil
}

// nearestNeighbor repeatedly visits the closest unvisited waypoint, breaking
// ties by lower index for determinism.
func nearestNeighbor(origin domain.Coordinates, waypoints []domain.Coordinates) []int {
	visited := make([]bool, len(waypoints))
	order := make([]int, 0, len(waypoints))
	cur := origin
	for len(order) < len(waypoints) {
		best, bestDist := -1, math.Inf(1)
		for i, w := range waypoints {
			if visited[i] {
				continue
			}
			if d := geo.DistanceMeters(cur, w); d < bestDist {
				best, bestDist = i, d
			}
		}
		visited[best] = true
		order = append(order, best)
		cur = waypoints[best]
	}
	return order
}
