package ports

import (
	"context"
	"fmt"

	"trip-route-service/internal/domain"
)

// DirectionsRequest asks for a route from Origin to Destination through
// Waypoints. With OptimizeWaypoints the provider may reorder the waypoints
// and reports the visiting order in DirectionsResult.WaypointOrder.
type DirectionsRequest struct {
	Origin            domain.Coordinates
	Destination       domain.Coordinates
	Waypoints         []domain.Coordinates
	OptimizeWaypoints bool
}

// DirectionsLeg is one leg of the first returned route.
type DirectionsLeg struct {
	DurationSeconds int
	DistanceMeters  int
	Start           domain.Coordinates
	End             domain.Coordinates
	StepPolylines   []string
}

// DirectionsResult is a validated provider response. WaypointOrder is set
// only when optimization was requested.
type DirectionsResult struct {
	Legs          []DirectionsLeg
	WaypointOrder []int
}

// Contract for requesting multi-stop routes from an external provider.
type DirectionsProvider interface {
	Directions(ctx context.Context, req DirectionsRequest) (*DirectionsResult, error)
}

// ProviderError reports a failed provider exchange: a non-success status,
// a malformed response, or a transport failure.
type ProviderError struct {
	Status  string
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	msg := "provider error"
	if e.Status != "" {
		msg += " status=" + e.Status
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }
