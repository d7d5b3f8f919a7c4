package ports

import (
	"context"

	"trip-route-service/internal/domain"
)

// Port: durable storage of Location records.
type LocationRepository interface {
	CreateLocation(ctx context.Context, loc *domain.Location) error
	UpdateLocation(ctx context.Context, loc *domain.Location) error
	// Update several locations atomically: all rows are written or none.
	UpdateLocations(ctx context.Context, locs []*domain.Location) error
	DeleteLocation(ctx context.Context, id string) error
	// List every location of a trip; an empty trip id lists unassigned ones.
	ListLocationsByTrip(ctx context.Context, tripID string) ([]*domain.Location, error)
}

// Port: durable storage of Trip records.
type TripRepository interface {
	CreateTrip(ctx context.Context, trip *domain.Trip) error
	GetTrip(ctx context.Context, id string) (*domain.Trip, error)
	ListTrips(ctx context.Context) ([]*domain.Trip, error)
}
