package ports

import (
	"context"

	"trip-route-service/internal/domain"
)

// Geocoder resolves a coordinate into the nearest named place.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, c domain.Coordinates) (domain.Place, error)
}

// GeocodeCache persists reverse geocoding results keyed by a normalized
// coordinate key.
type GeocodeCache interface {
	GetPlace(ctx context.Context, key string) (domain.Place, bool, error)
	PutPlace(ctx context.Context, key string, place domain.Place) error
}
