package ports

import (
	"context"
	"time"

	"trip-route-service/internal/domain"
)

type ChangeOp string

const (
	ChangeUpsert ChangeOp = "upsert"
	ChangeDelete ChangeOp = "delete"
)

// LocationChange is one entry of the realtime change stream. Origin names
// the publishing instance so it can ignore its own echoes.
type LocationChange struct {
	Op         ChangeOp
	TripID     string
	LocationID string
	Location   *domain.Location
	Origin     string
	At         time.Time
}

// ChangeFeed broadcasts location changes between service instances.
type ChangeFeed interface {
	Publish(ctx context.Context, change LocationChange) error
	// Watch streams changes for tripID until ctx is done.
	Watch(ctx context.Context, tripID string) (<-chan LocationChange, error)
}
