package domain

// Zone threshold policy in meters.
const (
	MinZoneThresholdMeters     = 100.0
	MaxZoneThresholdMeters     = 5000.0
	DefaultZoneThresholdMeters = 1000.0
)

// Zone is a proximity group of one or more locations. ID derives from the
// first member id, so equal memberships always yield equal ids.
type Zone struct {
	ID           string
	LocationIDs  []string
	Center       Coordinates
	RadiusMeters float64
}
