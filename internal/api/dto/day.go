package dto

import (
	"time"

	"trip-route-service/internal/domain"
	"trip-route-service/internal/platform/geo"
)

type ZoneResponse struct {
	ID           string   `json:"id"`
	LocationIDs  []string `json:"location_ids"`
	Center       LatLng   `json:"center"`
	RadiusMeters float64  `json:"radius_meters"`
}

type MarkerResponse struct {
	LocationID string `json:"location_id,omitempty"`
	Kind       string `json:"kind"`
	Key        string `json:"key"`
	URL        string `json:"url"`
}

type LegResponse struct {
	FromID          string `json:"from_id,omitempty"`
	ToID            string `json:"to_id"`
	Start           LatLng `json:"start"`
	End             LatLng `json:"end"`
	DurationSeconds int    `json:"duration_seconds"`
	DistanceMeters  int    `json:"distance_meters"`
	Duration        string `json:"duration"`
	Distance        string `json:"distance"`
	Polyline        string `json:"polyline"`
}

type ArrivalResponse struct {
	LocationID string    `json:"location_id"`
	ArriveAt   time.Time `json:"arrive_at"`
	DepartAt   time.Time `json:"depart_at"`
}

type RouteResponse struct {
	Date                 domain.Date       `json:"date"`
	StartLocationID      string            `json:"start_location_id,omitempty"`
	Origin               LatLng            `json:"origin"`
	WaypointOrder        []int             `json:"waypoint_order"`
	StopIDs              []string          `json:"stop_ids"`
	Legs                 []LegResponse     `json:"legs"`
	Polyline             string            `json:"polyline"`
	TotalDurationSeconds int               `json:"total_duration_seconds"`
	TotalDistanceMeters  int               `json:"total_distance_meters"`
	TotalDuration        string            `json:"total_duration"`
	TotalDistance        string            `json:"total_distance"`
	TotalStaySeconds     int               `json:"total_stay_seconds"`
	DepartAt             time.Time         `json:"depart_at"`
	ETA                  time.Time         `json:"eta"`
	Arrivals             []ArrivalResponse `json:"arrivals"`
	Generation           uint64            `json:"generation"`
	ComputedAt           time.Time         `json:"computed_at"`
}

// NewRouteResponse renders route with the arrival metrics of stops, which
// must be the day's stops in route order.
func NewRouteResponse(route *domain.OptimizedRoute, stops []*domain.Location, departAt time.Time) *RouteResponse {
	if route == nil {
		return nil
	}
	metrics := domain.ComputeMetrics(stops, departAt)

	res := &RouteResponse{
		Date:                 route.Date,
		StartLocationID:      route.Start.LocationID,
		Origin:               FromCoordinates(route.Origin),
		WaypointOrder:        append([]int{}, route.WaypointOrder...),
		StopIDs:              append([]string{}, route.StopIDs...),
		Legs:                 make([]LegResponse, 0, len(route.Legs)),
		Polyline:             geo.EncodePolyline(route.Polyline),
		TotalDurationSeconds: int(route.TotalDuration / time.Second),
		TotalDistanceMeters:  route.TotalDistanceMeters,
		TotalDuration:        FormatDuration(route.TotalDuration),
		TotalDistance:        FormatKm(route.TotalDistanceMeters),
		TotalStaySeconds:     int(metrics.TotalStay / time.Second),
		DepartAt:             metrics.DepartAt,
		ETA:                  metrics.ETA,
		Arrivals:             make([]ArrivalResponse, 0, len(metrics.Arrivals)),
		Generation:           route.Generation,
		ComputedAt:           route.ComputedAt,
	}
	for _, l := range route.Legs {
		res.Legs = append(res.Legs, LegResponse{
			FromID:          l.FromID,
			ToID:            l.ToID,
			Start:           FromCoordinates(l.Start),
			End:             FromCoordinates(l.End),
			DurationSeconds: int(l.Duration / time.Second),
			DistanceMeters:  l.DistanceMeters,
			Duration:        FormatDuration(l.Duration),
			Distance:        FormatKm(l.DistanceMeters),
			Polyline:        geo.EncodePolyline(l.Polyline),
		})
	}
	for _, a := range metrics.Arrivals {
		res.Arrivals = append(res.Arrivals, ArrivalResponse{
			LocationID: a.LocationID,
			ArriveAt:   a.ArriveAt,
			DepartAt:   a.DepartAt,
		})
	}
	return res
}

type DayResponse struct {
	Date       domain.Date        `json:"date"`
	Generation uint64             `json:"generation"`
	Selected   bool               `json:"selected"`
	Stops      []LocationResponse `json:"stops"`
	Skipped    []LocationResponse `json:"skipped"`
	Zones      []ZoneResponse     `json:"zones"`
	Markers    []MarkerResponse   `json:"markers"`
	Route      *RouteResponse     `json:"route,omitempty"`
}

type OptimizeRequest struct {
	Origin          *LatLng `json:"origin"`
	StartLocationID string  `json:"start_location_id"`
	PreserveOrder   bool    `json:"preserve_order"`
}

type OptimizeResponse struct {
	Stale bool           `json:"stale"`
	Route *RouteResponse `json:"route,omitempty"`
}

type ReorderRequest struct {
	IDs []string `json:"ids"`
}

type CreateTripRequest struct {
	Name string `json:"name"`
}

type TripResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Active    bool      `json:"active"`
}

type ListTripResponse struct {
	Trips []TripResponse `json:"trips"`
}
