package dto

import (
	"fmt"
	"time"

	"trip-route-service/internal/domain"
)

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p LatLng) Coordinates() domain.Coordinates {
	return domain.Coordinates{Lat: p.Lat, Lng: p.Lng}
}

func FromCoordinates(c domain.Coordinates) LatLng {
	return LatLng{Lat: c.Lat, Lng: c.Lng}
}

type CreateLocationRequest struct {
	PlaceID       string   `json:"place_id"`
	Name          string   `json:"name"`
	Address       string   `json:"address"`
	Lat           *float64 `json:"lat"`
	Lng           *float64 `json:"lng"`
	ScheduledDate string   `json:"scheduled_date"`
	StayMinutes   *int     `json:"stay_minutes"`
}

// PinRequest drops a pin on the map; the place is resolved by reverse
// geocoding.
type PinRequest struct {
	Lat           float64 `json:"lat"`
	Lng           float64 `json:"lng"`
	ScheduledDate string  `json:"scheduled_date"`
	StayMinutes   *int    `json:"stay_minutes"`
}

// UpdateLocationRequest applies only the fields that are present. An empty
// scheduled_date moves the location back to its creation date.
type UpdateLocationRequest struct {
	Name          *string `json:"name"`
	ScheduledDate *string `json:"scheduled_date"`
	StayMinutes   *int    `json:"stay_minutes"`
	Skipped       *bool   `json:"skipped"`
}

type LegMetricsResponse struct {
	DurationSeconds int    `json:"duration_seconds"`
	DistanceMeters  int    `json:"distance_meters"`
	Duration        string `json:"duration"`
	Distance        string `json:"distance"`
}

type LocationResponse struct {
	ID            string              `json:"id"`
	TripID        string              `json:"trip_id,omitempty"`
	PlaceID       string              `json:"place_id,omitempty"`
	Name          string              `json:"name"`
	Address       string              `json:"address,omitempty"`
	Lat           float64             `json:"lat"`
	Lng           float64             `json:"lng"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	ScheduledDate *domain.Date        `json:"scheduled_date,omitempty"`
	EffectiveDate domain.Date         `json:"effective_date"`
	StayMinutes   int                 `json:"stay_minutes"`
	Skipped       bool                `json:"skipped"`
	Position      int                 `json:"position"`
	FromPrevious  *LegMetricsResponse `json:"from_previous,omitempty"`
}

type ListLocationResponse struct {
	Locations []LocationResponse `json:"locations"`
}

func NewLocationResponse(l *domain.Location) LocationResponse {
	res := LocationResponse{
		ID:            l.ID,
		TripID:        l.TripID,
		PlaceID:       l.PlaceID,
		Name:          l.Name,
		Address:       l.Address,
		Lat:           l.Coordinates.Lat,
		Lng:           l.Coordinates.Lng,
		CreatedAt:     l.CreatedAt,
		UpdatedAt:     l.UpdatedAt,
		ScheduledDate: l.ScheduledDate,
		EffectiveDate: l.EffectiveDate(),
		StayMinutes:   int(l.StayDuration / time.Minute),
		Skipped:       l.Skipped,
		Position:      l.Position,
	}
	if m := l.FromPrevious; m != nil {
		res.FromPrevious = &LegMetricsResponse{
			DurationSeconds: int(m.Duration / time.Second),
			DistanceMeters:  m.DistanceMeters,
			Duration:        FormatDuration(m.Duration),
			Distance:        FormatKm(m.DistanceMeters),
		}
	}
	return res
}

func NewLocationResponses(locs []*domain.Location) []LocationResponse {
	out := make([]LocationResponse, 0, len(locs))
	for _, l := range locs {
		out = append(out, NewLocationResponse(l))
	}
	return out
}

// FormatKm renders meters as kilometers with one decimal.
func FormatKm(meters int) string {
	return fmt.Sprintf("%.1f km", float64(meters)/1000)
}

// FormatDuration renders d rounded to the minute, e.g. "1 h 05 min".
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	if h == 0 {
		return fmt.Sprintf("%d min", m)
	}
	return fmt.Sprintf("%d h %02d min", h, m)
}
