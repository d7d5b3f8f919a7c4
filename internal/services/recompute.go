package services

import (
	"fmt"

	"trip-route-service/internal/domain"
	"trip-route-service/internal/markers"
)

// MarkerSpec is the marker to draw for one location. LocationID is empty
// for the current-location marker.
type MarkerSpec struct {
	LocationID string
	markers.Spec
}

// View is everything the map needs to draw a day.
type View struct {
	Date    domain.Date
	Zones   []domain.Zone
	Markers []MarkerSpec
}

type RecomputeOptions struct {
	Dark bool
	// CurrentLocation adds the device marker when set.
	CurrentLocation *domain.Coordinates
}

// Recompute derives zones and markers for date from scratch. Locations of
// other dates are ignored. Skipped locations get a desaturated unnumbered
// marker and are left out of zones. Stops are numbered 1..n in the route's
// resolved order when route is set, otherwise in day order.
func Recompute(
	locations []*domain.Location,
	thresholdMeters float64,
	date domain.Date,
	route *domain.OptimizedRoute,
	opts RecomputeOptions,
) (View, error) {
	var stops, skipped []*domain.Location
	for _, l := range locations {
		if l == nil || l.EffectiveDate() != date {
			continue
		}
		if l.Skipped {
			skipped = append(skipped, l)
		} else {
			stops = append(stops, l)
		}
	}
	domain.SortByPosition(stops)
	domain.SortByPosition(skipped)

	zones, err := ClusterZones(stops, thresholdMeters)
	if err != nil {
		return View{}, fmt.Errorf("recompute %s: %w", date, err)
	}

	number := make(map[string]int, len(stops))
	if route != nil && route.Date == date {
		for i, id := range route.StopIDs {
			number[id] = i + 1
		}
	}
	if len(number) != len(stops) {
		number = make(map[string]int, len(stops))
		for i, l := range stops {
			number[l.ID] = i + 1
		}
	}

	startID := ""
	if route != nil && route.Date == date {
		startID = route.Start.LocationID
	}

	view := View{Date: date, Zones: zones, Markers: make([]MarkerSpec, 0, len(stops)+len(skipped)+1)}
	if opts.CurrentLocation != nil {
		view.Markers = append(view.Markers, MarkerSpec{Spec: markers.Spec{
			Kind:   markers.KindCurrentLocation,
			Params: markers.Styled(markers.KindCurrentLocation, 0, "", opts.Dark, false, false),
		}})
	}
	for _, l := range stops {
		view.Markers = append(view.Markers, MarkerSpec{
			LocationID: l.ID,
			Spec: markers.Spec{
				Kind:   markers.KindNumbered,
				Params: markers.Styled(markers.KindNumbered, number[l.ID], "", opts.Dark, false, l.ID == startID),
			},
		})
	}
	for _, l := range skipped {
		view.Markers = append(view.Markers, MarkerSpec{
			LocationID: l.ID,
			Spec: markers.Spec{
				Kind:   markers.KindNumbered,
				Params: markers.Styled(markers.KindNumbered, 0, "-", opts.Dark, true, false),
			},
		})
	}
	return view, nil
}
