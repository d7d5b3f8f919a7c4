package handlers

import (
	"testing"
	"time"

	"trip-route-service/internal/domain"
	"trip-route-service/internal/store"
)

func TestOptimizeResponseUsesOneSnapshot(t *testing.T) {
	date := domain.Date{Year: 2026, Month: time.June, Day: 12}
	depart := time.Date(2026, 6, 12, 9, 0, 0, 0, time.UTC)
	stop := &domain.Location{
		ID:           "a",
		Name:         "A",
		StayDuration: 30 * time.Minute,
		FromPrevious: &domain.LegMetrics{Duration: 10 * time.Minute, DistanceMeters: 2000},
	}
	route := &domain.OptimizedRoute{
		Date:          date,
		Generation:    4,
		StopIDs:       []string{"a"},
		WaypointOrder: []int{0},
		Legs:          []domain.Leg{{ToID: "a", Duration: 10 * time.Minute, DistanceMeters: 2000}},
		TotalDuration: 10 * time.Minute,
	}

	res, ok := optimizeResponse(route, store.DayGroup{Date: date, Generation: 4, Stops: []*domain.Location{stop}}, depart)
	if !ok || res.Stale || res.Route == nil {
		t.Fatalf("current snapshot: ok=%v res=%+v", ok, res)
	}
	if len(res.Route.Arrivals) != 1 || !res.Route.ETA.Equal(depart.Add(40*time.Minute)) {
		t.Fatalf("arrivals = %+v eta = %v", res.Route.Arrivals, res.Route.ETA)
	}

	// The day moved on between apply and render: the stops no longer match.
	res, ok = optimizeResponse(route, store.DayGroup{Date: date, Generation: 5}, depart)
	if ok || !res.Stale || res.Route != nil {
		t.Fatalf("superseded snapshot: ok=%v res=%+v", ok, res)
	}

	if _, ok := optimizeResponse(nil, store.DayGroup{Date: date}, depart); ok {
		t.Fatal("nil route accepted")
	}
}
