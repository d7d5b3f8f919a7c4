package api

import (
	"net/http"

	"go.uber.org/zap"

	"trip-route-service/internal/api/handlers"
	"trip-route-service/internal/markers"
	"trip-route-service/internal/platform/obs"
	"trip-route-service/internal/ports"
	"trip-route-service/internal/services"
	"trip-route-service/internal/store"
)

// Deps are the collaborators the HTTP layer needs. Trips and Geocoder may be
// nil; their endpoints then answer 501.
type Deps struct {
	Store            *store.Store
	Optimizer        *services.RouteOptimizer
	Markers          *markers.Cache
	Geocoder         ports.Geocoder
	Trips            ports.TripRepository
	Metrics          *obs.Metrics
	Logger           *zap.Logger
	DefaultThreshold float64
}

// NewRouter wires HTTP handlers with their dependencies and returns an http.Handler.
// This is the API composition root (handlers stay unaware of concrete adapters).
func NewRouter(d Deps) http.Handler {
	mux := http.NewServeMux()

	health := &handlers.HealthHandler{Store: d.Store, Markers: d.Markers}
	locations := &handlers.LocationHandler{Store: d.Store, Geocoder: d.Geocoder}
	days := &handlers.DayHandler{
		Store:            d.Store,
		Optimizer:        d.Optimizer,
		DefaultThreshold: d.DefaultThreshold,
	}
	markerHandler := &handlers.MarkerHandler{Cache: d.Markers}

	mux.HandleFunc("GET /health", health.Health)
	mux.Handle("GET /metrics", d.Metrics.Handler())

	mux.HandleFunc("GET /locations", locations.List)
	mux.HandleFunc("POST /locations", locations.Create)
	mux.HandleFunc("POST /locations/pin", locations.Pin)
	mux.HandleFunc("GET /locations/{id}", locations.Get)
	mux.HandleFunc("PATCH /locations/{id}", locations.Update)
	mux.HandleFunc("DELETE /locations/{id}", locations.Delete)

	mux.HandleFunc("GET /days/{date}", days.View)
	mux.HandleFunc("POST /days/{date}/select", days.Select)
	mux.HandleFunc("PUT /days/{date}/order", days.Reorder)
	mux.HandleFunc("POST /days/{date}/optimize", days.Optimize)
	mux.HandleFunc("GET /days/{date}/route", days.Route)
	mux.HandleFunc("DELETE /days/{date}/route", days.Invalidate)
	mux.HandleFunc("GET /days/{date}/route.kml", days.RouteKML)

	mux.HandleFunc("GET /markers/{file}", markerHandler.PNG)

	if d.Trips != nil {
		trips := &handlers.TripHandler{Repo: d.Trips, Store: d.Store}
		mux.HandleFunc("GET /trips", trips.List)
		mux.HandleFunc("POST /trips", trips.Create)
		mux.HandleFunc("POST /trips/{id}/activate", trips.Activate)
	} else {
		notImplemented := func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"trips are not configured"}`, http.StatusNotImplemented)
		}
		mux.HandleFunc("/trips", notImplemented)
		mux.HandleFunc("/trips/", notImplemented)
	}

	return requestMiddleware(d.Logger, mux)
}
