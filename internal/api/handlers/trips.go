package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"trip-route-service/internal/api/dto"
	"trip-route-service/internal/domain"
	"trip-route-service/internal/platform/logging"
	"trip-route-service/internal/ports"
	"trip-route-service/internal/store"
)

type TripHandler struct {
	Repo  ports.TripRepository
	Store *store.Store
	Now   func() time.Time
}

func (h *TripHandler) List(w http.ResponseWriter, r *http.Request) {
	trips, err := h.Repo.ListTrips(r.Context())
	if err != nil {
		writeServiceError(w, r, "list trips", err)
		return
	}
	active := h.Store.TripID()
	res := dto.ListTripResponse{Trips: make([]dto.TripResponse, 0, len(trips))}
	for _, t := range trips {
		res.Trips = append(res.Trips, newTripResponse(t, active))
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (h *TripHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateTripRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	trip, err := domain.NewTrip(req.Name, now())
	if err != nil {
		writeServiceError(w, r, "create trip", err)
		return
	}
	if err := h.Repo.CreateTrip(r.Context(), trip); err != nil {
		writeServiceError(w, r, "create trip", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, newTripResponse(trip, h.Store.TripID()))
}

// Activate loads the trip's locations into the store, replacing the current
// trip.
func (h *TripHandler) Activate(w http.ResponseWriter, r *http.Request) {
	trip, err := h.Repo.GetTrip(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "activate trip", err)
		return
	}
	if err := h.Store.Load(r.Context(), trip.ID); err != nil {
		writeServiceError(w, r, "activate trip", err)
		return
	}
	logging.FromContext(r.Context()).Info("trip activated", zap.String("trip_id", trip.ID))
	writeJSON(w, r, http.StatusOK, newTripResponse(trip, trip.ID))
}

func newTripResponse(t *domain.Trip, active string) dto.TripResponse {
	return dto.TripResponse{ID: t.ID, Name: t.Name, CreatedAt: t.CreatedAt, Active: t.ID == active}
}
