package handlers

import (
	"net/http"

	"trip-route-service/internal/markers"
	"trip-route-service/internal/store"
)

type HealthHandler struct {
	Store   *store.Store
	Markers *markers.Cache
}

// Health provides a minimal liveness check endpoint.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	res := map[string]any{"status": "ok"}
	if h.Store != nil {
		res["trip_id"] = h.Store.TripID()
		res["instance_id"] = h.Store.InstanceID()
	}
	if h.Markers != nil {
		res["marker_cache_entries"] = h.Markers.Len()
	}
	writeJSON(w, r, http.StatusOK, res)
}
