package handlers

import (
	"net/http"
	"strings"
	"time"

	"trip-route-service/internal/api/dto"
	"trip-route-service/internal/domain"
	"trip-route-service/internal/ports"
	"trip-route-service/internal/store"
)

// LocationHandler serves the pinned locations of the loaded trip.
type LocationHandler struct {
	Store    *store.Store
	Geocoder ports.Geocoder
	Now      func() time.Time
}

func (h *LocationHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *LocationHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, dto.ListLocationResponse{
		Locations: dto.NewLocationResponses(h.Store.Locations()),
	})
}

func (h *LocationHandler) Get(w http.ResponseWriter, r *http.Request) {
	loc, err := h.Store.Get(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "get location", err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto.NewLocationResponse(loc))
}

// Create adds a location from an already resolved place.
func (h *LocationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateLocationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Lat == nil || req.Lng == nil {
		writeError(w, r, http.StatusBadRequest, "lat and lng are required")
		return
	}

	place := domain.Place{
		PlaceID:          strings.TrimSpace(req.PlaceID),
		Name:             req.Name,
		FormattedAddress: req.Address,
		Coordinates:      domain.Coordinates{Lat: *req.Lat, Lng: *req.Lng},
	}
	h.add(w, r, place, req.ScheduledDate, req.StayMinutes)
}

// Pin reverse geocodes a coordinate and adds the resulting place.
func (h *LocationHandler) Pin(w http.ResponseWriter, r *http.Request) {
	if h.Geocoder == nil {
		writeError(w, r, http.StatusNotImplemented, "reverse geocoding is not configured")
		return
	}

	var req dto.PinRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	at := domain.Coordinates{Lat: req.Lat, Lng: req.Lng}
	if err := at.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	place, err := h.Geocoder.ReverseGeocode(r.Context(), at)
	if err != nil {
		writeServiceError(w, r, "reverse geocode", err)
		return
	}
	// The pin position is what the user chose, not the geocoded centroid.
	place.Coordinates = at
	if strings.TrimSpace(place.Name) == "" && strings.TrimSpace(place.FormattedAddress) == "" {
		place.Name = at.LatLngString()
	}
	h.add(w, r, place, req.ScheduledDate, req.StayMinutes)
}

func (h *LocationHandler) add(w http.ResponseWriter, r *http.Request, place domain.Place, date string, stayMinutes *int) {
	loc, err := domain.NewLocationFromPlace(place, h.Store.TripID(), h.now())
	if err != nil {
		writeServiceError(w, r, "create location", err)
		return
	}
	if loc.ScheduledDate, err = parseOptionalDate(date); err != nil {
		writeServiceError(w, r, "create location", err)
		return
	}
	if stayMinutes != nil {
		loc.StayDuration = time.Duration(*stayMinutes) * time.Minute
	}

	added, err := h.Store.Add(r.Context(), loc)
	if err != nil {
		writeServiceError(w, r, "add location", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, dto.NewLocationResponse(added))
}

// Update applies the present fields in order: name, schedule, stay, skip.
// A failure stops at that field; earlier fields stay applied.
func (h *LocationHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req dto.UpdateLocationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx := r.Context()
	loc, err := h.Store.Get(id)
	if err != nil {
		writeServiceError(w, r, "update location", err)
		return
	}

	if req.Name != nil {
		if loc, err = h.Store.Rename(ctx, id, *req.Name); err != nil {
			writeServiceError(w, r, "rename location", err)
			return
		}
	}
	if req.ScheduledDate != nil {
		date, err := parseOptionalDate(*req.ScheduledDate)
		if err != nil {
			writeServiceError(w, r, "reschedule location", err)
			return
		}
		if loc, err = h.Store.Reschedule(ctx, id, date); err != nil {
			writeServiceError(w, r, "reschedule location", err)
			return
		}
	}
	if req.StayMinutes != nil {
		if loc, err = h.Store.SetStayDuration(ctx, id, time.Duration(*req.StayMinutes)*time.Minute); err != nil {
			writeServiceError(w, r, "set stay duration", err)
			return
		}
	}
	if req.Skipped != nil {
		if loc, err = h.Store.SetSkipped(ctx, id, *req.Skipped); err != nil {
			writeServiceError(w, r, "set skipped", err)
			return
		}
	}

	writeJSON(w, r, http.StatusOK, dto.NewLocationResponse(loc))
}

func (h *LocationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Remove(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, r, "remove location", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
