package handlers

import (
	"bytes"
	"net/http"
	"time"

	"trip-route-service/internal/api/dto"
	"trip-route-service/internal/domain"
	"trip-route-service/internal/services"
	"trip-route-service/internal/store"
)

// DayHandler serves per-day views, ordering and route optimization.
type DayHandler struct {
	Store            *store.Store
	Optimizer        *services.RouteOptimizer
	DefaultThreshold float64
	Now              func() time.Time
}

func (h *DayHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// View returns the stops, zones and markers of a day. Query parameters:
// threshold (meters), dark, lat/lng of the device, depart_at.
func (h *DayHandler) View(w http.ResponseWriter, r *http.Request) {
	date, ok := pathDate(w, r)
	if !ok {
		return
	}

	threshold, err := queryFloat(r, "threshold", h.DefaultThreshold)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "threshold must be a number")
		return
	}
	current, err := queryCoordinates(r)
	if err != nil {
		writeServiceError(w, r, "day view", err)
		return
	}
	departAt, err := queryDepartAt(r, h.now)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "depart_at must be RFC 3339")
		return
	}

	day := h.Store.Day(date)
	view, err := services.Recompute(day.All(), threshold, date, day.Route, services.RecomputeOptions{
		Dark:            queryBool(r, "dark"),
		CurrentLocation: current,
	})
	if err != nil {
		writeServiceError(w, r, "day view", err)
		return
	}

	res := dto.DayResponse{
		Date:       date,
		Generation: day.Generation,
		Selected:   h.Store.Selected() == date,
		Stops:      dto.NewLocationResponses(day.Stops),
		Skipped:    dto.NewLocationResponses(day.Skipped),
		Zones:      make([]dto.ZoneResponse, 0, len(view.Zones)),
		Markers:    make([]dto.MarkerResponse, 0, len(view.Markers)),
		Route:      dto.NewRouteResponse(day.Route, day.Stops, departAt),
	}
	for _, z := range view.Zones {
		res.Zones = append(res.Zones, dto.ZoneResponse{
			ID:           z.ID,
			LocationIDs:  z.LocationIDs,
			Center:       dto.FromCoordinates(z.Center),
			RadiusMeters: z.RadiusMeters,
		})
	}
	for _, m := range view.Markers {
		res.Markers = append(res.Markers, dto.MarkerResponse{
			LocationID: m.LocationID,
			Kind:       string(m.Kind),
			Key:        m.Key(),
			URL:        MarkerURL(m.Kind, m.Params),
		})
	}
	writeJSON(w, r, http.StatusOK, res)
}

// Select makes date the selected day; the previously selected day loses its
// route.
func (h *DayHandler) Select(w http.ResponseWriter, r *http.Request) {
	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	h.Store.SelectDate(r.Context(), date)
	writeJSON(w, r, http.StatusOK, map[string]any{"selected": date})
}

// Reorder stores a custom stop order for the day.
func (h *DayHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	var req dto.ReorderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.Store.Reorder(r.Context(), date, req.IDs); err != nil {
		writeServiceError(w, r, "reorder day", err)
		return
	}
	day := h.Store.Day(date)
	writeJSON(w, r, http.StatusOK, dto.ListLocationResponse{Locations: dto.NewLocationResponses(day.Stops)})
}

// Optimize computes and applies the day's route. A result computed against
// an outdated day is reported with stale=true and 409.
func (h *DayHandler) Optimize(w http.ResponseWriter, r *http.Request) {
	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	var req dto.OptimizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in := services.OptimizeRequest{
		Date:            date,
		StartLocationID: req.StartLocationID,
		PreserveOrder:   req.PreserveOrder,
	}
	if req.Origin != nil {
		c := req.Origin.Coordinates()
		in.Origin = &c
	}

	res, err := h.Optimizer.Optimize(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, "optimize day", err)
		return
	}
	if res.Stale {
		writeJSON(w, r, http.StatusConflict, dto.OptimizeResponse{Stale: true})
		return
	}

	out, ok := optimizeResponse(res.Route, h.Store.Day(date), h.now().UTC())
	if !ok {
		writeJSON(w, r, http.StatusConflict, out)
		return
	}
	writeJSON(w, r, http.StatusOK, out)
}

// optimizeResponse renders route against one snapshot of its day. When the
// day changed after the route was applied the route is already superseded
// and the result is reported stale.
func optimizeResponse(route *domain.OptimizedRoute, day store.DayGroup, departAt time.Time) (dto.OptimizeResponse, bool) {
	if route == nil || day.Generation != route.Generation {
		return dto.OptimizeResponse{Stale: true}, false
	}
	return dto.OptimizeResponse{Route: dto.NewRouteResponse(route, day.Stops, departAt)}, true
}

// Route returns the day's current route, or 404 when none is applied.
func (h *DayHandler) Route(w http.ResponseWriter, r *http.Request) {
	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	departAt, err := queryDepartAt(r, h.now)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "depart_at must be RFC 3339")
		return
	}

	day := h.Store.Day(date)
	if day.Route == nil {
		writeError(w, r, http.StatusNotFound, "no route for "+date.String())
		return
	}
	writeJSON(w, r, http.StatusOK, dto.NewRouteResponse(day.Route, day.Stops, departAt))
}

// RouteKML exports the day's route as a KML document.
func (h *DayHandler) RouteKML(w http.ResponseWriter, r *http.Request) {
	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	day := h.Store.Day(date)
	if day.Route == nil {
		writeError(w, r, http.StatusNotFound, "no route for "+date.String())
		return
	}

	var buf bytes.Buffer
	if err := services.ExportKML(&buf, date, day.Stops, day.Route); err != nil {
		writeServiceError(w, r, "export kml", err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.google-earth.kml+xml")
	w.Header().Set("Content-Disposition", `attachment; filename="route-`+date.String()+`.kml"`)
	_, _ = w.Write(buf.Bytes())
}

// Invalidate drops the day's route and derived fields.
func (h *DayHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	h.Store.InvalidateRoute(r.Context(), date)
	w.WriteHeader(http.StatusNoContent)
}
