package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"trip-route-service/internal/domain"
	"trip-route-service/internal/markers"
	"trip-route-service/internal/platform/logging"
	"trip-route-service/internal/ports"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Warn("encode failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, map[string]string{"error": msg})
}

// writeServiceError maps domain and provider failures onto HTTP statuses.
// Invalid input and not-found messages are safe to echo; anything else is
// logged and reported generically.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var pe *ports.ProviderError
	var re *markers.RenderError
	switch {
	case domain.IsInvalidInput(err), errors.Is(err, markers.ErrInvalidParams):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case domain.IsNotFound(err):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, markers.ErrUnknownKind):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.As(err, &pe):
		logging.FromContext(r.Context()).Warn(op+" failed", zap.String("provider_status", pe.Status), zap.Error(err))
		writeError(w, r, http.StatusBadGateway, "route provider failed: "+pe.Status)
	case errors.As(err, &re):
		logging.FromContext(r.Context()).Error(op+" failed", zap.String("kind", string(re.Kind)), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "marker render failed")
	default:
		logging.FromContext(r.Context()).Error(op+" failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal server error")
	}
}

// decodeJSON reads exactly one JSON object from the body, rejecting unknown
// fields. It writes the 400 response itself and reports false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	defer r.Body.Close()
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid json body")
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		writeError(w, r, http.StatusBadRequest, "body must contain only one JSON object")
		return false
	}
	return true
}

func pathDate(w http.ResponseWriter, r *http.Request) (domain.Date, bool) {
	d, err := domain.ParseDate(r.PathValue("date"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return domain.Date{}, false
	}
	return d, true
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}

// queryFloat returns fallback when key is absent and an error when it is
// present but malformed.
func queryFloat(r *http.Request, key string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(raw, 64)
}

// queryCoordinates reads an optional lat/lng pair.
func queryCoordinates(r *http.Request) (*domain.Coordinates, error) {
	q := r.URL.Query()
	if q.Get("lat") == "" && q.Get("lng") == "" {
		return nil, nil
	}
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		return nil, domain.ErrInvalidCoordinates
	}
	lng, err := strconv.ParseFloat(q.Get("lng"), 64)
	if err != nil {
		return nil, domain.ErrInvalidCoordinates
	}
	c := domain.Coordinates{Lat: lat, Lng: lng}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// queryDepartAt reads depart_at (RFC 3339), defaulting to now.
func queryDepartAt(r *http.Request, now func() time.Time) (time.Time, error) {
	raw := r.URL.Query().Get("depart_at")
	if raw == "" {
		return now().UTC(), nil
	}
	return time.Parse(time.RFC3339, raw)
}

func parseOptionalDate(s string) (*domain.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	d, err := domain.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
