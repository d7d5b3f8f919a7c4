package googlemaps

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"trip-route-service/internal/domain"
	"trip-route-service/internal/platform/obs"
	"trip-route-service/internal/ports"
)

type geocodeResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	Results      []struct {
		PlaceID           string `json:"place_id"`
		FormattedAddress  string `json:"formatted_address"`
		AddressComponents []struct {
			LongName string   `json:"long_name"`
			Types    []string `json:"types"`
		} `json:"address_components"`
		Geometry struct {
			Location latLng `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// CacheKey normalizes a coordinate to roughly one meter so nearby long
// presses share a cached place.
func CacheKey(c domain.Coordinates) string {
	return fmt.Sprintf("%.5f,%.5f", c.Lat, c.Lng)
}

// ReverseGeocode implements ports.Geocoder. Results are served from and
// stored into the geocode cache when one is configured; cache failures only
// cost an extra provider call.
func (c *Client) ReverseGeocode(ctx context.Context, at domain.Coordinates) (_ domain.Place, err error) {
	defer obs.Time(ctx, "googlemaps.ReverseGeocode")(&err)

	if err := at.Validate(); err != nil {
		return domain.Place{}, fmt.Errorf("reverse geocode: %w", err)
	}

	key := CacheKey(at)
	if c.cache != nil {
		place, ok, err := c.cache.GetPlace(ctx, key)
		if err != nil {
			c.log.Warn("geocode cache read failed", zap.String("key", key), zap.Error(err))
		} else if ok {
			return place, nil
		}
	}

	start := time.Now()
	place, err := c.reverseGeocode(ctx, at)
	c.metrics.ProviderCall("geocode", time.Since(start).Seconds(), err)
	if err != nil {
		return domain.Place{}, fmt.Errorf("reverse geocode: %w", err)
	}

	if c.cache != nil {
		if err := c.cache.PutPlace(ctx, key, place); err != nil {
			c.log.Warn("geocode cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return place, nil
}

func (c *Client) reverseGeocode(ctx context.Context, at domain.Coordinates) (domain.Place, error) {
	query := map[string]string{"latlng": at.LatLngString()}
	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		return c.newRequest(ctx, "/maps/api/geocode/json", query)
	})
	if err != nil {
		return domain.Place{}, asProviderError(err)
	}
	defer resp.Body.Close()

	var decoded geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return domain.Place{}, &ports.ProviderError{Status: "INVALID_RESPONSE", Message: "decode body", Err: err}
	}
	if decoded.Status != "OK" {
		return domain.Place{}, &ports.ProviderError{Status: decoded.Status, Message: decoded.ErrorMessage}
	}
	if len(decoded.Results) == 0 {
		return domain.Place{}, &ports.ProviderError{Status: "ZERO_RESULTS", Message: "no results"}
	}

	r := decoded.Results[0]
	name := ""
	for _, comp := range r.AddressComponents {
		if hasAnyType(comp.Types, "point_of_interest", "establishment", "premise") {
			name = comp.LongName
			break
		}
	}
	if name == "" {
		name, _, _ = strings.Cut(r.FormattedAddress, ",")
	}

	loc := r.Geometry.Location.coordinates()
	if err := loc.Validate(); err != nil {
		loc = at
	}
	return domain.Place{
		PlaceID:          r.PlaceID,
		Name:             strings.TrimSpace(name),
		FormattedAddress: r.FormattedAddress,
		Coordinates:      loc,
	}, nil
}

func hasAnyType(types []string, want ...string) bool {
	for _, t := range types {
		for _, w := range want {
			if t == w {
				return true
			}
		}
	}
	return false
}
