package googlemaps

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"trip-route-service/internal/domain"
	"trip-route-service/internal/platform/obs"
	"trip-route-service/internal/ports"
)

type latLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (l latLng) coordinates() domain.Coordinates {
	return domain.Coordinates{Lat: l.Lat, Lng: l.Lng}
}

type valueField struct {
	Value int    `json:"value"`
	Text  string `json:"text"`
}

type directionsStep struct {
	Polyline struct {
		Points string `json:"points"`
	} `json:"polyline"`
}

type directionsLeg struct {
	Distance      valueField       `json:"distance"`
	Duration      valueField       `json:"duration"`
	StartLocation latLng           `json:"start_location"`
	EndLocation   latLng           `json:"end_location"`
	Steps         []directionsStep `json:"steps"`
}

type directionsRoute struct {
	Legs []directionsLeg `json:"legs"`
	// Present only when waypoint optimization was requested.
	WaypointOrder []int `json:"waypoint_order,omitempty"`
}

type directionsResponse struct {
	Status       string            `json:"status"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Routes       []directionsRoute `json:"routes"`
}

// Directions implements ports.DirectionsProvider.
func (c *Client) Directions(ctx context.Context, in ports.DirectionsRequest) (_ *ports.DirectionsResult, err error) {
	defer obs.Time(ctx, "googlemaps.Directions")(&err)

	ctx, span := obs.Tracer("trip-route-service/googlemaps").Start(ctx, "googlemaps.Directions",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int("directions.waypoints", len(in.Waypoints)),
			attribute.Bool("directions.optimize", in.OptimizeWaypoints),
		),
	)
	start := time.Now()
	defer func() {
		c.metrics.ProviderCall("directions", time.Since(start).Seconds(), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	query := directionsQuery(in)
	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		return c.newRequest(ctx, "/maps/api/directions/json", query)
	})
	if err != nil {
		return nil, fmt.Errorf("directions: %w", asProviderError(err))
	}
	defer resp.Body.Close()

	var decoded directionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("directions: %w", &ports.ProviderError{Status: "INVALID_RESPONSE", Message: "decode body", Err: err})
	}
	span.SetAttributes(attribute.String("directions.status", decoded.Status))

	res, err := parseDirections(decoded, in.OptimizeWaypoints)
	if err != nil {
		return nil, fmt.Errorf("directions: %w", err)
	}
	return res, nil
}

func directionsQuery(in ports.DirectionsRequest) map[string]string {
	q := map[string]string{
		"origin":      in.Origin.LatLngString(),
		"destination": in.Destination.LatLngString(),
		"mode":        "driving",
	}
	if len(in.Waypoints) > 0 {
		parts := make([]string, 0, len(in.Waypoints)+1)
		if in.OptimizeWaypoints {
			parts = append(parts, "optimize:true")
		}
		for _, w := range in.Waypoints {
			parts = append(parts, w.LatLngString())
		}
		q["waypoints"] = strings.Join(parts, "|")
	}
	return q
}

// parseDirections validates the decoded body at the parsing boundary.
func parseDirections(resp directionsResponse, optimize bool) (*ports.DirectionsResult, error) {
	if resp.Status != "OK" {
		return nil, &ports.ProviderError{Status: resp.Status, Message: resp.ErrorMessage}
	}
	if len(resp.Routes) == 0 {
		return nil, &ports.ProviderError{Status: "ZERO_RESULTS", Message: "no routes returned"}
	}

	route := resp.Routes[0]
	if len(route.Legs) == 0 {
		return nil, &ports.ProviderError{Status: "INVALID_RESPONSE", Message: "route has no legs"}
	}

	out := &ports.DirectionsResult{Legs: make([]ports.DirectionsLeg, 0, len(route.Legs))}
	for i, l := range route.Legs {
		startPt, endPt := l.StartLocation.coordinates(), l.EndLocation.coordinates()
		if err := startPt.Validate(); err != nil {
			return nil, &ports.ProviderError{Status: "INVALID_RESPONSE", Message: fmt.Sprintf("leg %d start", i), Err: err}
		}
		if err := endPt.Validate(); err != nil {
			return nil, &ports.ProviderError{Status: "INVALID_RESPONSE", Message: fmt.Sprintf("leg %d end", i), Err: err}
		}

		steps := make([]string, 0, len(l.Steps))
		for _, s := range l.Steps {
			steps = append(steps, s.Polyline.Points)
		}
		out.Legs = append(out.Legs, ports.DirectionsLeg{
			DurationSeconds: l.Duration.Value,
			DistanceMeters:  l.Distance.Value,
			Start:           startPt,
			End:             endPt,
			StepPolylines:   steps,
		})
	}

	if optimize {
		out.WaypointOrder = append([]int{}, route.WaypointOrder...)
	}
	return out, nil
}
