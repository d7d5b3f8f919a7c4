package geo

import (
	"fmt"

	"github.com/twpayne/go-polyline"

	"trip-route-service/internal/domain"
)

// DecodePolyline decodes an encoded polyline (5 decimal precision) into
// coordinates. Trailing bytes or out-of-range points are errors.
func DecodePolyline(encoded string) ([]domain.Coordinates, error) {
	if encoded == "" {
		return nil, nil
	}

	coords, rest, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode polyline: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("decode polyline: %d trailing bytes", len(rest))
	}

	out := make([]domain.Coordinates, 0, len(coords))
	for i, c := range coords {
		pt := domain.Coordinates{Lat: c[0], Lng: c[1]}
		if err := pt.Validate(); err != nil {
			return nil, fmt.Errorf("decode polyline: point %d: %w", i, err)
		}
		out = append(out, pt)
	}
	return out, nil
}

// EncodePolyline encodes coordinates with the standard polyline algorithm.
func EncodePolyline(pts []domain.Coordinates) string {
	if len(pts) == 0 {
		return ""
	}
	coords := make([][]float64, 0, len(pts))
	for _, p := range pts {
		coords = append(coords, p.CoordsToList())
	}
	return string(polyline.EncodeCoords(coords))
}

// AppendPath appends pts to path, skipping points equal to the current tail.
func AppendPath(path []domain.Coordinates, pts ...domain.Coordinates) []domain.Coordinates {
	for _, p := range pts {
		if n := len(path); n > 0 && path[n-1] == p {
			continue
		}
		path = append(path, p)
	}
	return path
}
