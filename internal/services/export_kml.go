package services

import (
	"fmt"
	"image/color"
	"io"
	"time"

	"github.com/twpayne/go-kml"

	"trip-route-service/internal/domain"
)

// ExportKML writes a day's route as a KML document: one placemark per stop
// in visiting order and the full route polyline.
func ExportKML(w io.Writer, date domain.Date, stops []*domain.Location, route *domain.OptimizedRoute) error {
	lineStyle := kml.SharedStyle("route-line",
		kml.LineStyle(
			kml.Color(color.RGBA{R: 0x1a, G: 0x73, B: 0xe8, A: 0xff}),
			kml.Width(4),
		),
	)

	doc := kml.Document(
		kml.Name("Route "+date.String()),
		lineStyle,
	)

	for i, s := range stops {
		desc := s.Address
		if s.FromPrevious != nil {
			desc = fmt.Sprintf("%s\n%.1f km, %s from previous stop",
				s.Address,
				float64(s.FromPrevious.DistanceMeters)/1000,
				s.FromPrevious.Duration.Round(time.Minute),
			)
		}
		doc.Add(kml.Placemark(
			kml.Name(fmt.Sprintf("%d. %s", i+1, s.Name)),
			kml.Description(desc),
			kml.Point(kml.Coordinates(kml.Coordinate{Lon: s.Coordinates.Lng, Lat: s.Coordinates.Lat})),
		))
	}

	if route != nil && len(route.Polyline) > 1 {
		coords := make([]kml.Coordinate, 0, len(route.Polyline))
		for _, p := range route.Polyline {
			coords = append(coords, kml.Coordinate{Lon: p.Lng, Lat: p.Lat})
		}
		doc.Add(kml.Placemark(
			kml.Name(fmt.Sprintf("%.1f km, %s", float64(route.TotalDistanceMeters)/1000, route.TotalDuration.Round(time.Minute))),
			kml.StyleURL(lineStyle.URL()),
			kml.LineString(
				kml.Tessellate(true),
				kml.Coordinates(coords...),
			),
		))
	}

	if err := kml.KML(doc).WriteIndent(w, "", "  "); err != nil {
		return fmt.Errorf("export kml %s: %w", date, err)
	}
	return nil
}
