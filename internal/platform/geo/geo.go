package geo

import (
	"math"

	"github.com/golang/geo/s2"

	"trip-route-service/internal/domain"
)

// EarthRadiusMeters is the mean Earth radius used for all great-circle math.
const EarthRadiusMeters = 6371008.8

// DistanceMeters returns the great-circle distance between a and b.
func DistanceMeters(a, b domain.Coordinates) float64 {
	pa := s2.LatLngFromDegrees(a.Lat, a.Lng)
	pb := s2.LatLngFromDegrees(b.Lat, b.Lng)
	return pa.Distance(pb).Radians() * EarthRadiusMeters
}

// Centroid returns the spherical mean of pts. An empty slice yields the zero
// coordinate.
func Centroid(pts []domain.Coordinates) domain.Coordinates {
	if len(pts) == 0 {
		return domain.Coordinates{}
	}
	if len(pts) == 1 {
		return pts[0]
	}

	var sum s2.Point
	for _, c := range pts {
		p := s2.PointFromLatLng(s2.LatLngFromDegrees(c.Lat, c.Lng))
		sum = s2.Point{Vector: sum.Add(p.Vector)}
	}
	if sum.Norm() == 0 {
		return pts[0]
	}
	ll := s2.LatLngFromPoint(s2.Point{Vector: sum.Normalize()})
	return domain.Coordinates{Lat: ll.Lat.Degrees(), Lng: ll.Lng.Degrees()}
}

// EnclosingRadiusMeters is the largest distance from center to any of pts.
func EnclosingRadiusMeters(center domain.Coordinates, pts []domain.Coordinates) float64 {
	r := 0.0
	for _, p := range pts {
		r = math.Max(r, DistanceMeters(center, p))
	}
	return r
}
