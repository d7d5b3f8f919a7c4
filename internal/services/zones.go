package services

import (
	"fmt"
	"math"
	"sort"

	"trip-route-service/internal/domain"
	"trip-route-service/internal/platform/geo"
)

// ClusterZones partitions locations into proximity zones: two locations
// share a zone when a chain of locations connects them with every hop at
// most thresholdMeters apart (great-circle distance). Locations without a
// neighbor form singleton zones.
//
// The result does not depend on input order. Members are sorted by id and
// zones by their first member id.
func ClusterZones(locations []*domain.Location, thresholdMeters float64) ([]domain.Zone, error) {
	if err := ValidateThreshold(thresholdMeters); err != nil {
		return nil, err
	}
	if len(locations) == 0 {
		return []domain.Zone{}, nil
	}

	sorted := make([]*domain.Location, 0, len(locations))
	for _, l := range locations {
		if l == nil {
			continue
		}
		if err := l.Coordinates.Validate(); err != nil {
			return nil, fmt.Errorf("cluster zones: location %q: %w", l.ID, err)
		}
		sorted = append(sorted, l)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	uf := newUnionFind(len(sorted))
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if geo.DistanceMeters(sorted[i].Coordinates, sorted[j].Coordinates) <= thresholdMeters {
				uf.union(i, j)
			}
		}
	}

	// Walking in id order means zones are created in order of their first
	// member id and members are appended already sorted.
	index := make(map[int]int)
	zones := make([]domain.Zone, 0)
	points := make([][]domain.Coordinates, 0)
	for i, l := range sorted {
		root := uf.find(i)
		zi, ok := index[root]
		if !ok {
			zi = len(zones)
			index[root] = zi
			zones = append(zones, domain.Zone{ID: "zone-" + l.ID})
			points = append(points, nil)
		}
		zones[zi].LocationIDs = append(zones[zi].LocationIDs, l.ID)
		points[zi] = append(points[zi], l.Coordinates)
	}

	for i := range zones {
		zones[i].Center = geo.Centroid(points[i])
		zones[i].RadiusMeters = geo.EnclosingRadiusMeters(zones[i].Center, points[i])
	}
	return zones, nil
}

// ValidateThreshold rejects thresholds outside the documented bounds.
func ValidateThreshold(thresholdMeters float64) error {
	if math.IsNaN(thresholdMeters) ||
		thresholdMeters < domain.MinZoneThresholdMeters ||
		thresholdMeters > domain.MaxZoneThresholdMeters {
		return fmt.Errorf("%w: %v not in [%v, %v] meters", domain.ErrInvalidThreshold,
			thresholdMeters, domain.MinZoneThresholdMeters, domain.MaxZoneThresholdMeters)
	}
	return nil
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	switch {
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = rb
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = ra
	default:
		u.parent[rb] = ra
		u.rank[ra]++
	}
}
