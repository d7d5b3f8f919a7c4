package domain

import "time"

// StartPoint identifies where a route begins: the device's current location
// (LocationID empty) or one of the day's own stops.
type StartPoint struct {
	LocationID string
}

func (s StartPoint) IsCurrentLocation() bool { return s.LocationID == "" }

// Leg is one point-to-point segment of a route. FromID is empty when the leg
// starts at the device's current location.
type Leg struct {
	FromID         string
	ToID           string
	Start          Coordinates
	End            Coordinates
	Duration       time.Duration
	DistanceMeters int
	Polyline       []Coordinates
}

// OptimizedRoute ties a day's stop set to a resolved visiting order.
//
// StopIDs lists every stop in visiting order, including the start location
// when the route starts at one. Legs align 1:1 with the stops they reach, so
// len(Legs) is len(StopIDs) from the current location and len(StopIDs)-1
// from a start location.
type OptimizedRoute struct {
	Date                Date
	Start               StartPoint
	Origin              Coordinates
	WaypointOrder       []int
	StopIDs             []string
	Legs                []Leg
	Polyline            []Coordinates
	TotalDuration       time.Duration
	TotalDistanceMeters int
	Generation          uint64
	ComputedAt          time.Time
}

func (r *OptimizedRoute) IsEmpty() bool { return r == nil || len(r.StopIDs) == 0 }

// Clone returns a deep copy of r.
func (r *OptimizedRoute) Clone() *OptimizedRoute {
	if r == nil {
		return nil
	}
	c := *r
	c.WaypointOrder = append([]int(nil), r.WaypointOrder...)
	c.StopIDs = append([]string(nil), r.StopIDs...)
	c.Polyline = append([]Coordinates(nil), r.Polyline...)
	c.Legs = make([]Leg, len(r.Legs))
	for i, l := range r.Legs {
		l.Polyline = append([]Coordinates(nil), l.Polyline...)
		c.Legs[i] = l
	}
	return &c
}

// LegTo returns the leg that reaches stop id.
func (r *OptimizedRoute) LegTo(id string) (Leg, bool) {
	if r == nil {
		return Leg{}, false
	}
	for _, l := range r.Legs {
		if l.ToID == id {
			return l, true
		}
	}
	return Leg{}, false
}

// StopArrival is the schedule of a single stop.
type StopArrival struct {
	LocationID string
	ArriveAt   time.Time
	DepartAt   time.Time
}

// RouteMetrics are the aggregate figures shown for a day's route.
type RouteMetrics struct {
	TotalTravel         time.Duration
	TotalStay           time.Duration
	TotalDistanceMeters int
	DepartAt            time.Time
	ETA                 time.Time
	Arrivals            []StopArrival
}

// ComputeMetrics walks stops in order, accumulating the travel time of the
// leg reaching each stop and the stay spent there. ETA is departure plus all
// travel plus all stays.
func ComputeMetrics(stops []*Location, departAt time.Time) RouteMetrics {
	m := RouteMetrics{DepartAt: departAt, Arrivals: make([]StopArrival, 0, len(stops))}

	cursor := departAt
	for _, s := range stops {
		if s.FromPrevious != nil {
			cursor = cursor.Add(s.FromPrevious.Duration)
			m.TotalTravel += s.FromPrevious.Duration
			m.TotalDistanceMeters += s.FromPrevious.DistanceMeters
		}
		arrive := cursor
		cursor = cursor.Add(s.StayDuration)
		m.TotalStay += s.StayDuration

		m.Arrivals = append(m.Arrivals, StopArrival{
			LocationID: s.ID,
			ArriveAt:   arrive,
			DepartAt:   cursor,
		})
	}
	m.ETA = departAt.Add(m.TotalTravel + m.TotalStay)
	return m
}
