package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultStayDuration applies when a location is pinned without an explicit stay.
const DefaultStayDuration = 30 * time.Minute

// LegMetrics is the travel cost of reaching a stop from the previous one.
// Duration is whole seconds as reported by the directions provider.
type LegMetrics struct {
	Duration       time.Duration
	DistanceMeters int
}

// Location is a pinned point of interest.
//
// FromPrevious and Position are route-derived: they are written by route
// application in the state store and cleared whenever the day's route is
// invalidated. Position orders stops within a day; ties fall back to
// creation time and then id.
type Location struct {
	ID            string
	PlaceID       string
	Name          string
	Address       string
	Coordinates   Coordinates
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ScheduledDate *Date
	StayDuration  time.Duration
	Skipped       bool
	Position      int
	FromPrevious  *LegMetrics
	TripID        string
}

// NewLocationFromPlace builds a Location for a pinned place.
func NewLocationFromPlace(p Place, tripID string, now time.Time) (*Location, error) {
	now = now.UTC()
	loc := &Location{
		ID:           uuid.NewString(),
		PlaceID:      p.PlaceID,
		Name:         strings.TrimSpace(p.Name),
		Address:      strings.TrimSpace(p.FormattedAddress),
		Coordinates:  p.Coordinates,
		CreatedAt:    now,
		UpdatedAt:    now,
		StayDuration: DefaultStayDuration,
		TripID:       tripID,
	}
	if loc.Name == "" {
		loc.Name = loc.Address
	}
	if err := loc.Validate(); err != nil {
		return nil, fmt.Errorf("new location: %w", err)
	}
	return loc, nil
}

// Validate checks the user-editable invariants of l.
func (l *Location) Validate() error {
	if strings.TrimSpace(l.ID) == "" {
		return ErrEmptyID
	}
	if strings.TrimSpace(l.Name) == "" {
		return ErrEmptyName
	}
	if err := l.Coordinates.Validate(); err != nil {
		return err
	}
	if l.StayDuration < 0 {
		return ErrNegativeStay
	}
	return nil
}

// EffectiveDate is the scheduled date, or the calendar date the location
// was created on.
func (l *Location) EffectiveDate() Date {
	if l.ScheduledDate != nil {
		return *l.ScheduledDate
	}
	return DateOf(l.CreatedAt)
}

// Clone returns a deep copy of l.
func (l *Location) Clone() *Location {
	if l == nil {
		return nil
	}
	c := *l
	if l.ScheduledDate != nil {
		d := *l.ScheduledDate
		c.ScheduledDate = &d
	}
	if l.FromPrevious != nil {
		m := *l.FromPrevious
		c.FromPrevious = &m
	}
	return &c
}

// ClearDerived drops every route-derived field except Position.
func (l *Location) ClearDerived() {
	l.FromPrevious = nil
}

// SortByPosition orders locations by Position, then CreatedAt, then ID.
func SortByPosition(locs []*Location) {
	sort.SliceStable(locs, func(i, j int) bool {
		a, b := locs[i], locs[j]
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// CloneAll deep-copies a slice of locations.
func CloneAll(locs []*Location) []*Location {
	out := make([]*Location, 0, len(locs))
	for _, l := range locs {
		out = append(out, l.Clone())
	}
	return out
}
