package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Trip groups locations under a common name.
type Trip struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

func NewTrip(name string, now time.Time) (*Trip, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("new trip: %w", ErrEmptyName)
	}
	return &Trip{ID: uuid.NewString(), Name: name, CreatedAt: now.UTC()}, nil
}
