package domain

import "errors"

// Invalid-input errors. They are rejected at the boundary before reaching
// clustering or route orchestration.
var (
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrEmptyID            = errors.New("id must not be empty")
	ErrEmptyName          = errors.New("name must not be empty")
	ErrInvalidThreshold   = errors.New("zone threshold out of range")
	ErrNegativeStay       = errors.New("stay duration must not be negative")
	ErrInvalidDate        = errors.New("invalid date")
	ErrInvalidOrder       = errors.New("order does not match the day's stops")
)

var (
	ErrLocationNotFound  = errors.New("location not found")
	ErrTripNotFound      = errors.New("trip not found")
	ErrDuplicateLocation = errors.New("location already exists")
)

// IsInvalidInput reports whether err belongs to the invalid-input class.
func IsInvalidInput(err error) bool {
	for _, target := range []error{
		ErrInvalidCoordinates,
		ErrEmptyID,
		ErrEmptyName,
		ErrInvalidThreshold,
		ErrNegativeStay,
		ErrInvalidDate,
		ErrInvalidOrder,
		ErrDuplicateLocation,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotFound reports whether err names a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLocationNotFound) || errors.Is(err, ErrTripNotFound)
}
