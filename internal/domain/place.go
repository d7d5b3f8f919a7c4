package domain

// Place is the result shape of geocoding and place search: the input a
// Location is constructed from.
type Place struct {
	PlaceID          string
	Name             string
	FormattedAddress string
	Coordinates      Coordinates
}
