package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trip-route-service/internal/domain"
)

func TestDistanceMeters(t *testing.T) {
	a := domain.Coordinates{Lat: 0, Lng: 0}
	b := domain.Coordinates{Lat: 0, Lng: 0.001}

	d := DistanceMeters(a, b)
	assert.InDelta(t, 111.2, d, 0.5)
	assert.InDelta(t, d, DistanceMeters(b, a), 1e-9)
	assert.Zero(t, DistanceMeters(a, a))

	far := DistanceMeters(a, domain.Coordinates{Lat: 1, Lng: 1})
	assert.Greater(t, far, 150000.0)
}

func TestCentroid(t *testing.T) {
	pts := []domain.Coordinates{{Lat: 10, Lng: 10}, {Lat: 10, Lng: 10.002}}
	c := Centroid(pts)

	assert.InDelta(t, 10, c.Lat, 1e-6)
	assert.InDelta(t, 10.001, c.Lng, 1e-6)
	assert.InDelta(t, DistanceMeters(c, pts[0]), EnclosingRadiusMeters(c, pts), 1e-6)
	assert.Equal(t, domain.Coordinates{}, Centroid(nil))
}

func TestPolylineReferenceDecode(t *testing.T) {
	// Reference example of the encoded polyline algorithm format.
	pts, err := DecodePolyline("_p~iF~ps|U_ulLnnqC_mqNvxq`@")
	require.NoError(t, err)

	want := []domain.Coordinates{
		{Lat: 38.5, Lng: -120.2},
		{Lat: 40.7, Lng: -120.95},
		{Lat: 43.252, Lng: -126.453},
	}
	require.Len(t, pts, len(want))
	for i := range want {
		assert.InDelta(t, want[i].Lat, pts[i].Lat, 1e-5)
		assert.InDelta(t, want[i].Lng, pts[i].Lng, 1e-5)
	}
}

func TestPolylineRoundTrip(t *testing.T) {
	in := []domain.Coordinates{
		{Lat: 52.52437, Lng: 13.41053},
		{Lat: 52.52, Lng: 13.4},
		{Lat: -33.86882, Lng: 151.20929},
		{Lat: 0, Lng: 0},
		{Lat: 89.99999, Lng: -179.99999},
	}

	out, err := DecodePolyline(EncodePolyline(in))
	require.NoError(t, err)
	require.Len(t, out, len(in))
	for i := range in {
		assert.LessOrEqual(t, math.Abs(in[i].Lat-out[i].Lat), 1e-5, "lat %d", i)
		assert.LessOrEqual(t, math.Abs(in[i].Lng-out[i].Lng), 1e-5, "lng %d", i)
	}
}

func TestDecodePolylineEmptyAndInvalid(t *testing.T) {
	pts, err := DecodePolyline("")
	require.NoError(t, err)
	assert.Empty(t, pts)

	_, err = DecodePolyline("_p~iF~ps|U_")
	assert.Error(t, err)
}

func TestAppendPath(t *testing.T) {
	a := domain.Coordinates{Lat: 1, Lng: 1}
	b := domain.Coordinates{Lat: 2, Lng: 2}

	path := AppendPath(nil, a, a, b)
	path = AppendPath(path, b, a)
	assert.Equal(t, []domain.Coordinates{a, b, a}, path)
}
