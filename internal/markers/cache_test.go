package markers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"trip-route-service/internal/platform/obs"
)

// countingRenderer draws a 1x1 image whose red channel is the marker number.
type countingRenderer struct {
	calls atomic.Int64
	fail  error
	gate  chan struct{}
}

func (r *countingRenderer) Render(ctx context.Context, kind Kind, p Params) (*image.RGBA, error) {
	r.calls.Add(1)
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.fail != nil {
		return nil, r.fail
	}
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: uint8(p.Number), A: 0xff})
	return img, nil
}

func newTestCache(t *testing.T, r Renderer, capacity int) *Cache {
	t.Helper()
	c, err := NewCache(r, Config{Capacity: capacity, RenderTimeout: time.Second}, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

func numbered(n int) Params { return Styled(KindNumbered, n, "", false, false, false) }

func TestKeyCompleteness(t *testing.T) {
	base := numbered(3)
	assert.Equal(t, Key(KindNumbered, base), Key(KindNumbered, numbered(3)))

	variants := []Params{base, base, base, base, base, base, base, base}
	variants[0].Number = 4
	variants[1].Label = "x"
	variants[2].Background.R++
	variants[3].Text.B++
	variants[4].Dark = true
	variants[5].Skipped = true
	variants[6].Start = true
	variants[7].Background.A = 0x80

	seen := map[string]bool{Key(KindNumbered, base): true}
	for i, v := range variants {
		k := Key(KindNumbered, v)
		assert.False(t, seen[k], "variant %d collides: %s", i, k)
		seen[k] = true
	}
	assert.NotEqual(t, Key(KindLegStart, base), Key(KindLegEnd, base))

	// A label cannot forge another key's separators.
	a := Params{Label: `a|n=1`}
	b := Params{Label: "a", Number: 1}
	assert.NotEqual(t, Key(KindNumbered, a), Key(KindNumbered, b))
}

func TestGetHitDoesNotRender(t *testing.T) {
	r := &countingRenderer{}
	c := newTestCache(t, r, 10)
	ctx := context.Background()

	first, err := c.Get(ctx, KindNumbered, numbered(1))
	require.NoError(t, err)
	second, err := c.Get(ctx, KindNumbered, numbered(1))
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.EqualValues(t, 1, r.calls.Load())

	st := c.Stats()
	assert.EqualValues(t, 1, st.Hits)
	assert.EqualValues(t, 1, st.Misses)
	assert.EqualValues(t, 1, st.Renders)
}

func TestSkippedFlagChangesKeyAndBitmap(t *testing.T) {
	g, err := NewGlyphRenderer()
	require.NoError(t, err)
	c := newTestCache(t, g, 10)
	ctx := context.Background()

	plain := numbered(2)
	skipped := Styled(KindNumbered, 2, "", false, true, false)
	require.NotEqual(t, Key(KindNumbered, plain), Key(KindNumbered, skipped))

	a, err := c.Get(ctx, KindNumbered, plain)
	require.NoError(t, err)
	b, err := c.Get(ctx, KindNumbered, skipped)
	require.NoError(t, err)

	assert.NotEqual(t, a.Key, b.Key)
	assert.False(t, bytes.Equal(a.Image.Pix, b.Image.Pix))
	assert.Equal(t, 2, c.Len())
}

func TestLRUEviction(t *testing.T) {
	r := &countingRenderer{}
	c := newTestCache(t, r, 3)
	ctx := context.Background()

	for n := 1; n <= 3; n++ {
		_, err := c.Get(ctx, KindNumbered, numbered(n))
		require.NoError(t, err)
	}

	// Touch 1 so 2 becomes the least recently used.
	_, err := c.Get(ctx, KindNumbered, numbered(1))
	require.NoError(t, err)

	_, err = c.Get(ctx, KindNumbered, numbered(4))
	require.NoError(t, err)

	assert.True(t, c.Contains(KindNumbered, numbered(1)))
	assert.False(t, c.Contains(KindNumbered, numbered(2)))
	assert.True(t, c.Contains(KindNumbered, numbered(3)))
	assert.True(t, c.Contains(KindNumbered, numbered(4)))
	assert.Equal(t, 3, c.Len())
	assert.EqualValues(t, 1, c.Stats().Evictions)
}

func TestPinnedKindsSurviveLRUPressure(t *testing.T) {
	r := &countingRenderer{}
	c := newTestCache(t, r, 2)
	ctx := context.Background()

	here := Styled(KindCurrentLocation, 0, "", false, false, false)
	_, err := c.Get(ctx, KindCurrentLocation, here)
	require.NoError(t, err)

	for n := 1; n <= 5; n++ {
		_, err := c.Get(ctx, KindNumbered, numbered(n))
		require.NoError(t, err)
	}
	assert.True(t, c.Contains(KindCurrentLocation, here))

	renders := r.calls.Load()
	_, err = c.Get(ctx, KindCurrentLocation, here)
	require.NoError(t, err)
	assert.Equal(t, renders, r.calls.Load())

	// A different key for the same pinned kind replaces the retained value.
	dark := Styled(KindCurrentLocation, 0, "", true, false, false)
	_, err = c.Get(ctx, KindCurrentLocation, dark)
	require.NoError(t, err)
	assert.False(t, c.Contains(KindCurrentLocation, here))
	assert.True(t, c.Contains(KindCurrentLocation, dark))

	assert.True(t, c.Evict(KindCurrentLocation, dark))
	assert.False(t, c.Contains(KindCurrentLocation, dark))
}

func TestRenderFailureIsNotCached(t *testing.T) {
	boom := errors.New("no canvas")
	r := &countingRenderer{fail: boom}
	c := newTestCache(t, r, 10)

	_, err := c.Get(context.Background(), KindNumbered, numbered(1))
	var re *RenderError
	require.ErrorAs(t, err, &re)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, KindNumbered, re.Kind)
	assert.Equal(t, 0, c.Len())

	r.fail = nil
	b, err := c.Get(context.Background(), KindNumbered, numbered(1))
	require.NoError(t, err)
	assert.NotNil(t, b)
	assert.EqualValues(t, 2, r.calls.Load())

	_, err = c.Get(context.Background(), Kind("bogus"), Params{})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestRenderTimeout(t *testing.T) {
	r := &countingRenderer{gate: make(chan struct{})}
	c, err := NewCache(r, Config{Capacity: 4, RenderTimeout: 20 * time.Millisecond}, nil, nil)
	require.NoError(t, err)

	_, err = c.Get(context.Background(), KindNumbered, numbered(1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, c.Len())
}

func TestConcurrentMissesShareOneRender(t *testing.T) {
	r := &countingRenderer{gate: make(chan struct{})}
	c := newTestCache(t, r, 10)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*Bitmap, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := c.Get(context.Background(), KindNumbered, numbered(7))
			assert.NoError(t, err)
			results[i] = b
		}(i)
	}

	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(r.gate)
	wg.Wait()

	assert.EqualValues(t, 1, r.calls.Load())
	for i := 1; i < callers; i++ {
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, 1, c.Len())
}

func TestPrewarm(t *testing.T) {
	r := &countingRenderer{}
	c := newTestCache(t, r, DefaultCapacity)

	require.NoError(t, <-c.PrewarmAsync(context.Background(), false))

	for _, s := range CommonSpecs(false) {
		assert.True(t, c.Contains(s.Kind, s.Params), "missing %s", s.Key())
	}
	assert.Equal(t, len(CommonSpecs(false)), c.Len())

	calls := r.calls.Load()
	_, err := c.Get(context.Background(), KindNumbered, numbered(5))
	require.NoError(t, err)
	assert.Equal(t, calls, r.calls.Load())

	c.Purge()
	assert.Zero(t, c.Len())
}

func TestCacheMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := obs.NewMetrics(reg)
	require.NoError(t, err)

	c, err := NewCache(&countingRenderer{}, Config{Capacity: 1}, m, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for _, n := range []int{1, 1, 2} {
		_, err := c.Get(ctx, KindNumbered, numbered(n))
		require.NoError(t, err)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.MarkerHits))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MarkerMisses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MarkerEvictions))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MarkerRenders.WithLabelValues(string(KindNumbered), "ok")))
}

func TestBitmapPNG(t *testing.T) {
	g, err := NewGlyphRenderer()
	require.NoError(t, err)

	for _, kind := range []Kind{KindNumbered, KindCurrentLocation, KindDestination, KindRouteInfo, KindLegStart, KindLegEnd} {
		p := Styled(kind, 12, "12 min", false, false, true)
		img, err := g.Render(context.Background(), kind, p)
		require.NoError(t, err, "kind %s", kind)

		b := &Bitmap{Key: Key(kind, p), Kind: kind, Image: img}
		data, err := b.PNG()
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")), fmt.Sprintf("kind %s", kind))
	}
}

func TestGetRejectsOutOfBoundsParams(t *testing.T) {
	r := &countingRenderer{}
	c := newTestCache(t, r, 4)
	ctx := context.Background()

	cases := []struct {
		kind Kind
		p    Params
	}{
		{KindNumbered, numbered(MaxNumber + 1)},
		{KindNumbered, numbered(-1)},
		{KindLegStart, Styled(KindLegStart, 0, "ABCD", false, false, false)},
		{KindRouteInfo, Styled(KindRouteInfo, 0, "a very long route label", false, false, false)},
	}
	for _, tc := range cases {
		_, err := c.Get(ctx, tc.kind, tc.p)
		assert.ErrorIs(t, err, ErrInvalidParams, "%s %+v", tc.kind, tc.p)
	}
	assert.Zero(t, r.calls.Load())
	assert.Zero(t, c.Len())

	_, err := c.Get(ctx, KindRouteInfo, Styled(KindRouteInfo, 0, "12 min", false, false, false))
	require.NoError(t, err)
	_, err = c.Get(ctx, KindNumbered, numbered(MaxNumber))
	require.NoError(t, err)
}
