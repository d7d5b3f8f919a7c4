package markers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"trip-route-service/internal/platform/logging"
	"trip-route-service/internal/platform/obs"
)

const DefaultCapacity = 100

// Bitmap is a rendered marker. Cached bitmaps are shared between callers and
// must not be modified.
type Bitmap struct {
	Key   string
	Kind  Kind
	Image *image.RGBA
}

// PNG encodes the bitmap for transport.
func (b *Bitmap) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, b.Image); err != nil {
		return nil, fmt.Errorf("encode marker %s: %w", b.Kind, err)
	}
	return buf.Bytes(), nil
}

// Renderer is the rendering primitive behind the cache.
type Renderer interface {
	Render(ctx context.Context, kind Kind, p Params) (*image.RGBA, error)
}

// RenderError reports that no bitmap could be produced for a key.
type RenderError struct {
	Kind Kind
	Key  string
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render marker %s: %v", e.Kind, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

var ErrUnknownKind = errors.New("unknown marker kind")

type Config struct {
	Capacity      int           `koanf:"capacity"`
	RenderTimeout time.Duration `koanf:"render_timeout"`
	Prewarm       bool          `koanf:"prewarm"`
}

// Stats are cumulative cache counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Renders   uint64
	Evictions uint64
	Entries   int
}

// Cache memoizes rendered markers.
//
// Regular kinds live in a strict LRU of fixed capacity. Pinned kinds keep
// one retained bitmap each, replaced when the requested key changes and
// never evicted by LRU pressure. Concurrent misses for one key share a
// single render.
type Cache struct {
	renderer Renderer
	timeout  time.Duration
	metrics  *obs.Metrics
	log      *zap.Logger

	lru    *lru.Cache[string, *Bitmap]
	flight singleflight.Group

	mu     sync.Mutex
	pinned map[Kind]*Bitmap

	hits, misses, renders, evictions atomic.Uint64
}

func NewCache(renderer Renderer, cfg Config, metrics *obs.Metrics, log *zap.Logger) (*Cache, error) {
	if renderer == nil {
		return nil, errors.New("new marker cache: renderer is nil")
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l, err := lru.New[string, *Bitmap](capacity)
	if err != nil {
		return nil, fmt.Errorf("new marker cache: %w", err)
	}
	return &Cache{
		renderer: renderer,
		timeout:  cfg.RenderTimeout,
		metrics:  metrics,
		log:      logging.OrNop(log),
		lru:      l,
		pinned:   make(map[Kind]*Bitmap),
	}, nil
}

// Get returns the bitmap for kind and p, rendering it on a miss. A render
// failure is returned as *RenderError and nothing is cached; parameters out
// of bounds fail with ErrInvalidParams before any lookup.
func (c *Cache) Get(ctx context.Context, kind Kind, p Params) (*Bitmap, error) {
	key := Key(kind, p)
	if !kind.Valid() {
		return nil, &RenderError{Kind: kind, Key: key, Err: ErrUnknownKind}
	}
	if err := Validate(kind, p); err != nil {
		return nil, err
	}

	if b, ok := c.lookup(kind, key, true); ok {
		c.hits.Add(1)
		c.metrics.MarkerHit()
		return b, nil
	}
	c.misses.Add(1)
	c.metrics.MarkerMiss()

	v, err, _ := c.flight.Do(key, func() (any, error) {
		// A flight for this key may have finished between lookup and Do.
		if b, ok := c.lookup(kind, key, false); ok {
			return b, nil
		}
		b, err := c.render(ctx, kind, p, key)
		if err != nil {
			return nil, err
		}
		c.insert(b)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Bitmap), nil
}

// Evict drops the entry for kind and p, reporting whether it was present.
func (c *Cache) Evict(kind Kind, p Params) bool {
	key := Key(kind, p)
	if kind.Pinned() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if b, ok := c.pinned[kind]; ok && b.Key == key {
			delete(c.pinned, kind)
			return true
		}
		return false
	}
	return c.lru.Remove(key)
}

// Purge drops every entry, pinned ones included.
func (c *Cache) Purge() {
	c.lru.Purge()
	c.mu.Lock()
	c.pinned = make(map[Kind]*Bitmap)
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.Lock()
	n := len(c.pinned)
	c.mu.Unlock()
	return n + c.lru.Len()
}

// Contains reports whether the key is cached without touching recency.
func (c *Cache) Contains(kind Kind, p Params) bool {
	_, ok := c.lookup(kind, Key(kind, p), false)
	return ok
}

func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Renders:   c.renders.Load(),
		Evictions: c.evictions.Load(),
		Entries:   c.Len(),
	}
}

// Prewarm renders the common markers of the given palette.
func (c *Cache) Prewarm(ctx context.Context, dark bool) (err error) {
	defer obs.Time(ctx, "markers.Prewarm")(&err)

	var errs []error
	for _, s := range CommonSpecs(dark) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.Get(ctx, s.Kind, s.Params); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PrewarmAsync runs Prewarm in the background. The returned channel yields
// its result once and is then closed.
func (c *Cache) PrewarmAsync(ctx context.Context, dark bool) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		start := time.Now()
		err := c.Prewarm(ctx, dark)
		if err != nil {
			c.log.Warn("marker prewarm failed", zap.Error(err))
		} else {
			c.log.Info("marker prewarm complete",
				zap.Int("entries", c.Len()),
				zap.Duration("took", time.Since(start)),
			)
		}
		done <- err
	}()
	return done
}

func (c *Cache) lookup(kind Kind, key string, touch bool) (*Bitmap, bool) {
	if kind.Pinned() {
		c.mu.Lock()
		defer c.mu.Unlock()
		b, ok := c.pinned[kind]
		if !ok || b.Key != key {
			return nil, false
		}
		return b, true
	}
	if touch {
		return c.lru.Get(key)
	}
	return c.lru.Peek(key)
}

func (c *Cache) insert(b *Bitmap) {
	if b.Kind.Pinned() {
		c.mu.Lock()
		c.pinned[b.Kind] = b
		c.mu.Unlock()
		return
	}
	if evicted := c.lru.Add(b.Key, b); evicted {
		c.evictions.Add(1)
		c.metrics.MarkerEvicted()
	}
}

// render runs the renderer under the render timeout. The timeout is detached
// from the caller's cancellation because other callers may share the flight.
func (c *Cache) render(ctx context.Context, kind Kind, p Params, key string) (*Bitmap, error) {
	rctx := context.WithoutCancel(ctx)
	if c.timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(rctx, c.timeout)
		defer cancel()
	}

	type result struct {
		img *image.RGBA
		err error
	}
	ch := make(chan result, 1)
	c.renders.Add(1)
	go func() {
		img, err := c.renderer.Render(rctx, kind, p)
		ch <- result{img: img, err: err}
	}()

	var r result
	select {
	case r = <-ch:
	case <-rctx.Done():
		r.err = rctx.Err()
	}
	if r.err == nil && r.img == nil {
		r.err = errors.New("renderer returned no image")
	}
	c.metrics.MarkerRendered(string(kind), r.err)
	if r.err != nil {
		c.log.Warn("marker render failed", zap.String("key", key), zap.Error(r.err))
		return nil, &RenderError{Kind: kind, Key: key, Err: r.err}
	}
	return &Bitmap{Key: key, Kind: kind, Image: r.img}, nil
}
