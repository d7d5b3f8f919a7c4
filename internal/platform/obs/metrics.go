package obs

import (
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the Prometheus collectors of the route pipeline. All helper
// methods are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	gatherer prometheus.Gatherer

	MarkerHits      prometheus.Counter
	MarkerMisses    prometheus.Counter
	MarkerRenders   *prometheus.CounterVec
	MarkerEvictions prometheus.Counter

	OptimizeRequests *prometheus.CounterVec
	StaleDiscards    prometheus.Counter
	ProviderLatency  *prometheus.HistogramVec
	OpDurations      *prometheus.HistogramVec
}

var defaultMetrics atomic.Pointer[Metrics]

// SetDefault installs m as the process metrics used by Time.
func SetDefault(m *Metrics) { defaultMetrics.Store(m) }

// Default returns the metrics installed with SetDefault, or nil.
func Default() *Metrics { return defaultMetrics.Load() }

// NewMetrics registers the pipeline metrics against reg, defaulting to the
// global Prometheus registry when nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	hits, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marker_cache_hits_total",
		Help: "Marker bitmap cache lookups served from memory.",
	}))
	if err != nil {
		return nil, err
	}
	misses, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marker_cache_misses_total",
		Help: "Marker bitmap cache lookups that required a render.",
	}))
	if err != nil {
		return nil, err
	}
	renders, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marker_renders_total",
		Help: "Marker bitmap renders, labeled by marker kind and outcome.",
	}, []string{"kind", "outcome"}))
	if err != nil {
		return nil, err
	}
	evictions, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marker_cache_evictions_total",
		Help: "Marker bitmaps evicted by LRU pressure.",
	}))
	if err != nil {
		return nil, err
	}
	optimize, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "route_optimize_requests_total",
		Help: "Route optimization requests, labeled by outcome (applied, stale, empty, error).",
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}
	stale, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "route_stale_results_total",
		Help: "Optimization results discarded because the day generation advanced.",
	}))
	if err != nil {
		return nil, err
	}
	provider, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "directions_provider_duration_seconds",
		Help:    "Latency of directions and geocoding provider calls.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint", "outcome"}))
	if err != nil {
		return nil, err
	}
	ops, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "operation_duration_seconds",
		Help:    "Duration of timed internal operations.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	}, []string{"op", "outcome"}))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		gatherer:         gatherer,
		MarkerHits:       hits,
		MarkerMisses:     misses,
		MarkerRenders:    renders,
		MarkerEvictions:  evictions,
		OptimizeRequests: optimize,
		StaleDiscards:    stale,
		ProviderLatency:  provider,
		OpDurations:      ops,
	}, nil
}

// Handler exposes the gatherer backing these metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) MarkerHit() {
	if m != nil {
		m.MarkerHits.Inc()
	}
}

func (m *Metrics) MarkerMiss() {
	if m != nil {
		m.MarkerMisses.Inc()
	}
}

func (m *Metrics) MarkerRendered(kind string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.MarkerRenders.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) MarkerEvicted() {
	if m != nil {
		m.MarkerEvictions.Inc()
	}
}

func (m *Metrics) Optimized(outcome string) {
	if m == nil {
		return
	}
	m.OptimizeRequests.WithLabelValues(outcome).Inc()
	if outcome == "stale" {
		m.StaleDiscards.Inc()
	}
}

func (m *Metrics) ProviderCall(endpoint string, seconds float64, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ProviderLatency.WithLabelValues(endpoint, outcome).Observe(seconds)
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("register counter: %w", err)
	}
	return c, nil
}

func registerCounterVec(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("register counter vec: %w", err)
	}
	return c, nil
}

func registerHistogramVec(reg prometheus.Registerer, h *prometheus.HistogramVec) (*prometheus.HistogramVec, error) {
	if err := reg.Register(h); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("register histogram vec: %w", err)
	}
	return h, nil
}
