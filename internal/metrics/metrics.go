package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spreadview",
			Name:      "cache_lookups_total",
			Help:      "Render cache lookups by result (hit, miss)",
		},
		[]string{"result"},
	)

	cacheEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "spreadview",
			Name:      "cache_evictions_total",
			Help:      "Entries removed by the distance pruning pass",
		},
	)

	cacheClears = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spreadview",
			Name:      "cache_clears_total",
			Help:      "Whole-cache invalidations by reason",
		},
		[]string{"reason"},
	)

	cacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "spreadview",
			Name:      "cache_entries",
			Help:      "Entries currently held by the render cache",
		},
	)

	renderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "spreadview",
			Name:      "page_render_duration_seconds",
			Help:      "Time spent rasterizing a page by source (fitz, store, blank)",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	renderErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "spreadview",
			Name:      "page_render_errors_total",
			Help:      "Pages that degraded to an empty raster",
		},
	)

	filterLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "spreadview",
			Name:      "filter_duration_seconds",
			Help:      "Raster post-processing time by backend",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	shaderErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spreadview",
			Name:      "shader_errors_total",
			Help:      "Shader filter failures by filter and stage",
		},
		[]string{"filter", "stage"},
	)

	prefetchRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "spreadview",
			Name:      "prefetch_runs_total",
			Help:      "Prefetch timer firings",
		},
	)

	prefetchPages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "spreadview",
			Name:      "prefetch_pages_total",
			Help:      "Pages filled into the cache by prefetch",
		},
	)

	storeLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spreadview",
			Name:      "store_lookups_total",
			Help:      "Shared raster store lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)
)

var registerOnce sync.Once

// Init registers collectors. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(cacheLookups, cacheEvictions, cacheClears, cacheEntries,
			renderLatency, renderErrors, filterLatency, shaderErrors,
			prefetchRuns, prefetchPages, storeLookups)
	})
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func CacheHit()                  { cacheLookups.WithLabelValues("hit").Inc() }
func CacheMiss()                 { cacheLookups.WithLabelValues("miss").Inc() }
func CacheEvicted(n int)         { cacheEvictions.Add(float64(n)) }
func CacheCleared(reason string) { cacheClears.WithLabelValues(reason).Inc() }
func SetCacheEntries(n int)      { cacheEntries.Set(float64(n)) }

func ObserveRender(source string, dur time.Duration) {
	renderLatency.WithLabelValues(source).Observe(dur.Seconds())
}

func IncRenderError() { renderErrors.Inc() }

func ObserveFilter(backend string, dur time.Duration) {
	filterLatency.WithLabelValues(backend).Observe(dur.Seconds())
}

func IncShaderError(filter, stage string) { shaderErrors.WithLabelValues(filter, stage).Inc() }

func IncPrefetchRun()        { prefetchRuns.Inc() }
func AddPrefetchPages(n int) { prefetchPages.Add(float64(n)) }

func StoreLookup(result string) { storeLookups.WithLabelValues(result).Inc() }
