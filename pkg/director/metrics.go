package director

import (
	"io"

	"github.com/VictoriaMetrics/metrics"
)

var (
	characterCacheHits   = metrics.NewCounter(`chatstore_cache_hits_total{cache="character"}`)
	characterCacheMisses = metrics.NewCounter(`chatstore_cache_misses_total{cache="character"}`)
	voiceCacheHits       = metrics.NewCounter(`chatstore_cache_hits_total{cache="voice"}`)
	voiceCacheMisses     = metrics.NewCounter(`chatstore_cache_misses_total{cache="voice"}`)

	backgroundSucceeded = metrics.NewCounter(`chatstore_background_jobs_total{status="ok"}`)
	backgroundFailed    = metrics.NewCounter(`chatstore_background_jobs_total{status="failed"}`)
	backgroundDropped   = metrics.NewCounter(`chatstore_background_jobs_total{status="dropped"}`)
)

// WriteMetrics writes the cache and background counters in Prometheus text
// format.
func (d *Director) WriteMetrics(w io.Writer) {
	metrics.WritePrometheus(w, false)
}
