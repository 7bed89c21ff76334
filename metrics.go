package geosample

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	projectorCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geosample_projector_cache_hits_total",
		Help: "The total number of hits on the projector cache",
	})
	projectorCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geosample_projector_cache_misses_total",
		Help: "The total number of misses on the projector cache",
	})
	projectorCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geosample_projector_cache_evictions_total",
		Help: "The total number of evictions from the projector cache",
	})
	gridCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geosample_grid_cache_hits_total",
		Help: "The total number of hits on the grid cache",
	})
	gridCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geosample_grid_cache_misses_total",
		Help: "The total number of misses on the grid cache",
	})
	decodes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geosample_decodes_total",
		Help: "The total number of raster decodes by result",
	}, []string{"result"})
	extractedPoints = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geosample_extracted_points_total",
		Help: "The total number of points extracted by result",
	}, []string{"result"})
)

// extractResultLabel returns the metric label for result.
func extractResultLabel(result SampleResult) string {
	switch {
	case result.OK:
		return "ok"
	case errors.Is(result.Err, ErrOutside):
		return "outside"
	case errors.Is(result.Err, ErrNoData):
		return "nodata"
	default:
		return "projection"
	}
}
