package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/23skdu/attnscope/internal/catalog"
)

// OtherModel is the model label for ids outside the catalog. Model ids come
// from requests, so only catalog ids become label values.
const OtherModel = "other"

var (
	ArtifactLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attnscope_artifact_loads_total",
		Help: "Artifact loads by model and result (ok, not_found, error)",
	}, []string{"model", "result"})

	ArtifactLoadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "attnscope_artifact_load_duration_seconds",
		Help:    "Time to fetch and decode both artifacts of a model",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"model"})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attnscope_cache_hits_total",
		Help: "Store cache hits",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attnscope_cache_misses_total",
		Help: "Store cache misses",
	})

	CacheModels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "attnscope_cache_models",
		Help: "Models currently held in the store cache",
	})

	Extractions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attnscope_extractions_total",
		Help: "Attention extractions by model and result kind",
	}, []string{"model", "result"})

	ExtractionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "attnscope_extraction_duration_seconds",
		Help:    "Duration of a single extraction",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	})

	// DegenerateRows counts last-token rows that summed to zero and were
	// passed through unnormalized.
	DegenerateRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attnscope_degenerate_rows_total",
		Help: "Last-token attention rows with a non-positive sum",
	}, []string{"model"})

	TokenCount = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "attnscope_token_count",
		Help:    "Token count of extracted selections",
		Buckets: []float64{4, 8, 16, 32, 64, 128, 256, 512},
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attnscope_http_requests_total",
		Help: "HTTP API requests by endpoint and status code",
	}, []string{"endpoint", "code"})
)

func modelLabel(model string) string {
	if m, ok := catalog.LookupModel(model); ok {
		return m.ID
	}
	return OtherModel
}

func RecordLoad(model, result string, duration time.Duration) {
	model = modelLabel(model)
	ArtifactLoads.WithLabelValues(model, result).Inc()
	ArtifactLoadDuration.WithLabelValues(model).Observe(duration.Seconds())
}

func RecordCache(hit bool) {
	if hit {
		CacheHits.Inc()
		return
	}
	CacheMisses.Inc()
}

func RecordCacheSize(models int) {
	CacheModels.Set(float64(models))
}

func RecordExtraction(model, result string, tokens int, degenerate bool, duration time.Duration) {
	model = modelLabel(model)
	Extractions.WithLabelValues(model, result).Inc()
	ExtractionDuration.Observe(duration.Seconds())
	if result != "ok" {
		return
	}
	TokenCount.Observe(float64(tokens))
	if degenerate {
		DegenerateRows.WithLabelValues(model).Inc()
	}
}

func RecordHTTP(endpoint string, code string) {
	HTTPRequests.WithLabelValues(endpoint, code).Inc()
}
