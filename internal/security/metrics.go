package security

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// StoreLatency records StoreGateway read/write/transaction latency.
	StoreLatency *prometheus.HistogramVec

	// StoreRetriesTotal counts retry attempts taken by the StoreGateway.
	StoreRetriesTotal *prometheus.CounterVec

	// SearchFusionLatency records HybridSearchEngine fusion latency.
	SearchFusionLatency prometheus.Histogram

	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// StorePoolOpenConnections tracks the number of currently open graph-store connections.
	StorePoolOpenConnections prometheus.Gauge

	// StorePoolMaxConnections tracks the configured maximum graph-store connections.
	StorePoolMaxConnections prometheus.Gauge
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseMetricsLabels parses a comma-separated list of key=value pairs into
// Prometheus labels. Values support ${VAR} / $VAR environment variable expansion.
// Label values may not contain commas. Returns nil for an empty string.
func ParseMetricsLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		k, v := pair[:idx], pair[idx+1:]
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

var initMetricsOnce sync.Once

// InitMetrics registers all Prometheus metrics with the given constant labels.
// Must be called before starting the HTTP server or any store/cache initialization
// that records metrics. Safe to call multiple times; only the first call registers.
func InitMetrics(constLabels prometheus.Labels) {
	initMetricsOnce.Do(func() {
		initMetricsInner(constLabels)
	})
}

func initMetricsInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memforge_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memforge_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	StoreLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memforge_store_latency_seconds",
			Help:    "StoreGateway operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StoreRetriesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memforge_store_retries_total",
			Help: "StoreGateway retry attempts by operation and reason",
		},
		[]string{"operation", "reason"},
	)

	SearchFusionLatency = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "memforge_search_fusion_latency_seconds",
		Help:    "HybridSearchEngine RRF fusion latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	CacheHitsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "memforge_cache_hits_total",
		Help: "Total cache hits",
	})

	CacheMissesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "memforge_cache_misses_total",
		Help: "Total cache misses",
	})

	StorePoolOpenConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "memforge_store_pool_open_connections",
		Help: "Number of open graph-store connections",
	})

	StorePoolMaxConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "memforge_store_pool_max_connections",
		Help: "Maximum number of graph-store connections",
	})
}

// MetricsMiddleware records HTTP request metrics for Prometheus.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if httpRequestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		httpRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method).Observe(duration.Seconds())
	}
}
