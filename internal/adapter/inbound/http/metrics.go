package http

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zapgate/zapgate/internal/cache"
)

// Metrics holds all Prometheus metrics for the gateway.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ProxyFailures   *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "zapgate",
				Name:      "requests_total",
				Help:      "Total requests processed, by route prefix and HTTP status",
			},
			[]string{"route", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "zapgate",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		ProxyFailures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "zapgate",
				Name:      "proxy_failures_total",
				Help:      "Classified proxy failures, by error kind",
			},
			[]string{"kind"},
		),
	}
}

// RegisterActiveImpersonations exposes the count of active impersonation
// records as a gauge read from the authoritative store on scrape.
// Impersonations end on several paths (explicit end, operator logout,
// session revocation, max-duration expiry); reading the store is the only
// accounting that stays right across all of them.
func RegisterActiveImpersonations(reg prometheus.Registerer, count func(context.Context) (int, error)) {
	promauto.With(reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "zapgate",
			Name:      "active_impersonations",
			Help:      "Number of currently active impersonation sessions",
		},
		func() float64 {
			n, err := count(context.Background())
			if err != nil {
				return 0
			}
			return float64(n)
		},
	)
}

// RegisterIdentityCache exposes the resolution cache counters. The cache
// keeps its own counts; CounterFuncs read them on scrape instead of
// double-counting on the request path.
func RegisterIdentityCache(reg prometheus.Registerer, stats func() cache.Stats) {
	promauto.With(reg).NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: "zapgate",
			Name:      "identity_cache_hits_total",
			Help:      "Session resolution cache hits",
		},
		func() float64 { return float64(stats().Hits) },
	)
	promauto.With(reg).NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: "zapgate",
			Name:      "identity_cache_misses_total",
			Help:      "Session resolution cache misses",
		},
		func() float64 { return float64(stats().Misses) },
	)
	promauto.With(reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "zapgate",
			Name:      "identity_cache_entries",
			Help:      "Sessions currently memoized",
		},
		func() float64 { return float64(stats().Entries) },
	)
}
