// Package metrics holds the Prometheus collectors for the catalog cache.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brickcache_cache_hits_total",
		Help: "Metadata store reads served from the memory cache.",
	}, []string{"kind"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brickcache_cache_misses_total",
		Help: "Metadata store reads that fell through to durable storage.",
	}, []string{"kind"})

	CacheMalformed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brickcache_cache_malformed_total",
		Help: "Cached records rejected because they failed structural checks.",
	})

	RefreshItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brickcache_refresh_items_total",
		Help: "Price records processed by the batch refresher, by result.",
	}, []string{"result"})

	ExternalFetch = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "brickcache_external_fetch_seconds",
		Help:    "Latency of requests to the external catalogs.",
		Buckets: prometheus.DefBuckets,
	}, []string{"catalog", "status"})
)
