package lsm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine-level metrics. Registered once on the default registry; the
// tree and its validator stay instrumentation-free by design, all
// observability lives at this layer.
var (
	putTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "madrone_put_total",
		Help: "Total put operations",
	})

	getTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "madrone_get_total",
		Help: "Total get operations by result",
	}, []string{"result"})

	deleteTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "madrone_delete_total",
		Help: "Total delete operations",
	})

	flushTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "madrone_memtable_flush_total",
		Help: "Total MemTable flushes to disk",
	})

	compactionTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "madrone_compaction_total",
		Help: "Total compaction runs",
	})

	compactionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "madrone_compaction_duration_seconds",
		Help:    "Compaction duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	})

	bloomSkipTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "madrone_bloom_skip_total",
		Help: "SSTable reads skipped by the Bloom filter",
	})
)
