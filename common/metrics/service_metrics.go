// Package metrics exposes the Prometheus counters and gauges moved by the
// allocator, VFS core, write cache, and sample store.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pvfs"

var (
	registerOnce sync.Once

	// BlocksAllocatedTotal counts every block handed out by the allocator,
	// labelled by block type (data, tree, file).
	BlocksAllocatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "blocks_allocated_total",
			Help:      "Total blocks allocated from the host file, by block type",
		},
		[]string{"block_type"},
	)

	// InnerFilesOpenGauge tracks currently-open inner-file handles.
	InnerFilesOpenGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "inner_files_open",
			Help:      "Number of inner files currently open for read or write",
		},
	)

	// WriteCacheFlushTotal counts completed background flushes.
	WriteCacheFlushTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "write_cache",
			Name:      "flush_total",
			Help:      "Total write-cache flushes, by outcome (success, error)",
		},
		[]string{"outcome"},
	)

	// WriteCacheFlushBytes sums bytes handed to the host file per flush.
	WriteCacheFlushBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "write_cache",
			Name:      "flush_bytes_total",
			Help:      "Total bytes flushed from write caches to inner files",
		},
	)

	// WriteCacheFlushLatency observes flush duration.
	WriteCacheFlushLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "write_cache",
			Name:      "flush_latency_seconds",
			Help:      "Latency of a single write-cache background flush",
		},
	)

	// WriteCacheBackpressureWaitsTotal counts AddValue callers that had to
	// Wait() for the other buffer to drain.
	WriteCacheBackpressureWaitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "write_cache",
			Name:      "backpressure_waits_total",
			Help:      "Total times a caller blocked on a full write cache",
		},
	)

	// SampleAppendsTotal counts successful Store.Append calls.
	SampleAppendsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sample",
			Name:      "appends_total",
			Help:      "Total samples appended to the store",
		},
	)

	// SampleAppendsDroppedTotal counts appends rejected for being
	// out of order or otherwise invalid.
	SampleAppendsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sample",
			Name:      "appends_dropped_total",
			Help:      "Total samples rejected by the store",
		},
	)

	// CRCMismatchTotal counts corrupted chunks/index records detected on
	// read.
	CRCMismatchTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sample",
			Name:      "crc_mismatch_total",
			Help:      "Total CRC32 mismatches detected while reading the sample store",
		},
	)
)

// RegisterWith registers every metric against registerer, once per process.
func RegisterWith(registerer prometheus.Registerer) {
	registerOnce.Do(func() {
		registerer.MustRegister(BlocksAllocatedTotal)
		registerer.MustRegister(InnerFilesOpenGauge)
		registerer.MustRegister(WriteCacheFlushTotal)
		registerer.MustRegister(WriteCacheFlushBytes)
		registerer.MustRegister(WriteCacheFlushLatency)
		registerer.MustRegister(WriteCacheBackpressureWaitsTotal)
		registerer.MustRegister(SampleAppendsTotal)
		registerer.MustRegister(SampleAppendsDroppedTotal)
		registerer.MustRegister(CRCMismatchTotal)
	})
}

// Register registers every metric against registry, once per process.
func Register(registry *prometheus.Registry) {
	RegisterWith(registry)
}
