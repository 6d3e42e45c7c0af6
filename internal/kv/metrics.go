package kv

import "github.com/prometheus/client_golang/prometheus"

// metricsSink abstracts the engine's counters and the sync-duration
// histogram over Prometheus vs. a no-op, grounded on the same split
// Voskan-arena-cache/pkg/metrics.go uses so the hot path never pays for
// metric bookkeeping when no registry was configured.
type metricsSink interface {
	incSets(n int)
	incGets(n int)
	incRemoves(n int)
	incSync()
	observeSyncDuration(seconds float64)
	incRecovery()
	incChecksumMismatch()
	incCacheHit()
	incCacheMiss()
}

type noopMetrics struct{}

func (noopMetrics) incSets(int)                 {}
func (noopMetrics) incGets(int)                 {}
func (noopMetrics) incRemoves(int)              {}
func (noopMetrics) incSync()                    {}
func (noopMetrics) observeSyncDuration(float64) {}
func (noopMetrics) incRecovery()                {}
func (noopMetrics) incChecksumMismatch()        {}
func (noopMetrics) incCacheHit()                {}
func (noopMetrics) incCacheMiss()               {}

type promMetrics struct {
	sets               prometheus.Counter
	gets               prometheus.Counter
	removes            prometheus.Counter
	syncs              prometheus.Counter
	recoveries         prometheus.Counter
	checksumMismatches prometheus.Counter
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	syncDuration       prometheus.Histogram
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
	m := &promMetrics{
		sets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simplekv_sets_total", Help: "Number of key/value pairs staged via Set.",
		}),
		gets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simplekv_gets_total", Help: "Number of keys looked up via Get.",
		}),
		removes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simplekv_removes_total", Help: "Number of keys removed via Remove.",
		}),
		syncs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simplekv_sync_total", Help: "Number of completed Sync calls.",
		}),
		recoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simplekv_recoveries_total", Help: "Number of shard parity-recovery attempts.",
		}),
		checksumMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simplekv_checksum_mismatches_total", Help: "Number of detected shard checksum mismatches.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simplekv_cache_hits_total", Help: "Number of read-through cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simplekv_cache_misses_total", Help: "Number of read-through cache misses.",
		}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "simplekv_sync_duration_seconds", Help: "Duration of Sync calls.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.sets, m.gets, m.removes, m.syncs, m.recoveries,
		m.checksumMismatches, m.cacheHits, m.cacheMisses, m.syncDuration)
	return m
}

func (m *promMetrics) incSets(n int)    { m.sets.Add(float64(n)) }
func (m *promMetrics) incGets(n int)    { m.gets.Add(float64(n)) }
func (m *promMetrics) incRemoves(n int) { m.removes.Add(float64(n)) }
func (m *promMetrics) incSync()         { m.syncs.Inc() }
func (m *promMetrics) observeSyncDuration(seconds float64) {
	m.syncDuration.Observe(seconds)
}
func (m *promMetrics) incRecovery()         { m.recoveries.Inc() }
func (m *promMetrics) incChecksumMismatch() { m.checksumMismatches.Inc() }
func (m *promMetrics) incCacheHit()         { m.cacheHits.Inc() }
func (m *promMetrics) incCacheMiss()        { m.cacheMisses.Inc() }

// newMetricsSink picks the implementation based on whether a registry was
// configured. Caller passes nil for a no-op sink.
func newMetricsSink(reg *prometheus.Registry) metricsSink {
	if reg == nil {
		return noopMetrics{}
	}
	return newPromMetrics(reg)
}
