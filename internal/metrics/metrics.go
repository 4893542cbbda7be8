// Package metrics exports cache statistics and read outcomes to Prometheus.
//
// Metrics are optional. Until InitRegistry is called every function here is
// a no-op, so the reader runs the same with or without an exporter.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robert-malhotra/h5coro/internal/cache"
	"github.com/robert-malhotra/h5coro/internal/h5err"
)

const namespace = "h5coro"

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
	files        *fileCollector
	reads        *readMetrics
)

// InitRegistry creates the process registry. Later calls do nothing.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		files = newFileCollector()
		reg.MustRegister(files)
		reads = newReadMetrics(reg)
		registry = reg
	})
}

// GetRegistry returns the registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	reg := GetRegistry()
	if reg == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// StatsFunc snapshots one open file's cache.
type StatsFunc func() (cache.Stats, cache.Usage)

// Track exports the cache of an open file under the label id until the
// returned function is called.
func Track(id string, fn StatsFunc) (untrack func()) {
	if !IsEnabled() {
		return func() {}
	}
	files.add(id, fn)
	return func() { files.remove(id) }
}

// ObserveRead records one dataset or attribute read. op is "read",
// "attribute" or "parallel".
func ObserveRead(op string, d time.Duration, n int, err error) {
	if !IsEnabled() {
		return
	}
	reads.observe(op, d, n, err)
}

// fileCollector turns the cache snapshots of open files into const
// metrics at scrape time.
type fileCollector struct {
	mu    sync.Mutex
	stats map[string]StatsFunc

	counters []*prometheus.Desc
	gauges   []*prometheus.Desc
}

func newFileCollector() *fileCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", name), help, []string{"file"}, nil)
	}
	return &fileCollector{
		stats: make(map[string]StatsFunc),
		counters: []*prometheus.Desc{
			desc("pre_prefetch_requests_total", "Prefetch requests queued."),
			desc("post_prefetch_requests_total", "Prefetch requests completed."),
			desc("misses_total", "Demand reads that needed an underlying fetch."),
			desc("l1_replacements_total", "Slots demoted from L1."),
			desc("l2_replacements_total", "Slots evicted from L2."),
			desc("read_bytes_total", "Bytes returned by the byte source."),
		},
		gauges: []*prometheus.Desc{
			desc("l1_slots", "Slots held in L1."),
			desc("l1_bytes", "Bytes held in L1."),
			desc("l2_slots", "Slots held in L2."),
			desc("l2_bytes", "Bytes held in L2."),
		},
	}
}

func (c *fileCollector) add(id string, fn StatsFunc) {
	c.mu.Lock()
	c.stats[id] = fn
	c.mu.Unlock()
}

func (c *fileCollector) remove(id string) {
	c.mu.Lock()
	delete(c.stats, id)
	c.mu.Unlock()
}

func (c *fileCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.counters {
		ch <- d
	}
	for _, d := range c.gauges {
		ch <- d
	}
}

func (c *fileCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	snap := make(map[string]StatsFunc, len(c.stats))
	for id, fn := range c.stats {
		snap[id] = fn
	}
	c.mu.Unlock()

	for id, fn := range snap {
		st, u := fn()
		counts := []uint64{st.PrePrefetchRequest, st.PostPrefetchRequest, st.CacheMiss,
			st.L1CacheReplace, st.L2CacheReplace, st.BytesRead}
		for i, v := range counts {
			ch <- prometheus.MustNewConstMetric(c.counters[i], prometheus.CounterValue, float64(v), id)
		}
		levels := []float64{float64(u.L1Slots), float64(u.L1Bytes), float64(u.L2Slots), float64(u.L2Bytes)}
		for i, v := range levels {
			ch <- prometheus.MustNewConstMetric(c.gauges[i], prometheus.GaugeValue, v, id)
		}
	}
}

type readMetrics struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	bytes    *prometheus.CounterVec
}

func newReadMetrics(reg prometheus.Registerer) *readMetrics {
	return &readMetrics{
		total: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reads_total",
				Help:      "Reads by operation and outcome. Failed reads are labeled with their error kind.",
			},
			[]string{"op", "status"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "read_duration_seconds",
				Help:      "Duration of reads in seconds.",
				Buckets:   []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"op"},
		),
		bytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "read_result_bytes_total",
				Help:      "Bytes of decoded data returned to callers.",
			},
			[]string{"op"},
		),
	}
}

func (m *readMetrics) observe(op string, d time.Duration, n int, err error) {
	status := "ok"
	if err != nil {
		status = h5err.Kind(err)
	}
	m.total.WithLabelValues(op, status).Inc()
	m.duration.WithLabelValues(op).Observe(d.Seconds())
	if err == nil && n > 0 {
		m.bytes.WithLabelValues(op).Add(float64(n))
	}
}
