package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mattsp1290/circuitry/pkg/isolation"
)

// PoolPrometheusPublisher mirrors PrometheusPublisher for an IsolationPool,
// exposing the same ThreadPoolMetrics-shaped accessors a dashboard proxy
// would poll: active count, pool size, queue size, and the dynamic
// rejection threshold.
type PoolPrometheusPublisher struct {
	pool *isolation.IsolationPool

	active    *prometheus.Desc
	poolSize  *prometheus.Desc
	queueSize *prometheus.Desc
	threshold *prometheus.Desc
}

// NewPoolPrometheusPublisher creates a publisher for one PoolKey's
// IsolationPool.
func NewPoolPrometheusPublisher(poolKey string, p *isolation.IsolationPool) *PoolPrometheusPublisher {
	constLabels := prometheus.Labels{"pool_key": poolKey}
	return &PoolPrometheusPublisher{
		pool: p,
		active: prometheus.NewDesc(
			"circuitry_pool_active_count", "Tasks currently executing.", nil, constLabels,
		),
		poolSize: prometheus.NewDesc(
			"circuitry_pool_size", "Fixed number of worker goroutines.", nil, constLabels,
		),
		queueSize: prometheus.NewDesc(
			"circuitry_pool_queue_size", "Tasks queued but not yet dequeued.", nil, constLabels,
		),
		threshold: prometheus.NewDesc(
			"circuitry_pool_queue_rejection_threshold", "Current dynamic admission threshold.", nil, constLabels,
		),
	}
}

// Describe implements prometheus.Collector.
func (p *PoolPrometheusPublisher) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.active
	ch <- p.poolSize
	ch <- p.queueSize
	ch <- p.threshold
}

// Collect implements prometheus.Collector.
func (p *PoolPrometheusPublisher) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(p.active, prometheus.GaugeValue, float64(p.pool.CurrentActiveCount()))
	ch <- prometheus.MustNewConstMetric(p.poolSize, prometheus.GaugeValue, float64(p.pool.CurrentPoolSize()))
	ch <- prometheus.MustNewConstMetric(p.queueSize, prometheus.GaugeValue, float64(p.pool.CurrentQueueSize()))
	ch <- prometheus.MustNewConstMetric(p.threshold, prometheus.GaugeValue, float64(p.pool.CurrentQueueSizeRejectionThreshold()))
}
