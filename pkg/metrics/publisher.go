package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mattsp1290/circuitry/pkg/rolling"
)

// PrometheusPublisher polls a CommandMetrics' read-only accessors on each
// Collect call and exposes them as Prometheus metrics, the way an
// out-of-process scraper would — it never pushes, and touches no internal
// state beyond the Get* accessors CommandMetrics already exports.
type PrometheusPublisher struct {
	commandKey string
	metrics    *CommandMetrics

	rollingSum      *prometheus.Desc
	executionP50    *prometheus.Desc
	executionP99    *prometheus.Desc
	totalP99        *prometheus.Desc
	concurrentExecs *prometheus.Desc
}

// NewPrometheusPublisher creates a publisher for one CommandKey's
// CommandMetrics. Register it into a prometheus.Registerer to start being
// scraped.
func NewPrometheusPublisher(commandKey string, m *CommandMetrics) *PrometheusPublisher {
	constLabels := prometheus.Labels{"command_key": commandKey}
	return &PrometheusPublisher{
		commandKey: commandKey,
		metrics:    m,
		rollingSum: prometheus.NewDesc(
			"circuitry_command_rolling_sum",
			"Rolling-window event count, by event type.",
			[]string{"event"}, constLabels,
		),
		executionP50: prometheus.NewDesc(
			"circuitry_command_execution_latency_p50_ms",
			"50th percentile of recent run() execution latency, in milliseconds.",
			nil, constLabels,
		),
		executionP99: prometheus.NewDesc(
			"circuitry_command_execution_latency_p99_ms",
			"99th percentile of recent run() execution latency, in milliseconds.",
			nil, constLabels,
		),
		totalP99: prometheus.NewDesc(
			"circuitry_command_total_latency_p99_ms",
			"99th percentile of recent START-to-terminal latency, in milliseconds.",
			nil, constLabels,
		),
		concurrentExecs: prometheus.NewDesc(
			"circuitry_command_concurrent_executions",
			"Number of invocations currently in flight.",
			nil, constLabels,
		),
	}
}

// publishedEvents is the subset of EventType worth exposing per-event;
// latency is covered separately by the percentile gauges below.
var publishedEvents = []rolling.EventType{
	rolling.Success,
	rolling.Failure,
	rolling.Timeout,
	rolling.ShortCircuited,
	rolling.ThreadPoolRejected,
	rolling.SemaphoreRejected,
	rolling.FallbackSuccess,
	rolling.FallbackFailure,
	rolling.FallbackRejection,
	rolling.ResponseFromCache,
}

// Describe implements prometheus.Collector.
func (p *PrometheusPublisher) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.rollingSum
	ch <- p.executionP50
	ch <- p.executionP99
	ch <- p.totalP99
	ch <- p.concurrentExecs
}

// Collect implements prometheus.Collector, reading CommandMetrics' current
// values at scrape time.
func (p *PrometheusPublisher) Collect(ch chan<- prometheus.Metric) {
	for _, ev := range publishedEvents {
		ch <- prometheus.MustNewConstMetric(
			p.rollingSum, prometheus.CounterValue,
			float64(p.metrics.GetRollingSum(ev)), ev.String(),
		)
	}
	ch <- prometheus.MustNewConstMetric(p.executionP50, prometheus.GaugeValue, float64(p.metrics.GetExecutionLatencyPercentile(50)))
	ch <- prometheus.MustNewConstMetric(p.executionP99, prometheus.GaugeValue, float64(p.metrics.GetExecutionLatencyPercentile(99)))
	ch <- prometheus.MustNewConstMetric(p.totalP99, prometheus.GaugeValue, float64(p.metrics.GetTotalLatencyPercentile(99)))
	ch <- prometheus.MustNewConstMetric(p.concurrentExecs, prometheus.GaugeValue, float64(p.metrics.CurrentConcurrentExecutionCount()))
}
