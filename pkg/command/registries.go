package command

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mattsp1290/circuitry/pkg/breaker"
	"github.com/mattsp1290/circuitry/pkg/clock"
	"github.com/mattsp1290/circuitry/pkg/config"
	"github.com/mattsp1290/circuitry/pkg/isolation"
	"github.com/mattsp1290/circuitry/pkg/metrics"
	"github.com/mattsp1290/circuitry/pkg/registry"
)

// Process-wide singleton registries: one CommandMetrics, one CircuitBreaker,
// and one pair of execution/fallback semaphores per CommandKey, one
// IsolationPool per PoolKey, each created on first reference and shared by
// every subsequent Command built against that key. The get-or-insert shape
// is Registry.GetOrCreate; in a construction race only the winner builds an
// instance, and the loser waits for it and returns that instance.
//
// A singleton's constructor closure runs exactly once, so any property that
// must stay dynamic across the singleton's lifetime (force-open/closed, the
// error/volume thresholds, the sleep window, the rejection threshold, the
// semaphore capacities) is read through a closure over the PropertyTable and
// CommandKey rather than a Properties value captured at construction.
var (
	defaultMetricsRegistry            = registry.New[string, *metrics.CommandMetrics]()
	defaultBreakerRegistry            = registry.New[string, *breaker.CircuitBreaker]()
	defaultPoolRegistry               = registry.New[string, *isolation.IsolationPool]()
	defaultExecutionSemaphoreRegistry = registry.New[string, *isolation.TryableSemaphore]()
	defaultFallbackSemaphoreRegistry  = registry.New[string, *isolation.TryableSemaphore]()
)

func commandMetricsFor(commandKey string, props config.Properties, notifier metrics.EventNotifier, c clock.Clock) *metrics.CommandMetrics {
	return defaultMetricsRegistry.GetOrCreate(commandKey, func() *metrics.CommandMetrics {
		opts := []metrics.Option{metrics.WithClock(c)}
		if notifier != nil {
			opts = append(opts, metrics.WithNotifier(notifier))
		}
		return metrics.NewCommandMetrics(commandKey, props, opts...)
	})
}

func circuitBreakerFor(commandKey string, table *config.PropertyTable, m *metrics.CommandMetrics, c clock.Clock) *breaker.CircuitBreaker {
	return defaultBreakerRegistry.GetOrCreate(commandKey, func() *breaker.CircuitBreaker {
		live := func() config.Properties { return table.Current(commandKey) }
		return breaker.New(live, m, breaker.WithClock(c))
	})
}

func isolationPoolFor(poolKey, commandKey string, props config.Properties, table *config.PropertyTable) *isolation.IsolationPool {
	return defaultPoolRegistry.GetOrCreate(poolKey, func() *isolation.IsolationPool {
		rejectionThreshold := func() int { return table.Current(commandKey).PoolQueueSizeRejectionThreshold }
		return isolation.NewIsolationPool(props.PoolCoreSize, props.PoolMaxQueueSize, rejectionThreshold)
	})
}

func executionSemaphoreFor(commandKey string, table *config.PropertyTable) *isolation.TryableSemaphore {
	return defaultExecutionSemaphoreRegistry.GetOrCreate(commandKey, func() *isolation.TryableSemaphore {
		return isolation.NewTryableSemaphore(func() int {
			return table.Current(commandKey).ExecutionIsolationSemaphoreMaxConcurrentRequests
		})
	})
}

func fallbackSemaphoreFor(commandKey string, table *config.PropertyTable) *isolation.TryableSemaphore {
	return defaultFallbackSemaphoreRegistry.GetOrCreate(commandKey, func() *isolation.TryableSemaphore {
		return isolation.NewTryableSemaphore(func() int {
			return table.Current(commandKey).FallbackIsolationSemaphoreMaxConcurrentRequests
		})
	})
}

// tracerFor resolves a Tracer from provider (or the process-wide global
// provider, which is a no-op until an application installs a real SDK
// provider via otel.SetTracerProvider).
func tracerFor(provider trace.TracerProvider, groupKey string) trace.Tracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return provider.Tracer("circuitry/" + groupKey)
}

var defaultLogger = zap.NewNop()
