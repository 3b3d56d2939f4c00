package command

import (
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mattsp1290/circuitry/pkg/clock"
	"github.com/mattsp1290/circuitry/pkg/config"
	"github.com/mattsp1290/circuitry/pkg/metrics"
)

// Builder constructs a Command, resolving its Properties through
// config.DefaultPropertyTable (or an explicitly supplied PropertyTable) and
// wiring it to the process-wide CommandMetrics/CircuitBreaker/IsolationPool
// singletons for its keys.
type Builder struct {
	groupKey   string
	commandKey string
	poolKey    string

	propertyTable *config.PropertyTable
	propertyOpts  []config.Option

	run      RunFunc
	fallback FallbackFunc
	cacheKey CacheKeyFunc
	hooks    *Hooks
	notifier metrics.EventNotifier

	tracerProvider trace.TracerProvider
	logger         *zap.Logger
	clock          clock.Clock
}

// NewBuilder starts a Builder for one GroupKey/CommandKey pair. PoolKey
// defaults to groupKey unless overridden with WithPoolKey.
func NewBuilder(groupKey, commandKey string) *Builder {
	return &Builder{
		groupKey:      groupKey,
		commandKey:    commandKey,
		poolKey:       groupKey,
		propertyTable: config.DefaultPropertyTable,
		fallback:      defaultFallback,
		cacheKey:      defaultCacheKey,
	}
}

// WithPoolKey overrides the IsolationPool key; by default it is the GroupKey.
func (b *Builder) WithPoolKey(poolKey string) *Builder {
	b.poolKey = poolKey
	return b
}

// WithPropertyTable supplies a non-default PropertyTable, e.g. a
// process-isolated table for tests.
func (b *Builder) WithPropertyTable(t *config.PropertyTable) *Builder {
	b.propertyTable = t
	return b
}

// WithProperties appends property Options applied every time this
// CommandKey is resolved — PropertyTable.Resolve recomputes from opts on
// every Build() call, so a Builder that changes its options between builds
// changes what this CommandKey's singletons see on their next dynamic read.
func (b *Builder) WithProperties(opts ...config.Option) *Builder {
	b.propertyOpts = append(b.propertyOpts, opts...)
	return b
}

// WithRun sets the required run() function.
func (b *Builder) WithRun(fn RunFunc) *Builder {
	b.run = fn
	return b
}

// WithFallback overrides the default no-fallback behavior.
func (b *Builder) WithFallback(fn FallbackFunc) *Builder {
	b.fallback = fn
	return b
}

// WithCacheKey enables request-scoped caching keyed by fn()'s return value;
// an empty string disables caching for that call even with
// requestCacheEnabled true.
func (b *Builder) WithCacheKey(fn CacheKeyFunc) *Builder {
	b.cacheKey = fn
	return b
}

// WithHooks attaches lifecycle callbacks.
func (b *Builder) WithHooks(h *Hooks) *Builder {
	b.hooks = h
	return b
}

// WithEventNotifier attaches an external EventNotifier (e.g. a metrics
// publisher bridge) to this CommandKey's CommandMetrics. Only takes effect
// the first time this CommandKey's CommandMetrics is created; later
// Builders for the same key share the already-constructed instance.
func (b *Builder) WithEventNotifier(n metrics.EventNotifier) *Builder {
	b.notifier = n
	return b
}

// WithTracerProvider overrides the TracerProvider used for this Command's
// spans; defaults to the process-wide global provider.
func (b *Builder) WithTracerProvider(p trace.TracerProvider) *Builder {
	b.tracerProvider = p
	return b
}

// WithLogger overrides the *zap.Logger used for this Command's warnings;
// defaults to a no-op logger.
func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithClock overrides the time source used by this CommandKey's
// CommandMetrics and CircuitBreaker. Only takes effect the first time this
// CommandKey's singletons are created; primarily for tests that need a
// clock.Mock to drive deterministic window rollover.
func (b *Builder) WithClock(c clock.Clock) *Builder {
	b.clock = c
	return b
}

// Build resolves properties and singletons and returns a ready-to-run
// Command. Build itself never fails: a missing WithRun is caught at
// Execute/Queue time instead, preferring
// explicit runtime errors over a fallible Build() when the only possible
// mistake is a programmer forgetting a required field.
func (b *Builder) Build() *Command {
	props := b.propertyTable.Resolve(b.commandKey, b.propertyOpts...)

	cl := b.clock
	if cl == nil {
		cl = clock.Default
	}

	m := commandMetricsFor(b.commandKey, props, b.notifier, cl)
	cb := circuitBreakerFor(b.commandKey, b.propertyTable, m, cl)
	pool := isolationPoolFor(b.poolKey, b.commandKey, props, b.propertyTable)

	logger := b.logger
	if logger == nil {
		logger = defaultLogger
	}

	return &Command{
		groupKey:   b.groupKey,
		commandKey: b.commandKey,
		poolKey:    b.poolKey,

		props:   props,
		metrics: m,
		breaker: cb,
		pool:    pool,

		executionSemaphore: executionSemaphoreFor(b.commandKey, b.propertyTable),
		fallbackSemaphore:  fallbackSemaphoreFor(b.commandKey, b.propertyTable),

		run:      b.run,
		fallback: b.fallback,
		cacheKey: b.cacheKey,
		hooks:    b.hooks,

		logger: logger,
		tracer: tracerFor(b.tracerProvider, b.groupKey),
	}
}
