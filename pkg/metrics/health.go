package metrics

// HealthCounts is the derived view CircuitBreaker.isOpen() consults: the
// total request volume and error rate observed over the current rolling
// window.
type HealthCounts struct {
	TotalRequests   int64
	ErrorCount      int64
	ErrorPercentage int
}

func computeHealthCounts(successes, failures, timeouts, threadRejections, semaphoreRejections, shortCircuited int64) HealthCounts {
	errorCount := failures + timeouts + threadRejections + semaphoreRejections + shortCircuited
	total := errorCount + successes

	var pct int
	if total > 0 {
		pct = int(100 * errorCount / total)
	}

	return HealthCounts{
		TotalRequests:   total,
		ErrorCount:      errorCount,
		ErrorPercentage: pct,
	}
}
