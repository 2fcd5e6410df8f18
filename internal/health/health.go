// Package health implements the stateless deep-health probe. It issues a
// request that exercises downstream's data path rather than a
// transport-layer liveness check, so a downstream that has bound its
// port but is still warming internal caches registers as unhealthy.
package health

import (
	"context"
	"time"

	"github.com/yungbote/syncqueue/internal/platform/logger"
	"github.com/yungbote/syncqueue/internal/syncclient"
)

// DefaultTimeout is the probe's own short timeout, distinct from the
// longer timeout real sync jobs use.
const DefaultTimeout = 5 * time.Second

// Result is the outcome of one probe call.
type Result struct {
	Healthy   bool
	LatencyMS float64
}

// Checker issues deep-health probes against a syncclient.Prober. It is
// stateless — it never mutates the circuit breaker directly and logs
// only at debug level.
type Checker struct {
	prober  syncclient.Prober
	timeout time.Duration
	log     *logger.Logger
}

// New constructs a Checker. A zero or negative timeout falls back to
// DefaultTimeout.
func New(prober syncclient.Prober, timeout time.Duration, log *logger.Logger) *Checker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Checker{prober: prober, timeout: timeout, log: log.With("component", "health")}
}

// Check issues one deep-health probe and reports whether downstream is
// healthy along with the observed latency.
func (c *Checker) Check(ctx context.Context) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := c.prober.Probe(ctx, c.timeout)
	latency := time.Since(start)
	latencyMS := float64(latency) / float64(time.Millisecond)

	healthy := err == nil
	c.log.Debug("health probe completed", "healthy", healthy, "latency_ms", latencyMS, "error", err)
	return Result{Healthy: healthy, LatencyMS: latencyMS}
}
