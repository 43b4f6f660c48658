package hookpipe

import (
	"log/slog"
	"time"

	"github.com/hookpipe/hookpipe/observability"
	"github.com/hookpipe/hookpipe/ratelimit"
	"github.com/hookpipe/hookpipe/store"
)

// Option configures a Gateway instance.
type Option func(*Gateway) error

// WithStore sets the persistence backend for the Gateway instance.
func WithStore(s store.Store) Option {
	return func(g *Gateway) error {
		g.store = s
		return nil
	}
}

// WithLogger sets the structured logger for the Gateway instance.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		g.logger = logger
		return nil
	}
}

// WithWorkerID sets the checkpoint identity of this instance.
func WithWorkerID(workerID string) Option {
	return func(g *Gateway) error {
		g.config.WorkerID = workerID
		return nil
	}
}

// WithConcurrency sets the number of delivery worker goroutines.
func WithConcurrency(n int) Option {
	return func(g *Gateway) error {
		g.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often the poller and engine check for work.
func WithPollInterval(d time.Duration) Option {
	return func(g *Gateway) error {
		g.config.PollInterval = d
		return nil
	}
}

// WithBatchSize sets the maximum batch read per poll cycle.
func WithBatchSize(n int) Option {
	return func(g *Gateway) error {
		g.config.BatchSize = n
		return nil
	}
}

// WithTickTimeout bounds a single event poller tick.
func WithTickTimeout(d time.Duration) Option {
	return func(g *Gateway) error {
		g.config.TickTimeout = d
		return nil
	}
}

// WithRequestTimeout sets the HTTP timeout per delivery attempt.
func WithRequestTimeout(d time.Duration) Option {
	return func(g *Gateway) error {
		g.config.RequestTimeout = d
		return nil
	}
}

// WithDedupTTL sets how long processed-event markers are kept.
func WithDedupTTL(d time.Duration) Option {
	return func(g *Gateway) error {
		g.config.DedupTTL = d
		return nil
	}
}

// WithSandboxTimeout sets the wall-clock limit per transform script run.
func WithSandboxTimeout(d time.Duration) Option {
	return func(g *Gateway) error {
		g.config.SandboxTimeout = d
		return nil
	}
}

// WithRateLimits sets the tenant and global sliding window tiers.
func WithRateLimits(tenant, global ratelimit.Config) Option {
	return func(g *Gateway) error {
		g.config.TenantRateLimit = tenant
		g.config.GlobalRateLimit = global
		return nil
	}
}

// WithScheduleInterval sets how often the scheduler scans for due
// scheduled deliveries.
func WithScheduleInterval(d time.Duration) Option {
	return func(g *Gateway) error {
		g.config.ScheduleInterval = d
		return nil
	}
}

// WithShutdownTimeout sets the maximum wait for in-flight deliveries on
// shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(g *Gateway) error {
		g.config.ShutdownTimeout = d
		return nil
	}
}

// WithMetrics sets the metrics registry populated by the engine,
// poller, and scheduler.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gateway) error {
		g.metrics = m
		return nil
	}
}

// WithTracer sets the tracer used to span delivery attempts.
func WithTracer(t *observability.Tracer) Option {
	return func(g *Gateway) error {
		g.tracer = t
		return nil
	}
}
