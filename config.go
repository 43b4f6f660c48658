package hookpipe

import (
	"time"

	"github.com/hookpipe/hookpipe/ratelimit"
)

// Config holds the configuration for a Gateway instance.
type Config struct {
	// WorkerID is the checkpoint identity of this instance's event
	// poller. Instances sharing a WorkerID share a cursor.
	WorkerID string

	// Concurrency is the number of delivery worker goroutines.
	Concurrency int

	// PollInterval is how often the event poller and the delivery engine
	// check for new work.
	PollInterval time.Duration

	// BatchSize is the maximum number of events or attempt logs read per
	// poll cycle.
	BatchSize int

	// TickTimeout bounds a single poller tick so a slow event source
	// never wedges the poll loop.
	TickTimeout time.Duration

	// RequestTimeout is the HTTP timeout per delivery attempt.
	RequestTimeout time.Duration

	// DedupTTL is how long processed-event markers are kept. An event
	// re-read within the TTL is not fanned out again.
	DedupTTL time.Duration

	// SandboxTimeout is the wall-clock limit per transform script run.
	SandboxTimeout time.Duration

	// TenantRateLimit is the per-tenant sliding window applied across all
	// of a tenant's rules. Zero MaxRequests disables the tier.
	TenantRateLimit ratelimit.Config

	// GlobalRateLimit is the instance-wide sliding window. Zero
	// MaxRequests disables the tier.
	GlobalRateLimit ratelimit.Config

	// ScheduleInterval is how often the scheduler scans for due
	// scheduled deliveries.
	ScheduleInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight
	// deliveries on shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		WorkerID:         "hookpipe",
		Concurrency:      10,
		PollInterval:     1 * time.Second,
		BatchSize:        50,
		RequestTimeout:   30 * time.Second,
		TickTimeout:      30 * time.Second,
		DedupTTL:         1 * time.Hour,
		SandboxTimeout:   60 * time.Second,
		ScheduleInterval: 1 * time.Second,
		ShutdownTimeout:  30 * time.Second,
	}
}
