package hookpipe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hookpipe/hookpipe/delivery"
	"github.com/hookpipe/hookpipe/dlq"
	"github.com/hookpipe/hookpipe/event"
	"github.com/hookpipe/hookpipe/id"
	"github.com/hookpipe/hookpipe/internal/entity"
	"github.com/hookpipe/hookpipe/observability"
	"github.com/hookpipe/hookpipe/ratelimit"
	"github.com/hookpipe/hookpipe/rule"
	"github.com/hookpipe/hookpipe/sandbox"
	"github.com/hookpipe/hookpipe/schedule"
	"github.com/hookpipe/hookpipe/store"
	"github.com/hookpipe/hookpipe/transform"
)

// Gateway is the root event delivery engine. It polls the configured
// event source, fans matched events out to delivery rules, and drives
// the delivery, scheduling, and DLQ subsystems.
type Gateway struct {
	config      Config
	store       store.Store
	ruleSvc     *rule.Service
	matcher     *rule.Matcher
	transformer *transform.Transformer
	limiter     *ratelimit.Limiter
	dlqSvc      *dlq.Service
	scheduleSvc *schedule.Service
	scheduler   *schedule.Scheduler
	engine      *delivery.Engine
	poller      *event.Poller
	metrics     *observability.Metrics
	tracer      *observability.Tracer
	logger      *slog.Logger
}

// New creates a new Gateway with the given options.
func New(opts ...Option) (*Gateway, error) {
	g := &Gateway{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	if g.store == nil {
		return nil, ErrNoStore
	}
	g.wireServices()
	return g, nil
}

// wireServices initializes the internal services after options have been applied.
func (g *Gateway) wireServices() {
	g.ruleSvc = rule.NewService(g.store, g.logger)
	g.matcher = rule.NewMatcher(g.store, g.logger)

	runner := sandbox.New(sandbox.Config{
		Timeout: g.config.SandboxTimeout,
	}, g.store, g.logger)
	g.transformer = transform.New(g.store, runner, g.logger)

	g.limiter = ratelimit.New(g.config.TenantRateLimit, g.config.GlobalRateLimit)

	g.dlqSvc = dlq.NewService(g.store, g.logger)
	g.scheduleSvc = schedule.NewService(g.store, g.logger)

	g.engine = delivery.NewEngine(g.store, g.transformer, g.limiter, g.dlqSvc, g.scheduleSvc, delivery.EngineConfig{
		Concurrency:    g.config.Concurrency,
		PollInterval:   g.config.PollInterval,
		BatchSize:      g.config.BatchSize,
		RequestTimeout: g.config.RequestTimeout,
		Metrics:        g.metrics,
		Tracer:         g.tracer,
	}, g.logger)

	g.scheduler = schedule.NewScheduler(g.store, g.store, g.store, schedule.Config{
		Interval:  g.config.ScheduleInterval,
		BatchSize: g.config.BatchSize,
		Metrics:   g.metrics,
	}, g.logger)

	var dedup event.DedupStore = g.store
	if g.metrics != nil {
		dedup = &countingDedup{DedupStore: g.store, metrics: g.metrics}
	}
	g.poller = event.NewPoller(g.store, g.store, dedup, g, event.PollerConfig{
		WorkerID:    g.config.WorkerID,
		Interval:    g.config.PollInterval,
		BatchSize:   g.config.BatchSize,
		TickTimeout: g.config.TickTimeout,
		DedupTTL:    g.config.DedupTTL,
	}, g.logger)
}

// Start begins the event poller, delivery engine, and scheduler.
func (g *Gateway) Start(ctx context.Context) {
	g.poller.Start(ctx)
	g.engine.Start(ctx)
	g.scheduler.Start(ctx)
	g.logger.InfoContext(ctx, "gateway started",
		"worker_id", g.config.WorkerID,
		"concurrency", g.config.Concurrency,
	)
}

// Stop gracefully shuts down all background loops. New work stops being
// claimed immediately; in-flight attempts get ShutdownTimeout to finish.
func (g *Gateway) Stop(ctx context.Context) {
	if g.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.ShutdownTimeout)
		defer cancel()
	}
	g.poller.Stop(ctx)
	g.scheduler.Stop(ctx)
	g.engine.Stop(ctx)
	g.logger.Info("gateway stopped")
}

// Ingest appends an event to the source. The poller picks it up on the
// next tick; Ingest itself never blocks on delivery.
func (g *Gateway) Ingest(ctx context.Context, evt *event.Event) error {
	if evt.Type == "" {
		return fmt.Errorf("hookpipe: ingest: event type is required")
	}
	if err := g.store.AppendEvent(ctx, evt); err != nil {
		return fmt.Errorf("hookpipe: ingest: %w", err)
	}
	g.logger.DebugContext(ctx, "event ingested",
		"tenant_id", evt.TenantID,
		"type", evt.Type,
		"source_id", evt.SourceID,
	)
	return nil
}

// Dispatch fans a polled event out to its matching rules. Immediate-mode
// rules get a pending attempt log; deferred modes get a scheduled
// delivery. Implements event.Dispatcher.
func (g *Gateway) Dispatch(ctx context.Context, evt *event.Event) error {
	rules, err := g.matcher.Match(ctx, evt.TenantID, evt.Type)
	if err != nil {
		return fmt.Errorf("hookpipe: match rules: %w", err)
	}
	if g.metrics != nil {
		g.metrics.EventsPolledTotal.Inc()
	}
	if len(rules) == 0 {
		return nil
	}

	now := time.Now().UTC()
	logs := make([]*delivery.AttemptLog, 0, len(rules))
	for _, r := range rules {
		if r.Mode.Kind != rule.ModeImmediate {
			if _, schedErr := g.scheduleSvc.CreateFromRule(ctx, r, evt.TenantID, evt.Type, evt.SourceID, evt.Payload); schedErr != nil {
				return fmt.Errorf("hookpipe: schedule event: %w", schedErr)
			}
			continue
		}

		logs = append(logs, &delivery.AttemptLog{
			Entity:        entity.New(),
			ID:            id.NewDeliveryID(),
			RuleID:        r.ID,
			TenantID:      evt.TenantID,
			EventType:     evt.Type,
			SourceID:      evt.SourceID,
			MessageID:     id.NewMessageID(),
			Payload:       evt.Payload,
			Status:        delivery.StatusPending,
			MaxAttempts:   r.Retry.MaxAttempts,
			NextAttemptAt: now,
		})
	}

	if len(logs) > 0 {
		if err := g.store.EnqueueAttempts(ctx, logs); err != nil {
			return fmt.Errorf("hookpipe: enqueue attempts: %w", err)
		}
		if g.metrics != nil {
			g.metrics.PendingDeliveries.Add(float64(len(logs)))
		}
	}

	g.logger.DebugContext(ctx, "event dispatched",
		"tenant_id", evt.TenantID,
		"type", evt.Type,
		"source_id", evt.SourceID,
		"rules", len(rules),
	)
	return nil
}

// Rules returns the rule management service.
func (g *Gateway) Rules() *rule.Service {
	return g.ruleSvc
}

// DLQ returns the dead letter queue service.
func (g *Gateway) DLQ() *dlq.Service {
	return g.dlqSvc
}

// Schedules returns the scheduled delivery service.
func (g *Gateway) Schedules() *schedule.Service {
	return g.scheduleSvc
}

// Store returns the underlying store.
func (g *Gateway) Store() store.Store {
	return g.store
}

// countingDedup counts already-dispatched events the poller skips.
type countingDedup struct {
	event.DedupStore
	metrics *observability.Metrics
}

func (c *countingDedup) MarkProcessed(ctx context.Context, tenantID string, sourceID int64, ttl time.Duration) (bool, error) {
	first, err := c.DedupStore.MarkProcessed(ctx, tenantID, sourceID, ttl)
	if err == nil && !first {
		c.metrics.EventsDedupedTotal.Inc()
	}
	return first, err
}
