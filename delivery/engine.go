package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hookpipe/hookpipe/event"
	"github.com/hookpipe/hookpipe/id"
	"github.com/hookpipe/hookpipe/observability"
	"github.com/hookpipe/hookpipe/ratelimit"
	"github.com/hookpipe/hookpipe/rule"
	"github.com/hookpipe/hookpipe/transform"
)

// EngineStore is the interface the engine needs for delivery operations.
type EngineStore interface {
	DequeueDue(ctx context.Context, limit int) ([]*AttemptLog, error)
	UpdateAttempt(ctx context.Context, d *AttemptLog) error
	GetRule(ctx context.Context, ruleID id.ID) (*rule.Rule, error)
}

// DLQPusher records permanently failed attempt logs in the dead letter
// queue.
type DLQPusher interface {
	PushFailed(ctx context.Context, d *AttemptLog, r *rule.Rule) error
}

// SchedulePusher persists deferred deliveries requested by transform
// scripts.
type SchedulePusher interface {
	PushScheduled(ctx context.Context, r *rule.Rule, tenantID string, reqs []transform.ScheduleRequest) error
}

// EngineConfig holds engine configuration.
type EngineConfig struct {
	Concurrency    int
	PollInterval   time.Duration
	BatchSize      int
	RequestTimeout time.Duration
	Metrics        *observability.Metrics
	Tracer         *observability.Tracer
}

// Engine is the delivery worker pool that dequeues due attempt logs and
// processes them through transform, rate limiting, send, classification,
// and the retry state machine.
type Engine struct {
	store       EngineStore
	sender      *Sender
	retrier     *Retrier
	validator   *Validator
	transformer *transform.Transformer
	limiter     *ratelimit.Limiter
	dlq         DLQPusher
	schedules   SchedulePusher
	config      EngineConfig
	logger      *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates a delivery engine. dlq and schedules may be nil;
// limiter nil disables pre-network gating.
func NewEngine(store EngineStore, transformer *transform.Transformer, limiter *ratelimit.Limiter, dlq DLQPusher, schedules SchedulePusher, cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:       store,
		sender:      NewSender(cfg.RequestTimeout),
		retrier:     NewRetrier(),
		validator:   NewValidator(),
		transformer: transformer,
		limiter:     limiter,
		dlq:         dlq,
		schedules:   schedules,
		config:      cfg,
		logger:      logger,
	}
}

// Start begins the delivery workers and poll loop.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pollLoop(ctx)
	}()
}

// Stop cancels the poll loop and waits for in-flight attempts to complete.
func (e *Engine) Stop(_ context.Context) {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// pollLoop periodically dequeues due attempt logs and dispatches them to
// workers.
func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, e.config.Concurrency)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch, err := e.store.DequeueDue(ctx, e.config.BatchSize)
			if err != nil {
				e.logger.ErrorContext(ctx, "dequeue failed", "error", err)
				continue
			}

			for _, d := range batch {
				select {
				case <-ctx.Done():
					return
				case sem <- struct{}{}:
				}

				e.wg.Add(1)
				go func(log *AttemptLog) {
					defer e.wg.Done()
					defer func() { <-sem }()
					e.process(ctx, log)
				}(d)
			}
		}
	}
}

// process runs one attempt log through the full pipeline and persists the
// resulting state transition.
func (e *Engine) process(ctx context.Context, d *AttemptLog) {
	var span trace.Span
	if e.config.Tracer != nil {
		ctx, span = e.config.Tracer.StartAttemptSpan(ctx, d.ID.String(), d.RuleID.String(), d.TenantID)
	}

	r, err := e.store.GetRule(ctx, d.RuleID)
	if err != nil {
		if errors.Is(err, rule.ErrNotFound) {
			// The rule was deleted out from under the log. No retry can
			// ever succeed, so settle the log instead of looping.
			d.LastError = "rule deleted"
			e.transition(ctx, d, nil, Fail, &Result{Error: d.LastError})
			e.finish(ctx, d, span, "failed")
			return
		}
		e.logger.ErrorContext(ctx, "get rule failed",
			"attempt_id", d.ID, "rule_id", d.RuleID, "error", err)
		// Release the claim without consuming budget; the rule may be
		// readable on the next pass.
		d.Status = StatusRetrying
		d.NextAttemptAt = time.Now().UTC().Add(e.config.PollInterval)
		e.finish(ctx, d, span, "")
		return
	}

	if !r.Active {
		e.complete(d, StatusSkipped)
		d.LastError = "rule inactive"
		e.logger.DebugContext(ctx, "rule inactive, skipping",
			"attempt_id", d.ID, "rule_id", d.RuleID)
		e.finish(ctx, d, span, "skipped")
		return
	}

	// Transform runs once per log. Retries reuse the persisted body so a
	// tenant script observes each event at most once.
	if d.TransformedPayload == nil {
		if done := e.transform(ctx, d, r); done {
			e.finish(ctx, d, span, string(d.Status))
			return
		}
	}

	if err := e.validator.Validate(r.Schema, d.TransformedPayload); err != nil {
		d.AttemptCount++
		d.Category = CategoryValidation
		d.LastError = err.Error()
		e.transition(ctx, d, r, e.retrier.Decide(CategoryValidation, d, r.Retry), &Result{})
		e.finish(ctx, d, span, "validation_failed")
		return
	}

	// Pre-network gating. An internal denial reschedules without touching
	// the attempt budget.
	if e.limiter != nil {
		dec := e.limiter.Allow(d.RuleID.String(), d.TenantID, r.RateLimit)
		if !dec.Allowed {
			d.Status = StatusRetrying
			d.Category = CategoryRateLimit
			d.NextAttemptAt = time.Now().UTC().Add(dec.RetryAfter)
			if e.config.Metrics != nil {
				e.config.Metrics.RecordRateLimited(string(dec.Scope))
			}
			e.logger.DebugContext(ctx, "rate limited",
				"attempt_id", d.ID, "scope", dec.Scope, "retry_after", dec.RetryAfter)
			e.finish(ctx, d, span, "")
			return
		}
	}

	d.AttemptCount++
	result, err := e.sender.Send(ctx, r, d, d.TransformedPayload)
	if err != nil {
		// Request construction failed (bad URL, broken auth config).
		// Not retryable.
		d.Category = CategoryAuth
		d.LastError = err.Error()
		e.transition(ctx, d, r, Fail, &Result{Error: err.Error()})
		e.finish(ctx, d, span, "failed")
		return
	}

	d.LastError = result.Error
	d.LastStatusCode = result.StatusCode
	d.LastResponse = result.Response
	d.LastLatencyMs = result.LatencyMs
	d.RequestHeaders = result.Headers

	cat := Classify(*result)
	d.Category = cat

	decision := e.retrier.Decide(cat, d, r.Retry)
	e.transition(ctx, d, r, decision, result)
	e.finish(ctx, d, span, outcomeLabel(decision))
}

// transform applies the rule's transform and persists the outbound body
// on the log. Returns true when the log reached a terminal state here.
func (e *Engine) transform(ctx context.Context, d *AttemptLog, r *rule.Rule) bool {
	evt := &event.Event{
		SourceID:   d.SourceID,
		TenantID:   d.TenantID,
		Type:       d.EventType,
		Payload:    d.Payload,
		OccurredAt: d.CreatedAt,
	}

	out, err := e.transformer.Apply(ctx, r, evt)
	if err != nil {
		d.Category = CategoryTransform
		d.LastError = err.Error()
		if e.config.Metrics != nil {
			e.config.Metrics.RecordTransform("error")
		}
		e.transition(ctx, d, r, Fail, &Result{Error: err.Error()})
		return true
	}

	if out.Skip {
		e.complete(d, StatusSkipped)
		if e.config.Metrics != nil {
			e.config.Metrics.RecordTransform("skipped")
		}
		return true
	}

	d.TransformedPayload = out.Body
	if e.config.Metrics != nil {
		e.config.Metrics.RecordTransform("ok")
	}

	// Script-requested deferred deliveries are best effort: a persist
	// failure must not block the immediate delivery.
	if len(out.Schedules) > 0 && e.schedules != nil {
		if err := e.schedules.PushScheduled(ctx, r, d.TenantID, out.Schedules); err != nil {
			e.logger.ErrorContext(ctx, "persist script schedules failed",
				"attempt_id", d.ID, "rule_id", r.ID, "error", err)
		}
	}
	return false
}

// transition applies the retry state machine decision to the log.
func (e *Engine) transition(ctx context.Context, d *AttemptLog, r *rule.Rule, decision Decision, result *Result) {
	switch decision {
	case Delivered:
		e.complete(d, StatusSuccess)
		e.logger.DebugContext(ctx, "delivered",
			"attempt_id", d.ID, "status", result.StatusCode, "latency_ms", result.LatencyMs)

	case Retry:
		d.Status = StatusRetrying
		d.NextAttemptAt = e.retrier.NextAttempt(d.Category, d.AttemptCount, r.Retry, result.RetryAfter)
		e.logger.DebugContext(ctx, "retry scheduled",
			"attempt_id", d.ID, "attempt", d.AttemptCount, "category", d.Category, "next_at", d.NextAttemptAt)

	case Abandon:
		e.complete(d, StatusAbandoned)
		e.pushDLQ(ctx, d, r)
		e.logger.WarnContext(ctx, "delivery abandoned",
			"attempt_id", d.ID, "attempts", d.AttemptCount, "category", d.Category, "error", d.LastError)

	case Fail:
		e.complete(d, StatusFailed)
		e.pushDLQ(ctx, d, r)
		e.logger.WarnContext(ctx, "delivery failed permanently",
			"attempt_id", d.ID, "category", d.Category, "error", d.LastError)

	case Skip:
		e.complete(d, StatusSkipped)
	}
}

func (e *Engine) complete(d *AttemptLog, s Status) {
	now := time.Now().UTC()
	d.Status = s
	d.CompletedAt = &now
}

func (e *Engine) pushDLQ(ctx context.Context, d *AttemptLog, r *rule.Rule) {
	if e.dlq == nil {
		return
	}
	if err := e.dlq.PushFailed(ctx, d, r); err != nil {
		e.logger.ErrorContext(ctx, "push to DLQ failed",
			"attempt_id", d.ID, "error", err)
	}
	if e.config.Metrics != nil {
		e.config.Metrics.DLQSize.Inc()
	}
}

// finish records metrics and the span, then persists the log and
// releases the claim.
func (e *Engine) finish(ctx context.Context, d *AttemptLog, span trace.Span, outcome string) {
	if outcome != "" && e.config.Metrics != nil {
		e.config.Metrics.RecordDelivery(outcome, float64(d.LastLatencyMs)/1000.0)
		if d.Status.Terminal() {
			e.config.Metrics.PendingDeliveries.Dec()
		}
	}

	if span != nil {
		e.config.Tracer.EndAttemptSpan(span, d.LastStatusCode, d.LastLatencyMs, d.LastError)
	}

	d.Touch()
	if err := e.store.UpdateAttempt(ctx, d); err != nil {
		e.logger.ErrorContext(ctx, "update attempt failed",
			"attempt_id", d.ID, "error", err)
	}
}

func outcomeLabel(decision Decision) string {
	switch decision {
	case Delivered:
		return "delivered"
	case Retry:
		return "retried"
	case Abandon:
		return "abandoned"
	case Fail:
		return "failed"
	case Skip:
		return "skipped"
	default:
		return "unknown"
	}
}

// ProcessOne runs a single attempt log through the pipeline outside the
// poll loop. Used by replay and tests.
func (e *Engine) ProcessOne(ctx context.Context, d *AttemptLog) {
	e.process(ctx, d)
}
