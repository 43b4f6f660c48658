package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hookpipe/hookpipe/delivery"
	"github.com/hookpipe/hookpipe/id"
	"github.com/hookpipe/hookpipe/internal/entity"
	"github.com/hookpipe/hookpipe/observability"
	"github.com/hookpipe/hookpipe/rule"
	"github.com/hookpipe/hookpipe/transform"
)

// RuleGetter resolves rules at fire time, so a schedule always fires
// against the rule's current retry policy and active flag.
type RuleGetter interface {
	GetRule(ctx context.Context, ruleID id.ID) (*rule.Rule, error)
}

// Config holds scheduler configuration.
type Config struct {
	Interval  time.Duration
	BatchSize int
	Metrics   *observability.Metrics
}

// Scheduler scans for due scheduled deliveries and converts each fire
// into a pending attempt log.
type Scheduler struct {
	store      Store
	deliveries delivery.Store
	rules      RuleGetter
	config     Config
	logger     *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler.
func NewScheduler(store Store, deliveries delivery.Store, rules RuleGetter, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Scheduler{
		store:      store,
		deliveries: deliveries,
		rules:      rules,
		config:     cfg,
		logger:     logger,
	}
}

// Start begins the scan loop.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

// Stop cancels the scan loop and waits for the in-flight tick.
func (s *Scheduler) Stop(_ context.Context) {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick claims due schedules and fires each one.
func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.store.ClaimDueSchedules(ctx, time.Now().UTC(), s.config.BatchSize)
	if err != nil {
		s.logger.ErrorContext(ctx, "claim due schedules failed", "error", err)
		return
	}

	for _, sch := range due {
		if err := s.fire(ctx, sch); err != nil {
			s.logger.ErrorContext(ctx, "fire schedule failed",
				"schedule_id", sch.ID, "rule_id", sch.RuleID, "error", err)
		}
	}
}

// fire enqueues an attempt log for the schedule and re-arms recurring
// schedules that still have occurrence budget.
func (s *Scheduler) fire(ctx context.Context, sch *ScheduledDelivery) error {
	r, err := s.rules.GetRule(ctx, sch.RuleID)
	if err != nil {
		if errors.Is(err, rule.ErrNotFound) {
			// The rule is gone; no future fire can succeed.
			sch.Status = StatusCancelled
			sch.Touch()
			if updErr := s.store.UpdateSchedule(ctx, sch); updErr != nil {
				return fmt.Errorf("cancel orphaned schedule: %w", updErr)
			}
			return fmt.Errorf("get rule: %w", err)
		}
		s.requeue(ctx, sch)
		return fmt.Errorf("get rule: %w", err)
	}

	sch.Occurrence++

	if r.Active {
		log := &delivery.AttemptLog{
			Entity:        entity.New(),
			ID:            id.NewDeliveryID(),
			RuleID:        r.ID,
			TenantID:      sch.TenantID,
			EventType:     sch.EventType,
			ScheduleID:    sch.ID,
			MessageID:     id.NewMessageID(),
			Payload:       sch.Payload,
			Status:        delivery.StatusPending,
			MaxAttempts:   r.Retry.MaxAttempts,
			NextAttemptAt: time.Now().UTC(),
		}
		if sch.Transformed {
			log.TransformedPayload = sch.Payload
		}
		if err := s.deliveries.EnqueueAttempts(ctx, []*delivery.AttemptLog{log}); err != nil {
			// The occurrence was not delivered anywhere; put the claim
			// back so the next scan retries it.
			sch.Occurrence--
			s.requeue(ctx, sch)
			return fmt.Errorf("enqueue attempt: %w", err)
		}
		if s.config.Metrics != nil {
			s.config.Metrics.SchedulesFired.Inc()
			s.config.Metrics.PendingDeliveries.Inc()
		}
		s.logger.DebugContext(ctx, "schedule fired",
			"schedule_id", sch.ID, "rule_id", r.ID, "occurrence", sch.Occurrence)
	} else {
		s.logger.DebugContext(ctx, "schedule fired on inactive rule, dropped",
			"schedule_id", sch.ID, "rule_id", r.ID)
	}

	// Recurring schedules re-arm only after a successful fire, and only
	// while the occurrence budget holds.
	if sch.Recurring() && (sch.MaxOccurrences == 0 || sch.Occurrence < sch.MaxOccurrences) {
		spec, err := cron.ParseStandard(sch.Spec)
		if err != nil {
			return fmt.Errorf("parse cron spec %q: %w", sch.Spec, err)
		}
		sch.ScheduledFor = spec.Next(time.Now().UTC())
		sch.Status = StatusPending
	}

	sch.Touch()
	return s.store.UpdateSchedule(ctx, sch)
}

// requeue puts a claimed schedule back to PENDING after a transient
// failure so the occurrence is retried instead of silently consumed.
func (s *Scheduler) requeue(ctx context.Context, sch *ScheduledDelivery) {
	sch.Status = StatusPending
	sch.ScheduledFor = time.Now().UTC().Add(s.config.Interval)
	sch.Touch()
	if err := s.store.UpdateSchedule(ctx, sch); err != nil {
		s.logger.ErrorContext(ctx, "requeue schedule failed",
			"schedule_id", sch.ID, "error", err)
	}
}

// Service wraps schedule creation and management.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a schedule service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// CreateFromRule defers an event delivery per the rule's mode. The switch
// covers the deferred modes; immediate-mode events never reach here.
func (svc *Service) CreateFromRule(ctx context.Context, r *rule.Rule, tenantID, eventType string, sourceID int64, payload json.RawMessage) (*ScheduledDelivery, error) {
	sch := &ScheduledDelivery{
		Entity:    entity.New(),
		ID:        id.NewScheduleID(),
		RuleID:    r.ID,
		TenantID:  tenantID,
		EventType: eventType,
		SourceID:  sourceID,
		Payload:   payload,
		Status:    StatusPending,
	}

	switch r.Mode.Kind {
	case rule.ModeDelayed:
		sch.ScheduledFor = time.Now().UTC().Add(r.Mode.Delay)

	case rule.ModeRecurring:
		spec, err := cron.ParseStandard(r.Mode.Spec)
		if err != nil {
			return nil, fmt.Errorf("parse cron spec %q: %w", r.Mode.Spec, err)
		}
		sch.Spec = r.Mode.Spec
		sch.MaxOccurrences = r.Mode.MaxOccurrences
		sch.ScheduledFor = spec.Next(time.Now().UTC())

	default:
		return nil, fmt.Errorf("mode %q is not deferrable", r.Mode.Kind)
	}

	if err := svc.store.CreateSchedule(ctx, sch); err != nil {
		return nil, err
	}
	return sch, nil
}

// PushScheduled persists script-requested deferred deliveries as one-shot
// schedules. Implements delivery.SchedulePusher.
func (svc *Service) PushScheduled(ctx context.Context, r *rule.Rule, tenantID string, reqs []transform.ScheduleRequest) error {
	now := time.Now().UTC()
	for _, req := range reqs {
		sch := &ScheduledDelivery{
			Entity:       entity.New(),
			ID:           id.NewScheduleID(),
			RuleID:       r.ID,
			TenantID:     tenantID,
			EventType:    r.EventType,
			Payload:      req.Payload,
			Transformed:  true,
			ScheduledFor: now.Add(req.Delay),
			Status:       StatusPending,
		}
		if err := svc.store.CreateSchedule(ctx, sch); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a schedule by ID.
func (svc *Service) Get(ctx context.Context, schID id.ID) (*ScheduledDelivery, error) {
	return svc.store.GetSchedule(ctx, schID)
}

// List returns schedules matching the options.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*ScheduledDelivery, error) {
	return svc.store.ListSchedules(ctx, opts)
}

// Cancel marks a pending schedule cancelled.
func (svc *Service) Cancel(ctx context.Context, schID id.ID) error {
	return svc.store.CancelSchedule(ctx, schID)
}
