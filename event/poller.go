package event

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher fans a polled event out to its matching delivery rules.
// Implementations must durably record the fan-out (attempt logs or
// scheduled deliveries) before returning.
type Dispatcher interface {
	Dispatch(ctx context.Context, evt *Event) error
}

// PollerConfig holds poller configuration.
type PollerConfig struct {
	// WorkerID is the checkpoint identity of this poller instance.
	WorkerID string

	// Interval is the time between poll ticks.
	Interval time.Duration

	// BatchSize is the maximum number of events read per tick.
	BatchSize int

	// TickTimeout bounds a single tick so a slow source never wedges the loop.
	TickTimeout time.Duration

	// DedupTTL is how long dispatched-event markers are kept.
	DedupTTL time.Duration
}

// Poller drives the checkpointed read loop over a Source.
//
// Each tick reads events past the checkpoint in ascending SourceID order,
// claims a dedup marker per event, hands the event to the Dispatcher, and
// advances the checkpoint only once every event in the batch has been
// durably dispatched. A crash mid-batch re-reads the same range; the dedup
// markers keep the replay from fanning events out twice.
type Poller struct {
	source      Source
	checkpoints CheckpointStore
	dedup       DedupStore
	dispatcher  Dispatcher
	config      PollerConfig
	logger      *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoller creates a poller. The dispatcher receives every newly claimed event.
func NewPoller(source Source, checkpoints CheckpointStore, dedup DedupStore, dispatcher Dispatcher, cfg PollerConfig, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		source:      source,
		checkpoints: checkpoints,
		dedup:       dedup,
		dispatcher:  dispatcher,
		config:      cfg,
		logger:      logger,
	}
}

// Start begins the poll loop.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loop(ctx)
	}()
}

// Stop cancels the poll loop and waits for the in-flight tick to finish.
func (p *Poller) Stop(_ context.Context) {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Poller) loop(ctx context.Context) {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick processes one poll cycle. A transient failure leaves the checkpoint
// untouched; the next tick re-reads the same range.
func (p *Poller) tick(ctx context.Context) {
	if p.config.TickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.TickTimeout)
		defer cancel()
	}

	since, err := p.checkpoints.Checkpoint(ctx, p.config.WorkerID)
	if err != nil {
		p.logger.ErrorContext(ctx, "read checkpoint failed", "worker_id", p.config.WorkerID, "error", err)
		return
	}

	events, err := p.source.PollEvents(ctx, since, p.config.BatchSize)
	if err != nil {
		p.logger.ErrorContext(ctx, "poll events failed", "since", since, "error", err)
		return
	}
	if len(events) == 0 {
		return
	}

	// lastDone tracks the highest contiguously processed source ID. The
	// checkpoint never advances past an event whose fan-out has not been
	// durably logged.
	lastDone := since

	for _, evt := range events {
		first, markErr := p.dedup.MarkProcessed(ctx, evt.TenantID, evt.SourceID, p.config.DedupTTL)
		if markErr != nil {
			p.logger.ErrorContext(ctx, "dedup mark failed",
				"tenant_id", evt.TenantID, "source_id", evt.SourceID, "error", markErr)
			break
		}
		if !first {
			// Already dispatched by this or another worker replica.
			lastDone = evt.SourceID
			continue
		}

		if dispatchErr := p.dispatcher.Dispatch(ctx, evt); dispatchErr != nil {
			p.logger.ErrorContext(ctx, "dispatch failed",
				"tenant_id", evt.TenantID, "source_id", evt.SourceID, "error", dispatchErr)

			// Release the claim so the replay picks the event up again.
			if unmarkErr := p.dedup.UnmarkProcessed(ctx, evt.TenantID, evt.SourceID); unmarkErr != nil {
				p.logger.ErrorContext(ctx, "dedup unmark failed",
					"tenant_id", evt.TenantID, "source_id", evt.SourceID, "error", unmarkErr)
			}
			break
		}

		lastDone = evt.SourceID
	}

	if lastDone > since {
		if saveErr := p.checkpoints.SaveCheckpoint(ctx, p.config.WorkerID, lastDone); saveErr != nil {
			p.logger.ErrorContext(ctx, "save checkpoint failed",
				"worker_id", p.config.WorkerID, "last_id", lastDone, "error", saveErr)
			return
		}
		p.logger.DebugContext(ctx, "checkpoint advanced",
			"worker_id", p.config.WorkerID, "from", since, "to", lastDone)
	}
}
