package dlq

import (
	"context"
	"log/slog"
	"time"

	"github.com/hookpipe/hookpipe/delivery"
	"github.com/hookpipe/hookpipe/id"
	"github.com/hookpipe/hookpipe/internal/entity"
	"github.com/hookpipe/hookpipe/rule"
)

// Service manages the dead letter queue.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a new DLQ service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
	}
}

// PushFailed creates a DLQ entry from a terminally failed attempt log.
// Implements delivery.DLQPusher.
func (svc *Service) PushFailed(ctx context.Context, d *delivery.AttemptLog, r *rule.Rule) error {
	payload := d.TransformedPayload
	if payload == nil {
		payload = d.Payload
	}

	// The rule is nil when a delivery settles after its rule was deleted.
	var url string
	if r != nil {
		url = r.URL
	}

	entry := &Entry{
		Entity:         entity.New(),
		ID:             id.NewDLQID(),
		AttemptLogID:   d.ID,
		RuleID:         d.RuleID,
		TenantID:       d.TenantID,
		EventType:      d.EventType,
		SourceID:       d.SourceID,
		URL:            url,
		Payload:        payload,
		Category:       d.Category,
		Error:          d.LastError,
		AttemptCount:   d.AttemptCount,
		LastStatusCode: d.LastStatusCode,
		FailedAt:       time.Now().UTC(),
	}

	return svc.store.Push(ctx, entry)
}

// List returns DLQ entries matching the given options.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return svc.store.ListDLQ(ctx, opts)
}

// Get returns a DLQ entry by ID.
func (svc *Service) Get(ctx context.Context, dlqID id.ID) (*Entry, error) {
	return svc.store.GetDLQ(ctx, dlqID)
}

// Replay re-arms a single DLQ entry's attempt log for redelivery.
func (svc *Service) Replay(ctx context.Context, dlqID id.ID) error {
	if err := svc.store.Replay(ctx, dlqID); err != nil {
		return err
	}
	svc.logger.InfoContext(ctx, "dlq entry replayed", "dlq_id", dlqID)
	return nil
}

// ReplayBulk re-arms all unreplayed DLQ entries within a time range.
func (svc *Service) ReplayBulk(ctx context.Context, from, to time.Time) (int64, error) {
	n, err := svc.store.ReplayBulk(ctx, from, to)
	if err != nil {
		return 0, err
	}
	svc.logger.InfoContext(ctx, "dlq bulk replay", "count", n, "from", from, "to", to)
	return n, nil
}

// Purge removes DLQ entries that failed before the threshold.
func (svc *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	return svc.store.Purge(ctx, before)
}

// Count returns the total number of DLQ entries.
func (svc *Service) Count(ctx context.Context) (int64, error) {
	return svc.store.CountDLQ(ctx)
}
