// Package memory provides an in-memory Store implementation for unit testing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hookpipe/hookpipe"
	"github.com/hookpipe/hookpipe/delivery"
	"github.com/hookpipe/hookpipe/dlq"
	"github.com/hookpipe/hookpipe/event"
	"github.com/hookpipe/hookpipe/id"
	"github.com/hookpipe/hookpipe/rule"
	"github.com/hookpipe/hookpipe/schedule"
	hookstore "github.com/hookpipe/hookpipe/store"
	"github.com/hookpipe/hookpipe/transform"
)

// compile-time interface check.
var _ hookstore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store for testing.
type Store struct {
	mu sync.RWMutex

	rules        map[string]*rule.Rule                  // keyed by ID string
	events       []*event.Event                         // ordered by SourceID
	nextSourceID int64                                  //
	checkpoints  map[string]*event.Checkpoint           // keyed by worker ID
	dedup        map[string]time.Time                   // pair key -> expiry
	attempts     map[string]*delivery.AttemptLog        // keyed by ID string
	attemptKeys  map[string]string                      // pairing key -> log ID
	locked       map[string]bool                        // simulates SKIP LOCKED
	dlqEntries   map[string]*dlq.Entry                  // keyed by ID string
	schedules    map[string]*schedule.ScheduledDelivery // keyed by ID string
	scheduleKeys map[string]string                      // pairing key -> schedule ID
	lookups      map[string]*transform.LookupTable      // keyed by tenant:name

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		rules:        make(map[string]*rule.Rule),
		checkpoints:  make(map[string]*event.Checkpoint),
		dedup:        make(map[string]time.Time),
		attempts:     make(map[string]*delivery.AttemptLog),
		attemptKeys:  make(map[string]string),
		locked:       make(map[string]bool),
		dlqEntries:   make(map[string]*dlq.Entry),
		schedules:    make(map[string]*schedule.ScheduledDelivery),
		scheduleKeys: make(map[string]string),
		lookups:      make(map[string]*transform.LookupTable),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping is a no-op for the in-memory store.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return hookpipe.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// rule.Store
// ──────────────────────────────────────────────────

// CreateRule persists a new rule.
func (s *Store) CreateRule(_ context.Context, r *rule.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules[r.ID.String()] = r
	return nil
}

// GetRule returns a rule by ID.
func (s *Store) GetRule(_ context.Context, ruleID id.ID) (*rule.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[ruleID.String()]
	if !ok {
		return nil, hookpipe.ErrRuleNotFound
	}
	return r, nil
}

// UpdateRule replaces an existing rule document.
func (s *Store) UpdateRule(_ context.Context, r *rule.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[r.ID.String()]; !ok {
		return hookpipe.ErrRuleNotFound
	}
	r.UpdatedAt = time.Now().UTC()
	s.rules[r.ID.String()] = r
	return nil
}

// DeleteRule removes a rule.
func (s *Store) DeleteRule(_ context.Context, ruleID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[ruleID.String()]; !ok {
		return hookpipe.ErrRuleNotFound
	}
	delete(s.rules, ruleID.String())
	return nil
}

// ListRules returns rules for a tenant, optionally filtered.
func (s *Store) ListRules(_ context.Context, tenantID string, opts rule.ListOpts) ([]*rule.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*rule.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		if r.TenantID != tenantID && !(opts.IncludeGlobal && r.TenantID == "") {
			continue
		}
		if opts.EventType != "" && r.EventType != opts.EventType {
			continue
		}
		if opts.Active != nil && r.Active != *opts.Active {
			continue
		}
		result = append(result, r)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// MatchRules finds all active rules firing for (tenantID, eventType):
// the tenant's own rules plus global defaults.
func (s *Store) MatchRules(_ context.Context, tenantID, eventType string) ([]*rule.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*rule.Rule
	for _, r := range s.rules {
		if !r.Active || r.EventType != eventType {
			continue
		}
		if r.TenantID != tenantID && r.TenantID != "" {
			continue
		}
		result = append(result, r)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// SetActive soft-enables or soft-disables a rule.
func (s *Store) SetActive(_ context.Context, ruleID id.ID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[ruleID.String()]
	if !ok {
		return hookpipe.ErrRuleNotFound
	}
	r.Active = active
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// ──────────────────────────────────────────────────
// event.Source
// ──────────────────────────────────────────────────

// AppendEvent persists an event and assigns the next source-local ID.
func (s *Store) AppendEvent(_ context.Context, evt *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSourceID++
	evt.SourceID = s.nextSourceID
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	cp := *evt
	s.events = append(s.events, &cp)
	return nil
}

// PollEvents returns up to limit events past sinceID, ascending.
func (s *Store) PollEvents(_ context.Context, sinceID int64, limit int) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*event.Event
	for _, evt := range s.events {
		if evt.SourceID <= sinceID {
			continue
		}
		cp := *evt
		result = append(result, &cp)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// event.CheckpointStore
// ──────────────────────────────────────────────────

// Checkpoint returns the last processed source ID for a worker.
func (s *Store) Checkpoint(_ context.Context, workerID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[workerID]
	if !ok {
		return 0, nil
	}
	return cp.LastProcessedID, nil
}

// SaveCheckpoint advances the worker's cursor. Saves below the stored
// value are no-ops, keeping the cursor monotonic.
func (s *Store) SaveCheckpoint(_ context.Context, workerID string, lastID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.checkpoints[workerID]
	if ok && cp.LastProcessedID >= lastID {
		return nil
	}
	s.checkpoints[workerID] = &event.Checkpoint{
		WorkerID:        workerID,
		LastProcessedID: lastID,
		UpdatedAt:       time.Now().UTC(),
	}
	return nil
}

// ──────────────────────────────────────────────────
// event.DedupStore
// ──────────────────────────────────────────────────

func dedupKey(tenantID string, sourceID int64) string {
	return fmt.Sprintf("%s:%d", tenantID, sourceID)
}

// MarkProcessed atomically claims the (tenant, sourceID) pair.
func (s *Store) MarkProcessed(_ context.Context, tenantID string, sourceID int64, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dedupKey(tenantID, sourceID)
	now := time.Now()
	if expiry, ok := s.dedup[key]; ok && expiry.After(now) {
		return false, nil
	}
	s.dedup[key] = now.Add(ttl)
	return true, nil
}

// UnmarkProcessed releases a dedup claim.
func (s *Store) UnmarkProcessed(_ context.Context, tenantID string, sourceID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.dedup, dedupKey(tenantID, sourceID))
	return nil
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

func pairingKey(d *delivery.AttemptLog) string {
	if d.SourceID != 0 {
		return fmt.Sprintf("%s|%s|%d", d.RuleID, d.TenantID, d.SourceID)
	}
	// Schedule-originated logs are unique per fire.
	return d.ID.String()
}

// EnqueueAttempts creates pending logs. A duplicate (rule, tenant, source)
// pairing is ignored, not duplicated.
func (s *Store) EnqueueAttempts(_ context.Context, logs []*delivery.AttemptLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range logs {
		key := pairingKey(d)
		if _, ok := s.attemptKeys[key]; ok {
			continue
		}
		s.attemptKeys[key] = d.ID.String()
		s.attempts[d.ID.String()] = d
	}
	return nil
}

// copyAttempt returns a shallow copy of the attempt log.
func copyAttempt(d *delivery.AttemptLog) *delivery.AttemptLog {
	cp := *d
	return &cp
}

// DequeueDue claims due PENDING and RETRYING logs, moving each to
// IN_PROGRESS. Returns copies so callers can mutate without the lock.
func (s *Store) DequeueDue(_ context.Context, limit int) ([]*delivery.AttemptLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	candidates := make([]*delivery.AttemptLog, 0, len(s.attempts))

	for _, d := range s.attempts {
		if d.Status != delivery.StatusPending && d.Status != delivery.StatusRetrying {
			continue
		}
		if d.NextAttemptAt.After(now) {
			continue
		}
		if s.locked[d.ID.String()] {
			continue
		}
		candidates = append(candidates, d)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].NextAttemptAt.Before(candidates[j].NextAttemptAt)
	})

	if limit > 0 && limit < len(candidates) {
		candidates = candidates[:limit]
	}

	result := make([]*delivery.AttemptLog, 0, len(candidates))
	for _, d := range candidates {
		d.Status = delivery.StatusInProgress
		s.locked[d.ID.String()] = true
		result = append(result, copyAttempt(d))
	}

	return result, nil
}

// UpdateAttempt persists an attempt outcome and releases the claim.
func (s *Store) UpdateAttempt(_ context.Context, d *delivery.AttemptLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.attempts[d.ID.String()]; !ok {
		return hookpipe.ErrAttemptNotFound
	}
	d.UpdatedAt = time.Now().UTC()
	s.attempts[d.ID.String()] = copyAttempt(d)
	delete(s.locked, d.ID.String())
	return nil
}

// GetAttempt returns a copy of the attempt log by ID.
func (s *Store) GetAttempt(_ context.Context, logID id.ID) (*delivery.AttemptLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.attempts[logID.String()]
	if !ok {
		return nil, hookpipe.ErrAttemptNotFound
	}
	return copyAttempt(d), nil
}

// ListAttempts returns attempt logs matching the options.
func (s *Store) ListAttempts(_ context.Context, opts delivery.ListOpts) ([]*delivery.AttemptLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.AttemptLog, 0, len(s.attempts))
	for _, d := range s.attempts {
		if !matchAttemptOpts(d, opts) {
			continue
		}
		result = append(result, copyAttempt(d))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ListAttemptsByRule returns delivery history for a rule.
func (s *Store) ListAttemptsByRule(_ context.Context, ruleID id.ID, opts delivery.ListOpts) ([]*delivery.AttemptLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.AttemptLog, 0, len(s.attempts))
	for _, d := range s.attempts {
		if d.RuleID.String() != ruleID.String() {
			continue
		}
		if !matchAttemptOpts(d, opts) {
			continue
		}
		result = append(result, copyAttempt(d))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// CountAttempts returns the number of logs in the given status.
func (s *Store) CountAttempts(_ context.Context, status delivery.Status) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, d := range s.attempts {
		if d.Status == status {
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// dlq.Store
// ──────────────────────────────────────────────────

// Push moves a permanently failed delivery into the DLQ.
func (s *Store) Push(_ context.Context, entry *dlq.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dlqEntries[entry.ID.String()] = entry
	return nil
}

// ListDLQ returns DLQ entries, optionally filtered.
func (s *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(s.dlqEntries))
	for _, e := range s.dlqEntries {
		if opts.TenantID != "" && e.TenantID != opts.TenantID {
			continue
		}
		if opts.RuleID != nil && e.RuleID.String() != opts.RuleID.String() {
			continue
		}
		if opts.Category != nil && e.Category != *opts.Category {
			continue
		}
		if opts.From != nil && e.FailedAt.Before(*opts.From) {
			continue
		}
		if opts.To != nil && e.FailedAt.After(*opts.To) {
			continue
		}
		if opts.Unreplayed && e.ReplayedAt != nil {
			continue
		}
		result = append(result, e)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].FailedAt.After(result[j].FailedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// GetDLQ returns a DLQ entry by ID.
func (s *Store) GetDLQ(_ context.Context, dlqID id.ID) (*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.dlqEntries[dlqID.String()]
	if !ok {
		return nil, hookpipe.ErrDLQNotFound
	}
	return e, nil
}

// Replay re-arms the entry's attempt log in place: same row, fresh
// attempt budget, message ID preserved.
func (s *Store) Replay(_ context.Context, dlqID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.dlqEntries[dlqID.String()]
	if !ok {
		return hookpipe.ErrDLQNotFound
	}
	return s.replayLocked(e)
}

func (s *Store) replayLocked(e *dlq.Entry) error {
	d, ok := s.attempts[e.AttemptLogID.String()]
	if !ok {
		return hookpipe.ErrAttemptNotFound
	}

	now := time.Now().UTC()
	d.Status = delivery.StatusPending
	d.AttemptCount = 0
	d.Category = ""
	d.LastError = ""
	d.LastStatusCode = 0
	d.LastResponse = ""
	d.NextAttemptAt = now
	d.CompletedAt = nil
	d.UpdatedAt = now

	e.ReplayedAt = &now
	return nil
}

// ReplayBulk replays all unreplayed DLQ entries in a time window.
func (s *Store) ReplayBulk(_ context.Context, from, to time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, e := range s.dlqEntries {
		if e.FailedAt.Before(from) || e.FailedAt.After(to) {
			continue
		}
		if e.ReplayedAt != nil {
			continue
		}
		if err := s.replayLocked(e); err != nil {
			continue
		}
		count++
	}
	return count, nil
}

// Purge deletes DLQ entries that failed before the threshold.
func (s *Store) Purge(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for k, e := range s.dlqEntries {
		if e.FailedAt.Before(before) {
			delete(s.dlqEntries, k)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the total number of DLQ entries.
func (s *Store) CountDLQ(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.dlqEntries)), nil
}

// ──────────────────────────────────────────────────
// schedule.Store
// ──────────────────────────────────────────────────

// CreateSchedule persists a new scheduled delivery. A duplicate
// (rule, tenant, source) pairing from event fan-out is ignored so a
// replayed dispatch cannot double-schedule.
func (s *Store) CreateSchedule(_ context.Context, sch *schedule.ScheduledDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sch.SourceID != 0 {
		key := fmt.Sprintf("%s|%s|%d", sch.RuleID, sch.TenantID, sch.SourceID)
		if _, ok := s.scheduleKeys[key]; ok {
			return nil
		}
		s.scheduleKeys[key] = sch.ID.String()
	}
	s.schedules[sch.ID.String()] = sch
	return nil
}

// GetSchedule returns a schedule by ID.
func (s *Store) GetSchedule(_ context.Context, schID id.ID) (*schedule.ScheduledDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sch, ok := s.schedules[schID.String()]
	if !ok {
		return nil, hookpipe.ErrScheduleNotFound
	}
	return sch, nil
}

// ListSchedules returns schedules matching the options.
func (s *Store) ListSchedules(_ context.Context, opts schedule.ListOpts) ([]*schedule.ScheduledDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*schedule.ScheduledDelivery, 0, len(s.schedules))
	for _, sch := range s.schedules {
		if opts.TenantID != "" && sch.TenantID != opts.TenantID {
			continue
		}
		if opts.RuleID != nil && sch.RuleID.String() != opts.RuleID.String() {
			continue
		}
		if opts.Status != nil && sch.Status != *opts.Status {
			continue
		}
		result = append(result, sch)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ScheduledFor.Before(result[j].ScheduledFor)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ClaimDueSchedules atomically moves due PENDING schedules to FIRED and
// returns copies.
func (s *Store) ClaimDueSchedules(_ context.Context, now time.Time, limit int) ([]*schedule.ScheduledDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]*schedule.ScheduledDelivery, 0, len(s.schedules))
	for _, sch := range s.schedules {
		if sch.Status != schedule.StatusPending {
			continue
		}
		if sch.ScheduledFor.After(now) {
			continue
		}
		candidates = append(candidates, sch)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ScheduledFor.Before(candidates[j].ScheduledFor)
	})

	if limit > 0 && limit < len(candidates) {
		candidates = candidates[:limit]
	}

	result := make([]*schedule.ScheduledDelivery, 0, len(candidates))
	for _, sch := range candidates {
		sch.Status = schedule.StatusFired
		cp := *sch
		result = append(result, &cp)
	}
	return result, nil
}

// UpdateSchedule persists schedule mutations.
func (s *Store) UpdateSchedule(_ context.Context, sch *schedule.ScheduledDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[sch.ID.String()]; !ok {
		return hookpipe.ErrScheduleNotFound
	}
	sch.UpdatedAt = time.Now().UTC()
	cp := *sch
	s.schedules[sch.ID.String()] = &cp
	return nil
}

// CancelSchedule marks a PENDING schedule cancelled.
func (s *Store) CancelSchedule(_ context.Context, schID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sch, ok := s.schedules[schID.String()]
	if !ok {
		return hookpipe.ErrScheduleNotFound
	}
	if sch.Status != schedule.StatusPending {
		return nil
	}
	sch.Status = schedule.StatusCancelled
	sch.UpdatedAt = time.Now().UTC()
	return nil
}

// ──────────────────────────────────────────────────
// transform.LookupStore
// ──────────────────────────────────────────────────

func lookupKey(tenantID, name string) string {
	return tenantID + ":" + name
}

// UpsertLookupTable creates or replaces a table.
func (s *Store) UpsertLookupTable(_ context.Context, table *transform.LookupTable) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lookups[lookupKey(table.TenantID, table.Name)] = table
	return nil
}

// GetLookupTable returns a table by tenant and name.
func (s *Store) GetLookupTable(_ context.Context, tenantID, name string) (*transform.LookupTable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.lookups[lookupKey(tenantID, name)]
	if !ok {
		return nil, hookpipe.ErrLookupTableNotFound
	}
	return t, nil
}

// DeleteLookupTable removes a table.
func (s *Store) DeleteLookupTable(_ context.Context, tenantID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := lookupKey(tenantID, name)
	if _, ok := s.lookups[key]; !ok {
		return hookpipe.ErrLookupTableNotFound
	}
	delete(s.lookups, key)
	return nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func matchAttemptOpts(d *delivery.AttemptLog, opts delivery.ListOpts) bool {
	if opts.Status != nil && d.Status != *opts.Status {
		return false
	}
	if opts.Category != nil && d.Category != *opts.Category {
		return false
	}
	if opts.TenantID != "" && d.TenantID != opts.TenantID {
		return false
	}
	return true
}

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset >= len(items) && offset > 0 {
		return nil
	}

	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}
