package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	hookpipe "github.com/hookpipe/hookpipe"
	"github.com/hookpipe/hookpipe/delivery"
	"github.com/hookpipe/hookpipe/event"
	"github.com/hookpipe/hookpipe/id"
	"github.com/hookpipe/hookpipe/internal/entity"
	"github.com/hookpipe/hookpipe/rule"
	"github.com/hookpipe/hookpipe/schedule"
	"github.com/hookpipe/hookpipe/store/memory"
	"github.com/hookpipe/hookpipe/transform"
)

func newRule(tenantID, eventType string, active bool) *rule.Rule {
	return &rule.Rule{
		Entity:    entity.New(),
		ID:        id.NewRuleID(),
		TenantID:  tenantID,
		EventType: eventType,
		URL:       "https://example.com/hook",
		Active:    active,
	}
}

func newAttempt(ruleID id.ID, sourceID int64, due time.Time) *delivery.AttemptLog {
	return &delivery.AttemptLog{
		Entity:        entity.New(),
		ID:            id.NewDeliveryID(),
		RuleID:        ruleID,
		TenantID:      "tenant_1",
		EventType:     "order.created",
		SourceID:      sourceID,
		MessageID:     id.NewMessageID(),
		Payload:       []byte(`{}`),
		Status:        delivery.StatusPending,
		MaxAttempts:   3,
		NextAttemptAt: due,
	}
}

func TestRuleCRUD(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	r := newRule("tenant_1", "order.created", true)
	if err := s.CreateRule(ctx, r); err != nil {
		t.Fatalf("CreateRule() error: %v", err)
	}

	got, err := s.GetRule(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRule() error: %v", err)
	}
	if got.ID != r.ID {
		t.Errorf("GetRule() returned %v", got.ID)
	}

	if err := s.DeleteRule(ctx, r.ID); err != nil {
		t.Fatalf("DeleteRule() error: %v", err)
	}
	if _, err := s.GetRule(ctx, r.ID); !errors.Is(err, hookpipe.ErrRuleNotFound) {
		t.Errorf("GetRule() after delete = %v, want ErrRuleNotFound", err)
	}
	if err := s.DeleteRule(ctx, r.ID); !errors.Is(err, hookpipe.ErrRuleNotFound) {
		t.Errorf("second DeleteRule() = %v, want ErrRuleNotFound", err)
	}
}

func TestMatchRules(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	tenant := newRule("tenant_1", "order.created", true)
	global := newRule("", "order.created", true)
	inactive := newRule("tenant_1", "order.created", false)
	otherType := newRule("tenant_1", "order.shipped", true)
	otherTenant := newRule("tenant_2", "order.created", true)

	for _, r := range []*rule.Rule{tenant, global, inactive, otherType, otherTenant} {
		if err := s.CreateRule(ctx, r); err != nil {
			t.Fatalf("CreateRule() error: %v", err)
		}
	}

	matched, err := s.MatchRules(ctx, "tenant_1", "order.created")
	if err != nil {
		t.Fatalf("MatchRules() error: %v", err)
	}
	if len(matched) != 2 {
		t.Fatalf("MatchRules() = %d rules, want tenant rule + global default", len(matched))
	}
	ids := map[string]bool{}
	for _, r := range matched {
		ids[r.ID.String()] = true
	}
	if !ids[tenant.ID.String()] || !ids[global.ID.String()] {
		t.Errorf("MatchRules() returned wrong set")
	}
}

func TestDequeueDueClaims(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	due := newAttempt(id.NewRuleID(), 1, now.Add(-time.Second))
	future := newAttempt(id.NewRuleID(), 2, now.Add(time.Hour))
	if err := s.EnqueueAttempts(ctx, []*delivery.AttemptLog{due, future}); err != nil {
		t.Fatalf("EnqueueAttempts() error: %v", err)
	}

	batch, err := s.DequeueDue(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueDue() error: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("DequeueDue() = %d logs, want only the due one", len(batch))
	}
	if batch[0].ID != due.ID {
		t.Errorf("claimed %v, want %v", batch[0].ID, due.ID)
	}
	if batch[0].Status != delivery.StatusInProgress {
		t.Errorf("Status = %q, want in_progress", batch[0].Status)
	}

	// A second dequeue finds nothing: the claim is exclusive.
	again, _ := s.DequeueDue(ctx, 10)
	if len(again) != 0 {
		t.Errorf("second DequeueDue() = %d logs, want 0", len(again))
	}
}

func TestEnqueueAttemptsPairingIdempotent(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	ruleID := id.NewRuleID()

	first := newAttempt(ruleID, 7, time.Now().UTC())
	duplicate := newAttempt(ruleID, 7, time.Now().UTC())

	if err := s.EnqueueAttempts(ctx, []*delivery.AttemptLog{first}); err != nil {
		t.Fatalf("EnqueueAttempts() error: %v", err)
	}
	if err := s.EnqueueAttempts(ctx, []*delivery.AttemptLog{duplicate}); err != nil {
		t.Fatalf("EnqueueAttempts() error: %v", err)
	}

	logs, _ := s.ListAttempts(ctx, delivery.ListOpts{})
	if len(logs) != 1 {
		t.Errorf("logs = %d, want duplicate pairing ignored", len(logs))
	}

	// Schedule-originated logs (no source ID) are never deduplicated.
	s1 := newAttempt(ruleID, 0, time.Now().UTC())
	s2 := newAttempt(ruleID, 0, time.Now().UTC())
	if err := s.EnqueueAttempts(ctx, []*delivery.AttemptLog{s1, s2}); err != nil {
		t.Fatalf("EnqueueAttempts() error: %v", err)
	}
	logs, _ = s.ListAttempts(ctx, delivery.ListOpts{})
	if len(logs) != 3 {
		t.Errorf("logs = %d, want 3", len(logs))
	}
}

func TestListAttemptsFilters(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	ruleID := id.NewRuleID()

	a := newAttempt(ruleID, 1, time.Now().UTC())
	b := newAttempt(ruleID, 2, time.Now().UTC())
	b.Status = delivery.StatusAbandoned
	b.Category = delivery.CategoryServerError
	c := newAttempt(id.NewRuleID(), 3, time.Now().UTC())
	c.TenantID = "tenant_2"

	if err := s.EnqueueAttempts(ctx, []*delivery.AttemptLog{a, b, c}); err != nil {
		t.Fatalf("EnqueueAttempts() error: %v", err)
	}

	abandoned := delivery.StatusAbandoned
	byStatus, _ := s.ListAttempts(ctx, delivery.ListOpts{Status: &abandoned})
	if len(byStatus) != 1 || byStatus[0].ID != b.ID {
		t.Errorf("ListAttempts(status) = %d logs", len(byStatus))
	}

	byTenant, _ := s.ListAttempts(ctx, delivery.ListOpts{TenantID: "tenant_2"})
	if len(byTenant) != 1 || byTenant[0].ID != c.ID {
		t.Errorf("ListAttempts(tenant) = %d logs", len(byTenant))
	}

	byRule, _ := s.ListAttemptsByRule(ctx, ruleID, delivery.ListOpts{})
	if len(byRule) != 2 {
		t.Errorf("ListAttemptsByRule() = %d logs, want 2", len(byRule))
	}

	pending, _ := s.CountAttempts(ctx, delivery.StatusPending)
	if pending != 2 {
		t.Errorf("CountAttempts(pending) = %d, want 2", pending)
	}
}

func TestGetAttemptNotFound(t *testing.T) {
	s := memory.New()
	if _, err := s.GetAttempt(context.Background(), id.NewDeliveryID()); !errors.Is(err, hookpipe.ErrAttemptNotFound) {
		t.Errorf("GetAttempt() = %v, want ErrAttemptNotFound", err)
	}
}

func TestPollEvents(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.AppendEvent(ctx, &event.Event{TenantID: "tenant_1", Type: "t", Payload: []byte(`{}`)}); err != nil {
			t.Fatalf("AppendEvent() error: %v", err)
		}
	}

	got, err := s.PollEvents(ctx, 2, 2)
	if err != nil {
		t.Fatalf("PollEvents() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("PollEvents() = %d events, want 2", len(got))
	}
	if got[0].SourceID != 3 || got[1].SourceID != 4 {
		t.Errorf("SourceIDs = %d,%d, want 3,4", got[0].SourceID, got[1].SourceID)
	}
}

func TestLookupTables(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	table := &transform.LookupTable{
		TenantID: "tenant_1",
		Name:     "carriers",
		Entries:  map[string]string{"01": "ups"},
	}
	if err := s.UpsertLookupTable(ctx, table); err != nil {
		t.Fatalf("UpsertLookupTable() error: %v", err)
	}

	got, err := s.GetLookupTable(ctx, "tenant_1", "carriers")
	if err != nil {
		t.Fatalf("GetLookupTable() error: %v", err)
	}
	if got.Entries["01"] != "ups" {
		t.Errorf("Entries = %v", got.Entries)
	}

	// Tables are tenant scoped.
	if _, err := s.GetLookupTable(ctx, "tenant_2", "carriers"); !errors.Is(err, hookpipe.ErrLookupTableNotFound) {
		t.Errorf("cross-tenant GetLookupTable() = %v, want ErrLookupTableNotFound", err)
	}

	if err := s.DeleteLookupTable(ctx, "tenant_1", "carriers"); err != nil {
		t.Fatalf("DeleteLookupTable() error: %v", err)
	}
	if _, err := s.GetLookupTable(ctx, "tenant_1", "carriers"); !errors.Is(err, hookpipe.ErrLookupTableNotFound) {
		t.Errorf("GetLookupTable() after delete = %v, want ErrLookupTableNotFound", err)
	}
}

func TestCreateSchedulePairingIdempotent(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	ruleID := id.NewRuleID()

	mk := func(sourceID int64) *schedule.ScheduledDelivery {
		return &schedule.ScheduledDelivery{
			Entity:       entity.New(),
			ID:           id.NewScheduleID(),
			RuleID:       ruleID,
			TenantID:     "tenant_1",
			EventType:    "report.requested",
			SourceID:     sourceID,
			Payload:      []byte(`{}`),
			ScheduledFor: time.Now().UTC().Add(time.Hour),
			Status:       schedule.StatusPending,
		}
	}

	// Same (rule, tenant, source) twice: the second create is a no-op.
	if err := store.CreateSchedule(ctx, mk(7)); err != nil {
		t.Fatalf("CreateSchedule() error: %v", err)
	}
	if err := store.CreateSchedule(ctx, mk(7)); err != nil {
		t.Fatalf("CreateSchedule() error: %v", err)
	}
	// A different source event and a script-created schedule (source 0)
	// both land.
	if err := store.CreateSchedule(ctx, mk(8)); err != nil {
		t.Fatalf("CreateSchedule() error: %v", err)
	}
	if err := store.CreateSchedule(ctx, mk(0)); err != nil {
		t.Fatalf("CreateSchedule() error: %v", err)
	}
	if err := store.CreateSchedule(ctx, mk(0)); err != nil {
		t.Fatalf("CreateSchedule() error: %v", err)
	}

	schedules, err := store.ListSchedules(ctx, schedule.ListOpts{TenantID: "tenant_1"})
	if err != nil {
		t.Fatalf("ListSchedules() error: %v", err)
	}
	if len(schedules) != 4 {
		t.Errorf("schedules = %d, want 4 (one pair deduped)", len(schedules))
	}
}
