package hookpipe_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	hookpipe "github.com/hookpipe/hookpipe"
	"github.com/hookpipe/hookpipe/delivery"
	"github.com/hookpipe/hookpipe/event"
	"github.com/hookpipe/hookpipe/rule"
	"github.com/hookpipe/hookpipe/schedule"
	"github.com/hookpipe/hookpipe/store/memory"
)

func TestNewRequiresStore(t *testing.T) {
	if _, err := hookpipe.New(); !errors.Is(err, hookpipe.ErrNoStore) {
		t.Errorf("New() error = %v, want ErrNoStore", err)
	}
}

func TestNewWithOptions(t *testing.T) {
	g, err := hookpipe.New(
		hookpipe.WithStore(memory.New()),
		hookpipe.WithWorkerID("test-worker"),
		hookpipe.WithConcurrency(4),
		hookpipe.WithPollInterval(20*time.Millisecond),
		hookpipe.WithTickTimeout(time.Second),
		hookpipe.WithBatchSize(5),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if g.Rules() == nil || g.DLQ() == nil || g.Schedules() == nil || g.Store() == nil {
		t.Error("service accessors returned nil")
	}
}

func TestIngestRequiresType(t *testing.T) {
	g, err := hookpipe.New(hookpipe.WithStore(memory.New()))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := g.Ingest(context.Background(), &event.Event{TenantID: "tenant_1"}); err == nil {
		t.Error("Ingest() accepted an event without a type")
	}
}

func TestDispatchFansOutImmediateRules(t *testing.T) {
	store := memory.New()
	g, err := hookpipe.New(hookpipe.WithStore(store))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ctx := context.Background()

	mkRule := func(in rule.Input) *rule.Rule {
		t.Helper()
		created, createErr := g.Rules().Create(ctx, in)
		if createErr != nil {
			t.Fatalf("Create() error: %v", createErr)
		}
		return created
	}

	r1 := mkRule(rule.Input{TenantID: "tenant_1", EventType: "order.created", URL: "https://a.example.com/hook"})
	r2 := mkRule(rule.Input{TenantID: "tenant_1", EventType: "order.created", URL: "https://b.example.com/hook"})
	mkRule(rule.Input{TenantID: "tenant_1", EventType: "order.shipped", URL: "https://c.example.com/hook"})

	evt := &event.Event{SourceID: 1, TenantID: "tenant_1", Type: "order.created", Payload: []byte(`{}`)}
	if err := g.Dispatch(ctx, evt); err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	logs, err := store.ListAttempts(ctx, delivery.ListOpts{})
	if err != nil {
		t.Fatalf("ListAttempts() error: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("attempt logs = %d, want one per matching rule", len(logs))
	}

	seen := map[string]bool{}
	for _, log := range logs {
		seen[log.RuleID.String()] = true
		if log.Status != delivery.StatusPending {
			t.Errorf("Status = %q, want pending", log.Status)
		}
		if log.MaxAttempts != rule.DefaultRetry.MaxAttempts {
			t.Errorf("MaxAttempts = %d, want the rule's budget", log.MaxAttempts)
		}
		if log.MessageID.IsNil() {
			t.Error("MessageID not assigned")
		}
	}
	if !seen[r1.ID.String()] || !seen[r2.ID.String()] {
		t.Error("fan-out missed a matching rule")
	}
}

func TestDispatchDefersNonImmediateRules(t *testing.T) {
	store := memory.New()
	g, err := hookpipe.New(hookpipe.WithStore(store))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ctx := context.Background()

	if _, err := g.Rules().Create(ctx, rule.Input{
		TenantID:  "tenant_1",
		EventType: "report.requested",
		URL:       "https://example.com/hook",
		Mode:      rule.ModeConfig{Kind: rule.ModeDelayed, Delay: time.Hour},
	}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	evt := &event.Event{SourceID: 1, TenantID: "tenant_1", Type: "report.requested", Payload: []byte(`{}`)}
	if err := g.Dispatch(ctx, evt); err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	logs, _ := store.ListAttempts(ctx, delivery.ListOpts{})
	if len(logs) != 0 {
		t.Errorf("attempt logs = %d, want 0 for a deferred rule", len(logs))
	}

	schedules, err := g.Schedules().List(ctx, schedule.ListOpts{TenantID: "tenant_1"})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(schedules) != 1 {
		t.Fatalf("schedules = %d, want 1", len(schedules))
	}
	if schedules[0].Status != schedule.StatusPending {
		t.Errorf("Status = %q, want pending", schedules[0].Status)
	}
}

func TestGatewayEndToEnd(t *testing.T) {
	var delivered atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		delivered.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := memory.New()
	g, err := hookpipe.New(
		hookpipe.WithStore(store),
		hookpipe.WithPollInterval(20*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ctx := context.Background()

	if _, err := g.Rules().Create(ctx, rule.Input{
		TenantID:  "tenant_1",
		EventType: "order.created",
		URL:       srv.URL,
	}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	g.Start(ctx)
	defer g.Stop(ctx)

	if err := g.Ingest(ctx, &event.Event{
		TenantID: "tenant_1",
		Type:     "order.created",
		Payload:  []byte(`{"order":"ord_1"}`),
	}); err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if delivered.Load() == 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if delivered.Load() != 1 {
		t.Fatalf("deliveries observed = %d, want 1", delivered.Load())
	}

	// The ingested event was appended, polled, claimed, and delivered.
	success, err := store.CountAttempts(ctx, delivery.StatusSuccess)
	if err != nil {
		t.Fatalf("CountAttempts() error: %v", err)
	}
	if success != 1 {
		t.Errorf("successful attempts = %d, want 1", success)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := hookpipe.DefaultConfig()
	if cfg.DedupTTL != time.Hour {
		t.Errorf("DedupTTL = %v, want 1h", cfg.DedupTTL)
	}
	if cfg.SandboxTimeout != 60*time.Second {
		t.Errorf("SandboxTimeout = %v, want 60s", cfg.SandboxTimeout)
	}
	if cfg.TickTimeout <= 0 {
		t.Errorf("TickTimeout = %v, want a positive bound", cfg.TickTimeout)
	}
}

func TestDispatchReplayDoesNotDuplicateSchedules(t *testing.T) {
	store := memory.New()
	g, err := hookpipe.New(hookpipe.WithStore(store))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ctx := context.Background()

	if _, err := g.Rules().Create(ctx, rule.Input{
		TenantID:  "tenant_1",
		EventType: "report.requested",
		URL:       "https://example.com/hook",
		Mode:      rule.ModeConfig{Kind: rule.ModeDelayed, Delay: time.Hour},
	}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	evt := &event.Event{SourceID: 7, TenantID: "tenant_1", Type: "report.requested", Payload: []byte(`{}`)}

	// A dispatch replayed after a mid-batch failure must not schedule the
	// same event twice.
	if err := g.Dispatch(ctx, evt); err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if err := g.Dispatch(ctx, evt); err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	schedules, err := g.Schedules().List(ctx, schedule.ListOpts{TenantID: "tenant_1"})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(schedules) != 1 {
		t.Errorf("schedules = %d, want 1", len(schedules))
	}
}
