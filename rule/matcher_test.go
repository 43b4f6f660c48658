package rule_test

import (
	"context"
	"testing"

	"github.com/hookpipe/hookpipe/rule"
	"github.com/hookpipe/hookpipe/store/memory"
)

func TestMatcherMatch(t *testing.T) {
	store := memory.New()
	svc := rule.NewService(store, nil)
	ctx := context.Background()

	tenant, err := svc.Create(ctx, rule.Input{
		TenantID: "tenant_1", EventType: "order.created", URL: "https://a.example.com/hook",
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	global, err := svc.Create(ctx, rule.Input{
		EventType: "order.created", URL: "https://b.example.com/hook", Global: true,
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if _, err := svc.Create(ctx, rule.Input{
		TenantID: "tenant_2", EventType: "order.created", URL: "https://c.example.com/hook",
	}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	m := rule.NewMatcher(store, nil)
	matched, err := m.Match(ctx, "tenant_1", "order.created")
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}
	if len(matched) != 2 {
		t.Fatalf("matched = %d rules, want tenant rule + global rule", len(matched))
	}
	seen := map[string]bool{}
	for _, r := range matched {
		seen[r.ID.String()] = true
	}
	if !seen[tenant.ID.String()] || !seen[global.ID.String()] {
		t.Error("match missed the tenant or global rule")
	}

	none, err := m.Match(ctx, "tenant_1", "order.shipped")
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("matched = %d rules for an unsubscribed type, want 0", len(none))
	}
}
