package rule_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	hookpipe "github.com/hookpipe/hookpipe"
	"github.com/hookpipe/hookpipe/id"
	"github.com/hookpipe/hookpipe/rule"
	"github.com/hookpipe/hookpipe/store/memory"
)

func newService(t *testing.T) *rule.Service {
	t.Helper()
	return rule.NewService(memory.New(), nil)
}

func validInput() rule.Input {
	return rule.Input{
		TenantID:  "tenant_1",
		Name:      "order notifications",
		EventType: "order.created",
		URL:       "https://example.com/hook",
	}
}

func TestCreateAppliesDefaults(t *testing.T) {
	svc := newService(t)

	created, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if created.Method != "POST" {
		t.Errorf("Method = %q, want POST", created.Method)
	}
	if created.ContentType != "application/json" {
		t.Errorf("ContentType = %q", created.ContentType)
	}
	if created.Auth.Kind != rule.AuthNone {
		t.Errorf("Auth.Kind = %q, want none", created.Auth.Kind)
	}
	if created.Mode.Kind != rule.ModeImmediate {
		t.Errorf("Mode.Kind = %q, want immediate", created.Mode.Kind)
	}
	if created.Retry != rule.DefaultRetry {
		t.Errorf("Retry = %+v, want defaults", created.Retry)
	}
	if !created.Active {
		t.Error("Active = false, want true on create")
	}
	if created.Version != 1 {
		t.Errorf("Version = %d, want 1", created.Version)
	}
	if !strings.HasPrefix(created.PrimarySecret(), "whsec_") {
		t.Errorf("PrimarySecret() = %q, want generated whsec_ secret", created.PrimarySecret())
	}
}

func TestCreateValidation(t *testing.T) {
	svc := newService(t)

	tests := []struct {
		name   string
		mutate func(*rule.Input)
		field  string
	}{
		{"bad url", func(in *rule.Input) { in.URL = "not a url" }, "url"},
		{"missing tenant", func(in *rule.Input) { in.TenantID = "" }, "tenant_id"},
		{"missing event type", func(in *rule.Input) { in.EventType = "" }, "event_type"},
		{
			"bearer without token",
			func(in *rule.Input) { in.Auth = rule.AuthConfig{Kind: rule.AuthBearer} },
			"auth.bearer",
		},
		{
			"delayed without delay",
			func(in *rule.Input) { in.Mode = rule.ModeConfig{Kind: rule.ModeDelayed} },
			"mode.delay",
		},
		{
			"recurring with bad cron",
			func(in *rule.Input) { in.Mode = rule.ModeConfig{Kind: rule.ModeRecurring, Spec: "not cron"} },
			"mode.spec",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)

			_, err := svc.Create(context.Background(), in)
			var verr *rule.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error = %v, want *ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestCreateGlobalRule(t *testing.T) {
	svc := newService(t)

	in := validInput()
	in.TenantID = ""
	in.Global = true

	created, err := svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if created.TenantID != "" {
		t.Errorf("TenantID = %q, want empty for global rule", created.TenantID)
	}
}

func TestUpdate(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	updated, err := svc.Update(ctx, created.ID, rule.Input{
		URL:  "https://example.com/v2/hook",
		Name: "renamed",
	})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	if updated.URL != "https://example.com/v2/hook" {
		t.Errorf("URL = %q", updated.URL)
	}
	if updated.Name != "renamed" {
		t.Errorf("Name = %q", updated.Name)
	}
	if updated.Version != 2 {
		t.Errorf("Version = %d, want 2", updated.Version)
	}
	// Unset fields keep their previous values.
	if updated.EventType != "order.created" {
		t.Errorf("EventType = %q, want unchanged", updated.EventType)
	}
}

func TestUpdateNotFound(t *testing.T) {
	svc := newService(t)

	_, err := svc.Update(context.Background(), id.NewRuleID(), rule.Input{Name: "x"})
	if !errors.Is(err, hookpipe.ErrRuleNotFound) {
		t.Errorf("error = %v, want ErrRuleNotFound", err)
	}
}

func TestRotateSecret(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	original := created.PrimarySecret()

	rotated, err := svc.RotateSecret(ctx, created.ID)
	if err != nil {
		t.Fatalf("RotateSecret() error: %v", err)
	}
	if rotated == original {
		t.Error("rotation returned the old secret")
	}

	r, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if r.PrimarySecret() != rotated {
		t.Errorf("PrimarySecret() = %q, want the rotated secret", r.PrimarySecret())
	}
	// The previous primary stays as a grace-period secret.
	if len(r.Secrets) != 2 || r.Secrets[1] != original {
		t.Errorf("Secrets = %d entries, want old secret retained", len(r.Secrets))
	}
}

func TestRotateSecretCapsGraceList(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	for range 5 {
		if _, err := svc.RotateSecret(ctx, created.ID); err != nil {
			t.Fatalf("RotateSecret() error: %v", err)
		}
	}

	r, _ := svc.Get(ctx, created.ID)
	if len(r.Secrets) != 3 {
		t.Errorf("Secrets = %d entries, want primary plus two grace secrets", len(r.Secrets))
	}
}

func TestExpireGraceSecrets(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	created, _ := svc.Create(ctx, validInput())
	if _, err := svc.RotateSecret(ctx, created.ID); err != nil {
		t.Fatalf("RotateSecret() error: %v", err)
	}

	if err := svc.ExpireGraceSecrets(ctx, created.ID); err != nil {
		t.Fatalf("ExpireGraceSecrets() error: %v", err)
	}

	r, _ := svc.Get(ctx, created.ID)
	if len(r.Secrets) != 1 {
		t.Errorf("Secrets = %d entries, want 1 after expiry", len(r.Secrets))
	}
}

func TestSetActive(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	created, _ := svc.Create(ctx, validInput())
	if err := svc.SetActive(ctx, created.ID, false); err != nil {
		t.Fatalf("SetActive() error: %v", err)
	}

	r, _ := svc.Get(ctx, created.ID)
	if r.Active {
		t.Error("Active = true after deactivation")
	}
}

func TestListFiltering(t *testing.T) {
	store := memory.New()
	svc := rule.NewService(store, nil)
	ctx := context.Background()

	mustCreate := func(in rule.Input) {
		t.Helper()
		if _, err := svc.Create(ctx, in); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
	}

	mustCreate(validInput())
	in2 := validInput()
	in2.EventType = "order.shipped"
	mustCreate(in2)
	in3 := validInput()
	in3.TenantID = "tenant_2"
	mustCreate(in3)

	all, err := svc.List(ctx, "tenant_1", rule.ListOpts{})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("List(tenant_1) = %d rules, want 2", len(all))
	}

	byType, _ := svc.List(ctx, "tenant_1", rule.ListOpts{EventType: "order.shipped"})
	if len(byType) != 1 {
		t.Errorf("List(event_type) = %d rules, want 1", len(byType))
	}
}
