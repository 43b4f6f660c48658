package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hookpipe/hookpipe/api"
	"github.com/hookpipe/hookpipe/delivery"
	"github.com/hookpipe/hookpipe/dlq"
	"github.com/hookpipe/hookpipe/id"
	"github.com/hookpipe/hookpipe/internal/entity"
	"github.com/hookpipe/hookpipe/rule"
	"github.com/hookpipe/hookpipe/schedule"
	"github.com/hookpipe/hookpipe/store/memory"
)

type testAPI struct {
	srv   *httptest.Server
	store *memory.Store
	rules *rule.Service
	dlqs  *dlq.Service
}

func setup(t *testing.T) *testAPI {
	t.Helper()

	store := memory.New()
	ruleSvc := rule.NewService(store, nil)
	dlqSvc := dlq.NewService(store, nil)
	scheduleSvc := schedule.NewService(store, nil)

	h := api.NewHandler(store, ruleSvc, dlqSvc, scheduleSvc, nil)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return &testAPI{srv: srv, store: store, rules: ruleSvc, dlqs: dlqSvc}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, a.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest() error: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (a *testAPI) createRule(t *testing.T) *rule.Rule {
	t.Helper()
	created, err := a.rules.Create(context.Background(), rule.Input{
		TenantID:  "tenant_1",
		Name:      "orders",
		EventType: "order.created",
		URL:       "https://example.com/hook",
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	return created
}

func TestCreateRuleEndpoint(t *testing.T) {
	a := setup(t)

	resp, body := a.do(t, http.MethodPost, "/rules", map[string]any{
		"tenant_id":  "tenant_1",
		"name":       "orders",
		"event_type": "order.created",
		"url":        "https://example.com/hook",
		"rate_limit": map[string]any{"max_requests": 100, "window": "1m"},
	})

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	// The signing secret is disclosed exactly once, on create.
	secret, _ := body["secret"].(string)
	if secret == "" {
		t.Error("secret missing from create response")
	}
	ruleBody, _ := body["rule"].(map[string]any)
	if ruleBody["event_type"] != "order.created" {
		t.Errorf("rule.event_type = %v", ruleBody["event_type"])
	}

	// The rule document itself never carries secrets.
	if _, ok := ruleBody["secrets"]; ok {
		t.Error("secrets serialized on the rule document")
	}
}

func TestCreateRuleValidationError(t *testing.T) {
	a := setup(t)

	resp, body := a.do(t, http.MethodPost, "/rules", map[string]any{
		"tenant_id": "tenant_1",
		"url":       "https://example.com/hook",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400, body = %v", resp.StatusCode, body)
	}
}

func TestGetRuleEndpoint(t *testing.T) {
	a := setup(t)
	created := a.createRule(t)

	resp, body := a.do(t, http.MethodGet, "/rules/"+created.ID.String(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["id"] != created.ID.String() {
		t.Errorf("id = %v", body["id"])
	}

	resp, _ = a.do(t, http.MethodGet, "/rules/"+id.NewRuleID().String(), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}

	resp, _ = a.do(t, http.MethodGet, "/rules/not-an-id", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status for malformed id = %d, want 400", resp.StatusCode)
	}
}

func TestUpdateRuleEndpoint(t *testing.T) {
	a := setup(t)
	created := a.createRule(t)

	resp, body := a.do(t, http.MethodPut, "/rules/"+created.ID.String(), map[string]any{
		"name": "renamed",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	if body["name"] != "renamed" {
		t.Errorf("name = %v", body["name"])
	}
	if body["version"] != float64(2) {
		t.Errorf("version = %v, want 2", body["version"])
	}
}

func TestActivateDeactivateEndpoints(t *testing.T) {
	a := setup(t)
	created := a.createRule(t)

	resp, _ := a.do(t, http.MethodPatch, "/rules/"+created.ID.String()+"/deactivate", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("deactivate status = %d, want 204", resp.StatusCode)
	}

	r, _ := a.rules.Get(context.Background(), created.ID)
	if r.Active {
		t.Error("rule still active after deactivate")
	}

	resp, _ = a.do(t, http.MethodPatch, "/rules/"+created.ID.String()+"/activate", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("activate status = %d, want 204", resp.StatusCode)
	}
	r, _ = a.rules.Get(context.Background(), created.ID)
	if !r.Active {
		t.Error("rule inactive after activate")
	}
}

func TestRotateSecretEndpoint(t *testing.T) {
	a := setup(t)
	created := a.createRule(t)
	original := created.PrimarySecret()

	resp, body := a.do(t, http.MethodPost, "/rules/"+created.ID.String()+"/rotate-secret", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	rotated, _ := body["secret"].(string)
	if rotated == "" || rotated == original {
		t.Errorf("secret = %q, want a fresh secret", rotated)
	}
}

func TestListRulesEndpoint(t *testing.T) {
	a := setup(t)
	a.createRule(t)
	a.createRule(t)

	resp, _ := a.do(t, http.MethodGet, "/rules?tenant_id=tenant_1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestAttemptEndpoints(t *testing.T) {
	a := setup(t)
	created := a.createRule(t)
	ctx := context.Background()

	d := &delivery.AttemptLog{
		Entity:        entity.New(),
		ID:            id.NewDeliveryID(),
		RuleID:        created.ID,
		TenantID:      "tenant_1",
		EventType:     "order.created",
		SourceID:      1,
		MessageID:     id.NewMessageID(),
		Payload:       []byte(`{}`),
		Status:        delivery.StatusPending,
		MaxAttempts:   3,
		NextAttemptAt: time.Now().UTC(),
	}
	if err := a.store.EnqueueAttempts(ctx, []*delivery.AttemptLog{d}); err != nil {
		t.Fatalf("EnqueueAttempts() error: %v", err)
	}

	resp, body := a.do(t, http.MethodGet, "/attempts/"+d.ID.String(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get attempt status = %d", resp.StatusCode)
	}
	if body["status"] != "pending" {
		t.Errorf("status field = %v", body["status"])
	}

	resp, _ = a.do(t, http.MethodGet, "/attempts?status=pending", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("list attempts status = %d", resp.StatusCode)
	}

	resp, _ = a.do(t, http.MethodGet, "/rules/"+created.ID.String()+"/attempts", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("list rule attempts status = %d", resp.StatusCode)
	}
}

func pushDLQEntry(t *testing.T, a *testAPI, r *rule.Rule) id.ID {
	t.Helper()
	ctx := context.Background()

	d := &delivery.AttemptLog{
		Entity:        entity.New(),
		ID:            id.NewDeliveryID(),
		RuleID:        r.ID,
		TenantID:      "tenant_1",
		EventType:     "order.created",
		SourceID:      1,
		MessageID:     id.NewMessageID(),
		Payload:       []byte(`{}`),
		Status:        delivery.StatusAbandoned,
		AttemptCount:  3,
		MaxAttempts:   3,
		Category:      delivery.CategoryServerError,
		NextAttemptAt: time.Now().UTC(),
	}
	if err := a.store.EnqueueAttempts(ctx, []*delivery.AttemptLog{d}); err != nil {
		t.Fatalf("EnqueueAttempts() error: %v", err)
	}
	if err := a.dlqs.PushFailed(ctx, d, r); err != nil {
		t.Fatalf("PushFailed() error: %v", err)
	}

	entries, err := a.dlqs.List(ctx, dlq.ListOpts{})
	if err != nil || len(entries) == 0 {
		t.Fatalf("List() = %d entries, err %v", len(entries), err)
	}
	return entries[len(entries)-1].ID
}

func TestDLQEndpoints(t *testing.T) {
	a := setup(t)
	created := a.createRule(t)
	entryID := pushDLQEntry(t, a, created)

	resp, _ := a.do(t, http.MethodGet, "/dlq", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list dlq status = %d", resp.StatusCode)
	}

	resp, _ = a.do(t, http.MethodPost, "/dlq/"+entryID.String()+"/replay", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("replay status = %d, want 204", resp.StatusCode)
	}

	resp, _ = a.do(t, http.MethodPost, "/dlq/"+id.NewDLQID().String()+"/replay", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("replay missing entry status = %d, want 404", resp.StatusCode)
	}
}

func TestDLQBulkReplayEndpoint(t *testing.T) {
	a := setup(t)
	created := a.createRule(t)
	pushDLQEntry(t, a, created)

	resp, body := a.do(t, http.MethodPost, "/dlq/replay", map[string]string{
		"from": time.Now().Add(-time.Hour).Format(time.RFC3339),
		"to":   time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	if body["replayed"] != float64(1) {
		t.Errorf("replayed = %v, want 1", body["replayed"])
	}
}

func TestDLQPurgeEndpoint(t *testing.T) {
	a := setup(t)
	created := a.createRule(t)
	pushDLQEntry(t, a, created)

	resp, body := a.do(t, http.MethodPost, "/dlq/purge", map[string]string{
		"before": time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["purged"] != float64(1) {
		t.Errorf("purged = %v, want 1", body["purged"])
	}
}

func TestLookupTableEndpoints(t *testing.T) {
	a := setup(t)

	resp, _ := a.do(t, http.MethodPut, "/lookup-tables/carriers", map[string]any{
		"tenant_id":   "tenant_1",
		"entries":     map[string]string{"01": "ups"},
		"on_unmapped": "fail",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upsert status = %d", resp.StatusCode)
	}

	resp, body := a.do(t, http.MethodGet, "/lookup-tables/carriers?tenant_id=tenant_1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	entries, _ := body["entries"].(map[string]any)
	if entries["01"] != "ups" {
		t.Errorf("entries = %v", entries)
	}

	resp, _ = a.do(t, http.MethodPut, "/lookup-tables/empty", map[string]any{
		"tenant_id": "tenant_1",
		"entries":   map[string]string{},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty entries status = %d, want 400", resp.StatusCode)
	}

	resp, _ = a.do(t, http.MethodDelete, "/lookup-tables/carriers?tenant_id=tenant_1", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", resp.StatusCode)
	}
}

func TestScheduleEndpoints(t *testing.T) {
	a := setup(t)
	created := a.createRule(t)
	ctx := context.Background()

	sch := &schedule.ScheduledDelivery{
		Entity:       entity.New(),
		ID:           id.NewScheduleID(),
		RuleID:       created.ID,
		TenantID:     "tenant_1",
		EventType:    "order.created",
		Payload:      []byte(`{}`),
		ScheduledFor: time.Now().UTC().Add(time.Hour),
		Status:       schedule.StatusPending,
	}
	if err := a.store.CreateSchedule(ctx, sch); err != nil {
		t.Fatalf("CreateSchedule() error: %v", err)
	}

	resp, _ := a.do(t, http.MethodGet, "/schedules?tenant_id=tenant_1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}

	resp, body := a.do(t, http.MethodGet, "/schedules/"+sch.ID.String(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	if body["status"] != "pending" {
		t.Errorf("status field = %v", body["status"])
	}

	resp, _ = a.do(t, http.MethodDelete, "/schedules/"+sch.ID.String(), nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("cancel status = %d, want 204", resp.StatusCode)
	}

	after, _ := a.store.GetSchedule(ctx, sch.ID)
	if after.Status != schedule.StatusCancelled {
		t.Errorf("Status = %q, want cancelled", after.Status)
	}
}

func TestStatsEndpoint(t *testing.T) {
	a := setup(t)
	created := a.createRule(t)
	pushDLQEntry(t, a, created)

	resp, body := a.do(t, http.MethodGet, "/stats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["dlq_size"] != float64(1) {
		t.Errorf("dlq_size = %v, want 1", body["dlq_size"])
	}
}
