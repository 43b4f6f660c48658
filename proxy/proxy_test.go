package proxy_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hookpipe/hookpipe/proxy"
	"github.com/hookpipe/hookpipe/store/memory"
)

func newServer(t *testing.T, integrations ...proxy.Integration) (*httptest.Server, *memory.Store) {
	t.Helper()

	store := memory.New()
	h := proxy.NewHandler(store, integrations, nil)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, store
}

func post(t *testing.T, url, body string, mutate func(*http.Request)) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest() error: %v", err)
	}
	if mutate != nil {
		mutate(req)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestInboundAccepted(t *testing.T) {
	srv, store := newServer(t, proxy.Integration{Type: "stripe"})

	resp := post(t, srv.URL+"/integrations/stripe?orgId=tenant_1", `{"charge":"ch_1"}`, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var out struct {
		Accepted bool  `json:"accepted"`
		SourceID int64 `json:"source_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !out.Accepted || out.SourceID != 1 {
		t.Errorf("response = %+v", out)
	}

	events, err := store.PollEvents(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("PollEvents() error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	evt := events[0]
	if evt.TenantID != "tenant_1" {
		t.Errorf("TenantID = %q", evt.TenantID)
	}
	if evt.Type != "integration.stripe" {
		t.Errorf("Type = %q, want default integration.stripe", evt.Type)
	}
	if string(evt.Payload) != `{"charge":"ch_1"}` {
		t.Errorf("Payload = %s", evt.Payload)
	}
}

func TestInboundCustomEventType(t *testing.T) {
	srv, store := newServer(t, proxy.Integration{Type: "github", EventType: "scm.push"})

	post(t, srv.URL+"/integrations/github?orgId=tenant_1", `{}`, nil)

	events, _ := store.PollEvents(context.Background(), 0, 10)
	if len(events) != 1 || events[0].Type != "scm.push" {
		t.Errorf("events = %d, type = %q", len(events), events[0].Type)
	}
}

func TestInboundUnknownType(t *testing.T) {
	srv, _ := newServer(t, proxy.Integration{Type: "stripe"})

	resp := post(t, srv.URL+"/integrations/other?orgId=tenant_1", `{}`, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestInboundRequiresOrgID(t *testing.T) {
	srv, _ := newServer(t, proxy.Integration{Type: "stripe"})

	resp := post(t, srv.URL+"/integrations/stripe", `{}`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestInboundRejectsInvalidJSON(t *testing.T) {
	srv, _ := newServer(t, proxy.Integration{Type: "stripe"})

	resp := post(t, srv.URL+"/integrations/stripe?orgId=tenant_1", `not json`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestInboundEmptyBodyDefaults(t *testing.T) {
	srv, store := newServer(t, proxy.Integration{Type: "ping"})

	resp := post(t, srv.URL+"/integrations/ping?orgId=tenant_1", "", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	events, _ := store.PollEvents(context.Background(), 0, 10)
	if string(events[0].Payload) != "{}" {
		t.Errorf("Payload = %s, want {}", events[0].Payload)
	}
}

func TestInboundAuth(t *testing.T) {
	tests := []struct {
		name    string
		integ   proxy.Integration
		mutate  func(*http.Request)
		allowed bool
	}{
		{
			"api key valid",
			proxy.Integration{Type: "a", Auth: proxy.AuthAPIKey, Secret: "k1"},
			func(r *http.Request) { r.Header.Set("X-Api-Key", "k1") },
			true,
		},
		{
			"api key wrong",
			proxy.Integration{Type: "a", Auth: proxy.AuthAPIKey, Secret: "k1"},
			func(r *http.Request) { r.Header.Set("X-Api-Key", "wrong") },
			false,
		},
		{
			"api key custom header",
			proxy.Integration{Type: "a", Auth: proxy.AuthAPIKey, Header: "X-Hook-Token", Secret: "k1"},
			func(r *http.Request) { r.Header.Set("X-Hook-Token", "k1") },
			true,
		},
		{
			"bearer valid",
			proxy.Integration{Type: "a", Auth: proxy.AuthBearer, Secret: "tok"},
			func(r *http.Request) { r.Header.Set("Authorization", "Bearer tok") },
			true,
		},
		{
			"bearer missing",
			proxy.Integration{Type: "a", Auth: proxy.AuthBearer, Secret: "tok"},
			nil,
			false,
		},
		{
			"basic valid",
			proxy.Integration{Type: "a", Auth: proxy.AuthBasic, Username: "u", Password: "p"},
			func(r *http.Request) { r.SetBasicAuth("u", "p") },
			true,
		},
		{
			"basic wrong password",
			proxy.Integration{Type: "a", Auth: proxy.AuthBasic, Username: "u", Password: "p"},
			func(r *http.Request) { r.SetBasicAuth("u", "wrong") },
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newServer(t, tt.integ)

			resp := post(t, srv.URL+"/integrations/a?orgId=tenant_1", `{}`, tt.mutate)
			if tt.allowed && resp.StatusCode != http.StatusAccepted {
				t.Errorf("status = %d, want 202", resp.StatusCode)
			}
			if !tt.allowed && resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", resp.StatusCode)
			}
		})
	}
}
