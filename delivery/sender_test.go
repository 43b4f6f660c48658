package delivery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/hookpipe/hookpipe/id"
	"github.com/hookpipe/hookpipe/rule"
	"github.com/hookpipe/hookpipe/signature"
)

func testRule(url string) *rule.Rule {
	return &rule.Rule{
		ID:          id.NewRuleID(),
		TenantID:    "tenant_1",
		URL:         url,
		Method:      http.MethodPost,
		ContentType: "application/json",
		Auth:        rule.AuthConfig{Kind: rule.AuthNone},
		Secrets:     []string{"whsec_sendertest"},
	}
}

func testAttempt() *AttemptLog {
	return &AttemptLog{
		ID:        id.NewDeliveryID(),
		MessageID: id.NewMessageID(),
	}
}

func TestSendSuccess(t *testing.T) {
	var captured *http.Request
	var capturedBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Clone(context.Background())
		capturedBody = make([]byte, r.ContentLength)
		r.Body.Read(capturedBody)
		w.Write([]byte(`{"received":true}`))
	}))
	defer srv.Close()

	s := NewSender(5 * time.Second)
	r := testRule(srv.URL)
	d := testAttempt()
	body := []byte(`{"hello":"world"}`)

	res, err := s.Send(context.Background(), r, d, body)
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	if res.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", res.StatusCode)
	}
	if res.Response != `{"received":true}` {
		t.Errorf("Response = %q", res.Response)
	}
	if res.LatencyMs < 0 {
		t.Errorf("LatencyMs = %d", res.LatencyMs)
	}

	if got := captured.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := captured.Header.Get(signature.HeaderMessageID); got != d.MessageID.String() {
		t.Errorf("message ID header = %q, want %q", got, d.MessageID)
	}

	ts, err := strconv.ParseInt(captured.Header.Get(signature.HeaderTimestamp), 10, 64)
	if err != nil {
		t.Fatalf("timestamp header not an integer: %v", err)
	}
	sig := captured.Header.Get(signature.HeaderSignature)
	if !signature.Verify(d.MessageID.String(), body, r.Secrets, ts, sig) {
		t.Error("signature header does not verify against the rule secret")
	}
}

func TestSendAuthVariants(t *testing.T) {
	tests := []struct {
		name  string
		auth  rule.AuthConfig
		check func(t *testing.T, h http.Header)
	}{
		{
			"api key",
			rule.AuthConfig{Kind: rule.AuthAPIKey, APIKey: &rule.APIKeyAuth{Header: "X-Api-Key", Value: "k1"}},
			func(t *testing.T, h http.Header) {
				if h.Get("X-Api-Key") != "k1" {
					t.Errorf("X-Api-Key = %q", h.Get("X-Api-Key"))
				}
			},
		},
		{
			"basic",
			rule.AuthConfig{Kind: rule.AuthBasic, Basic: &rule.BasicAuth{Username: "u", Password: "p"}},
			func(t *testing.T, h http.Header) {
				if !strings.HasPrefix(h.Get("Authorization"), "Basic ") {
					t.Errorf("Authorization = %q", h.Get("Authorization"))
				}
			},
		},
		{
			"bearer",
			rule.AuthConfig{Kind: rule.AuthBearer, Bearer: &rule.BearerAuth{Token: "tok"}},
			func(t *testing.T, h http.Header) {
				if h.Get("Authorization") != "Bearer tok" {
					t.Errorf("Authorization = %q", h.Get("Authorization"))
				}
			},
		},
		{
			"oauth1",
			rule.AuthConfig{Kind: rule.AuthOAuth1, OAuth1: &rule.OAuth1Auth{
				ConsumerKey: "ck", ConsumerSecret: "cs", Token: "tk", TokenSecret: "ts",
			}},
			func(t *testing.T, h http.Header) {
				a := h.Get("Authorization")
				if !strings.HasPrefix(a, "OAuth ") || !strings.Contains(a, "oauth_signature=") {
					t.Errorf("Authorization = %q", a)
				}
			},
		},
		{
			"custom headers",
			rule.AuthConfig{Kind: rule.AuthCustomHeaders, CustomHeaders: map[string]string{"X-Custom": "v"}},
			func(t *testing.T, h http.Header) {
				if h.Get("X-Custom") != "v" {
					t.Errorf("X-Custom = %q", h.Get("X-Custom"))
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var headers http.Header
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				headers = r.Header.Clone()
			}))
			defer srv.Close()

			r := testRule(srv.URL)
			r.Auth = tt.auth

			s := NewSender(5 * time.Second)
			if _, err := s.Send(context.Background(), r, testAttempt(), []byte(`{}`)); err != nil {
				t.Fatalf("Send() error: %v", err)
			}
			tt.check(t, headers)
		})
	}
}

func TestSendAuthMissingConfig(t *testing.T) {
	r := testRule("http://localhost:0")
	r.Auth = rule.AuthConfig{Kind: rule.AuthBearer}

	s := NewSender(time.Second)
	if _, err := s.Send(context.Background(), r, testAttempt(), []byte(`{}`)); err == nil {
		t.Error("Send() succeeded with bearer auth and no token config")
	}
}

func TestSendTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	s := NewSender(50 * time.Millisecond)
	res, err := s.Send(context.Background(), testRule(srv.URL), testAttempt(), []byte(`{}`))
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if !res.TimedOut {
		t.Errorf("TimedOut = false, Result = %+v", res)
	}
}

func TestSendConnectionRefused(t *testing.T) {
	// A closed server port refuses connections.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	s := NewSender(time.Second)
	res, err := s.Send(context.Background(), testRule(url), testAttempt(), []byte(`{}`))
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if !res.NetworkFailed {
		t.Errorf("NetworkFailed = false, Result = %+v", res)
	}
	if res.Error == "" {
		t.Error("Error is empty for a refused connection")
	}
}

func TestSendRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewSender(5 * time.Second)
	res, err := s.Send(context.Background(), testRule(srv.URL), testAttempt(), []byte(`{}`))
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if res.RetryAfter != 2*time.Minute {
		t.Errorf("RetryAfter = %v, want 2m", res.RetryAfter)
	}
}

func TestSendRedactsCredentialHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	defer srv.Close()

	r := testRule(srv.URL)
	r.Auth = rule.AuthConfig{Kind: rule.AuthBearer, Bearer: &rule.BearerAuth{Token: "secret-token"}}

	s := NewSender(5 * time.Second)
	res, err := s.Send(context.Background(), r, testAttempt(), []byte(`{}`))
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	if res.Headers["Authorization"] != "REDACTED" {
		t.Errorf("Authorization captured as %q, want REDACTED", res.Headers["Authorization"])
	}
	for _, v := range res.Headers {
		if strings.Contains(v, "secret-token") {
			t.Errorf("credential leaked into captured headers: %v", res.Headers)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"60", time.Minute},
		{"0", 0},
		{"-5", 0},
		{"garbage", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
