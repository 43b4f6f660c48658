package delivery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hookpipe/hookpipe/rule"
	"github.com/hookpipe/hookpipe/signature"
)

// maxResponseCapture bounds how much of the endpoint's response body is
// kept on the attempt log.
const maxResponseCapture = 1024

// redactedHeaders are never persisted verbatim on attempt logs.
var redactedHeaders = map[string]struct{}{
	"Authorization":       {},
	"Proxy-Authorization": {},
	"Cookie":              {},
	"X-Api-Key":           {},
}

// Sender performs a single HTTP delivery attempt.
type Sender struct {
	client *http.Client
	auth   *authenticator
}

// NewSender creates a sender with the given request timeout.
func NewSender(timeout time.Duration) *Sender {
	return &Sender{
		client: &http.Client{Timeout: timeout},
		auth:   newAuthenticator(),
	}
}

// Send delivers body to the rule's endpoint and returns the observed
// result. Transport failures are reported in the Result, not as an
// error; Send only errors when the request could not be constructed.
func (s *Sender) Send(ctx context.Context, r *rule.Rule, d *AttemptLog, body []byte) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", r.ContentType)
	req.Header.Set("User-Agent", "hookpipe/1.0")
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}

	if err := s.auth.apply(ctx, req, r); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	msgID := d.MessageID.String()
	req.Header.Set(signature.HeaderMessageID, msgID)
	req.Header.Set(signature.HeaderTimestamp, strconv.FormatInt(now.Unix(), 10))
	if len(r.Secrets) > 0 {
		req.Header.Set(signature.HeaderSignature, signature.SignAll(msgID, body, r.Secrets, now.Unix()))
	}

	sent := captureHeaders(req.Header)

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := int(time.Since(start).Milliseconds())

	if err != nil {
		res := &Result{
			Error:     err.Error(),
			LatencyMs: latency,
			Headers:   sent,
		}
		if isTimeout(err) {
			res.TimedOut = true
		} else {
			res.NetworkFailed = true
		}
		return res, nil
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseCapture))
	io.Copy(io.Discard, resp.Body)

	return &Result{
		StatusCode: resp.StatusCode,
		Response:   string(snippet),
		LatencyMs:  latency,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		Headers:    sent,
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// captureHeaders copies request headers for the attempt log with
// credential-bearing values masked.
func captureHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		if len(vs) == 0 {
			continue
		}
		if _, ok := redactedHeaders[http.CanonicalHeaderKey(k)]; ok {
			out[k] = "REDACTED"
			continue
		}
		out[k] = vs[0]
	}
	return out
}
