package sandbox

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// restrictedClient is the only HTTP reachability a script has. Every call
// carries its own timeout and a response size cap; only http and https
// targets are allowed.
type restrictedClient struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
}

type restrictedResponse struct {
	status  int
	body    string
	headers map[string]string
}

func newRestrictedClient(timeout time.Duration, maxBytes int64) *restrictedClient {
	return &restrictedClient{
		client:   &http.Client{Timeout: timeout},
		timeout:  timeout,
		maxBytes: maxBytes,
	}
}

func (c *restrictedClient) do(ctx context.Context, method, target, body string, headers map[string]string) (*restrictedResponse, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("scheme %q not allowed", parsed.Scheme)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if method == http.MethodPost && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	return &restrictedResponse{
		status:  resp.StatusCode,
		body:    string(raw),
		headers: respHeaders,
	}, nil
}
