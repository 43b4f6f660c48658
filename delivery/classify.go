package delivery

import "time"

// Result holds the outcome of a single outbound attempt.
type Result struct {
	StatusCode int
	Error      string
	Response   string
	LatencyMs  int

	// TimedOut marks a deadline-exceeded transport failure.
	TimedOut bool

	// NetworkFailed marks a connection-level failure (refused/DNS/reset).
	NetworkFailed bool

	// RetryAfter carries the server's Retry-After hint, when present.
	RetryAfter time.Duration

	// Headers are the redacted request headers, kept for diagnostics.
	Headers map[string]string
}

// Classify assigns the taxonomy category for an attempt outcome.
//
//	connection refused/DNS/reset -> NETWORK
//	deadline exceeded            -> TIMEOUT
//	401/403                      -> AUTH
//	429                          -> RATE_LIMIT
//	400/422                      -> VALIDATION
//	other 4xx                    -> CLIENT_ERROR
//	5xx                          -> SERVER_ERROR
func Classify(res Result) Category {
	if res.TimedOut {
		return CategoryTimeout
	}
	if res.NetworkFailed || res.StatusCode == 0 {
		return CategoryNetwork
	}

	code := res.StatusCode
	switch {
	case code >= 200 && code < 300:
		return CategoryNone
	case code == 401 || code == 403:
		return CategoryAuth
	case code == 429:
		return CategoryRateLimit
	case code == 400 || code == 422:
		return CategoryValidation
	case code >= 400 && code < 500:
		return CategoryClientError
	default:
		return CategoryServerError
	}
}
