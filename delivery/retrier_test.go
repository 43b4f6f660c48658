package delivery

import (
	"testing"
	"time"

	"github.com/hookpipe/hookpipe/rule"
)

func testPolicy() rule.RetryPolicy {
	return rule.RetryPolicy{
		MaxAttempts: 5,
		BaseBackoff: time.Second,
		MaxBackoff:  time.Hour,
	}
}

func TestDecide(t *testing.T) {
	r := NewRetrier()

	tests := []struct {
		name     string
		cat      Category
		attempts int
		max      int
		policy   rule.RetryPolicy
		want     Decision
	}{
		{"success", CategoryNone, 1, 5, testPolicy(), Delivered},
		{"auth never retries", CategoryAuth, 1, 5, testPolicy(), Fail},
		{"transform never retries", CategoryTransform, 1, 5, testPolicy(), Fail},
		{"server error retries", CategoryServerError, 1, 5, testPolicy(), Retry},
		{"network retries", CategoryNetwork, 2, 5, testPolicy(), Retry},
		{"timeout retries", CategoryTimeout, 3, 5, testPolicy(), Retry},
		{"rate limit retries", CategoryRateLimit, 1, 5, testPolicy(), Retry},
		{"client error retries", CategoryClientError, 1, 5, testPolicy(), Retry},
		{"budget spent abandons", CategoryServerError, 5, 5, testPolicy(), Abandon},
		{
			"validation strict fails",
			CategoryValidation, 1, 5,
			rule.RetryPolicy{MaxAttempts: 5, BaseBackoff: time.Second, MaxBackoff: time.Hour, ValidationMode: rule.ValidationStrict},
			Fail,
		},
		{
			"validation lax retries",
			CategoryValidation, 1, 5,
			rule.RetryPolicy{MaxAttempts: 5, BaseBackoff: time.Second, MaxBackoff: time.Hour, ValidationMode: rule.ValidationLax},
			Retry,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &AttemptLog{AttemptCount: tt.attempts, MaxAttempts: tt.max}
			if got := r.Decide(tt.cat, d, tt.policy); got != tt.want {
				t.Errorf("Decide(%q, attempts=%d/%d) = %v, want %v", tt.cat, tt.attempts, tt.max, got, tt.want)
			}
		})
	}
}

func TestNextAttemptRetryAfterWins(t *testing.T) {
	r := NewRetrier()

	before := time.Now().UTC()
	next := r.NextAttempt(CategoryRateLimit, 1, testPolicy(), 90*time.Second)
	after := time.Now().UTC()

	if next.Before(before.Add(90*time.Second)) || next.After(after.Add(90*time.Second)) {
		t.Errorf("NextAttempt() = %v, want ~now+90s", next)
	}
}

func TestNextAttemptExponentialBackoff(t *testing.T) {
	r := NewRetrier()
	policy := testPolicy()

	// Jitter adds up to 25%, so check the window per attempt.
	tests := []struct {
		attempt int
		min     time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
	}

	for _, tt := range tests {
		now := time.Now().UTC()
		next := r.NextAttempt(CategoryServerError, tt.attempt, policy, 0)
		delay := next.Sub(now)

		if delay < tt.min || delay > tt.min+tt.min/4+time.Second {
			t.Errorf("attempt %d: delay = %v, want [%v, %v+25%%]", tt.attempt, delay, tt.min, tt.min)
		}
	}
}

func TestNextAttemptCappedByPolicy(t *testing.T) {
	r := NewRetrier()
	policy := rule.RetryPolicy{MaxAttempts: 20, BaseBackoff: time.Second, MaxBackoff: 10 * time.Second}

	now := time.Now().UTC()
	next := r.NextAttempt(CategoryServerError, 15, policy, 0)
	delay := next.Sub(now)

	// Capped at MaxBackoff plus jitter.
	if delay > 13*time.Second {
		t.Errorf("delay = %v, want capped near 10s", delay)
	}
}

func TestNextAttemptClientErrorCap(t *testing.T) {
	r := NewRetrier()
	policy := rule.RetryPolicy{MaxAttempts: 20, BaseBackoff: time.Minute, MaxBackoff: 4 * time.Hour}

	now := time.Now().UTC()
	next := r.NextAttempt(CategoryClientError, 15, policy, 0)
	delay := next.Sub(now)

	// CLIENT_ERROR backoff is capped at 5 minutes regardless of policy.
	if delay > 5*time.Minute+80*time.Second {
		t.Errorf("delay = %v, want capped near 5m", delay)
	}
}
