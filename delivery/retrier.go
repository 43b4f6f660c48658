package delivery

import (
	"math/rand"
	"time"

	"github.com/hookpipe/hookpipe/rule"
)

// Decision is the state machine transition chosen after an attempt.
type Decision int

const (
	// Delivered means the attempt succeeded (2xx).
	Delivered Decision = iota

	// Retry schedules another attempt at NextAttemptAt.
	Retry

	// Abandon is the terminal transition once the attempt budget is spent.
	Abandon

	// Fail is the terminal transition for non-retryable classifications.
	// It does not consume remaining retry budget.
	Fail

	// Skip is the terminal non-failure transition (script declined).
	Skip
)

// clientErrorBackoffCap bounds CLIENT_ERROR backoff lower than the rule's
// own cap: a misbehaving 4xx endpoint should not hold retry slots for hours.
const clientErrorBackoffCap = 5 * time.Minute

// Retrier decides transitions and computes backoff.
type Retrier struct{}

// NewRetrier creates a retrier.
func NewRetrier() *Retrier {
	return &Retrier{}
}

// Decide maps (category, attempt budget, policy) to a transition.
// The switch is exhaustive over Category.
func (r *Retrier) Decide(cat Category, d *AttemptLog, policy rule.RetryPolicy) Decision {
	switch cat {
	case CategoryNone:
		return Delivered

	case CategoryAuth, CategoryTransform:
		// Non-retryable: a bad credential or a broken script will not
		// self-correct across attempts.
		return Fail

	case CategoryValidation:
		if policy.ValidationMode == rule.ValidationStrict {
			return Fail
		}
		return r.retryOrAbandon(d)

	case CategoryNetwork, CategoryTimeout, CategoryRateLimit,
		CategoryServerError, CategoryClientError:
		return r.retryOrAbandon(d)

	default:
		return r.retryOrAbandon(d)
	}
}

func (r *Retrier) retryOrAbandon(d *AttemptLog) Decision {
	if d.AttemptCount < d.MaxAttempts {
		return Retry
	}
	return Abandon
}

// NextAttempt computes when the next attempt is due.
//
// A server-provided Retry-After wins outright; otherwise exponential
// backoff: base x 2^(attempt-1) with up to 25% jitter, capped by the
// policy (and capped lower still for CLIENT_ERROR).
func (r *Retrier) NextAttempt(cat Category, attemptCount int, policy rule.RetryPolicy, retryAfter time.Duration) time.Time {
	now := time.Now().UTC()

	if retryAfter > 0 {
		return now.Add(retryAfter)
	}

	return now.Add(r.backoff(cat, attemptCount, policy))
}

func (r *Retrier) backoff(cat Category, attemptCount int, policy rule.RetryPolicy) time.Duration {
	exp := attemptCount - 1
	if exp < 0 {
		exp = 0
	}

	backoff := policy.BaseBackoff
	for i := 0; i < exp; i++ {
		backoff *= 2
		if backoff >= policy.MaxBackoff {
			break
		}
	}

	cap := policy.MaxBackoff
	if cat == CategoryClientError && cap > clientErrorBackoffCap {
		cap = clientErrorBackoffCap
	}
	if backoff > cap {
		backoff = cap
	}

	// Up to 25% jitter keeps worker replicas from retrying in lockstep.
	jitter := time.Duration(rand.Int63n(int64(backoff)/4 + 1))
	return backoff + jitter
}
