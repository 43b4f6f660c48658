package rule

import (
	"context"
	"errors"

	"github.com/hookpipe/hookpipe/id"
)

// ErrNotFound is returned by stores when a rule does not exist. The
// delivery engine and scheduler treat it as terminal for work that still
// references the deleted rule.
var ErrNotFound = errors.New("hookpipe: rule not found")

// Store defines the persistence contract for delivery rules.
type Store interface {
	// CreateRule persists a new rule.
	CreateRule(ctx context.Context, r *Rule) error

	// GetRule returns a rule by ID.
	GetRule(ctx context.Context, ruleID id.ID) (*Rule, error)

	// UpdateRule replaces an existing rule document.
	UpdateRule(ctx context.Context, r *Rule) error

	// DeleteRule removes a rule. Callers should prefer SetActive(false)
	// while attempt logs still reference the rule.
	DeleteRule(ctx context.Context, ruleID id.ID) error

	// ListRules returns rules for a tenant, optionally filtered.
	ListRules(ctx context.Context, tenantID string, opts ListOpts) ([]*Rule, error)

	// MatchRules finds all active rules that fire for (tenantID, eventType):
	// the tenant's own rules plus global-default rules. The hot path of
	// every poll tick.
	MatchRules(ctx context.Context, tenantID string, eventType string) ([]*Rule, error)

	// SetActive soft-enables or soft-disables a rule.
	SetActive(ctx context.Context, ruleID id.ID, active bool) error
}
