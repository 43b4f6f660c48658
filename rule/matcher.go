package rule

import (
	"context"
	"log/slog"
)

// Matcher resolves the set of delivery rules that fire for an event.
// Matching is keyed by (tenantID, eventType); tenant-owned rules and
// global-default rules both apply, and every match is delivered and
// retried independently.
type Matcher struct {
	store  Store
	logger *slog.Logger
}

// NewMatcher creates a matcher backed by the given store.
func NewMatcher(store Store, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{
		store:  store,
		logger: logger,
	}
}

// Match returns all active rules for (tenantID, eventType).
// An empty result is not an error; the event simply has nowhere to go.
func (m *Matcher) Match(ctx context.Context, tenantID, eventType string) ([]*Rule, error) {
	rules, err := m.store.MatchRules(ctx, tenantID, eventType)
	if err != nil {
		return nil, err
	}

	m.logger.DebugContext(ctx, "rules matched",
		"tenant_id", tenantID, "event_type", eventType, "count", len(rules))

	return rules, nil
}
