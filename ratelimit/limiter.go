// Package ratelimit implements sliding-window rate limiting at rule,
// tenant, and global scope.
package ratelimit

import (
	"sync"
	"time"
)

// Config describes one sliding window.
type Config struct {
	// MaxRequests allowed inside one window. 0 means unlimited.
	MaxRequests int `json:"max_requests"`

	// Window is the window length.
	Window time.Duration `json:"window"`
}

// Scope identifies which tier a window belongs to.
type Scope string

// Limiter scopes, evaluated in order.
const (
	ScopeRule   Scope = "rule"
	ScopeTenant Scope = "tenant"
	ScopeGlobal Scope = "global"
)

// Decision is the outcome of a limiter check.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// Scope is the tier that denied the request, when Allowed is false.
	Scope Scope

	// RetryAfter is how long until the denying window opens again.
	RetryAfter time.Duration
}

// window is one sliding-window counter. Config changes never mutate a
// live window; they take effect when the current window rolls over.
type window struct {
	start time.Time
	count int
	cfg   Config
}

// Limiter enforces three independent sliding-window gates, evaluated
// rule -> tenant -> global. A request is blocked if any gate denies it.
// The limiter is advisory pre-network gating, not a delivery outcome
// source of truth.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window

	tenantCfg Config
	globalCfg Config
}

// New creates a limiter with the given tenant- and global-scope configs.
// Zero-valued configs disable the corresponding tier.
func New(tenantCfg, globalCfg Config) *Limiter {
	return &Limiter{
		windows:   make(map[string]*window),
		tenantCfg: tenantCfg,
		globalCfg: globalCfg,
	}
}

// Allow evaluates all three gates for a delivery on ruleID/tenantID.
// ruleCfg is the per-rule window; nil means the rule tier is unlimited.
// Counters increment only when every gate admits the request, so a denial
// at an outer tier does not consume inner-tier budget.
func (l *Limiter) Allow(ruleID, tenantID string, ruleCfg *Config) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()

	type gate struct {
		scope Scope
		key   string
		cfg   Config
	}

	gates := make([]gate, 0, 3)
	if ruleCfg != nil {
		gates = append(gates, gate{ScopeRule, "rule:" + ruleID, *ruleCfg})
	}
	gates = append(gates,
		gate{ScopeTenant, "tenant:" + tenantID, l.tenantCfg},
		gate{ScopeGlobal, "global", l.globalCfg},
	)

	checked := make([]*window, 0, len(gates))
	for _, g := range gates {
		if g.cfg.MaxRequests <= 0 || g.cfg.Window <= 0 {
			continue
		}

		w := l.getWindow(g.key, g.cfg, now)
		if w.count >= w.cfg.MaxRequests {
			return Decision{
				Allowed:    false,
				Scope:      g.scope,
				RetryAfter: w.start.Add(w.cfg.Window).Sub(now),
			}
		}
		checked = append(checked, w)
	}

	for _, w := range checked {
		w.count++
	}

	return Decision{Allowed: true}
}

// Reset clears the window for a single rule.
func (l *Limiter) Reset(ruleID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, "rule:"+ruleID)
}

// getWindow returns the live window for key, rolling it over when the
// window has elapsed. Rollover is the point where config changes land.
func (l *Limiter) getWindow(key string, cfg Config, now time.Time) *window {
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= w.cfg.Window {
		w = &window{start: now, cfg: cfg}
		l.windows[key] = w
	}
	return w
}
