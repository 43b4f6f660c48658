package ratelimit_test

import (
	"testing"
	"time"

	"github.com/hookpipe/hookpipe/ratelimit"
)

func TestAllowUnderLimit(t *testing.T) {
	l := ratelimit.New(ratelimit.Config{}, ratelimit.Config{})
	cfg := &ratelimit.Config{MaxRequests: 3, Window: time.Minute}

	for i := range 3 {
		d := l.Allow("rule_a", "tenant_1", cfg)
		if !d.Allowed {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
	}
}

func TestDenyAtRuleLimit(t *testing.T) {
	l := ratelimit.New(ratelimit.Config{}, ratelimit.Config{})
	cfg := &ratelimit.Config{MaxRequests: 2, Window: time.Minute}

	l.Allow("rule_a", "tenant_1", cfg)
	l.Allow("rule_a", "tenant_1", cfg)

	d := l.Allow("rule_a", "tenant_1", cfg)
	if d.Allowed {
		t.Fatal("third request allowed, want denied")
	}
	if d.Scope != ratelimit.ScopeRule {
		t.Errorf("Scope = %q, want %q", d.Scope, ratelimit.ScopeRule)
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Errorf("RetryAfter = %v, want within (0, 1m]", d.RetryAfter)
	}
}

func TestRuleWindowsAreIndependent(t *testing.T) {
	l := ratelimit.New(ratelimit.Config{}, ratelimit.Config{})
	cfg := &ratelimit.Config{MaxRequests: 1, Window: time.Minute}

	l.Allow("rule_a", "tenant_1", cfg)
	if d := l.Allow("rule_a", "tenant_1", cfg); d.Allowed {
		t.Error("rule_a over limit, want denied")
	}
	if d := l.Allow("rule_b", "tenant_1", cfg); !d.Allowed {
		t.Error("rule_b denied, want allowed")
	}
}

func TestTenantLimit(t *testing.T) {
	l := ratelimit.New(ratelimit.Config{MaxRequests: 2, Window: time.Minute}, ratelimit.Config{})

	l.Allow("rule_a", "tenant_1", nil)
	l.Allow("rule_b", "tenant_1", nil)

	d := l.Allow("rule_c", "tenant_1", nil)
	if d.Allowed {
		t.Fatal("tenant over limit, want denied")
	}
	if d.Scope != ratelimit.ScopeTenant {
		t.Errorf("Scope = %q, want %q", d.Scope, ratelimit.ScopeTenant)
	}

	// Another tenant has its own window.
	if d := l.Allow("rule_a", "tenant_2", nil); !d.Allowed {
		t.Error("tenant_2 denied, want allowed")
	}
}

func TestGlobalLimit(t *testing.T) {
	l := ratelimit.New(ratelimit.Config{}, ratelimit.Config{MaxRequests: 2, Window: time.Minute})

	l.Allow("rule_a", "tenant_1", nil)
	l.Allow("rule_b", "tenant_2", nil)

	d := l.Allow("rule_c", "tenant_3", nil)
	if d.Allowed {
		t.Fatal("global over limit, want denied")
	}
	if d.Scope != ratelimit.ScopeGlobal {
		t.Errorf("Scope = %q, want %q", d.Scope, ratelimit.ScopeGlobal)
	}
}

func TestDenialDoesNotConsumeInnerBudget(t *testing.T) {
	// Rule tier admits one request; tenant tier admits none.
	l := ratelimit.New(ratelimit.Config{MaxRequests: 1, Window: time.Minute}, ratelimit.Config{})
	cfg := &ratelimit.Config{MaxRequests: 1, Window: time.Minute}

	l.Allow("rule_a", "tenant_1", nil) // consumes the tenant budget

	// Denied at tenant scope; the rule window must stay untouched.
	d := l.Allow("rule_a", "tenant_1", cfg)
	if d.Allowed || d.Scope != ratelimit.ScopeTenant {
		t.Fatalf("Decision = %+v, want tenant denial", d)
	}

	// After the tenant budget frees up (different tenant), the rule
	// budget is still whole.
	if d := l.Allow("rule_a", "tenant_2", cfg); !d.Allowed {
		t.Error("rule budget was consumed by denied request")
	}
}

func TestWindowRollover(t *testing.T) {
	l := ratelimit.New(ratelimit.Config{}, ratelimit.Config{})
	cfg := &ratelimit.Config{MaxRequests: 1, Window: 30 * time.Millisecond}

	if d := l.Allow("rule_a", "tenant_1", cfg); !d.Allowed {
		t.Fatal("first request denied")
	}
	if d := l.Allow("rule_a", "tenant_1", cfg); d.Allowed {
		t.Fatal("second request allowed within window")
	}

	time.Sleep(40 * time.Millisecond)

	if d := l.Allow("rule_a", "tenant_1", cfg); !d.Allowed {
		t.Error("request denied after window rolled over")
	}
}

func TestZeroConfigIsUnlimited(t *testing.T) {
	l := ratelimit.New(ratelimit.Config{}, ratelimit.Config{})

	for range 100 {
		if d := l.Allow("rule_a", "tenant_1", nil); !d.Allowed {
			t.Fatal("unlimited limiter denied a request")
		}
	}
}

func TestReset(t *testing.T) {
	l := ratelimit.New(ratelimit.Config{}, ratelimit.Config{})
	cfg := &ratelimit.Config{MaxRequests: 1, Window: time.Hour}

	l.Allow("rule_a", "tenant_1", cfg)
	if d := l.Allow("rule_a", "tenant_1", cfg); d.Allowed {
		t.Fatal("over limit, want denied")
	}

	l.Reset("rule_a")

	if d := l.Allow("rule_a", "tenant_1", cfg); !d.Allowed {
		t.Error("denied after Reset")
	}
}
