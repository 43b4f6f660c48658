// Package rule defines tenant delivery rules: the binding of an event type
// to a target URL, outbound auth, payload transform, delivery mode, and
// retry policy.
package rule

import (
	"encoding/json"
	"time"

	"github.com/hookpipe/hookpipe/id"
	"github.com/hookpipe/hookpipe/internal/entity"
	"github.com/hookpipe/hookpipe/ratelimit"
)

// AuthKind discriminates the outbound authentication variants.
type AuthKind string

// Outbound authentication variants.
const (
	AuthNone          AuthKind = "none"
	AuthAPIKey        AuthKind = "api_key"
	AuthBasic         AuthKind = "basic"
	AuthBearer        AuthKind = "bearer"
	AuthOAuth1        AuthKind = "oauth1"
	AuthOAuth2        AuthKind = "oauth2"
	AuthCustomHeaders AuthKind = "custom_headers"
)

// APIKeyAuth sends a static key in a configurable header.
type APIKeyAuth struct {
	Header string `json:"header"` // defaults to "X-API-Key"
	Value  string `json:"value"`
}

// BasicAuth sends an HTTP basic authorization header.
type BasicAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// BearerAuth sends a static bearer token.
type BearerAuth struct {
	Token string `json:"token"`
}

// OAuth1Auth signs each request with an OAuth 1.0a HMAC-SHA1 header.
type OAuth1Auth struct {
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
	Token          string `json:"token"`
	TokenSecret    string `json:"token_secret"`
}

// OAuth2Auth obtains bearer tokens via the client-credentials grant.
// Tokens are cached per rule and refreshed automatically before expiry.
type OAuth2Auth struct {
	TokenURL     string   `json:"token_url"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Scopes       []string `json:"scopes,omitempty"`
}

// AuthConfig is the tagged union over outbound authentication variants.
// Exactly the field matching Kind is set; the rest stay nil.
type AuthConfig struct {
	Kind          AuthKind          `json:"kind"`
	APIKey        *APIKeyAuth       `json:"api_key,omitempty"`
	Basic         *BasicAuth        `json:"basic,omitempty"`
	Bearer        *BearerAuth       `json:"bearer,omitempty"`
	OAuth1        *OAuth1Auth       `json:"oauth1,omitempty"`
	OAuth2        *OAuth2Auth       `json:"oauth2,omitempty"`
	CustomHeaders map[string]string `json:"custom_headers,omitempty"`
}

// TransformKind discriminates the payload transformation variants.
type TransformKind string

// Payload transformation variants.
const (
	TransformNone    TransformKind = "none"
	TransformMapping TransformKind = "mapping"
	TransformScript  TransformKind = "script"
)

// CoerceKind names an optional type coercion applied to a mapped field.
type CoerceKind string

// Field coercions.
const (
	CoerceNone    CoerceKind = ""
	CoerceString  CoerceKind = "string"
	CoerceNumber  CoerceKind = "number"
	CoerceBoolean CoerceKind = "boolean"
	CoerceLookup  CoerceKind = "lookup"
)

// FieldMapping maps one source payload path to a target path in the
// outbound body. A missing source resolves to Default when set, otherwise
// the field is omitted; mapping never fails on absent input.
type FieldMapping struct {
	SourcePath  string     `json:"source_path"`
	TargetPath  string     `json:"target_path"`
	Default     any        `json:"default,omitempty"`
	Coerce      CoerceKind `json:"coerce,omitempty"`
	LookupTable string     `json:"lookup_table,omitempty"` // for CoerceLookup
}

// TransformConfig is the tagged union over transformation variants.
type TransformConfig struct {
	Kind TransformKind `json:"kind"`

	// Mappings and Static apply when Kind is TransformMapping.
	Mappings []FieldMapping `json:"mappings,omitempty"`
	Static   map[string]any `json:"static,omitempty"`

	// Script is the tenant-supplied Lua source when Kind is TransformScript.
	Script string `json:"script,omitempty"`
}

// ModeKind discriminates the delivery mode variants.
type ModeKind string

// Delivery modes.
const (
	ModeImmediate ModeKind = "immediate"
	ModeDelayed   ModeKind = "delayed"
	ModeRecurring ModeKind = "recurring"
)

// ModeConfig is the tagged union over delivery modes.
type ModeConfig struct {
	Kind ModeKind `json:"kind"`

	// Delay applies when Kind is ModeDelayed: fire once at match time + Delay.
	Delay time.Duration `json:"delay,omitempty"`

	// Spec is a cron expression (or "@every ..." descriptor) for
	// ModeRecurring.
	Spec string `json:"spec,omitempty"`

	// MaxOccurrences caps how many times a recurring schedule fires.
	// 0 means unlimited.
	MaxOccurrences int `json:"max_occurrences,omitempty"`
}

// ValidationMode controls how 400/422 responses are treated.
type ValidationMode string

// Validation failure handling.
const (
	// ValidationStrict fails the delivery immediately on 400/422.
	ValidationStrict ValidationMode = "strict"

	// ValidationLax retries 400/422 with backoff.
	ValidationLax ValidationMode = "lax"
)

// RetryPolicy is the per-rule retry configuration.
type RetryPolicy struct {
	// MaxAttempts is the total attempt budget, including the first try.
	MaxAttempts int `json:"max_attempts"`

	// BaseBackoff seeds the exponential backoff (base x 2^attempt).
	BaseBackoff time.Duration `json:"base_backoff"`

	// MaxBackoff caps the computed backoff.
	MaxBackoff time.Duration `json:"max_backoff"`

	// ValidationMode selects strict or lax handling of 400/422.
	ValidationMode ValidationMode `json:"validation_mode"`
}

// Rule binds a (tenant, event type) pair to a delivery target.
// An empty TenantID marks a global-default rule that applies to every
// tenant emitting the event type.
type Rule struct {
	entity.Entity

	// ID is the unique TypeID for this rule.
	ID id.ID `json:"id"`

	// TenantID identifies the owning tenant. Empty for global defaults.
	TenantID string `json:"tenant_id"`

	// Name is a human-readable label.
	Name string `json:"name"`

	// EventType is the event type this rule fires for.
	EventType string `json:"event_type"`

	// URL is the delivery target.
	URL string `json:"url"`

	// Method is the outbound HTTP method. Defaults to POST.
	Method string `json:"method"`

	// ContentType of the outbound body. Defaults to application/json.
	ContentType string `json:"content_type"`

	// Headers are custom HTTP headers sent with each delivery.
	Headers map[string]string `json:"headers,omitempty"`

	// Auth is the outbound authentication descriptor.
	Auth AuthConfig `json:"auth"`

	// Transform is the payload transformation descriptor.
	Transform TransformConfig `json:"transform"`

	// Mode is the delivery mode descriptor.
	Mode ModeConfig `json:"mode"`

	// Retry is the retry/backoff policy.
	Retry RetryPolicy `json:"retry"`

	// Secrets holds the HMAC signing secrets. Index 0 is the primary;
	// any remaining entries are grace-period secrets still honored by
	// receivers during rotation. Never serialized.
	Secrets []string `json:"-"`

	// Schema optionally validates event payloads before transformation.
	Schema json.RawMessage `json:"schema,omitempty"`

	// RateLimit is the per-rule sliding window. Nil means unlimited.
	RateLimit *ratelimit.Config `json:"rate_limit,omitempty"`

	// Active gates matching. Rules are soft-disabled, never hard-deleted,
	// while attempt logs still reference them.
	Active bool `json:"active"`

	// Version increments on every update.
	Version int `json:"version"`
}

// PrimarySecret returns the current signing secret, or "" when unset.
func (r *Rule) PrimarySecret() string {
	if len(r.Secrets) == 0 {
		return ""
	}
	return r.Secrets[0]
}

// ListOpts configures filtering and pagination for rule listing.
type ListOpts struct {
	Offset        int
	Limit         int
	EventType     string
	Active        *bool
	IncludeGlobal bool
}
