package rule

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hookpipe/hookpipe/id"
	"github.com/hookpipe/hookpipe/internal/entity"
	"github.com/hookpipe/hookpipe/ratelimit"
	"github.com/hookpipe/hookpipe/signature"
)

// maxGraceSecrets bounds how many rotated-out secrets stay valid.
const maxGraceSecrets = 2

// Defaults applied by Create when the input leaves them unset.
var (
	DefaultRetry = RetryPolicy{
		MaxAttempts:    5,
		BaseBackoff:    5 * time.Second,
		MaxBackoff:     2 * time.Hour,
		ValidationMode: ValidationStrict,
	}
)

// Service provides rule management operations.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a new rule service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
	}
}

// Input is the mutable subset of a rule accepted on create and update.
type Input struct {
	TenantID  string
	Name      string
	EventType string
	URL       string
	Method    string
	Headers   map[string]string

	ContentType string
	Auth        AuthConfig
	Transform   TransformConfig
	Mode        ModeConfig
	Retry       RetryPolicy
	Secret      string
	Schema      []byte
	RateLimit   *RateLimitInput
	Global      bool
}

// RateLimitInput configures the per-rule sliding window.
type RateLimitInput struct {
	MaxRequests int
	Window      time.Duration
}

// Create registers a new delivery rule.
func (svc *Service) Create(ctx context.Context, in Input) (*Rule, error) {
	if err := validateInput(&in); err != nil {
		return nil, err
	}

	secret := in.Secret
	if secret == "" {
		secret = signature.GenerateSecret()
	}

	r := &Rule{
		Entity:      entity.New(),
		ID:          id.NewRuleID(),
		TenantID:    in.TenantID,
		Name:        in.Name,
		EventType:   in.EventType,
		URL:         in.URL,
		Method:      in.Method,
		ContentType: in.ContentType,
		Headers:     in.Headers,
		Auth:        in.Auth,
		Transform:   in.Transform,
		Mode:        in.Mode,
		Retry:       in.Retry,
		Secrets:     []string{secret},
		Schema:      in.Schema,
		Active:      true,
		Version:     1,
	}

	if in.RateLimit != nil {
		r.RateLimit = &ratelimit.Config{
			MaxRequests: in.RateLimit.MaxRequests,
			Window:      in.RateLimit.Window,
		}
	}

	if err := svc.store.CreateRule(ctx, r); err != nil {
		return nil, err
	}

	return r, nil
}

// Get returns a rule by ID.
func (svc *Service) Get(ctx context.Context, ruleID id.ID) (*Rule, error) {
	return svc.store.GetRule(ctx, ruleID)
}

// Update modifies an existing rule and bumps its version.
func (svc *Service) Update(ctx context.Context, ruleID id.ID, in Input) (*Rule, error) {
	r, err := svc.store.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	if in.URL != "" {
		if _, parseErr := url.ParseRequestURI(in.URL); parseErr != nil {
			return nil, &ValidationError{Field: "url", Message: "invalid URL"}
		}
		r.URL = in.URL
	}
	if in.Name != "" {
		r.Name = in.Name
	}
	if in.EventType != "" {
		r.EventType = in.EventType
	}
	if in.Method != "" {
		r.Method = in.Method
	}
	if in.ContentType != "" {
		r.ContentType = in.ContentType
	}
	if in.Headers != nil {
		r.Headers = in.Headers
	}
	if in.Auth.Kind != "" {
		if authErr := validateAuth(in.Auth); authErr != nil {
			return nil, authErr
		}
		r.Auth = in.Auth
	}
	if in.Transform.Kind != "" {
		r.Transform = in.Transform
	}
	if in.Mode.Kind != "" {
		if modeErr := validateMode(in.Mode); modeErr != nil {
			return nil, modeErr
		}
		r.Mode = in.Mode
	}
	if in.Retry.MaxAttempts > 0 {
		r.Retry = withRetryDefaults(in.Retry)
	}
	if in.Schema != nil {
		r.Schema = in.Schema
	}
	if in.RateLimit != nil {
		r.RateLimit = &ratelimit.Config{
			MaxRequests: in.RateLimit.MaxRequests,
			Window:      in.RateLimit.Window,
		}
	}

	r.Version++
	r.Touch()

	if err := svc.store.UpdateRule(ctx, r); err != nil {
		return nil, err
	}

	return r, nil
}

// Delete removes a rule. Prefer SetActive(false) when logs still reference it.
func (svc *Service) Delete(ctx context.Context, ruleID id.ID) error {
	return svc.store.DeleteRule(ctx, ruleID)
}

// List returns rules for a tenant.
func (svc *Service) List(ctx context.Context, tenantID string, opts ListOpts) ([]*Rule, error) {
	return svc.store.ListRules(ctx, tenantID, opts)
}

// SetActive soft-enables or soft-disables a rule.
func (svc *Service) SetActive(ctx context.Context, ruleID id.ID, active bool) error {
	return svc.store.SetActive(ctx, ruleID, active)
}

// RotateSecret generates a new primary signing secret. The previous primary
// is retained as a grace-period secret so receivers verifying against the
// old secret keep succeeding during rollover.
func (svc *Service) RotateSecret(ctx context.Context, ruleID id.ID) (string, error) {
	r, err := svc.store.GetRule(ctx, ruleID)
	if err != nil {
		return "", err
	}

	newSecret := signature.GenerateSecret()

	secrets := append([]string{newSecret}, r.Secrets...)
	if len(secrets) > 1+maxGraceSecrets {
		secrets = secrets[:1+maxGraceSecrets]
	}
	r.Secrets = secrets
	r.Version++
	r.Touch()

	if err := svc.store.UpdateRule(ctx, r); err != nil {
		return "", err
	}

	svc.logger.DebugContext(ctx, "secret rotated", "rule_id", ruleID, "grace_secrets", len(secrets)-1)

	return newSecret, nil
}

// ExpireGraceSecrets drops all grace-period secrets, ending the rollover window.
func (svc *Service) ExpireGraceSecrets(ctx context.Context, ruleID id.ID) error {
	r, err := svc.store.GetRule(ctx, ruleID)
	if err != nil {
		return err
	}
	if len(r.Secrets) <= 1 {
		return nil
	}

	r.Secrets = r.Secrets[:1]
	r.Touch()
	return svc.store.UpdateRule(ctx, r)
}

func validateInput(in *Input) error {
	if _, err := url.ParseRequestURI(in.URL); err != nil {
		return &ValidationError{Field: "url", Message: "invalid URL"}
	}
	if in.TenantID == "" && !in.Global {
		return &ValidationError{Field: "tenant_id", Message: "required (or mark the rule global)"}
	}
	if in.EventType == "" {
		return &ValidationError{Field: "event_type", Message: "required"}
	}

	if in.Method == "" {
		in.Method = http.MethodPost
	}
	if in.ContentType == "" {
		in.ContentType = "application/json"
	}
	if in.Auth.Kind == "" {
		in.Auth.Kind = AuthNone
	}
	if in.Transform.Kind == "" {
		in.Transform.Kind = TransformNone
	}
	if in.Mode.Kind == "" {
		in.Mode.Kind = ModeImmediate
	}
	in.Retry = withRetryDefaults(in.Retry)

	if err := validateAuth(in.Auth); err != nil {
		return err
	}
	return validateMode(in.Mode)
}

func withRetryDefaults(p RetryPolicy) RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetry.MaxAttempts
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = DefaultRetry.BaseBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = DefaultRetry.MaxBackoff
	}
	if p.ValidationMode == "" {
		p.ValidationMode = DefaultRetry.ValidationMode
	}
	return p
}

// validateAuth checks that the variant matching Kind carries its fields.
// The switch is exhaustive over AuthKind.
func validateAuth(a AuthConfig) error {
	switch a.Kind {
	case AuthNone:
		return nil
	case AuthAPIKey:
		if a.APIKey == nil || a.APIKey.Value == "" {
			return &ValidationError{Field: "auth.api_key", Message: "value required"}
		}
	case AuthBasic:
		if a.Basic == nil || a.Basic.Username == "" {
			return &ValidationError{Field: "auth.basic", Message: "username required"}
		}
	case AuthBearer:
		if a.Bearer == nil || a.Bearer.Token == "" {
			return &ValidationError{Field: "auth.bearer", Message: "token required"}
		}
	case AuthOAuth1:
		if a.OAuth1 == nil || a.OAuth1.ConsumerKey == "" || a.OAuth1.ConsumerSecret == "" {
			return &ValidationError{Field: "auth.oauth1", Message: "consumer key and secret required"}
		}
	case AuthOAuth2:
		if a.OAuth2 == nil || a.OAuth2.TokenURL == "" || a.OAuth2.ClientID == "" {
			return &ValidationError{Field: "auth.oauth2", Message: "token URL and client ID required"}
		}
	case AuthCustomHeaders:
		if len(a.CustomHeaders) == 0 {
			return &ValidationError{Field: "auth.custom_headers", Message: "at least one header required"}
		}
	default:
		return &ValidationError{Field: "auth.kind", Message: fmt.Sprintf("unknown kind %q", a.Kind)}
	}
	return nil
}

// validateMode checks the delivery mode descriptor. Exhaustive over ModeKind.
func validateMode(m ModeConfig) error {
	switch m.Kind {
	case ModeImmediate:
		return nil
	case ModeDelayed:
		if m.Delay <= 0 {
			return &ValidationError{Field: "mode.delay", Message: "must be positive"}
		}
	case ModeRecurring:
		if m.Spec == "" {
			return &ValidationError{Field: "mode.spec", Message: "cron spec required"}
		}
		if _, err := cron.ParseStandard(m.Spec); err != nil {
			return &ValidationError{Field: "mode.spec", Message: "invalid cron spec: " + err.Error()}
		}
	default:
		return &ValidationError{Field: "mode.kind", Message: fmt.Sprintf("unknown kind %q", m.Kind)}
	}
	return nil
}

// ValidationError indicates invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "rule validation: " + e.Field + ": " + e.Message
}
