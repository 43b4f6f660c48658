package delivery

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/hookpipe/hookpipe/rule"
)

// authenticator attaches outbound credentials to delivery requests.
//
// OAuth2 token sources are cached per rule ID and version so token
// refreshes are shared across attempts; rotating a rule's credentials
// bumps the version and invalidates the cached source.
type authenticator struct {
	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

func newAuthenticator() *authenticator {
	return &authenticator{sources: make(map[string]oauth2.TokenSource)}
}

// apply sets the auth material for the rule on req. The switch is
// exhaustive over AuthKind.
func (a *authenticator) apply(ctx context.Context, req *http.Request, r *rule.Rule) error {
	switch r.Auth.Kind {
	case rule.AuthNone:
		return nil

	case rule.AuthAPIKey:
		if r.Auth.APIKey == nil {
			return fmt.Errorf("rule %s: api_key auth without config", r.ID)
		}
		req.Header.Set(r.Auth.APIKey.Header, r.Auth.APIKey.Value)
		return nil

	case rule.AuthBasic:
		if r.Auth.Basic == nil {
			return fmt.Errorf("rule %s: basic auth without config", r.ID)
		}
		req.SetBasicAuth(r.Auth.Basic.Username, r.Auth.Basic.Password)
		return nil

	case rule.AuthBearer:
		if r.Auth.Bearer == nil {
			return fmt.Errorf("rule %s: bearer auth without config", r.ID)
		}
		req.Header.Set("Authorization", "Bearer "+r.Auth.Bearer.Token)
		return nil

	case rule.AuthOAuth1:
		if r.Auth.OAuth1 == nil {
			return fmt.Errorf("rule %s: oauth1 auth without config", r.ID)
		}
		header, err := oauth1Header(req, r.Auth.OAuth1)
		if err != nil {
			return fmt.Errorf("rule %s: oauth1 signing: %w", r.ID, err)
		}
		req.Header.Set("Authorization", header)
		return nil

	case rule.AuthOAuth2:
		if r.Auth.OAuth2 == nil {
			return fmt.Errorf("rule %s: oauth2 auth without config", r.ID)
		}
		tok, err := a.token(r)
		if err != nil {
			return fmt.Errorf("rule %s: oauth2 token: %w", r.ID, err)
		}
		tok.SetAuthHeader(req)
		return nil

	case rule.AuthCustomHeaders:
		for k, v := range r.Auth.CustomHeaders {
			req.Header.Set(k, v)
		}
		return nil

	default:
		return fmt.Errorf("rule %s: unknown auth kind %q", r.ID, r.Auth.Kind)
	}
}

// token returns a client-credentials token from the per-rule cached
// source. The source carries its own background context so a single
// attempt's cancellation does not poison the shared refresh.
func (a *authenticator) token(r *rule.Rule) (*oauth2.Token, error) {
	key := fmt.Sprintf("%s@%d", r.ID, r.Version)

	a.mu.Lock()
	src, ok := a.sources[key]
	if !ok {
		cfg := &clientcredentials.Config{
			ClientID:     r.Auth.OAuth2.ClientID,
			ClientSecret: r.Auth.OAuth2.ClientSecret,
			TokenURL:     r.Auth.OAuth2.TokenURL,
			Scopes:       r.Auth.OAuth2.Scopes,
		}
		src = cfg.TokenSource(context.Background())
		a.sources[key] = src
	}
	a.mu.Unlock()

	return src.Token()
}

// oauth1Header builds an OAuth 1.0a HMAC-SHA1 Authorization header for
// the request. Only header-based auth with the request's query
// parameters in the signature base is supported; body parameters are
// not signed since deliveries carry JSON bodies.
func oauth1Header(req *http.Request, cfg *rule.OAuth1Auth) (string, error) {
	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", err
	}

	oauthParams := map[string]string{
		"oauth_consumer_key":     cfg.ConsumerKey,
		"oauth_nonce":            hex.EncodeToString(nonceBytes),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(time.Now().Unix(), 10),
		"oauth_token":            cfg.Token,
		"oauth_version":          "1.0",
	}

	params := make(map[string][]string)
	for k, vs := range req.URL.Query() {
		params[k] = append(params[k], vs...)
	}
	for k, v := range oauthParams {
		params[k] = append(params[k], v)
	}

	var pairs []string
	for k, vs := range params {
		ek := url.QueryEscape(k)
		for _, v := range vs {
			pairs = append(pairs, ek+"="+url.QueryEscape(v))
		}
	}
	sort.Strings(pairs)

	baseURL := req.URL.Scheme + "://" + req.URL.Host + req.URL.Path
	base := strings.ToUpper(req.Method) + "&" +
		url.QueryEscape(baseURL) + "&" +
		url.QueryEscape(strings.Join(pairs, "&"))

	key := url.QueryEscape(cfg.ConsumerSecret) + "&" + url.QueryEscape(cfg.TokenSecret)
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	oauthParams["oauth_signature"] = base64.StdEncoding.EncodeToString(mac.Sum(nil))

	keys := make([]string, 0, len(oauthParams))
	for k := range oauthParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("OAuth ")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteString(`="`)
		b.WriteString(url.QueryEscape(oauthParams[k]))
		b.WriteString(`"`)
	}
	return b.String(), nil
}
