// Package detect implements the heuristic classifiers for identity
// provider login traffic. All functions are stateless pattern matches
// over a single observed event; correlation lives elsewhere so these
// stay unit-testable against literal URL strings.
package detect

import (
	"net/url"
	"strings"

	"loginwatch/internal/event"
)

// DefaultProviderHost is the canonical identity provider hostname.
const DefaultProviderHost = "login.microsoftonline.com"

// authorizePaths are the OAuth2 authorize endpoint patterns, matched
// against the lowercased URL path.
var authorizePaths = []string{"/oauth2/v2.0/authorize", "/oauth2/authorize"}

// Classifier answers yes/no questions about observed traffic for one
// identity provider.
type Classifier struct {
	host      string
	dotSuffix string
}

// NewClassifier creates a Classifier for the given provider hostname.
// An empty hostname falls back to DefaultProviderHost.
func NewClassifier(providerHost string) *Classifier {
	if providerHost == "" {
		providerHost = DefaultProviderHost
	}
	return &Classifier{
		host:      providerHost,
		dotSuffix: "." + providerHost,
	}
}

// ProviderHost returns the configured canonical hostname.
func (c *Classifier) ProviderHost() string {
	return c.host
}

// IsProviderHost reports whether host is the provider hostname or a
// direct subdomain of it. The match is case-sensitive and requires the
// domain-separator dot, so a look-alike such as
// "login-microsoftonline.com" never matches.
func (c *Classifier) IsProviderHost(host string) bool {
	if host == "" {
		return false
	}
	return host == c.host || strings.HasSuffix(host, c.dotSuffix)
}

// IsIdentityProviderTunnel reports whether a CONNECT tunnel targets the
// identity provider. A missing target host is never a match.
func (c *Classifier) IsIdentityProviderTunnel(targetHost string) bool {
	return c.IsProviderHost(targetHost)
}

// IsOAuthCallback reports whether a request (or its paired 302
// response) matches the OAuth/OIDC callback pattern: a code or state
// query parameter, a /callback or /auth path fragment, or the authorize
// endpoint. URL parse failures yield false, never an error.
func (c *Classifier) IsOAuthCallback(rawURL string, resp *event.ResponseInfo) bool {
	if hasOAuthPattern(rawURL) {
		return true
	}

	if resp != nil && resp.StatusCode == 302 && resp.Location != "" {
		return hasOAuthPattern(resp.Location)
	}

	return false
}

// IsInteractiveLogin reports whether a request is a user-driven
// authorization: the authorize endpoint with response_type containing
// "code". Silent token refreshes do not hit the authorize endpoint this
// way, which is what separates a fresh credential entry from background
// renewal.
func (c *Classifier) IsInteractiveLogin(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	if !isAuthorizePath(strings.ToLower(u.Path)) {
		return false
	}

	for key, values := range u.Query() {
		if !strings.EqualFold(key, "response_type") {
			continue
		}
		for _, v := range values {
			if strings.Contains(strings.ToLower(v), "code") {
				return true
			}
		}
	}

	return false
}

// hasOAuthPattern checks a single URL for the callback heuristics.
// Parameter names are matched case-insensitively.
func hasOAuthPattern(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	for key := range u.Query() {
		if strings.EqualFold(key, "code") || strings.EqualFold(key, "state") {
			return true
		}
	}

	path := strings.ToLower(u.Path)
	if strings.Contains(path, "/callback") || strings.Contains(path, "/auth") {
		return true
	}

	return isAuthorizePath(path)
}

func isAuthorizePath(lowerPath string) bool {
	for _, p := range authorizePaths {
		if strings.Contains(lowerPath, p) {
			return true
		}
	}
	return false
}
