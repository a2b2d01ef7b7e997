package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultDiscoveryTimeout bounds each discovery HTTP request.
const DefaultDiscoveryTimeout = 10 * time.Second

// maxDocumentBytes bounds how much of an identity or discovery document is
// read into memory.
const maxDocumentBytes = 1 << 20

// oidcIssuerPredicates are the WebID document predicates that declare the
// subject's OIDC issuer, in prefixed and fully-qualified forms.
var oidcIssuerPredicates = []string{
	"solid:oidcIssuer",
	"http://www.w3.org/ns/solid/terms#oidcIssuer",
}

// IssuerMetadata is the provider configuration discovered from an issuer's
// /.well-known/openid-configuration document.  It is immutable once fetched
// and is not persisted; callers re-fetch (or cache) per operation.
type IssuerMetadata struct {
	Issuer                 string   `json:"issuer"`
	AuthorizationEndpoint  string   `json:"authorization_endpoint"`
	TokenEndpoint          string   `json:"token_endpoint"`
	JWKSURI                string   `json:"jwks_uri,omitempty"`
	UserInfoEndpoint       string   `json:"userinfo_endpoint,omitempty"`
	EndSessionEndpoint     string   `json:"end_session_endpoint,omitempty"`
	RegistrationEndpoint   string   `json:"registration_endpoint,omitempty"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported    []string `json:"grant_types_supported,omitempty"`
}

// ValidIssuer verifies that the issuer is a well-formed http(s) URL.  The
// https scheme is valid for any host; http is only valid for loopback hosts
// (localhost, 127.0.0.1, ::1), which supports local development providers.
func ValidIssuer(issuer string) error {
	const op = "oidc.ValidIssuer"
	u, err := url.Parse(issuer)
	if err != nil {
		return fmt.Errorf("%s: issuer %q is not a url: %w", op, issuer, ErrInvalidIssuer)
	}
	switch u.Scheme {
	case "https":
		if u.Host == "" {
			return fmt.Errorf("%s: issuer %q has no host: %w", op, issuer, ErrInvalidIssuer)
		}
		return nil
	case "http":
		host := u.Hostname()
		if host == "localhost" {
			return nil
		}
		if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
			return nil
		}
		return fmt.Errorf("%s: http issuer %q is only allowed for localhost: %w", op, issuer, ErrInvalidIssuer)
	default:
		return fmt.Errorf("%s: issuer %q scheme is not http or https: %w", op, issuer, ErrInvalidIssuer)
	}
}

// Discover resolves the OIDC issuer metadata for issuerOrWebID.  A WebID (a
// URL with a path segment or fragment) is first dereferenced to find its
// declared issuer; a bare origin is used as the issuer directly.  Each call
// performs its own isolated fetches with a bounded timeout and no retries:
// a discovery failure is surfaced immediately and the caller decides whether
// to retry.
//
// Supported options: WithDiscoveryHTTPClient, WithDiscoveryTimeout
func Discover(ctx context.Context, issuerOrWebID string, opt ...Option) (*IssuerMetadata, error) {
	const op = "oidc.Discover"
	if issuerOrWebID == "" {
		return nil, fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidParameter)
	}
	opts := getDiscoveryOpts(opt...)

	issuer := issuerOrWebID
	if IsWebID(issuerOrWebID) {
		resolved, err := ResolveWebIDIssuer(ctx, issuerOrWebID, opt...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		issuer = resolved
	}
	issuer = strings.TrimRight(issuer, "/")
	if err := ValidIssuer(issuer); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	wellKnown := issuer + "/.well-known/openid-configuration"
	body, status, err := fetchDocument(ctx, opts, wellKnown, "application/json")
	if err != nil {
		return nil, fmt.Errorf("%s: unable to fetch %s: %w", op, wellKnown, err)
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("%s: %s returned status %d: %w", op, wellKnown, status, ErrDiscoveryFailed)
	}

	var md IssuerMetadata
	if err := json.Unmarshal(body, &md); err != nil {
		return nil, fmt.Errorf("%s: unable to parse discovery document from %s: %w", op, wellKnown, ErrDiscoveryFailed)
	}
	switch {
	case md.Issuer == "":
		return nil, fmt.Errorf("%s: discovery document from %s is missing issuer: %w", op, wellKnown, ErrDiscoveryFailed)
	case md.AuthorizationEndpoint == "":
		return nil, fmt.Errorf("%s: discovery document from %s is missing authorization_endpoint: %w", op, wellKnown, ErrDiscoveryFailed)
	case md.TokenEndpoint == "":
		return nil, fmt.Errorf("%s: discovery document from %s is missing token_endpoint: %w", op, wellKnown, ErrDiscoveryFailed)
	}
	return &md, nil
}

// IsWebID reports whether s looks like an identity document reference (a URL
// carrying a path segment or fragment) rather than a bare issuer origin.
func IsWebID(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	if u.Fragment != "" {
		return true
	}
	return u.Path != "" && u.Path != "/"
}

// ResolveWebIDIssuer dereferences a WebID document and returns the OIDC
// issuer it declares via the solid:oidcIssuer predicate, searching the
// document's top level and one level of nested graph nodes.  When the
// document carries no issuer declaration, the WebID's own scheme+host is
// returned as a fallback.
//
// Supported options: WithDiscoveryHTTPClient, WithDiscoveryTimeout
func ResolveWebIDIssuer(ctx context.Context, webID string, opt ...Option) (string, error) {
	const op = "oidc.ResolveWebIDIssuer"
	u, err := url.Parse(webID)
	if err != nil {
		return "", fmt.Errorf("%s: webid %q is not a url: %w", op, webID, ErrInvalidParameter)
	}
	opts := getDiscoveryOpts(opt...)

	body, status, err := fetchDocument(ctx, opts, webID, "application/ld+json, application/json, text/plain, text/turtle")
	if err != nil {
		return "", fmt.Errorf("%s: unable to fetch webid document %s: %w", op, webID, err)
	}
	if status >= 200 && status <= 299 {
		if issuer := issuerFromDocument(body); issuer != "" {
			return issuer, nil
		}
	}

	// No declared issuer: fall back to the identity document's own origin.
	return u.Scheme + "://" + u.Host, nil
}

// issuerFromDocument searches a WebID document for an oidcIssuer predicate.
// JSON and JSON-LD are searched structurally, including one level of @graph
// nodes; any other content type falls back to a textual scan so turtle
// documents still resolve.
func issuerFromDocument(body []byte) string {
	doc := gjson.ParseBytes(body)
	switch doc.Type {
	case gjson.JSON:
		if v := issuerFromNode(doc); v != "" {
			return v
		}
		for _, node := range doc.Get("@graph").Array() {
			if v := issuerFromNode(node); v != "" {
				return v
			}
		}
		if doc.IsArray() {
			for _, node := range doc.Array() {
				if v := issuerFromNode(node); v != "" {
					return v
				}
			}
		}
		return ""
	default:
		return issuerFromText(string(body))
	}
}

// issuerFromNode inspects one JSON-LD node for an issuer predicate.  The
// predicate value may be a plain string, an {"@id": ...} reference, or a
// list of either.
func issuerFromNode(node gjson.Result) string {
	var found string
	node.ForEach(func(key, value gjson.Result) bool {
		for _, predicate := range oidcIssuerPredicates {
			if key.String() != predicate {
				continue
			}
			if v := issuerValue(value); v != "" {
				found = v
				return false
			}
		}
		return true
	})
	return found
}

func issuerValue(value gjson.Result) string {
	switch {
	case value.Type == gjson.String:
		return value.String()
	case value.IsObject():
		return value.Get("@id").String()
	case value.IsArray():
		for _, v := range value.Array() {
			if s := issuerValue(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// issuerFromText scans a non-JSON (turtle or plain text) document for an
// issuer predicate followed by a <uri> reference.
func issuerFromText(doc string) string {
	for _, predicate := range oidcIssuerPredicates {
		idx := strings.Index(doc, predicate)
		if idx < 0 {
			continue
		}
		rest := doc[idx+len(predicate):]
		start := strings.Index(rest, "<")
		if start < 0 {
			continue
		}
		end := strings.Index(rest[start:], ">")
		if end < 0 {
			continue
		}
		return rest[start+1 : start+end]
	}
	return ""
}

func fetchDocument(ctx context.Context, opts discoveryOptions, rawURL, accept string) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.withTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("unable to create request: %w", err)
	}
	req.Header.Set("Accept", accept)

	resp, err := opts.withHTTPClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("unable to read response body: %w", err)
	}
	return body, resp.StatusCode, nil
}

// discoveryOptions is the set of available options for discovery functions
type discoveryOptions struct {
	withHTTPClient *http.Client
	withTimeout    time.Duration
}

// discoveryDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func discoveryDefaults() discoveryOptions {
	return discoveryOptions{
		withHTTPClient: cleanhttpDefault(),
		withTimeout:    DefaultDiscoveryTimeout,
	}
}

func cleanhttpDefault() *http.Client {
	client, err := NewHTTPClient("")
	if err != nil {
		// NewHTTPClient can only fail on an invalid CA PEM, and none is
		// provided here.
		return http.DefaultClient
	}
	return client
}

// getDiscoveryOpts gets the discovery defaults and applies the opt overrides
// passed in.
func getDiscoveryOpts(opt ...Option) discoveryOptions {
	opts := discoveryDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithDiscoveryHTTPClient provides an optional http client for discovery
// requests.
func WithDiscoveryHTTPClient(client *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*discoveryOptions); ok {
			if client != nil {
				o.withHTTPClient = client
			}
		}
	}
}

// WithDiscoveryTimeout provides an optional timeout for each discovery
// request.
func WithDiscoveryTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*discoveryOptions); ok {
			if d > 0 {
				o.withTimeout = d
			}
		}
	}
}
