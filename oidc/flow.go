package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
)

// DefaultScopes are requested when the caller does not supply scopes.
var DefaultScopes = []string{"openid", "profile", "offline_access"}

// Flow builds PKCE authorization requests, exchanges authorization codes
// for tokens and refreshes tokens against a discovered issuer.  A Flow is
// stateless across calls (discovery happens per operation) and is safe for
// concurrent use.
type Flow struct {
	clientID string
	client   *http.Client
	timeout  time.Duration
	logger   hclog.Logger
}

// NewFlow creates a Flow for a relying party client id.
//
// Supported options: WithFlowHTTPClient, WithProviderCA, WithFlowTimeout,
// WithLogger
func NewFlow(clientID string, opt ...Option) (*Flow, error) {
	const op = "oidc.NewFlow"
	if clientID == "" {
		return nil, fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	opts := getFlowOpts(opt...)

	client := opts.withHTTPClient
	if client == nil {
		var err error
		client, err = NewHTTPClient(opts.withProviderCA)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
		}
	}
	return &Flow{
		clientID: clientID,
		client:   client,
		timeout:  opts.withTimeout,
		logger:   opts.withLogger,
	}, nil
}

// Discover resolves issuer metadata using the flow's http client and
// timeout.  See the package-level Discover for semantics.
func (f *Flow) Discover(ctx context.Context, issuerOrWebID string) (*IssuerMetadata, error) {
	return Discover(ctx, issuerOrWebID,
		WithDiscoveryHTTPClient(f.client),
		WithDiscoveryTimeout(f.timeout),
	)
}

// AuthURL discovers the issuer and generates the authorization URL for a
// new flow, along with the Request holding the state and PKCE code verifier
// the caller must keep until the redirect completes.
//
// Supported options: WithState, WithScopes
func (f *Flow) AuthURL(ctx context.Context, issuerOrWebID, redirectURL string, opt ...Option) (string, *Request, error) {
	const op = "Flow.AuthURL"
	if redirectURL == "" {
		return "", nil, fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	opts := getFlowCallOpts(opt...)

	md, err := f.Discover(ctx, issuerOrWebID)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}
	reqOpt := []Option{}
	if opts.withState != "" {
		reqOpt = append(reqOpt, WithState(opts.withState))
	}
	request, err := NewRequest(DefaultRequestExpiry, md.Issuer, redirectURL, reqOpt...)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}

	scopes := opts.withScopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	cfg := oauth2.Config{
		ClientID:    f.clientID,
		RedirectURL: redirectURL,
		Scopes:      scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  md.AuthorizationEndpoint,
			TokenURL: md.TokenEndpoint,
		},
	}
	authURL := cfg.AuthCodeURL(request.State(),
		oauth2.SetAuthURLParam("code_challenge", request.CodeChallenge()),
		oauth2.SetAuthURLParam("code_challenge_method", ChallengeMethodS256),
	)
	f.logger.Debug("generated authorization url", "issuer", md.Issuer)
	return authURL, request, nil
}

// Exchange discovers the issuer and exchanges an authorization code plus
// its PKCE code verifier for a TokenBundle.  A non-2xx token endpoint
// response fails with the HTTP status and response body attached; a 2xx
// response missing access_token fails with ErrMissingAccessToken.
func (f *Flow) Exchange(ctx context.Context, issuerOrWebID, redirectURL, code, codeVerifier string) (*TokenBundle, error) {
	const op = "Flow.Exchange"
	switch {
	case code == "":
		return nil, fmt.Errorf("%s: code is empty: %w", op, ErrInvalidParameter)
	case codeVerifier == "":
		return nil, fmt.Errorf("%s: code verifier is empty: %w", op, ErrInvalidParameter)
	}

	md, err := f.Discover(ctx, issuerOrWebID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cfg := oauth2.Config{
		ClientID:    f.clientID,
		RedirectURL: redirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  md.AuthorizationEndpoint,
			TokenURL: md.TokenEndpoint,
		},
	}
	callCtx, cancel := f.callContext(ctx)
	defer cancel()

	tok, err := cfg.Exchange(callCtx, code, oauth2.SetAuthURLParam("code_verifier", codeVerifier))
	if err != nil {
		return nil, wrapTokenError(op, "failed to exchange code for tokens", err)
	}
	bundle, err := bundleFromToken(tok)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	f.logger.Debug("exchanged authorization code", "issuer", md.Issuer)
	return bundle, nil
}

// Refresh discovers the issuer and redeems a refresh token for a new
// TokenBundle.  Providers may omit a new refresh_token from the response; in
// that case the returned bundle's RefreshToken is empty (or the prior one,
// depending on the provider) and the caller must preserve the previously
// stored refresh token.
func (f *Flow) Refresh(ctx context.Context, issuerOrWebID string, refreshToken RefreshToken) (*TokenBundle, error) {
	const op = "Flow.Refresh"
	if refreshToken == "" {
		return nil, fmt.Errorf("%s: refresh token is empty: %w", op, ErrInvalidParameter)
	}

	md, err := f.Discover(ctx, issuerOrWebID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cfg := oauth2.Config{
		ClientID: f.clientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:  md.AuthorizationEndpoint,
			TokenURL: md.TokenEndpoint,
		},
	}
	callCtx, cancel := f.callContext(ctx)
	defer cancel()

	tok, err := cfg.TokenSource(callCtx, &oauth2.Token{RefreshToken: string(refreshToken)}).Token()
	if err != nil {
		return nil, wrapTokenError(op, "failed to refresh access token", err)
	}
	bundle, err := bundleFromToken(tok)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	f.logger.Debug("refreshed access token", "issuer", md.Issuer)
	return bundle, nil
}

// VerifyIDToken verifies an id_token's signature against the issuer's
// published JWKS and returns the verified claims.  This is the hardened
// counterpart to IDToken.Claims, which extracts claims without
// verification.
func (f *Flow) VerifyIDToken(ctx context.Context, md *IssuerMetadata, t IDToken) (map[string]interface{}, error) {
	const op = "Flow.VerifyIDToken"
	if md == nil {
		return nil, fmt.Errorf("%s: issuer metadata is nil: %w", op, ErrNilParameter)
	}
	if md.JWKSURI == "" {
		return nil, fmt.Errorf("%s: issuer %s: %w", op, md.Issuer, ErrMissingJWKSURI)
	}
	if t == "" {
		return nil, fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	callCtx, cancel := f.callContext(ctx)
	defer cancel()
	callCtx = gooidc.ClientContext(callCtx, f.client)

	keySet := gooidc.NewRemoteKeySet(callCtx, md.JWKSURI)
	verifier := gooidc.NewVerifier(md.Issuer, keySet, &gooidc.Config{
		ClientID:             f.clientID,
		SupportedSigningAlgs: []string{gooidc.RS256, gooidc.ES256, gooidc.ES384, gooidc.PS256},
	})
	verified, err := verifier.Verify(callCtx, string(t))
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, err.Error(), ErrVerificationFailed)
	}
	var claims map[string]interface{}
	if err := verified.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%s: unable to extract verified claims: %w", op, err)
	}
	return claims, nil
}

// callContext bounds one outbound call with the flow's timeout and routes
// it through the flow's http client (the same context key is honored by
// both the oauth2 and go-oidc packages).
func (f *Flow) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	return context.WithValue(ctx, oauth2.HTTPClient, f.client), cancel
}

// wrapTokenError attaches the token endpoint's HTTP status and body to the
// returned error instead of leaking the bare transport error.
func wrapTokenError(op, msg string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		return fmt.Errorf("%s: %s: status %d: %s: %w",
			op, msg, retrieveErr.Response.StatusCode, string(retrieveErr.Body), ErrTokenRequestFailed)
	}
	// the oauth2 package reports a 2xx response without an access_token as
	// a plain error string
	if strings.Contains(err.Error(), "missing access_token") {
		return fmt.Errorf("%s: %s: %w", op, msg, ErrMissingAccessToken)
	}
	return fmt.Errorf("%s: %s: %w", op, msg, err)
}

// bundleFromToken converts an oauth2 token into a TokenBundle, restoring the
// provider's raw expires_in and scope values from the response extras.
func bundleFromToken(tok *oauth2.Token) (*TokenBundle, error) {
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("token response: %w", ErrMissingAccessToken)
	}
	bundle := &TokenBundle{
		AccessToken:  AccessToken(tok.AccessToken),
		RefreshToken: RefreshToken(tok.RefreshToken),
		TokenType:    tok.TokenType,
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		bundle.IDToken = IDToken(idToken)
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		bundle.Scope = scope
	}
	bundle.ExpiresIn = expiresIn(tok)
	return bundle, nil
}

func expiresIn(tok *oauth2.Token) int64 {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
	}
	if !tok.Expiry.IsZero() {
		if secs := int64(time.Until(tok.Expiry).Seconds()); secs > 0 {
			return secs
		}
	}
	return 0
}

// flowOptions is the set of available options for NewFlow
type flowOptions struct {
	withHTTPClient *http.Client
	withProviderCA string
	withTimeout    time.Duration
	withLogger     hclog.Logger
}

// flowDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func flowDefaults() flowOptions {
	return flowOptions{
		withTimeout: DefaultDiscoveryTimeout,
		withLogger:  hclog.NewNullLogger(),
	}
}

// getFlowOpts gets the flow defaults and applies the opt overrides passed in.
func getFlowOpts(opt ...Option) flowOptions {
	opts := flowDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithFlowHTTPClient provides an optional http client for the flow's
// outbound calls, overriding the cleanhttp default.
func WithFlowHTTPClient(client *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*flowOptions); ok {
			o.withHTTPClient = client
		}
	}
}

// WithProviderCA provides an optional CA cert PEM for the flow's http
// client.
func WithProviderCA(caPEM string) Option {
	return func(o interface{}) {
		if o, ok := o.(*flowOptions); ok {
			o.withProviderCA = caPEM
		}
	}
}

// WithFlowTimeout provides an optional per-call timeout for the flow's
// outbound requests.
func WithFlowTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*flowOptions); ok {
			if d > 0 {
				o.withTimeout = d
			}
		}
	}
}

// WithLogger provides an optional logger for the flow.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*flowOptions); ok {
			if l != nil {
				o.withLogger = l
			}
		}
	}
}

// flowCallOptions is the set of available options for per-call Flow
// operations.
type flowCallOptions struct {
	withState  string
	withScopes []string
}

func flowCallDefaults() flowCallOptions {
	return flowCallOptions{}
}

func getFlowCallOpts(opt ...Option) flowCallOptions {
	opts := flowCallDefaults()
	ApplyOpts(&opts, opt...)
	// WithState is shared with reqOptions; re-apply against that shape.
	reqOpts := reqOptions{}
	ApplyOpts(&reqOpts, opt...)
	if opts.withState == "" {
		opts.withState = reqOpts.withState
	}
	return opts
}

// WithScopes provides an optional list of scopes for an authorization URL,
// replacing DefaultScopes.
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*flowCallOptions); ok {
			o.withScopes = scopes
		}
	}
}
