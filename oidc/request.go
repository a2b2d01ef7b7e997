package oidc

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	uuid "github.com/hashicorp/go-uuid"
)

const (
	// stateLen is the number of random bytes in a Request's state.
	stateLen = 32

	// verifierLen is the number of random bytes in a Request's PKCE code
	// verifier.
	verifierLen = 64

	// ChallengeMethodS256 is the only PKCE challenge method supported:
	// base64url(SHA-256(verifier)).
	ChallengeMethodS256 = "S256"
)

// DefaultRequestExpiry is how long a Request remains valid between the
// authorization leg and the code-exchange leg of the flow.
const DefaultRequestExpiry = 10 * time.Minute

// DefaultRequestExpirySkew defines a default time skew when checking a
// Request's expiration.
const DefaultRequestExpirySkew = 1 * time.Second

// Request represents one in-flight authorization code flow.  It carries
// the CSRF state, the PKCE code verifier/challenge pair, and the issuer and
// redirect URL the flow was started against.  A Request is created at flow
// start, must be held by the caller (see RequestStore) across the redirect,
// is consumed exactly once at code-exchange time, and is then discarded.
type Request struct {
	// state is an opaque CSRF correlation value used to maintain state
	// between the authorization request and the callback.
	state string

	// codeVerifier is the PKCE secret.  It is never transmitted in the
	// authorization request; only its S256 challenge is.
	codeVerifier string

	// codeChallenge is base64url(SHA-256(codeVerifier)).
	codeChallenge string

	issuer      string
	redirectURL string

	// expiration is the expiration time for the Request
	expiration time.Time

	// nowFunc is an optional time func used for expiration checks
	nowFunc func() time.Time
}

// NewRequest creates a new Request for a flow against issuer.  The state and
// code verifier are freshly generated URL-safe random values unless a state
// is supplied via WithState.
//
// Supported options: WithState, WithNow
func NewRequest(expireIn time.Duration, issuer, redirectURL string, opt ...Option) (*Request, error) {
	const op = "oidc.NewRequest"
	if expireIn <= 0 {
		return nil, fmt.Errorf("%s: expireIn not greater than zero: %w", op, ErrInvalidParameter)
	}
	if issuer == "" {
		return nil, fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidParameter)
	}
	opts := getReqOpts(opt...)

	state := opts.withState
	if state == "" {
		var err error
		state, err = randomURLSafe(stateLen)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to generate state: %w", op, ErrIDGeneratorFailed)
		}
	}
	verifier, err := randomURLSafe(verifierLen)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate code verifier: %w", op, ErrIDGeneratorFailed)
	}

	r := &Request{
		state:         state,
		codeVerifier:  verifier,
		codeChallenge: CodeChallengeS256(verifier),
		issuer:        issuer,
		redirectURL:   redirectURL,
		nowFunc:       opts.withNowFunc,
	}
	r.expiration = r.now().Add(expireIn)
	return r, nil
}

// State returns the request's CSRF state value.
func (r *Request) State() string { return r.state }

// CodeVerifier returns the request's PKCE code verifier.  It must only be
// sent to the token endpoint during code exchange.
func (r *Request) CodeVerifier() string { return r.codeVerifier }

// CodeChallenge returns the request's PKCE code challenge.
func (r *Request) CodeChallenge() string { return r.codeChallenge }

// Issuer returns the issuer the flow was started against.
func (r *Request) Issuer() string { return r.issuer }

// RedirectURL returns the redirect URL the flow was started with.
func (r *Request) RedirectURL() string { return r.redirectURL }

// IsExpired returns true if the request has expired. Supports the
// WithExpirySkew option and if none is provided it will use the
// DefaultRequestExpirySkew.
func (r *Request) IsExpired(opt ...Option) bool {
	opts := getReqOpts(opt...)
	return r.expiration.Before(r.now().Add(opts.withExpirySkew))
}

func (r *Request) now() time.Time {
	if r.nowFunc != nil {
		return r.nowFunc()
	}
	return time.Now()
}

// CodeChallengeS256 computes the S256 PKCE code challenge for a verifier.
func CodeChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func randomURLSafe(n int) (string, error) {
	b, err := uuid.GenerateRandomBytes(n)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// reqOptions is the set of available options for Request functions
type reqOptions struct {
	withState      string
	withNowFunc    func() time.Time
	withExpirySkew time.Duration
}

// reqDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func reqDefaults() reqOptions {
	return reqOptions{
		withExpirySkew: DefaultRequestExpirySkew,
	}
}

// getReqOpts gets the request defaults and applies the opt overrides passed
// in.
func getReqOpts(opt ...Option) reqOptions {
	opts := reqDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithState provides an optional caller-supplied state for a Request,
// instead of a freshly generated one.
func WithState(state string) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withState = state
		}
	}
}
