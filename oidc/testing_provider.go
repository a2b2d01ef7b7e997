package oidc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// TestProvider is a local server that supports the OIDC provider
// capabilities these packages exercise (discovery, PKCE code exchange,
// refresh, JWKS), which makes writing tests much easier.  It listens on a
// loopback address over plain http, which issuer validation treats as
// localhost.
type TestProvider struct {
	httpServer *httptest.Server
	jwks       *jose.JSONWebKeySet

	mu                    sync.Mutex
	clientID              string
	expectedAuthCode      string
	expectedCodeChallenge string
	replyAccessToken      string
	replyRefreshToken     string
	refreshedRefreshToken string
	replyExpiresIn        int64
	replySubject          string
	customClaims          map[string]interface{}
	omitAccessToken       bool
	omitIDToken           bool
	tokenErrorCode        int
	exchangeCount         int
	refreshCount          int

	ecdsaPrivateKey *ecdsa.PrivateKey

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider on a free loopback
// port.  The server is stopped via t.Cleanup.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(err)

	p := &TestProvider{
		t:                 t,
		ecdsaPrivateKey:   priv,
		replySubject:      "https://pod.example.com/profile/card#me",
		replyAccessToken:  "test-access-token",
		replyRefreshToken: "test-refresh-token",
		replyExpiresIn:    3600,
		jwks: &jose.JSONWebKeySet{
			Keys: []jose.JSONWebKey{
				{Key: priv.Public(), Algorithm: string(jose.ES256), Use: "sig"},
			},
		},
	}
	p.httpServer = httptest.NewServer(p)
	t.Cleanup(p.httpServer.Close)
	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the current base URL for the test provider's running
// webserver, which doubles as its issuer.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// HTTPClient returns a client suitable for talking to the test provider.
func (p *TestProvider) HTTPClient() *http.Client { return p.httpServer.Client() }

// SetClientID configures the audience embedded in issued id_tokens.
func (p *TestProvider) SetClientID(clientID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
}

// SetExpectedAuthCode configures the only auth code /token will accept.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetExpectedCodeChallenge configures PKCE enforcement: /token rejects an
// exchange whose code_verifier does not hash to this challenge.
func (p *TestProvider) SetExpectedCodeChallenge(challenge string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedCodeChallenge = challenge
}

// SetReplyTokens configures the access and refresh tokens /token returns.
func (p *TestProvider) SetReplyTokens(accessToken, refreshToken string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyAccessToken = accessToken
	p.replyRefreshToken = refreshToken
}

// SetRefreshedRefreshToken configures the refresh_token value returned by
// the refresh_token grant.  An empty value makes the provider omit
// refresh_token from refresh responses, which some providers do.
func (p *TestProvider) SetRefreshedRefreshToken(refreshToken string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshedRefreshToken = refreshToken
}

// SetReplyExpiresIn configures the expires_in value of token responses.
func (p *TestProvider) SetReplyExpiresIn(seconds int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyExpiresIn = seconds
}

// SetReplySubject configures the sub (and webid) claim of issued id_tokens.
func (p *TestProvider) SetReplySubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replySubject = sub
}

// SetCustomClaims lets you set additional claims to return in issued
// id_tokens.
func (p *TestProvider) SetCustomClaims(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = claims
}

// OmitAccessTokens forces an error state where /token responds 200 without
// an access_token.
func (p *TestProvider) OmitAccessTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitAccessToken = true
}

// OmitIDTokens makes /token responses omit id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// SetTokenError forces /token to fail with the given HTTP status.  A zero
// status restores normal behavior.
func (p *TestProvider) SetTokenError(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenErrorCode = status
}

// ExchangeCount reports how many authorization_code grants were served.
func (p *TestProvider) ExchangeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exchangeCount
}

// RefreshCount reports how many refresh_token grants were served.
func (p *TestProvider) RefreshCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshCount
}

// SigningKeyPEM returns the provider's pem-encoded private signing key.
func (p *TestProvider) SigningKeyPEM() string {
	der, err := x509.MarshalECPrivateKey(p.ecdsaPrivateKey)
	require.NoError(p.t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}))
}

// SignIDToken bundles the standard and custom claims into a signed compact
// JWT issued by this provider.
func (p *TestProvider) SignIDToken(sub string, customClaims map[string]interface{}) string {
	p.t.Helper()
	require := require.New(p.t)

	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.ES256, Key: p.ecdsaPrivateKey},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(err)

	now := time.Now()
	claims := jwt.Claims{
		Subject:   sub,
		Issuer:    p.Addr(),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
		Expiry:    jwt.NewNumericDate(now.Add(5 * time.Minute)),
		IssuedAt:  jwt.NewNumericDate(now),
		Audience:  jwt.Audience{p.clientID},
	}
	private := map[string]interface{}{
		"webid": sub,
	}
	for k, v := range customClaims {
		private[k] = v
	}

	raw, err := jwt.Signed(sig).Claims(claims).Claims(private).CompactSerialize()
	require.NoError(err)
	return raw
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) {
	_ = json.NewEncoder(w).Encode(out)
}

func (p *TestProvider) writeTokenError(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}
	w.WriteHeader(statusCode)
	p.writeJSON(w, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.t.Helper()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		reply := struct {
			Issuer        string `json:"issuer"`
			AuthEndpoint  string `json:"authorization_endpoint"`
			TokenEndpoint string `json:"token_endpoint"`
			JWKSURI       string `json:"jwks_uri"`
		}{
			Issuer:        p.Addr(),
			AuthEndpoint:  p.Addr() + "/auth",
			TokenEndpoint: p.Addr() + "/token",
			JWKSURI:       p.Addr() + "/certs",
		}
		p.writeJSON(w, &reply)

	case "/certs":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.writeJSON(w, p.jwks)

	case "/token":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if p.tokenErrorCode != 0 {
			p.writeTokenError(w, p.tokenErrorCode, "server_error", "forced error")
			return
		}

		switch req.FormValue("grant_type") {
		case "authorization_code":
			if req.FormValue("code") != p.expectedAuthCode {
				p.writeTokenError(w, http.StatusUnauthorized, "invalid_grant", "unexpected auth code")
				return
			}
			if p.expectedCodeChallenge != "" &&
				CodeChallengeS256(req.FormValue("code_verifier")) != p.expectedCodeChallenge {
				p.writeTokenError(w, http.StatusBadRequest, "invalid_grant", "code verifier does not match challenge")
				return
			}
			p.exchangeCount++
			p.writeTokenReply(w, p.replyRefreshToken)

		case "refresh_token":
			if req.FormValue("refresh_token") == "" {
				p.writeTokenError(w, http.StatusBadRequest, "invalid_request", "missing refresh_token")
				return
			}
			p.refreshCount++
			p.writeTokenReply(w, p.refreshedRefreshToken)

		default:
			p.writeTokenError(w, http.StatusBadRequest, "invalid_request", "bad grant_type")
		}

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) writeTokenReply(w http.ResponseWriter, refreshToken string) {
	reply := struct {
		AccessToken  string `json:"access_token,omitempty"`
		RefreshToken string `json:"refresh_token,omitempty"`
		IDToken      string `json:"id_token,omitempty"`
		TokenType    string `json:"token_type,omitempty"`
		ExpiresIn    int64  `json:"expires_in,omitempty"`
	}{
		AccessToken:  p.replyAccessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    p.replyExpiresIn,
	}
	if p.omitAccessToken {
		reply.AccessToken = ""
	}
	if !p.omitIDToken {
		reply.IDToken = p.SignIDToken(p.replySubject, p.customClaims)
	}
	p.writeJSON(w, &reply)
}
