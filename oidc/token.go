package oidc

import (
	"encoding/json"
	"time"
)

// DefaultExpiresIn is assumed when a token response omits expires_in.
const DefaultExpiresIn = 3600

// AccessToken is an oauth access_token
type AccessToken string

// RedactedAccessToken is the redacted string or json for an oauth access_token
const RedactedAccessToken = "[REDACTED: access_token]"

// String will redact the token
func (t AccessToken) String() string {
	return RedactedAccessToken
}

// MarshalJSON will redact the token
func (t AccessToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedAccessToken)
}

// RefreshToken is an oauth refresh_token
type RefreshToken string

// RedactedRefreshToken is the redacted string or json for an oauth refresh_token
const RedactedRefreshToken = "[REDACTED: refresh_token]"

// String will redact the token
func (t RefreshToken) String() string {
	return RedactedRefreshToken
}

// MarshalJSON will redact the token
func (t RefreshToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedRefreshToken)
}

// TokenBundle is the raw result of a token exchange or refresh.  Token
// fields are typed strings that redact themselves when printed or marshaled,
// so a bundle can never leak secrets through logging; persisting a bundle
// goes through encrypted storage instead (see the envelope package).
type TokenBundle struct {
	AccessToken  AccessToken  `json:"access_token"`
	RefreshToken RefreshToken `json:"refresh_token,omitempty"`
	IDToken      IDToken      `json:"id_token,omitempty"`
	TokenType    string       `json:"token_type,omitempty"`
	ExpiresIn    int64        `json:"expires_in,omitempty"`
	Scope        string       `json:"scope,omitempty"`
}

// Expiry returns the absolute expiry of the bundle's access token relative
// to now, assuming DefaultExpiresIn when the provider omitted expires_in.
func (t *TokenBundle) Expiry(now time.Time) time.Time {
	secs := t.ExpiresIn
	if secs <= 0 {
		secs = DefaultExpiresIn
	}
	return now.Add(time.Duration(secs) * time.Second)
}
