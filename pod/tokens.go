package pod

import (
	"github.com/podlink/podlink/oidc"
)

// StoredTokens is the plaintext shape of a Connection's encrypted token
// envelope.  Unlike oidc.TokenBundle it carries plain string fields so it
// round-trips through the envelope cipher unredacted; it must never be
// logged or persisted outside an envelope.
type StoredTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// StoredFromBundle converts a freshly exchanged bundle for encrypted
// storage.
func StoredFromBundle(b *oidc.TokenBundle) StoredTokens {
	return StoredTokens{
		AccessToken:  string(b.AccessToken),
		RefreshToken: string(b.RefreshToken),
		IDToken:      string(b.IDToken),
		TokenType:    b.TokenType,
		Scope:        b.Scope,
	}
}

// Merge folds a refresh response onto the previously stored tokens.  Some
// providers omit refresh_token (and id_token) from refresh responses and
// expect the client to keep using the prior values, so omitted secrets are
// preserved rather than cleared.
func (s StoredTokens) Merge(b *oidc.TokenBundle) StoredTokens {
	merged := StoredTokens{
		AccessToken:  string(b.AccessToken),
		RefreshToken: string(b.RefreshToken),
		IDToken:      string(b.IDToken),
		TokenType:    b.TokenType,
		Scope:        b.Scope,
	}
	if merged.RefreshToken == "" {
		merged.RefreshToken = s.RefreshToken
	}
	if merged.IDToken == "" {
		merged.IDToken = s.IDToken
	}
	if merged.TokenType == "" {
		merged.TokenType = s.TokenType
	}
	if merged.Scope == "" {
		merged.Scope = s.Scope
	}
	return merged
}
