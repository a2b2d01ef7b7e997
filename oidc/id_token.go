package oidc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// IDToken is an oidc id_token
type IDToken string

// RedactedIDToken is the redacted string or json for an oidc id_token
const RedactedIDToken = "[REDACTED: id_token]"

// String will redact the token
func (t IDToken) String() string {
	return RedactedIDToken
}

// MarshalJSON will redact the token
func (t IDToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedIDToken)
}

// Claims extracts the id_token's payload claims into v without verifying
// the token's signature.  The token must be a compact JWT of exactly three
// dot-separated segments.  Callers that need a verified token use
// Flow.VerifyIDToken instead.
func (t IDToken) Claims(v interface{}) error {
	const op = "IDToken.Claims"
	if len(t) == 0 {
		return fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	if v == nil {
		return fmt.Errorf("%s: claims interface is nil: %w", op, ErrNilParameter)
	}
	segments := strings.Split(string(t), ".")
	if len(segments) != 3 {
		return fmt.Errorf("%s: expected 3 segments, got %d: %w", op, len(segments), ErrInvalidJWTFormat)
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(segments[1], "="))
	if err != nil {
		return fmt.Errorf("%s: unable to decode payload segment: %w", op, ErrInvalidJWTFormat)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%s: unable to parse payload claims: %w", op, err)
	}
	return nil
}
