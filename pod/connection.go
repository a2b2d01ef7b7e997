package pod

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("connection not found")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrNoRefreshToken   = errors.New("no refresh token available")
	ErrRequestFailed    = errors.New("resource request failed")
)

// ResourceURIs are the locations of a user's portable documents on their
// Pod.  They are computed once from the WebID's origin and cached on the
// Connection.
type ResourceURIs struct {
	Profile        string `json:"profile"`
	Preferences    string `json:"preferences"`
	ActivityLedger string `json:"activityLedger,omitempty"`
}

// Connection is the persisted record linking one application user to their
// Pod identity.  Token material only appears in EncryptedTokens (an
// envelope string, see the envelope package); TokenExpiry is cached beside
// it so callers can check expiry without decrypting.
type Connection struct {
	UserID          string                 `json:"userId"`
	WebID           string                 `json:"webId"`
	Issuer          string                 `json:"issuer"`
	EncryptedTokens string                 `json:"encryptedTokens"`
	Scopes          []string               `json:"scopes,omitempty"`
	IDTokenClaims   map[string]interface{} `json:"idTokenClaims,omitempty"`
	TokenExpiry     time.Time              `json:"tokenExpiry"`
	ResourceURIs    *ResourceURIs          `json:"resourceUris,omitempty"`
	LastSyncAt      time.Time              `json:"lastSyncAt,omitempty"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

// Fields is a partial Connection for merge-style upserts: nil pointers (and
// nil map/slice values) leave the stored value unchanged.
type Fields struct {
	WebID           *string
	Issuer          *string
	EncryptedTokens *string
	Scopes          []string
	IDTokenClaims   map[string]interface{}
	TokenExpiry     *time.Time
	ResourceURIs    *ResourceURIs
	LastSyncAt      *time.Time
}

// Apply merges the set fields onto c and stamps UpdatedAt.  Store
// implementations share this so merge semantics stay identical across
// backends.
func (f Fields) Apply(c *Connection, now time.Time) {
	if f.WebID != nil {
		c.WebID = *f.WebID
	}
	if f.Issuer != nil {
		c.Issuer = *f.Issuer
	}
	if f.EncryptedTokens != nil {
		c.EncryptedTokens = *f.EncryptedTokens
	}
	if f.Scopes != nil {
		c.Scopes = f.Scopes
	}
	if f.IDTokenClaims != nil {
		c.IDTokenClaims = f.IDTokenClaims
	}
	if f.TokenExpiry != nil {
		c.TokenExpiry = *f.TokenExpiry
	}
	if f.ResourceURIs != nil {
		c.ResourceURIs = f.ResourceURIs
	}
	if f.LastSyncAt != nil {
		c.LastSyncAt = *f.LastSyncAt
	}
	c.UpdatedAt = now
}

// Store persists Connections keyed by user id.  Upsert creates the record
// when absent and otherwise merges the given fields onto it.  Find returns
// ErrNotFound for an unknown user.
type Store interface {
	Find(ctx context.Context, userID string) (*Connection, error)
	Upsert(ctx context.Context, userID string, f Fields) (*Connection, error)
	Delete(ctx context.Context, userID string) error
}
