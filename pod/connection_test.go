package pod_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/podlink/podlink/pod"
)

func strPtr(s string) *string          { return &s }
func timePtr(t time.Time) *time.Time   { return &t }

func TestFields_Apply(t *testing.T) {
	t.Parallel()

	base := func() pod.Connection {
		return pod.Connection{
			UserID:          "user-1",
			WebID:           "https://pod.example.com/profile/card#me",
			Issuer:          "https://issuer.example.com",
			EncryptedTokens: "old-envelope",
			Scopes:          []string{"openid"},
			TokenExpiry:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}
	}
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		fields pod.Fields
		check  func(t *testing.T, c pod.Connection)
	}{
		{
			name:   "empty-fields-leave-everything",
			fields: pod.Fields{},
			check: func(t *testing.T, c pod.Connection) {
				want := base()
				want.UpdatedAt = now
				assert.Equal(t, want, c)
			},
		},
		{
			name: "set-fields-overwrite",
			fields: pod.Fields{
				EncryptedTokens: strPtr("new-envelope"),
				TokenExpiry:     timePtr(now.Add(time.Hour)),
			},
			check: func(t *testing.T, c pod.Connection) {
				assert.Equal(t, "new-envelope", c.EncryptedTokens)
				assert.Equal(t, now.Add(time.Hour), c.TokenExpiry)
				// untouched fields survive
				assert.Equal(t, "https://pod.example.com/profile/card#me", c.WebID)
				assert.Equal(t, []string{"openid"}, c.Scopes)
			},
		},
		{
			name: "empty-string-pointer-clears",
			fields: pod.Fields{
				EncryptedTokens: strPtr(""),
			},
			check: func(t *testing.T, c pod.Connection) {
				assert.Empty(t, c.EncryptedTokens)
			},
		},
		{
			name: "resource-uris-and-sync-time",
			fields: pod.Fields{
				ResourceURIs: &pod.ResourceURIs{
					Profile:     "https://pod.example.com/public/podlink/profile",
					Preferences: "https://pod.example.com/private/podlink/preferences",
				},
				LastSyncAt: timePtr(now),
			},
			check: func(t *testing.T, c pod.Connection) {
				assert.NotNil(t, c.ResourceURIs)
				assert.Equal(t, "https://pod.example.com/public/podlink/profile", c.ResourceURIs.Profile)
				assert.Equal(t, now, c.LastSyncAt)
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base()
			tt.fields.Apply(&c, now)
			assert.Equal(t, now, c.UpdatedAt)
			tt.check(t, c)
		})
	}
}
