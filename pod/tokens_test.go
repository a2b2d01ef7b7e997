package pod_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/podlink/podlink/oidc"
	"github.com/podlink/podlink/pod"
)

func TestStoredTokens_Merge(t *testing.T) {
	t.Parallel()

	current := pod.StoredTokens{
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		IDToken:      "old-id",
		TokenType:    "Bearer",
		Scope:        "openid profile",
	}

	tests := []struct {
		name   string
		bundle *oidc.TokenBundle
		want   pod.StoredTokens
	}{
		{
			name: "full-response-replaces-everything",
			bundle: &oidc.TokenBundle{
				AccessToken:  "new-access",
				RefreshToken: "new-refresh",
				IDToken:      "new-id",
				TokenType:    "DPoP",
				Scope:        "openid",
			},
			want: pod.StoredTokens{
				AccessToken:  "new-access",
				RefreshToken: "new-refresh",
				IDToken:      "new-id",
				TokenType:    "DPoP",
				Scope:        "openid",
			},
		},
		{
			name: "omitted-fields-preserved",
			bundle: &oidc.TokenBundle{
				AccessToken: "new-access",
			},
			want: pod.StoredTokens{
				AccessToken:  "new-access",
				RefreshToken: "old-refresh",
				IDToken:      "old-id",
				TokenType:    "Bearer",
				Scope:        "openid profile",
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, current.Merge(tt.bundle))
		})
	}
}

func TestStoredFromBundle(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	got := pod.StoredFromBundle(&oidc.TokenBundle{
		AccessToken:  "access",
		RefreshToken: "refresh",
		IDToken:      "id",
		TokenType:    "Bearer",
		Scope:        "openid offline_access",
	})
	assert.Equal(pod.StoredTokens{
		AccessToken:  "access",
		RefreshToken: "refresh",
		IDToken:      "id",
		TokenType:    "Bearer",
		Scope:        "openid offline_access",
	}, got)
}
