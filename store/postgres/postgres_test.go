package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/hashicorp/go-uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podlink/podlink/pod"
	"github.com/podlink/podlink/store/postgres"
)

// openStore connects to the database named by TEST_POSTGRES_DSN.  The
// suite is skipped when the variable is unset so unit runs stay
// self-contained.
func openStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	s, err := postgres.Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testUserID(t *testing.T) string {
	t.Helper()
	id, err := uuid.GenerateUUID()
	require.NoError(t, err)
	return "test-" + id
}

func strPtr(s string) *string { return &s }

func TestStore_RoundTrip(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	s := openStore(t)
	ctx := context.Background()
	userID := testUserID(t)
	t.Cleanup(func() { _ = s.Delete(ctx, userID) })

	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
	created, err := s.Upsert(ctx, userID, pod.Fields{
		WebID:           strPtr("https://pod.example.com/profile/card#me"),
		Issuer:          strPtr("https://issuer.example.com"),
		EncryptedTokens: strPtr("envelope-1"),
		Scopes:          []string{"openid", "offline_access"},
		IDTokenClaims:   map[string]interface{}{"webid": "https://pod.example.com/profile/card#me"},
		TokenExpiry:     &expiry,
		ResourceURIs: &pod.ResourceURIs{
			Profile:     "https://pod.example.com/public/podlink/profile",
			Preferences: "https://pod.example.com/private/podlink/preferences",
		},
	})
	require.NoError(err)
	assert.False(created.CreatedAt.IsZero())

	found, err := s.Find(ctx, userID)
	require.NoError(err)
	assert.Equal("https://pod.example.com/profile/card#me", found.WebID)
	assert.Equal("envelope-1", found.EncryptedTokens)
	assert.Equal([]string{"openid", "offline_access"}, found.Scopes)
	assert.Equal("https://pod.example.com/profile/card#me", found.IDTokenClaims["webid"])
	assert.True(found.TokenExpiry.Equal(expiry))
	require.NotNil(found.ResourceURIs)
	assert.Equal("https://pod.example.com/public/podlink/profile", found.ResourceURIs.Profile)
}

func TestStore_UpsertMerges(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	s := openStore(t)
	ctx := context.Background()
	userID := testUserID(t)
	t.Cleanup(func() { _ = s.Delete(ctx, userID) })

	_, err := s.Upsert(ctx, userID, pod.Fields{
		WebID:           strPtr("https://pod.example.com/profile/card#me"),
		EncryptedTokens: strPtr("envelope-1"),
	})
	require.NoError(err)

	updated, err := s.Upsert(ctx, userID, pod.Fields{
		EncryptedTokens: strPtr("envelope-2"),
	})
	require.NoError(err)
	assert.Equal("envelope-2", updated.EncryptedTokens)
	assert.Equal("https://pod.example.com/profile/card#me", updated.WebID)

	found, err := s.Find(ctx, userID)
	require.NoError(err)
	assert.Equal("envelope-2", found.EncryptedTokens)
	assert.Equal("https://pod.example.com/profile/card#me", found.WebID)
}

func TestStore_NotFound(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	s := openStore(t)
	ctx := context.Background()

	_, err := s.Find(ctx, testUserID(t))
	require.Error(err)
	assert.True(errors.Is(err, pod.ErrNotFound))

	err = s.Delete(ctx, testUserID(t))
	require.Error(err)
	assert.True(errors.Is(err, pod.ErrNotFound))
}
