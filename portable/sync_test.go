package portable_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podlink/podlink/envelope"
	"github.com/podlink/podlink/oidc"
	"github.com/podlink/podlink/pod"
	"github.com/podlink/podlink/portable"
	"github.com/podlink/podlink/store/inmem"
)

const syncUserID = "user-1"

// fakePod serves a user's document space: GET returns a stored document
// or 404, PUT stores the body.
type fakePod struct {
	mu      sync.Mutex
	docs    map[string]string
	failPut bool
}

func newFakePod() *fakePod {
	return &fakePod{docs: map[string]string{}}
}

func (f *fakePod) set(path, doc string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[path] = doc
}

func (f *fakePod) get(path string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[path]
	return doc, ok
}

func (f *fakePod) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch req.Method {
	case http.MethodGet:
		doc, ok := f.docs[req.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(doc))
	case http.MethodPut:
		if f.failPut {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		body, _ := io.ReadAll(req.Body)
		f.docs[req.URL.Path] = string(body)
		w.WriteHeader(http.StatusCreated)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type syncHarness struct {
	pod    *fakePod
	store  *inmem.Store
	syncer *portable.Syncer
}

func newSyncHarness(t *testing.T, opt ...portable.Option) *syncHarness {
	t.Helper()
	require := require.New(t)

	tp := oidc.StartTestProvider(t)
	tp.SetClientID("client-id")

	fake := newFakePod()
	resourceServer := httptest.NewServer(fake)
	t.Cleanup(resourceServer.Close)

	key, err := envelope.GenerateKey()
	require.NoError(err)
	cipher, err := envelope.NewCipher(key)
	require.NoError(err)
	encrypted, err := cipher.Encrypt(pod.StoredTokens{
		AccessToken:  "stored-access",
		RefreshToken: "stored-refresh",
		TokenType:    "Bearer",
	})
	require.NoError(err)

	store := inmem.New()
	webID := resourceServer.URL + "/profile/card#me"
	issuer := tp.Addr()
	expiry := time.Now().Add(time.Hour)
	_, err = store.Upsert(context.Background(), syncUserID, pod.Fields{
		WebID:           &webID,
		Issuer:          &issuer,
		EncryptedTokens: &encrypted,
		TokenExpiry:     &expiry,
	})
	require.NoError(err)

	flow, err := oidc.NewFlow("client-id", oidc.WithFlowHTTPClient(tp.HTTPClient()))
	require.NoError(err)
	client, err := pod.NewClient(syncUserID, store, cipher, flow)
	require.NoError(err)

	syncer, err := portable.NewSyncer(syncUserID, client, store, opt...)
	require.NoError(err)

	return &syncHarness{pod: fake, store: store, syncer: syncer}
}

func TestDeriveResourceURIs(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		webID   string
		want    *pod.ResourceURIs
		wantErr error
	}{
		{
			name:  "valid",
			webID: "https://alice.pod.example.com/profile/card#me",
			want: &pod.ResourceURIs{
				Profile:        "https://alice.pod.example.com/public/podlink/profile",
				Preferences:    "https://alice.pod.example.com/private/podlink/preferences",
				ActivityLedger: "https://alice.pod.example.com/private/podlink/activity-ledger",
			},
		},
		{
			name:    "empty",
			webID:   "",
			wantErr: portable.ErrNoWebID,
		},
		{
			name:    "not-a-url",
			webID:   "not a url",
			wantErr: portable.ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			got, err := portable.DeriveResourceURIs(tt.webID)
			if tt.wantErr != nil {
				require.Error(err)
				assert.True(errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(err)
			assert.Equal(tt.want, got)
		})
	}
}

func TestSyncer_Pull(t *testing.T) {
	t.Parallel()

	t.Run("defaults-when-resources-absent", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		h := newSyncHarness(t)

		state, err := h.syncer.Pull(context.Background())
		require.NoError(err)
		assert.Equal(portable.SchemaVersion, state.SchemaVersion)
		assert.Equal(&portable.Profile{}, state.Profile)
		assert.Equal("light", state.Preferences.Theme)
		assert.Nil(state.Ledger)
		assert.False(state.UpdatedAt.IsZero())
	})
	t.Run("existing-documents", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		h := newSyncHarness(t, portable.WithLedgerEnabled(true))
		h.pod.set("/public/podlink/profile", `{"displayName": "Alice", "bio": "hi"}`)
		h.pod.set("/private/podlink/preferences", `{"theme": "dark", "notifications": {"email": true}}`)
		h.pod.set("/private/podlink/activity-ledger", `{"portableSchemaVersion": 1, "events": [{"id": "e1", "type": "post.created", "occurredAt": "2026-01-01T00:00:00Z"}]}`)

		state, err := h.syncer.Pull(context.Background())
		require.NoError(err)
		assert.Equal("Alice", state.Profile.DisplayName)
		assert.Equal("dark", state.Preferences.Theme)
		assert.True(state.Preferences.Notifications["email"])
		require.NotNil(state.Ledger)
		require.Len(state.Ledger.Events, 1)
		assert.Equal("post.created", state.Ledger.Events[0].Type)
	})
	t.Run("caches-resource-uris", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		h := newSyncHarness(t)

		conn, err := h.store.Find(context.Background(), syncUserID)
		require.NoError(err)
		assert.Nil(conn.ResourceURIs)

		_, err = h.syncer.Pull(context.Background())
		require.NoError(err)

		conn, err = h.store.Find(context.Background(), syncUserID)
		require.NoError(err)
		require.NotNil(conn.ResourceURIs)
		assert.Contains(conn.ResourceURIs.Profile, "/public/podlink/profile")
	})
}

func TestSyncer_Push(t *testing.T) {
	t.Parallel()

	t.Run("preferences-merge-preserves-omitted-fields", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		h := newSyncHarness(t)
		h.pod.set("/private/podlink/preferences", `{
			"theme": "light",
			"notifications": {"email": true, "mention": false},
			"accessibility": {"reduceMotion": true}
		}`)

		err := h.syncer.Push(context.Background(), &portable.State{
			Preferences: &portable.Preferences{Theme: "dark"},
		})
		require.NoError(err)

		doc, ok := h.pod.get("/private/podlink/preferences")
		require.True(ok)
		var got portable.Preferences
		require.NoError(json.Unmarshal([]byte(doc), &got))
		assert.Equal("dark", got.Theme)
		assert.Equal(map[string]bool{"email": true, "mention": false}, got.Notifications)
		assert.Equal(map[string]bool{"reduceMotion": true}, got.Accessibility)

		conn, err := h.store.Find(context.Background(), syncUserID)
		require.NoError(err)
		assert.False(conn.LastSyncAt.IsZero())
	})
	t.Run("profile-shallow-merge", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		h := newSyncHarness(t)
		h.pod.set("/public/podlink/profile", `{"displayName": "Alice", "bio": "hi"}`)

		err := h.syncer.Push(context.Background(), &portable.State{
			Profile: &portable.Profile{Bio: "updated"},
		})
		require.NoError(err)

		doc, ok := h.pod.get("/public/podlink/profile")
		require.True(ok)
		var got portable.Profile
		require.NoError(json.Unmarshal([]byte(doc), &got))
		assert.Equal("Alice", got.DisplayName)
		assert.Equal("updated", got.Bio)
	})
	t.Run("nil-state", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		h := newSyncHarness(t)
		err := h.syncer.Push(context.Background(), nil)
		require.Error(err)
		assert.True(errors.Is(err, portable.ErrNilParameter))
	})
	t.Run("write-failure-aborts-without-sync-stamp", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		h := newSyncHarness(t)
		h.pod.failPut = true

		err := h.syncer.Push(context.Background(), &portable.State{
			Preferences: &portable.Preferences{Theme: "dark"},
		})
		require.Error(err)
		assert.True(errors.Is(err, pod.ErrRequestFailed))

		conn, err := h.store.Find(context.Background(), syncUserID)
		require.NoError(err)
		assert.True(conn.LastSyncAt.IsZero())
	})
}

func TestSyncer_AppendEvent(t *testing.T) {
	t.Parallel()

	t.Run("disabled", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		h := newSyncHarness(t)
		err := h.syncer.AppendEvent(context.Background(), portable.Event{Type: "post.created"})
		require.Error(err)
		assert.True(errors.Is(err, portable.ErrLedgerDisabled))
	})
	t.Run("appends-to-existing-ledger", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		h := newSyncHarness(t, portable.WithLedgerEnabled(true))
		h.pod.set("/private/podlink/activity-ledger", `{"portableSchemaVersion": 1, "events": [{"id": "e1", "type": "post.created", "occurredAt": "2026-01-01T00:00:00Z"}]}`)

		err := h.syncer.AppendEvent(context.Background(), portable.Event{
			Type:        "comment.created",
			ResourceURL: "https://app.example.com/comments/42",
		})
		require.NoError(err)

		doc, ok := h.pod.get("/private/podlink/activity-ledger")
		require.True(ok)
		var got portable.Ledger
		require.NoError(json.Unmarshal([]byte(doc), &got))
		require.Len(got.Events, 2)
		assert.Equal("e1", got.Events[0].ID)
		appended := got.Events[1]
		assert.Equal("comment.created", appended.Type)
		assert.NotEmpty(appended.ID)
		assert.False(appended.OccurredAt.IsZero())
	})
	t.Run("starts-empty-ledger", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		h := newSyncHarness(t, portable.WithLedgerEnabled(true))

		require.NoError(h.syncer.AppendEvent(context.Background(), portable.Event{Type: "vote.cast"}))

		doc, ok := h.pod.get("/private/podlink/activity-ledger")
		require.True(ok)
		var got portable.Ledger
		require.NoError(json.Unmarshal([]byte(doc), &got))
		assert.Equal(portable.SchemaVersion, got.SchemaVersion)
		require.Len(got.Events, 1)
	})
	t.Run("missing-type", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		h := newSyncHarness(t, portable.WithLedgerEnabled(true))
		err := h.syncer.AppendEvent(context.Background(), portable.Event{})
		require.Error(err)
		assert.True(errors.Is(err, portable.ErrInvalidParameter))
	})
}
