package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidIssuer(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		issuer  string
		wantErr bool
	}{
		{name: "https", issuer: "https://example.com"},
		{name: "https-with-port", issuer: "https://example.com:8443"},
		{name: "http-localhost", issuer: "http://localhost"},
		{name: "http-localhost-port", issuer: "http://localhost:3000"},
		{name: "http-loopback-ip", issuer: "http://127.0.0.1:3000"},
		{name: "http-remote-host", issuer: "http://example.com", wantErr: true},
		{name: "not-a-url", issuer: "not a url", wantErr: true},
		{name: "ftp-scheme", issuer: "ftp://example.com", wantErr: true},
		{name: "empty", issuer: "", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			err := ValidIssuer(tt.issuer)
			if tt.wantErr {
				assert.Error(err)
				assert.True(errors.Is(err, ErrInvalidIssuer))
				return
			}
			assert.NoError(err)
		})
	}
}

func TestIsWebID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{name: "bare-origin", in: "https://example.com", want: false},
		{name: "origin-with-slash", in: "https://example.com/", want: false},
		{name: "path", in: "https://example.com/profile/card", want: true},
		{name: "fragment", in: "https://example.com/#me", want: true},
		{name: "path-and-fragment", in: "https://pod.example.com/profile/card#me", want: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsWebID(tt.in))
		})
	}
}

func TestDiscover(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	newWellKnownServer := func(t *testing.T, doc func(addr string) string) *httptest.Server {
		t.Helper()
		var ts *httptest.Server
		ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.URL.Path != "/.well-known/openid-configuration" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, doc(ts.URL))
		}))
		t.Cleanup(ts.Close)
		return ts
	}

	t.Run("valid-document", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		ts := newWellKnownServer(t, func(addr string) string {
			return fmt.Sprintf(`{
				"issuer": %q,
				"authorization_endpoint": %q,
				"token_endpoint": %q,
				"jwks_uri": %q
			}`, addr, addr+"/auth", addr+"/token", addr+"/certs")
		})
		got, err := Discover(ctx, ts.URL)
		require.NoError(err)
		assert.Equal(ts.URL, got.Issuer)
		assert.Equal(ts.URL+"/auth", got.AuthorizationEndpoint)
		assert.Equal(ts.URL+"/token", got.TokenEndpoint)
		assert.Equal(ts.URL+"/certs", got.JWKSURI)
	})
	t.Run("trailing-slash-normalized", func(t *testing.T) {
		require := require.New(t)
		ts := newWellKnownServer(t, func(addr string) string {
			return fmt.Sprintf(`{"issuer": %q, "authorization_endpoint": "a", "token_endpoint": "b"}`, addr)
		})
		_, err := Discover(ctx, ts.URL+"/")
		require.NoError(err)
	})
	t.Run("missing-token-endpoint", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		ts := newWellKnownServer(t, func(addr string) string {
			return fmt.Sprintf(`{"issuer": %q, "authorization_endpoint": %q}`, addr, addr+"/auth")
		})
		_, err := Discover(ctx, ts.URL)
		require.Error(err)
		assert.True(errors.Is(err, ErrDiscoveryFailed))
		assert.Contains(err.Error(), "token_endpoint")
	})
	t.Run("non-2xx-response", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		t.Cleanup(ts.Close)
		_, err := Discover(ctx, ts.URL)
		require.Error(err)
		assert.True(errors.Is(err, ErrDiscoveryFailed))
		assert.Contains(err.Error(), "500")
	})
	t.Run("not-json", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			fmt.Fprint(w, "not json at all")
		}))
		t.Cleanup(ts.Close)
		_, err := Discover(ctx, ts.URL)
		require.Error(err)
		assert.True(errors.Is(err, ErrDiscoveryFailed))
	})
	t.Run("empty-issuer", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := Discover(ctx, "")
		require.Error(err)
		assert.True(errors.Is(err, ErrInvalidParameter))
	})
	t.Run("invalid-issuer-scheme", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := Discover(ctx, "http://example.com")
		require.Error(err)
		assert.True(errors.Is(err, ErrInvalidIssuer))
	})
}

func TestResolveWebIDIssuer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	newDocServer := func(t *testing.T, contentType, doc string) *httptest.Server {
		t.Helper()
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.URL.Path != "/profile/card" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", contentType)
			fmt.Fprint(w, doc)
		}))
		t.Cleanup(ts.Close)
		return ts
	}

	tests := []struct {
		name        string
		contentType string
		doc         string
		want        string
	}{
		{
			name:        "prefixed-predicate",
			contentType: "application/ld+json",
			doc:         `{"@id": "#me", "solid:oidcIssuer": "https://issuer.example.com"}`,
			want:        "https://issuer.example.com",
		},
		{
			name:        "qualified-predicate",
			contentType: "application/json",
			doc:         `{"http://www.w3.org/ns/solid/terms#oidcIssuer": {"@id": "https://issuer.example.com"}}`,
			want:        "https://issuer.example.com",
		},
		{
			name:        "nested-graph",
			contentType: "application/ld+json",
			doc: `{"@graph": [
				{"@id": "card"},
				{"@id": "#me", "solid:oidcIssuer": {"@id": "https://issuer.example.com"}}
			]}`,
			want: "https://issuer.example.com",
		},
		{
			name:        "predicate-list-value",
			contentType: "application/ld+json",
			doc:         `{"solid:oidcIssuer": [{"@id": "https://issuer.example.com"}]}`,
			want:        "https://issuer.example.com",
		},
		{
			name:        "turtle-text",
			contentType: "text/turtle",
			doc:         `<#me> solid:oidcIssuer <https://issuer.example.com> .`,
			want:        "https://issuer.example.com",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			ts := newDocServer(t, tt.contentType, tt.doc)
			got, err := ResolveWebIDIssuer(ctx, ts.URL+"/profile/card")
			require.NoError(err)
			assert.Equal(tt.want, got)
		})
	}

	t.Run("fallback-to-origin", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		ts := newDocServer(t, "application/json", `{"no": "issuer here"}`)
		got, err := ResolveWebIDIssuer(ctx, ts.URL+"/profile/card#me")
		require.NoError(err)
		assert.Equal(ts.URL, got)
	})
	t.Run("fetch-failure-falls-back", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		t.Cleanup(ts.Close)
		got, err := ResolveWebIDIssuer(ctx, ts.URL+"/profile/card#me")
		require.NoError(err)
		assert.Equal(ts.URL, got)
	})
}

func TestDiscover_FromWebID(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()

	var issuer *httptest.Server
	issuer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"issuer": %q, "authorization_endpoint": %q, "token_endpoint": %q}`,
			issuer.URL, issuer.URL+"/auth", issuer.URL+"/token")
	}))
	t.Cleanup(issuer.Close)

	webIDHost := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/ld+json")
		fmt.Fprintf(w, `{"solid:oidcIssuer": %q}`, issuer.URL)
	}))
	t.Cleanup(webIDHost.Close)

	got, err := Discover(ctx, webIDHost.URL+"/profile/card#me")
	require.NoError(err)
	assert.Equal(issuer.URL, got.Issuer)
	assert.Equal(issuer.URL+"/token", got.TokenEndpoint)
}
