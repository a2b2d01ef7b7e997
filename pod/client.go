package pod

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"

	"github.com/podlink/podlink/envelope"
	"github.com/podlink/podlink/oidc"
)

// RefreshSkew is how close to expiry an access token may get before the
// client refreshes it proactively instead of using it.
const RefreshSkew = 5 * time.Minute

// DefaultRequestTimeout bounds each resource request unless overridden via
// WithTimeout.
const DefaultRequestTimeout = 10 * time.Second

// Client performs authenticated HTTP calls against one user's Pod
// resources.  It mirrors the access token and its expiry in memory (the
// encrypted Connection record stays authoritative), refreshes the token
// when it is expired or about to expire, and retries a request exactly once
// after a 401 by forcing a refresh.  Concurrent refreshes for the same
// connection collapse into a single token-endpoint call, since some
// providers invalidate a refresh token upon use.
type Client struct {
	userID string
	store  Store
	cipher *envelope.Cipher
	flow   *oidc.Flow

	httpClient *http.Client
	timeout    time.Duration
	logger     hclog.Logger

	// mu guards the in-memory token mirror; the two fields are only ever
	// updated together.
	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time

	refreshGroup singleflight.Group
}

// NewClient creates a Client for one user's connection.
//
// Supported options: WithHTTPClient, WithTimeout, WithClientLogger
func NewClient(userID string, store Store, cipher *envelope.Cipher, flow *oidc.Flow, opt ...Option) (*Client, error) {
	const op = "pod.NewClient"
	switch {
	case userID == "":
		return nil, fmt.Errorf("%s: user id is empty: %w", op, ErrInvalidParameter)
	case store == nil:
		return nil, fmt.Errorf("%s: store is nil: %w", op, ErrNilParameter)
	case cipher == nil:
		return nil, fmt.Errorf("%s: cipher is nil: %w", op, ErrNilParameter)
	case flow == nil:
		return nil, fmt.Errorf("%s: flow is nil: %w", op, ErrNilParameter)
	}
	opts := getClientOpts(opt...)
	return &Client{
		userID:     userID,
		store:      store,
		cipher:     cipher,
		flow:       flow,
		httpClient: opts.withHTTPClient,
		timeout:    opts.withTimeout,
		logger:     opts.withLogger,
	}, nil
}

// Fetch performs one authenticated request.  The request body, when
// non-nil, is replayable so the single 401-triggered retry can resend it.
func (c *Client) Fetch(ctx context.Context, method, rawURL string, body []byte, header http.Header) (*http.Response, error) {
	const op = "Client.Fetch"
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.send(ctx, method, rawURL, body, header, token)
	if err != nil {
		return nil, fmt.Errorf("%s: %s %s: %w", op, method, rawURL, err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// One forced refresh and one retry.  A second 401 is the caller's
	// problem; further retries against a misconfigured provider would only
	// add latency.
	drain(resp)
	c.logger.Debug("retrying after 401", "url", rawURL)
	token, err = c.refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: refresh after 401: %w", op, err)
	}
	resp, err = c.send(ctx, method, rawURL, body, header, token)
	if err != nil {
		return nil, fmt.Errorf("%s: %s %s (retry): %w", op, method, rawURL, err)
	}
	return resp, nil
}

// GetJSON fetches rawURL and decodes the JSON response into v.
func (c *Client) GetJSON(ctx context.Context, rawURL string, v interface{}) error {
	const op = "Client.GetJSON"
	header := http.Header{}
	header.Set("Accept", "application/json, application/ld+json")

	resp, err := c.Fetch(ctx, http.MethodGet, rawURL, nil, header)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: GET %s returned status %d: %w", op, rawURL, resp.StatusCode, ErrRequestFailed)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%s: unable to decode response from %s: %w", op, rawURL, err)
	}
	return nil
}

// PutJSON stores body as JSON at rawURL.
func (c *Client) PutJSON(ctx context.Context, rawURL string, body interface{}) error {
	const op = "Client.PutJSON"
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: unable to marshal body: %w", op, err)
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")

	resp, err := c.Fetch(ctx, http.MethodPut, rawURL, encoded, header)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer drain(resp)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: PUT %s returned status %d: %w", op, rawURL, resp.StatusCode, ErrRequestFailed)
	}
	return nil
}

// ensureToken returns a usable access token, adopting the stored one when
// the in-memory mirror is empty or stale and refreshing proactively when
// the stored token is expired or within RefreshSkew of expiry.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.accessToken != "" && time.Now().Add(RefreshSkew).Before(c.tokenExpiry) {
		token := c.accessToken
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	conn, err := c.store.Find(ctx, c.userID)
	if err != nil {
		return "", err
	}
	var stored StoredTokens
	if err := c.cipher.Decrypt(conn.EncryptedTokens, &stored); err != nil {
		return "", err
	}
	if !time.Now().Add(RefreshSkew).Before(conn.TokenExpiry) {
		return c.refresh(ctx)
	}

	c.mu.Lock()
	c.accessToken = stored.AccessToken
	c.tokenExpiry = conn.TokenExpiry
	c.mu.Unlock()
	return stored.AccessToken, nil
}

// refresh redeems the stored refresh token for a fresh bundle, merges it
// onto the stored tokens (preserving secrets the provider omitted),
// persists the re-encrypted envelope with the new expiry, and updates the
// in-memory mirror.  Concurrent callers share a single refresh.
func (c *Client) refresh(ctx context.Context) (string, error) {
	token, err, _ := c.refreshGroup.Do("refresh", func() (interface{}, error) {
		conn, err := c.store.Find(ctx, c.userID)
		if err != nil {
			return "", err
		}
		var stored StoredTokens
		if err := c.cipher.Decrypt(conn.EncryptedTokens, &stored); err != nil {
			return "", err
		}
		if stored.RefreshToken == "" {
			return "", fmt.Errorf("connection for user %s: %w", c.userID, ErrNoRefreshToken)
		}

		bundle, err := c.flow.Refresh(ctx, conn.Issuer, oidc.RefreshToken(stored.RefreshToken))
		if err != nil {
			return "", err
		}
		merged := stored.Merge(bundle)
		expiry := bundle.Expiry(time.Now())

		encrypted, err := c.cipher.Encrypt(merged)
		if err != nil {
			return "", err
		}
		if _, err := c.store.Upsert(ctx, c.userID, Fields{
			EncryptedTokens: &encrypted,
			TokenExpiry:     &expiry,
		}); err != nil {
			return "", err
		}

		c.mu.Lock()
		c.accessToken = merged.AccessToken
		c.tokenExpiry = expiry
		c.mu.Unlock()

		c.logger.Debug("refreshed connection tokens", "user_id", c.userID)
		return merged.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

func (c *Client) send(ctx context.Context, method, rawURL string, body []byte, header http.Header, token string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, err
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return c.httpClient.Do(req) //nolint:bodyclose // caller owns the response
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
