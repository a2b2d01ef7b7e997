package connect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/podlink/podlink/envelope"
	"github.com/podlink/podlink/oidc"
	"github.com/podlink/podlink/pod"
	"github.com/podlink/podlink/portable"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")

	// ErrMissingWebID is returned by FinishConnect when the provider's
	// id_token carries neither a webid nor a sub claim.
	ErrMissingWebID = errors.New("id_token carries no webid")
)

// Service ties the authorization flow, the token cipher, and the
// connection store together behind the operations the application calls.
type Service struct {
	flow          *oidc.Flow
	cipher        *envelope.Cipher
	store         pod.Store
	requests      oidc.RequestStore
	redirectURL   string
	ledgerEnabled bool
	logger        hclog.Logger
}

// Result is what FinishConnect reports back to the caller.
type Result struct {
	WebID  string `json:"webId"`
	Issuer string `json:"issuer"`
}

// NewService creates a Service.  Supported options: WithRequestStore,
// WithActivityLedger, WithServiceLogger.
func NewService(flow *oidc.Flow, cipher *envelope.Cipher, store pod.Store, redirectURL string, opt ...Option) (*Service, error) {
	const op = "connect.NewService"
	switch {
	case flow == nil:
		return nil, fmt.Errorf("%s: missing flow: %w", op, ErrNilParameter)
	case cipher == nil:
		return nil, fmt.Errorf("%s: missing cipher: %w", op, ErrNilParameter)
	case store == nil:
		return nil, fmt.Errorf("%s: missing store: %w", op, ErrNilParameter)
	case redirectURL == "":
		return nil, fmt.Errorf("%s: missing redirect URL: %w", op, ErrInvalidParameter)
	}
	opts := getServiceOpts(opt...)
	return &Service{
		flow:          flow,
		cipher:        cipher,
		store:         store,
		requests:      opts.withRequestStore,
		redirectURL:   redirectURL,
		ledgerEnabled: opts.withLedgerEnabled,
		logger:        opts.withLogger,
	}, nil
}

// StartConnect begins the authorization flow against the given issuer or
// WebID.  It saves the flow's ephemeral state so FinishConnect can
// correlate the redirect, and returns the URL to send the user to.
func (s *Service) StartConnect(ctx context.Context, issuerOrWebID string) (string, error) {
	const op = "connect.(Service).StartConnect"
	authURL, req, err := s.flow.AuthURL(ctx, issuerOrWebID, s.redirectURL)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := s.requests.Save(ctx, req); err != nil {
		return "", fmt.Errorf("%s: saving flow state: %w", op, err)
	}
	s.logger.Debug("authorization flow started", "issuer", req.Issuer())
	return authURL, nil
}

// FinishConnect completes the flow for the redirect identified by state:
// it exchanges the code, verifies the id_token against the issuer's JWKS
// when one is published, encrypts the token bundle, and upserts the
// user's connection record.
func (s *Service) FinishConnect(ctx context.Context, userID, state, code string) (*Result, error) {
	const op = "connect.(Service).FinishConnect"
	switch {
	case userID == "":
		return nil, fmt.Errorf("%s: missing user id: %w", op, ErrInvalidParameter)
	case state == "":
		return nil, fmt.Errorf("%s: missing state: %w", op, ErrInvalidParameter)
	case code == "":
		return nil, fmt.Errorf("%s: missing code: %w", op, ErrInvalidParameter)
	}

	req, err := s.requests.Take(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	bundle, err := s.flow.Exchange(ctx, req.Issuer(), req.RedirectURL(), code, req.CodeVerifier())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	claims, err := s.idTokenClaims(ctx, req.Issuer(), bundle.IDToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	webID := claimString(claims, "webid")
	if webID == "" {
		webID = claimString(claims, "sub")
	}
	if webID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingWebID)
	}

	encrypted, err := s.cipher.Encrypt(pod.StoredFromBundle(bundle))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	issuer := req.Issuer()
	expiry := bundle.Expiry(time.Now())
	scopes := strings.Fields(bundle.Scope)
	if len(scopes) == 0 {
		scopes = append([]string(nil), oidc.DefaultScopes...)
	}
	if _, err := s.store.Upsert(ctx, userID, pod.Fields{
		WebID:           &webID,
		Issuer:          &issuer,
		EncryptedTokens: &encrypted,
		Scopes:          scopes,
		IDTokenClaims:   claims,
		TokenExpiry:     &expiry,
	}); err != nil {
		return nil, fmt.Errorf("%s: persisting connection: %w", op, err)
	}
	s.logger.Info("pod connected", "issuer", issuer)
	return &Result{WebID: webID, Issuer: issuer}, nil
}

// idTokenClaims extracts the id_token's claims, verifying the signature
// against the issuer's JWKS when the discovery document publishes one and
// falling back to unverified extraction otherwise.
func (s *Service) idTokenClaims(ctx context.Context, issuer string, t oidc.IDToken) (map[string]interface{}, error) {
	if t == "" {
		return nil, nil
	}
	md, err := s.flow.Discover(ctx, issuer)
	if err == nil && md.JWKSURI != "" {
		return s.flow.VerifyIDToken(ctx, md, t)
	}
	var claims map[string]interface{}
	if err := t.Claims(&claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Disconnect removes the user's connection record.  Token material on the
// Pod side is not revoked here.
func (s *Service) Disconnect(ctx context.Context, userID string) error {
	const op = "connect.(Service).Disconnect"
	if userID == "" {
		return fmt.Errorf("%s: missing user id: %w", op, ErrInvalidParameter)
	}
	if err := s.store.Delete(ctx, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// PullPortableState assembles the user's portable state from their Pod.
func (s *Service) PullPortableState(ctx context.Context, userID string) (*portable.State, error) {
	const op = "connect.(Service).PullPortableState"
	syncer, err := s.syncer(userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	state, err := syncer.Pull(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return state, nil
}

// PushPortableState merges the partial state onto the user's Pod
// documents.
func (s *Service) PushPortableState(ctx context.Context, userID string, partial *portable.State) error {
	const op = "connect.(Service).PushPortableState"
	syncer, err := s.syncer(userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := syncer.Push(ctx, partial); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// AppendActivityEvent appends one event to the user's activity ledger.
func (s *Service) AppendActivityEvent(ctx context.Context, userID string, ev portable.Event) error {
	const op = "connect.(Service).AppendActivityEvent"
	syncer, err := s.syncer(userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := syncer.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Service) syncer(userID string) (*portable.Syncer, error) {
	client, err := pod.NewClient(userID, s.store, s.cipher, s.flow, pod.WithClientLogger(s.logger))
	if err != nil {
		return nil, err
	}
	return portable.NewSyncer(userID, client, s.store,
		portable.WithLedgerEnabled(s.ledgerEnabled),
		portable.WithSyncLogger(s.logger),
	)
}

func claimString(claims map[string]interface{}, key string) string {
	if claims == nil {
		return ""
	}
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
