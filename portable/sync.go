package portable

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/podlink/podlink/pod"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")

	// ErrLedgerDisabled is returned by AppendEvent when the activity
	// ledger feature is switched off.
	ErrLedgerDisabled = errors.New("activity ledger is disabled")

	// ErrNoWebID is returned when resource locations must be derived but
	// the connection carries no WebID.
	ErrNoWebID = errors.New("connection has no webid")
)

// Canonical resource paths under the WebID's origin.
const (
	profilePath     = "/public/podlink/profile"
	preferencesPath = "/private/podlink/preferences"
	ledgerPath      = "/private/podlink/activity-ledger"
)

// Syncer moves the portable document set between the application and one
// user's Pod.  All remote reads and writes go through the authenticated
// pod.Client; resource locations are derived once from the WebID and
// cached on the Connection.
type Syncer struct {
	userID        string
	client        *pod.Client
	store         pod.Store
	ledgerEnabled bool
	logger        hclog.Logger
	nowFunc       func() time.Time
}

// NewSyncer creates a Syncer for one user's connection.  Supported
// options: WithLedgerEnabled, WithSyncLogger.
func NewSyncer(userID string, client *pod.Client, store pod.Store, opt ...Option) (*Syncer, error) {
	const op = "portable.NewSyncer"
	if userID == "" {
		return nil, fmt.Errorf("%s: missing user id: %w", op, ErrInvalidParameter)
	}
	if client == nil {
		return nil, fmt.Errorf("%s: missing client: %w", op, ErrNilParameter)
	}
	if store == nil {
		return nil, fmt.Errorf("%s: missing store: %w", op, ErrNilParameter)
	}
	opts := getSyncOpts(opt...)
	return &Syncer{
		userID:        userID,
		client:        client,
		store:         store,
		ledgerEnabled: opts.withLedgerEnabled,
		logger:        opts.withLogger,
		nowFunc:       time.Now,
	}, nil
}

func (s *Syncer) now() time.Time {
	if s.nowFunc == nil {
		return time.Now()
	}
	return s.nowFunc()
}

// DeriveResourceURIs computes the canonical document locations for a
// WebID: the profile under the origin's public space, preferences and the
// activity ledger under its private space.
func DeriveResourceURIs(webID string) (*pod.ResourceURIs, error) {
	const op = "portable.DeriveResourceURIs"
	if webID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNoWebID)
	}
	u, err := url.Parse(webID)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%s: malformed webid %q: %w", op, webID, ErrInvalidParameter)
	}
	origin := u.Scheme + "://" + u.Host
	return &pod.ResourceURIs{
		Profile:        origin + profilePath,
		Preferences:    origin + preferencesPath,
		ActivityLedger: origin + ledgerPath,
	}, nil
}

// resourceURIs returns the connection's cached document locations,
// deriving and persisting them on first use.
func (s *Syncer) resourceURIs(ctx context.Context) (*pod.ResourceURIs, error) {
	const op = "portable.(Syncer).resourceURIs"
	conn, err := s.store.Find(ctx, s.userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if conn.ResourceURIs != nil && conn.ResourceURIs.Profile != "" {
		return conn.ResourceURIs, nil
	}
	uris, err := DeriveResourceURIs(conn.WebID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if _, err := s.store.Upsert(ctx, s.userID, pod.Fields{ResourceURIs: uris}); err != nil {
		return nil, fmt.Errorf("%s: caching resource uris: %w", op, err)
	}
	return uris, nil
}

// Pull assembles the current portable state from the user's Pod.  A
// missing or unreadable resource is replaced by its default rather than
// failing the pull, so first-time users get a usable empty state.
func (s *Syncer) Pull(ctx context.Context) (*State, error) {
	const op = "portable.(Syncer).Pull"
	uris, err := s.resourceURIs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	profile := Profile{}
	if err := s.client.GetJSON(ctx, uris.Profile, &profile); err != nil {
		s.logger.Debug("profile resource unavailable, using default", "error", err)
		profile = Profile{}
	}
	prefs := DefaultPreferences()
	if err := s.client.GetJSON(ctx, uris.Preferences, &prefs); err != nil {
		s.logger.Debug("preferences resource unavailable, using default", "error", err)
		prefs = DefaultPreferences()
	}

	state := &State{
		SchemaVersion: SchemaVersion,
		Profile:       &profile,
		Preferences:   &prefs,
		UpdatedAt:     s.now(),
	}
	if s.ledgerEnabled && uris.ActivityLedger != "" {
		ledger := Ledger{SchemaVersion: SchemaVersion}
		if err := s.client.GetJSON(ctx, uris.ActivityLedger, &ledger); err != nil {
			s.logger.Debug("activity ledger unavailable, using empty ledger", "error", err)
			ledger = Ledger{SchemaVersion: SchemaVersion}
		}
		state.Ledger = &ledger
	}
	return state, nil
}

// Push writes the provided partial state to the Pod.  For each document
// present in partial it reads the existing remote copy (defaulting when
// absent), merges the partial fields on top, and PUTs the merged result.
// LastSyncAt advances only when every write succeeded.
func (s *Syncer) Push(ctx context.Context, partial *State) error {
	const op = "portable.(Syncer).Push"
	if partial == nil {
		return fmt.Errorf("%s: missing state: %w", op, ErrNilParameter)
	}
	uris, err := s.resourceURIs(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if partial.Profile != nil {
		current := Profile{}
		if err := s.client.GetJSON(ctx, uris.Profile, &current); err != nil {
			s.logger.Debug("profile resource unavailable, merging onto default", "error", err)
			current = Profile{}
		}
		merged := current.Merge(*partial.Profile)
		if err := s.client.PutJSON(ctx, uris.Profile, merged); err != nil {
			return fmt.Errorf("%s: pushing profile: %w", op, err)
		}
	}
	if partial.Preferences != nil {
		current := DefaultPreferences()
		if err := s.client.GetJSON(ctx, uris.Preferences, &current); err != nil {
			s.logger.Debug("preferences resource unavailable, merging onto default", "error", err)
			current = DefaultPreferences()
		}
		merged := current.Merge(*partial.Preferences)
		if err := s.client.PutJSON(ctx, uris.Preferences, merged); err != nil {
			return fmt.Errorf("%s: pushing preferences: %w", op, err)
		}
	}

	now := s.now()
	if _, err := s.store.Upsert(ctx, s.userID, pod.Fields{LastSyncAt: &now}); err != nil {
		return fmt.Errorf("%s: recording sync time: %w", op, err)
	}
	return nil
}

// AppendEvent appends one event to the activity ledger and writes the
// whole ledger back.  It fails explicitly when the ledger feature is
// disabled.
func (s *Syncer) AppendEvent(ctx context.Context, ev Event) error {
	const op = "portable.(Syncer).AppendEvent"
	if !s.ledgerEnabled {
		return fmt.Errorf("%s: %w", op, ErrLedgerDisabled)
	}
	if ev.Type == "" {
		return fmt.Errorf("%s: missing event type: %w", op, ErrInvalidParameter)
	}
	uris, err := s.resourceURIs(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	ledger := Ledger{SchemaVersion: SchemaVersion}
	if err := s.client.GetJSON(ctx, uris.ActivityLedger, &ledger); err != nil {
		s.logger.Debug("activity ledger unavailable, starting empty", "error", err)
		ledger = Ledger{SchemaVersion: SchemaVersion}
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.OccurredAt = s.now()
	ledger.Events = append(ledger.Events, ev)
	ledger.SchemaVersion = SchemaVersion

	if err := s.client.PutJSON(ctx, uris.ActivityLedger, ledger); err != nil {
		return fmt.Errorf("%s: writing ledger: %w", op, err)
	}
	return nil
}
