// Package postgres persists Pod connections in PostgreSQL.  One row per
// user; the scopes column is a native text array and the claim and
// resource-location documents are stored as JSONB.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/podlink/podlink/pod"
)

const schema = `
CREATE TABLE IF NOT EXISTS pod_connections (
	user_id          TEXT PRIMARY KEY,
	web_id           TEXT NOT NULL DEFAULT '',
	issuer           TEXT NOT NULL DEFAULT '',
	encrypted_tokens TEXT NOT NULL DEFAULT '',
	scopes           TEXT[] NOT NULL DEFAULT '{}',
	id_token_claims  JSONB,
	resource_uris    JSONB,
	token_expiry     TIMESTAMPTZ,
	last_sync_at     TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
)`

// Store is a PostgreSQL-backed pod.Store.
type Store struct {
	db *sql.DB
}

var _ pod.Store = (*Store)(nil)

// Open connects to PostgreSQL using a lib/pq DSN and verifies the
// connection.  Call Migrate before first use.
func Open(ctx context.Context, dsn string) (*Store, error) {
	const op = "postgres.Open"
	if dsn == "" {
		return nil, fmt.Errorf("%s: dsn is empty: %w", op, pod.ErrInvalidParameter)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: opening database: %w", op, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: pinging database: %w", op, err)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an existing database handle.
func NewStore(db *sql.DB) (*Store, error) {
	const op = "postgres.NewStore"
	if db == nil {
		return nil, fmt.Errorf("%s: db is nil: %w", op, pod.ErrNilParameter)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the connections table when it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	const op = "postgres.(Store).Migrate"
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Find returns the connection for a user, or pod.ErrNotFound.
func (s *Store) Find(ctx context.Context, userID string) (*pod.Connection, error) {
	const op = "postgres.(Store).Find"
	if userID == "" {
		return nil, fmt.Errorf("%s: user id is empty: %w", op, pod.ErrInvalidParameter)
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, web_id, issuer, encrypted_tokens, scopes,
		       id_token_claims, resource_uris, token_expiry, last_sync_at,
		       created_at, updated_at
		FROM pod_connections WHERE user_id = $1`, userID)
	conn, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: user %s: %w", op, userID, pod.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return conn, nil
}

// Upsert creates the user's connection when absent, otherwise merges the
// given fields onto it.  The merge runs as a read-modify-write inside one
// transaction, with the row locked for the duration.
func (s *Store) Upsert(ctx context.Context, userID string, f pod.Fields) (*pod.Connection, error) {
	const op = "postgres.(Store).Upsert"
	if userID == "" {
		return nil, fmt.Errorf("%s: user id is empty: %w", op, pod.ErrInvalidParameter)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: beginning transaction: %w", op, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	row := tx.QueryRowContext(ctx, `
		SELECT user_id, web_id, issuer, encrypted_tokens, scopes,
		       id_token_claims, resource_uris, token_expiry, last_sync_at,
		       created_at, updated_at
		FROM pod_connections WHERE user_id = $1 FOR UPDATE`, userID)
	conn, err := scanConnection(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		conn = &pod.Connection{UserID: userID, CreatedAt: now}
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	f.Apply(conn, now)

	claims, err := jsonOrNull(conn.IDTokenClaims)
	if err != nil {
		return nil, fmt.Errorf("%s: encoding claims: %w", op, err)
	}
	uris, err := jsonOrNull(conn.ResourceURIs)
	if err != nil {
		return nil, fmt.Errorf("%s: encoding resource uris: %w", op, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO pod_connections (
			user_id, web_id, issuer, encrypted_tokens, scopes,
			id_token_claims, resource_uris, token_expiry, last_sync_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id) DO UPDATE SET
			web_id = EXCLUDED.web_id,
			issuer = EXCLUDED.issuer,
			encrypted_tokens = EXCLUDED.encrypted_tokens,
			scopes = EXCLUDED.scopes,
			id_token_claims = EXCLUDED.id_token_claims,
			resource_uris = EXCLUDED.resource_uris,
			token_expiry = EXCLUDED.token_expiry,
			last_sync_at = EXCLUDED.last_sync_at,
			updated_at = EXCLUDED.updated_at`,
		conn.UserID, conn.WebID, conn.Issuer, conn.EncryptedTokens,
		pq.Array(append([]string{}, conn.Scopes...)), claims, uris,
		nullTime(conn.TokenExpiry), nullTime(conn.LastSyncAt),
		conn.CreatedAt, conn.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: committing: %w", op, err)
	}
	return conn, nil
}

// Delete removes the user's connection, failing with pod.ErrNotFound when
// absent.
func (s *Store) Delete(ctx context.Context, userID string) error {
	const op = "postgres.(Store).Delete"
	if userID == "" {
		return fmt.Errorf("%s: user id is empty: %w", op, pod.ErrInvalidParameter)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM pod_connections WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: user %s: %w", op, userID, pod.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConnection(row rowScanner) (*pod.Connection, error) {
	var (
		conn        pod.Connection
		scopes      pq.StringArray
		claims      []byte
		uris        []byte
		tokenExpiry sql.NullTime
		lastSyncAt  sql.NullTime
	)
	err := row.Scan(
		&conn.UserID, &conn.WebID, &conn.Issuer, &conn.EncryptedTokens,
		&scopes, &claims, &uris, &tokenExpiry, &lastSyncAt,
		&conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	conn.Scopes = []string(scopes)
	if len(claims) > 0 {
		if err := json.Unmarshal(claims, &conn.IDTokenClaims); err != nil {
			return nil, fmt.Errorf("decoding claims: %w", err)
		}
	}
	if len(uris) > 0 {
		conn.ResourceURIs = &pod.ResourceURIs{}
		if err := json.Unmarshal(uris, conn.ResourceURIs); err != nil {
			return nil, fmt.Errorf("decoding resource uris: %w", err)
		}
	}
	if tokenExpiry.Valid {
		conn.TokenExpiry = tokenExpiry.Time
	}
	if lastSyncAt.Valid {
		conn.LastSyncAt = lastSyncAt.Time
	}
	return &conn, nil
}

func jsonOrNull(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case map[string]interface{}:
		if x == nil {
			return nil, nil
		}
	case *pod.ResourceURIs:
		if x == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
