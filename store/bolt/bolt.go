// Package bolt persists Pod connections in a local bbolt database.  It
// suits single-process deployments (CLIs, small servers) where running a
// database server is not worth it.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/podlink/podlink/pod"
)

const (
	// dirPerm is the permission mode for the database directory.
	dirPerm = fs.FileMode(0o700)

	// filePerm is the permission mode for the database file.  It holds
	// encrypted token envelopes, so it stays owner-only.
	filePerm = fs.FileMode(0o600)

	// openTimeout is the maximum time to wait for the bolt file lock.
	openTimeout = 5 * time.Second
)

var connectionsBucket = []byte("connections")

// Store is a bbolt-backed pod.Store.
type Store struct {
	db *bolt.DB
}

var _ pod.Store = (*Store)(nil)

// Open opens (creating if necessary) a connection database at path.
func Open(path string) (*Store, error) {
	const op = "bolt.Open"
	if path == "" {
		return nil, fmt.Errorf("%s: path is empty: %w", op, pod.ErrInvalidParameter)
	}
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return nil, fmt.Errorf("%s: creating database directory: %w", op, err)
	}
	db, err := bolt.Open(path, filePerm, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("%s: opening database: %w", op, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(connectionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: initializing database: %w", op, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Find returns the connection for a user, or pod.ErrNotFound.
func (s *Store) Find(ctx context.Context, userID string) (*pod.Connection, error) {
	const op = "bolt.(Store).Find"
	if userID == "" {
		return nil, fmt.Errorf("%s: user id is empty: %w", op, pod.ErrInvalidParameter)
	}
	var conn *pod.Connection
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(connectionsBucket).Get([]byte(userID))
		if v == nil {
			return nil
		}
		conn = &pod.Connection{}
		return json.Unmarshal(v, conn)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if conn == nil {
		return nil, fmt.Errorf("%s: user %s: %w", op, userID, pod.ErrNotFound)
	}
	return conn, nil
}

// Upsert creates the user's connection when absent, otherwise merges the
// given fields onto it.  The read-modify-write happens inside one bolt
// write transaction.
func (s *Store) Upsert(ctx context.Context, userID string, f pod.Fields) (*pod.Connection, error) {
	const op = "bolt.(Store).Upsert"
	if userID == "" {
		return nil, fmt.Errorf("%s: user id is empty: %w", op, pod.ErrInvalidParameter)
	}
	now := time.Now()
	var conn pod.Connection
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(connectionsBucket)
		if v := b.Get([]byte(userID)); v != nil {
			if err := json.Unmarshal(v, &conn); err != nil {
				return err
			}
		} else {
			conn = pod.Connection{UserID: userID, CreatedAt: now}
		}
		f.Apply(&conn, now)
		data, err := json.Marshal(conn)
		if err != nil {
			return err
		}
		return b.Put([]byte(userID), data)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &conn, nil
}

// Delete removes the user's connection, failing with pod.ErrNotFound when
// absent.
func (s *Store) Delete(ctx context.Context, userID string) error {
	const op = "bolt.(Store).Delete"
	if userID == "" {
		return fmt.Errorf("%s: user id is empty: %w", op, pod.ErrInvalidParameter)
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(connectionsBucket)
		if b.Get([]byte(userID)) == nil {
			return pod.ErrNotFound
		}
		return b.Delete([]byte(userID))
	})
	if err != nil {
		return fmt.Errorf("%s: user %s: %w", op, userID, err)
	}
	return nil
}
