// Package inmem provides a mutex-guarded in-memory pod.Store, suitable for
// tests and single-process deployments.
package inmem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/podlink/podlink/pod"
)

// Store implements pod.Store with an in-memory map.
type Store struct {
	mu    sync.Mutex
	conns map[string]*pod.Connection
}

var _ pod.Store = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{
		conns: map[string]*pod.Connection{},
	}
}

// Find implements pod.Store.Find.
func (s *Store) Find(ctx context.Context, userID string) (*pod.Connection, error) {
	const op = "inmem.Find"
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[userID]
	if !ok {
		return nil, fmt.Errorf("%s: user %s: %w", op, userID, pod.ErrNotFound)
	}
	cp := *conn
	return &cp, nil
}

// Upsert implements pod.Store.Upsert.
func (s *Store) Upsert(ctx context.Context, userID string, f pod.Fields) (*pod.Connection, error) {
	const op = "inmem.Upsert"
	if userID == "" {
		return nil, fmt.Errorf("%s: user id is empty: %w", op, pod.ErrInvalidParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	conn, ok := s.conns[userID]
	if !ok {
		conn = &pod.Connection{
			UserID:    userID,
			CreatedAt: now,
		}
		s.conns[userID] = conn
	}
	f.Apply(conn, now)
	cp := *conn
	return &cp, nil
}

// Delete implements pod.Store.Delete.
func (s *Store) Delete(ctx context.Context, userID string) error {
	const op = "inmem.Delete"
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[userID]; !ok {
		return fmt.Errorf("%s: user %s: %w", op, userID, pod.ErrNotFound)
	}
	delete(s.conns, userID)
	return nil
}
