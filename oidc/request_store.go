package oidc

import (
	"context"
	"fmt"
	"sync"
)

// RequestStore is an ephemeral keyed store binding a state value to its
// in-flight Request across the redirect-based flow.  Save is called by the
// authorization-start step; Take is called exactly once by the finish step
// and deletes the entry, giving single-use semantics.  Implementations may
// be backed by an in-memory map or a distributed cache.
type RequestStore interface {
	// Save stores the request keyed by its state.
	Save(ctx context.Context, r *Request) error

	// Take retrieves and deletes the request for state.  An unknown or
	// expired state returns ErrNotFound.
	Take(ctx context.Context, state string) (*Request, error)
}

// MemoryRequestStore is a mutex-guarded in-memory RequestStore.  Expired
// entries are dropped lazily on Save and Take; the store never grows beyond
// the set of unexpired in-flight requests plus those awaiting a sweep.
type MemoryRequestStore struct {
	mu       sync.Mutex
	requests map[string]*Request
}

// NewMemoryRequestStore creates an empty MemoryRequestStore.
func NewMemoryRequestStore() *MemoryRequestStore {
	return &MemoryRequestStore{
		requests: map[string]*Request{},
	}
}

// Save implements RequestStore.Save and sweeps expired entries.
func (s *MemoryRequestStore) Save(ctx context.Context, r *Request) error {
	const op = "MemoryRequestStore.Save"
	if r == nil {
		return fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	if r.State() == "" {
		return fmt.Errorf("%s: request state is empty: %w", op, ErrInvalidParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for state, pending := range s.requests {
		if pending.IsExpired() {
			delete(s.requests, state)
		}
	}
	s.requests[r.State()] = r
	return nil
}

// Take implements RequestStore.Take.
func (s *MemoryRequestStore) Take(ctx context.Context, state string) (*Request, error) {
	const op = "MemoryRequestStore.Take"
	if state == "" {
		return nil, fmt.Errorf("%s: state is empty: %w", op, ErrInvalidParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[state]
	if !ok {
		return nil, fmt.Errorf("%s: state %q: %w", op, state, ErrNotFound)
	}
	delete(s.requests, state)
	if r.IsExpired() {
		return nil, fmt.Errorf("%s: state %q: %w", op, state, ErrExpiredRequest)
	}
	return r, nil
}
