// Package memory keeps documents in process memory, for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pmrelay/pmrelay/internal/store"
)

type Store struct {
	mu   sync.Mutex
	docs map[store.Key]store.Blob
	now  func() time.Time
}

func New() *Store {
	return &Store{docs: make(map[store.Key]store.Blob), now: time.Now}
}

func (s *Store) Load(_ context.Context, key store.Key) (*store.Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.docs[key]
	if !ok {
		return nil, fmt.Errorf("load %s: %w", key, store.ErrNotFound)
	}
	return &b, nil
}

func (s *Store) Create(_ context.Context, key store.Key, text string) (*store.Blob, error) {
	if err := store.CheckSize(text); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b := store.Blob{Text: text, Version: s.docs[key].Version + 1, UpdatedAt: s.now()}
	s.docs[key] = b
	return &b, nil
}

func (s *Store) Save(_ context.Context, key store.Key, _ *store.Blob, text string) (*store.Blob, error) {
	if err := store.CheckSize(text); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.docs[key]
	if !ok {
		return nil, fmt.Errorf("save %s: %w", key, store.ErrNotFound)
	}
	b := store.Blob{Text: text, Version: cur.Version + 1, UpdatedAt: s.now()}
	s.docs[key] = b
	return &b, nil
}

func (s *Store) Reset(_ context.Context, key store.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, key)
	return nil
}

// HealthPing always succeeds.
func (s *Store) HealthPing(context.Context) error { return nil }
