// Package blobtest provides blob.Store helpers for tests.
package blobtest

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/dmitrijs2005/genevault/internal/blob"
)

// TamperStore wraps a blob.Store and rewrites the bytes Get returns for
// tampered handles. The stored blob itself is never changed.
type TamperStore struct {
	blob.Store

	mu   sync.Mutex
	muts map[blob.Handle]func([]byte) []byte
}

func NewTamperStore(s blob.Store) *TamperStore {
	return &TamperStore{Store: s, muts: make(map[blob.Handle]func([]byte) []byte)}
}

// Tamper makes later reads of h return fn applied to a copy of the blob.
// It replaces any earlier mutation of h.
func (s *TamperStore) Tamper(h blob.Handle, fn func([]byte) []byte) {
	s.mu.Lock()
	s.muts[h] = fn
	s.mu.Unlock()
}

// Restore drops the mutation of h.
func (s *TamperStore) Restore(h blob.Handle) {
	s.mu.Lock()
	delete(s.muts, h)
	s.mu.Unlock()
}

func (s *TamperStore) Get(ctx context.Context, h blob.Handle) (io.ReadCloser, error) {
	rc, err := s.Store.Get(ctx, h)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	fn := s.muts[h]
	s.mu.Unlock()
	if fn == nil {
		return rc, nil
	}

	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(fn(b))), nil
}
