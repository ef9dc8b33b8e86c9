package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/dmitrijs2005/genevault/internal/common"
	"github.com/google/uuid"
)

// MemStore keeps blobs in memory. A blob becomes visible only after Put has
// consumed the whole stream.
type MemStore struct {
	mu    sync.RWMutex
	blobs map[Handle][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{blobs: make(map[Handle][]byte)}
}

func (s *MemStore) Put(ctx context.Context, r io.Reader) (Handle, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, ctxReader{ctx: ctx, r: r}); err != nil {
		return "", fmt.Errorf("%w: %w", common.ErrStorageWriteFailure, err)
	}
	h := Handle(uuid.NewString())

	s.mu.Lock()
	s.blobs[h] = buf.Bytes()
	s.mu.Unlock()
	return h, nil
}

func (s *MemStore) Get(ctx context.Context, h Handle) (io.ReadCloser, error) {
	s.mu.RLock()
	b, ok := s.blobs[h]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrBlobNotFound, h)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *MemStore) Delete(ctx context.Context, h Handle) error {
	s.mu.Lock()
	delete(s.blobs, h)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored blobs.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
