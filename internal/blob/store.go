// Package blob provides opaque ciphertext storage addressed by handles that
// the store itself assigns. Backends: local filesystem, S3-compatible object
// storage, and an in-memory map for tests and development.
package blob

import (
	"context"
	"io"
)

// Handle addresses a stored blob. Callers must persist it; a blob whose
// handle is lost is unreachable.
type Handle string

// Store is the contract every backend satisfies.
//
// Put streams r to durable storage without holding it in memory and returns
// the new handle. A failed Put never leaves a readable blob behind.
// Get fails with common.ErrBlobNotFound for unknown handles; the caller must
// Close the returned reader, even after a partial read.
// Delete is idempotent and returns only once the blob is gone.
type Store interface {
	Put(ctx context.Context, r io.Reader) (Handle, error)
	Get(ctx context.Context, h Handle) (io.ReadCloser, error)
	Delete(ctx context.Context, h Handle) error
}

// ctxReader aborts a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
