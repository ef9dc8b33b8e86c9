package blobtest

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/dmitrijs2005/genevault/internal/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func read(t *testing.T, s blob.Store, h blob.Handle) string {
	t.Helper()
	rc, err := s.Get(context.Background(), h)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestTamperStore(t *testing.T) {
	mem := blob.NewMemStore()
	s := NewTamperStore(mem)

	h, err := s.Put(context.Background(), strings.NewReader("abc"))
	require.NoError(t, err)

	s.Tamper(h, func(b []byte) []byte { b[0] = 'x'; return b })
	assert.Equal(t, "xbc", read(t, s, h))
	assert.Equal(t, "abc", read(t, mem, h), "backing blob must stay intact")

	s.Restore(h)
	assert.Equal(t, "abc", read(t, s, h))

	require.NoError(t, s.Delete(context.Background(), h))
	assert.Equal(t, 0, mem.Len())
}
