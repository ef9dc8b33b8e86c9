package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/genevault/internal/common"
	"github.com/dmitrijs2005/genevault/internal/filex"
	"github.com/google/uuid"
)

const tempPrefix = ".blob-"

// FileStore keeps blobs under {baseDir}/{handle[:2]}/{handle}. Writes go to a
// temp file in the shard directory and are renamed into place once synced, so
// readers see either the complete blob or nothing.
type FileStore struct {
	baseDir string
}

// NewFileStore creates baseDir (0700) if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		return nil, errors.New("blob: empty base directory")
	}
	dir, err := filex.EnsureDir(baseDir)
	if err != nil {
		return nil, fmt.Errorf("blob: create base dir: %w", err)
	}
	return &FileStore{baseDir: dir}, nil
}

func (s *FileStore) path(h Handle) (string, error) {
	id, err := uuid.Parse(string(h))
	if err != nil || id.String() != string(h) {
		return "", fmt.Errorf("%w: malformed handle %q", common.ErrBlobNotFound, h)
	}
	return filepath.Join(s.baseDir, string(h)[:2], string(h)), nil
}

func (s *FileStore) Put(ctx context.Context, r io.Reader) (Handle, error) {
	h := Handle(uuid.NewString())
	final, _ := s.path(h)

	if err := os.MkdirAll(filepath.Dir(final), 0o700); err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrStorageWriteFailure, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(final), tempPrefix+"*.tmp")
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrStorageWriteFailure, err)
	}
	tmpPath := tmp.Name()

	fail := func(err error) (Handle, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("%w: %w", common.ErrStorageWriteFailure, err)
	}

	if _, err := io.Copy(tmp, ctxReader{ctx: ctx, r: r}); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("%w: %v", common.ErrStorageWriteFailure, err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("%w: %v", common.ErrStorageWriteFailure, err)
	}
	return h, nil
}

func (s *FileStore) Get(ctx context.Context, h Handle) (io.ReadCloser, error) {
	p, err := s.path(h)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", common.ErrBlobNotFound, h)
		}
		return nil, fmt.Errorf("blob: open %s: %w", h, err)
	}
	return f, nil
}

func (s *FileStore) Delete(ctx context.Context, h Handle) error {
	p, err := s.path(h)
	if err != nil {
		// Nothing with a malformed handle can exist.
		return nil
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("blob: delete %s: %w", h, err)
	}
	return nil
}

// SweepPartial removes temp files older than grace, left behind when the
// process died in the middle of a Put. It returns the number removed.
func (s *FileStore) SweepPartial(grace time.Duration) (int, error) {
	cutoff := time.Now().Add(-grace)
	removed := 0

	err := filepath.WalkDir(s.baseDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(p); err == nil {
				removed++
			}
		}
		return nil
	})
	return removed, err
}
