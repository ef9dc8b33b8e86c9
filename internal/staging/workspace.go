// Package staging materializes vault entries as plaintext files for external
// tools and guarantees that the plaintext is erased afterwards.
//
// Each staging gets its own directory "stage-*" under the workspace root,
// created owner-only. Directories orphaned by a crash are removed by Sweep,
// which must run before the workspace is used.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/genevault/internal/common"
	"github.com/dmitrijs2005/genevault/internal/filex"
	"github.com/dmitrijs2005/genevault/internal/logging"
	"github.com/dmitrijs2005/genevault/internal/metrics"
	"github.com/dmitrijs2005/genevault/internal/server/models"
)

const (
	dirPrefix = "stage-"
	inputName = "input"

	DefaultGrace = time.Hour
)

// Fetcher yields the plaintext of a record. *vault.Vault implements it.
type Fetcher interface {
	Fetch(ctx context.Context, rec *models.FileRecord) (io.ReadCloser, error)
}

type Workspace struct {
	root    string
	fetcher Fetcher
	log     logging.Logger
	grace   time.Duration

	now    func() time.Time
	remove func(dir string) error
}

func NewWorkspace(root string, fetcher Fetcher, log logging.Logger, grace time.Duration) (*Workspace, error) {
	dir, err := filex.EnsureDir(root)
	if err != nil {
		return nil, fmt.Errorf("staging: %w", err)
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Workspace{
		root:    dir,
		fetcher: fetcher,
		log:     log,
		grace:   grace,
		now:     time.Now,
		remove:  filex.ShredTree,
	}, nil
}

func (w *Workspace) Root() string {
	return w.root
}

// Handle is one staged plaintext file. Close ends its scope.
type Handle struct {
	ws        *Workspace
	dir       string
	path      string
	fileID    string
	createdAt time.Time

	once sync.Once
	err  error
}

func (h *Handle) Dir() string          { return h.dir }
func (h *Handle) Path() string         { return h.path }
func (h *Handle) CreatedAt() time.Time { return h.createdAt }

// Close overwrites and removes the staged file and its directory. It is safe
// to call more than once; later calls return the first result. A failure is
// logged and wraps common.ErrStagingCleanupFailed.
func (h *Handle) Close() error {
	h.once.Do(func() {
		defer metrics.ActiveStagings.Dec()
		if err := h.ws.remove(h.dir); err != nil {
			h.err = fmt.Errorf("%w: %s: %w", common.ErrStagingCleanupFailed, h.dir, err)
			metrics.StagingCleanupFailures.Inc()
			h.ws.log.Warn(context.Background(), "staging cleanup failed", "dir", h.dir, "file_id", h.fileID, "error", err)
		}
	})
	return h.err
}

// Stage decrypts rec into a fresh private directory. On failure nothing is
// left behind.
func (w *Workspace) Stage(ctx context.Context, rec *models.FileRecord) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(w.root, dirPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("staging: create dir: %w", err)
	}

	fail := func(err error) (*Handle, error) {
		if rerr := w.remove(dir); rerr != nil {
			metrics.StagingCleanupFailures.Inc()
			w.log.Warn(ctx, "staging cleanup failed", "dir", dir, "file_id", rec.ID, "error", rerr)
		}
		return nil, err
	}

	plain, err := w.fetcher.Fetch(ctx, rec)
	if err != nil {
		return fail(fmt.Errorf("staging: fetch %s: %w", rec.ID, err))
	}

	path := filepath.Join(dir, inputName+rec.ContentType.Ext())
	_, err = filex.CopyToFile(path, ctxReader{ctx: ctx, r: plain}, 0o600)
	if cerr := plain.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return fail(fmt.Errorf("staging: write %s: %w", rec.ID, err))
	}

	metrics.ActiveStagings.Inc()
	w.log.Debug(ctx, "file staged", "file_id", rec.ID, "dir", dir)
	return &Handle{ws: w, dir: dir, path: path, fileID: rec.ID, createdAt: w.now()}, nil
}

// Scoped is the result of WithStaged. CleanupErr is a secondary warning and
// never replaces the primary error.
type Scoped[T any] struct {
	Value      T
	CleanupErr error
}

// WithStaged stages rec, calls fn with the handle and removes the staged
// plaintext however fn ends: normal return, error, panic, or ctx expiry.
func WithStaged[T any](ctx context.Context, w *Workspace, rec *models.FileRecord, fn func(ctx context.Context, h *Handle) (T, error)) (res Scoped[T], err error) {
	h, err := w.Stage(ctx, rec)
	if err != nil {
		return res, err
	}
	defer func() {
		res.CleanupErr = h.Close()
	}()

	res.Value, err = fn(ctx, h)
	return res, err
}

// Sweep removes staging directories older than the grace window and returns
// how many were removed.
func (w *Workspace) Sweep(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return 0, fmt.Errorf("staging: read root: %w", err)
	}

	cutoff := w.now().Add(-w.grace)
	removed := 0
	var errs []error
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if !e.IsDir() || !strings.HasPrefix(e.Name(), dirPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		dir := filepath.Join(w.root, e.Name())
		if err := w.remove(dir); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %w", common.ErrStagingCleanupFailed, dir, err))
			continue
		}
		removed++
	}

	metrics.StagingSwept.Add(float64(removed))
	if removed > 0 {
		w.log.Warn(ctx, "removed orphaned staging directories", "count", removed, "root", w.root)
	}
	return removed, errors.Join(errs...)
}

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
