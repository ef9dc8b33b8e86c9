// Package services contains the file lifecycle logic shared by the daemon and
// the CLI.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/dmitrijs2005/genevault/internal/analysis"
	"github.com/dmitrijs2005/genevault/internal/common"
	"github.com/dmitrijs2005/genevault/internal/dbx"
	"github.com/dmitrijs2005/genevault/internal/ledger"
	"github.com/dmitrijs2005/genevault/internal/logging"
	"github.com/dmitrijs2005/genevault/internal/server/models"
	"github.com/dmitrijs2005/genevault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/genevault/internal/staging"
	"github.com/dmitrijs2005/genevault/internal/vault"
)

// Analyzer runs an external tool against a staged plaintext file.
type Analyzer interface {
	Run(ctx context.Context, inputPath string) (*analysis.Result, error)
}

// AnalysisReport is the outcome of Analyze. CleanupErr is set when the
// staged plaintext could not be removed; the analysis itself still counts.
type AnalysisReport struct {
	FileID     string
	Result     *analysis.Result
	CleanupErr error
}

// FileService ties the vault, metadata store, staging area and deletion
// ledger together for one owner-scoped file lifecycle.
//
// Callers must not Delete a file while a Download of the same file is still
// being read.
type FileService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	vault       *vault.Vault
	workspace   *staging.Workspace
	analyzer    Analyzer
	ledger      *ledger.Ledger
	log         logging.Logger
	maxFileSize int64
}

type FileServiceDeps struct {
	DB          *sql.DB
	RepoManager repomanager.RepositoryManager
	Vault       *vault.Vault
	Workspace   *staging.Workspace
	Analyzer    Analyzer
	Ledger      *ledger.Ledger
	Log         logging.Logger
	MaxFileSize int64
}

func NewFileService(d FileServiceDeps) *FileService {
	return &FileService{
		db:          d.DB,
		repomanager: d.RepoManager,
		vault:       d.Vault,
		workspace:   d.Workspace,
		analyzer:    d.Analyzer,
		ledger:      d.Ledger,
		log:         d.Log,
		maxFileSize: d.MaxFileSize,
	}
}

// Upload validates, encrypts and stores r under filename for ownerID. The
// content type comes from the file extension.
func (s *FileService) Upload(ctx context.Context, ownerID, filename string, r io.Reader) (*models.FileRecord, error) {
	ct, ok := models.InferContentType(filename)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported file type %q", common.ErrValidationFailed, filepath.Ext(filename))
	}

	if s.maxFileSize > 0 {
		r = &sizeLimitReader{r: r, max: s.maxFileSize}
	}

	rec, err := s.vault.Store(ctx, r, vault.StoreRequest{
		OwnerID:     ownerID,
		Filename:    filepath.Base(filename),
		ContentType: ct,
	})
	if err != nil {
		return nil, err
	}

	if err := s.repomanager.Files(s.db).Create(ctx, rec); err != nil {
		if derr := s.vault.Destroy(context.WithoutCancel(ctx), rec); derr != nil {
			s.log.Error(ctx, "failed to remove blob of unsaved file", "file_id", rec.ID, "error", derr)
		}
		return nil, fmt.Errorf("error saving file record: %w", err)
	}

	return rec, nil
}

// Download returns the record and a reader over its plaintext. The caller
// must Close the reader.
func (s *FileService) Download(ctx context.Context, ownerID, fileID string) (*models.FileRecord, io.ReadCloser, error) {
	rec, err := s.getOwned(ctx, s.db, ownerID, fileID)
	if err != nil {
		return nil, nil, err
	}

	rc, err := s.vault.Fetch(ctx, rec)
	if err != nil {
		return nil, nil, err
	}
	return rec, rc, nil
}

// Delete removes the record and destroys the blob in one transaction, then
// appends a ledger entry. A failed destroy rolls the record back, and of two
// concurrent deletes only one succeeds. A ledger failure is logged; the
// deletion stands.
func (s *FileService) Delete(ctx context.Context, ownerID, fileID string) error {
	var rec *models.FileRecord
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		rec, err = s.getOwned(ctx, tx, ownerID, fileID)
		if err != nil {
			return err
		}
		if err := s.repomanager.Files(tx).Delete(ctx, rec.ID); err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return err
			}
			return fmt.Errorf("error deleting file record: %w", err)
		}
		return s.vault.Destroy(ctx, rec)
	})
	if err != nil {
		return err
	}

	if err := s.ledger.Record(ctx, rec.OwnerID, rec.ID); err != nil {
		s.log.Error(ctx, "deletion not recorded in ledger", "file_id", rec.ID, "owner", rec.OwnerID, "error", err)
	}
	return nil
}

var withStaged = staging.WithStaged[*analysis.Result]

// Analyze stages the plaintext of fileID, runs the analyzer on it and removes
// the staged copy before returning. When the analyzer fails and the cleanup
// fails too, both are returned, the analyzer error first.
func (s *FileService) Analyze(ctx context.Context, ownerID, fileID string) (*AnalysisReport, error) {
	if s.analyzer == nil {
		return nil, errors.New("no analyzer configured")
	}

	rec, err := s.getOwned(ctx, s.db, ownerID, fileID)
	if err != nil {
		return nil, err
	}

	res, err := withStaged(ctx, s.workspace, rec, func(ctx context.Context, h *staging.Handle) (*analysis.Result, error) {
		return s.analyzer.Run(ctx, h.Path())
	})
	if err != nil {
		if res.CleanupErr != nil {
			return nil, errors.Join(err, res.CleanupErr)
		}
		return nil, err
	}
	return &AnalysisReport{FileID: rec.ID, Result: res.Value, CleanupErr: res.CleanupErr}, nil
}

// List returns the owner's files, newest first.
func (s *FileService) List(ctx context.Context, ownerID string) ([]*models.FileRecord, error) {
	recs, err := s.repomanager.Files(s.db).ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("error listing files: %w", err)
	}
	return recs, nil
}

// Deletions returns ledger entries matching q.
func (s *FileService) Deletions(ctx context.Context, q models.DeletionQuery) ([]models.DeletionRecord, error) {
	return s.ledger.List(ctx, q)
}

func (s *FileService) getOwned(ctx context.Context, db dbx.DBTX, ownerID, fileID string) (*models.FileRecord, error) {
	rec, err := s.repomanager.Files(db).GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("error loading file record: %w", err)
	}
	if rec.OwnerID != ownerID {
		return nil, common.ErrorUnauthorized
	}
	return rec, nil
}

// sizeLimitReader fails once more than max bytes have been read.
type sizeLimitReader struct {
	r    io.Reader
	max  int64
	read int64
}

func (l *sizeLimitReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.read += int64(n)
	if l.read > l.max {
		return 0, fmt.Errorf("%w: file exceeds %d bytes", common.ErrValidationFailed, l.max)
	}
	return n, err
}
