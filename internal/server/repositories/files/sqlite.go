package files

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/genevault/internal/dbx"
	"github.com/dmitrijs2005/genevault/internal/server/models"
)

// SQLiteRepository implements Repository for single-node deployments.
// Timestamps are stored as Unix nanoseconds.
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Create(ctx context.Context, rec *models.FileRecord) error {
	query := `INSERT INTO files (` + columns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.OwnerID, rec.Filename, string(rec.ContentType), rec.BlobHandle, rec.WrappedKey.Encode(),
		rec.Nonce, rec.AuthTag, rec.Size, rec.Hash, string(rec.Compression), rec.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert file: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.FileRecord, error) {
	query := `SELECT ` + columns + ` FROM files WHERE id=?`

	var created int64
	return scanRecord(r.db.QueryRowContext(ctx, query, id), &created, func(rec *models.FileRecord) {
		rec.CreatedAt = time.Unix(0, created).UTC()
	})
}

func (r *SQLiteRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.FileRecord, error) {
	query := `SELECT ` + columns + ` FROM files WHERE owner_id=? ORDER BY created_at DESC, id`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	var result []*models.FileRecord
	for rows.Next() {
		var created int64
		rec, err := scanRecord(rows, &created, func(rec *models.FileRecord) { rec.CreatedAt = time.Unix(0, created).UTC() })
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return checkOneAffected(res)
}
