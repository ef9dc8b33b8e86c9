package files

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/genevault/internal/dbx"
	"github.com/dmitrijs2005/genevault/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, rec *models.FileRecord) error {
	query := `INSERT INTO files (` + columns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.OwnerID, rec.Filename, string(rec.ContentType), rec.BlobHandle, rec.WrappedKey.Encode(),
		rec.Nonce, rec.AuthTag, rec.Size, rec.Hash, string(rec.Compression), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.FileRecord, error) {
	query := `SELECT ` + columns + ` FROM files WHERE id=$1`

	var created time.Time
	return scanRecord(r.db.QueryRowContext(ctx, query, id), &created, func(rec *models.FileRecord) {
		rec.CreatedAt = created.UTC()
	})
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.FileRecord, error) {
	query := `SELECT ` + columns + ` FROM files WHERE owner_id=$1 ORDER BY created_at DESC, id`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	var result []*models.FileRecord
	for rows.Next() {
		var created time.Time
		rec, err := scanRecord(rows, &created, func(rec *models.FileRecord) { rec.CreatedAt = created.UTC() })
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

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return checkOneAffected(res)
}
