package deletions

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/genevault/internal/dbx"
	"github.com/dmitrijs2005/genevault/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Append inserts rec and sets rec.ID.
func (r *PostgresRepository) Append(ctx context.Context, rec *models.DeletionRecord) error {
	query := `
		INSERT INTO deletions (owner_id, file_id, deleted_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	if err := r.db.QueryRowContext(ctx, query, rec.OwnerID, rec.FileID, rec.DeletedAt).Scan(&rec.ID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM deletions WHERE deleted_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) List(ctx context.Context, q models.DeletionQuery) ([]models.DeletionRecord, error) {
	where, args := filter(q, func(n int) string { return "$" + strconv.Itoa(n) })
	query := `SELECT id, owner_id, file_id, deleted_at FROM deletions` + where + ` ORDER BY deleted_at DESC, id DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.DeletionRecord
	for rows.Next() {
		var d models.DeletionRecord
		if err := rows.Scan(&d.ID, &d.OwnerID, &d.FileID, &d.DeletedAt); err != nil {
			return nil, err
		}
		d.DeletedAt = d.DeletedAt.UTC()
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
