package deletions

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/genevault/internal/dbx"
	"github.com/dmitrijs2005/genevault/internal/server/models"
)

// SQLiteRepository stores deleted_at as Unix nanoseconds.
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Append(ctx context.Context, rec *models.DeletionRecord) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO deletions (owner_id, file_id, deleted_at) VALUES (?, ?, ?)`,
		rec.OwnerID, rec.FileID, rec.DeletedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to append deletion: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	rec.ID = id
	return nil
}

func (r *SQLiteRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM deletions WHERE deleted_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune deletions: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) List(ctx context.Context, q models.DeletionQuery) ([]models.DeletionRecord, error) {
	where, args := filter(q, func(int) string { return "?" })
	// Times are bound as nanoseconds to match the stored representation.
	for i, a := range args {
		if t, ok := a.(time.Time); ok {
			args[i] = t.UnixNano()
		}
	}
	query := `SELECT id, owner_id, file_id, deleted_at FROM deletions` + where + ` ORDER BY deleted_at DESC, id DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list deletions: %w", err)
	}
	defer rows.Close()

	var out []models.DeletionRecord
	for rows.Next() {
		var (
			d  models.DeletionRecord
			ns int64
		)
		if err := rows.Scan(&d.ID, &d.OwnerID, &d.FileID, &ns); err != nil {
			return nil, err
		}
		d.DeletedAt = time.Unix(0, ns).UTC()
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
