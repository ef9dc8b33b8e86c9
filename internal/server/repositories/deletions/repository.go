// Package deletions persists the append-only deletion ledger.
package deletions

import (
	"context"
	"time"

	"github.com/dmitrijs2005/genevault/internal/server/models"
)

// Repository is the storage side of ledger.Ledger. Entries are never
// updated; DeleteOlderThan is the only removal path.
type Repository interface {
	Append(ctx context.Context, rec *models.DeletionRecord) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	List(ctx context.Context, q models.DeletionQuery) ([]models.DeletionRecord, error)
}

// filter builds the WHERE clause for q. placeholder renders the n-th
// (1-based) bind parameter for the dialect.
func filter(q models.DeletionQuery, placeholder func(n int) string) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, cond+placeholder(len(args)))
	}
	if q.OwnerID != "" {
		add("owner_id = ", q.OwnerID)
	}
	if !q.From.IsZero() {
		add("deleted_at >= ", q.From)
	}
	if !q.To.IsZero() {
		add("deleted_at < ", q.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	where := " WHERE " + conds[0]
	for _, c := range conds[1:] {
		where += " AND " + c
	}
	return where, args
}
