// Package ledger keeps the append-only audit trail of file deletions.
//
// The ledger is not a transactional gate: a failed Record is reported as
// common.ErrLedgerUnavailable and the deletion that triggered it stands.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/genevault/internal/common"
	"github.com/dmitrijs2005/genevault/internal/logging"
	"github.com/dmitrijs2005/genevault/internal/metrics"
	"github.com/dmitrijs2005/genevault/internal/server/models"
)

// DefaultRetention is the compliance window after which entries may be pruned.
const DefaultRetention = 5 * 365 * 24 * time.Hour

type Repository interface {
	Append(ctx context.Context, rec *models.DeletionRecord) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	List(ctx context.Context, q models.DeletionQuery) ([]models.DeletionRecord, error)
}

type Ledger struct {
	repo      Repository
	retention time.Duration
	log       logging.Logger
	now       func() time.Time
}

func New(repo Repository, retention time.Duration, log logging.Logger) *Ledger {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Ledger{repo: repo, retention: retention, log: log, now: time.Now}
}

// Record appends a deletion entry for fileID.
func (l *Ledger) Record(ctx context.Context, ownerID, fileID string) error {
	rec := &models.DeletionRecord{OwnerID: ownerID, FileID: fileID, DeletedAt: l.now().UTC()}
	if err := l.repo.Append(ctx, rec); err != nil {
		metrics.LedgerFailures.Inc()
		return fmt.Errorf("%w: %w", common.ErrLedgerUnavailable, err)
	}
	return nil
}

// Prune removes entries older than the retention window.
func (l *Ledger) Prune(ctx context.Context) (int64, error) {
	cutoff := l.now().UTC().Add(-l.retention)
	n, err := l.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: prune: %w", common.ErrLedgerUnavailable, err)
	}
	metrics.LedgerPruned.Add(float64(n))
	if n > 0 {
		l.log.Info(ctx, "ledger pruned", "removed", n, "cutoff", cutoff)
	}
	return n, nil
}

// List returns matching entries, newest first.
func (l *Ledger) List(ctx context.Context, q models.DeletionQuery) ([]models.DeletionRecord, error) {
	recs, err := l.repo.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %w", common.ErrLedgerUnavailable, err)
	}
	return recs, nil
}

// RunPruner calls Prune every interval until ctx is done.
func (l *Ledger) RunPruner(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := l.Prune(ctx); err != nil {
				l.log.Error(ctx, "ledger prune failed", "error", err)
			}
		}
	}
}
