package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/genevault/internal/dbx"
	"github.com/dmitrijs2005/genevault/internal/logging"
	"github.com/dmitrijs2005/genevault/internal/server/migrations"
	"github.com/dmitrijs2005/genevault/internal/server/repositories/deletions"
	"github.com/dmitrijs2005/genevault/internal/server/repositories/files"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// SQLiteRepositoryManager vends SQLite-backed repositories for single-node
// deployments.
type SQLiteRepositoryManager struct {
	log logging.Logger
}

func (m *SQLiteRepositoryManager) Files(db dbx.DBTX) files.Repository {
	return files.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Deletions(db dbx.DBTX) deletions.Repository {
	return deletions.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	setGooseLogger(m.log)
	goose.SetBaseFS(migrations.SQLite)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, migrations.SQLiteDir)
}
