// Package repomanager wires repository constructors and embedded goose
// migrations for each supported SQL dialect.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/genevault/internal/dbx"
	"github.com/dmitrijs2005/genevault/internal/logging"
	"github.com/dmitrijs2005/genevault/internal/server/migrations"
	"github.com/dmitrijs2005/genevault/internal/server/repositories/deletions"
	"github.com/dmitrijs2005/genevault/internal/server/repositories/files"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repositories.
type PostgresRepositoryManager struct {
	log logging.Logger
}

// Files returns a files.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Files(db dbx.DBTX) files.Repository {
	return files.NewPostgresRepository(db)
}

// Deletions returns a deletions.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Deletions(db dbx.DBTX) deletions.Repository {
	return deletions.NewPostgresRepository(db)
}

// RunMigrations applies the embedded PostgreSQL migrations.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	setGooseLogger(m.log)
	goose.SetBaseFS(migrations.Postgres)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, migrations.PostgresDir)
}
