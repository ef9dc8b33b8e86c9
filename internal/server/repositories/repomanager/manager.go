package repomanager

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/dmitrijs2005/genevault/internal/dbx"
	"github.com/dmitrijs2005/genevault/internal/logging"
	"github.com/dmitrijs2005/genevault/internal/server/repositories/deletions"
	"github.com/dmitrijs2005/genevault/internal/server/repositories/files"
	"github.com/pressly/goose/v3"
)

// RepositoryManager vends dialect-specific repositories bound to a DBTX and
// migrates the schema.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Files(db dbx.DBTX) files.Repository
	Deletions(db dbx.DBTX) deletions.Repository
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// New returns the manager for a database/sql driver name. Migration progress
// is reported through log.
func New(driver string, log logging.Logger) (RepositoryManager, error) {
	switch driver {
	case dbx.DriverPostgres:
		return &PostgresRepositoryManager{log: log}, nil
	case dbx.DriverSQLite:
		return &SQLiteRepositoryManager{log: log}, nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}

// gooseLogger adapts logging.Logger to goose.Logger.
type gooseLogger struct {
	log logging.Logger
}

func (g gooseLogger) Printf(format string, v ...any) {
	g.log.Info(context.Background(), strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "migrations")
}

func (g gooseLogger) Fatalf(format string, v ...any) {
	g.log.Error(context.Background(), strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "migrations")
	os.Exit(1)
}

func setGooseLogger(log logging.Logger) {
	if log == nil {
		goose.SetLogger(goose.NopLogger())
		return
	}
	goose.SetLogger(gooseLogger{log: log})
}
