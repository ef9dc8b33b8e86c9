// Package server wires configuration, storage, the vault and the staging area
// into one App, and runs the daemon's background work: orphan sweeps, ledger
// pruning and the metrics endpoint.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/genevault/internal/analysis"
	"github.com/dmitrijs2005/genevault/internal/blob"
	"github.com/dmitrijs2005/genevault/internal/cryptox"
	"github.com/dmitrijs2005/genevault/internal/dbx"
	"github.com/dmitrijs2005/genevault/internal/filex"
	"github.com/dmitrijs2005/genevault/internal/ledger"
	"github.com/dmitrijs2005/genevault/internal/logging"
	"github.com/dmitrijs2005/genevault/internal/metrics"
	"github.com/dmitrijs2005/genevault/internal/netx"
	"github.com/dmitrijs2005/genevault/internal/server/config"
	"github.com/dmitrijs2005/genevault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/genevault/internal/server/services"
	"github.com/dmitrijs2005/genevault/internal/staging"
	"github.com/dmitrijs2005/genevault/internal/vault"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Seams for tests.
var (
	openDB       = dbx.Open
	newS3Client  = blob.NewS3Client
	newRepoMgr   = repomanager.New
	metricsServe = netx.ListenAndServe
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	db        *sql.DB
	master    *cryptox.MasterKey
	vault     *vault.Vault
	workspace *staging.Workspace
	ledger    *ledger.Ledger
	files     *services.FileService
	partials  partialSweeper
}

// partialSweeper removes blob writes interrupted by a crash.
type partialSweeper interface {
	SweepPartial(grace time.Duration) (int, error)
}

// NewApp builds every component from c. passphrase is used only when no hex
// master key is configured; pass nil to skip it.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger, passphrase []byte) (*App, error) {
	master, err := c.MasterKey(passphrase)
	if err != nil {
		return nil, err
	}
	app := &App{config: c, logger: logger, master: master}

	wrapper, err := cryptox.NewKeyWrapper(master, c.WrapperOptions()...)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("key wrapper init error: %w", err)
	}
	if wrapper.Mode() == cryptox.ModeDegraded {
		metrics.DegradedMode.Set(1)
		logger.Warn(ctx, "NO MASTER KEY CONFIGURED: per-file keys are stored UNENCRYPTED; anyone with database access can decrypt every file",
			"mode", wrapper.Mode(), "env", config.EnvMasterKeyHex)
	} else {
		metrics.DegradedMode.Set(0)
	}

	db, err := openDB(ctx, c.DatabaseDriver, c.DatabaseDSN)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("db init error: %w", err)
	}
	app.db = db

	rm, err := newRepoMgr(c.DatabaseDriver, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	if err := rm.RunMigrations(ctx, db); err != nil {
		app.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	stagingRoot, err := filex.EnsureDir(c.StagingDir)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("staging dir error: %w", err)
	}

	blobs, err := app.blobStore(ctx, stagingRoot)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.vault = vault.New(wrapper, blobs, logger, c.VaultOptions())

	app.workspace, err = staging.NewWorkspace(stagingRoot, app.vault, logger, c.StagingGrace)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.ledger = ledger.New(rm.Deletions(db), c.LedgerRetention, logger)

	deps := services.FileServiceDeps{
		DB:          db,
		RepoManager: rm,
		Vault:       app.vault,
		Workspace:   app.workspace,
		Ledger:      app.ledger,
		Log:         logger,
		MaxFileSize: c.MaxFileSize,
	}
	if len(c.AnalyzerCommand) > 0 {
		deps.Analyzer = &analysis.Runner{Command: c.AnalyzerCommand, Timeout: c.AnalyzerTimeout}
	}
	app.files = services.NewFileService(deps)

	logger.Info(ctx, "app initialised", "db_driver", c.DatabaseDriver, "blob_backend", c.BlobBackend,
		"mode", wrapper.Mode(), "compression", c.Compression)
	return app, nil
}

func (app *App) blobStore(ctx context.Context, spoolDir string) (blob.Store, error) {
	c := app.config
	switch c.BlobBackend {
	case config.BlobBackendFS:
		fs, err := blob.NewFileStore(c.BlobDir)
		if err != nil {
			return nil, fmt.Errorf("blob store init error: %w", err)
		}
		app.partials = fs
		return fs, nil
	case config.BlobBackendS3:
		client, err := newS3Client(ctx, blob.S3Config{
			Bucket:       c.S3Bucket,
			Region:       c.S3Region,
			AccessKey:    c.S3AccessKey,
			SecretKey:    c.S3SecretKey,
			BaseEndpoint: c.S3BaseEndpoint,
			SpoolDir:     spoolDir,
		})
		if err != nil {
			return nil, fmt.Errorf("blob store init error: %w", err)
		}
		store := blob.NewS3Store(client, c.S3Bucket, spoolDir)
		app.partials = store
		return store, nil
	case config.BlobBackendMem:
		app.logger.Warn(ctx, "using in-memory blob store; stored files are lost on exit")
		return blob.NewMemStore(), nil
	}
	return nil, fmt.Errorf("unknown blob backend %q", c.BlobBackend)
}

func (app *App) Files() *services.FileService { return app.files }
func (app *App) Ledger() *ledger.Ledger        { return app.ledger }
func (app *App) Mode() cryptox.Mode            { return app.vault.Mode() }

// Prepare removes leftovers of earlier runs: stale staging directories and
// partial blob writes.
func (app *App) Prepare(ctx context.Context) error {
	var errs []error

	n, err := app.workspace.Sweep(ctx)
	if err != nil {
		errs = append(errs, err)
	}

	if app.partials != nil {
		p, err := app.partials.SweepPartial(app.config.StagingGrace)
		if err != nil {
			errs = append(errs, err)
		}
		if p > 0 {
			app.logger.Warn(ctx, "removed partial blob writes", "count", p)
		}
	}

	app.logger.Info(ctx, "startup sweep done", "staging_removed", n)
	return errors.Join(errs...)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startMetricsServer(ctx context.Context, cancelFunc context.CancelFunc) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	app.logger.Info(ctx, "starting metrics server", "address", app.config.MetricsAddr)
	if err := metricsServe(ctx, app.config.MetricsAddr, mux); err != nil {
		app.logger.Error(ctx, "metrics server failed", "error", err)
		cancelFunc()
	}
}

func (app *App) runSweeper(ctx context.Context) {
	t := time.NewTicker(app.config.StagingGrace)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := app.workspace.Sweep(ctx); err != nil && ctx.Err() == nil {
				app.logger.Error(ctx, "staging sweep failed", "error", err)
			}
		}
	}
}

// Run sweeps once, then runs the background loops until ctx is cancelled or
// a termination signal arrives.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")
	app.initSignalHandler(cancelFunc)

	if err := app.Prepare(ctx); err != nil {
		app.logger.Error(ctx, "startup sweep incomplete", "error", err)
	}

	var wg sync.WaitGroup

	if app.config.MetricsAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startMetricsServer(ctx, cancelFunc)
		}()
	}

	if app.config.LedgerPruneInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.ledger.RunPruner(ctx, app.config.LedgerPruneInterval)
		}()
	}

	if app.config.StagingGrace > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.runSweeper(ctx)
		}()
	}

	wg.Wait()
	app.logger.Info(context.WithoutCancel(ctx), "app stopped")
}

// Close releases the database and wipes the master key.
func (app *App) Close() error {
	app.master.Wipe()
	if app.db != nil {
		return app.db.Close()
	}
	return nil
}
