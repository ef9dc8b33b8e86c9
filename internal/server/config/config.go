// Package config handles configuration for the genevault daemon and CLI,
// including defaults, a JSON overlay, environment and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/genevault/internal/cryptox"
	"github.com/dmitrijs2005/genevault/internal/dbx"
	"github.com/dmitrijs2005/genevault/internal/ledger"
	"github.com/dmitrijs2005/genevault/internal/server/models"
	"github.com/dmitrijs2005/genevault/internal/staging"
	"github.com/dmitrijs2005/genevault/internal/vault"
)

// EnvMasterKeyHex names the environment variable holding the hex master key.
const EnvMasterKeyHex = "FILE_MASTER_KEY_HEX"

// Blob backends.
const (
	BlobBackendFS  = "fs"
	BlobBackendS3  = "s3"
	BlobBackendMem = "mem"
)

// Config holds runtime settings.
//
// MasterKeyHex is never printed; leave it empty (and MasterKeySalt unset) to
// run in degraded mode where per-file keys are stored unwrapped.
type Config struct {
	DatabaseDriver string
	DatabaseDSN    string

	BlobBackend    string
	BlobDir        string
	S3AccessKey    string
	S3SecretKey    string
	S3Bucket       string
	S3Region       string
	S3BaseEndpoint string

	MasterKeyHex    string
	MasterKeySalt   string
	RejectPlainKeys bool

	SegmentSize       int
	VerifyBufferLimit int64
	Compression       models.Compression
	MaxFileSize       int64

	StagingDir   string
	StagingGrace time.Duration

	AnalyzerCommand []string
	AnalyzerTimeout time.Duration

	LedgerRetention     time.Duration
	LedgerPruneInterval time.Duration

	MetricsAddr string
	LogFormat   string
	LogLevel    string
}

// LoadDefaults populates Config with single-node development defaults.
func (c *Config) LoadDefaults() {
	c.DatabaseDriver = dbx.DriverSQLite
	c.DatabaseDSN = "file:genevault.db?_pragma=busy_timeout(5000)"
	c.BlobBackend = BlobBackendFS
	c.BlobDir = "data/blobs"
	c.S3AccessKey = "admin"
	c.S3SecretKey = "secretpassword"
	c.S3Bucket = "genevault"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
	c.SegmentSize = cryptox.DefaultSegmentSize
	c.VerifyBufferLimit = vault.DefaultVerifyBufferLimit
	c.Compression = models.CompressionNone
	c.MaxFileSize = 200 << 20
	c.StagingDir = "data/staging"
	c.StagingGrace = staging.DefaultGrace
	c.AnalyzerTimeout = 5 * time.Minute
	c.LedgerRetention = ledger.DefaultRetention
	c.LedgerPruneInterval = 24 * time.Hour
	c.MetricsAddr = ":9464"
	c.LogFormat = "json"
	c.LogLevel = "info"
}

// Load builds a Config by applying defaults, then overlaying values from an
// optional JSON file (-c/-config), the environment, and finally flags.
func Load(args []string, getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJSON(cfg, args); err != nil {
		return nil, err
	}
	parseEnv(cfg, getenv)
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseEnv(c *Config, getenv func(string) string) {
	if getenv == nil {
		return
	}
	if v := getenv(EnvMasterKeyHex); v != "" {
		c.MasterKeyHex = v
	}
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error

	switch c.DatabaseDriver {
	case dbx.DriverPostgres, dbx.DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.DatabaseDriver))
	}
	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("database dsn is required"))
	}

	switch c.BlobBackend {
	case BlobBackendFS:
		if c.BlobDir == "" {
			errs = append(errs, errors.New("blob dir is required for the fs backend"))
		}
	case BlobBackendS3:
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("s3 bucket is required for the s3 backend"))
		}
	case BlobBackendMem:
	default:
		errs = append(errs, fmt.Errorf("unknown blob backend %q", c.BlobBackend))
	}

	switch c.Compression {
	case models.CompressionNone, models.CompressionZstd:
	default:
		errs = append(errs, fmt.Errorf("unknown compression %q", c.Compression))
	}

	if c.SegmentSize <= 0 {
		errs = append(errs, errors.New("segment size must be positive"))
	}
	if c.VerifyBufferLimit < 0 {
		errs = append(errs, errors.New("verify buffer limit must not be negative"))
	}
	if c.MaxFileSize < 0 {
		errs = append(errs, errors.New("max file size must not be negative"))
	}
	if c.StagingDir == "" {
		errs = append(errs, errors.New("staging dir is required"))
	}
	if c.AnalyzerTimeout > 0 && c.StagingGrace > 0 && c.AnalyzerTimeout >= c.StagingGrace {
		errs = append(errs, fmt.Errorf("analyzer timeout %s must be shorter than staging grace %s", c.AnalyzerTimeout, c.StagingGrace))
	}
	if c.LedgerRetention <= 0 {
		errs = append(errs, errors.New("ledger retention must be positive"))
	}

	return errors.Join(errs...)
}

// MasterKey builds the configured master key. A hex key wins; otherwise a
// non-empty passphrase is stretched with MasterKeySalt. With neither, it
// returns (nil, nil) and the caller runs in degraded mode. A malformed hex
// key is always an error.
func (c *Config) MasterKey(passphrase []byte) (*cryptox.MasterKey, error) {
	if strings.TrimSpace(c.MasterKeyHex) != "" {
		mk, err := cryptox.ParseMasterKeyHex(c.MasterKeyHex)
		if err != nil {
			return nil, fmt.Errorf("invalid master key: %w", err)
		}
		return mk, nil
	}
	if len(passphrase) == 0 {
		return nil, nil
	}
	if c.MasterKeySalt == "" {
		return nil, errors.New("master key salt is required with a passphrase")
	}
	return cryptox.DeriveMasterKey(passphrase, []byte(c.MasterKeySalt)), nil
}

// WrapperOptions maps the key-wrapping settings.
func (c *Config) WrapperOptions() []cryptox.WrapperOption {
	var opts []cryptox.WrapperOption
	if c.RejectPlainKeys {
		opts = append(opts, cryptox.RejectPlainKeys())
	}
	return opts
}

// VaultOptions maps the vault-related settings.
func (c *Config) VaultOptions() vault.Options {
	return vault.Options{
		SegmentSize:       c.SegmentSize,
		VerifyBufferLimit: c.VerifyBufferLimit,
		Compression:       c.Compression,
	}
}
