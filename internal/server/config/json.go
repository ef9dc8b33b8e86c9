package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/genevault/internal/flagx"
	"github.com/dmitrijs2005/genevault/internal/server/models"
	"github.com/dmitrijs2005/genevault/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration so both "24h" and integer nanoseconds are accepted. Fields
// left out of the file keep the current setting.
type JsonConfig struct {
	DatabaseDriver      string         `json:"database_driver"`
	DatabaseDSN         string         `json:"database_dsn"`
	BlobBackend         string         `json:"blob_backend"`
	BlobDir             string         `json:"blob_dir"`
	S3AccessKey         string         `json:"s3_access_key"`
	S3SecretKey         string         `json:"s3_secret_key"`
	S3Bucket            string         `json:"s3_bucket"`
	S3Region            string         `json:"s3_region"`
	S3BaseEndpoint      string         `json:"s3_base_endpoint"`
	MasterKeyHex        string         `json:"master_key_hex"`
	MasterKeySalt       string         `json:"master_key_salt"`
	RejectPlainKeys     *bool          `json:"reject_plain_keys"`
	SegmentSize         int            `json:"segment_size"`
	VerifyBufferLimit   *int64         `json:"verify_buffer_limit"`
	Compression         string         `json:"compression"`
	MaxFileSize         *int64         `json:"max_file_size"`
	StagingDir          string         `json:"staging_dir"`
	StagingGrace        timex.Duration `json:"staging_grace"`
	AnalyzerCommand     []string       `json:"analyzer_command"`
	AnalyzerTimeout     timex.Duration `json:"analyzer_timeout"`
	LedgerRetention     timex.Duration `json:"ledger_retention"`
	LedgerPruneInterval timex.Duration `json:"ledger_prune_interval"`
	MetricsAddr         string         `json:"metrics_addr"`
	LogFormat           string         `json:"log_format"`
	LogLevel            string         `json:"log_level"`
}

// parseJSON overlays the file named by -c/-config, if any, onto config.
func parseJSON(config *Config, args []string) error {
	path := flagx.JSONConfigPath(args)
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	c.apply(config)
	return nil
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.DatabaseDriver, c.DatabaseDriver)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.BlobBackend, c.BlobBackend)
	setString(&config.BlobDir, c.BlobDir)
	setString(&config.S3AccessKey, c.S3AccessKey)
	setString(&config.S3SecretKey, c.S3SecretKey)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.MasterKeyHex, c.MasterKeyHex)
	setString(&config.MasterKeySalt, c.MasterKeySalt)
	setString(&config.StagingDir, c.StagingDir)
	setString(&config.MetricsAddr, c.MetricsAddr)
	setString(&config.LogFormat, c.LogFormat)
	setString(&config.LogLevel, c.LogLevel)

	if c.Compression != "" {
		config.Compression = models.Compression(c.Compression)
	}
	if c.SegmentSize != 0 {
		config.SegmentSize = c.SegmentSize
	}
	if c.RejectPlainKeys != nil {
		config.RejectPlainKeys = *c.RejectPlainKeys
	}
	if c.VerifyBufferLimit != nil {
		config.VerifyBufferLimit = *c.VerifyBufferLimit
	}
	if c.MaxFileSize != nil {
		config.MaxFileSize = *c.MaxFileSize
	}
	if len(c.AnalyzerCommand) > 0 {
		config.AnalyzerCommand = c.AnalyzerCommand
	}

	setDuration(&config.StagingGrace, c.StagingGrace)
	setDuration(&config.AnalyzerTimeout, c.AnalyzerTimeout)
	setDuration(&config.LedgerRetention, c.LedgerRetention)
	setDuration(&config.LedgerPruneInterval, c.LedgerPruneInterval)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
