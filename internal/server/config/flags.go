package config

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/genevault/internal/flagx"
	"github.com/dmitrijs2005/genevault/internal/server/models"
)

var configFlags = []string{
	"-D", "-d", "-B", "-f", "-u", "-p", "-b", "-g", "-e",
	"-k", "-z", "-x", "-S", "-A", "-m", "-l", "-L",
}

// parseFlags overlays command-line flags onto config.
//
// Supported flags:
//
//	-D string   database driver ("pgx" or "sqlite")
//	-d string   database DSN
//	-B string   blob backend ("fs", "s3", "mem")
//	-f string   blob directory for the fs backend
//	-u string   S3 access key
//	-p string   S3 secret key
//	-b string   S3 bucket
//	-g string   S3 region
//	-e string   S3 base endpoint
//	-k string   master key, 64 hex chars
//	-z string   compression ("none" or "zstd")
//	-x int      max upload size in bytes, 0 for unlimited
//	-S string   staging directory
//	-A string   analyzer command, split on whitespace
//	-m string   metrics listen address, empty to disable
//	-l string   log level
//	-L string   log format ("json" or "text")
//
// Only the flags above are parsed; everything else in args is left for
// other components (such as -c, or CLI subcommands).
func parseFlags(config *Config, args []string) error {
	fs := flag.NewFlagSet("main", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.DatabaseDriver, "D", config.DatabaseDriver, "database driver")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.BlobBackend, "B", config.BlobBackend, "blob backend")
	fs.StringVar(&config.BlobDir, "f", config.BlobDir, "blob directory")
	fs.StringVar(&config.S3AccessKey, "u", config.S3AccessKey, "S3 access key")
	fs.StringVar(&config.S3SecretKey, "p", config.S3SecretKey, "S3 secret key")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.MasterKeyHex, "k", config.MasterKeyHex, "master key (hex)")
	compression := fs.String("z", string(config.Compression), "compression")
	fs.Int64Var(&config.MaxFileSize, "x", config.MaxFileSize, "max upload size in bytes")
	fs.StringVar(&config.StagingDir, "S", config.StagingDir, "staging directory")
	analyzer := fs.String("A", strings.Join(config.AnalyzerCommand, " "), "analyzer command")
	fs.StringVar(&config.MetricsAddr, "m", config.MetricsAddr, "metrics address")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.LogFormat, "L", config.LogFormat, "log format")

	if err := fs.Parse(flagx.FilterArgs(args, configFlags)); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	config.Compression = models.Compression(*compression)
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "A" {
			config.AnalyzerCommand = strings.Fields(*analyzer)
		}
	})
	return nil
}
