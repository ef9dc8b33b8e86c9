package config

import (
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/genevault/internal/common"
	"github.com/dmitrijs2005/genevault/internal/cryptox"
	"github.com/dmitrijs2005/genevault/internal/dbx"
	"github.com/dmitrijs2005/genevault/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) string { return "" }

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, dbx.DriverSQLite, c.DatabaseDriver)
	assert.Equal(t, BlobBackendFS, c.BlobBackend)
	assert.Equal(t, cryptox.DefaultSegmentSize, c.SegmentSize)
	assert.Equal(t, models.CompressionNone, c.Compression)
	assert.Equal(t, int64(200<<20), c.MaxFileSize)
	assert.Equal(t, 5*365*24*time.Hour, c.LedgerRetention)
	assert.Empty(t, c.MasterKeyHex)
	require.NoError(t, c.Validate())
}

func TestLoad_DefaultsWithoutArgs(t *testing.T) {
	c, err := Load(nil, noEnv)
	require.NoError(t, err)

	var want Config
	want.LoadDefaults()
	assert.Equal(t, &want, c)
}

func TestLoad_Precedence(t *testing.T) {
	path := writeTempJSON(t, "", "", map[string]any{
		"database_dsn":   "json.db",
		"master_key_hex": strings.Repeat("11", 32),
		"s3_bucket":      "json-bucket",
	})
	env := func(k string) string {
		if k == EnvMasterKeyHex {
			return strings.Repeat("22", 32)
		}
		return ""
	}

	t.Run("env beats json", func(t *testing.T) {
		c, err := Load([]string{"-c", path}, env)
		require.NoError(t, err)
		assert.Equal(t, "json.db", c.DatabaseDSN)
		assert.Equal(t, strings.Repeat("22", 32), c.MasterKeyHex)
	})

	t.Run("flags beat env and json", func(t *testing.T) {
		c, err := Load([]string{"-c", path, "-d", "flag.db", "-k", strings.Repeat("33", 32)}, env)
		require.NoError(t, err)
		assert.Equal(t, "flag.db", c.DatabaseDSN)
		assert.Equal(t, strings.Repeat("33", 32), c.MasterKeyHex)
		assert.Equal(t, "json-bucket", c.S3Bucket)
	})
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing config file", func(t *testing.T) {
		_, err := Load([]string{"-c", "/nonexistent/genevault.json"}, noEnv)
		require.Error(t, err)
	})

	t.Run("bad flag value", func(t *testing.T) {
		_, err := Load([]string{"-x", "lots"}, noEnv)
		require.Error(t, err)
	})

	t.Run("validation", func(t *testing.T) {
		_, err := Load([]string{"-B", "tape"}, noEnv)
		require.ErrorContains(t, err, `unknown blob backend "tape"`)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"driver", func(c *Config) { c.DatabaseDriver = "mysql" }, "unknown database driver"},
		{"dsn", func(c *Config) { c.DatabaseDSN = "" }, "database dsn is required"},
		{"blob dir", func(c *Config) { c.BlobDir = "" }, "blob dir is required"},
		{"bucket", func(c *Config) { c.BlobBackend = BlobBackendS3; c.S3Bucket = "" }, "s3 bucket is required"},
		{"compression", func(c *Config) { c.Compression = "lz4" }, "unknown compression"},
		{"segment", func(c *Config) { c.SegmentSize = 0 }, "segment size must be positive"},
		{"verify limit", func(c *Config) { c.VerifyBufferLimit = -1 }, "verify buffer limit"},
		{"max size", func(c *Config) { c.MaxFileSize = -1 }, "max file size"},
		{"staging", func(c *Config) { c.StagingDir = "" }, "staging dir is required"},
		{"retention", func(c *Config) { c.LedgerRetention = 0 }, "ledger retention"},
		{"analyzer outlives staging", func(c *Config) { c.AnalyzerTimeout = c.StagingGrace }, "must be shorter than staging grace"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Config
			c.LoadDefaults()
			tt.mutate(&c)
			require.ErrorContains(t, c.Validate(), tt.want)
		})
	}

	t.Run("mem backend needs nothing", func(t *testing.T) {
		var c Config
		c.LoadDefaults()
		c.BlobBackend = BlobBackendMem
		c.BlobDir = ""
		require.NoError(t, c.Validate())
	})
}

func TestConfig_MasterKey(t *testing.T) {
	t.Run("hex", func(t *testing.T) {
		c := Config{MasterKeyHex: strings.Repeat("ab", 32)}
		mk, err := c.MasterKey([]byte("ignored"))
		require.NoError(t, err)
		require.NotNil(t, mk)
		assert.Equal(t, "MasterKey(redacted)", mk.String())
	})

	t.Run("malformed hex is fatal", func(t *testing.T) {
		c := Config{MasterKeyHex: "zz"}
		_, err := c.MasterKey(nil)
		require.Error(t, err)
	})

	t.Run("wrong length is fatal", func(t *testing.T) {
		c := Config{MasterKeyHex: strings.Repeat("ab", 16)}
		_, err := c.MasterKey(nil)
		require.ErrorIs(t, err, common.ErrInvalidKeyLength)
	})

	t.Run("passphrase with salt", func(t *testing.T) {
		c := Config{MasterKeySalt: "lab-7"}
		a, err := c.MasterKey([]byte("correct horse"))
		require.NoError(t, err)
		b, err := c.MasterKey([]byte("correct horse"))
		require.NoError(t, err)

		wa, err := cryptox.NewKeyWrapper(a)
		require.NoError(t, err)
		wb, err := cryptox.NewKeyWrapper(b)
		require.NoError(t, err)
		wrapped, err := wa.Wrap(make([]byte, cryptox.KeySize))
		require.NoError(t, err)
		_, err = wb.Unwrap(wrapped)
		require.NoError(t, err)
	})

	t.Run("passphrase without salt", func(t *testing.T) {
		c := Config{}
		_, err := c.MasterKey([]byte("pw"))
		require.Error(t, err)
	})

	t.Run("nothing configured means degraded", func(t *testing.T) {
		c := Config{}
		mk, err := c.MasterKey(nil)
		require.NoError(t, err)
		assert.Nil(t, mk)
	})
}

func TestConfig_VaultOptions(t *testing.T) {
	c := Config{SegmentSize: 4096, VerifyBufferLimit: 10, Compression: models.CompressionZstd}
	o := c.VaultOptions()
	assert.Equal(t, 4096, o.SegmentSize)
	assert.Equal(t, int64(10), o.VerifyBufferLimit)
	assert.Equal(t, models.CompressionZstd, o.Compression)
}
