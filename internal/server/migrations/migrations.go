// Package migrations embeds the goose migrations of the metadata store, one
// directory per dialect.
package migrations

import "embed"

//go:embed postgres/*.sql
var Postgres embed.FS

//go:embed sqlite/*.sql
var SQLite embed.FS

const (
	PostgresDir = "postgres"
	SQLiteDir   = "sqlite"
)
