package deadletter

import "embed"

// MigrationFiles embeds the schema migrations for the failed_event tables so
// the service binary can apply them without external files.
//
//go:embed migrations/*.sql
var MigrationFiles embed.FS

// MigrationsDir is the directory inside MigrationFiles holding the scripts.
const MigrationsDir = "migrations"
