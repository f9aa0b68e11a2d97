// Package migrate applies embedded SQL migrations against the MySQL schema.
// Migration files follow the NNNN_name.up.sql / NNNN_name.down.sql naming
// scheme and are embedded next to the store that owns them.
package migrate

import (
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var migrationNamePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_\-]+)\.(up|down)\.sql$`)

// Migration is one versioned schema change with its rollback script.
type Migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

// PendingMigration is an unapplied migration entry for status output.
type PendingMigration struct {
	Version int64
	Name    string
}

// Status describes the schema relative to the embedded migration set.
type Status struct {
	AppliedVersions []int64
	Pending         []PendingMigration
}

func loadMigrations(migrationFiles fs.FS, migrationsDir string) ([]Migration, error) {
	entries, err := fs.ReadDir(migrationFiles, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("read migration files: %w", err)
	}

	type partial struct {
		version int64
		name    string
		up      string
		down    string
	}
	byVersion := make(map[int64]*partial)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		matches := migrationNamePattern.FindStringSubmatch(name)
		if len(matches) != 4 {
			continue
		}

		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version %q: %w", matches[1], err)
		}
		migrationName := matches[2]
		direction := matches[3]

		payload, err := fs.ReadFile(migrationFiles, migrationsDir+"/"+name)
		if err != nil {
			return nil, fmt.Errorf("read migration file %q: %w", name, err)
		}

		if _, ok := byVersion[version]; !ok {
			byVersion[version] = &partial{version: version, name: migrationName}
		}

		if direction == "up" {
			byVersion[version].up = string(payload)
		} else {
			byVersion[version].down = string(payload)
		}
	}

	versions := make([]int64, 0, len(byVersion))
	for version := range byVersion {
		versions = append(versions, version)
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i] < versions[j]
	})

	migrations := make([]Migration, 0, len(versions))
	for _, version := range versions {
		item := byVersion[version]
		if strings.TrimSpace(item.up) == "" {
			return nil, fmt.Errorf("missing up migration for version %d", version)
		}
		migrations = append(migrations, Migration{
			Version: version,
			Name:    item.name,
			UpSQL:   item.up,
			DownSQL: item.down,
		})
	}

	return migrations, nil
}

// splitStatements breaks a migration script into individual statements. The
// MySQL driver executes one statement per Exec call, so scripts with several
// DDL statements are split on semicolons. Line comments are stripped first;
// literal semicolons inside string values are not supported in migration
// scripts.
func splitStatements(script string) []string {
	var cleaned []string
	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "--") {
			continue
		}
		cleaned = append(cleaned, line)
	}

	statements := make([]string, 0, 1)
	for _, stmt := range strings.Split(strings.Join(cleaned, "\n"), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		statements = append(statements, stmt)
	}
	return statements
}
