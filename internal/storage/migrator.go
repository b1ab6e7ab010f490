package storage

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"loginwatch/internal/event"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrator handles database migrations and keeps the persisted schema
// version current.
type Migrator struct {
	client *ClickHouseClient
}

// NewMigrator creates a new Migrator.
func NewMigrator(client *ClickHouseClient) *Migrator {
	return &Migrator{client: client}
}

// Run executes all pending migrations and records the schema version.
func (m *Migrator) Run(ctx context.Context) error {
	if err := m.createMigrationsTable(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	migrations, err := m.loadMigrations()
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	applied, err := m.getAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			slog.Debug("migration already applied",
				"version", migration.Version,
				"name", migration.Name,
			)
			continue
		}

		slog.Info("applying migration",
			"version", migration.Version,
			"name", migration.Name,
		)

		for _, stmt := range splitStatements(migration.SQL) {
			stmt = stripLeadingComments(stmt)
			if stmt == "" {
				continue
			}

			if err := m.client.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to apply migration %d (%s): %w",
					migration.Version, migration.Name, err)
			}
		}

		if err := m.recordMigration(ctx, migration.Version, migration.Name); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
	}

	if err := m.recordSchemaVersion(ctx); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	return nil
}

// createMigrationsTable creates the schema_migrations table if it
// doesn't exist.
func (m *Migrator) createMigrationsTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version UInt32,
			name String,
			applied_at DateTime DEFAULT now()
		)
		ENGINE = MergeTree()
		ORDER BY version
	`
	return m.client.Exec(ctx, query)
}

// loadMigrations loads all embedded migration files, sorted by version.
func (m *Migrator) loadMigrations() ([]Migration, error) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return nil, err
	}

	var migrations []Migration
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return nil, err
		}

		// Parse version from filename (e.g., 001_create_login_events.sql)
		var version int
		var name string
		if _, err := fmt.Sscanf(entry.Name(), "%03d_%s", &version, &name); err != nil {
			continue
		}
		name = strings.TrimSuffix(name, ".sql")

		migrations = append(migrations, Migration{
			Version: version,
			Name:    name,
			SQL:     string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// getAppliedMigrations returns a map of applied migration versions.
func (m *Migrator) getAppliedMigrations(ctx context.Context) (map[int]bool, error) {
	rows, err := m.client.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version uint32
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[int(version)] = true
	}

	return applied, rows.Err()
}

// recordMigration records a migration as applied.
func (m *Migrator) recordMigration(ctx context.Context, version int, name string) error {
	return m.client.Exec(ctx,
		"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
		uint32(version), name,
	)
}

// recordSchemaVersion upserts the schema version row in the metadata
// table. ReplacingMergeTree keeps the newest row per key.
func (m *Migrator) recordSchemaVersion(ctx context.Context) error {
	return m.client.Exec(ctx,
		"INSERT INTO loginwatch_meta (key, value) VALUES ('schema_version', ?)",
		event.SchemaVersionCurrent,
	)
}

// stripLeadingComments drops leading "--" comment lines so a statement
// preceded by a comment block is still executed.
func stripLeadingComments(stmt string) string {
	lines := strings.Split(stmt, "\n")
	start := 0
	for start < len(lines) {
		trimmed := strings.TrimSpace(lines[start])
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			start++
			continue
		}
		break
	}
	return strings.TrimSpace(strings.Join(lines[start:], "\n"))
}

// splitStatements splits SQL content into individual statements,
// respecting quoted strings.
func splitStatements(sql string) []string {
	var statements []string
	var current strings.Builder
	inString := false
	stringChar := rune(0)

	for i, char := range sql {
		if !inString {
			if char == '\'' || char == '"' {
				inString = true
				stringChar = char
			} else if char == ';' {
				stmt := strings.TrimSpace(current.String())
				if stmt != "" {
					statements = append(statements, stmt)
				}
				current.Reset()
				continue
			}
		} else if char == stringChar {
			if i+1 < len(sql) && rune(sql[i+1]) == stringChar {
				current.WriteRune(char)
				continue
			}
			inString = false
		}
		current.WriteRune(char)
	}

	stmt := strings.TrimSpace(current.String())
	if stmt != "" {
		statements = append(statements, stmt)
	}

	return statements
}
